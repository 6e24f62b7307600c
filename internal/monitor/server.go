package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/receiver"
)

// Server serves the monitor endpoints for one dispatcher
type Server struct {
	cfg     Config
	d       *receiver.Dispatcher
	monitor *Monitor
	rtc     http.Handler
	log     *logger.Module

	frames *Broadcaster[[]byte]
	status *Broadcaster[*SerializedEvent]
	events *Broadcaster[*SerializedEvent]

	frameInfo chan receiver.FrameInfo
	blank     []byte
}

// NewServer returns a monitor for d. It registers a frame hook, so it must
// be called before d.Run. rtc, if not nil, is mounted at /offer.
func NewServer(cfg Config, d *receiver.Dispatcher, rtc http.Handler) (*Server, error) {
	def := DefaultConfig()
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = def.StatusInterval
	}
	if cfg.MJPEGInterval <= 0 {
		cfg.MJPEGInterval = def.MJPEGInterval
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = def.JPEGQuality
	}
	if cfg.MaxSnapshotWidth <= 0 {
		cfg.MaxSnapshotWidth = def.MaxSnapshotWidth
	}
	if cfg.Title == "" {
		cfg.Title = def.Title
	}

	blank, err := noSignalJPEG(320, 180)
	if err != nil {
		return nil, fmt.Errorf("render placeholder: %w", err)
	}

	s := &Server{
		cfg:       cfg,
		d:         d,
		monitor:   NewMonitor(d),
		rtc:       rtc,
		log:       logger.For("Monitor"),
		frames:    NewBroadcaster[[]byte]("FrameBroadcaster"),
		status:    NewBroadcaster[*SerializedEvent]("StatusBroadcaster"),
		events:    NewBroadcaster[*SerializedEvent]("FrameEventBroadcaster"),
		frameInfo: make(chan receiver.FrameInfo, 64),
		blank:     blank,
	}
	d.OnFrame(s.onFrame)
	return s, nil
}

// onFrame runs on the dispatcher goroutine
func (s *Server) onFrame(info receiver.FrameInfo) {
	select {
	case s.frameInfo <- info:
	default:
	}
}

// Run produces the broadcast streams until ctx is cancelled, then
// disconnects all streaming clients.
func (s *Server) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); s.runFrames(ctx) }()
	go func() { defer wg.Done(); s.runStatus(ctx) }()
	go func() { defer wg.Done(); s.runEvents(ctx) }()
	wg.Wait()

	s.frames.Close()
	s.status.Close()
	s.events.Close()
}

func (s *Server) runFrames(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.MJPEGInterval)
	defer ticker.Stop()

	var lastSeq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if s.frames.Count() == 0 {
			continue
		}
		info, ok := s.d.LastFrame()
		if !ok || info.Seq == lastSeq {
			continue
		}
		data, err := s.renderSnapshot(ctx, 0)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				s.log.Warn("Snapshot for MJPEG failed: %v", err)
			}
			continue
		}
		lastSeq = info.Seq
		s.frames.Publish(data)
	}
}

func (s *Server) runStatus(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if s.status.Count() == 0 {
			continue
		}
		event, err := serialize(s.monitor.Status(ctx))
		if err != nil {
			s.log.Error("Status serialization failed: %v", err)
			continue
		}
		s.status.Publish(event)
	}
}

func (s *Server) runEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case info := <-s.frameInfo:
			if s.events.Count() == 0 {
				continue
			}
			event, err := serialize(frameStatus(info))
			if err != nil {
				s.log.Error("Frame event serialization failed: %v", err)
				continue
			}
			s.events.Publish(event)
		}
	}
}

// Handler exposes the HTTP handler for the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/status/stream", s.handleStatusStream)
	mux.HandleFunc("/api/frames/stream", s.handleFrameStream)
	mux.HandleFunc("/snapshot.jpg", s.handleSnapshot)
	mux.HandleFunc("/stream", s.handleStream)
	mux.Handle("/ws", s.d.WebSocketHandler())
	mux.Handle("/metrics", s.d.Metrics().Handler())
	if s.rtc != nil {
		mux.Handle("/offer", s.rtc)
	}

	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = indexTemplate.Execute(w, s.cfg)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	select {
	case <-s.d.Done():
		status, code = "stopped", http.StatusServiceUnavailable
	default:
	}
	writeJSONWithStatus(w, map[string]any{
		"status":           status,
		"frames_completed": s.d.Metrics().FramesCompleted.Load(),
	}, code)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.monitor.Status(r.Context())
	if !wantsProtobuf(r) {
		writeJSON(w, st)
		return
	}
	data, err := marshalProto(st)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/protobuf")
	_, _ = w.Write(data)
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.status.Subscribe()
	defer s.status.Unsubscribe(id)

	first, err := serialize(s.monitor.Status(r.Context()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	streamEvents(w, r, first, eventCh, wantsProtobuf(r))
}

func (s *Server) handleFrameStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.events.Subscribe()
	defer s.events.Unsubscribe(id)

	streamEvents(w, r, nil, eventCh, wantsProtobuf(r))
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	width := 0
	if v := r.URL.Query().Get("width"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSONWithStatus(w, map[string]any{"error": "invalid width"}, http.StatusBadRequest)
			return
		}
		width = n
	}

	data, err := s.renderSnapshot(r.Context(), width)
	switch {
	case errors.Is(err, receiver.ErrNoFrame), errors.Is(err, receiver.ErrClosed):
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusServiceUnavailable)
		return
	case err != nil:
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(data)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.frames.Subscribe()
	defer s.frames.Unsubscribe(id)

	first, err := s.renderSnapshot(r.Context(), 0)
	if err != nil {
		first = s.blank
	}
	streamMJPEG(w, r, first, s.blank, frameCh)
}

// renderSnapshot encodes the last drawn frame with its label. width 0
// keeps the frame size.
func (s *Server) renderSnapshot(ctx context.Context, width int) ([]byte, error) {
	img, info, err := s.d.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	if width > 0 && width != img.Bounds().Dx() {
		img = scaleToWidth(img, min(width, s.cfg.MaxSnapshotWidth))
	}

	fs := frameStatus(info)
	drawLabel(img,
		fmt.Sprintf("#%d %dx%d", fs.Seq, fs.Width, fs.Height),
		fmt.Sprintf("%s %s +%dms", info.Peer, info.Descriptor.Timestamp.Format("15:04:05.000"), fs.LatencyMs),
	)
	return encodeJPEG(img, s.cfg.JPEGQuality)
}

func wantsProtobuf(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":%q}`, err.Error())
	}
}
