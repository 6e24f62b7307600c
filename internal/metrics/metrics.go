package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Receive path
	ChunksReceived       atomic.Uint64
	BytesReceived        atomic.Uint64
	ChunksDropped        atomic.Uint64 // Dispatcher queue full
	FramesCompleted      atomic.Uint64
	FramesRejected       atomic.Uint64 // Stale on arrival
	FramesAbandoned      atomic.Uint64 // Session closed or evicted mid-frame
	FramesShort          atomic.Uint64 // Fixed-mode frames closed with units lost
	MalformedDescriptors atomic.Uint64
	BlitGroups           atomic.Uint64
	ClippedPixels        atomic.Uint64

	// Sessions
	ActiveSessions atomic.Uint64
	TotalSessions  atomic.Uint64

	// Send path
	FramesSent    atomic.Uint64
	ChunksSent    atomic.Uint64
	BytesSent     atomic.Uint64
	SendErrors    atomic.Uint64
	FramesSkipped atomic.Uint64 // Source slower than the target rate

	// Latency from capture timestamp to the last byte drawn
	FrameLatencyMs atomic.Uint64

	// Monitor and WebRTC clients
	ActiveClients atomic.Uint64
	TotalClients  atomic.Uint64

	// Recording state
	RecordingActive atomic.Uint64 // 0 = inactive, 1 = active
	RecordingBytes  atomic.Uint64
	RecordingFrames atomic.Uint64

	// Frame rate over the last window
	Rate *RateMeter

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		Rate:     NewRateMeter(DefaultRateWindow),
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) gauge(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

func (m *Metrics) registerPrometheusMetrics() {
	m.gauge("fbstream_chunks_received_total", "Total chunks received from peers", &m.ChunksReceived)
	m.gauge("fbstream_bytes_received_total", "Total bytes received from peers", &m.BytesReceived)
	m.gauge("fbstream_chunks_dropped_total", "Chunks dropped because the dispatcher queue was full", &m.ChunksDropped)
	m.gauge("fbstream_frames_completed_total", "Frames whose payload fully arrived", &m.FramesCompleted)
	m.gauge("fbstream_frames_rejected_total", "Frames discarded as stale", &m.FramesRejected)
	m.gauge("fbstream_frames_abandoned_total", "Partial frames abandoned on close or eviction", &m.FramesAbandoned)
	m.gauge("fbstream_frames_short_total", "Fixed-mode frames drawn with units lost", &m.FramesShort)
	m.gauge("fbstream_malformed_descriptors_total", "Descriptors with impossible dimensions", &m.MalformedDescriptors)
	m.gauge("fbstream_blit_groups_total", "Macropixel groups written to the framebuffer", &m.BlitGroups)
	m.gauge("fbstream_clipped_pixels_total", "Pixels dropped by surface bounds checks", &m.ClippedPixels)

	m.gauge("fbstream_active_sessions", "Transport sessions currently open", &m.ActiveSessions)
	m.gauge("fbstream_sessions_total", "Transport sessions opened", &m.TotalSessions)

	m.gauge("fbstream_frames_sent_total", "Frames sent by the sender", &m.FramesSent)
	m.gauge("fbstream_chunks_sent_total", "Transmission units sent", &m.ChunksSent)
	m.gauge("fbstream_bytes_sent_total", "Bytes sent", &m.BytesSent)
	m.gauge("fbstream_send_errors_total", "Sink write errors", &m.SendErrors)
	m.gauge("fbstream_frames_skipped_total", "Ticks with no frame ready", &m.FramesSkipped)

	m.gauge("fbstream_frame_latency_ms", "Capture-to-display latency of the last frame", &m.FrameLatencyMs)

	m.gauge("fbstream_active_clients", "Connected monitor and WebRTC clients", &m.ActiveClients)
	m.gauge("fbstream_total_clients", "Monitor and WebRTC clients ever connected", &m.TotalClients)

	m.gauge("fbstream_recording_active", "Recording active (0=inactive, 1=active)", &m.RecordingActive)
	m.gauge("fbstream_recording_bytes", "Total bytes written to recording", &m.RecordingBytes)
	m.gauge("fbstream_recording_frames", "Total frames written to recording", &m.RecordingFrames)

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "fbstream_fps",
			Help: "Frames per second over the rate window",
		},
		func() float64 { return m.Rate.FPS() },
	))
}

// UpdateFrameLatency records the age of a frame captured at captureTime
func (m *Metrics) UpdateFrameLatency(captureTime, now time.Time) {
	latency := now.Sub(captureTime).Milliseconds()
	if latency < 0 {
		latency = 0
	}
	m.FrameLatencyMs.Store(uint64(latency))
}

// Snapshot is a point-in-time copy of the counters for status endpoints
type Snapshot struct {
	ChunksReceived       uint64  `json:"chunks_received"`
	BytesReceived        uint64  `json:"bytes_received"`
	ChunksDropped        uint64  `json:"chunks_dropped"`
	FramesCompleted      uint64  `json:"frames_completed"`
	FramesRejected       uint64  `json:"frames_rejected"`
	FramesAbandoned      uint64  `json:"frames_abandoned"`
	FramesShort          uint64  `json:"frames_short"`
	MalformedDescriptors uint64  `json:"malformed_descriptors"`
	ClippedPixels        uint64  `json:"clipped_pixels"`
	ActiveSessions       uint64  `json:"active_sessions"`
	FramesSent           uint64  `json:"frames_sent"`
	SendErrors           uint64  `json:"send_errors"`
	FrameLatencyMs       uint64  `json:"frame_latency_ms"`
	ActiveClients        uint64  `json:"active_clients"`
	RecordingFrames      uint64  `json:"recording_frames"`
	FPS                  float64 `json:"fps"`
}

// Snapshot reads every counter once
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		ChunksReceived:       m.ChunksReceived.Load(),
		BytesReceived:        m.BytesReceived.Load(),
		ChunksDropped:        m.ChunksDropped.Load(),
		FramesCompleted:      m.FramesCompleted.Load(),
		FramesRejected:       m.FramesRejected.Load(),
		FramesAbandoned:      m.FramesAbandoned.Load(),
		FramesShort:          m.FramesShort.Load(),
		MalformedDescriptors: m.MalformedDescriptors.Load(),
		ClippedPixels:        m.ClippedPixels.Load(),
		ActiveSessions:       m.ActiveSessions.Load(),
		FramesSent:           m.FramesSent.Load(),
		SendErrors:           m.SendErrors.Load(),
		FrameLatencyMs:       m.FrameLatencyMs.Load(),
		ActiveClients:        m.ActiveClients.Load(),
		RecordingFrames:      m.RecordingFrames.Load(),
		FPS:                  m.Rate.FPS(),
	}
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on addr until the listener fails
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
