// Package receiver turns network byte streams into pixels. Front ends (TCP,
// UDP, WebSocket, WebRTC) copy what they read into pooled buffers and queue
// it; one Dispatcher goroutine owns every transport session and the
// framebuffer, so neither needs locking.
package receiver

import (
	"context"
	"errors"
	"image"
	"sort"
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/framebuffer"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/transport"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/pkg/types"
)

var (
	// ErrClosed is returned once the dispatcher has stopped
	ErrClosed = errors.New("receiver: dispatcher closed")
	// ErrNoFrame is returned by Snapshot before any frame was drawn
	ErrNoFrame = errors.New("receiver: no frame received yet")
)

// Config controls the dispatcher
type Config struct {
	// Template for new sessions; Mode is chosen per stream
	Transport transport.Config

	// Sessions silent for this long are dropped; 0 disables eviction
	IdleTimeout time.Duration

	// Queued chunks between front ends and the dispatcher
	QueueSize int

	// Size of pooled read buffers
	MaxChunk int
}

// DefaultConfig returns the receiver defaults
func DefaultConfig() Config {
	return Config{
		Transport:   transport.DefaultConfig(),
		IdleTimeout: 10 * time.Second,
		QueueSize:   256,
		MaxChunk:    types.DefaultMaxChunk,
	}
}

// FrameInfo describes a completed frame. Seq counts drawn frames.
type FrameInfo struct {
	Seq        uint64
	SessionID  string
	Peer       string
	Descriptor types.FrameDescriptor
	Rejected   bool
	Finished   time.Time
}

// SessionInfo is a status view of one live session
type SessionInfo struct {
	ID           string
	Peer         string
	Mode         transport.Mode
	InFrame      bool
	Remaining    int
	LastActivity time.Time
}

type chunk struct {
	stream *Stream
	data   []byte
	buf    *[]byte // returned to the pool after Feed
	closed bool
}

type peer struct {
	stream  *Stream
	session *transport.Session
}

// Dispatcher owns the sessions and the framebuffer writer
type Dispatcher struct {
	cfg     Config
	writer  *framebuffer.Writer
	metrics *metrics.Metrics
	log     *logger.Module

	chunks chan chunk
	calls  chan func()
	done   chan struct{}
	once   sync.Once

	pool sync.Pool

	// Owned by the Run goroutine
	peers map[*Stream]*peer
	hooks []func(FrameInfo)

	mu        sync.RWMutex
	lastFrame FrameInfo
}

// NewDispatcher creates a dispatcher drawing through w
func NewDispatcher(cfg Config, w *framebuffer.Writer, m *metrics.Metrics) *Dispatcher {
	def := DefaultConfig()
	if cfg.Transport.Now == nil {
		cfg.Transport.Now = time.Now
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.MaxChunk <= 0 {
		cfg.MaxChunk = def.MaxChunk
	}
	if m == nil {
		m = metrics.New()
	}

	d := &Dispatcher{
		cfg:     cfg,
		writer:  w,
		metrics: m,
		log:     logger.For("Dispatcher"),
		chunks:  make(chan chunk, cfg.QueueSize),
		calls:   make(chan func()),
		done:    make(chan struct{}),
		peers:   make(map[*Stream]*peer),
	}
	d.pool.New = func() interface{} {
		b := make([]byte, d.cfg.MaxChunk)
		return &b
	}
	return d
}

// OnFrame registers fn to run on the dispatcher goroutine after every
// completed frame. It must be called before Run and fn must not block.
func (d *Dispatcher) OnFrame(fn func(FrameInfo)) {
	d.hooks = append(d.hooks, fn)
}

func (d *Dispatcher) Metrics() *metrics.Metrics { return d.metrics }

// Done is closed when Run returns
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

// Run processes queued chunks until ctx is cancelled
func (d *Dispatcher) Run(ctx context.Context) {
	defer d.once.Do(func() { close(d.done) })

	var evict <-chan time.Time
	if d.cfg.IdleTimeout > 0 {
		interval := d.cfg.IdleTimeout / 2
		if interval < 10*time.Millisecond {
			interval = 10 * time.Millisecond
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		evict = ticker.C
	}

	d.log.Info("Dispatcher started (queue=%d, idle timeout=%v)", d.cfg.QueueSize, d.cfg.IdleTimeout)

	for {
		select {
		case <-ctx.Done():
			for _, p := range d.peers {
				d.remove(p, "shutdown")
			}
			d.log.Info("Dispatcher stopped")
			return
		case c := <-d.chunks:
			d.handle(c)
		case fn := <-d.calls:
			fn()
		case <-evict:
			d.evictIdle()
		}
	}
}

func (d *Dispatcher) handle(c chunk) {
	p := d.peers[c.stream]
	if c.closed {
		if p != nil {
			d.remove(p, "closed")
		}
		return
	}
	defer d.release(c.buf)

	// Chunks still queued behind a dropped stream
	if c.stream.dead.Load() {
		return
	}
	if p == nil {
		p = d.open(c.stream)
	}

	d.metrics.ChunksReceived.Add(1)
	d.metrics.BytesReceived.Add(uint64(len(c.data)))

	if err := p.session.Feed(c.data); err != nil {
		d.metrics.MalformedDescriptors.Add(1)
		d.log.Warn("Dropping %s: %v", c.stream.peer, err)
		d.kill(p, "malformed")
	}
}

func (d *Dispatcher) open(s *Stream) *peer {
	cfg := d.cfg.Transport
	cfg.Mode = s.mode

	p := &peer{stream: s}
	p.session = transport.NewSession(cfg, d.writer, transport.WithOnFrame(func(ev types.FrameEvent) {
		d.frameDone(p, ev)
	}))
	d.peers[s] = p

	d.metrics.ActiveSessions.Store(uint64(len(d.peers)))
	d.metrics.TotalSessions.Add(1)
	d.log.Info("Session %s opened for %s (%s framing)", p.session.ID(), s.peer, s.mode)
	return p
}

func (d *Dispatcher) remove(p *peer, reason string) {
	if p.session.InFrame() {
		d.metrics.FramesAbandoned.Add(1)
	}
	delete(d.peers, p.stream)
	d.metrics.ActiveSessions.Store(uint64(len(d.peers)))
	d.log.Info("Session %s for %s ended (%s)", p.session.ID(), p.stream.peer, reason)
}

// kill removes the session and tells the front end to hang up
func (d *Dispatcher) kill(p *peer, reason string) {
	d.remove(p, reason)
	p.stream.dead.Store(true)
	if p.stream.drop != nil {
		p.stream.drop()
	}
}

func (d *Dispatcher) evictIdle() {
	now := d.cfg.Transport.Now()
	for _, p := range d.peers {
		if now.Sub(p.session.LastActivity()) > d.cfg.IdleTimeout {
			d.kill(p, "idle")
		}
	}
}

func (d *Dispatcher) frameDone(p *peer, ev types.FrameEvent) {
	d.metrics.BlitGroups.Add(uint64(ev.Groups))
	d.metrics.ClippedPixels.Add(uint64(ev.Clipped))

	if ev.Rejected {
		d.metrics.FramesRejected.Add(1)
		d.log.Debug("Stale frame from %s (%v old)", p.stream.peer, ev.Finished.Sub(ev.Descriptor.Timestamp))
	} else {
		d.metrics.FramesCompleted.Add(1)
		if ev.Missing > 0 {
			d.metrics.FramesShort.Add(1)
			d.log.Debug("Frame from %s closed %d bytes short", p.stream.peer, ev.Missing)
		}
		d.metrics.UpdateFrameLatency(ev.Descriptor.Timestamp, ev.Finished)
		if fps, ok := d.metrics.Rate.Tick(ev.Finished); ok {
			d.log.Info("FPS: %.1f (sessions=%d, latency=%dms)", fps, len(d.peers), d.metrics.FrameLatencyMs.Load())
		}
	}

	info := FrameInfo{
		SessionID:  ev.SessionID,
		Peer:       p.stream.peer,
		Descriptor: ev.Descriptor,
		Rejected:   ev.Rejected,
		Finished:   ev.Finished,
	}

	// Only drawn frames describe what is on the surface
	d.mu.Lock()
	if !ev.Rejected {
		info.Seq = d.lastFrame.Seq + 1
		d.lastFrame = info
	} else {
		info.Seq = d.lastFrame.Seq
	}
	d.mu.Unlock()

	for _, fn := range d.hooks {
		fn(info)
	}
}

// LastFrame returns the most recently drawn frame, if any
func (d *Dispatcher) LastFrame() (FrameInfo, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastFrame, d.lastFrame.Seq > 0
}

// Do runs fn on the dispatcher goroutine with exclusive access to the surface
func (d *Dispatcher) Do(ctx context.Context, fn func(*framebuffer.Surface)) error {
	finished := make(chan struct{})
	call := func() {
		defer close(finished)
		fn(d.writer.Surface())
	}

	select {
	case d.calls <- call:
	case <-d.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// Snapshot copies the area of the last drawn frame out of the surface
func (d *Dispatcher) Snapshot(ctx context.Context) (*image.RGBA, FrameInfo, error) {
	info, ok := d.LastFrame()
	if !ok {
		return nil, FrameInfo{}, ErrNoFrame
	}

	x, y := d.writer.Pan()
	rect := image.Rect(x, y, x+info.Descriptor.Width, y+info.Descriptor.Height)

	var img *image.RGBA
	err := d.Do(ctx, func(s *framebuffer.Surface) {
		img = s.Region(rect)
	})
	if err != nil {
		return nil, info, err
	}
	return img, info, nil
}

// Sessions lists live sessions
func (d *Dispatcher) Sessions(ctx context.Context) ([]SessionInfo, error) {
	var out []SessionInfo
	err := d.Do(ctx, func(*framebuffer.Surface) {
		for _, p := range d.peers {
			out = append(out, SessionInfo{
				ID:           p.session.ID(),
				Peer:         p.stream.peer,
				Mode:         p.stream.mode,
				InFrame:      p.session.InFrame(),
				Remaining:    p.session.Remaining(),
				LastActivity: p.session.LastActivity(),
			})
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out, err
}

func (d *Dispatcher) buffer(n int) *[]byte {
	if n > d.cfg.MaxChunk {
		b := make([]byte, n)
		return &b
	}
	return d.pool.Get().(*[]byte)
}

func (d *Dispatcher) release(b *[]byte) {
	if b != nil && cap(*b) == d.cfg.MaxChunk {
		d.pool.Put(b)
	}
}
