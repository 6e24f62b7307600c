// Package transport reassembles chunked YUYV frames into aligned macropixel
// runs and hands them to a Blitter.
//
// One Session serves one byte stream (a TCP connection, a UDP peer, a
// WebSocket or a data channel). Chunks may split a frame, a 4-byte group or
// the descriptor anywhere; the session carries up to 3 bytes between chunks
// so every run it blits starts and ends on a group boundary.
package transport

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/wire"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/pkg/types"
)

// ErrMalformedDescriptor is returned by Feed when a frame descriptor carries
// impossible dimensions. The session has been reset when it is returned.
var ErrMalformedDescriptor = wire.ErrMalformedDescriptor

// Mode selects how frame boundaries are found in the byte stream
type Mode int

const (
	// ModeHeader expects a descriptor in front of every frame
	ModeHeader Mode = iota
	// ModeFixed has no descriptor; every frame uses the configured size
	ModeFixed
)

func (m Mode) String() string {
	switch m {
	case ModeHeader:
		return "header"
	case ModeFixed:
		return "fixed"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses "header" or "fixed"
func ParseMode(s string) (Mode, error) {
	switch s {
	case "header", "":
		return ModeHeader, nil
	case "fixed":
		return ModeFixed, nil
	default:
		return ModeHeader, fmt.Errorf("invalid transport mode: %s", s)
	}
}

// Blitter receives aligned runs of whole 4-byte groups. startByte is the
// frame-relative offset of run[0].
type Blitter interface {
	Blit(run []byte, width, height, startByte int) (groups, clipped int)
}

// Config controls framing and staleness
type Config struct {
	Mode Mode

	// Frame size for ModeFixed
	FixedWidth  int
	FixedHeight int

	// Unit size the fixed-mode sender splits frames into. A shorter unit
	// ends the frame and a unit that overruns the frame starts the next
	// one. 0 finds frame boundaries by byte count alone.
	FixedUnit int

	// Frames at least this old on arrival are consumed without being drawn
	StaleAfter time.Duration

	// Upper bound on a descriptor's payload size; 0 disables the check
	MaxFrameBytes int

	// Clock, for tests
	Now func() time.Time
}

// DefaultConfig returns header framing with a 3 second staleness window
func DefaultConfig() Config {
	return Config{
		Mode:          ModeHeader,
		FixedWidth:    320,
		FixedHeight:   180,
		FixedUnit:     types.DefaultMaxChunk,
		StaleAfter:    3 * time.Second,
		MaxFrameBytes: 64 << 20,
		Now:           time.Now,
	}
}

// Session is the per-stream reassembly state. It is not safe for concurrent
// use; the receiver confines each session to its dispatcher goroutine.
type Session struct {
	id      string
	cfg     Config
	blitter Blitter
	onFrame func(types.FrameEvent)

	desc       types.FrameDescriptor
	haveHeader bool
	rejected   bool
	picSize    int // payload bytes still expected for the current frame
	blitted    int // payload bytes already handed to the blitter

	hdr    [types.DescriptorSize]byte
	hdrLen int

	carry     [3]byte
	remainder int

	// Per-frame bookkeeping for FrameEvent
	chunks  int
	groups  int
	clipped int
	started time.Time

	lastActivity time.Time
}

// Option configures a Session
type Option func(*Session)

// WithOnFrame registers a callback run when a frame's payload is complete
func WithOnFrame(fn func(types.FrameEvent)) Option {
	return func(s *Session) { s.onFrame = fn }
}

// WithID overrides the generated session ID
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// NewSession creates a session that blits through b
func NewSession(cfg Config, b Blitter, opts ...Option) *Session {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 3 * time.Second
	}
	s := &Session{
		id:      uuid.NewString(),
		cfg:     cfg,
		blitter: b,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lastActivity = cfg.Now()
	return s
}

func (s *Session) ID() string { return s.id }

// Feed consumes one arriving chunk. A chunk that runs past the end of the
// current frame starts the next one with its tail.
func (s *Session) Feed(chunk []byte) error {
	now := s.cfg.Now()
	s.lastActivity = now

	if s.cfg.Mode == ModeFixed && s.cfg.FixedUnit > 0 {
		return s.feedUnit(chunk, now)
	}

	for len(chunk) > 0 {
		if !s.haveHeader {
			n, err := s.begin(chunk, now)
			if err != nil {
				return err
			}
			chunk = chunk[n:]
			if !s.haveHeader {
				// Descriptor still incomplete
				return nil
			}
			if len(chunk) == 0 {
				break
			}
		}

		n := len(chunk)
		if n > s.picSize {
			n = s.picSize
		}
		s.chunks++
		s.consume(chunk[:n])
		chunk = chunk[n:]

		if s.picSize == 0 {
			s.complete(now)
		}
	}
	return nil
}

// feedUnit consumes one fixed-mode unit. Units never straddle frames, so
// after a lost unit the next frame still starts at byte 0.
func (s *Session) feedUnit(unit []byte, now time.Time) error {
	if len(unit) == 0 {
		return nil
	}
	if s.haveHeader && len(unit) > s.picSize {
		s.complete(now)
	}
	if !s.haveHeader {
		if _, err := s.begin(unit, now); err != nil {
			return err
		}
	}

	last := len(unit) < s.cfg.FixedUnit
	if len(unit) > s.picSize {
		unit = unit[:s.picSize]
	}
	s.chunks++
	s.consume(unit)
	if s.picSize == 0 || last {
		s.complete(now)
	}
	return nil
}

// begin starts a frame, reading the descriptor in header mode. It returns
// the number of chunk bytes used.
func (s *Session) begin(chunk []byte, now time.Time) (int, error) {
	if s.cfg.Mode == ModeFixed {
		desc := types.FrameDescriptor{
			Timestamp: now,
			Width:     s.cfg.FixedWidth,
			Height:    s.cfg.FixedHeight,
		}
		if err := wire.Validate(desc, 0); err != nil {
			return 0, fmt.Errorf("session %s: fixed size: %w", s.id, err)
		}
		s.start(desc, now)
		return 0, nil
	}

	n := copy(s.hdr[s.hdrLen:], chunk)
	s.hdrLen += n
	if s.hdrLen < types.DescriptorSize {
		return n, nil
	}

	desc, err := wire.ParseDescriptor(s.hdr[:])
	if err == nil {
		err = wire.Validate(desc, s.cfg.MaxFrameBytes)
	}
	if err != nil {
		s.Reset()
		return n, fmt.Errorf("session %s: %w", s.id, err)
	}
	s.start(desc, now)
	return n, nil
}

func (s *Session) start(desc types.FrameDescriptor, now time.Time) {
	s.desc = desc
	s.haveHeader = true
	s.hdrLen = 0
	s.picSize = desc.PayloadSize()
	s.blitted = 0
	s.remainder = 0
	s.chunks = 0
	s.groups = 0
	s.clipped = 0
	s.started = now
	s.rejected = s.cfg.Mode == ModeHeader && now.Sub(desc.Timestamp) >= s.cfg.StaleAfter
}

// consume accounts for p, which lies entirely within the current frame, and
// blits every whole group it completes.
func (s *Session) consume(p []byte) {
	s.picSize -= len(p)
	if s.rejected {
		return
	}

	if s.remainder+len(p) < types.BytesPerGroup {
		copy(s.carry[s.remainder:], p)
		s.remainder += len(p)
		return
	}

	if s.remainder > 0 {
		var group [types.BytesPerGroup]byte
		copy(group[:], s.carry[:s.remainder])
		k := copy(group[s.remainder:], p)
		p = p[k:]
		s.remainder = 0
		s.blit(group[:])
	}

	aligned := len(p) &^ (types.BytesPerGroup - 1)
	if aligned > 0 {
		s.blit(p[:aligned])
	}
	s.remainder = copy(s.carry[:], p[aligned:])
}

func (s *Session) blit(run []byte) {
	g, c := s.blitter.Blit(run, s.desc.Width, s.desc.Height, s.blitted)
	s.blitted += len(run)
	s.groups += g
	s.clipped += c
}

func (s *Session) complete(now time.Time) {
	ev := types.FrameEvent{
		SessionID:  s.id,
		Descriptor: s.desc,
		Rejected:   s.rejected,
		Chunks:     s.chunks,
		Groups:     s.groups,
		Clipped:    s.clipped,
		Missing:    s.picSize,
		Started:    s.started,
		Finished:   now,
	}
	s.haveHeader = false
	s.picSize = 0
	s.rejected = false
	// Leftover bytes of an odd-sized frame never form a group
	s.remainder = 0
	if s.onFrame != nil {
		s.onFrame(ev)
	}
}

// Reset abandons any partial frame or descriptor
func (s *Session) Reset() {
	s.haveHeader = false
	s.rejected = false
	s.hdrLen = 0
	s.picSize = 0
	s.blitted = 0
	s.remainder = 0
}

// InFrame reports whether a frame or descriptor is partially received
func (s *Session) InFrame() bool { return s.haveHeader || s.hdrLen > 0 }

func (s *Session) HaveHeader() bool                  { return s.haveHeader }
func (s *Session) Descriptor() types.FrameDescriptor { return s.desc }
func (s *Session) Rejected() bool                    { return s.rejected }
func (s *Session) Remaining() int                    { return s.picSize }
func (s *Session) Remainder() int                    { return s.remainder }
func (s *Session) LastActivity() time.Time           { return s.lastActivity }
