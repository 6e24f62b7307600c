package receiver

import (
	"context"
	"sync/atomic"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/transport"
)

// Stream is a front end's handle on one byte stream. Bytes written to it
// reach the same transport session, in order.
type Stream struct {
	d    *Dispatcher
	peer string
	mode transport.Mode
	drop func()

	closed atomic.Bool // Close was called
	dead   atomic.Bool // the dispatcher dropped the session
}

// NewStream registers a byte stream labelled peer. drop, if non-nil, runs on
// the dispatcher goroutine when the session is discarded for a malformed
// descriptor or idleness; it should hang up the underlying connection and
// must not block.
func (d *Dispatcher) NewStream(peer string, mode transport.Mode, drop func()) *Stream {
	return &Stream{d: d, peer: peer, mode: mode, drop: drop}
}

func (s *Stream) Peer() string { return s.peer }

// Dead reports whether the dispatcher has dropped this stream
func (s *Stream) Dead() bool { return s.dead.Load() }

func (s *Stream) writable(p []byte) bool {
	select {
	case <-s.d.done:
		return false
	default:
	}
	return len(p) > 0 && !s.closed.Load() && !s.dead.Load()
}

func (s *Stream) chunk(p []byte) chunk {
	buf := s.d.buffer(len(p))
	n := copy(*buf, p)
	return chunk{stream: s, data: (*buf)[:n], buf: buf}
}

// Write copies p and queues it, waiting for queue space
func (s *Stream) Write(ctx context.Context, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if !s.writable(p) {
		return ErrClosed
	}

	c := s.chunk(p)
	select {
	case s.d.chunks <- c:
		return nil
	case <-s.d.done:
		s.d.release(c.buf)
		return ErrClosed
	case <-ctx.Done():
		s.d.release(c.buf)
		return ctx.Err()
	}
}

// TryWrite queues p without waiting. A full queue drops the chunk, which
// the session later sees as a short frame.
func (s *Stream) TryWrite(p []byte) bool {
	if !s.writable(p) {
		return false
	}

	c := s.chunk(p)
	select {
	case s.d.chunks <- c:
		return true
	default:
		s.d.release(c.buf)
		s.d.metrics.ChunksDropped.Add(1)
		return false
	}
}

// Close ends the session. Safe to call more than once.
func (s *Stream) Close() {
	if s.closed.Swap(true) {
		return
	}
	select {
	case s.d.chunks <- chunk{stream: s, closed: true}:
	case <-s.d.done:
	}
}
