package receiver

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/transport"
)

// maxDatagram holds any UDP payload, whatever unit size the sender uses
const maxDatagram = 64 << 10

// ServeUDP reads fixed-size frames from pc until ctx is cancelled. Each
// source address is its own session; datagrams are dropped, not queued,
// when the dispatcher falls behind.
func (d *Dispatcher) ServeUDP(ctx context.Context, pc net.PacketConn) error {
	go func() {
		<-ctx.Done()
		pc.Close()
	}()

	d.log.Info("Accepting UDP datagrams on %s (%dx%d fixed framing, %d byte units)",
		pc.LocalAddr(), d.cfg.Transport.FixedWidth, d.cfg.Transport.FixedHeight, d.cfg.Transport.FixedUnit)

	peers := newUDPPeers(d)
	defer peers.closeAll()

	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		peers.get(addr.String()).TryWrite(buf[:n])
	}
}

// udpPeers maps source addresses to streams. An entry goes away when the
// dispatcher drops its stream.
type udpPeers struct {
	d  *Dispatcher
	mu sync.Mutex
	m  map[string]*Stream
}

func newUDPPeers(d *Dispatcher) *udpPeers {
	return &udpPeers{d: d, m: make(map[string]*Stream)}
}

func (u *udpPeers) get(key string) *Stream {
	u.mu.Lock()
	defer u.mu.Unlock()

	if s, ok := u.m[key]; ok && !s.Dead() {
		return s
	}
	// An evicted peer that speaks again gets a fresh session
	var s *Stream
	s = u.d.NewStream("udp:"+key, transport.ModeFixed, func() { u.forget(key, s) })
	u.m[key] = s
	return s
}

// forget runs on the dispatcher goroutine
func (u *udpPeers) forget(key string, s *Stream) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.m[key] == s {
		delete(u.m, key)
	}
}

func (u *udpPeers) len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.m)
}

func (u *udpPeers) closeAll() {
	u.mu.Lock()
	streams := make([]*Stream, 0, len(u.m))
	for key, s := range u.m {
		streams = append(streams, s)
		delete(u.m, key)
	}
	u.mu.Unlock()

	for _, s := range streams {
		s.Close()
	}
}
