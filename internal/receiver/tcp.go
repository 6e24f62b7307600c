package receiver

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/transport"
)

// ServeTCP accepts header-framed connections on ln until ctx is cancelled.
// Each connection gets its own session.
func (d *Dispatcher) ServeTCP(ctx context.Context, ln net.Listener) error {
	log := d.log
	var wg sync.WaitGroup
	defer wg.Wait()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	log.Info("Accepting TCP streams on %s", ln.Addr())

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				log.Warn("Accept error: %v; retrying in %v", err, backoff)
				time.Sleep(backoff)
				continue
			}
			return err
		}
		backoff = 0

		wg.Add(1)
		go func() {
			defer wg.Done()
			d.serveConn(ctx, conn)
		}()
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	if cur == 0 {
		return 5 * time.Millisecond
	}
	cur *= 2
	if cur > time.Second {
		cur = time.Second
	}
	return cur
}

func (d *Dispatcher) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	stream := d.NewStream("tcp:"+conn.RemoteAddr().String(), transport.ModeHeader, func() { conn.Close() })
	defer stream.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	buf := make([]byte, d.cfg.MaxChunk)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if werr := stream.Write(ctx, buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && ctx.Err() == nil {
				d.log.Warn("Read from %s: %v", conn.RemoteAddr(), err)
			}
			return
		}
	}
}
