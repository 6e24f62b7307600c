package sender

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/webrtc"
)

// Conn carries transmission units to a receiver. Units passed to WriteUnit
// may be reused by the caller once it returns.
type Conn interface {
	WriteUnit(ctx context.Context, unit []byte) error
	Close() error
}

// Dial connects to target over the named transport. header reports whether
// the transport carries descriptors; UDP uses fixed framing.
func Dial(ctx context.Context, transport, target string, stunServers []string) (conn Conn, header bool, err error) {
	switch transport {
	case "tcp":
		var d net.Dialer
		c, err := d.DialContext(ctx, "tcp", target)
		if err != nil {
			return nil, false, fmt.Errorf("dial tcp %s: %w", target, err)
		}
		return &streamConn{conn: c}, true, nil
	case "udp":
		var d net.Dialer
		c, err := d.DialContext(ctx, "udp", target)
		if err != nil {
			return nil, false, fmt.Errorf("dial udp %s: %w", target, err)
		}
		return &datagramConn{conn: c}, false, nil
	case "ws":
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
		if err != nil {
			return nil, false, fmt.Errorf("dial websocket %s: %w", target, err)
		}
		return &wsConn{ws: ws}, true, nil
	case "webrtc":
		ch, err := webrtc.Dial(ctx, target, stunServers)
		if err != nil {
			return nil, false, err
		}
		return rtcConn{ch}, true, nil
	default:
		return nil, false, fmt.Errorf("unknown transport %q", transport)
	}
}

type streamConn struct {
	conn net.Conn
}

func (c *streamConn) WriteUnit(ctx context.Context, unit []byte) error {
	if dl, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(dl)
	}
	_, err := c.conn.Write(unit)
	return err
}

func (c *streamConn) Close() error { return c.conn.Close() }

type datagramConn struct {
	conn net.Conn
}

func (c *datagramConn) WriteUnit(ctx context.Context, unit []byte) error {
	_, err := c.conn.Write(unit)
	if errors.Is(err, syscall.ECONNREFUSED) {
		// Nobody listening yet; the datagram is lost either way
		return nil
	}
	return err
}

func (c *datagramConn) Close() error { return c.conn.Close() }

type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) WriteUnit(ctx context.Context, unit []byte) error {
	if dl, ok := ctx.Deadline(); ok {
		c.ws.SetWriteDeadline(dl)
	}
	return c.ws.WriteMessage(websocket.BinaryMessage, unit)
}

func (c *wsConn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.ws.Close()
}

type rtcConn struct {
	*webrtc.Channel
}

func (c rtcConn) WriteUnit(ctx context.Context, unit []byte) error {
	return c.Write(ctx, unit)
}
