package receiver

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/transport"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocketHandler accepts header-framed streams as binary messages. Message
// boundaries carry no meaning; every message is one chunk.
func (d *Dispatcher) WebSocketHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			d.log.Warn("WebSocket upgrade from %s failed: %v", r.RemoteAddr, err)
			return
		}
		defer conn.Close()

		peer := "ws:" + r.RemoteAddr + "/" + uuid.NewString()[:8]
		stream := d.NewStream(peer, transport.ModeHeader, func() { conn.Close() })
		defer stream.Close()

		d.metrics.ActiveClients.Add(1)
		d.metrics.TotalClients.Add(1)
		defer d.metrics.ActiveClients.Add(^uint64(0))

		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					d.log.Warn("WebSocket %s: %v", peer, err)
				}
				return
			}
			if kind != websocket.BinaryMessage {
				continue
			}
			if err := stream.Write(r.Context(), data); err != nil {
				return
			}
		}
	})
}
