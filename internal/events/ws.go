package events

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// Broadcaster relays bus events to websocket clients as JSON frames.
type Broadcaster struct {
	bus      *Bus
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewBroadcaster creates a broadcaster over bus. logger may be nil.
func NewBroadcaster(bus *Bus, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Dashboards connect cross-origin; auth sits in front of us.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.With("component", "events-ws"),
	}
}

// ServeHTTP upgrades the connection and streams events until the client
// disconnects.
func (bc *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := bc.upgrader.Upgrade(w, r, nil)
	if err != nil {
		bc.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	id, ch := bc.bus.Subscribe(256)
	bc.logger.Info("subscriber connected", "subscriber", id, "remote", r.RemoteAddr)

	go bc.writeLoop(conn, id, ch)
	bc.readLoop(conn, id)
}

func (bc *Broadcaster) writeLoop(conn *websocket.Conn, id string, ch <-chan Event) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				bc.logger.Debug("write failed, dropping subscriber", "subscriber", id, "error", err)
				bc.bus.Unsubscribe(id)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				bc.bus.Unsubscribe(id)
				return
			}
		}
	}
}

// readLoop drains client frames so pongs and close frames are processed.
func (bc *Broadcaster) readLoop(conn *websocket.Conn, id string) {
	defer bc.bus.Unsubscribe(id)
	conn.SetReadLimit(512)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
