package gate

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/trafficward/trafficward/internal/models"
)

// Feed pushes emitted anomaly events to connected websocket clients.
type Feed struct {
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewFeed returns an empty feed hub.
func NewFeed(log *slog.Logger) *Feed {
	return &Feed{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:     log,
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// Handler upgrades the connection and keeps it registered until the
// client goes away.
func (f *Feed) Handler(c *gin.Context) {
	conn, err := f.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		f.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	f.mu.Lock()
	f.clients[conn] = struct{}{}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.clients, conn)
		f.mu.Unlock()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast sends the event to every connected client, dropping clients
// whose writes fail.
func (f *Feed) Broadcast(event models.AnomalyEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for conn := range f.clients {
		if err := conn.WriteJSON(map[string]any{"type": "anomaly", "payload": event}); err != nil {
			f.log.Warn("websocket write failed, dropping client", "error", err)
			conn.Close()
			delete(f.clients, conn)
		}
	}
}
