// Package ws pushes job history and admission snapshots to dashboard
// clients over websockets.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/LegendarySumit/MediaDL/internal/semaphore"
	"github.com/LegendarySumit/MediaDL/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin policy is enforced by the CORS middleware in front.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// client wraps a connection with its write lock. gorilla/websocket permits
// only one concurrent writer per connection.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// Hub manages websocket connections and broadcasts state snapshots.
type Hub struct {
	clients map[*client]bool
	mu      sync.Mutex
	store   *store.Store
	sem     *semaphore.Semaphore
}

// New creates a hub reading snapshots from the given store and semaphore.
func New(st *store.Store, sem *semaphore.Semaphore) *Hub {
	return &Hub{
		clients: make(map[*client]bool),
		store:   st,
		sem:     sem,
	}
}

// Handle upgrades the request and registers the client until it goes away.
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn}
	h.mu.Lock()
	h.clients[c] = true
	total := len(h.clients)
	h.mu.Unlock()
	slog.Info("websocket client connected", "clients", total)

	h.sendSnapshot(c)

	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.clients, c)
			h.mu.Unlock()
			conn.Close()
			slog.Info("websocket client disconnected")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast sends the current snapshot to every connected client.
func (h *Hub) Broadcast() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		go h.sendSnapshot(c)
	}
}

func (h *Hub) sendSnapshot(c *client) {
	ctx := context.Background()

	jobs, err := h.store.ListRecent(ctx, 50)
	if err != nil {
		slog.Warn("websocket snapshot read failed", "error", err)
		return
	}
	status, err := h.sem.Status(ctx)
	if err != nil {
		slog.Warn("websocket semaphore read failed", "error", err)
		return
	}

	update := map[string]interface{}{
		"jobs":      jobs,
		"semaphore": status,
	}
	if err := c.writeJSON(update); err != nil {
		slog.Warn("websocket write failed", "error", err)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
