package stub

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/valyala/bytebufferpool"

	"terrachat/pkg/logger"
)

// client is one websocket subscriber. Writes are serialized by mu so the
// hub can broadcast from multiple goroutines.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex

	project string
	thread  string
}

func (c *client) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub tracks connected websocket clients and fans events out to the ones
// subscribed to the event's project (and thread, when the client picked one).
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	logger.Info("ws_client_connected", "clients", n)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	logger.Info("ws_client_disconnected", "clients", n)
}

// Subscribed reports whether any connected client has announced the
// project; used as a readiness signal before pushing events.
func (h *Hub) Subscribed(projectID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.mu.Lock()
		p := c.project
		c.mu.Unlock()
		if p == projectID {
			return true
		}
	}
	return false
}

// Broadcast marshals the event once and writes it to every matching client.
// An empty threadID targets all clients on the project.
func (h *Hub) Broadcast(projectID, threadID string, event any) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	enc := json.NewEncoder(buf)
	if err := enc.Encode(event); err != nil {
		logger.Error("broadcast_marshal_failed", "error", err)
		return
	}
	data := buf.Bytes()

	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		c.mu.Lock()
		project, thread := c.project, c.thread
		c.mu.Unlock()
		if project != projectID {
			continue
		}
		if threadID != "" && thread != "" && thread != threadID {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		if err := c.send(data); err != nil {
			logger.Warn("broadcast_write_failed", "error", err)
		}
	}
}
