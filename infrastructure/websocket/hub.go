package websocket

import (
	"context"
	"log/slog"
	"sync"

	"polyglot-chat/contract"
	"polyglot-chat/domain/event"
	"polyglot-chat/errors"
)

var _ contract.Sink = (*Hub)(nil)

// Hub tracks live sockets and delivers payloads to them by connection id.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	log         *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{connections: make(map[string]*Connection), log: log}
}

func (h *Hub) register(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[c.id] = c
}

func (h *Hub) unregister(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.connections, c.id)
}

// Deliver queues the payload on the connection's outbox.
// It gives up when ctx expires, which bounds how long a slow reader can hold a room.
func (h *Hub) Deliver(ctx context.Context, connectionID string, e event.Outbound) error {
	h.mu.RLock()
	c, ok := h.connections[connectionID]
	h.mu.RUnlock()
	if !ok {
		return errors.ErrNotFound
	}
	payload, err := encode(e)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, payload)
}

// Len returns the number of live sockets.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// CloseAll closes every socket; their read loops then run the usual disconnect.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	connections := make([]*Connection, 0, len(h.connections))
	for _, c := range h.connections {
		connections = append(connections, c)
	}
	h.mu.RUnlock()

	for _, c := range connections {
		c.close()
	}
	h.log.Info("All sockets closed", "count", len(connections))
}
