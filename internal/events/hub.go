package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Hub tracks the WebSocket connections of admin consoles on this instance.
type Hub struct {
	clients map[string]*Client
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{clients: make(map[string]*Client), logger: logger}
}

// Register adds a client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("console connected", zap.String("client_id", c.ID), zap.Int("clients", n))
}

// Unregister removes a client and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; ok {
		delete(h.clients, c.ID)
		close(c.send)
	}
	h.mu.Unlock()
	h.logger.Debug("console disconnected", zap.String("client_id", c.ID))
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends e to every local client. Slow clients drop the event.
func (h *Hub) Broadcast(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- e:
		default:
			h.logger.Debug("client buffer full, event dropped", zap.String("client_id", c.ID))
		}
	}
}

// Publish implements Publisher for single-instance deployments without Redis.
func (h *Hub) Publish(_ context.Context, e Event) {
	h.Broadcast(e)
}

// Relay forwards events from the Redis channel to local clients until ctx is done.
func (h *Hub) Relay(ctx context.Context, ps *RedisPubSub) error {
	cancel, err := ps.Subscribe(h.Broadcast)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return nil
}
