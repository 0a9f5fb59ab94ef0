// Package realtime pushes group change notifications to open browser sessions.
package realtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/davidrmellors/receipt-splitter/internal/events"
)

// Hub tracks connected clients per group and fans events out to them.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[*Client]struct{}
	logger *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		groups: make(map[string]map[*Client]struct{}),
		logger: logger,
	}
}

// Register adds a client to its group.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.groups[c.groupID]
	if !ok {
		clients = make(map[*Client]struct{})
		h.groups[c.groupID] = clients
	}
	clients[c] = struct{}{}
}

// Unregister removes a client and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.groups[c.groupID]
	if !ok {
		return
	}
	if _, ok := clients[c]; ok {
		delete(clients, c)
		close(c.send)
	}
	if len(clients) == 0 {
		delete(h.groups, c.groupID)
	}
}

// Publish sends the event to every client watching its group.
// Slow clients with a full buffer miss the event instead of blocking the sender.
func (h *Hub) Publish(_ context.Context, e events.Event) error {
	data, err := e.ToJSON()
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	dropped := 0
	for c := range h.groups[e.GroupID] {
		select {
		case c.send <- data:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Warn("Dropped realtime event for slow clients", "type", e.Type, "group_id", e.GroupID, "clients", dropped)
	}
	return nil
}

// ClientCount returns the number of clients watching a group.
func (h *Hub) ClientCount(groupID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[groupID])
}
