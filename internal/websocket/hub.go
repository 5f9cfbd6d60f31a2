package websocket

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Message is a change notification pushed to an owner's clients.
type Message struct {
	Type   string         `json:"type"`
	Entity string         `json:"entity"`
	Action string         `json:"action"`
	ID     string         `json:"id,omitempty"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// NewMessage creates a Message with the Type field derived from entity and action.
func NewMessage(entity, action, id string, extra map[string]any) Message {
	return Message{
		Type:   fmt.Sprintf("%s_%s", entity, action),
		Entity: entity,
		Action: action,
		ID:     id,
		Extra:  extra,
	}
}

// Hub tracks connected clients per owner. A broadcast only reaches the
// clients of the owner it names.
type Hub struct {
	mu      sync.RWMutex
	owners  map[string]map[*Client]struct{}
	dropped atomic.Int64
	logger  *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Hub{
		owners: make(map[string]map[*Client]struct{}),
		logger: logger,
	}
}

// Register adds a client to its owner's set.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	set, ok := h.owners[c.owner]
	if !ok {
		set = make(map[*Client]struct{})
		h.owners[c.owner] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if set, ok := h.owners[c.owner]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			close(c.send)
		}
		if len(set) == 0 {
			delete(h.owners, c.owner)
		}
	}
	h.mu.Unlock()
}

// Broadcast sends msg to every client of ownerID.
func (h *Hub) Broadcast(ownerID string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.owners[ownerID] {
		select {
		case c.send <- data:
		default:
			// Client buffer full, drop rather than block the mutation.
			h.dropped.Add(1)
			h.logger.Debug("dropped message", "owner", ownerID, "type", msg.Type)
		}
	}
}

// ClientCount returns the number of connected clients of ownerID.
func (h *Hub) ClientCount(ownerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.owners[ownerID])
}

// TotalClients returns the number of connected clients across owners.
func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.owners {
		n += len(set)
	}
	return n
}

// Dropped returns how many messages were discarded for slow clients.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close disconnects every client. Used on shutdown, since hijacked
// connections outlive http.Server.Shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, set := range h.owners {
		for c := range set {
			close(c.send)
		}
		delete(h.owners, id)
	}
}
