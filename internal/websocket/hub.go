package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukerupert/tracklist/internal/model"
)

// Message is a real-time sync notification. Groceries are identified by
// name, tasks by id.
type Message struct {
	Type   string         `json:"type"`
	Entity string         `json:"entity"`
	Action string         `json:"action"`
	ID     int64          `json:"id,omitempty"`
	Name   string         `json:"name,omitempty"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// NewMessage creates a Message with the Type field derived from entity and action.
func NewMessage(entity, action string, id int64, extra map[string]any) Message {
	return Message{
		Type:   fmt.Sprintf("%s_%s", entity, action),
		Entity: entity,
		Action: action,
		ID:     id,
		Extra:  extra,
	}
}

// NewNamedMessage is NewMessage for entities keyed by name.
func NewNamedMessage(entity, action, name string, extra map[string]any) Message {
	msg := NewMessage(entity, action, 0, extra)
	msg.Name = name
	return msg
}

// Hub tracks connected clients per owner and fans messages out to the
// owner's clients only.
type Hub struct {
	mu      sync.RWMutex
	clients map[model.Owner]map[*Client]struct{}
	logger  *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[model.Owner]map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client to the hub under its owner.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.owner]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.owner] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("client registered", "owner", c.owner)
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if set, ok := h.clients[c.owner]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			close(c.send)
		}
		if len(set) == 0 {
			delete(h.clients, c.owner)
		}
	}
	h.mu.Unlock()
}

// Broadcast sends a message to every client connected as owner.
func (h *Hub) Broadcast(owner model.Owner, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[owner] {
		select {
		case c.send <- data:
		default:
			// Client buffer full, drop message to avoid blocking
			h.logger.Warn("dropped message for slow client", "owner", owner, "type", msg.Type)
		}
	}
}

// ClientCount returns the number of connected clients across all owners.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// OwnerCount returns the number of clients connected as owner.
func (h *Hub) OwnerCount(owner model.Owner) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[owner])
}
