package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dukerupert/famcal/internal/model"
)

// Message represents a real-time notification sent to clients.
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

// Audience selects the clients a message is sent to: members of FamilyID,
// plus the clients of UserID. A message about CalendarID skips clients that
// watch other calendars.
type Audience struct {
	FamilyID   string
	UserID     string
	CalendarID string
}

func (a Audience) includes(c *Client) bool {
	member := (a.FamilyID != "" && c.familyID == a.FamilyID) || (a.UserID != "" && c.userID == a.UserID)
	return member && c.watches(a.CalendarID)
}

// Hub maintains the set of active WebSocket clients and fans messages out
// to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger.With("component", "websocket"),
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Send delivers msg to every client in the audience.
func (h *Hub) Send(msg Message, to Audience) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal message", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	dropped := 0
	for c := range h.clients {
		if to.includes(c) && !c.queue(data) {
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Warn("dropped message for slow clients", "type", msg.Type, "clients", dropped)
	}
}

// Deliver implements notify.Sink. Family calendar events go to the whole
// family; personal events go to their owner.
func (h *Hub) Deliver(n model.Notification) {
	entity, action, _ := strings.Cut(string(n.Type), "_")
	msg := NewMessage(entity, action, n.Event.ID, map[string]any{
		"message":     n.Message,
		"calendar_id": n.Event.CalendarID,
		"event":       n.Event,
	})
	h.Send(msg, Audience{FamilyID: n.Event.FamilyID, UserID: n.Event.UserID, CalendarID: n.Event.CalendarID})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
