package ws

import (
	"log/slog"
	"sync"
	"time"

	"palaver/internal/models"
)

// PresenceStore persists online/offline transitions so REST reads of
// user and room lists reflect current presence.
type PresenceStore interface {
	UpdateUserOnlineStatus(userID string, online bool, lastSeen int64) error
}

// Hub is the process-wide presence registry and room broadcaster. It owns
// every live connection, the per-user connection sets and the room
// subscription table. All maps share one mutex; locks are held only
// around in-memory mutation, never across storage I/O.
type Hub struct {
	mu sync.RWMutex

	// userID -> connections. A user may hold several connections; the
	// set is additive and the user stays online until it drains.
	users map[string]map[*Connection]struct{}

	// roomID -> connections currently subscribed to that room.
	rooms map[string]map[*Connection]struct{}

	presence PresenceStore
	now      func() time.Time
}

func NewHub(presence PresenceStore) *Hub {
	return &Hub{
		users:    make(map[string]map[*Connection]struct{}),
		rooms:    make(map[string]map[*Connection]struct{}),
		presence: presence,
		now:      time.Now,
	}
}

// Register adds a connection to its user's connection set. The first
// connection for a user marks the user online with a durable write.
func (h *Hub) Register(c *Connection) {
	h.mu.Lock()
	set, ok := h.users[c.userID]
	if !ok {
		set = make(map[*Connection]struct{})
		h.users[c.userID] = set
	}
	set[c] = struct{}{}
	first := len(set) == 1
	h.mu.Unlock()

	if first {
		if err := h.presence.UpdateUserOnlineStatus(c.userID, true, h.now().Unix()); err != nil {
			slog.Error("failed to persist online status", "user_id", c.userID, "error", err)
		}
	}
}

// Unregister removes the connection from its user's set and from any
// room subscription. When the user's connection set drains, the user is
// marked offline with lastSeen = now. No dangling references remain.
func (h *Hub) Unregister(c *Connection) {
	h.mu.Lock()
	if set, ok := h.users[c.userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.users, c.userID)
		}
	}
	h.dropRoomLocked(c)
	_, stillOnline := h.users[c.userID]
	h.mu.Unlock()

	if !stillOnline {
		if err := h.presence.UpdateUserOnlineStatus(c.userID, false, h.now().Unix()); err != nil {
			slog.Error("failed to persist offline status", "user_id", c.userID, "error", err)
		}
	}
}

// JoinRoom subscribes the connection to a room. A connection holds at
// most one room subscription besides its personal channel, so joining
// implicitly leaves the previous room.
func (h *Hub) JoinRoom(c *Connection, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.dropRoomLocked(c)

	set, ok := h.rooms[roomID]
	if !ok {
		set = make(map[*Connection]struct{})
		h.rooms[roomID] = set
	}
	set[c] = struct{}{}
	c.room = roomID
}

// LeaveRoom removes the subscription if present; no-op otherwise.
func (h *Hub) LeaveRoom(c *Connection, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.room == roomID {
		h.dropRoomLocked(c)
	}
}

func (h *Hub) dropRoomLocked(c *Connection) {
	if c.room == "" {
		return
	}
	if set, ok := h.rooms[c.room]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.rooms, c.room)
		}
	}
	c.room = ""
}

// Publish delivers an event to every connection currently subscribed to
// the room, including the sender's own connections; clients de-duplicate
// by message id. A full or dead subscriber is skipped so one unreachable
// connection never blocks delivery to others.
func (h *Hub) Publish(roomID string, event models.ServerEvent) {
	h.mu.RLock()
	targets := make([]*Connection, 0, len(h.rooms[roomID]))
	for c := range h.rooms[roomID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.trySend(event)
	}
}

// PublishToUser delivers an event on a user's personal channel: every
// live connection of that user, regardless of which room is open.
func (h *Hub) PublishToUser(userID string, event models.ServerEvent) {
	h.mu.RLock()
	targets := make([]*Connection, 0, len(h.users[userID]))
	for c := range h.users[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.trySend(event)
	}
}

// IsOnline reports whether the user has at least one live connection.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}
