// Package hub maps logical user identities to live websocket connections.
package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Conn represents a single websocket connection. A connection becomes
// addressable once it registers a user id.
type Conn struct {
	ID     string
	UserID string
	Socket *websocket.Conn
	Send   chan []byte

	mu    sync.Mutex
	rooms map[string]bool
}

// Hub is the process-local connection registry. At most one connection per
// user id: the last registration wins. Swappable behind fan-out for a
// sharded bus at scale.
type Hub struct {
	mu     sync.RWMutex
	users  map[string]*Conn
	logger *zap.Logger
}

// New creates an empty Hub.
func New(logger *zap.Logger) *Hub {
	return &Hub{
		users:  make(map[string]*Conn),
		logger: logger,
	}
}

// NewConn wraps an upgraded websocket in a Conn with a buffered send queue.
func (h *Hub) NewConn(ws *websocket.Conn) *Conn {
	return &Conn{
		ID:     uuid.New().String(),
		Socket: ws,
		Send:   make(chan []byte, 256),
		rooms:  make(map[string]bool),
	}
}

// Register binds a user id to a connection. If the user already had a
// connection, that previous connection is returned so the caller can close
// it; the new one takes over immediately.
func (h *Hub) Register(userID string, c *Conn) *Conn {
	h.mu.Lock()
	prev := h.users[userID]
	h.users[userID] = c
	h.mu.Unlock()

	c.UserID = userID
	if prev != nil && prev != c {
		h.logger.Info("replacing existing connection", zap.String("user_id", userID))
		return prev
	}
	return nil
}

// Unregister removes the connection's mapping. A stale connection never
// evicts its replacement: the entry is removed only while it still points
// at this connection.
func (h *Hub) Unregister(c *Conn) {
	if c.UserID == "" {
		return
	}
	h.mu.Lock()
	if h.users[c.UserID] == c {
		delete(h.users, c.UserID)
	}
	h.mu.Unlock()
}

// Lookup returns the live connection for a user id, if any.
func (h *Hub) Lookup(userID string) (*Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.users[userID]
	return c, ok
}

// Send queues a payload for a user's connection. Returns false when the
// user has no local connection or the connection's buffer is full (the
// payload is dropped and logged; the client recovers on next history load).
func (h *Hub) Send(userID string, payload []byte) bool {
	c, ok := h.Lookup(userID)
	if !ok {
		return false
	}
	select {
	case c.Send <- payload:
		return true
	default:
		h.logger.Warn("send buffer full, dropping payload",
			zap.String("user_id", userID), zap.String("conn_id", c.ID))
		return false
	}
}

// SendJSON marshals v and queues it for a user's connection.
func (h *Hub) SendJSON(userID string, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("marshal payload", zap.Error(err))
		return false
	}
	return h.Send(userID, data)
}

// SendToConn queues a payload directly on a connection, registered or not.
func (h *Hub) SendToConn(c *Conn, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("marshal payload", zap.Error(err))
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		h.logger.Warn("send buffer full, dropping payload", zap.String("conn_id", c.ID))
		return false
	}
}

// BroadcastRoom queues v for every registered connection currently in the
// room, except the one identified by exceptUserID.
func (h *Hub) BroadcastRoom(roomID, exceptUserID string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("marshal payload", zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for userID, c := range h.users {
		if userID == exceptUserID || !c.InRoom(roomID) {
			continue
		}
		select {
		case c.Send <- data:
		default:
		}
	}
}

// UserCount returns the number of registered users.
func (h *Hub) UserCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users)
}

// JoinRoom marks the connection as a member of a conversation room.
func (c *Conn) JoinRoom(roomID string) {
	c.mu.Lock()
	c.rooms[roomID] = true
	c.mu.Unlock()
}

// LeaveRoom removes the room membership.
func (c *Conn) LeaveRoom(roomID string) {
	c.mu.Lock()
	delete(c.rooms, roomID)
	c.mu.Unlock()
}

// InRoom reports room membership.
func (c *Conn) InRoom(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms[roomID]
}

// WriteMessage writes to the socket with proper locking.
func (c *Conn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Socket.WriteMessage(messageType, data)
}

// SetWriteDeadline sets the write deadline for the socket.
func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.Socket.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the socket.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.Socket.SetReadDeadline(t)
}

// Close closes the underlying socket.
func (c *Conn) Close() error {
	return c.Socket.Close()
}
