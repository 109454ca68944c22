// Package gateway accepts websocket sessions, authenticates them, and
// routes room events between connections and the shared store.
package gateway

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Conn bridges a session to its transport writer through a bounded
// outbound channel. The writer goroutine drains Out; a full buffer
// drops the frame rather than blocking the broadcaster.
type Conn struct {
	id         string
	identityID string
	username   string
	mode       string

	out    chan []byte
	mu     sync.Mutex
	closed bool
}

// NewConn creates a connection handle for an authenticated identity.
//
// Precondition: id and identityID must be non-empty.
func NewConn(id, identityID, username string, bufferSize int) *Conn {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Conn{
		id:         id,
		identityID: identityID,
		username:   username,
		out:        make(chan []byte, bufferSize),
	}
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string {
	return c.id
}

// IdentityID returns the authenticated identity behind the connection.
func (c *Conn) IdentityID() string {
	return c.identityID
}

// Username returns the display name resolved at handshake time.
func (c *Conn) Username() string {
	return c.username
}

// Push enqueues a frame for the transport writer.
//
// Postcondition: The frame is enqueued, or an error if the connection
// is closed or its buffer is full.
func (c *Conn) Push(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("connection %s is closed", c.id)
	}
	select {
	case c.out <- frame:
		return nil
	default:
		return fmt.Errorf("connection %s outbound buffer full", c.id)
	}
}

// Out returns the read-only outbound channel drained by the transport
// writer goroutine.
func (c *Conn) Out() <-chan []byte {
	return c.out
}

// Close closes the outbound channel. Further Push calls return an error.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.out)
	}
}

// Hub tracks live connections and which rooms each is attached to.
// All methods are safe for concurrent use. The hub is instance-local;
// cross-instance delivery happens via the fan-out bus.
type Hub struct {
	logger *zap.Logger

	mu    sync.RWMutex
	conns map[string]*Conn            // conn id → conn
	rooms map[string]map[string]bool  // room id → set of conn ids
	joins map[string]map[string]bool  // conn id → set of room ids
}

// NewHub creates an empty Hub.
//
// Precondition: logger must be non-nil.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger: logger,
		conns:  make(map[string]*Conn),
		rooms:  make(map[string]map[string]bool),
		joins:  make(map[string]map[string]bool),
	}
}

// Register adds a connection to the hub.
//
// Postcondition: Returns an error if the connection id is already
// registered.
func (h *Hub) Register(conn *Conn) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.conns[conn.ID()]; exists {
		return fmt.Errorf("connection %q already registered", conn.ID())
	}
	h.conns[conn.ID()] = conn
	return nil
}

// Unregister detaches the connection from every room and closes it.
// Unknown ids are a no-op.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, exists := h.conns[connID]
	if !exists {
		return
	}
	for roomID := range h.joins[connID] {
		h.detachLocked(connID, roomID)
	}
	delete(h.joins, connID)
	delete(h.conns, connID)
	conn.Close()
}

// JoinRoom attaches the connection to a room. Idempotent: re-joining
// reports already=true.
//
// Postcondition: Returns an error if the connection is not registered.
func (h *Hub) JoinRoom(connID, roomID string) (already bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.conns[connID]; !exists {
		return false, fmt.Errorf("connection %q not registered", connID)
	}
	already = h.joins[connID][roomID]
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[string]bool)
	}
	h.rooms[roomID][connID] = true
	if h.joins[connID] == nil {
		h.joins[connID] = make(map[string]bool)
	}
	h.joins[connID][roomID] = true
	return already, nil
}

// LeaveRoom detaches the connection from a room and reports whether it
// was attached. Unknown pairs are a no-op.
func (h *Hub) LeaveRoom(connID, roomID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	attached := h.joins[connID][roomID]
	h.detachLocked(connID, roomID)
	if set, ok := h.joins[connID]; ok {
		delete(set, roomID)
		if len(set) == 0 {
			delete(h.joins, connID)
		}
	}
	return attached
}

func (h *Hub) detachLocked(connID, roomID string) {
	if set, ok := h.rooms[roomID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// Broadcast pushes the frame to every connection attached to the room,
// skipping all connections of excludeIdentity. Exclusion is
// per-identity: a user's second tab does not receive events their
// first tab triggered.
//
// Postcondition: Returns the number of connections the frame was
// enqueued to. Full buffers are logged and skipped.
func (h *Hub) Broadcast(roomID, excludeIdentity string, frame []byte) int {
	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.rooms[roomID]))
	for connID := range h.rooms[roomID] {
		conn, ok := h.conns[connID]
		if !ok {
			continue
		}
		if excludeIdentity != "" && conn.IdentityID() == excludeIdentity {
			continue
		}
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range targets {
		if err := conn.Push(frame); err != nil {
			h.logger.Warn("dropping frame",
				zap.String("conn_id", conn.ID()),
				zap.String("room_id", roomID),
				zap.Error(err),
			)
			continue
		}
		delivered++
	}
	return delivered
}

// ConnCount returns the number of registered connections.
func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// RoomConnCount returns the number of connections attached to the room.
func (h *Hub) RoomConnCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}
