// Package transport tracks live connections and their room membership and
// fans outbound events out to one connection, a room, or a room minus the
// sender.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/DoyleJ11/tictactoe-backend/internal/types"
)

var (
	ErrSlowConsumer = errors.New("connection outbox full")
	ErrConnClosed   = errors.New("connection closed")
)

// Conn is one live connection. Send must not block.
type Conn interface {
	ID() string
	Send(data []byte) error
	// Close is called when the hub drops the connection.
	Close()
}

type Hub struct {
	mu      sync.RWMutex
	conns   map[string]Conn
	rooms   map[string]map[string]struct{}
	members map[string]string
	// idle is closed whenever no connection is registered.
	idle   chan struct{}
	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	idle := make(chan struct{})
	close(idle)
	return &Hub{
		conns:   make(map[string]Conn),
		rooms:   make(map[string]map[string]struct{}),
		members: make(map[string]string),
		idle:    idle,
		logger:  logger.With(zap.String("module", "transport")),
	}
}

func (h *Hub) Register(c Conn) {
	h.mu.Lock()
	if len(h.conns) == 0 {
		h.idle = make(chan struct{})
	}
	h.conns[c.ID()] = c
	n := len(h.conns)
	h.mu.Unlock()
	h.logger.Debug("connection registered", zap.String("conn_id", c.ID()), zap.Int("conns", n))
}

func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	if _, ok := h.conns[connID]; ok {
		delete(h.conns, connID)
		if len(h.conns) == 0 {
			close(h.idle)
		}
	}
	h.leaveLocked(connID)
	h.mu.Unlock()
	h.logger.Debug("connection unregistered", zap.String("conn_id", connID))
}

// Join binds connID to roomID, leaving any previous room.
func (h *Hub) Join(connID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveLocked(connID)
	members, ok := h.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[roomID] = members
	}
	members[connID] = struct{}{}
	h.members[connID] = roomID
}

func (h *Hub) Leave(connID string) {
	h.mu.Lock()
	h.leaveLocked(connID)
	h.mu.Unlock()
}

func (h *Hub) leaveLocked(connID string) {
	roomID, ok := h.members[connID]
	if !ok {
		return
	}
	delete(h.members, connID)
	members := h.rooms[roomID]
	delete(members, connID)
	if len(members) == 0 {
		delete(h.rooms, roomID)
	}
}

// RoomOf returns the room connID is bound to, if any.
func (h *Hub) RoomOf(connID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	roomID, ok := h.members[connID]
	return roomID, ok
}

func (h *Hub) Emit(connID string, msg types.ServerMessage) {
	data, ok := h.encode(msg)
	if !ok {
		return
	}
	h.mu.RLock()
	c, found := h.conns[connID]
	h.mu.RUnlock()
	if found {
		h.deliver([]Conn{c}, data)
	}
}

func (h *Hub) EmitRoom(roomID string, msg types.ServerMessage) {
	h.EmitRoomExcept(roomID, "", msg)
}

func (h *Hub) EmitRoomExcept(roomID, exceptConnID string, msg types.ServerMessage) {
	data, ok := h.encode(msg)
	if !ok {
		return
	}
	h.mu.RLock()
	targets := make([]Conn, 0, len(h.rooms[roomID]))
	for id := range h.rooms[roomID] {
		if id == exceptConnID {
			continue
		}
		if c, found := h.conns[id]; found {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	h.deliver(targets, data)
}

// deliver sends data to each target. A connection whose outbox is full is
// dropped and closed.
func (h *Hub) deliver(targets []Conn, data []byte) {
	for _, c := range targets {
		if err := c.Send(data); err != nil {
			h.logger.Warn("dropping connection", zap.String("conn_id", c.ID()), zap.Error(err))
			h.Unregister(c.ID())
			c.Close()
		}
	}
}

func (h *Hub) encode(msg types.ServerMessage) ([]byte, bool) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encode server message", zap.String("event", msg.Event), zap.Error(err))
		return nil, false
	}
	return data, true
}

// Wait blocks until every registered connection has been unregistered or
// ctx is done.
func (h *Hub) Wait(ctx context.Context) error {
	h.mu.RLock()
	idle := h.idle
	h.mu.RUnlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats reports bound rooms and live connections.
func (h *Hub) Stats() (rooms, conns int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms), len(h.conns)
}
