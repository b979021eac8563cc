// Package registry holds the in-process view of active rooms and the
// connection to display-name lookup. A single goroutine owns both maps;
// every operation is a message on its inbox.
package registry

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/DoyleJ11/tictactoe-backend/internal/engine"
)

var (
	ErrDuplicateRoom = errors.New("room already exists")
	ErrNotFound      = errors.New("room not found")
	ErrClosed        = errors.New("registry closed")
)

type Phase string

const (
	AwaitingSecondPlayer Phase = "awaiting_second_player"
	InProgress           Phase = "in_progress"
	AwaitingRestart      Phase = "awaiting_restart"
	Concluded            Phase = "concluded"
)

type Seat struct {
	ConnID string
	Name   string
	Symbol engine.Symbol
}

// Room is a snapshot; mutating it does not affect the registry.
type Room struct {
	ID     string
	Board  engine.Board
	Seats  []Seat
	Phase  Phase
	Winner engine.Outcome
}

// Seated reports whether connID holds a seat and which symbol it plays.
func (r Room) Seated(connID string) (engine.Symbol, bool) {
	for _, s := range r.Seats {
		if s.ConnID == connID {
			return s.Symbol, true
		}
	}
	return engine.Empty, false
}

func (r Room) clone() Room {
	r.Seats = append([]Seat(nil), r.Seats...)
	return r
}

type Registry struct {
	inbox  chan msg
	rooms  map[string]*Room
	names  map[string]string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	logger *zap.Logger
}

func New(parent context.Context, logger *zap.Logger) *Registry {
	ctx, cancel := context.WithCancel(parent)
	r := &Registry{
		inbox:  make(chan msg, 64),
		rooms:  make(map[string]*Room),
		names:  make(map[string]string),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		logger: logger.With(zap.String("module", "registry")),
	}
	go r.loop()
	return r
}

// Shutdown stops the owning goroutine and waits for it to exit. Pending and
// later calls fail with ErrClosed.
func (r *Registry) Shutdown() {
	r.cancel()
	<-r.done
}

func (r *Registry) loop() {
	defer close(r.done)
	for {
		select {
		case <-r.ctx.Done():
			r.logger.Debug("registry stopped", zap.Int("rooms", len(r.rooms)))
			clear(r.rooms)
			clear(r.names)
			return

		case m := <-r.inbox:
			r.handle(m)
		}
	}
}

func (r *Registry) handle(m msg) {
	switch msg := m.(type) {
	case createRoom:
		if _, ok := r.rooms[msg.ID]; ok {
			msg.Reply <- result{err: ErrDuplicateRoom}
			break
		}
		room := &Room{ID: msg.ID, Board: msg.Board, Phase: AwaitingSecondPlayer, Winner: engine.InProgress}
		r.rooms[msg.ID] = room
		msg.Reply <- result{room: room.clone()}

	case getRoom:
		r.withRoom(msg.ID, msg.Reply, func(*Room) {})

	case addOccupant:
		r.withRoom(msg.ID, msg.Reply, func(room *Room) {
			room.Seats = append(room.Seats, msg.Seat)
			if len(room.Seats) >= 2 && room.Phase == AwaitingSecondPlayer {
				room.Phase = InProgress
			}
		})

	case applyMove:
		r.withRoom(msg.ID, msg.Reply, func(room *Room) {
			room.Board[msg.Index] = msg.Symbol
		})

	case removeOccupant:
		r.withRoom(msg.ID, msg.Reply, func(room *Room) {
			kept := room.Seats[:0]
			for _, s := range room.Seats {
				if s.ConnID != msg.ConnID {
					kept = append(kept, s)
				}
			}
			room.Seats = kept
			if len(room.Seats) < 2 && room.Phase != Concluded {
				room.Phase = AwaitingSecondPlayer
			}
		})

	case deleteRoom:
		_, ok := r.rooms[msg.ID]
		delete(r.rooms, msg.ID)
		msg.Reply <- ok

	case roomOf:
		for _, room := range r.rooms {
			if _, ok := room.Seated(msg.ConnID); ok {
				msg.Reply <- result{room: room.clone()}
				return
			}
		}
		msg.Reply <- result{err: ErrNotFound}

	case resetBoard:
		r.withRoom(msg.ID, msg.Reply, func(room *Room) {
			room.Board = engine.Board{}
			room.Winner = engine.InProgress
		})

	case setPhase:
		r.withRoom(msg.ID, msg.Reply, func(room *Room) {
			room.Phase = msg.Phase
		})

	case conclude:
		room, ok := r.rooms[msg.ID]
		if !ok {
			msg.Reply <- result{err: ErrNotFound}
			break
		}
		// Only the first conclusion of a game counts.
		changed := room.Phase != Concluded
		if changed {
			room.Phase = Concluded
			room.Winner = msg.Outcome
		}
		msg.Reply <- result{room: room.clone(), changed: changed}

	case hydrate:
		if room, ok := r.rooms[msg.ID]; ok {
			msg.Reply <- result{room: room.clone()}
			break
		}
		room := &Room{
			ID:     msg.ID,
			Board:  msg.Board,
			Seats:  append([]Seat(nil), msg.Seats...),
			Phase:  AwaitingSecondPlayer,
			Winner: engine.CheckResult(msg.Board),
		}
		switch {
		case room.Winner.Decided():
			room.Phase = Concluded
		case len(room.Seats) >= 2:
			room.Phase = InProgress
		}
		r.rooms[msg.ID] = room
		r.logger.Debug("room hydrated from store", zap.String("room_id", msg.ID), zap.Int("seats", len(room.Seats)))
		msg.Reply <- result{room: room.clone()}

	case setName:
		r.names[msg.ConnID] = msg.Name
		msg.Reply <- true

	case getName:
		name, ok := r.names[msg.ConnID]
		msg.Reply <- nameResult{name: name, ok: ok}

	case removeName:
		_, ok := r.names[msg.ConnID]
		delete(r.names, msg.ConnID)
		msg.Reply <- ok

	case length:
		msg.Reply <- len(r.rooms)
	}
}

// withRoom runs fn against the named room and replies with the updated snapshot.
func (r *Registry) withRoom(id string, reply chan result, fn func(*Room)) {
	room, ok := r.rooms[id]
	if !ok {
		reply <- result{err: ErrNotFound}
		return
	}
	fn(room)
	reply <- result{room: room.clone()}
}
