// Package memstore is an in-process store.Store for development and tests.
package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/DoyleJ11/tictactoe-backend/internal/engine"
	"github.com/DoyleJ11/tictactoe-backend/internal/store"
)

type Store struct {
	mu      sync.Mutex
	rooms   map[string]*store.RoomRecord
	players map[string]store.PlayerRecord
	now     func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		rooms:   make(map[string]*store.RoomRecord),
		players: make(map[string]store.PlayerRecord),
		now:     time.Now,
	}
}

func (s *Store) CreateRoom(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[roomID]; ok {
		return fmt.Errorf("room %s: %w", roomID, store.ErrConstraint)
	}
	s.rooms[roomID] = &store.RoomRecord{RoomID: roomID, CreatedAt: s.now().UTC(), Active: true}
	return nil
}

func (s *Store) AddPlayer(_ context.Context, p store.PlayerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.players[p.ConnectionID]; ok {
		return fmt.Errorf("player %s: %w", p.ConnectionID, store.ErrConstraint)
	}
	if _, ok := s.rooms[p.RoomID]; !ok {
		return fmt.Errorf("player %s references room %s: %w", p.ConnectionID, p.RoomID, store.ErrConstraint)
	}
	s.players[p.ConnectionID] = p
	return nil
}

func (s *Store) GetRoomWithPlayers(_ context.Context, roomID string) (*store.RoomWithPlayers, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, nil
	}
	out := &store.RoomWithPlayers{Room: *room}
	if room.Winner != nil {
		w := *room.Winner
		out.Room.Winner = &w
	}
	for _, p := range s.players {
		if p.RoomID == roomID {
			out.Players = append(out.Players, p)
		}
	}
	slices.SortFunc(out.Players, func(a, b store.PlayerRecord) int {
		return cmp.Or(cmp.Compare(a.Symbol, b.Symbol)*-1, cmp.Compare(a.ConnectionID, b.ConnectionID))
	})
	return out, nil
}

func (s *Store) RemovePlayer(_ context.Context, connectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.players, connectionID)
	return nil
}

func (s *Store) DeleteRoomIfEmpty(_ context.Context, roomID string) (store.CleanupResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[roomID]; !ok {
		return store.CleanupNotFound, nil
	}
	for _, p := range s.players {
		if p.RoomID == roomID {
			return store.CleanupRetained, nil
		}
	}
	delete(s.rooms, roomID)
	return store.CleanupDeleted, nil
}

func (s *Store) UpdateBoard(_ context.Context, roomID string, board engine.Board) error {
	return s.mutate(roomID, func(r *store.RoomRecord) { r.Board = board })
}

func (s *Store) GetBoard(_ context.Context, roomID string) (engine.Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return engine.Board{}, fmt.Errorf("room %s: %w", roomID, store.ErrNotFound)
	}
	return room.Board, nil
}

func (s *Store) RecordWinner(_ context.Context, roomID string, outcome engine.Outcome) error {
	return s.mutate(roomID, func(r *store.RoomRecord) {
		r.Winner = &outcome
		r.Active = false
	})
}

func (s *Store) ResetGame(_ context.Context, roomID string) error {
	return s.mutate(roomID, func(r *store.RoomRecord) {
		r.Board = engine.Board{}
		r.Winner = nil
		r.Active = true
	})
}

func (s *Store) Stats(_ context.Context) (store.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seats := make(map[string]int, len(s.rooms))
	for _, p := range s.players {
		seats[p.RoomID]++
	}
	st := store.Stats{Rooms: int64(len(s.rooms)), Players: int64(len(s.players))}
	for id, n := range seats {
		if _, ok := s.rooms[id]; ok && n == 2 {
			st.FullRooms++
		}
	}
	return st, nil
}

func (s *Store) CleanupOrphans(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, p := range s.players {
		if _, ok := s.rooms[p.RoomID]; !ok {
			delete(s.players, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func (s *Store) mutate(roomID string, fn func(*store.RoomRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return fmt.Errorf("room %s: %w", roomID, store.ErrNotFound)
	}
	fn(room)
	return nil
}
