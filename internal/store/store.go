// Package store defines the durable record of rooms and seats that survives
// process restarts. The in-memory registry is rebuilt from it on demand.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/DoyleJ11/tictactoe-backend/internal/engine"
)

var (
	// ErrConstraint covers identifier collisions and seats that reference a
	// room that does not exist.
	ErrConstraint = errors.New("store constraint violation")
	ErrNotFound   = errors.New("store record not found")
)

type CleanupResult string

const (
	CleanupDeleted  CleanupResult = "deleted"
	CleanupRetained CleanupResult = "retained"
	CleanupNotFound CleanupResult = "not_found"
)

type RoomRecord struct {
	RoomID    string
	CreatedAt time.Time
	Board     engine.Board
	Active    bool
	// Winner is nil until a game in this room is decided.
	Winner *engine.Outcome
}

type PlayerRecord struct {
	ConnectionID string
	Username     string
	RoomID       string
	Symbol       engine.Symbol
}

type RoomWithPlayers struct {
	Room    RoomRecord
	Players []PlayerRecord
}

// Stats are aggregate counts for the read-only stats endpoint.
type Stats struct {
	Rooms     int64 `json:"totalRooms"`
	Players   int64 `json:"totalPlayers"`
	FullRooms int64 `json:"activeGames"`
}

type Store interface {
	// CreateRoom inserts an empty, active room. A duplicate id is ErrConstraint.
	CreateRoom(ctx context.Context, roomID string) error
	// AddPlayer seats a connection. A duplicate connection or a missing room
	// is ErrConstraint.
	AddPlayer(ctx context.Context, p PlayerRecord) error
	// GetRoomWithPlayers returns nil, nil when the room does not exist.
	// Players are ordered X before O.
	GetRoomWithPlayers(ctx context.Context, roomID string) (*RoomWithPlayers, error)
	// RemovePlayer deletes the seat if present.
	RemovePlayer(ctx context.Context, connectionID string) error
	// DeleteRoomIfEmpty counts seats and deletes the room when none remain,
	// as one atomic step.
	DeleteRoomIfEmpty(ctx context.Context, roomID string) (CleanupResult, error)
	UpdateBoard(ctx context.Context, roomID string, board engine.Board) error
	GetBoard(ctx context.Context, roomID string) (engine.Board, error)
	// RecordWinner stores the outcome and marks the room inactive.
	RecordWinner(ctx context.Context, roomID string, outcome engine.Outcome) error
	// ResetGame empties the board, clears the winner and reactivates the room.
	ResetGame(ctx context.Context, roomID string) error
	Stats(ctx context.Context) (Stats, error)
	// CleanupOrphans deletes seats whose room no longer exists.
	CleanupOrphans(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}
