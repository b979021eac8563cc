package registry

import (
	"context"

	"github.com/DoyleJ11/tictactoe-backend/internal/engine"
)

type msg interface{ isRegistryMsg() }

type result struct {
	room    Room
	changed bool
	err     error
}

type nameResult struct {
	name string
	ok   bool
}

type createRoom struct {
	ID    string
	Board engine.Board
	Reply chan result
}

type getRoom struct {
	ID    string
	Reply chan result
}

type addOccupant struct {
	ID    string
	Seat  Seat
	Reply chan result
}

type applyMove struct {
	ID     string
	Index  int
	Symbol engine.Symbol
	Reply  chan result
}

type removeOccupant struct {
	ID     string
	ConnID string
	Reply  chan result
}

type deleteRoom struct {
	ID    string
	Reply chan bool
}

type roomOf struct {
	ConnID string
	Reply  chan result
}

type resetBoard struct {
	ID    string
	Reply chan result
}

type setPhase struct {
	ID    string
	Phase Phase
	Reply chan result
}

type conclude struct {
	ID      string
	Outcome engine.Outcome
	Reply   chan result
}

type hydrate struct {
	ID    string
	Board engine.Board
	Seats []Seat
	Reply chan result
}

type setName struct {
	ConnID string
	Name   string
	Reply  chan bool
}

type getName struct {
	ConnID string
	Reply  chan nameResult
}

type removeName struct {
	ConnID string
	Reply  chan bool
}

type length struct {
	Reply chan int
}

func (createRoom) isRegistryMsg()     {}
func (getRoom) isRegistryMsg()        {}
func (addOccupant) isRegistryMsg()    {}
func (applyMove) isRegistryMsg()      {}
func (removeOccupant) isRegistryMsg() {}
func (deleteRoom) isRegistryMsg()     {}
func (roomOf) isRegistryMsg()         {}
func (resetBoard) isRegistryMsg()     {}
func (setPhase) isRegistryMsg()       {}
func (conclude) isRegistryMsg()       {}
func (hydrate) isRegistryMsg()        {}
func (setName) isRegistryMsg()        {}
func (getName) isRegistryMsg()        {}
func (removeName) isRegistryMsg()     {}
func (length) isRegistryMsg()         {}

// call posts m and waits for the loop to answer on reply.
func call[T any](ctx context.Context, r *Registry, m msg, reply chan T) (T, error) {
	var zero T
	select {
	case r.inbox <- m:
	case <-r.ctx.Done():
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-r.ctx.Done():
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func roomCall(ctx context.Context, r *Registry, m msg, reply chan result) (Room, error) {
	res, err := call(ctx, r, m, reply)
	if err != nil {
		return Room{}, err
	}
	return res.room, res.err
}

func (r *Registry) CreateRoom(ctx context.Context, id string, board engine.Board) (Room, error) {
	reply := make(chan result, 1)
	return roomCall(ctx, r, createRoom{ID: id, Board: board, Reply: reply}, reply)
}

func (r *Registry) GetRoom(ctx context.Context, id string) (Room, error) {
	reply := make(chan result, 1)
	return roomCall(ctx, r, getRoom{ID: id, Reply: reply}, reply)
}

// AddOccupant appends a seat. The two-seat cap is the caller's responsibility.
func (r *Registry) AddOccupant(ctx context.Context, id string, seat Seat) (Room, error) {
	reply := make(chan result, 1)
	return roomCall(ctx, r, addOccupant{ID: id, Seat: seat, Reply: reply}, reply)
}

// ApplyMove writes symbol at index with no turn or occupancy checks.
func (r *Registry) ApplyMove(ctx context.Context, id string, index int, symbol engine.Symbol) (Room, error) {
	if err := engine.ValidIndex(index); err != nil {
		return Room{}, err
	}
	reply := make(chan result, 1)
	return roomCall(ctx, r, applyMove{ID: id, Index: index, Symbol: symbol, Reply: reply}, reply)
}

// RemoveOccupant drops connID's seat and returns how many seats remain.
func (r *Registry) RemoveOccupant(ctx context.Context, id, connID string) (int, error) {
	reply := make(chan result, 1)
	room, err := roomCall(ctx, r, removeOccupant{ID: id, ConnID: connID, Reply: reply}, reply)
	if err != nil {
		return 0, err
	}
	return len(room.Seats), nil
}

// DeleteRoom reports whether an entry was removed.
func (r *Registry) DeleteRoom(ctx context.Context, id string) (bool, error) {
	reply := make(chan bool, 1)
	return call(ctx, r, deleteRoom{ID: id, Reply: reply}, reply)
}

// RoomOf scans active rooms for the one seating connID.
func (r *Registry) RoomOf(ctx context.Context, connID string) (Room, error) {
	reply := make(chan result, 1)
	return roomCall(ctx, r, roomOf{ConnID: connID, Reply: reply}, reply)
}

func (r *Registry) ResetBoard(ctx context.Context, id string) (Room, error) {
	reply := make(chan result, 1)
	return roomCall(ctx, r, resetBoard{ID: id, Reply: reply}, reply)
}

func (r *Registry) SetPhase(ctx context.Context, id string, phase Phase) (Room, error) {
	reply := make(chan result, 1)
	return roomCall(ctx, r, setPhase{ID: id, Phase: phase, Reply: reply}, reply)
}

// Conclude marks the game decided. changed is false when the room was
// already concluded; the recorded winner is then left as it was.
func (r *Registry) Conclude(ctx context.Context, id string, outcome engine.Outcome) (room Room, changed bool, err error) {
	reply := make(chan result, 1)
	res, err := call(ctx, r, conclude{ID: id, Outcome: outcome, Reply: reply}, reply)
	if err != nil {
		return Room{}, false, err
	}
	return res.room, res.changed, res.err
}

// Hydrate registers a room rebuilt from durable state. An entry that is
// already live wins; its board and seats are returned untouched.
func (r *Registry) Hydrate(ctx context.Context, id string, board engine.Board, seats []Seat) (Room, error) {
	reply := make(chan result, 1)
	return roomCall(ctx, r, hydrate{ID: id, Board: board, Seats: seats, Reply: reply}, reply)
}

func (r *Registry) SetName(ctx context.Context, connID, name string) error {
	reply := make(chan bool, 1)
	_, err := call(ctx, r, setName{ConnID: connID, Name: name, Reply: reply}, reply)
	return err
}

func (r *Registry) Name(ctx context.Context, connID string) (string, bool, error) {
	reply := make(chan nameResult, 1)
	res, err := call(ctx, r, getName{ConnID: connID, Reply: reply}, reply)
	return res.name, res.ok, err
}

func (r *Registry) RemoveName(ctx context.Context, connID string) error {
	reply := make(chan bool, 1)
	_, err := call(ctx, r, removeName{ConnID: connID, Reply: reply}, reply)
	return err
}

func (r *Registry) Len(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	return call(ctx, r, length{Reply: reply}, reply)
}
