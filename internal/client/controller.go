// Package client mirrors one player's view of a game. The same controller
// drives networked play, where a server relays moves, and single-player
// play against a local ai.Chooser.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/DoyleJ11/tictactoe-backend/internal/ai"
	"github.com/DoyleJ11/tictactoe-backend/internal/engine"
	"github.com/DoyleJ11/tictactoe-backend/internal/types"
)

var ErrInactive = errors.New("game is not active")

const (
	StatusYourTurn         = "Your turn!"
	StatusOpponentTurn     = "Opponent's turn..."
	StatusYouWin           = "You win!"
	StatusOpponentWins     = "Opponent wins!"
	StatusDraw             = "Draw!"
	StatusOpponentLeft     = "Opponent disconnected. Waiting for new player..."
	StatusRoomFull         = "Game room is full. Please try again later."
	StatusInvalidRoom      = "Invalid room code."
	DefaultAIDelay         = 500 * time.Millisecond
	waitingForOpponentText = "You are %s. Waiting for opponent..."
)

// Emitter sends one event to the server.
type Emitter interface {
	Emit(ctx context.Context, event string, data any) error
}

type Snapshot struct {
	Board   engine.Board
	Me      engine.Symbol
	Turn    engine.Symbol
	Active  bool
	Status  string
	RoomID  string
	Outcome engine.Outcome
	Winning [3]int
}

type Controller struct {
	mu     sync.Mutex
	state  engine.State
	me     engine.Symbol
	active bool
	status string
	roomID string

	emitter  Emitter
	opponent ai.Chooser
	aiDelay  time.Duration
	onChange func(Snapshot)
}

type Option func(*Controller)

// WithObserver registers fn to receive a snapshot after every state change.
// fn runs on the goroutine that caused the change.
func WithObserver(fn func(Snapshot)) Option {
	return func(c *Controller) { c.onChange = fn }
}

// NewNetworked returns a controller that learns its seat from the server.
func NewNetworked(em Emitter, opts ...Option) *Controller {
	c := &Controller{emitter: em, state: engine.NewState()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NewSinglePlayer seats the human as X against opponent. The opponent moves
// delay after each human move.
func NewSinglePlayer(opponent ai.Chooser, delay time.Duration, opts ...Option) *Controller {
	c := &Controller{
		opponent: opponent,
		aiDelay:  delay,
		state:    engine.NewState(),
		me:       engine.X,
		active:   true,
		status:   StatusYourTurn,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		Board:   c.state.Board,
		Me:      c.me,
		Turn:    c.state.Turn,
		Active:  c.active,
		Status:  c.status,
		RoomID:  c.roomID,
		Outcome: c.state.Outcome,
	}
	s.Winning, _ = engine.WinningLine(c.state.Board)
	return s
}

// unlockAndNotify releases the lock and hands the observer the state as of
// the release.
func (c *Controller) unlockAndNotify() {
	snap := c.snapshotLocked()
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

func (c *Controller) CreateRoom(ctx context.Context, username string) error {
	if c.emitter == nil {
		return errors.New("create room: no server connection")
	}
	return c.emitter.Emit(ctx, types.EventCreateRoom, types.CreateRoomPayload{Username: username})
}

func (c *Controller) JoinRoom(ctx context.Context, username, roomID string) error {
	if c.emitter == nil {
		return errors.New("join room: no server connection")
	}
	return c.emitter.Emit(ctx, types.EventJoinRoom, types.JoinRoomPayload{Username: username, RoomID: roomID})
}

// Play attempts a local move. An inactive game or a move engine.Apply
// refuses (game over, occupied cell, opponent's turn) is rejected before
// anything is sent. In single-player mode Play also waits for and applies
// the opponent's reply.
func (c *Controller) Play(ctx context.Context, index int) error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return ErrInactive
	}
	if c.me == engine.Empty {
		c.mu.Unlock()
		return engine.ErrWrongTurn
	}
	me, room := c.me, c.roomID
	events, next, err := engine.Apply(c.state, engine.Command{Index: index, Symbol: me})
	if err != nil {
		c.mu.Unlock()
		return err
	}

	if c.emitter != nil {
		// The lock is held across the send so a relayed reply cannot be
		// applied before our own move.
		err := c.emitter.Emit(ctx, types.EventMove, types.MovePayload{Index: &index, Symbol: string(me), Room: room})
		if err != nil {
			c.mu.Unlock()
			return fmt.Errorf("send move: %w", err)
		}
	}
	c.commitLocked(events, next)
	aiTurn := c.opponent != nil && c.active
	c.unlockAndNotify()

	if aiTurn {
		return c.opponentMove(ctx)
	}
	return nil
}

func (c *Controller) opponentMove(ctx context.Context) error {
	if c.aiDelay > 0 {
		t := time.NewTimer(c.aiDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}

	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return nil
	}
	index := c.opponent.Choose(c.state.Board, c.state.Turn)
	if index < 0 {
		c.mu.Unlock()
		return nil
	}
	if err := c.applyLocked(index, c.state.Turn); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("opponent move: %w", err)
	}
	c.unlockAndNotify()
	return nil
}

// applyLocked is the single move path for remote and AI moves.
func (c *Controller) applyLocked(index int, symbol engine.Symbol) error {
	events, next, err := engine.Apply(c.state, engine.Command{Index: index, Symbol: symbol})
	if err != nil {
		return err
	}
	c.commitLocked(events, next)
	return nil
}

// commitLocked installs next and derives the status from the move's events.
func (c *Controller) commitLocked(events []engine.Event, next engine.State) {
	c.state = next
	for _, ev := range events {
		switch ev.Type {
		case engine.EvtGameWon:
			c.active = false
			if ev.Symbol == c.me {
				c.status = StatusYouWin
			} else {
				c.status = StatusOpponentWins
			}
		case engine.EvtGameDrawn:
			c.active = false
			c.status = StatusDraw
		case engine.EvtTurnAdvanced:
			if c.active {
				c.status = c.turnStatusLocked()
			}
		}
	}
}

// settleLocked sets active and status for a board loaded from the server.
func (c *Controller) settleLocked() {
	switch c.state.Outcome {
	case engine.XWins, engine.OWins:
		c.active = false
		if engine.Symbol(c.state.Outcome) == c.me {
			c.status = StatusYouWin
		} else {
			c.status = StatusOpponentWins
		}
	case engine.Draw:
		c.active = false
		c.status = StatusDraw
	default:
		c.status = c.turnStatusLocked()
	}
}

func (c *Controller) turnStatusLocked() string {
	if c.state.Turn == c.me {
		return StatusYourTurn
	}
	return StatusOpponentTurn
}

// Restart clears the board and hands the first move to X. Networked
// controllers also ask the server to reset the room.
func (c *Controller) Restart(ctx context.Context) error {
	c.mu.Lock()
	if c.emitter != nil {
		if err := c.emitter.Emit(ctx, types.EventRestartRequest, nil); err != nil {
			c.mu.Unlock()
			return fmt.Errorf("send restart: %w", err)
		}
	}
	c.state = engine.NewState()
	c.active = true
	c.status = c.turnStatusLocked()
	c.unlockAndNotify()
	return nil
}

// HandleEvent applies one server event to the mirror. Unknown events are
// ignored.
func (c *Controller) HandleEvent(event string, data json.RawMessage) error {
	msg := types.ClientMessage{Event: event, Data: data}

	c.mu.Lock()
	var err error
	switch event {
	case types.EventRoomCreated:
		var p types.RoomCreatedPayload
		if err = msg.Decode(&p); err == nil {
			c.roomID = p.RoomID
		}

	case types.EventPlayerAssigned:
		var s string
		if err = msg.Decode(&s); err == nil {
			var sym engine.Symbol
			if sym, err = engine.ParseSymbol(s); err == nil {
				c.me = sym
				c.state.Turn = c.state.Board.NextSymbol()
				c.status = fmt.Sprintf(waitingForOpponentText, sym)
			}
		}

	case types.EventJoinedRoom:
		var p types.JoinedRoomPayload
		if err = msg.Decode(&p); err == nil {
			c.roomID = p.RoomID
			err = c.loadBoardLocked(p.GameState)
		}

	case types.EventStartGame:
		var p types.StartGamePayload
		if err = msg.Decode(&p); err == nil {
			if p.GameState != nil {
				err = c.loadBoardLocked(p.GameState)
			}
			if err == nil {
				c.active = true
				c.settleLocked()
			}
		}

	case types.EventMove:
		var p types.MovePayload
		if err = msg.Decode(&p); err == nil {
			err = c.remoteMoveLocked(p)
		}

	case types.EventPlayerDisconnected:
		c.active = false
		c.status = StatusOpponentLeft

	case types.EventRoomFull:
		c.roomID = ""
		c.status = StatusRoomFull

	case types.EventInvalidRoom:
		c.roomID = ""
		c.status = StatusInvalidRoom

	case types.EventError:
		var p types.ErrorPayload
		if err = msg.Decode(&p); err == nil {
			c.status = "Error: " + p.Message
		}

	default:
		c.mu.Unlock()
		return nil
	}

	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%s: %w", event, err)
	}
	c.unlockAndNotify()
	return nil
}

func (c *Controller) loadBoardLocked(cells []string) error {
	b, err := engine.BoardFromStrings(cells)
	if err != nil {
		return err
	}
	c.state = engine.State{Board: b, Turn: b.NextSymbol(), Outcome: engine.CheckResult(b)}
	return nil
}

func (c *Controller) remoteMoveLocked(p types.MovePayload) error {
	if p.Index == nil {
		return errors.New("move without index")
	}
	if err := engine.ValidIndex(*p.Index); err != nil {
		return err
	}
	sym, err := engine.ParseSymbol(p.Symbol)
	if err != nil {
		return err
	}
	return c.applyLocked(*p.Index, sym)
}
