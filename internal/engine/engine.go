package engine

import (
	"errors"
	"fmt"
)

var ErrWrongTurn = errors.New("not this symbol's turn")
var ErrCellTaken = errors.New("cell already taken")
var ErrBadIndex = errors.New("cell index out of range")
var ErrBadSymbol = errors.New("unknown symbol")
var ErrGameOver = errors.New("game already concluded")

// BoardSize is the number of cells on a 3x3 board.
const BoardSize = 9

type Symbol string

const (
	Empty Symbol = ""
	X     Symbol = "X"
	O     Symbol = "O"
)

// Opponent returns the other playing symbol. Empty maps to Empty.
func (s Symbol) Opponent() Symbol {
	switch s {
	case X:
		return O
	case O:
		return X
	default:
		return Empty
	}
}

func (s Symbol) Valid() bool { return s == X || s == O }

func ParseSymbol(raw string) (Symbol, error) {
	switch Symbol(raw) {
	case X, O:
		return Symbol(raw), nil
	default:
		return Empty, fmt.Errorf("%w: %q", ErrBadSymbol, raw)
	}
}

// Board is indexed row-major; index is the only identity a cell has.
type Board [BoardSize]Symbol

type Outcome string

const (
	InProgress Outcome = "in_progress"
	XWins      Outcome = "X"
	OWins      Outcome = "O"
	Draw       Outcome = "draw"
)

// Decided reports whether the game can no longer continue.
func (o Outcome) Decided() bool { return o == XWins || o == OWins || o == Draw }

type State struct {
	Board   Board
	Turn    Symbol
	Outcome Outcome
}

type Command struct {
	Index  int
	Symbol Symbol
}

type EventType string

const (
	EvtMovePlaced   EventType = "MovePlaced"
	EvtTurnAdvanced EventType = "TurnAdvanced"
	EvtGameWon      EventType = "GameWon"
	EvtGameDrawn    EventType = "GameDrawn"
)

type Event struct {
	Type   EventType
	Index  int
	Symbol Symbol
}

// Apply validates cmd against s and returns the resulting events and state.
// The input state is never modified.
func Apply(s State, cmd Command) ([]Event, State, error) {
	if s.Outcome.Decided() {
		return nil, s, ErrGameOver
	}
	if err := ValidIndex(cmd.Index); err != nil {
		return nil, s, err
	}
	if !cmd.Symbol.Valid() {
		return nil, s, fmt.Errorf("%w: %q", ErrBadSymbol, cmd.Symbol)
	}
	if cmd.Symbol != s.Turn {
		return nil, s, ErrWrongTurn
	}
	if s.Board[cmd.Index] != Empty {
		return nil, s, ErrCellTaken
	}

	newState := s
	newState.Board[cmd.Index] = cmd.Symbol
	events := []Event{{Type: EvtMovePlaced, Index: cmd.Index, Symbol: cmd.Symbol}}

	newState.Outcome = CheckResult(newState.Board)
	switch newState.Outcome {
	case XWins, OWins:
		events = append(events, Event{Type: EvtGameWon, Symbol: cmd.Symbol})
	case Draw:
		events = append(events, Event{Type: EvtGameDrawn})
	default:
		newState.Turn = cmd.Symbol.Opponent()
		events = append(events, Event{Type: EvtTurnAdvanced, Symbol: newState.Turn})
	}
	return events, newState, nil
}

func ValidIndex(i int) error {
	if i < 0 || i >= BoardSize {
		return fmt.Errorf("%w: %d", ErrBadIndex, i)
	}
	return nil
}
