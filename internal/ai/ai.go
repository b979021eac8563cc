// Package ai picks moves for the single-player opponent.
package ai

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/DoyleJ11/tictactoe-backend/internal/engine"
)

type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

// mediumBestRatio is how often medium plays the minimax move.
const mediumBestRatio = 0.7

func ParseDifficulty(s string) (Difficulty, error) {
	switch Difficulty(s) {
	case Easy, Medium, Hard:
		return Difficulty(s), nil
	default:
		return "", fmt.Errorf("unknown difficulty %q", s)
	}
}

// Chooser returns the cell index to play as me, or -1 if the board is full.
type Chooser interface {
	Choose(b engine.Board, me engine.Symbol) int
}

type Player struct {
	difficulty Difficulty
	rng        *rand.Rand
}

// New returns a Player. A nil rng uses a randomly seeded source.
func New(d Difficulty, rng *rand.Rand) *Player {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Player{difficulty: d, rng: rng}
}

func (p *Player) Choose(b engine.Board, me engine.Symbol) int {
	switch p.difficulty {
	case Hard:
		return BestMove(b, me)
	case Medium:
		if p.rng.Float64() < mediumBestRatio {
			return BestMove(b, me)
		}
		return p.randomMove(b)
	default:
		return p.randomMove(b)
	}
}

func (p *Player) randomMove(b engine.Board) int {
	open := b.EmptyCells()
	if len(open) == 0 {
		return -1
	}
	return open[p.rng.IntN(len(open))]
}

// BestMove runs a full minimax search. Ties go to the lowest index.
func BestMove(b engine.Board, me engine.Symbol) int {
	best, bestScore := -1, math.MinInt
	for _, i := range b.EmptyCells() {
		b[i] = me
		score := minimax(b, me, 0, false)
		b[i] = engine.Empty
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

func minimax(b engine.Board, me engine.Symbol, depth int, maximizing bool) int {
	switch engine.CheckResult(b) {
	case engine.Outcome(me):
		return 10 - depth
	case engine.Outcome(me.Opponent()):
		return depth - 10
	case engine.Draw:
		return 0
	}

	if maximizing {
		best := math.MinInt
		for _, i := range b.EmptyCells() {
			b[i] = me
			best = max(best, minimax(b, me, depth+1, false))
			b[i] = engine.Empty
		}
		return best
	}
	best := math.MaxInt
	for _, i := range b.EmptyCells() {
		b[i] = me.Opponent()
		best = min(best, minimax(b, me, depth+1, true))
		b[i] = engine.Empty
	}
	return best
}
