package engine

func NewState() State {
	return State{Turn: X, Outcome: InProgress}
}

// CheckResult evaluates the board after a move.
func CheckResult(b Board) Outcome {
	if line, ok := WinningLine(b); ok {
		return Outcome(b[line[0]])
	}
	if b.Full() {
		return Draw
	}
	return InProgress
}

// WinningLine returns the first line whose three cells hold the same symbol.
func WinningLine(b Board) ([3]int, bool) {
	for _, line := range WinLines {
		a := b[line[0]]
		if a != Empty && a == b[line[1]] && a == b[line[2]] {
			return line, true
		}
	}
	return [3]int{}, false
}

func (b Board) Full() bool {
	for _, c := range b {
		if c == Empty {
			return false
		}
	}
	return true
}

func (b Board) MoveCount() int {
	n := 0
	for _, c := range b {
		if c != Empty {
			n++
		}
	}
	return n
}

// NextSymbol derives whose turn it is from move-count parity. X always opens.
func (b Board) NextSymbol() Symbol {
	if b.MoveCount()%2 == 0 {
		return X
	}
	return O
}

// EmptyCells returns the indexes still open, in ascending order.
func (b Board) EmptyCells() []int {
	out := make([]int, 0, BoardSize)
	for i, c := range b {
		if c == Empty {
			out = append(out, i)
		}
	}
	return out
}

// Strings renders the board as the 9-slot wire/storage form ("" for empty).
func (b Board) Strings() []string {
	out := make([]string, BoardSize)
	for i, c := range b {
		out[i] = string(c)
	}
	return out
}

// BoardFromStrings is the inverse of Strings. Unknown values and a wrong
// length are rejected so a corrupt record never yields a malformed board.
func BoardFromStrings(cells []string) (Board, error) {
	var b Board
	if len(cells) != BoardSize {
		return b, ErrBadIndex
	}
	for i, c := range cells {
		switch Symbol(c) {
		case Empty, X, O:
			b[i] = Symbol(c)
		default:
			return Board{}, ErrBadSymbol
		}
	}
	return b, nil
}
