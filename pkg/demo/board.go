package demo

import (
	"errors"
	"fmt"
	"strings"
)

// Mark is the content of a cell.
type Mark int

const (
	Empty Mark = iota
	X
	O
)

func (m Mark) String() string {
	switch m {
	case X:
		return "X"
	case O:
		return "O"
	}
	return " "
}

// Other returns the opponent of m.
func (m Mark) Other() Mark {
	if m == X {
		return O
	}
	return X
}

// Location is a cell, zero-based.
type Location struct {
	Row int
	Col int
}

// Option is the label players pick from, e.g. "row 1 column 3".
func (l Location) Option() string {
	return fmt.Sprintf("row %d column %d", l.Row+1, l.Col+1)
}

var (
	ErrOccupied    = errors.New("location is already used by a player")
	ErrNotYourTurn = errors.New("it is not your turn")
	ErrOutOfBoard  = errors.New("location is outside the board")
	ErrGameOver    = errors.New("the game is over")
)

// Board is a 3x3 tic-tac-toe game. It is not safe for concurrent use.
type Board struct {
	cells [3][3]Mark
	turn  Mark
}

// NewBoard returns an empty board where X plays first.
func NewBoard() *Board {
	return &Board{turn: X}
}

func (b *Board) Turn() Mark { return b.turn }

func (b *Board) At(l Location) Mark { return b.cells[l.Row][l.Col] }

// Free returns the empty cells in row-major order.
func (b *Board) Free() []Location {
	var out []Location
	for row := range 3 {
		for col := range 3 {
			if b.cells[row][col] == Empty {
				out = append(out, Location{Row: row, Col: col})
			}
		}
	}
	return out
}

// Play puts m on l and passes the turn.
func (b *Board) Play(l Location, m Mark) error {
	switch {
	case b.Over():
		return ErrGameOver
	case l.Row < 0 || l.Row > 2 || l.Col < 0 || l.Col > 2:
		return ErrOutOfBoard
	case b.turn != m:
		return ErrNotYourTurn
	case b.cells[l.Row][l.Col] != Empty:
		return ErrOccupied
	}
	b.cells[l.Row][l.Col] = m
	b.turn = m.Other()
	return nil
}

var lines = [8][3]Location{
	{{0, 0}, {0, 1}, {0, 2}},
	{{1, 0}, {1, 1}, {1, 2}},
	{{2, 0}, {2, 1}, {2, 2}},
	{{0, 0}, {1, 0}, {2, 0}},
	{{0, 1}, {1, 1}, {2, 1}},
	{{0, 2}, {1, 2}, {2, 2}},
	{{0, 0}, {1, 1}, {2, 2}},
	{{2, 0}, {1, 1}, {0, 2}},
}

// Winner returns the mark with three in a row, or Empty.
func (b *Board) Winner() Mark {
	for _, line := range lines {
		m := b.At(line[0])
		if m != Empty && b.At(line[1]) == m && b.At(line[2]) == m {
			return m
		}
	}
	return Empty
}

// Over reports whether someone won or the board is full.
func (b *Board) Over() bool {
	return b.Winner() != Empty || len(b.Free()) == 0
}

// String renders the board as three rows.
func (b *Board) String() string {
	var sb strings.Builder
	for row := range 3 {
		if row > 0 {
			sb.WriteByte('\n')
		}
		for col := range 3 {
			if col > 0 {
				sb.WriteByte('|')
			}
			sb.WriteString(b.cells[row][col].String())
		}
	}
	return sb.String()
}
