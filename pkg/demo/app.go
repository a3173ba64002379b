// Package demo is a tic-tac-toe game played between a terminal user and the
// controller.
package demo

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"neurosdk/pkg/api"
	"neurosdk/pkg/schema"
	"neurosdk/pkg/sdk"
)

// PlayAction is the action the controller uses to place its mark.
const PlayAction = "play"

// ErrDisconnected is returned when the controller leaves mid-game.
var ErrDisconnected = errors.New("controller disconnected")

// Client is the part of the SDK the game needs.
type Client interface {
	Register(ctx context.Context, list ...api.Action) error
	Unregister(ctx context.Context, names ...string) ([]string, error)
	Force(ctx context.Context, names []string, description string, opts sdk.ForceOptions) (string, error)
	SendContext(ctx context.Context, text string, silent bool) error
	Done() <-chan struct{}
}

// Game runs one match. The terminal user plays X, the controller plays O.
type Game struct {
	client Client
	in     *bufio.Scanner
	out    io.Writer
	logger *slog.Logger

	mu      sync.Mutex
	board   *Board
	options *schema.OptionMap[Location]
	moved   chan Location
}

func NewGame(client Client, in io.Reader, out io.Writer, logger *slog.Logger) *Game {
	if logger == nil {
		logger = slog.Default()
	}
	return &Game{
		client:  client,
		in:      bufio.NewScanner(in),
		out:     out,
		logger:  logger,
		board:   NewBoard(),
		options: schema.NewOptionMap[Location](),
		moved:   make(chan Location, 1),
	}
}

// Action returns the play action offering the currently free cells.
func (g *Game) Action() api.Action {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.action()
}

func (g *Game) action() api.Action {
	g.options.Clear()
	for _, l := range g.board.Free() {
		g.options.Set(l.Option(), l)
	}
	return api.Action{
		Name:          PlayAction,
		Description:   "Place your mark on one of the empty cells of the tic-tac-toe board.",
		Schema:        g.options.Schema("cell"),
		Handler:       g.handlePlay,
		ReportFailure: true,
	}
}

// handlePlay is the controller's move.
func (g *Game) handlePlay(_ context.Context, inv api.Invocation) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	loc, ok := g.options.Pick(inv.Params)
	if !ok {
		return "", errors.New("unknown cell")
	}
	if err := g.board.Play(loc, O); err != nil {
		return "", err
	}
	select {
	case g.moved <- loc:
	default:
	}
	return "You just played on " + loc.Option(), nil
}

// Run plays until someone wins or the board is full and returns the winner,
// Empty for a draw.
func (g *Game) Run(ctx context.Context) (Mark, error) {
	defer func() {
		if _, err := g.client.Unregister(context.WithoutCancel(ctx), PlayAction); err != nil {
			g.logger.Debug("Could not unregister play action", "error", err)
		}
	}()

	for !g.over() {
		if err := g.humanTurn(ctx); err != nil {
			return Empty, err
		}
		if g.over() {
			break
		}
		if err := g.controllerTurn(ctx); err != nil {
			return Empty, err
		}
	}

	g.mu.Lock()
	winner := g.board.Winner()
	final := g.board.String()
	g.mu.Unlock()

	result := "The game ended in a draw."
	if winner != Empty {
		result = fmt.Sprintf("Player %s won the game.", winner)
	}
	fmt.Fprintf(g.out, "%s\n%s\n", final, result)
	if err := g.client.SendContext(ctx, result, false); err != nil {
		g.logger.Warn("Failed to send result", "error", err)
	}
	return winner, nil
}

func (g *Game) over() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.board.Over()
}

func (g *Game) humanTurn(ctx context.Context) error {
	g.mu.Lock()
	fmt.Fprintf(g.out, "Tic Tac Toe current game state:\n%s\n", g.board)
	g.mu.Unlock()
	fmt.Fprintln(g.out, `It is your turn. Please input the row and column as "row column"`)

	for g.in.Scan() {
		loc, err := ParseMove(g.in.Text())
		if err != nil {
			fmt.Fprintln(g.out, err)
			continue
		}

		g.mu.Lock()
		err = g.board.Play(loc, X)
		g.mu.Unlock()
		if errors.Is(err, ErrOccupied) {
			fmt.Fprintln(g.out, "There is already something here")
			continue
		}
		if err != nil {
			return err
		}

		return g.client.SendContext(ctx, fmt.Sprintf("Player %s just played %s", X, loc.Option()), true)
	}
	if err := g.in.Err(); err != nil {
		return err
	}
	return io.EOF
}

func (g *Game) controllerTurn(ctx context.Context) error {
	g.mu.Lock()
	action := g.action()
	state := g.board.String()
	g.mu.Unlock()

	if err := g.client.Register(ctx, action); err != nil {
		return fmt.Errorf("register play: %w", err)
	}
	description := fmt.Sprintf("It is now your turn. You are playing as %s. Please play on one of the empty cells.", O)
	if _, err := g.client.Force(ctx, []string{PlayAction}, description, sdk.ForceOptions{State: state}); err != nil {
		return fmt.Errorf("force play: %w", err)
	}

	select {
	case loc := <-g.moved:
		fmt.Fprintf(g.out, "Player %s played %s\n", O, loc.Option())
	case <-g.client.Done():
		return ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}

	_, err := g.client.Unregister(ctx, PlayAction)
	return err
}

// ParseMove reads a one-based "row column" pair.
func ParseMove(line string) (Location, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Location{}, errors.New("missing value")
	}
	row, err := strconv.Atoi(fields[0])
	if err != nil || row < 1 || row > 3 {
		return Location{}, errors.New("wrong row value")
	}
	col, err := strconv.Atoi(fields[1])
	if err != nil || col < 1 || col > 3 {
		return Location{}, errors.New("wrong column value")
	}
	return Location{Row: row - 1, Col: col - 1}, nil
}
