package demo_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neurosdk/pkg/api"
	"neurosdk/pkg/controller"
	"neurosdk/pkg/demo"
	"neurosdk/pkg/monitor"
	"neurosdk/pkg/sdk"
	"neurosdk/pkg/transport"
)

func TestBoard(t *testing.T) {
	t.Run("Turns Alternate", func(t *testing.T) {
		b := demo.NewBoard()
		assert.Equal(t, demo.X, b.Turn())
		require.NoError(t, b.Play(demo.Location{Row: 0, Col: 0}, demo.X))
		assert.Equal(t, demo.O, b.Turn())
		assert.ErrorIs(t, b.Play(demo.Location{Row: 1, Col: 1}, demo.X), demo.ErrNotYourTurn)
		assert.ErrorIs(t, b.Play(demo.Location{Row: 0, Col: 0}, demo.O), demo.ErrOccupied)
		assert.ErrorIs(t, b.Play(demo.Location{Row: 3, Col: 0}, demo.O), demo.ErrOutOfBoard)
		assert.Len(t, b.Free(), 8)
	})

	t.Run("Winning Lines", func(t *testing.T) {
		cases := []struct {
			name  string
			moves []demo.Location // alternating X, O
			want  demo.Mark
		}{
			{"Row", []demo.Location{{0, 0}, {1, 0}, {0, 1}, {1, 1}, {0, 2}}, demo.X},
			{"Column", []demo.Location{{0, 0}, {0, 1}, {1, 0}, {1, 1}, {2, 2}, {2, 1}}, demo.O},
			{"Diagonal", []demo.Location{{0, 0}, {0, 1}, {1, 1}, {0, 2}, {2, 2}}, demo.X},
			{"Anti Diagonal", []demo.Location{{0, 0}, {0, 2}, {0, 1}, {1, 1}, {2, 2}, {2, 0}}, demo.O},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				b := demo.NewBoard()
				mark := demo.X
				for _, l := range tc.moves {
					require.NoError(t, b.Play(l, mark))
					mark = mark.Other()
				}
				assert.Equal(t, tc.want, b.Winner())
				assert.True(t, b.Over())
				assert.ErrorIs(t, b.Play(b.Free()[0], mark), demo.ErrGameOver)
			})
		}
	})

	t.Run("Draw", func(t *testing.T) {
		b := demo.NewBoard()
		moves := []demo.Location{{0, 0}, {0, 1}, {0, 2}, {1, 1}, {1, 0}, {1, 2}, {2, 1}, {2, 0}, {2, 2}}
		mark := demo.X
		for _, l := range moves {
			require.NoError(t, b.Play(l, mark))
			mark = mark.Other()
		}
		assert.Equal(t, demo.Empty, b.Winner())
		assert.True(t, b.Over())
		assert.Equal(t, "X|O|X\nX|O|O\nO|X|X", b.String())
	})
}

func TestParseMove(t *testing.T) {
	cases := []struct {
		in      string
		want    demo.Location
		wantErr string
	}{
		{"1 1", demo.Location{Row: 0, Col: 0}, ""},
		{"  3   2 ", demo.Location{Row: 2, Col: 1}, ""},
		{"2", demo.Location{}, "missing value"},
		{"0 1", demo.Location{}, "wrong row value"},
		{"1 x", demo.Location{}, "wrong column value"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := demo.ParseMove(tc.in)
			if tc.wantErr != "" {
				assert.EqualError(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func connect(t *testing.T, ctx context.Context, seed uint64) (*sdk.SDK, *controller.Session) {
	t.Helper()
	srv := controller.NewServer(controller.WithSeed(seed), controller.WithLogger(monitor.NewNop()))
	game, far := transport.Pipe()
	go srv.Serve(far)

	client, err := sdk.NewBuilder("Tic Tac Toe").
		WithDialer(func(context.Context) (api.Transport, error) { return game, nil }).
		WithLogger(monitor.NewNop()).
		Build(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close(context.Background()) })

	sess, err := srv.NextSession(ctx)
	require.NoError(t, err)
	return client, sess
}

func TestGame_AgainstController(t *testing.T) {
	for _, seed := range []uint64{1, 2, 3} {
		t.Run(fmt.Sprintf("Seed %d", seed), func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			client, sess := connect(t, ctx, seed)

			// Every cell in order; occupied ones are skipped by the game.
			input := "oops\n1 1\n1 2\n1 3\n2 1\n2 2\n2 3\n3 1\n3 2\n3 3\n"
			var out bytes.Buffer
			g := demo.NewGame(client, strings.NewReader(input), &out, monitor.NewNop())

			winner, err := g.Run(ctx)
			require.NoError(t, err)

			text := out.String()
			assert.Contains(t, text, "missing value")
			switch winner {
			case demo.Empty:
				assert.Contains(t, text, "The game ended in a draw.")
			default:
				assert.Contains(t, text, "Player "+winner.String()+" won the game.")
			}

			require.Eventually(t, func() bool {
				ctxs := sess.Contexts()
				return len(ctxs) > 0 && !ctxs[len(ctxs)-1].Silent
			}, 2*time.Second, 5*time.Millisecond)
			assert.Empty(t, sess.Actions())

			for _, res := range sess.Results() {
				assert.True(t, res.Success, res.Message)
			}
		})
	}
}

func TestGame_InputEnds(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, _ := connect(t, ctx, 1)

	g := demo.NewGame(client, strings.NewReader(""), &bytes.Buffer{}, monitor.NewNop())
	_, err := g.Run(ctx)
	assert.Error(t, err)
}

func TestExtras_Reload(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, sess := connect(t, ctx, 1)

	path := filepath.Join(t.TempDir(), "actions.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
actions:
  - name: wave
    description: Wave at chat
  - name: taunt
    description: Taunt the player
  - name: play
`), 0o644))

	extras := demo.NewExtras(client, path, monitor.NewNop())
	require.NoError(t, extras.Load(ctx))
	assert.Equal(t, []string{"wave", "taunt"}, extras.Names())
	require.Eventually(t, func() bool { return len(sess.Actions()) == 2 }, 2*time.Second, 5*time.Millisecond)

	res, err := sess.Invoke(ctx, "wave", nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "wave acknowledged", res.Message)

	require.NoError(t, os.WriteFile(path, []byte("actions:\n  - name: wave\n"), 0o644))
	require.NoError(t, extras.Load(ctx))
	assert.Equal(t, []string{"wave"}, extras.Names())
	require.Eventually(t, func() bool {
		actions := sess.Actions()
		return len(actions) == 1 && actions[0].Name == "wave"
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("actions: [{name: \"\"}]\n"), 0o644))
	assert.ErrorIs(t, extras.Load(ctx), api.ErrInvalidAction)
	assert.Equal(t, []string{"wave"}, extras.Names())
}
