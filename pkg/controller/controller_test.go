package controller_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neurosdk/pkg/api"
	"neurosdk/pkg/controller"
	"neurosdk/pkg/monitor"
	"neurosdk/pkg/schema"
	"neurosdk/pkg/sdk"
	"neurosdk/pkg/transport"
)

func TestFill(t *testing.T) {
	first := func(int) int { return 0 }
	last := func(n int) int { return n - 1 }

	t.Run("Empty Schema", func(t *testing.T) {
		v, err := controller.Fill(nil, first)
		require.NoError(t, err)
		assert.Nil(t, v)

		v, err = controller.Fill([]byte(`{}`), first)
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("Option Schema", func(t *testing.T) {
		s := schema.Options("move", "left", "right")
		v, err := controller.Fill(s, last)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"options": "right"}, v)
		assert.True(t, schema.Default.Validate(s, wire(t, v)).Valid)
	})

	t.Run("Mixed Types Validate", func(t *testing.T) {
		s := []byte(`{
			"type": "object",
			"properties": {
				"height": {"type": "integer", "minimum": 3, "maximum": 5},
				"speed": {"type": "number"},
				"loud": {"type": "boolean"},
				"name": {"type": "string"},
				"mode": {"const": "fast"},
				"tags": {"type": "array", "items": {"enum": ["a", "b"]}, "minItems": 2}
			},
			"required": ["height", "speed", "loud", "name", "mode", "tags"]
		}`)
		for _, pick := range []func(int) int{first, last} {
			v, err := controller.Fill(s, pick)
			require.NoError(t, err)
			out := schema.Default.Validate(s, wire(t, v))
			assert.True(t, out.Valid, "reasons: %v", out.Reasons)
		}
	})

	t.Run("JSON Schema Dialect", func(t *testing.T) {
		s := []byte(`{
			"type": "object",
			"properties": {
				"cell": {"$ref": "#/$defs/cell"},
				"count": {"type": "integer", "exclusiveMinimum": 0, "maximum": 3},
				"note": {"type": ["string", "null"]},
				"pos": {"type": "array", "prefixItems": [{"type": "integer"}, {"type": "boolean"}], "items": false, "minItems": 2}
			},
			"required": ["cell", "count", "note", "pos"],
			"$defs": {"cell": {"enum": ["a1", "b2"]}}
		}`)
		for _, pick := range []func(int) int{first, last} {
			v, err := controller.Fill(s, pick)
			require.NoError(t, err)
			out := schema.Default.Validate(s, wire(t, v))
			assert.True(t, out.Valid, "reasons: %v", out.Reasons)
		}
	})

	t.Run("Invalid JSON", func(t *testing.T) {
		_, err := controller.Fill([]byte(`{`), first)
		assert.Error(t, err)
	})
}

// wire round-trips v through JSON the way a frame would.
func wire(t *testing.T, v any) any {
	t.Helper()
	data, err := jsoniter.Marshal(v)
	require.NoError(t, err)
	var out any
	require.NoError(t, jsoniter.Unmarshal(data, &out))
	return out
}

// finished collects terminal invocations.
type finished struct {
	api.NopListener
	mu   sync.Mutex
	invs []api.Invocation
}

func (f *finished) OnInvocationFinished(_ string, inv api.Invocation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invs = append(f.invs, inv)
}

func (f *finished) list() []api.Invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]api.Invocation(nil), f.invs...)
}

func pickAction(picked *[]string, mu *sync.Mutex) api.Action {
	return api.Action{
		Name:        "pick",
		Description: "Pick a letter",
		Schema:      schema.Options("pick", "a", "b", "c"),
		Handler: func(_ context.Context, inv api.Invocation) (string, error) {
			choice, _ := schema.Selected(inv.Params)
			mu.Lock()
			*picked = append(*picked, choice)
			mu.Unlock()
			return "picked " + choice, nil
		},
	}
}

func TestServer_AnswersForceOverPipe(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv := controller.NewServer(controller.WithSeed(7), controller.WithLogger(monitor.NewNop()))
	game, far := transport.Pipe()
	go srv.Serve(far)

	var (
		mu     sync.Mutex
		picked []string
	)
	rec := &finished{}
	client, err := sdk.NewBuilder("Letters").
		WithDialer(func(context.Context) (api.Transport, error) { return game, nil }).
		WithLogger(monitor.NewNop()).
		WithListener(rec).
		WithStartupActions(pickAction(&picked, &mu)).
		Build(ctx)
	require.NoError(t, err)
	defer client.Close(ctx)

	sess, err := srv.NextSession(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(sess.Actions()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "Letters", sess.Game())
	assert.True(t, sess.Started())

	forceID, err := client.Force(ctx, []string{"pick"}, "Choose a letter", sdk.ForceOptions{State: "abc"})
	require.NoError(t, err)

	// The request finishes first, then the force it satisfied.
	require.Eventually(t, func() bool { return len(rec.list()) == 2 }, 2*time.Second, 5*time.Millisecond)
	req, force := rec.list()[0], rec.list()[1]
	assert.Equal(t, forceID, req.ForceID)
	assert.Equal(t, "pick", req.ActionName)
	assert.Equal(t, forceID, force.ID)
	assert.Equal(t, api.InvocationCompleted, force.State)

	mu.Lock()
	require.Len(t, picked, 1)
	assert.Contains(t, []string{"a", "b", "c"}, picked[0])
	mu.Unlock()

	results := sess.Results()
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, "picked "+picked[0], results[0].Message)
}

func TestServer_RetriesRejectedAttempts(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv := controller.NewServer(controller.WithSeed(1), controller.WithRetries(5), controller.WithLogger(monitor.NewNop()))
	game, far := transport.Pipe()
	go srv.Serve(far)

	var (
		mu       sync.Mutex
		attempts int
	)
	client, err := sdk.NewBuilder("Stubborn").
		WithDialer(func(context.Context) (api.Transport, error) { return game, nil }).
		WithLogger(monitor.NewNop()).
		WithStartupActions(api.Action{
			Name:          "open",
			ReportFailure: true,
			Handler: func(context.Context, api.Invocation) (string, error) {
				mu.Lock()
				defer mu.Unlock()
				attempts++
				if attempts < 3 {
					return "", assert.AnError
				}
				return "opened", nil
			},
		}).
		Build(ctx)
	require.NoError(t, err)
	defer client.Close(ctx)

	sess, err := srv.NextSession(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(sess.Actions()) == 1 }, 2*time.Second, 5*time.Millisecond)

	_, err = client.Force(ctx, []string{"open"}, "Open the door", sdk.ForceOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(sess.Results()) == 3 }, 2*time.Second, 5*time.Millisecond)
	results := sess.Results()
	assert.False(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.True(t, results[2].Success)
}

func TestServer_WebsocketEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	metrics := monitor.NewMetrics()
	srv := controller.NewServer(
		controller.WithSeed(42),
		controller.WithAutoPlay(false),
		controller.WithMetrics(metrics),
		controller.WithLogger(monitor.NewNop()),
	)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)

	var (
		mu     sync.Mutex
		picked []string
	)
	client, err := sdk.NewBuilder("Letters").
		WithURL("ws" + strings.TrimPrefix(ts.URL, "http")).
		WithLogger(monitor.NewNop()).
		WithFeatures(api.FeatureShutdown).
		WithStartupActions(pickAction(&picked, &mu)).
		Build(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close(context.Background()) })

	sess, err := srv.NextSession(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(sess.Actions()) == 1 }, 2*time.Second, 5*time.Millisecond)

	t.Run("List Sessions", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/sessions")
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), `"game":"Letters"`)
		assert.Contains(t, string(body), `"name":"pick"`)
	})

	t.Run("Invoke Action Over HTTP", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/sessions/"+sess.ID()+"/actions/pick", "application/json", strings.NewReader(`{"options":"b"}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), `"success":true`)
		assert.Contains(t, string(body), `"message":"picked b"`)
	})

	t.Run("Invalid Parameters Are Rejected By The Game", func(t *testing.T) {
		res, err := sess.Invoke(ctx, "pick", map[string]any{"options": "z"})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.NotEmpty(t, res.Message)
	})

	t.Run("Unknown Session", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/sessions/nope/actions/pick", "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("Context Reaches Controller", func(t *testing.T) {
		require.NoError(t, client.SendContext(ctx, "X played row 1 column 1", true))
		require.Eventually(t, func() bool { return len(sess.Contexts()) == 1 }, 2*time.Second, 5*time.Millisecond)
		assert.True(t, sess.Contexts()[0].Silent)
	})

	t.Run("Shutdown Ready", func(t *testing.T) {
		require.NoError(t, client.SendShutdownReady(ctx))
		require.Eventually(t, sess.ShutdownReady, 2*time.Second, 5*time.Millisecond)
	})

	t.Run("Metrics", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		assert.Contains(t, string(body), "neurosdk_connections_open 1")
		assert.Contains(t, string(body), `command="actions/register"`)
	})

	require.NoError(t, client.Close(ctx))
	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
	}
	assert.Eventually(t, func() bool { return len(srv.Sessions()) == 0 }, 2*time.Second, 5*time.Millisecond)
}
