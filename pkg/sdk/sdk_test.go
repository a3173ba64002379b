package sdk_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neurosdk/pkg/api"
	"neurosdk/pkg/config"
	"neurosdk/pkg/monitor"
	"neurosdk/pkg/protocol"
	"neurosdk/pkg/sdk"
	"neurosdk/pkg/transport"
)

func TestBuilder_URL(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		t.Setenv(config.EnvURL, "")
		assert.Equal(t, "ws://localhost:8000", sdk.NewBuilder("g").URL())
	})

	t.Run("Address And Port", func(t *testing.T) {
		t.Setenv(config.EnvURL, "")
		assert.Equal(t, "ws://10.0.0.2:9001", sdk.NewBuilder("g").WithAddress("10.0.0.2").WithPort(9001).URL())
	})

	t.Run("Environment", func(t *testing.T) {
		t.Setenv(config.EnvURL, "ws://neuro:1234")
		assert.Equal(t, "ws://neuro:1234", sdk.NewBuilder("g").URL())
	})

	t.Run("Explicit URL Wins", func(t *testing.T) {
		t.Setenv(config.EnvURL, "ws://neuro:1234")
		assert.Equal(t, "wss://x/y", sdk.NewBuilder("g").WithURL("wss://x/y").URL())
	})

	t.Run("Config", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.URL = "ws://cfg:1"
		cfg.Game = "Configured"
		assert.Equal(t, "ws://cfg:1", sdk.NewBuilder("g").WithConfig(cfg).URL())
	})

	t.Run("Empty Config URL Keeps Explicit", func(t *testing.T) {
		t.Setenv(config.EnvURL, "")
		cfg := config.DefaultConfig()
		cfg.URL = ""
		assert.Equal(t, "wss://x/y", sdk.NewBuilder("g").WithURL("wss://x/y").WithConfig(cfg).URL())
	})
}

func TestBuilder_DialTimeouts(t *testing.T) {
	defaults := config.DefaultConfig()

	t.Run("Defaults", func(t *testing.T) {
		opts := sdk.NewBuilder("g").DialOptions()
		assert.Equal(t, defaults.HandshakeTimeout(), opts.HandshakeTimeout)
		assert.Equal(t, defaults.WriteTimeout(), opts.WriteTimeout)
		assert.Positive(t, opts.WriteTimeout)
	})

	t.Run("Config", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.WriteTimeoutMs = 250
		opts := sdk.NewBuilder("g").WithConfig(cfg).DialOptions()
		assert.Equal(t, 250*time.Millisecond, opts.WriteTimeout)
	})
}

type stubMonitor struct {
	mu      sync.Mutex
	started bool
	stopped bool
}

func (m *stubMonitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
	return nil
}

func (m *stubMonitor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	return nil
}

func (m *stubMonitor) OnMessage(monitor.MonitorMessage) {}

func (m *stubMonitor) state() (bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started, m.stopped
}

func TestBuilder_BuildFailure(t *testing.T) {
	mon := &stubMonitor{}
	_, err := sdk.NewBuilder("g").
		WithLogger(monitor.NewNop()).
		WithMonitor(mon).
		WithDialer(func(context.Context) (api.Transport, error) { return nil, errors.New("refused") }).
		Build(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")

	started, stopped := mon.state()
	assert.True(t, started)
	assert.True(t, stopped)
}

func readCommand(t *testing.T, end *transport.PipeEnd) (protocol.Frame, error) {
	t.Helper()
	data, err := end.ReadMessage()
	if err != nil {
		return protocol.Frame{}, err
	}
	return protocol.DecodeFrame(data)
}

func TestSDK_Lifecycle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	game, far := transport.Pipe()
	mon := &stubMonitor{}
	cfg := config.DefaultConfig()
	cfg.Game = "Configured Game"
	cfg.ForceTimeoutMs = 50

	finished := make(chan api.Invocation, 4)
	client, err := sdk.NewBuilder("ignored").
		WithConfig(cfg).
		WithLogger(monitor.NewNop()).
		WithMonitor(mon).
		WithListener(listenerFunc(func(inv api.Invocation) { finished <- inv })).
		WithDialer(func(context.Context) (api.Transport, error) { return game, nil }).
		WithStartupActions(api.Action{Name: "a"}, api.Action{Name: "b"}).
		Build(ctx)
	require.NoError(t, err)

	frame, err := readCommand(t, far)
	require.NoError(t, err)
	assert.Equal(t, "Configured Game", frame.Game)
	assert.Equal(t, protocol.Startup{}, frame.Command)
	_, err = readCommand(t, far)
	require.NoError(t, err)

	assert.Equal(t, "Configured Game", client.Game())
	assert.Equal(t, api.StateOpen, client.State())
	assert.NotEmpty(t, client.ConnectionID())
	require.Len(t, client.Actions(), 2)

	t.Run("Force Uses Default Timeout", func(t *testing.T) {
		id, err := client.Force(ctx, []string{"a"}, "quick", sdk.ForceOptions{})
		require.NoError(t, err)
		select {
		case inv := <-finished:
			assert.Equal(t, id, inv.ID)
			assert.Equal(t, api.InvocationTimedOut, inv.State)
		case <-time.After(2 * time.Second):
			t.Fatal("force did not time out")
		}
	})

	t.Run("Unregister All", func(t *testing.T) {
		removed, err := client.UnregisterAll(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a", "b"}, removed)
		assert.Empty(t, client.Actions())

		removed, err = client.UnregisterAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, removed)
	})

	require.NoError(t, client.Close(ctx))
	<-client.Done()
	assert.NoError(t, client.Err())
	_, stopped := mon.state()
	assert.True(t, stopped)
}

type listenerFunc func(inv api.Invocation)

func (listenerFunc) OnStateChanged(string, api.ConnectionState) {}
func (listenerFunc) OnRegistryChanged(string, []api.Action)     {}
func (listenerFunc) OnContext(string, string, bool)             {}
func (listenerFunc) OnActionDispatched(string, api.Invocation)  {}
func (f listenerFunc) OnInvocationFinished(_ string, inv api.Invocation) {
	f(inv)
}
func (listenerFunc) OnShutdownRequested(string, bool, bool) {}
