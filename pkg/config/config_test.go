package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neurosdk/pkg/api"
	"neurosdk/pkg/config"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"sdk.json": `{"game":"Tic Tac Toe","url":"ws://127.0.0.1:9000","send_buffer":16,"force_timeout_ms":2500,"features":["SHUTDOWN"]}`,
		"sdk.toml": `
game = "Tic Tac Toe"
url = "ws://127.0.0.1:9000"
send_buffer = 16
force_timeout_ms = 2500
features = ["SHUTDOWN"]
`,
		"sdk.yaml": `
game: Tic Tac Toe
url: ws://127.0.0.1:9000
send_buffer: 16
force_timeout_ms: 2500
features:
  - SHUTDOWN
`,
	}

	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			cfg, err := config.Load(writeFile(t, dir, name, content))
			require.NoError(t, err)

			assert.Equal(t, "Tic Tac Toe", cfg.Game)
			assert.Equal(t, "ws://127.0.0.1:9000", cfg.URL)
			assert.Equal(t, 16, cfg.SendBuffer)
			assert.Equal(t, 2500*time.Millisecond, cfg.ForceTimeout())
			assert.Equal(t, []api.Feature{api.FeatureShutdown}, cfg.EnabledFeatures())
			// Untouched keys keep their defaults.
			assert.Equal(t, 5*time.Second, cfg.WriteTimeout())
			assert.Equal(t, "info", cfg.LogLevel)
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().URL, cfg.URL)
	assert.Equal(t, 10*time.Second, cfg.HandshakeTimeout())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(config.EnvURL, "wss://neuro.example:443/ws")
	t.Setenv(config.EnvGame, "From Env")
	t.Setenv(config.EnvLogLevel, "debug")

	path := writeFile(t, t.TempDir(), "sdk.json", `{"game":"From File","url":"ws://localhost:1"}`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "wss://neuro.example:443/ws", cfg.URL)
	assert.Equal(t, "From Env", cfg.Game)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{"Unknown Extension", "sdk.ini", "game=x", "unsupported config format"},
		{"Unknown Key", "sdk.json", `{"gmae":"typo"}`, "gmae"},
		{"Bad Syntax", "sdk.toml", `game = `, "failed to parse"},
		{"Bad Scheme", "sdk.yaml", "url: http://localhost:8000", "scheme must be ws or wss"},
		{"Unknown Feature", "sdk.json", `{"features":["TELEPORT"]}`, "unknown feature"},
		{"Zero Buffer", "sdk.json", `{"send_buffer":0}`, "send_buffer"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.Load(writeFile(t, dir, tc.file, tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}

	t.Run("Missing File", func(t *testing.T) {
		_, err := config.Load(filepath.Join(dir, "absent.json"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestLoadActions(t *testing.T) {
	dir := t.TempDir()

	t.Run("YAML Manifest", func(t *testing.T) {
		path := writeFile(t, dir, "actions.yaml", `
actions:
  - name: jump
    description: Jump in the air
    schema:
      type: object
      properties:
        height:
          type: integer
      required: [height]
  - name: duck
    disabled: true
`)
		list, err := config.LoadActions(path)
		require.NoError(t, err)
		require.Len(t, list, 2)

		assert.Equal(t, "jump", list[0].Name)
		assert.JSONEq(t, `{"type":"object","properties":{"height":{"type":"integer"}},"required":["height"]}`, string(list[0].Schema))
		assert.True(t, list[0].Enabled())
		assert.Nil(t, list[1].Schema)
		assert.False(t, list[1].Enabled())
	})

	t.Run("TOML Manifest", func(t *testing.T) {
		path := writeFile(t, dir, "actions.toml", `
[[actions]]
name = "wave"
description = "Wave at chat"
`)
		list, err := config.LoadActions(path)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "Wave at chat", list[0].Description)
	})

	t.Run("Invalid Names", func(t *testing.T) {
		path := writeFile(t, dir, "bad.json", `{"actions":[{"name":"a"},{"name":""},{"name":"a"}]}`)
		_, err := config.LoadActions(path)
		require.Error(t, err)
		assert.ErrorIs(t, err, api.ErrInvalidAction)
		assert.Contains(t, err.Error(), "duplicate name")
		assert.Contains(t, err.Error(), "missing name")
	})
}

func TestWatchConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "actions.json", `{"actions":[]}`)
	other := writeFile(t, dir, "other.json", `{}`)

	ctx, cancel := context.WithCancel(context.Background())
	reload := config.WatchConfig(ctx, 20*time.Millisecond, path)

	require.NoError(t, os.WriteFile(other, []byte(`{"x":1}`), 0o644))
	select {
	case <-reload:
		t.Fatal("change to an unwatched file was reported")
	case <-time.After(150 * time.Millisecond):
	}

	require.NoError(t, os.WriteFile(path, []byte(`{"actions":[{"name":"wave"}]}`), 0o644))
	select {
	case _, ok := <-reload:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("change was not reported")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-reload:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}
