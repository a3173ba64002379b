package demo

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"neurosdk/pkg/api"
	"neurosdk/pkg/config"
)

// Extras keeps the actions of a manifest file registered, reloading them
// when the file changes. Every manifest action is acknowledged with a
// success result.
type Extras struct {
	client Client
	path   string
	logger *slog.Logger

	mu    sync.Mutex
	names []string
}

func NewExtras(client Client, path string, logger *slog.Logger) *Extras {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extras{client: client, path: path, logger: logger}
}

// Names returns the currently registered manifest actions.
func (e *Extras) Names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.names)
}

// Load registers the manifest and withdraws actions no longer listed.
func (e *Extras) Load(ctx context.Context) error {
	list, err := config.LoadActions(e.path)
	if err != nil {
		return err
	}

	actions := make([]api.Action, 0, len(list))
	names := make([]string, 0, len(list))
	for _, a := range list {
		if a.Name == PlayAction {
			e.logger.Warn("Manifest action shadows the game action, skipping", "action", a.Name)
			continue
		}
		a.Handler = acknowledge
		actions = append(actions, a)
		names = append(names, a.Name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var stale []string
	for _, n := range e.names {
		if !slices.Contains(names, n) {
			stale = append(stale, n)
		}
	}
	if len(stale) > 0 {
		if _, err := e.client.Unregister(ctx, stale...); err != nil {
			return fmt.Errorf("unregister stale actions: %w", err)
		}
	}
	if len(actions) > 0 {
		if err := e.client.Register(ctx, actions...); err != nil {
			return fmt.Errorf("register manifest actions: %w", err)
		}
	}
	e.names = names
	e.logger.Info("Manifest actions loaded", "file", e.path, "actions", names, "removed", stale)
	return nil
}

// Watch reloads the manifest on every change until ctx is done.
func (e *Extras) Watch(ctx context.Context) {
	for range config.WatchConfig(ctx, config.DefaultDebounce, e.path) {
		if err := e.Load(ctx); err != nil {
			e.logger.Error("Failed to reload manifest", "file", e.path, "error", err)
		}
	}
}

func acknowledge(_ context.Context, inv api.Invocation) (string, error) {
	return fmt.Sprintf("%s acknowledged", inv.ActionName), nil
}
