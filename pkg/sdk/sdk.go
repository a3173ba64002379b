package sdk

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"neurosdk/pkg/api"
	"neurosdk/pkg/connection"
	"neurosdk/pkg/monitor"
)

// ForceOptions tune a force request.
type ForceOptions = connection.ForceOptions

// SDK is a game's single connection to a controller.
type SDK struct {
	game         string
	manager      *connection.Manager
	conn         *connection.Conn
	monitor      monitor.Monitor
	logger       *slog.Logger
	forceTimeout time.Duration
	stopOnce     sync.Once
}

func (s *SDK) Game() string { return s.game }

// ConnectionID identifies the connection in listener callbacks.
func (s *SDK) ConnectionID() string { return s.conn.ID() }

func (s *SDK) State() api.ConnectionState { return s.conn.State() }

// Done is closed when the connection is closed by either side.
func (s *SDK) Done() <-chan struct{} { return s.conn.Done() }

// Err reports why the connection closed.
func (s *SDK) Err() error { return s.conn.Err() }

// Manager exposes the underlying connection manager.
func (s *SDK) Manager() *connection.Manager { return s.manager }

func (s *SDK) Register(ctx context.Context, list ...api.Action) error {
	return s.conn.Register(ctx, list...)
}

func (s *SDK) Unregister(ctx context.Context, names ...string) ([]string, error) {
	return s.conn.Unregister(ctx, names...)
}

// UnregisterAll removes every registered action.
func (s *SDK) UnregisterAll(ctx context.Context) ([]string, error) {
	snap := s.conn.Snapshot()
	names := make([]string, 0, len(snap))
	for _, a := range snap {
		names = append(names, a.Name)
	}
	if len(names) == 0 {
		return nil, nil
	}
	return s.conn.Unregister(ctx, names...)
}

func (s *SDK) Resolve(name string) (api.Action, bool) { return s.conn.Resolve(name) }

func (s *SDK) Actions() []api.Action { return s.conn.Snapshot() }

// Force asks the controller to run one of names. Without an explicit timeout
// the builder's force timeout applies.
func (s *SDK) Force(ctx context.Context, names []string, description string, opts ForceOptions) (string, error) {
	if opts.Timeout == 0 {
		opts.Timeout = s.forceTimeout
	}
	return s.conn.Force(ctx, names, description, opts)
}

// Complete reports the result of an invocation handed to
// Listener.OnActionDispatched.
func (s *SDK) Complete(ctx context.Context, invocationID string, success bool, message string) (bool, error) {
	return s.conn.Complete(ctx, invocationID, success, message)
}

func (s *SDK) Lookup(ctx context.Context, invocationID string) (api.Invocation, bool, error) {
	return s.conn.Lookup(ctx, invocationID)
}

func (s *SDK) SendContext(ctx context.Context, text string, silent bool) error {
	return s.conn.SendContext(ctx, text, silent)
}

func (s *SDK) SendShutdownReady(ctx context.Context) error {
	return s.conn.SendShutdownReady(ctx)
}

// Close closes the connection and stops the monitor.
func (s *SDK) Close(ctx context.Context) error {
	err := s.conn.Close(ctx)
	s.stopOnce.Do(func() {
		if s.monitor == nil {
			return
		}
		if stopErr := s.monitor.Stop(); stopErr != nil {
			s.logger.Warn("Failed to stop monitor", "error", stopErr)
		}
	})
	return err
}
