package sdk

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"neurosdk/pkg/api"
	"neurosdk/pkg/config"
	"neurosdk/pkg/connection"
	"neurosdk/pkg/monitor"
	"neurosdk/pkg/schema"
	"neurosdk/pkg/transport"
)

const (
	DefaultAddress = "localhost"
	DefaultPort    = 8000
)

// Builder provides a fluent builder pattern interface for constructing
// and connecting an SDK instance with all its necessary dependencies.
//
// All components (listeners, monitor, validator) are pre-built and injected
// as instances; the Builder simply assembles and connects them.
type Builder struct {
	game         string
	address      string
	port         int
	url          string
	startup      []api.Action
	listeners    []api.Listener
	features     []api.Feature
	logger       *slog.Logger
	monitor      monitor.Monitor
	validator    schema.Validator
	dialer       api.Dialer
	dialOpts     transport.DialOptions
	sendBuffer   int
	forceTimeout time.Duration
}

// NewBuilder creates a Builder for the given game. Without further settings
// it connects to ws://localhost:8000, or to $NEURO_SDK_WS_URL when set.
func NewBuilder(game string) *Builder {
	defaults := config.DefaultConfig()
	return &Builder{
		game:    game,
		address: DefaultAddress,
		port:    DefaultPort,
		dialOpts: transport.DialOptions{
			HandshakeTimeout: defaults.HandshakeTimeout(),
			WriteTimeout:     defaults.WriteTimeout(),
		},
	}
}

// WithConfig applies a loaded configuration.
func (b *Builder) WithConfig(cfg *config.Config) *Builder {
	if cfg.Game != "" {
		b.game = cfg.Game
	}
	if cfg.URL != "" {
		b.url = cfg.URL
	}
	b.dialOpts.HandshakeTimeout = cfg.HandshakeTimeout()
	b.dialOpts.WriteTimeout = cfg.WriteTimeout()
	b.sendBuffer = cfg.SendBuffer
	b.forceTimeout = cfg.ForceTimeout()
	b.features = append(b.features, cfg.EnabledFeatures()...)
	return b
}

func (b *Builder) WithAddress(address string) *Builder {
	b.address = address
	return b
}

func (b *Builder) WithPort(port int) *Builder {
	b.port = port
	return b
}

// WithURL sets the full websocket URL, overriding address, port and the
// environment.
func (b *Builder) WithURL(url string) *Builder {
	b.url = url
	return b
}

// WithStartupActions adds actions registered as soon as the connection opens.
func (b *Builder) WithStartupActions(list ...api.Action) *Builder {
	b.startup = append(b.startup, list...)
	return b
}

func (b *Builder) WithListener(listeners ...api.Listener) *Builder {
	b.listeners = append(b.listeners, listeners...)
	return b
}

// WithFeatures enables proposed protocol extensions.
func (b *Builder) WithFeatures(features ...api.Feature) *Builder {
	b.features = append(b.features, features...)
	return b
}

func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithMonitor injects a monitoring implementation into the builder.
// This monitor will be started automatically during the Build() process.
func (b *Builder) WithMonitor(m monitor.Monitor) *Builder {
	b.monitor = m
	return b
}

func (b *Builder) WithValidator(v schema.Validator) *Builder {
	b.validator = v
	return b
}

// WithDialer replaces the websocket dialer, e.g. with an in-memory pipe.
func (b *Builder) WithDialer(d api.Dialer) *Builder {
	b.dialer = d
	return b
}

func (b *Builder) WithDialOptions(opts transport.DialOptions) *Builder {
	b.dialOpts = opts
	return b
}

// DialOptions returns the websocket options Build dials with.
func (b *Builder) DialOptions() transport.DialOptions {
	return b.dialOpts
}

func (b *Builder) WithSendBuffer(size int) *Builder {
	b.sendBuffer = size
	return b
}

// WithForceTimeout sets the deadline applied to forces that do not set one.
func (b *Builder) WithForceTimeout(d time.Duration) *Builder {
	b.forceTimeout = d
	return b
}

// URL resolves the websocket endpoint.
func (b *Builder) URL() string {
	if b.url != "" {
		return b.url
	}
	if v := os.Getenv(config.EnvURL); v != "" {
		return v
	}
	return "ws://" + net.JoinHostPort(b.address, strconv.Itoa(b.port))
}

// Build connects to the controller and performs the startup exchange.
// Returns the connected SDK or an error if any stage fails.
func (b *Builder) Build(ctx context.Context) (*SDK, error) {
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	// 1. Initialize and start the monitoring service
	if b.monitor != nil {
		if err := b.monitor.Start(); err != nil {
			return nil, fmt.Errorf("failed to start monitor: %w", err)
		}
	}

	// 2. Assemble the connection manager
	opts := []connection.Option{
		connection.WithGame(b.game),
		connection.WithLogger(logger),
		connection.WithStartupActions(b.startup...),
		connection.WithFeatures(b.features...),
		connection.WithSendBuffer(b.sendBuffer),
		connection.WithValidator(b.validator),
	}
	if len(b.listeners) > 0 {
		opts = append(opts, connection.WithListener(b.listeners...))
	}
	if b.monitor != nil {
		opts = append(opts, connection.WithMonitor(b.monitor))
	}
	m := connection.NewManager(opts...)

	// 3. Connect
	dial := b.dialer
	if dial == nil {
		dial = transport.Dialer(b.URL(), b.dialOpts)
	}
	conn, err := m.Dial(ctx, dial)
	if err != nil {
		logger.Error("Could not connect to the controller. Is Neuro or randy running?", "url", b.URL(), "error", err)
		b.stopMonitor(logger)
		return nil, err
	}

	return &SDK{
		game:         b.game,
		manager:      m,
		conn:         conn,
		monitor:      b.monitor,
		logger:       logger,
		forceTimeout: b.forceTimeout,
	}, nil
}

func (b *Builder) stopMonitor(logger *slog.Logger) {
	if b.monitor == nil {
		return
	}
	if err := b.monitor.Stop(); err != nil {
		logger.Warn("Failed to stop monitor", "error", err)
	}
}
