package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"neurosdk/pkg/actions"
	"neurosdk/pkg/api"
	"neurosdk/pkg/coordinator"
	"neurosdk/pkg/monitor"
	"neurosdk/pkg/protocol"
)

// ForceOptions tune a force request.
type ForceOptions = coordinator.ForceOptions

type outFrame struct {
	command string
	data    []byte
}

// Conn is one controller connection. Its registry and invocations are owned
// by a single event loop goroutine; the exported methods post work to that
// loop and wait for the answer.
type Conn struct {
	id        string
	transport api.Transport
	codec     protocol.Codec
	registry  *actions.Registry
	coord     *coordinator.Coordinator
	listener  api.Listener
	monitor   monitor.Monitor
	logger    *slog.Logger
	features  map[api.Feature]bool

	events   chan func()
	outbound chan outFrame
	written  chan struct{} // closed when the writer exits
	flush    time.Duration
	notifier *notifier
	done     chan struct{}
	onClosed func(*Conn)

	ctx    context.Context // Cancelled on close; handed to action handlers
	cancel context.CancelFunc

	state          atomic.Int32
	err            atomic.Pointer[error]
	closed         bool // loop-owned
	skipConnecting bool // Connecting was reported before the transport existed
}

func newConn(id string, tr api.Transport, o *options, onClosed func(*Conn)) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		id:        id,
		transport: tr,
		codec:     protocol.Codec{Game: o.game},
		listener:  o.listener,
		monitor:   o.monitor,
		logger:    o.logger.With("conn", id),
		features:  o.features,
		events:    make(chan func(), 64),
		outbound:  make(chan outFrame, o.sendBuffer),
		written:   make(chan struct{}),
		flush:     o.flush,
		done:      make(chan struct{}),
		onClosed:  onClosed,
		ctx:       ctx,
		cancel:    cancel,
	}
	c.notifier = newNotifier(c.logger)
	c.registry = actions.NewRegistry(
		actions.WithValidator(o.validator),
		actions.WithChangeHook(func(snap []api.Action) {
			c.notify(func(l api.Listener) { l.OnRegistryChanged(c.id, snap) })
		}),
	)
	c.coord = coordinator.New(id, c.send, c.registry, c.post,
		coordinator.WithValidator(o.validator),
		coordinator.WithLogger(o.logger),
		coordinator.WithHooks(coordinator.Hooks{
			Dispatched: c.dispatched,
			Finished: func(inv api.Invocation) {
				c.notify(func(l api.Listener) { l.OnInvocationFinished(c.id, inv) })
			},
		}),
	)
	c.state.Store(int32(api.StateConnecting))
	return c
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) State() api.ConnectionState {
	return api.ConnectionState(c.state.Load())
}

// Done is closed once the connection reached Closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns why the connection closed, nil for a local Close.
func (c *Conn) Err() error {
	if p := c.err.Load(); p != nil {
		return *p
	}
	return nil
}

func (c *Conn) notify(fn func(l api.Listener)) {
	if c.listener == nil {
		return
	}
	c.notifier.push(func() { fn(c.listener) })
}

// setState runs on the loop.
func (c *Conn) setState(s api.ConnectionState) {
	if c.State() == s {
		return
	}
	c.state.Store(int32(s))
	c.logger.Debug("Connection state changed", "state", s)
	c.notify(func(l api.Listener) { l.OnStateChanged(c.id, s) })
}

// open starts the loop and performs the startup exchange.
func (c *Conn) open(ctx context.Context, startup []api.Action) error {
	if !c.skipConnecting {
		c.notify(func(l api.Listener) { l.OnStateChanged(c.id, api.StateConnecting) })
	}

	go c.loop()
	go c.writeLoop()

	err := c.do(ctx, func() error {
		c.registry.Reset()
		if err := c.send(protocol.Startup{}); err != nil {
			return err
		}
		if len(startup) > 0 {
			if err := c.registry.Register(startup...); err != nil {
				return fmt.Errorf("startup actions: %w", err)
			}
			if err := c.announce(c.registry.Visible()); err != nil {
				return err
			}
		}
		c.setState(api.StateOpen)
		return nil
	})
	if err != nil {
		c.post(func() { c.teardown(err) })
		<-c.done
		return err
	}

	go c.readLoop()
	c.logger.Info("Connection open", "startup_actions", len(startup))
	return nil
}

// loop is the connection's single event loop.
func (c *Conn) loop() {
	for fn := range c.events {
		fn()
		if c.closed {
			return
		}
	}
}

// post schedules fn on the loop. It is dropped once the connection closed.
func (c *Conn) post(fn func()) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.events <- fn:
	case <-c.done:
	}
}

// do runs fn on the loop and waits for its result.
func (c *Conn) do(ctx context.Context, fn func() error) error {
	errCh := make(chan error, 1)
	select {
	case c.events <- func() { errCh <- fn() }:
	case <-c.done:
		return api.ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-errCh:
		return err
	case <-c.done:
		select {
		case err := <-errCh:
			return err
		default:
			return api.ErrConnectionClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// doOpen is do for operations that need an open connection.
func (c *Conn) doOpen(ctx context.Context, fn func() error) error {
	return c.do(ctx, func() error {
		if c.State() != api.StateOpen {
			return api.ErrNotOpen
		}
		return fn()
	})
}

// send encodes cmd and queues it for the writer. Loop only.
func (c *Conn) send(cmd protocol.Command) error {
	if c.closed || c.State() == api.StateClosed {
		return api.ErrConnectionClosed
	}
	data, err := c.codec.Encode(cmd)
	if err != nil {
		return err
	}
	select {
	case c.outbound <- outFrame{command: cmd.Name(), data: data}:
		return nil
	default:
	}
	// The peer stopped reading. The loop must not wait on the writer.
	err = fmt.Errorf("%s: %w (%d queued)", cmd.Name(), api.ErrSendBufferFull, cap(c.outbound))
	go c.post(func() { c.teardown(err) })
	return err
}

func (c *Conn) writeLoop() {
	defer close(c.written)
	var failed bool
	for frame := range c.outbound {
		if failed {
			continue
		}
		if err := c.transport.WriteMessage(frame.data); err != nil {
			failed = true
			c.logger.Warn("Write failed", "command", frame.command, "error", err)
			go c.post(func() { c.teardown(fmt.Errorf("write: %w", err)) })
			continue
		}
		c.observe(monitor.Outbound, frame.command, frame.data)
	}
	_ = c.transport.Close()
}

func (c *Conn) readLoop() {
	for {
		data, err := c.transport.ReadMessage()
		if err != nil {
			c.post(func() { c.teardown(fmt.Errorf("read: %w", err)) })
			return
		}
		c.post(func() { c.handleFrame(data) })
	}
}

func (c *Conn) observe(dir monitor.Direction, command string, data []byte) {
	if c.monitor == nil {
		return
	}
	c.monitor.OnMessage(monitor.MonitorMessage{
		Timestamp:    time.Now(),
		Direction:    dir,
		ConnectionID: c.id,
		Command:      command,
		Content:      string(data),
	})
}

// handleFrame decodes and routes one inbound frame. Loop only.
func (c *Conn) handleFrame(data []byte) {
	if c.State() != api.StateOpen {
		return
	}
	cmd, err := protocol.Decode(data)
	if err != nil {
		var malformed *protocol.MalformedError
		name := "?"
		if errors.As(err, &malformed) {
			if malformed.Command != "" {
				name = malformed.Command
			}
			c.coord.RejectMalformed(malformed.ID, malformed.Reason)
		}
		c.observe(monitor.Inbound, name, data)
		c.logger.Warn("Dropped malformed frame", "error", err)
		return
	}
	c.observe(monitor.Inbound, cmd.Name(), data)

	switch v := cmd.(type) {
	case protocol.ActionRequest:
		c.coord.OnActionRequest(v.ID, v.Action, v.Params)
	case protocol.Context:
		c.receiveContext(v)
	case protocol.ReregisterAll:
		if !c.features[api.FeatureReregisterAll] {
			c.logger.Debug("Ignoring reregister request", "reason", api.ErrFeatureDisabled)
			return
		}
		if err := c.announce(c.registry.Visible()); err != nil {
			c.logger.Warn("Failed to re-register actions", "error", err)
		}
	case protocol.ShutdownGraceful:
		c.shutdownRequested(true, v.WantsShutdown)
	case protocol.ShutdownImmediate:
		c.shutdownRequested(false, true)
	case protocol.Unknown:
		c.logger.Debug("Ignoring unknown command", "command", v.Command)
	default:
		c.logger.Warn("Unexpected command from controller", "command", cmd.Name())
	}
}

func (c *Conn) shutdownRequested(graceful, wants bool) {
	if !c.features[api.FeatureShutdown] {
		c.logger.Debug("Ignoring shutdown request", "reason", api.ErrFeatureDisabled)
		return
	}
	c.notify(func(l api.Listener) { l.OnShutdownRequested(c.id, graceful, wants) })
}

// announce sends an actions/register frame for the given actions.
func (c *Conn) announce(list []api.Action) error {
	if len(list) == 0 {
		return nil
	}
	specs := make([]protocol.ActionSpec, 0, len(list))
	for _, a := range list {
		specs = append(specs, protocol.ActionSpec{Name: a.Name, Description: a.Description, Schema: a.Schema})
	}
	return c.send(protocol.RegisterActions{Actions: specs})
}

func (c *Conn) dispatched(inv api.Invocation, action api.Action) {
	c.notify(func(l api.Listener) { l.OnActionDispatched(c.id, inv) })
	if action.Handler != nil {
		go c.runHandler(inv, action)
	}
}

// runHandler executes an action handler off the loop and posts the result back.
func (c *Conn) runHandler(inv api.Invocation, action api.Action) {
	msg, err := callHandler(c.ctx, action.Handler, inv)
	success := true
	if err != nil {
		c.logger.Warn("Action handler failed", "id", inv.ID, "action", inv.ActionName, "error", err)
		if action.ReportFailure {
			success = false
			msg = err.Error()
		} else {
			msg = ""
		}
	}
	c.post(func() { c.coord.Complete(inv.ID, success, msg) })
}

func callHandler(ctx context.Context, h api.ActionHandler, inv api.Invocation) (msg string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, inv)
}

// teardown moves the connection to Closed. Loop only; runs once.
func (c *Conn) teardown(reason error) {
	if c.closed {
		return
	}
	c.closed = true
	if reason != nil {
		c.err.Store(&reason)
		c.logger.Info("Connection lost", "error", reason)
	} else {
		c.logger.Info("Connection closed")
	}

	c.state.Store(int32(api.StateClosed))
	c.cancel()
	c.coord.CancelAll()
	c.registry.Clear()
	close(c.outbound)
	if reason != nil {
		_ = c.transport.Close()
	} else {
		// 給 writer 一點時間送完佇列，卡住就強制關閉
		go func() {
			select {
			case <-c.written:
			case <-time.After(c.flush):
				c.logger.Warn("Flush timed out, closing transport", "timeout", c.flush)
				_ = c.transport.Close()
			}
		}()
	}

	if c.onClosed != nil {
		c.onClosed(c)
	}

	c.notify(func(l api.Listener) { l.OnStateChanged(c.id, api.StateClosed) })
	c.notifier.close()
	close(c.done)
}

// Close closes the connection after flushing queued frames.
func (c *Conn) Close(ctx context.Context) error {
	c.post(func() {
		if c.closed {
			return
		}
		if c.State() == api.StateOpen {
			c.setState(api.StateClosing)
		}
		c.teardown(nil)
	})
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Register adds or replaces actions and announces the enabled ones. An
// action re-registered as disabled is withdrawn from the controller.
func (c *Conn) Register(ctx context.Context, batch ...api.Action) error {
	return c.doOpen(ctx, func() error {
		var withdraw []string
		for _, a := range batch {
			if prev, ok := c.registry.Resolve(a.Name); ok && prev.Enabled() && !a.Enabled() {
				withdraw = append(withdraw, a.Name)
			}
		}
		if err := c.registry.Register(batch...); err != nil {
			return err
		}
		if len(withdraw) > 0 {
			if err := c.send(protocol.UnregisterActions{ActionNames: withdraw}); err != nil {
				return err
			}
		}
		var visible []api.Action
		for _, a := range batch {
			if a.Enabled() {
				visible = append(visible, a)
			}
		}
		return c.announce(visible)
	})
}

// Unregister removes actions and returns the names that were registered.
func (c *Conn) Unregister(ctx context.Context, names ...string) ([]string, error) {
	var removed []string
	err := c.doOpen(ctx, func() error {
		var announced []string
		for _, name := range names {
			if a, ok := c.registry.Resolve(name); ok && a.Enabled() {
				announced = append(announced, name)
			}
		}
		removed = c.registry.Unregister(names...)
		if len(announced) == 0 {
			return nil
		}
		return c.send(protocol.UnregisterActions{ActionNames: announced})
	})
	return removed, err
}

// Resolve returns the current definition of an action.
func (c *Conn) Resolve(name string) (api.Action, bool) {
	return c.registry.Resolve(name)
}

// Snapshot returns the registered actions in registration order.
func (c *Conn) Snapshot() []api.Action {
	return c.registry.Snapshot()
}

// Force asks the controller to run one of names and returns the forced
// invocation id.
func (c *Conn) Force(ctx context.Context, names []string, description string, opts ForceOptions) (string, error) {
	var id string
	err := c.doOpen(ctx, func() error {
		var err error
		id, err = c.coord.Force(names, description, opts)
		return err
	})
	return id, err
}

// Complete reports the result of a dispatched invocation. It returns false
// when the invocation was not awaiting a result.
func (c *Conn) Complete(ctx context.Context, id string, success bool, message string) (bool, error) {
	var changed bool
	err := c.doOpen(ctx, func() error {
		changed = c.coord.Complete(id, success, message)
		return nil
	})
	return changed, err
}

// Lookup returns a live invocation by id.
func (c *Conn) Lookup(ctx context.Context, id string) (api.Invocation, bool, error) {
	var (
		inv api.Invocation
		ok  bool
	)
	err := c.do(ctx, func() error {
		inv, ok = c.coord.Lookup(id)
		return nil
	})
	return inv, ok, err
}

// SendShutdownReady tells the controller the application may be stopped.
func (c *Conn) SendShutdownReady(ctx context.Context) error {
	if !c.features[api.FeatureShutdown] {
		return api.ErrFeatureDisabled
	}
	return c.doOpen(ctx, func() error {
		return c.send(protocol.ShutdownReady{})
	})
}
