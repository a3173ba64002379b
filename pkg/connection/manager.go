package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"neurosdk/pkg/api"
	"neurosdk/pkg/monitor"
	"neurosdk/pkg/schema"

	"github.com/google/uuid"
)

type options struct {
	game       string
	validator  schema.Validator
	listener   api.Listener
	monitor    monitor.Monitor
	logger     *slog.Logger
	startup    []api.Action
	features   map[api.Feature]bool
	sendBuffer int
	flush      time.Duration
}

// Option 設定 Manager
type Option func(*options)

// WithGame 設定每個 envelope 附帶的遊戲名稱
func WithGame(game string) Option {
	return func(o *options) { o.game = game }
}

func WithValidator(v schema.Validator) Option {
	return func(o *options) {
		if v != nil {
			o.validator = v
		}
	}
}

// WithListener 設定事件接收者，多個 listener 依序呼叫
func WithListener(listeners ...api.Listener) Option {
	return func(o *options) {
		var all api.Listeners
		if o.listener != nil {
			all = append(all, o.listener)
		}
		all = append(all, listeners...)
		if len(all) == 1 {
			o.listener = all[0]
			return
		}
		o.listener = all
	}
}

// WithMonitor 設定監控器，收到每一個進出的 frame
func WithMonitor(m monitor.Monitor) Option {
	return func(o *options) { o.monitor = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithStartupActions 設定連線建立後立即註冊的 actions
func WithStartupActions(list ...api.Action) Option {
	return func(o *options) { o.startup = append(o.startup, list...) }
}

// WithFeatures 啟用提案中的協定擴充
func WithFeatures(features ...api.Feature) Option {
	return func(o *options) {
		for _, f := range features {
			o.features[f] = true
		}
	}
}

// WithSendBuffer 設定每個連線的發送佇列大小
func WithSendBuffer(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.sendBuffer = size
		}
	}
}

// WithFlushTimeout 設定 Close 時等待佇列送出的時間，逾時就直接關閉 transport
func WithFlushTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.flush = d
		}
	}
}

// Manager 負責管理所有 controller 連線，並以連線 id 路由所有操作
type Manager struct {
	opts  options
	conns map[string]*Conn
	mu    sync.RWMutex
}

// NewManager 建立一個新的 Manager
func NewManager(opts ...Option) *Manager {
	o := options{
		validator:  schema.Default,
		logger:     slog.Default(),
		features:   make(map[api.Feature]bool),
		sendBuffer: 100, // 預設值
		flush:      5 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Manager{
		opts:  o,
		conns: make(map[string]*Conn),
	}
}

// Dial 建立新連線並完成 startup 流程
func (m *Manager) Dial(ctx context.Context, dial api.Dialer) (*Conn, error) {
	id := uuid.NewString()
	if m.opts.listener != nil {
		m.opts.listener.OnStateChanged(id, api.StateConnecting)
	}

	tr, err := dial(ctx)
	if err != nil {
		m.opts.logger.Warn("Handshake failed", "conn", id, "error", err)
		if m.opts.listener != nil {
			m.opts.listener.OnStateChanged(id, api.StateClosed)
		}
		return nil, fmt.Errorf("connect: %w", err)
	}
	return m.start(ctx, id, tr, false)
}

// Attach 接管一個已建立的 transport (例如由 server 端 accept 的連線)
func (m *Manager) Attach(ctx context.Context, tr api.Transport) (*Conn, error) {
	return m.start(ctx, uuid.NewString(), tr, true)
}

func (m *Manager) start(ctx context.Context, id string, tr api.Transport, announce bool) (*Conn, error) {
	c := newConn(id, tr, &m.opts, m.remove)
	if !announce {
		// Dial already reported Connecting.
		c.skipConnecting = true
	}

	m.mu.Lock()
	m.conns[id] = c
	m.mu.Unlock()

	if err := c.open(ctx, m.opts.startup); err != nil {
		return nil, fmt.Errorf("open %s: %w", id, err)
	}
	return c, nil
}

func (m *Manager) remove(c *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conns[c.id] == c {
		delete(m.conns, c.id)
	}
}

// Conn 取得特定的連線
func (m *Manager) Conn(id string) (*Conn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", api.ErrUnknownConnection, id)
	}
	return c, nil
}

// Connections 回傳所有尚未關閉的連線，依 id 排序
func (m *Manager) Connections() []*Conn {
	m.mu.RLock()
	out := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		out = append(out, c)
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Conn) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})
	return out
}

// Context 回傳 context 訊息的廣播器
func (m *Manager) Context() ContextBroadcaster {
	return ContextBroadcaster{m: m}
}

func (m *Manager) Register(ctx context.Context, connID string, list ...api.Action) error {
	c, err := m.Conn(connID)
	if err != nil {
		return err
	}
	return c.Register(ctx, list...)
}

func (m *Manager) Unregister(ctx context.Context, connID string, names ...string) ([]string, error) {
	c, err := m.Conn(connID)
	if err != nil {
		return nil, err
	}
	return c.Unregister(ctx, names...)
}

func (m *Manager) Resolve(connID, name string) (api.Action, bool) {
	c, err := m.Conn(connID)
	if err != nil {
		return api.Action{}, false
	}
	return c.Resolve(name)
}

func (m *Manager) Snapshot(connID string) []api.Action {
	c, err := m.Conn(connID)
	if err != nil {
		return nil
	}
	return c.Snapshot()
}

func (m *Manager) Force(ctx context.Context, connID string, names []string, description string, opts ForceOptions) (string, error) {
	c, err := m.Conn(connID)
	if err != nil {
		return "", err
	}
	return c.Force(ctx, names, description, opts)
}

func (m *Manager) Complete(ctx context.Context, connID, invocationID string, success bool, message string) (bool, error) {
	c, err := m.Conn(connID)
	if err != nil {
		return false, err
	}
	return c.Complete(ctx, invocationID, success, message)
}

func (m *Manager) SendContext(ctx context.Context, connID, text string, silent bool) error {
	return m.Context().Send(ctx, connID, text, silent)
}

func (m *Manager) SendShutdownReady(ctx context.Context, connID string) error {
	c, err := m.Conn(connID)
	if err != nil {
		return err
	}
	return c.SendShutdownReady(ctx)
}

// Close 關閉特定連線
func (m *Manager) Close(ctx context.Context, connID string) error {
	c, err := m.Conn(connID)
	if err != nil {
		return err
	}
	return c.Close(ctx)
}

// CloseAll 關閉所有連線
func (m *Manager) CloseAll(ctx context.Context) error {
	var errs []error
	for _, c := range m.Connections() {
		if err := c.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.id, err))
		}
	}
	return errors.Join(errs...)
}
