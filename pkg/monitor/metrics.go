package monitor

import (
	"net/http"
	"sync"

	"neurosdk/pkg/api"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics counts protocol traffic and invocation outcomes. It is both a
// Monitor (frames) and an api.Listener (connection and invocation events).
type Metrics struct {
	api.NopListener

	registry    *prometheus.Registry
	frames      *prometheus.CounterVec
	dispatched  prometheus.Counter
	finished    *prometheus.CounterVec
	connections prometheus.Gauge
	actions     *prometheus.GaugeVec

	mu   sync.Mutex
	open map[string]struct{}
}

// NewMetrics creates collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "neurosdk",
			Name:      "frames_total",
			Help:      "Protocol frames by direction and command.",
		}, []string{"direction", "command"}),
		dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "neurosdk",
			Name:      "invocations_dispatched_total",
			Help:      "Invocations handed to the application.",
		}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "neurosdk",
			Name:      "invocations_finished_total",
			Help:      "Invocations reaching a terminal state.",
		}, []string{"state", "forced"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "neurosdk",
			Name:      "connections_open",
			Help:      "Connections currently open.",
		}),
		actions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "neurosdk",
			Name:      "registered_actions",
			Help:      "Actions registered per connection.",
		}, []string{"conn"}),
		open: make(map[string]struct{}),
	}
	m.registry.MustRegister(m.frames, m.dispatched, m.finished, m.connections, m.actions)
	return m
}

// Registry exposes the underlying registry, e.g. for tests or extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Start() error { return nil }
func (m *Metrics) Stop() error  { return nil }

func (m *Metrics) OnMessage(msg MonitorMessage) {
	m.frames.WithLabelValues(string(msg.Direction), msg.Command).Inc()
}

func (m *Metrics) OnStateChanged(connID string, state api.ConnectionState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch state {
	case api.StateOpen:
		if _, ok := m.open[connID]; !ok {
			m.open[connID] = struct{}{}
			m.connections.Inc()
		}
	case api.StateClosed:
		if _, ok := m.open[connID]; ok {
			delete(m.open, connID)
			m.connections.Dec()
		}
		m.actions.DeleteLabelValues(connID)
	}
}

func (m *Metrics) OnRegistryChanged(connID string, snapshot []api.Action) {
	m.actions.WithLabelValues(connID).Set(float64(len(snapshot)))
}

func (m *Metrics) OnActionDispatched(string, api.Invocation) {
	m.dispatched.Inc()
}

func (m *Metrics) OnInvocationFinished(_ string, inv api.Invocation) {
	forced := "false"
	if inv.Forced {
		forced = "true"
	}
	m.finished.WithLabelValues(inv.State.String(), forced).Inc()
}

var (
	_ Monitor      = (*Metrics)(nil)
	_ api.Listener = (*Metrics)(nil)
)
