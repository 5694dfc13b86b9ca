package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the hub's Prometheus metrics. Each instance owns its
// registry so several hubs (tests) can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Agent metrics
	AgentsConnected prometheus.Gauge
	AgentMessages   *prometheus.CounterVec

	// Shell metrics
	ShellsActive prometheus.Gauge
	ShellBytes   *prometheus.CounterVec

	// HyperDeck command relay metrics
	CommandsTotal   *prometheus.CounterVec
	CommandDuration prometheus.Histogram
}

// NewMetrics creates a metrics collector with a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "c2_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "c2_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		AgentsConnected: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "c2_agents_connected",
				Help: "Number of agents currently connected to the hub",
			},
		),
		AgentMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "c2_agent_messages_total",
				Help: "Messages exchanged with agents",
			},
			[]string{"direction", "kind"},
		),

		ShellsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "c2_shells_active",
				Help: "Number of shell sessions currently bridged",
			},
		),
		ShellBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "c2_shell_bytes_total",
				Help: "Bytes relayed through shell sessions",
			},
			[]string{"direction"},
		),

		CommandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "c2_hyperdeck_commands_total",
				Help: "HyperDeck commands relayed, by outcome",
			},
			[]string{"outcome"},
		),
		CommandDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "c2_hyperdeck_command_duration_seconds",
				Help:    "Round trip time of relayed HyperDeck commands",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordAgentMessage counts one hub<->agent message. direction is "in" or "out".
func (m *Metrics) RecordAgentMessage(direction, kind string) {
	m.AgentMessages.WithLabelValues(direction, kind).Inc()
}

// RecordShellBytes counts relayed shell bytes. direction is "in" (operator to
// agent) or "out" (agent to operator).
func (m *Metrics) RecordShellBytes(direction string, n int) {
	m.ShellBytes.WithLabelValues(direction).Add(float64(n))
}

// RecordCommand records the outcome of a relayed HyperDeck command.
func (m *Metrics) RecordCommand(outcome string, duration time.Duration) {
	m.CommandsTotal.WithLabelValues(outcome).Inc()
	m.CommandDuration.Observe(duration.Seconds())
}
