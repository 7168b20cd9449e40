package executor

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides Prometheus-compatible instrumentation for a running
// executor, grounded on the teacher's graph/metrics.go PrometheusMetrics
// (same gauge/histogram/counter shape, renamed from "langgraph_" to
// "taskgraph_" and relabeled run_id → workflow run identifiers rather
// than LangGraph step IDs).
type Metrics struct {
	inflightNodes prometheus.Gauge
	queueDepth    prometheus.Gauge
	stepLatency   *prometheus.HistogramVec
	retries       *prometheus.CounterVec
	backpressure  *prometheus.CounterVec
	gated         *prometheus.CounterVec

	mu      sync.RWMutex
	enabled bool
}

// NewMetrics registers the executor's metric set with registry. Pass
// prometheus.DefaultRegisterer for the global registry, or a fresh
// prometheus.NewRegistry() for test isolation.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		enabled: true,
		inflightNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskgraph",
			Name:      "inflight_nodes",
			Help:      "Current number of nodes executing concurrently",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskgraph",
			Name:      "queue_depth",
			Help:      "Number of ready nodes waiting for a dispatch slot",
		}),
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "taskgraph",
			Name:      "step_latency_ms",
			Help:      "Node execution duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"run_id", "node_id", "status"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskgraph",
			Name:      "retries_total",
			Help:      "Cumulative node retry attempts",
		}, []string{"run_id", "node_id", "reason"}),
		backpressure: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskgraph",
			Name:      "backpressure_events_total",
			Help:      "Occasions a dispatch had to wait for a free concurrency slot",
		}, []string{"run_id"}),
		gated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskgraph",
			Name:      "gated_total",
			Help:      "Node completions blocked by the Gate Engine",
		}, []string{"run_id", "node_id"}),
	}
}

func (m *Metrics) recordStepLatency(runID, nodeID string, d time.Duration, status string) {
	if m == nil || !m.enabled {
		return
	}
	m.stepLatency.WithLabelValues(runID, nodeID, status).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) incRetries(runID, nodeID, reason string) {
	if m == nil || !m.enabled {
		return
	}
	m.retries.WithLabelValues(runID, nodeID, reason).Inc()
}

func (m *Metrics) setInflight(n int) {
	if m == nil || !m.enabled {
		return
	}
	m.inflightNodes.Set(float64(n))
}

func (m *Metrics) setQueueDepth(n int) {
	if m == nil || !m.enabled {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) incBackpressure(runID string) {
	if m == nil || !m.enabled {
		return
	}
	m.backpressure.WithLabelValues(runID).Inc()
}

func (m *Metrics) incGated(runID, nodeID string) {
	if m == nil || !m.enabled {
		return
	}
	m.gated.WithLabelValues(runID, nodeID).Inc()
}

// Disable turns off recording without unregistering collectors (useful
// for tests that share a registry).
func (m *Metrics) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
}

// Enable re-enables recording after Disable.
func (m *Metrics) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
}
