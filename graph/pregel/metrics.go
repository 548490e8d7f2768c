package pregel

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes Prometheus-compatible instrumentation for the superstep
// scheduler, adapted from the teacher's PrometheusMetrics
// (graph/metrics.go) from one node-per-execution model to supersteps:
// inflight tasks within a superstep, task latency per node, retry counts,
// interrupt counts, and committed-step counts. All metrics are namespaced
// "graphkit_".
type Metrics struct {
	inflightTasks prometheus.Gauge
	stepsTotal    prometheus.Counter

	taskLatency *prometheus.HistogramVec
	retries     *prometheus.CounterVec
	interrupts  *prometheus.CounterVec

	mu      sync.RWMutex
	enabled bool
}

// NewMetrics registers scheduler metrics with registry (use
// prometheus.DefaultRegisterer for the global registry, or a fresh
// prometheus.NewRegistry() for test isolation).
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		enabled: true,
		inflightTasks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "graphkit",
			Name:      "inflight_tasks",
			Help:      "Current number of tasks executing within a superstep",
		}),
		stepsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "graphkit",
			Name:      "steps_committed_total",
			Help:      "Cumulative number of supersteps committed across all threads",
		}),
		taskLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "graphkit",
			Name:      "task_latency_ms",
			Help:      "Node execution duration in milliseconds within a superstep",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"thread_id", "node_id", "status"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graphkit",
			Name:      "retries_total",
			Help:      "Cumulative count of node retry attempts",
		}, []string{"thread_id", "node_id"}),
		interrupts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graphkit",
			Name:      "interrupts_total",
			Help:      "Cumulative count of human-in-the-loop interrupts raised",
		}, []string{"thread_id", "node_id"}),
	}
}

func (m *Metrics) isEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// Disable stops recording without unregistering collectors, useful in tests
// that share a registry across cases.
func (m *Metrics) Disable() {
	m.mu.Lock()
	m.enabled = false
	m.mu.Unlock()
}

// Enable resumes recording after Disable.
func (m *Metrics) Enable() {
	m.mu.Lock()
	m.enabled = true
	m.mu.Unlock()
}

func (m *Metrics) recordTaskLatency(threadID, nodeID string, d time.Duration, status string) {
	if !m.isEnabled() {
		return
	}
	m.taskLatency.WithLabelValues(threadID, nodeID, status).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) incrementRetries(threadID, nodeID string) {
	if !m.isEnabled() {
		return
	}
	m.retries.WithLabelValues(threadID, nodeID).Inc()
}

func (m *Metrics) incrementInterrupts(threadID, nodeID string) {
	if !m.isEnabled() {
		return
	}
	m.interrupts.WithLabelValues(threadID, nodeID).Inc()
}

func (m *Metrics) setInflightTasks(n int) {
	if !m.isEnabled() {
		return
	}
	m.inflightTasks.Set(float64(n))
}

func (m *Metrics) incrementStepsCommitted() {
	if !m.isEnabled() {
		return
	}
	m.stepsTotal.Inc()
}
