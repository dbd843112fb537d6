package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes Prometheus metrics for compiles and deployments.
// The recording methods are no-ops on a nil receiver, so callers never
// have to branch; Handler needs a non-nil receiver.
type Metrics struct {
	compiles    *prometheus.CounterVec
	compileTime prometheus.Histogram

	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   prometheus.Histogram

	tasksFinished *prometheus.CounterVec
	taskDuration  prometheus.Histogram

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector with its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		compiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eikobot",
			Name:      "compiles_total",
			Help:      "Number of compilations by status.",
		}, []string{"status"}),
		compileTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "eikobot",
			Name:      "compile_duration_seconds",
			Help:      "Compilation wall time.",
			Buckets:   prometheus.DefBuckets,
		}),
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eikobot",
			Name:      "runs_started_total",
			Help:      "Number of deployment runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eikobot",
			Name:      "runs_completed_total",
			Help:      "Number of deployment runs completed by status.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "eikobot",
			Name:      "run_duration_seconds",
			Help:      "Deployment run wall time.",
			Buckets:   []float64{.1, .5, 1, 5, 15, 60, 300, 900},
		}),
		tasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eikobot",
			Name:      "tasks_finished_total",
			Help:      "Number of tasks reaching a terminal state, by state.",
		}, []string{"state"}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "eikobot",
			Name:      "task_duration_seconds",
			Help:      "Task execution wall time.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	registry.MustRegister(
		m.compiles, m.compileTime,
		m.runsStarted, m.runsCompleted, m.runDuration,
		m.tasksFinished, m.taskDuration,
	)
	return m
}

// CompileFinished records one compilation.
func (m *Metrics) CompileFinished(ok bool, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.compiles.WithLabelValues(status).Inc()
	m.compileTime.Observe(d.Seconds())
}

// RunStarted records the start of a deployment run.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runsStarted.Inc()
}

// RunCompleted records a finished deployment run.
func (m *Metrics) RunCompleted(ok bool, d time.Duration) {
	if m == nil {
		return
	}
	status := "succeeded"
	if !ok {
		status = "failed"
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.Observe(d.Seconds())
}

// TaskFinished records one task reaching a terminal state.
func (m *Metrics) TaskFinished(state string, d time.Duration) {
	if m == nil {
		return
	}
	m.tasksFinished.WithLabelValues(state).Inc()
	if d > 0 {
		m.taskDuration.Observe(d.Seconds())
	}
}

// Handler returns an HTTP handler exposing the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
