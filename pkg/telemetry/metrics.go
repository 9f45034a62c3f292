package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for the agent.
type Metrics struct {
	config MetricsConfig

	// Cycle metrics
	cyclesStarted   prometheus.Counter
	cyclesCompleted *prometheus.CounterVec
	cycleDuration   *prometheus.HistogramVec

	// Plan metrics
	plannedActions *prometheus.CounterVec

	// Step metrics
	stepsExecuted *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec

	// Fetch metrics
	fetches       *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec

	// Refresh metrics
	refreshWaits        *prometheus.CounterVec
	refreshWaitDuration prometheus.Histogram

	// Runtime metrics
	modules *prometheus.GaugeVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// Policy metrics
	policyViolations *prometheus.CounterVec

	// Worker metrics
	activeCycles     prometheus.Gauge
	pendingSnapshots prometheus.Gauge

	registry *prometheus.Registry
	server   *http.Server
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		cyclesStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycles_started_total",
				Help:      "Total number of reconciliation cycles started",
			},
		),
		cyclesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycles_completed_total",
				Help:      "Total number of reconciliation cycles completed",
			},
			[]string{"status"},
		),
		cycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cycle_duration_seconds",
				Help:      "Duration of reconciliation cycles in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		plannedActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "planned_actions_total",
				Help:      "Total number of modules classified per plan action",
			},
			[]string{"action"},
		),

		stepsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_executed_total",
				Help:      "Total number of execution steps run",
			},
			[]string{"step", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of execution steps in seconds",
				Buckets:   buckets,
			},
			[]string{"step"},
		),

		fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetches_total",
				Help:      "Total number of artifact and repository fetches",
			},
			[]string{"scheme", "status"},
		),
		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Duration of fetches in seconds",
				Buckets:   buckets,
			},
			[]string{"scheme"},
		),

		refreshWaits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_waits_total",
				Help:      "Total number of refresh waits by outcome",
			},
			[]string{"outcome"},
		),
		refreshWaitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "refresh_wait_seconds",
				Help:      "Time spent waiting for refresh completion in seconds",
				Buckets:   buckets,
			},
		),

		modules: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "modules",
				Help:      "Current number of installed modules by state",
			},
			[]string{"state"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Total number of plan guard violations",
			},
			[]string{"policy", "severity"},
		),

		activeCycles: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_cycles",
				Help:      "Number of cycles currently running (0 or 1)",
			},
		),
		pendingSnapshots: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_snapshots",
				Help:      "Number of snapshots waiting for the worker (0 or 1)",
			},
		),
	}

	registry.MustRegister(
		m.cyclesStarted,
		m.cyclesCompleted,
		m.cycleDuration,
		m.plannedActions,
		m.stepsExecuted,
		m.stepDuration,
		m.fetches,
		m.fetchDuration,
		m.refreshWaits,
		m.refreshWaitDuration,
		m.modules,
		m.errorsByClass,
		m.errorsByCode,
		m.policyViolations,
		m.activeCycles,
		m.pendingSnapshots,
	)

	return m, nil
}

// Cycle Metrics

// RecordCycleStarted increments the counter for started cycles.
func (m *Metrics) RecordCycleStarted() {
	if m == nil || m.cyclesStarted == nil {
		return
	}
	m.cyclesStarted.Inc()
	m.activeCycles.Inc()
}

// RecordCycleCompleted records a completed cycle with its status and duration.
func (m *Metrics) RecordCycleCompleted(status string, duration time.Duration) {
	if m == nil || m.cyclesCompleted == nil {
		return
	}
	m.cyclesCompleted.WithLabelValues(status).Inc()
	m.cycleDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeCycles.Dec()
}

// RecordPlan records the action counts of a computed plan.
func (m *Metrics) RecordPlan(ignore, update, del, install int) {
	if m == nil || m.plannedActions == nil {
		return
	}
	m.plannedActions.WithLabelValues("ignore").Add(float64(ignore))
	m.plannedActions.WithLabelValues("update").Add(float64(update))
	m.plannedActions.WithLabelValues("delete").Add(float64(del))
	m.plannedActions.WithLabelValues("install").Add(float64(install))
}

// Step Metrics

// RecordStep records the execution of one plan step.
func (m *Metrics) RecordStep(step, status string, duration time.Duration) {
	if m == nil || m.stepsExecuted == nil {
		return
	}
	m.stepsExecuted.WithLabelValues(step, status).Inc()
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// Fetch Metrics

// RecordFetch records a fetch with its scheme, outcome and duration.
func (m *Metrics) RecordFetch(scheme string, err error, duration time.Duration) {
	if m == nil || m.fetches == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.fetches.WithLabelValues(scheme, status).Inc()
	m.fetchDuration.WithLabelValues(scheme).Observe(duration.Seconds())
}

// Refresh Metrics

// RecordRefreshWait records how a refresh wait ended.
func (m *Metrics) RecordRefreshWait(duration time.Duration, timedOut bool) {
	if m == nil || m.refreshWaits == nil {
		return
	}
	outcome := "confirmed"
	if timedOut {
		outcome = "timeout"
	}
	m.refreshWaits.WithLabelValues(outcome).Inc()
	m.refreshWaitDuration.Observe(duration.Seconds())
}

// Runtime Metrics

// SetModuleCount sets the current count of modules in a state.
func (m *Metrics) SetModuleCount(state string, count float64) {
	if m == nil || m.modules == nil {
		return
	}
	m.modules.WithLabelValues(state).Set(count)
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m == nil || m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Policy Metrics

// RecordPolicyViolation records a plan guard finding.
func (m *Metrics) RecordPolicyViolation(policy, severity string) {
	if m == nil || m.policyViolations == nil {
		return
	}
	m.policyViolations.WithLabelValues(policy, severity).Inc()
}

// Worker Metrics

// SetPendingSnapshots sets the number of snapshots waiting for the worker.
func (m *Metrics) SetPendingSnapshots(count float64) {
	if m == nil || m.pendingSnapshots == nil {
		return
	}
	m.pendingSnapshots.Set(count)
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("address", m.config.ListenAddress).Msg("Metrics server stopped")
		}
	}()

	return nil
}

// Shutdown stops the metrics server if it was started.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
