package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for homestack.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Unit metrics
	unitsResolved *prometheus.CounterVec
	unitReady     *prometheus.HistogramVec
	probeAttempts *prometheus.HistogramVec

	// Conflict metrics
	quarantines *prometheus.CounterVec

	// Provisioning metrics
	provisions        *prometheus.CounterVec
	provisionDuration *prometheus.HistogramVec

	// Backend metrics
	backendCalls    *prometheus.CounterVec
	backendDuration *prometheus.HistogramVec
	backendErrors   *prometheus.CounterVec

	// Error metrics
	errorsByKind *prometheus.CounterVec
	errorsByCode *prometheus.CounterVec

	// System metrics
	activeRuns    prometheus.Gauge
	unitsInFlight prometheus.Gauge

	registry *prometheus.Registry
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

	// Create a new registry
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		// Run metrics
		runsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of convergence runs started",
			},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of convergence runs completed",
			},
			[]string{"verdict"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of convergence runs in seconds",
				Buckets:   buckets,
			},
			[]string{"verdict"},
		),

		// Unit metrics
		unitsResolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "units_resolved_total",
				Help:      "Total number of units by terminal state",
			},
			[]string{"state"},
		),
		unitReady: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "unit_ready_seconds",
				Help:      "Time from backend start to a healthy readiness verdict",
				Buckets:   buckets,
			},
			[]string{"unit"},
		),
		probeAttempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "probe_attempts",
				Help:      "Readiness observations made before a unit settled",
				Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34},
			},
			[]string{"unit"},
		),

		// Conflict metrics
		quarantines: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quarantines_total",
				Help:      "Total number of foreign resources renamed aside",
			},
			[]string{"unit"},
		),

		// Provisioning metrics
		provisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provisions_total",
				Help:      "Total number of provisioning tasks by outcome",
			},
			[]string{"kind", "outcome"},
		),
		provisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provision_duration_seconds",
				Help:      "Duration of provisioning ensure calls in seconds",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),

		// Backend metrics
		backendCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_calls_total",
				Help:      "Total number of backend lifecycle calls",
			},
			[]string{"operation"},
		),
		backendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backend_call_duration_seconds",
				Help:      "Duration of backend lifecycle calls in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		backendErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_errors_total",
				Help:      "Total number of backend call failures",
			},
			[]string{"operation"},
		),

		// Error metrics
		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_kind_total",
				Help:      "Total number of errors by error kind",
			},
			[]string{"kind"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		// System metrics
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active convergence runs",
			},
		),
		unitsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "units_in_flight",
				Help:      "Current number of units starting or probing",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.unitsResolved,
		m.unitReady,
		m.probeAttempts,
		m.quarantines,
		m.provisions,
		m.provisionDuration,
		m.backendCalls,
		m.backendDuration,
		m.backendErrors,
		m.errorsByKind,
		m.errorsByCode,
		m.activeRuns,
		m.unitsInFlight,
	)

	return m, nil
}

// Run Metrics

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted() {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a completed run with its verdict and duration.
func (m *Metrics) RecordRunCompleted(verdict string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(verdict).Inc()
	m.runDuration.WithLabelValues(verdict).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// Unit Metrics

// RecordUnitStarting marks a unit as in flight.
func (m *Metrics) RecordUnitStarting() {
	if m.unitsInFlight == nil {
		return
	}
	m.unitsInFlight.Inc()
}

// RecordUnitResolved records a unit reaching a terminal state. Blocked units
// never left Pending, so only started units leave the in-flight gauge.
func (m *Metrics) RecordUnitResolved(state string) {
	if m.unitsResolved == nil {
		return
	}
	m.unitsResolved.WithLabelValues(state).Inc()
	switch state {
	case "healthy", "unhealthy", "failed":
		m.unitsInFlight.Dec()
	}
}

// RecordUnitReady records how long a unit took from start to healthy.
func (m *Metrics) RecordUnitReady(unit string, elapsed time.Duration) {
	if m.unitReady == nil {
		return
	}
	m.unitReady.WithLabelValues(unit).Observe(elapsed.Seconds())
}

// RecordProbeAttempts records how many readiness observations a unit needed.
func (m *Metrics) RecordProbeAttempts(unit string, attempts int) {
	if m.probeAttempts == nil {
		return
	}
	m.probeAttempts.WithLabelValues(unit).Observe(float64(attempts))
}

// Conflict Metrics

// RecordQuarantine records a foreign resource being renamed aside.
func (m *Metrics) RecordQuarantine(unit string) {
	if m.quarantines == nil {
		return
	}
	m.quarantines.WithLabelValues(unit).Inc()
}

// Provisioning Metrics

// RecordProvision records a provisioning task outcome with its duration.
func (m *Metrics) RecordProvision(kind, outcome string, duration time.Duration) {
	if m.provisions == nil {
		return
	}
	m.provisions.WithLabelValues(kind, outcome).Inc()
	m.provisionDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// Backend Metrics

// RecordBackendCall records a backend lifecycle call with its duration.
func (m *Metrics) RecordBackendCall(operation string, duration time.Duration, err error) {
	if m.backendCalls == nil {
		return
	}
	m.backendCalls.WithLabelValues(operation).Inc()
	m.backendDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.backendErrors.WithLabelValues(operation).Inc()
	}
}

// Error Metrics

// RecordError records an error by kind and optionally by code.
func (m *Metrics) RecordError(kind, code string) {
	if m.errorsByKind == nil {
		return
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
	if code != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(code).Inc()
	}
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

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
