package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for upgrades. A nil *Metrics or one
// created with metrics disabled records nothing.
type Metrics struct {
	config MetricsConfig

	planAttempts *prometheus.CounterVec
	planDuration *prometheus.HistogramVec
	stepsApplied *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	bootOutcomes *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		planAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plan_attempts_total",
				Help:      "Total number of migration plan attempts",
			},
			[]string{"plan", "kind", "status"},
		),
		planDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "plan_duration_seconds",
				Help:      "Duration of migration plan attempts in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind", "status"},
		),
		stepsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_total",
				Help:      "Total number of migration steps attempted",
			},
			[]string{"plan", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of migration steps in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"plan"},
		),
		bootOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unattended_upgrades_total",
				Help:      "Total number of unattended upgrade outcomes",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		m.planAttempts,
		m.planDuration,
		m.stepsApplied,
		m.stepDuration,
		m.bootOutcomes,
	)

	return m, nil
}

// RecordPlanAttempt records one plan attempt with its duration.
func (m *Metrics) RecordPlanAttempt(plan, kind string, duration time.Duration, err error) {
	if m == nil || m.planAttempts == nil {
		return
	}
	status := statusOf(err)
	m.planAttempts.WithLabelValues(plan, kind, status).Inc()
	m.planDuration.WithLabelValues(kind, status).Observe(duration.Seconds())
}

// ObserveStep records one step attempt. It satisfies migrations.StepObserver.
func (m *Metrics) ObserveStep(plan string, duration time.Duration, err error) {
	if m == nil || m.stepsApplied == nil {
		return
	}
	m.stepsApplied.WithLabelValues(plan, statusOf(err)).Inc()
	m.stepDuration.WithLabelValues(plan).Observe(duration.Seconds())
}

// RecordOutcome records the outcome of an unattended upgrade.
func (m *Metrics) RecordOutcome(outcome string) {
	if m == nil || m.bootOutcomes == nil {
		return
	}
	m.bootOutcomes.WithLabelValues(outcome).Inc()
}

// Registry returns the underlying registry, nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server exposing metrics. It returns the
// server so the caller can shut it down, or nil when nothing was started.
func (m *Metrics) StartMetricsServer(errorf func(error)) *http.Server {
	if m == nil || !m.config.Enabled || m.config.ListenAddress == "" {
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
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed && errorf != nil {
			errorf(err)
		}
	}()

	return server
}

func statusOf(err error) string {
	if err != nil {
		return "failed"
	}
	return "succeeded"
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
