package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for task execution.
type Metrics struct {
	config MetricsConfig

	tasksCompleted *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec
	taskRetries    *prometheus.CounterVec
	waits          *prometheus.CounterVec
	waitPolls      *prometheus.HistogramVec
	activeTasks    prometheus.Gauge

	registry *prometheus.Registry
	server   *http.Server
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
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

		tasksCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_completed_total",
				Help:      "Total number of tasks completed by outcome",
			},
			[]string{"task", "status"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Duration of task execution in seconds",
				Buckets:   buckets,
			},
			[]string{"task"},
		),
		taskRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_retries_total",
				Help:      "Total number of failed attempts followed by remediation",
			},
			[]string{"task"},
		),
		waits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "waits_total",
				Help:      "Total number of convergence waits by outcome",
			},
			[]string{"task", "outcome"},
		),
		waitPolls: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "wait_polls",
				Help:      "Number of polls per convergence wait",
				Buckets:   []float64{1, 2, 3, 5, 10, 20, 40, 60},
			},
			[]string{"task"},
		),
		activeTasks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_tasks",
				Help:      "Number of tasks currently executing",
			},
		),
	}

	registry.MustRegister(
		m.tasksCompleted,
		m.taskDuration,
		m.taskRetries,
		m.waits,
		m.waitPolls,
		m.activeTasks,
	)

	return m, nil
}

// RecordTaskStarted tracks a task entering Apply.
func (m *Metrics) RecordTaskStarted() {
	if m.activeTasks == nil {
		return
	}
	m.activeTasks.Inc()
}

// RecordTaskCompleted records a finished task with its status and duration.
func (m *Metrics) RecordTaskCompleted(task, status string, duration time.Duration) {
	if m.tasksCompleted == nil {
		return
	}
	m.activeTasks.Dec()
	m.tasksCompleted.WithLabelValues(task, status).Inc()
	m.taskDuration.WithLabelValues(task).Observe(duration.Seconds())
}

// RecordRetry records one failed attempt of task.
func (m *Metrics) RecordRetry(task string) {
	if m.taskRetries == nil {
		return
	}
	m.taskRetries.WithLabelValues(task).Inc()
}

// RecordWait records a finished convergence wait.
func (m *Metrics) RecordWait(task, outcome string, polls int) {
	if m.waits == nil {
		return
	}
	m.waits.WithLabelValues(task, outcome).Inc()
	m.waitPolls.WithLabelValues(task).Observe(float64(polls))
}

// Gatherer exposes the registry, or nil when metrics are disabled.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m.registry == nil {
		return nil
	}
	return m.registry
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

// StartMetricsServer serves metrics while the run lasts.
func (m *Metrics) StartMetricsServer(errs func(error)) {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())
	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) && errs != nil {
			errs(err)
		}
	}()
}

// WriteTextfile dumps the registry to path in text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if m.registry == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}

// Shutdown stops the metrics server, if running.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
