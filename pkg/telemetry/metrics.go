// Package telemetry holds the Prometheus collectors and OpenTelemetry tracer
// used by the sync engine.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "urlsync").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for flush delay.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus collectors.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "urlsync",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the engine's collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	writes           *prometheus.CounterVec
	updaterErrors    prometheus.Counter
	flushes          *prometheus.CounterVec
	coalescedWrites  prometheus.Counter
	batchKeys        prometheus.Histogram
	scheduleDelay    prometheus.Histogram
	applyErrors      prometheus.Counter
	navigationErrors prometheus.Counter
	droppedWrites    prometheus.Counter
	mounted          prometheus.Gauge
}

// NewMetrics registers the collectors with the configured registry.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		writes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "writes_total",
			Help:        "Total number of writes accepted into the update queue",
			ConstLabels: config.ConstLabels,
		}, []string{"history"}),

		updaterErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "updater_errors_total",
			Help:        "Total number of writes rejected because the updater failed",
			ConstLabels: config.ConstLabels,
		}),

		flushes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "flushes_total",
			Help:        "Total number of batches applied to the URL",
			ConstLabels: config.ConstLabels,
		}, []string{"history", "shallow"}),

		coalescedWrites: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "coalesced_writes_total",
			Help:        "Total number of writes folded away by last-write-wins",
			ConstLabels: config.ConstLabels,
		}),

		batchKeys: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "batch_keys",
			Help:        "Number of distinct keys per flushed batch",
			ConstLabels: config.ConstLabels,
			Buckets:     prometheus.LinearBuckets(1, 2, 8),
		}),

		scheduleDelay: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "schedule_delay_seconds",
			Help:        "Delay chosen by the rate limiter when arming a flush",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		applyErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "apply_errors_total",
			Help:        "Total number of synchronous adapter apply failures",
			ConstLabels: config.ConstLabels,
		}),

		navigationErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "navigation_errors_total",
			Help:        "Total number of asynchronous router navigation failures",
			ConstLabels: config.ConstLabels,
		}),

		droppedWrites: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "dropped_writes_total",
			Help:        "Total number of queued writes dropped at unmount",
			ConstLabels: config.ConstLabels,
		}),

		mounted: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "mounted_syncers",
			Help:        "Number of currently mounted syncers",
			ConstLabels: config.ConstLabels,
		}),
	}
}

// RecordWrite records an accepted write.
func (m *Metrics) RecordWrite(history string) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(history).Inc()
}

// RecordUpdaterError records a rejected write.
func (m *Metrics) RecordUpdaterError() {
	if m == nil {
		return
	}
	m.updaterErrors.Inc()
}

// RecordFlush records one applied batch.
func (m *Metrics) RecordFlush(history string, shallow bool, keys, writes int) {
	if m == nil {
		return
	}
	s := "false"
	if shallow {
		s = "true"
	}
	m.flushes.WithLabelValues(history, s).Inc()
	m.batchKeys.Observe(float64(keys))
	if writes > keys {
		m.coalescedWrites.Add(float64(writes - keys))
	}
}

// RecordScheduleDelay records the delay chosen for an armed timer.
func (m *Metrics) RecordScheduleDelay(seconds float64) {
	if m == nil {
		return
	}
	m.scheduleDelay.Observe(seconds)
}

// RecordApplyError records a synchronous adapter failure.
func (m *Metrics) RecordApplyError() {
	if m == nil {
		return
	}
	m.applyErrors.Inc()
}

// RecordNavigationError records an asynchronous navigation failure.
func (m *Metrics) RecordNavigationError() {
	if m == nil {
		return
	}
	m.navigationErrors.Inc()
}

// RecordDropped records writes lost at unmount.
func (m *Metrics) RecordDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.droppedWrites.Add(float64(n))
}

// Mounted adjusts the mounted syncer gauge by delta.
func (m *Metrics) Mounted(delta int) {
	if m == nil {
		return
	}
	m.mounted.Add(float64(delta))
}
