// Package gristmetrics exports grist lock and notification activity as
// Prometheus metrics.
//
//	obs := gristmetrics.New(gristmetrics.WithNamespace("game"))
//	grist.SetObserver(obs)
//
//	// Expose metrics endpoint
//	http.Handle("/metrics", promhttp.Handler())
//
// Metrics collected:
//   - grist_lock_acquisitions_total: Counter of granted guards by kind
//   - grist_lock_wait_seconds: Histogram of time spent waiting for a guard
//   - grist_lock_hold_seconds: Histogram of time a guard was held
//   - grist_lock_contended_total: Counter of TryRead/TryWrite refusals
//   - grist_locks_held: Gauge of guards currently outstanding by kind
//   - grist_notifications_total: Counter of notification passes
//   - grist_notify_duration_seconds: Histogram of notification pass duration
//   - grist_subscriber_panics_total: Counter of recovered subscriber panics
//   - grist_drops_total: Counter of dropped values
//
// Every metric carries an "obj" label holding the WithName label of the
// value, or "unnamed". Name values sparingly: each distinct name is a
// separate series.
package gristmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gristmill-dev/grist/pkg/grist"
)

// Config configures the Prometheus observer.
type Config struct {
	// Namespace is the metrics namespace (default: "grist").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for wait, hold and notify durations.
	// Default: DefaultBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// DefaultBuckets spans 1µs to ~1s.
var DefaultBuckets = prometheus.ExponentialBuckets(1e-6, 4, 11)

// Option configures the Prometheus observer.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "grist",
		Buckets:   DefaultBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Observer implements grist.Observer on top of Prometheus collectors.
type Observer struct {
	acquisitions     *prometheus.CounterVec
	waitSeconds      *prometheus.HistogramVec
	holdSeconds      *prometheus.HistogramVec
	contended        *prometheus.CounterVec
	held             *prometheus.GaugeVec
	notifications    *prometheus.CounterVec
	notifySeconds    *prometheus.HistogramVec
	subscriberPanics *prometheus.CounterVec
	drops            *prometheus.CounterVec
}

var _ grist.Observer = (*Observer)(nil)

// New registers the grist collectors and returns an Observer feeding them.
// Registering twice against the same registry panics, as with any
// promauto collector.
func New(opts ...Option) *Observer {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Observer{
		acquisitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "lock_acquisitions_total",
			Help:        "Total number of guards granted",
			ConstLabels: config.ConstLabels,
		}, []string{"obj", "kind"}),

		waitSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "lock_wait_seconds",
			Help:        "Time spent waiting for a guard in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"obj", "kind"}),

		holdSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "lock_hold_seconds",
			Help:        "Time a guard was held in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"obj", "kind"}),

		contended: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "lock_contended_total",
			Help:        "Total number of non-blocking lock attempts refused",
			ConstLabels: config.ConstLabels,
		}, []string{"obj", "kind"}),

		held: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "locks_held",
			Help:        "Number of guards currently outstanding",
			ConstLabels: config.ConstLabels,
		}, []string{"obj", "kind"}),

		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "notifications_total",
			Help:        "Total number of notification passes",
			ConstLabels: config.ConstLabels,
		}, []string{"obj"}),

		notifySeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "notify_duration_seconds",
			Help:        "Notification pass duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"obj"}),

		subscriberPanics: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "subscriber_panics_total",
			Help:        "Total number of subscriber panics recovered during notification",
			ConstLabels: config.ConstLabels,
		}, []string{"obj"}),

		drops: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "drops_total",
			Help:        "Total number of values dropped",
			ConstLabels: config.ConstLabels,
		}, []string{"obj"}),
	}
}

func label(name string) string {
	if name == "" {
		return "unnamed"
	}
	return name
}

// LockAcquired implements grist.Observer.
func (o *Observer) LockAcquired(e grist.LockEvent) {
	obj, kind := label(e.Name), e.Kind.String()
	o.acquisitions.WithLabelValues(obj, kind).Inc()
	o.waitSeconds.WithLabelValues(obj, kind).Observe(e.Waited.Seconds())
	o.held.WithLabelValues(obj, kind).Inc()
}

// LockReleased implements grist.Observer.
func (o *Observer) LockReleased(e grist.LockEvent) {
	obj, kind := label(e.Name), e.Kind.String()
	o.holdSeconds.WithLabelValues(obj, kind).Observe(e.Held.Seconds())
	o.held.WithLabelValues(obj, kind).Dec()
}

// LockContended implements grist.Observer.
func (o *Observer) LockContended(e grist.LockEvent) {
	o.contended.WithLabelValues(label(e.Name), e.Kind.String()).Inc()
}

// Notified implements grist.Observer.
func (o *Observer) Notified(e grist.NotifyEvent) {
	obj := label(e.Name)
	o.notifications.WithLabelValues(obj).Inc()
	o.notifySeconds.WithLabelValues(obj).Observe(e.Duration.Seconds())
	if e.Panics > 0 {
		o.subscriberPanics.WithLabelValues(obj).Add(float64(e.Panics))
	}
}

// Dropped implements grist.Observer.
func (o *Observer) Dropped(name string, _ uint64) {
	o.drops.WithLabelValues(label(name)).Inc()
}
