// Package gristtrace records grist write guards and notification passes as
// OpenTelemetry spans.
//
// Spans are recorded retrospectively: when a write guard is released, a
// "grist.write" span is emitted covering the time it was held, followed by a
// "grist.notify" span covering the subscriber pass. Read guards and refused
// TryRead/TryWrite calls are not traced unless enabled, since they are
// usually far more frequent than writes.
//
//	grist.SetObserver(gristtrace.New(
//	    gristtrace.WithTracerName("my-game"),
//	))
//
// The tracer uses the global OpenTelemetry tracer provider unless
// WithTracerProvider is given. Configure it in main():
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
package gristtrace

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gristmill-dev/grist/pkg/grist"
)

// Default tracer name.
const defaultTracerName = "grist"

// Config configures the tracing observer.
type Config struct {
	// TracerName is the name of the tracer (default: "grist").
	TracerName string

	// TracerProvider overrides the global provider.
	TracerProvider trace.TracerProvider

	// TraceReads emits a span for every released read guard.
	TraceReads bool

	// TraceContention emits a span for every refused TryRead/TryWrite.
	TraceContention bool

	// Filter determines which values to trace by WithName label.
	// If nil, all values are traced.
	Filter func(name string) bool
}

// Option configures the tracing observer.
type Option func(*Config)

// WithTracerName sets the tracer name.
func WithTracerName(name string) Option {
	return func(c *Config) {
		c.TracerName = name
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Config) {
		c.TracerProvider = tp
	}
}

// WithReads enables/disables read guard spans.
func WithReads(enabled bool) Option {
	return func(c *Config) {
		c.TraceReads = enabled
	}
}

// WithContention enables/disables spans for refused non-blocking locks.
func WithContention(enabled bool) Option {
	return func(c *Config) {
		c.TraceContention = enabled
	}
}

// WithFilter sets a filter on the WithName label of traced values.
func WithFilter(filter func(name string) bool) Option {
	return func(c *Config) {
		c.Filter = filter
	}
}

func defaultConfig() Config {
	return Config{
		TracerName: defaultTracerName,
	}
}

// Observer implements grist.Observer by emitting spans.
type Observer struct {
	config Config
	tracer trace.Tracer
}

var _ grist.Observer = (*Observer)(nil)

// New creates a tracing observer.
func New(opts ...Option) *Observer {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	var tracer trace.Tracer
	if config.TracerProvider != nil {
		tracer = config.TracerProvider.Tracer(config.TracerName)
	} else {
		tracer = otel.Tracer(config.TracerName)
	}
	return &Observer{config: config, tracer: tracer}
}

func (o *Observer) traced(name string) bool {
	return o.config.Filter == nil || o.config.Filter(name)
}

func baseAttrs(name string, id uint64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int64("grist.id", int64(id)),
	}
	if name != "" {
		attrs = append(attrs, attribute.String("grist.obj", name))
	}
	return attrs
}

// LockAcquired implements grist.Observer. Spans are emitted on release.
func (o *Observer) LockAcquired(grist.LockEvent) {}

// LockReleased implements grist.Observer.
func (o *Observer) LockReleased(e grist.LockEvent) {
	if e.Kind == grist.ReadLock && !o.config.TraceReads {
		return
	}
	if !o.traced(e.Name) {
		return
	}

	attrs := append(baseAttrs(e.Name, e.ID),
		attribute.String("grist.lock", e.Kind.String()),
		attribute.Int64("grist.wait_ns", e.Waited.Nanoseconds()),
	)
	if e.Kind == grist.WriteLock {
		attrs = append(attrs, attribute.Int64("grist.version", int64(e.Version)))
	}

	_, span := o.tracer.Start(context.Background(),
		fmt.Sprintf("grist.%s", e.Kind),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
		trace.WithTimestamp(e.Acquired),
	)
	span.End(trace.WithTimestamp(e.Acquired.Add(e.Held)))
}

// LockContended implements grist.Observer.
func (o *Observer) LockContended(e grist.LockEvent) {
	if !o.config.TraceContention || !o.traced(e.Name) {
		return
	}
	_, span := o.tracer.Start(context.Background(), "grist.contended",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(append(baseAttrs(e.Name, e.ID),
			attribute.String("grist.lock", e.Kind.String()))...),
	)
	span.End()
}

// Notified implements grist.Observer.
func (o *Observer) Notified(e grist.NotifyEvent) {
	if !o.traced(e.Name) {
		return
	}

	_, span := o.tracer.Start(context.Background(), "grist.notify",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(append(baseAttrs(e.Name, e.ID),
			attribute.Int64("grist.version", int64(e.Version)),
			attribute.Int("grist.subscribers", e.Subscribers),
			attribute.Int("grist.panics", e.Panics),
		)...),
		trace.WithTimestamp(e.Start),
	)
	if e.Panics > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d subscriber(s) panicked", e.Panics))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Start.Add(e.Duration)))
}

// Dropped implements grist.Observer.
func (o *Observer) Dropped(name string, id uint64) {
	if !o.traced(name) {
		return
	}
	_, span := o.tracer.Start(context.Background(), "grist.drop",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(baseAttrs(name, id)...),
	)
	span.End()
}
