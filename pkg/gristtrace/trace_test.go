package gristtrace

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/gristmill-dev/grist/pkg/grist"
)

func newRecorder(t *testing.T) (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return rec, tp
}

func attr(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestObserver_WriteAndNotifySpans(t *testing.T) {
	rec, tp := newRecorder(t)
	obs := New(WithTracerProvider(tp))

	o := grist.New(0, grist.WithName("hp"), grist.WithObserver(obs))
	o.SubscribeFunc(func() {})

	r := o.Read()
	r.Release()
	o.Set(5)
	o.Release()

	spans := rec.Ended()
	if len(spans) != 3 {
		t.Fatalf("expected write, notify and drop spans, got %d", len(spans))
	}

	write, notify, drop := spans[0], spans[1], spans[2]
	if write.Name() != "grist.write" {
		t.Errorf("span[0] = %s, want grist.write", write.Name())
	}
	if v, ok := attr(write, "grist.version"); !ok || v.AsInt64() != 1 {
		t.Errorf("expected grist.version=1 on write span, got %v", v)
	}
	if v, ok := attr(write, "grist.obj"); !ok || v.AsString() != "hp" {
		t.Errorf("expected grist.obj=hp, got %v", v)
	}
	if write.EndTime().Before(write.StartTime()) {
		t.Error("write span ends before it starts")
	}

	if notify.Name() != "grist.notify" {
		t.Errorf("span[1] = %s, want grist.notify", notify.Name())
	}
	if v, _ := attr(notify, "grist.subscribers"); v.AsInt64() != 1 {
		t.Errorf("expected 1 subscriber on notify span, got %v", v)
	}
	if notify.Status().Code != codes.Ok {
		t.Errorf("expected Ok status, got %v", notify.Status())
	}

	if drop.Name() != "grist.drop" {
		t.Errorf("span[2] = %s, want grist.drop", drop.Name())
	}
}

func TestObserver_PanicSetsErrorStatus(t *testing.T) {
	old := grist.Debug
	grist.Debug.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	t.Cleanup(func() { grist.Debug = old })

	rec, tp := newRecorder(t)
	o := grist.New(0, grist.WithObserver(New(WithTracerProvider(tp))))
	defer o.Release()
	o.SubscribeFunc(func() { panic("x") })

	func() {
		defer func() { _ = recover() }()
		o.Set(1)
	}()

	for _, s := range rec.Ended() {
		if s.Name() != "grist.notify" {
			continue
		}
		if s.Status().Code != codes.Error {
			t.Errorf("expected Error status, got %v", s.Status())
		}
		if v, _ := attr(s, "grist.panics"); v.AsInt64() != 1 {
			t.Errorf("expected grist.panics=1, got %v", v)
		}
		return
	}
	t.Fatal("no grist.notify span recorded")
}

func TestObserver_ReadsAndContention(t *testing.T) {
	rec, tp := newRecorder(t)
	obs := New(WithTracerProvider(tp), WithReads(true), WithContention(true))

	o := grist.New(0, grist.WithObserver(obs))
	defer o.Release()

	w := o.Write()
	if _, err := o.TryRead(); err == nil {
		t.Fatal("expected TryRead to be refused")
	}
	w.Release()
	o.Get()

	var names []string
	for _, s := range rec.Ended() {
		names = append(names, s.Name())
	}
	want := []string{"grist.contended", "grist.write", "grist.notify", "grist.read"}
	if len(names) != len(want) {
		t.Fatalf("spans = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("spans = %v, want %v", names, want)
			break
		}
	}
}

func TestObserver_Filter(t *testing.T) {
	rec, tp := newRecorder(t)
	obs := New(WithTracerProvider(tp), WithFilter(func(name string) bool { return name == "traced" }))

	a := grist.New(0, grist.WithName("traced"), grist.WithObserver(obs))
	b := grist.New(0, grist.WithName("quiet"), grist.WithObserver(obs))
	defer a.Release()
	defer b.Release()

	a.Set(1)
	b.Set(1)

	for _, s := range rec.Ended() {
		if v, _ := attr(s, "grist.obj"); v.AsString() != "traced" {
			t.Errorf("unexpected span %s for %v", s.Name(), v)
		}
	}
	if len(rec.Ended()) != 2 {
		t.Errorf("expected 2 spans for the traced value, got %d", len(rec.Ended()))
	}
}

func TestNew_DefaultTracerName(t *testing.T) {
	obs := New()
	if obs.config.TracerName != defaultTracerName {
		t.Errorf("TracerName = %q, want %q", obs.config.TracerName, defaultTracerName)
	}
	// The global no-op provider must not panic.
	obs.Notified(grist.NotifyEvent{Name: "x"})
}
