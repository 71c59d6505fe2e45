package gristmetrics

import (
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/gristmill-dev/grist/pkg/grist"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func metricCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	if m.Counter == nil {
		t.Fatal("expected counter metric to have Counter field")
	}
	return m.GetCounter().GetValue()
}

func metricGaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("gauge Write() error: %v", err)
	}
	if m.Gauge == nil {
		t.Fatal("expected gauge metric to have Gauge field")
	}
	return m.GetGauge().GetValue()
}

func metricHistogramCount(t *testing.T, o prometheus.Observer) uint64 {
	t.Helper()
	metric, ok := o.(prometheus.Metric)
	if !ok {
		t.Fatalf("observer %T does not implement prometheus.Metric", o)
	}
	var m dto.Metric
	if err := metric.Write(&m); err != nil {
		t.Fatalf("histogram Write() error: %v", err)
	}
	if m.Histogram == nil {
		t.Fatal("expected histogram metric to have Histogram field")
	}
	return m.GetHistogram().GetSampleCount()
}

func TestObserver_LockMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := New(WithRegistry(reg))

	o := grist.New(0, grist.WithName("score"), grist.WithObserver(obs))
	defer o.Release()

	r := o.Read()
	if got := metricGaugeValue(t, obs.held.WithLabelValues("score", "read")); got != 1 {
		t.Fatalf("locks_held(read)=%v, want 1", got)
	}
	if _, err := o.TryWrite(); err == nil {
		t.Fatal("expected TryWrite to be refused under a read guard")
	}
	r.Release()

	o.Set(1)
	o.Set(2)

	if got := metricCounterValue(t, obs.acquisitions.WithLabelValues("score", "read")); got != 1 {
		t.Errorf("lock_acquisitions_total(read)=%v, want 1", got)
	}
	if got := metricCounterValue(t, obs.acquisitions.WithLabelValues("score", "write")); got != 2 {
		t.Errorf("lock_acquisitions_total(write)=%v, want 2", got)
	}
	if got := metricCounterValue(t, obs.contended.WithLabelValues("score", "write")); got != 1 {
		t.Errorf("lock_contended_total(write)=%v, want 1", got)
	}
	if got := metricGaugeValue(t, obs.held.WithLabelValues("score", "read")); got != 0 {
		t.Errorf("locks_held(read)=%v, want 0", got)
	}
	if got := metricHistogramCount(t, obs.holdSeconds.WithLabelValues("score", "write")); got != 2 {
		t.Errorf("lock_hold_seconds(write) count=%d, want 2", got)
	}
	if got := metricHistogramCount(t, obs.waitSeconds.WithLabelValues("score", "read")); got != 1 {
		t.Errorf("lock_wait_seconds(read) count=%d, want 1", got)
	}
}

func TestObserver_NotifyAndDropMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := New(WithRegistry(reg), WithNamespace("game"))

	o := grist.New("", grist.WithObserver(obs))
	o.SubscribeFunc(func() { panic("bad subscriber") })
	o.SubscribeFunc(func() {})

	old := grist.Debug
	grist.Debug.Logger = discardLogger()
	t.Cleanup(func() { grist.Debug = old })

	func() {
		defer func() { _ = recover() }()
		o.Set("x")
	}()
	o.Release()

	if got := metricCounterValue(t, obs.notifications.WithLabelValues("unnamed")); got != 1 {
		t.Errorf("notifications_total=%v, want 1", got)
	}
	if got := metricCounterValue(t, obs.subscriberPanics.WithLabelValues("unnamed")); got != 1 {
		t.Errorf("subscriber_panics_total=%v, want 1", got)
	}
	if got := metricHistogramCount(t, obs.notifySeconds.WithLabelValues("unnamed")); got != 1 {
		t.Errorf("notify_duration_seconds count=%d, want 1", got)
	}
	if got := metricCounterValue(t, obs.drops.WithLabelValues("unnamed")); got != 1 {
		t.Errorf("drops_total=%v, want 1", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "game_drops_total" {
			found = true
		}
	}
	if !found {
		t.Error("expected game_drops_total to be registered under the custom namespace")
	}
}

func TestObserver_ConstLabelsAndBuckets(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := New(
		WithRegistry(reg),
		WithSubsystem("ui"),
		WithConstLabels(prometheus.Labels{"instance": "a"}),
		WithBuckets([]float64{0.001, 0.01}),
	)

	o := grist.New(0, grist.WithObserver(obs))
	o.Set(1)
	o.Release()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	for _, f := range families {
		if f.GetName() != "grist_ui_lock_hold_seconds" {
			continue
		}
		m := f.GetMetric()[0]
		if len(m.GetHistogram().GetBucket()) != 2 {
			t.Errorf("expected 2 buckets, got %d", len(m.GetHistogram().GetBucket()))
		}
		var hasInstance bool
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "instance" && lp.GetValue() == "a" {
				hasInstance = true
			}
		}
		if !hasInstance {
			t.Error("expected const label instance=a")
		}
		return
	}
	t.Fatal("grist_ui_lock_hold_seconds not gathered")
}
