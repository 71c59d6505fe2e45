package grist

import (
	"errors"
	"reflect"
	"testing"
)

func TestEventEmitInOrder(t *testing.T) {
	var changed Event[bool]

	var got []string
	changed.AddListener(func(v bool) {
		if v {
			got = append(got, "a:on")
		}
	})
	sub := changed.AddListener(func(bool) { got = append(got, "b") })

	changed.Emit(true)
	sub.Unsubscribe()
	changed.Emit(false)

	want := []string{"a:on", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if changed.Listeners() != 1 {
		t.Errorf("expected 1 listener, got %d", changed.Listeners())
	}
}

func TestEventListenerRemovedMidEmit(t *testing.T) {
	e := NewEvent[int]("pressed")

	var second int
	var subB *Subscription
	e.AddListener(func(int) { subB.Unsubscribe() })
	subB = e.AddListener(func(int) { second++ })

	e.Emit(1)
	if second != 0 {
		t.Errorf("listener removed mid-emit still ran")
	}
}

func TestEventPanicPolicy(t *testing.T) {
	withDebug(t, DebugConfig{Logger: discardLogger()})

	e := NewEvent[string]("submit")
	var ran bool
	e.AddListener(func(string) { panic("bad") })
	e.AddListener(func(string) { ran = true })

	defer func() {
		r := recover()
		err, ok := r.(error)
		var npe *NotifyPanicError
		if !ok || !errors.As(err, &npe) {
			t.Fatalf("expected *NotifyPanicError, got %v", r)
		}
		if npe.Source != "submit" {
			t.Errorf("expected source submit, got %q", npe.Source)
		}
		if !ran {
			t.Error("listener after panicking one did not run")
		}
	}()
	e.Emit("x")
}

func TestEventClear(t *testing.T) {
	var e Event[int]
	sub := e.AddListener(func(int) { t.Error("cleared listener ran") })
	e.Clear()
	e.Emit(1)

	if sub.Active() {
		t.Error("cleared subscription should be inactive")
	}
}
