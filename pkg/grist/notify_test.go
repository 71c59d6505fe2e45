package grist

import (
	"bytes"
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"testing"
)

func TestVersionIncrementsOncePerWrite(t *testing.T) {
	o := New(0)
	defer o.Release()

	for i := 1; i <= 5; i++ {
		w := o.Write()
		w.Set(i)
		w.Release()
		if o.Version() != uint64(i) {
			t.Fatalf("after %d writes expected version %d, got %d", i, i, o.Version())
		}
	}

	before := o.Version()
	for i := 0; i < 10; i++ {
		_ = o.Get()
		r, _ := o.TryRead()
		r.Release()
	}
	if o.Version() != before {
		t.Errorf("reads changed the version from %d to %d", before, o.Version())
	}
}

func TestWriteWithoutChangeStillBumps(t *testing.T) {
	o := New(1)
	defer o.Release()

	w := o.Write()
	w.Release()

	if o.Version() != 1 {
		t.Errorf("every completed write guard bumps the version, got %d", o.Version())
	}
}

func TestSubscribersRunInOrderOncePerWrite(t *testing.T) {
	o := New(0)
	defer o.Release()

	var calls []string
	o.SubscribeFunc(func() { calls = append(calls, "a") })
	o.SubscribeFunc(func() { calls = append(calls, "b") })
	o.SubscribeFunc(func() { calls = append(calls, "c") })

	o.Set(1)
	o.Set(2)
	o.Set(3)

	want := []string{"a", "b", "c", "a", "b", "c", "a", "b", "c"}
	if !reflect.DeepEqual(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestNotifyAfterUnlockAndVersionBump(t *testing.T) {
	o := New(0)
	defer o.Release()

	var sawVersion uint64
	var tryErr error
	var nested bool
	o.SubscribeFunc(func() {
		if nested {
			return
		}
		nested = true
		sawVersion = o.Version()
		w, err := o.TryWrite()
		tryErr = err
		if err == nil {
			w.Release()
		}
	})

	o.Set(10)

	if tryErr != nil {
		t.Fatalf("TryWrite inside subscriber should succeed after unlock, got %v", tryErr)
	}
	if sawVersion != 1 {
		t.Errorf("subscriber should see the bumped version 1, got %d", sawVersion)
	}
	if o.Version() != 2 {
		t.Errorf("expected the nested write to bump to 2, got %d", o.Version())
	}
}

func TestSubscriberCanReadNewValue(t *testing.T) {
	o := New("old")
	defer o.Release()

	var seen string
	o.SubscribeFunc(func() { seen = o.Get() })
	o.Set("new")

	if seen != "new" {
		t.Errorf("subscriber saw %q, want %q", seen, "new")
	}
}

func TestUnsubscribeDuringOwnCallback(t *testing.T) {
	o := New(0)
	defer o.Release()

	var a, b int
	var subA *Subscription
	subA = o.SubscribeFunc(func() {
		a++
		subA.Unsubscribe()
	})
	o.SubscribeFunc(func() { b++ })

	o.Set(1)
	o.Set(2)

	if a != 1 {
		t.Errorf("self-unsubscribed callback ran %d times, want 1", a)
	}
	if b != 2 {
		t.Errorf("other subscriber ran %d times, want 2", b)
	}
	if subA.Active() {
		t.Error("subscription should be inactive")
	}
	if o.Subscribers() != 1 {
		t.Errorf("expected 1 subscriber left, got %d", o.Subscribers())
	}
}

func TestUnsubscribeLaterSubscriberDuringPass(t *testing.T) {
	o := New(0)
	defer o.Release()

	var calls []string
	var subC *Subscription
	o.SubscribeFunc(func() {
		calls = append(calls, "a")
		subC.Unsubscribe()
	})
	o.SubscribeFunc(func() { calls = append(calls, "b") })
	subC = o.SubscribeFunc(func() { calls = append(calls, "c") })

	o.Set(1)

	want := []string{"a", "b"}
	if !reflect.DeepEqual(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestUnsubscribeEarlierSubscriberDuringPass(t *testing.T) {
	o := New(0)
	defer o.Release()

	var calls []string
	var subA *Subscription
	subA = o.SubscribeFunc(func() { calls = append(calls, "a") })
	o.SubscribeFunc(func() {
		calls = append(calls, "b")
		subA.Unsubscribe()
	})
	o.SubscribeFunc(func() { calls = append(calls, "c") })

	o.Set(1)
	o.Set(2)

	want := []string{"a", "b", "c", "b", "c"}
	if !reflect.DeepEqual(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestSubscribeDuringPassWaitsForNextPass(t *testing.T) {
	o := New(0)
	defer o.Release()

	var late int
	var added bool
	o.SubscribeFunc(func() {
		if !added {
			added = true
			o.SubscribeFunc(func() { late++ })
		}
	})

	o.Set(1)
	if late != 0 {
		t.Fatalf("subscriber added mid-pass ran in that pass")
	}
	o.Set(2)
	if late != 1 {
		t.Errorf("expected late subscriber to run once, got %d", late)
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	o := New(0)
	defer o.Release()

	sub := o.SubscribeFunc(func() {})
	sub.Unsubscribe()
	sub.Unsubscribe()

	var nilSub *Subscription
	nilSub.Unsubscribe()

	if o.Subscribers() != 0 {
		t.Errorf("expected 0 subscribers, got %d", o.Subscribers())
	}
}

func TestSubscriberInterface(t *testing.T) {
	o := New(0)
	defer o.Release()

	d := &Dirty{}
	o.Subscribe(d)
	o.Set(1)
	o.Set(2)

	if d.Count() != 2 {
		t.Errorf("expected 2 notifications, got %d", d.Count())
	}
}

func TestSubscriptionsClearedOnDrop(t *testing.T) {
	o := New(0)
	sub := o.SubscribeFunc(func() {})
	o.Release()

	if sub.Active() {
		t.Error("subscription should be cancelled when the value is dropped")
	}
	sub.Unsubscribe()
}

func TestSubscriberPanicIsolated(t *testing.T) {
	var buf bytes.Buffer
	withDebug(t, DebugConfig{Logger: slog.New(slog.NewTextHandler(&buf, nil))})

	o := New(0, WithName("hp"))
	defer o.Release()

	var after int
	o.SubscribeFunc(func() { panic("first") })
	o.SubscribeFunc(func() { after++ })
	o.SubscribeFunc(func() { panic(errors.New("second")) })

	var got *NotifyPanicError
	func() {
		defer func() {
			r := recover()
			err, ok := r.(error)
			if !ok || !errors.As(err, &got) {
				t.Fatalf("expected *NotifyPanicError, got %T: %v", r, r)
			}
		}()
		o.Set(1)
	}()

	if after != 1 {
		t.Errorf("subscriber after a panicking one ran %d times, want 1", after)
	}
	if len(got.Panics) != 2 || got.Panics[0] != "first" {
		t.Errorf("unexpected panics %v", got.Panics)
	}
	if got.Version != 1 {
		t.Errorf("expected version 1 in error, got %d", got.Version)
	}
	if !o.State().Unlocked() {
		t.Errorf("expected unlocked after panicking pass, got %s", o.State())
	}
	if o.Get() != 1 {
		t.Errorf("write must be complete, got %d", o.Get())
	}
	if len(got.Unwrap()) != 1 {
		t.Errorf("expected one wrapped error, got %v", got.Unwrap())
	}
	if !bytes.Contains(buf.Bytes(), []byte("subscriber panicked")) {
		t.Errorf("expected panic to be logged, got %q", buf.String())
	}
}

func TestNotificationsPerWriteUnderConcurrency(t *testing.T) {
	o := New(0)
	defer o.Release()

	var mu sync.Mutex
	var count int
	o.SubscribeFunc(func() {
		mu.Lock()
		count++
		mu.Unlock()
	})

	const writers, writes = 4, 250
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < writes; j++ {
				o.Update(func(v *int) { *v++ })
			}
		}()
	}
	wg.Wait()

	if count != writers*writes {
		t.Errorf("expected %d notification passes, got %d", writers*writes, count)
	}
}
