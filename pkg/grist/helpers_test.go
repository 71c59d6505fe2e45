package grist

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// expectMisuse runs fn and fails unless it panics with a MisuseError
// carrying code. It returns the recovered error.
func expectMisuse(t *testing.T, code string, fn func()) *MisuseError {
	t.Helper()
	var got *MisuseError
	func() {
		defer func() {
			r := recover()
			if r == nil {
				t.Fatalf("expected panic with %s, got none", code)
			}
			err, ok := r.(error)
			if !ok || !errors.As(err, &got) {
				t.Fatalf("expected *MisuseError panic, got %T: %v", r, r)
			}
		}()
		fn()
	}()
	if got.Code != code {
		t.Fatalf("expected code %s, got %s (%v)", code, got.Code, got)
	}
	return got
}

// recordingObserver captures observer events for assertions.
type recordingObserver struct {
	mu        sync.Mutex
	acquired  []LockEvent
	released  []LockEvent
	contended []LockEvent
	notified  []NotifyEvent
	dropped   []uint64
}

func (r *recordingObserver) LockAcquired(e LockEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acquired = append(r.acquired, e)
}

func (r *recordingObserver) LockReleased(e LockEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = append(r.released, e)
}

func (r *recordingObserver) LockContended(e LockEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contended = append(r.contended, e)
}

func (r *recordingObserver) Notified(e NotifyEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notified = append(r.notified, e)
}

func (r *recordingObserver) Dropped(_ string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped = append(r.dropped, id)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

// withDebug swaps the global Debug config for the duration of a test.
func withDebug(t *testing.T, cfg DebugConfig) {
	t.Helper()
	old := Debug
	Debug = cfg
	t.Cleanup(func() { Debug = old })
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
