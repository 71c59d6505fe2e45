package grist

import "time"

// LockKind identifies the mode of a lock.
type LockKind uint8

const (
	ReadLock LockKind = iota + 1
	WriteLock
)

// String returns a human-readable name for the lock kind.
func (k LockKind) String() string {
	switch k {
	case ReadLock:
		return "read"
	case WriteLock:
		return "write"
	default:
		return "unknown"
	}
}

// LockEvent describes one lock acquisition, release or refusal.
type LockEvent struct {
	// Name is the Obj's WithName label, or "" if unnamed.
	Name string

	// ID is the Obj's unique identifier.
	ID uint64

	Kind LockKind

	// Acquired is when the guard was granted.
	Acquired time.Time

	// Waited is how long the caller was suspended before the grant.
	Waited time.Duration

	// Held is how long the guard was held. Set on release only.
	Held time.Duration

	// Version is the version after release. Set on write release only.
	Version uint64
}

// NotifyEvent describes one notification pass.
type NotifyEvent struct {
	Name    string
	ID      uint64
	Version uint64

	// Start is when the pass began; Duration covers every subscriber.
	Start    time.Time
	Duration time.Duration

	// Subscribers is the number of subscribers invoked.
	Subscribers int

	// Panics is the number of subscribers that panicked.
	Panics int
}

// Observer receives lifecycle events from Objs. Implementations must be
// safe for concurrent use and must not lock the Obj that reported the event.
// See packages gristmetrics and gristtrace.
type Observer interface {
	LockAcquired(LockEvent)
	LockReleased(LockEvent)

	// LockContended is reported when TryRead, TryWrite, MustRead or
	// MustWrite is refused.
	LockContended(LockEvent)

	Notified(NotifyEvent)

	// Dropped is reported once, when the value is dropped.
	Dropped(name string, id uint64)
}

// NopObserver ignores all events. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) LockAcquired(LockEvent)  {}
func (NopObserver) LockReleased(LockEvent)  {}
func (NopObserver) LockContended(LockEvent) {}
func (NopObserver) Notified(NotifyEvent)    {}
func (NopObserver) Dropped(string, uint64)  {}

// MultiObserver fans events out to several observers in order.
type MultiObserver []Observer

func (m MultiObserver) LockAcquired(e LockEvent) {
	for _, o := range m {
		o.LockAcquired(e)
	}
}

func (m MultiObserver) LockReleased(e LockEvent) {
	for _, o := range m {
		o.LockReleased(e)
	}
}

func (m MultiObserver) LockContended(e LockEvent) {
	for _, o := range m {
		o.LockContended(e)
	}
}

func (m MultiObserver) Notified(e NotifyEvent) {
	for _, o := range m {
		o.Notified(e)
	}
}

func (m MultiObserver) Dropped(name string, id uint64) {
	for _, o := range m {
		o.Dropped(name, id)
	}
}
