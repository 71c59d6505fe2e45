package grist

import "sync/atomic"

// Versioned is implemented by *Obj[T] and *Weak[T].
type Versioned interface {
	Version() uint64
}

// Tracker remembers the last version a consumer acted on, so a frame loop
// can decide without locking whether a subtree needs work:
//
//	if v, changed := tr.Observe(); changed {
//	    g := model.Read()
//	    render(g.Ptr())
//	    g.Release()
//	}
//
// A new Tracker reports a change on its first Observe.
type Tracker struct {
	src    Versioned
	seen   atomic.Uint64
	primed atomic.Bool
}

// NewTracker returns a Tracker for src.
func NewTracker(src Versioned) *Tracker {
	return &Tracker{src: src}
}

// Changed reports whether src's version differs from the last observed one.
// It does not record anything.
func (t *Tracker) Changed() bool {
	return !t.primed.Load() || t.src.Version() != t.seen.Load()
}

// Observe records src's current version and reports whether it differs
// from the previously observed one.
func (t *Tracker) Observe() (uint64, bool) {
	v := t.src.Version()
	old := t.seen.Swap(v)
	first := t.primed.CompareAndSwap(false, true)
	return v, first || old != v
}

// Seen returns the last observed version.
func (t *Tracker) Seen() uint64 {
	return t.seen.Load()
}

// Reset forgets the observed version, so the next Observe reports a change.
func (t *Tracker) Reset() {
	t.primed.Store(false)
}

// Dirty is a Subscriber that latches a flag on every notification. A frame
// loop consumes it with Take, coalescing any number of writes between frames
// into one unit of work.
type Dirty struct {
	flag  atomic.Bool
	count atomic.Uint64
}

// Notify implements Subscriber.
func (d *Dirty) Notify() {
	d.count.Add(1)
	d.flag.Store(true)
}

// Take reports whether a notification arrived since the last Take and
// clears the flag.
func (d *Dirty) Take() bool {
	return d.flag.Swap(false)
}

// Peek reports the flag without clearing it.
func (d *Dirty) Peek() bool {
	return d.flag.Load()
}

// Count returns the total number of notifications received.
func (d *Dirty) Count() uint64 {
	return d.count.Load()
}
