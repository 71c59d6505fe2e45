package grist

import (
	"sync"
	"sync/atomic"
)

// Subscriber is anything that can be told a value changed. Notify carries no
// payload; subscribers re-read the value themselves if they need it.
type Subscriber interface {
	Notify()
}

// SubscriberFunc adapts a plain function to Subscriber.
type SubscriberFunc func()

// Notify calls f.
func (f SubscriberFunc) Notify() { f() }

// Subscription is the token returned by Subscribe. It does not keep the
// subscribed value alive.
type Subscription struct {
	id     uint64
	active atomic.Bool
	detach func(*Subscription)
}

// ID returns the unique identifier for this subscription.
func (s *Subscription) ID() uint64 {
	return s.id
}

// Active reports whether the subscription will receive future notifications.
func (s *Subscription) Active() bool {
	return s.active.Load()
}

// Unsubscribe stops future notifications. It is idempotent and safe to call
// from inside a notification pass, including from the subscriber's own
// callback: subscribers already invoked in the pass are unaffected, and the
// unsubscribed callback is skipped for the rest of the pass and every later
// one.
func (s *Subscription) Unsubscribe() {
	if s == nil || !s.active.CompareAndSwap(true, false) {
		return
	}
	if s.detach != nil {
		s.detach(s)
	}
}

type subscriberEntry[F any] struct {
	sub *Subscription
	fn  F
}

// subscriberList is an ordered, copy-on-write list of callbacks. The entries
// slice is never mutated after publication, so a pass iterates a stable
// snapshot while subscribe/unsubscribe proceed concurrently.
type subscriberList[F any] struct {
	mu      sync.Mutex
	entries []subscriberEntry[F]
}

// add appends fn and returns its token.
func (l *subscriberList[F]) add(fn F) *Subscription {
	s := &Subscription{id: nextID(), detach: l.remove}
	s.active.Store(true)

	l.mu.Lock()
	next := make([]subscriberEntry[F], len(l.entries), len(l.entries)+1)
	copy(next, l.entries)
	l.entries = append(next, subscriberEntry[F]{sub: s, fn: fn})
	l.mu.Unlock()

	return s
}

// remove drops s from the list, preserving the order of the rest.
func (l *subscriberList[F]) remove(s *Subscription) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, e := range l.entries {
		if e.sub == s {
			next := make([]subscriberEntry[F], 0, len(l.entries)-1)
			next = append(next, l.entries[:i]...)
			l.entries = append(next, l.entries[i+1:]...)
			return
		}
	}
}

// clear deactivates every subscription and empties the list.
func (l *subscriberList[F]) clear() {
	l.mu.Lock()
	entries := l.entries
	l.entries = nil
	l.mu.Unlock()

	for _, e := range entries {
		e.sub.active.Store(false)
	}
}

func (l *subscriberList[F]) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *subscriberList[F]) snapshot() []subscriberEntry[F] {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries
}

// dispatch runs call for every entry that was subscribed when the pass
// started and is still active when its turn comes. Panics are recovered per
// entry so the rest of the pass still runs; the recovered values are
// returned in order along with the number of entries invoked.
func (l *subscriberList[F]) dispatch(call func(F)) (invoked int, panics []any) {
	for _, e := range l.snapshot() {
		if !e.sub.active.Load() {
			continue
		}
		invoked++
		if p, ok := invokeRecover(call, e.fn); ok {
			panics = append(panics, p)
		}
	}
	return invoked, panics
}

func invokeRecover[F any](call func(F), fn F) (p any, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			p, panicked = r, true
		}
	}()
	call(fn)
	return nil, false
}
