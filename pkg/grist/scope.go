package grist

import (
	"sync"
	"sync/atomic"
)

// Releaser is implemented by handles a Scope can release: *Obj[T] and
// *Weak[T].
type Releaser interface {
	Release()
}

// Subscribable is implemented by *Obj[T].
type Subscribable interface {
	SubscribeFunc(fn func()) *Subscription
}

// Scope collects the subscriptions and handles held by one node of an
// object graph (a GUI widget, an entity) so they can be torn down together.
//
// Scopes form a hierarchy mirroring the graph. Disposing a scope disposes
// its children first, then cancels its own registrations in reverse order.
// Disposal is idempotent and tolerates registrations whose values are
// already dropped, so a graph can be torn down in any order.
type Scope struct {
	id uint64

	// parent is nil for a root scope.
	parent *Scope

	children   []*Scope
	childrenMu sync.Mutex

	// cleanups run in reverse registration order on Dispose.
	cleanups   []func()
	cleanupsMu sync.Mutex

	disposed atomic.Bool
}

// NewScope creates a Scope registered as a child of parent. If parent is
// nil, it creates a root Scope. A child of a disposed parent is disposed
// immediately.
func NewScope(parent *Scope) *Scope {
	s := &Scope{
		id:     nextID(),
		parent: parent,
	}

	if parent != nil {
		if !parent.addChild(s) {
			s.disposed.Store(true)
		}
	}

	return s
}

// ID returns the unique identifier for this Scope.
func (s *Scope) ID() uint64 {
	return s.id
}

// Parent returns the parent Scope, or nil for a root Scope.
func (s *Scope) Parent() *Scope {
	return s.parent
}

// IsDisposed reports whether Dispose has run.
func (s *Scope) IsDisposed() bool {
	return s.disposed.Load()
}

func (s *Scope) addChild(child *Scope) bool {
	s.childrenMu.Lock()
	defer s.childrenMu.Unlock()
	if s.disposed.Load() {
		return false
	}
	s.children = append(s.children, child)
	return true
}

func (s *Scope) removeChild(child *Scope) {
	s.childrenMu.Lock()
	defer s.childrenMu.Unlock()

	for i, c := range s.children {
		if c == child {
			s.children = append(s.children[:i], s.children[i+1:]...)
			return
		}
	}
}

// OnCleanup registers fn to run when the scope is disposed. If the scope is
// already disposed, fn runs immediately.
func (s *Scope) OnCleanup(fn func()) {
	s.cleanupsMu.Lock()
	if s.disposed.Load() {
		s.cleanupsMu.Unlock()
		fn()
		return
	}
	s.cleanups = append(s.cleanups, fn)
	s.cleanupsMu.Unlock()
}

// Track cancels sub when the scope is disposed and returns sub.
func (s *Scope) Track(sub *Subscription) *Subscription {
	s.OnCleanup(sub.Unsubscribe)
	return sub
}

// Hold releases r when the scope is disposed and returns r.
func (s *Scope) Hold(r Releaser) Releaser {
	s.OnCleanup(r.Release)
	return r
}

// Watch subscribes fn to src for the lifetime of the scope.
func (s *Scope) Watch(src Subscribable, fn func()) *Subscription {
	return s.Track(src.SubscribeFunc(fn))
}

// Dispose tears the scope down: children first (newest first), then this
// scope's cleanups in reverse order. Only the first call has any effect.
func (s *Scope) Dispose() {
	s.cleanupsMu.Lock()
	if !s.disposed.CompareAndSwap(false, true) {
		s.cleanupsMu.Unlock()
		return
	}
	cleanups := s.cleanups
	s.cleanups = nil
	s.cleanupsMu.Unlock()

	s.childrenMu.Lock()
	children := s.children
	s.children = nil
	s.childrenMu.Unlock()

	for i := len(children) - 1; i >= 0; i-- {
		children[i].Dispose()
	}

	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}

	if s.parent != nil {
		s.parent.removeChild(s)
	}
}

// Children returns the number of live child scopes.
func (s *Scope) Children() int {
	s.childrenMu.Lock()
	defer s.childrenMu.Unlock()
	return len(s.children)
}

// WatchObj binds fn to o for the lifetime of scope and holds a weak
// reference so callers can resolve o later without keeping it alive.
// The weak handle is released on dispose.
func WatchObj[T any](scope *Scope, o *Obj[T], fn func()) *Weak[T] {
	w := o.Downgrade()
	scope.Hold(w)
	scope.Watch(o, fn)
	return w
}
