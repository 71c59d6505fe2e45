package grist

import (
	"strconv"
	"sync/atomic"

	gerrors "github.com/gristmill-dev/grist/internal/errors"
)

// Obj is a strong, shared-ownership handle to a value.
//
// Each *Obj is one holder. Clone creates another holder of the same value;
// Release gives this holder up. The value is dropped when the last strong
// handle is released, or, if a guard is still outstanding at that moment,
// when the last guard is released. Using a handle after its Release panics
// with CodeHandleReleased.
type Obj[T any] struct {
	c        *cell[T]
	released atomic.Bool
}

// New creates a value with one strong handle, version 0, no subscribers and
// no lock held.
func New[T any](value T, opts ...Option) *Obj[T] {
	return &Obj[T]{c: newCell(value, applyOptions(opts))}
}

func (o *Obj[T]) live() *cell[T] {
	if o.released.Load() {
		panic(o.c.misuse(gerrors.CodeHandleReleased))
	}
	return o.c
}

// Clone returns a new strong handle to the same value.
func (o *Obj[T]) Clone() *Obj[T] {
	c := o.live()
	c.strong.Add(1)
	return &Obj[T]{c: c}
}

// Release gives up this handle. Releasing the same handle twice panics.
func (o *Obj[T]) Release() {
	if !o.released.CompareAndSwap(false, true) {
		panic(o.c.misuse(gerrors.CodeHandleReleased))
	}
	if o.c.strong.Add(-1) == 0 {
		o.c.lastStrongReleased()
	}
}

// Downgrade returns a weak handle that observes the value without keeping
// it alive.
func (o *Obj[T]) Downgrade() *Weak[T] {
	c := o.live()
	c.weak.Add(1)
	return &Weak[T]{c: c}
}

// Read blocks while a write guard is outstanding, then returns a read guard.
func (o *Obj[T]) Read() *ReadGuard[T] {
	c := o.live()
	site := c.site(1)
	acquired := c.lock(ReadLock, site)
	return newReadGuard(c, acquired)
}

// Write blocks while any guard is outstanding, then returns a write guard.
// Releasing the write guard bumps the version and notifies subscribers.
//
// Calling Write on a goroutine that already holds a guard on the same value
// deadlocks, or panics with CodeReentrantLock when re-entrancy detection is
// enabled.
func (o *Obj[T]) Write() *WriteGuard[T] {
	c := o.live()
	site := c.site(1)
	acquired := c.lock(WriteLock, site)
	return newWriteGuard(c, acquired)
}

// TryRead returns a read guard, or ErrWouldBlock if a write guard is
// outstanding. It never waits.
func (o *Obj[T]) TryRead() (*ReadGuard[T], error) {
	c := o.live()
	acquired, ok := c.tryLock(ReadLock, c.site(1))
	if !ok {
		return nil, ErrWouldBlock
	}
	return newReadGuard(c, acquired), nil
}

// TryWrite returns a write guard, or ErrWouldBlock if any guard is
// outstanding. It never waits. Subscriber callbacks that need to write the
// value they were notified by should use TryWrite.
func (o *Obj[T]) TryWrite() (*WriteGuard[T], error) {
	c := o.live()
	acquired, ok := c.tryLock(WriteLock, c.site(1))
	if !ok {
		return nil, ErrWouldBlock
	}
	return newWriteGuard(c, acquired), nil
}

// MustRead returns a read guard without waiting, or panics with
// CodeAlreadyBorrowed naming the last borrow site if a write guard is
// outstanding. Use it where contention is a bug rather than a condition.
func (o *Obj[T]) MustRead() *ReadGuard[T] {
	c := o.live()
	acquired, ok := c.tryLock(ReadLock, c.site(1))
	if !ok {
		panic(c.misuse(gerrors.CodeAlreadyBorrowed))
	}
	return newReadGuard(c, acquired)
}

// MustWrite returns a write guard without waiting, or panics with
// CodeAlreadyBorrowed naming the last borrow site if any guard is
// outstanding.
func (o *Obj[T]) MustWrite() *WriteGuard[T] {
	c := o.live()
	acquired, ok := c.tryLock(WriteLock, c.site(1))
	if !ok {
		panic(c.misuse(gerrors.CodeAlreadyBorrowed))
	}
	return newWriteGuard(c, acquired)
}

// View runs fn under a read guard. The guard is released when fn returns
// or panics.
func (o *Obj[T]) View(fn func(T)) {
	c := o.live()
	g := newReadGuard(c, c.lock(ReadLock, c.site(1)))
	defer g.Release()
	fn(c.value)
}

// Update runs fn under a write guard. The guard is released, the version
// bumped and subscribers notified when fn returns or panics.
func (o *Obj[T]) Update(fn func(*T)) {
	c := o.live()
	g := newWriteGuard(c, c.lock(WriteLock, c.site(1)))
	defer g.Release()
	fn(&c.value)
}

// Get returns a copy of the value taken under a read guard.
func (o *Obj[T]) Get() T {
	c := o.live()
	g := newReadGuard(c, c.lock(ReadLock, c.site(1)))
	defer g.Release()
	return c.value
}

// Set replaces the value under a write guard.
func (o *Obj[T]) Set(value T) {
	c := o.live()
	g := newWriteGuard(c, c.lock(WriteLock, c.site(1)))
	defer g.Release()
	c.value = value
}

// Subscribe registers s to be notified once per completed write, after the
// lock is released, on the goroutine that released the write guard.
// Subscribers run in registration order. The subscription does not keep the
// value alive; it is cancelled automatically when the value is dropped.
func (o *Obj[T]) Subscribe(s Subscriber) *Subscription {
	return o.live().subs.add(s)
}

// SubscribeFunc is Subscribe for a plain function.
func (o *Obj[T]) SubscribeFunc(fn func()) *Subscription {
	return o.Subscribe(SubscriberFunc(fn))
}

// Subscribers returns the number of active subscriptions.
func (o *Obj[T]) Subscribers() int {
	return o.live().subs.len()
}

// Version returns the number of completed writes. It takes no lock. Two
// equal observations mean the value did not change in between.
func (o *Obj[T]) Version() uint64 {
	return o.live().version.Load()
}

// ID returns the identifier shared by every handle to this value.
func (o *Obj[T]) ID() uint64 {
	return o.c.id
}

// Name returns the WithName label.
func (o *Obj[T]) Name() string {
	return o.c.opts.name
}

// Same reports whether o and other refer to the same value.
func (o *Obj[T]) Same(other *Obj[T]) bool {
	return other != nil && o.c == other.c
}

// StrongCount returns the number of live strong handles.
func (o *Obj[T]) StrongCount() int64 {
	return o.c.strong.Load()
}

// WeakCount returns the number of live weak handles.
func (o *Obj[T]) WeakCount() int64 {
	return o.c.weak.Load()
}

// State returns a snapshot of the lock state.
func (o *Obj[T]) State() LockState {
	return o.c.state()
}

// Released reports whether this handle has been released.
func (o *Obj[T]) Released() bool {
	return o.released.Load()
}

// Dead reports whether the value has been dropped. A handle whose value
// is dead has necessarily been released.
func (o *Obj[T]) Dead() bool {
	o.c.mu.Lock()
	defer o.c.mu.Unlock()
	return o.c.dropped
}

// String returns a short description such as `Obj[int] "score" v3`.
func (o *Obj[T]) String() string {
	return o.c.subject() + " v" + strconv.FormatUint(o.c.version.Load(), 10)
}
