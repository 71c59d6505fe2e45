package grist

import (
	"sync/atomic"
	"time"

	gerrors "github.com/gristmill-dev/grist/internal/errors"
)

// ReadGuard grants shared read access until Release. Any number of read
// guards may be outstanding at once, never alongside a write guard.
//
// The value must not be modified through a read guard.
type ReadGuard[T any] struct {
	c        *cell[T]
	acquired time.Time
	gid      uint64
	released atomic.Bool
}

func newReadGuard[T any](c *cell[T], acquired time.Time) *ReadGuard[T] {
	return &ReadGuard[T]{c: c, acquired: acquired, gid: c.gid()}
}

func (g *ReadGuard[T]) live() *cell[T] {
	if g.released.Load() {
		panic(g.c.misuse(gerrors.CodeGuardReleased))
	}
	return g.c
}

// Value returns a copy of the value.
func (g *ReadGuard[T]) Value() T {
	return g.live().value
}

// Ptr returns a pointer to the value for reading large values in place.
// The pointer must not be written through and must not outlive the guard.
func (g *ReadGuard[T]) Ptr() *T {
	return &g.live().value
}

// Release ends the read access. It is idempotent, so
//
//	g := obj.Read()
//	defer g.Release()
//
// is safe even if g is also released early.
func (g *ReadGuard[T]) Release() {
	if !g.released.CompareAndSwap(false, true) {
		return
	}
	g.c.unlockRead(g.gid, g.acquired)
}

// WriteGuard grants exclusive access until Release. Releasing it unlocks the
// value, increments the version by one, then notifies every subscriber.
type WriteGuard[T any] struct {
	c        *cell[T]
	acquired time.Time
	released atomic.Bool
}

func newWriteGuard[T any](c *cell[T], acquired time.Time) *WriteGuard[T] {
	return &WriteGuard[T]{c: c, acquired: acquired}
}

func (g *WriteGuard[T]) live() *cell[T] {
	if g.released.Load() {
		panic(g.c.misuse(gerrors.CodeGuardReleased))
	}
	return g.c
}

// Value returns a copy of the value.
func (g *WriteGuard[T]) Value() T {
	return g.live().value
}

// Ptr returns a pointer for mutating the value in place. It must not
// outlive the guard.
func (g *WriteGuard[T]) Ptr() *T {
	return &g.live().value
}

// Set replaces the value.
func (g *WriteGuard[T]) Set(value T) {
	g.live().value = value
}

// Release ends the exclusive access, bumps the version and runs the
// notification pass on the calling goroutine. It is idempotent.
//
// If a subscriber panics, the remaining subscribers still run and Release
// then panics with *NotifyPanicError. The lock is already released and the
// version already bumped at that point.
func (g *WriteGuard[T]) Release() {
	if !g.released.CompareAndSwap(false, true) {
		return
	}
	g.c.unlockWrite(g.acquired)
}
