package grist

import (
	"sync/atomic"

	gerrors "github.com/gristmill-dev/grist/internal/errors"
)

// Weak is a non-owning handle. It never keeps the value alive and resolves
// to a strong handle only while one still exists elsewhere.
type Weak[T any] struct {
	c        *cell[T]
	released atomic.Bool
}

func (w *Weak[T]) live() *cell[T] {
	if w.released.Load() {
		panic(w.c.misuse(gerrors.CodeHandleReleased))
	}
	return w.c
}

// Upgrade returns a new strong handle, or ErrDead once the last strong
// handle has been released.
func (w *Weak[T]) Upgrade() (*Obj[T], error) {
	c := w.live()
	for {
		n := c.strong.Load()
		if n <= 0 {
			return nil, ErrDead
		}
		if c.strong.CompareAndSwap(n, n+1) {
			return &Obj[T]{c: c}, nil
		}
	}
}

// MustUpgrade is Upgrade for callers that know the value is alive. It panics
// with CodeDeadUpgrade otherwise.
func (w *Weak[T]) MustUpgrade() *Obj[T] {
	o, err := w.Upgrade()
	if err != nil {
		panic(w.c.misuse(gerrors.CodeDeadUpgrade).Wrap(err))
	}
	return o
}

// Exists reports whether a strong handle still exists. The answer may be
// stale by the time it is used; Upgrade is the only race-free check.
func (w *Weak[T]) Exists() bool {
	return w.live().strong.Load() > 0
}

// Clone returns another weak handle to the same value.
func (w *Weak[T]) Clone() *Weak[T] {
	c := w.live()
	c.weak.Add(1)
	return &Weak[T]{c: c}
}

// Release gives up this weak handle. Releasing the same handle twice panics.
func (w *Weak[T]) Release() {
	if !w.released.CompareAndSwap(false, true) {
		panic(w.c.misuse(gerrors.CodeHandleReleased))
	}
	w.c.weak.Add(-1)
}

// Version returns the version without upgrading. It keeps reporting the
// final version after the value is dropped.
func (w *Weak[T]) Version() uint64 {
	return w.live().version.Load()
}

// ID returns the identifier shared by every handle to this value.
func (w *Weak[T]) ID() uint64 {
	return w.c.id
}

// Same reports whether w and other refer to the same value.
func (w *Weak[T]) Same(other *Weak[T]) bool {
	return other != nil && w.c == other.c
}

// Points reports whether w refers to the value held by o.
func (w *Weak[T]) Points(o *Obj[T]) bool {
	return o != nil && w.c == o.c
}
