package grist

import (
	"fmt"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	gerrors "github.com/gristmill-dev/grist/internal/errors"
)

// LockState is a snapshot of an Obj's exclusion state.
// The only transitions are Unlocked -> ReadLocked(n) -> Unlocked and
// Unlocked -> WriteLocked -> Unlocked.
type LockState struct {
	// Readers is the number of outstanding read guards.
	Readers int

	// Writer is true while a write guard is outstanding.
	Writer bool
}

// Unlocked reports whether no guard is outstanding.
func (s LockState) Unlocked() bool {
	return s.Readers == 0 && !s.Writer
}

// String returns "unlocked", "read-locked(n)" or "write-locked".
func (s LockState) String() string {
	switch {
	case s.Writer:
		return "write-locked"
	case s.Readers > 0:
		return "read-locked(" + strconv.Itoa(s.Readers) + ")"
	default:
		return "unlocked"
	}
}

// cell is the shared storage block behind every handle to one value.
type cell[T any] struct {
	id   uint64
	opts options

	// mu guards the exclusion state, the value slot's lifetime and the
	// borrow bookkeeping. It is never held while user code runs.
	mu      sync.Mutex
	cond    sync.Cond
	readers int
	writer  bool
	dropped bool

	// Re-entrancy bookkeeping; only maintained with opts.detectReentrancy.
	writerGID  uint64
	readerGIDs map[uint64]int

	// lastBorrow is the file:line of the latest grant; only maintained with
	// opts.trackBorrows.
	lastBorrow string

	value T

	version atomic.Uint64
	strong  atomic.Int64
	weak    atomic.Int64

	subs subscriberList[Subscriber]
}

func newCell[T any](value T, opts options) *cell[T] {
	c := &cell[T]{
		id:    nextID(),
		opts:  opts,
		value: value,
	}
	c.cond.L = &c.mu
	if opts.detectReentrancy {
		c.readerGIDs = make(map[uint64]int)
	}
	c.strong.Store(1)
	if opts.dropType != nil && !reflect.TypeOf((*T)(nil)).Elem().AssignableTo(opts.dropType) {
		panic(gerrors.New(gerrors.CodeDropMismatch).
			WithSubject(c.subject()).
			WithDetail("drop hook takes " + opts.dropType.String()))
	}
	return c
}

// subject names the cell in misuse errors, e.g. `Obj[int] "score"`.
func (c *cell[T]) subject() string {
	s := "Obj[" + typeName[T]() + "]"
	if c.opts.name != "" {
		s += " " + strconv.Quote(c.opts.name)
	}
	return s
}

// site returns the borrow site skip frames above the caller, or "" when
// borrow tracking is off.
func (c *cell[T]) site(skip int) string {
	if !c.opts.trackBorrows {
		return ""
	}
	return callerSite(skip + 1)
}

func (c *cell[T]) gid() uint64 {
	if !c.opts.detectReentrancy {
		return 0
	}
	return goroutineID()
}

// misuse builds the error for code. Caller must not hold c.mu.
func (c *cell[T]) misuse(code string) *MisuseError {
	c.mu.Lock()
	last := c.lastBorrow
	c.mu.Unlock()
	return gerrors.New(code).WithSubject(c.subject()).WithSite(last)
}

// checkReentrant panics if goroutine g already holds a guard that conflicts
// with kind. Caller holds c.mu.
func (c *cell[T]) checkReentrant(g uint64, kind LockKind) {
	if !c.opts.detectReentrancy {
		return
	}
	conflict := c.writer && c.writerGID == g
	if kind == WriteLock && c.readerGIDs[g] > 0 {
		conflict = true
	}
	if !conflict {
		return
	}
	last := c.lastBorrow
	c.mu.Unlock()
	panic(gerrors.New(gerrors.CodeReentrantLock).WithSubject(c.subject()).WithSite(last))
}

// grant records a successful acquisition. Caller holds c.mu.
func (c *cell[T]) grant(kind LockKind, g uint64, site string) {
	if kind == WriteLock {
		c.writer = true
		c.writerGID = g
	} else {
		c.readers++
		if c.readerGIDs != nil {
			c.readerGIDs[g]++
		}
	}
	if site != "" {
		c.lastBorrow = site
	}
}

// conflicts reports whether a lock of kind must wait. Caller holds c.mu.
func (c *cell[T]) conflicts(kind LockKind) bool {
	if kind == WriteLock {
		return c.writer || c.readers > 0
	}
	return c.writer
}

// lock blocks until a lock of kind is granted and returns the grant time.
func (c *cell[T]) lock(kind LockKind, site string) time.Time {
	obs := c.opts.observer
	var start time.Time
	if obs != nil {
		start = time.Now()
	}
	g := c.gid()

	c.mu.Lock()
	c.checkReentrant(g, kind)
	for c.conflicts(kind) {
		c.cond.Wait()
	}
	c.grant(kind, g, site)
	c.mu.Unlock()

	if obs == nil {
		return time.Time{}
	}
	now := time.Now()
	obs.LockAcquired(LockEvent{
		Name:     c.opts.name,
		ID:       c.id,
		Kind:     kind,
		Acquired: now,
		Waited:   now.Sub(start),
	})
	return now
}

// tryLock grants a lock of kind without waiting. The returned bool is false
// if the lock is held in a conflicting mode.
func (c *cell[T]) tryLock(kind LockKind, site string) (time.Time, bool) {
	g := c.gid()

	c.mu.Lock()
	if c.conflicts(kind) {
		c.mu.Unlock()
		if obs := c.opts.observer; obs != nil {
			obs.LockContended(LockEvent{Name: c.opts.name, ID: c.id, Kind: kind})
		}
		return time.Time{}, false
	}
	c.grant(kind, g, site)
	c.mu.Unlock()

	if obs := c.opts.observer; obs != nil {
		now := time.Now()
		obs.LockAcquired(LockEvent{Name: c.opts.name, ID: c.id, Kind: kind, Acquired: now})
		return now, true
	}
	return time.Time{}, true
}

// unlockRead releases one read guard taken by goroutine g at acquired.
func (c *cell[T]) unlockRead(g uint64, acquired time.Time) {
	c.mu.Lock()
	c.readers--
	if c.readerGIDs != nil {
		if c.readerGIDs[g]--; c.readerGIDs[g] <= 0 {
			delete(c.readerGIDs, g)
		}
	}
	if c.readers == 0 {
		c.cond.Broadcast()
	}
	c.mu.Unlock()

	if obs := c.opts.observer; obs != nil {
		obs.LockReleased(LockEvent{
			Name:     c.opts.name,
			ID:       c.id,
			Kind:     ReadLock,
			Acquired: acquired,
			Held:     time.Since(acquired),
		})
	}

	if c.strong.Load() == 0 {
		c.dropIfUnused()
	}
}

// unlockWrite releases the write guard, then bumps the version, then runs
// the notification pass. Unlocking first lets subscribers lock again.
func (c *cell[T]) unlockWrite(acquired time.Time) {
	c.mu.Lock()
	c.writer = false
	c.writerGID = 0
	c.cond.Broadcast()
	c.mu.Unlock()

	v := c.version.Add(1)

	defer func() {
		if c.strong.Load() == 0 {
			c.dropIfUnused()
		}
	}()

	obs := c.opts.observer
	if obs != nil {
		obs.LockReleased(LockEvent{
			Name:     c.opts.name,
			ID:       c.id,
			Kind:     WriteLock,
			Acquired: acquired,
			Held:     time.Since(acquired),
			Version:  v,
		})
	}

	c.notify(v)
}

// notify runs one pass over the subscribers for version v. If any
// subscriber panicked, the pass completes and a *NotifyPanicError is raised.
func (c *cell[T]) notify(v uint64) {
	obs := c.opts.observer
	var start time.Time
	if obs != nil {
		start = time.Now()
	}

	invoked, panics := c.subs.dispatch(func(s Subscriber) { s.Notify() })

	if obs != nil {
		obs.Notified(NotifyEvent{
			Name:        c.opts.name,
			ID:          c.id,
			Version:     v,
			Start:       start,
			Duration:    time.Since(start),
			Subscribers: invoked,
			Panics:      len(panics),
		})
	}

	if len(panics) == 0 {
		return
	}
	for _, p := range panics {
		logger().Error("subscriber panicked",
			"obj", c.subject(),
			"version", v,
			"panic", fmt.Sprint(p))
	}
	panic(&NotifyPanicError{Source: c.subject(), Version: v, Panics: panics})
}

// state returns a snapshot of the exclusion state.
func (c *cell[T]) state() LockState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return LockState{Readers: c.readers, Writer: c.writer}
}

// lastStrongReleased runs when the strong count reaches zero. The value is
// dropped now, or by the last guard if guards are still outstanding.
func (c *cell[T]) lastStrongReleased() {
	c.mu.Lock()
	outstanding := c.readers > 0 || c.writer
	c.mu.Unlock()

	if outstanding {
		err := c.misuse(gerrors.CodeReleaseUnderUse)
		if Debug.PanicOnMisuse {
			panic(err)
		}
		logger().Warn("last handle released while a guard is outstanding; drop deferred",
			"code", err.Code,
			"obj", err.Subject,
			"last_borrow", err.Location.String())
	}
	c.dropIfUnused()
}

// dropIfUnused drops the value if no strong handle and no guard remain.
// The value is dropped at most once.
func (c *cell[T]) dropIfUnused() {
	c.mu.Lock()
	if c.dropped || c.strong.Load() != 0 || c.readers > 0 || c.writer {
		c.mu.Unlock()
		return
	}
	c.dropped = true
	v := c.value
	var zero T
	c.value = zero
	c.mu.Unlock()

	c.subs.clear()

	if obs := c.opts.observer; obs != nil {
		obs.Dropped(c.opts.name, c.id)
	}

	switch {
	case c.opts.drop != nil:
		c.opts.drop(v)
	default:
		if d, ok := any(v).(Disposer); ok {
			d.Dispose()
		}
	}
}
