// Package grist provides Obj, a shared-ownership, change-aware value cell
// for interactive applications.
//
// Many parts of a program (simulation systems, a retained-mode GUI tree, a
// renderer) can hold handles to the same mutable value, read it from many
// goroutines at once, mutate it exclusively, and be told when it changed.
//
// # Core Types
//
// Obj[T] is a strong handle. Handles are reference counted explicitly:
// Clone adds a holder, Release gives one up. The value is dropped when the
// last strong handle is released.
//
//	score := grist.New(0, grist.WithName("score"))
//	defer score.Release()
//
//	g := score.Write()
//	*g.Ptr() += 10
//	g.Release() // unlock, bump version, notify subscribers
//
// ReadGuard[T] and WriteGuard[T] bound an access window. Any number of read
// guards may coexist; a write guard excludes everything else. Release is
// idempotent so guards pair naturally with defer. The closure helpers View
// and Update release on every exit path, panics included.
//
// Weak[T] observes a value without keeping it alive:
//
//	w := score.Downgrade()
//	if s, err := w.Upgrade(); err == nil {
//	    defer s.Release()
//	    // ...
//	} else if errors.Is(err, grist.ErrDead) {
//	    // the value is gone; detach
//	}
//
// # Change Notification
//
// Every completed write guard increments the version by exactly one and then
// runs every subscriber once, in registration order, on the releasing
// goroutine. The lock is released before subscribers run, so a subscriber may
// lock the same Obj again:
//
//	sub := score.SubscribeFunc(func() {
//	    node.MarkDirty()
//	})
//	defer sub.Unsubscribe()
//
// Version is a lock-free read, which lets a frame loop skip subtrees whose
// data has not changed since the last frame (see Tracker).
//
// # Thread Safety
//
// All operations are safe for concurrent use. Read and Write are the only
// calls that wait. Deadlocks caused by lock-order cycles across several
// Objs are not detected; acquire in a fixed order or use TryRead/TryWrite
// in paths that may form a cycle, such as subscriber callbacks.
package grist
