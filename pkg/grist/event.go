package grist

import "fmt"

// Event is a typed event source, such as a button's "pressed" or a
// checkbox's "changed". Listeners run synchronously on the emitting
// goroutine in registration order, with the same guarantees as Obj
// subscribers: a listener removed during Emit is skipped for the rest of
// the pass, and a listener added during Emit first runs on the next Emit.
//
// The zero Event is ready to use.
//
//	type Checkbox struct {
//	    Changed grist.Event[bool]
//	}
//
//	sub := box.Changed.AddListener(func(checked bool) { ... })
//	defer sub.Unsubscribe()
type Event[T any] struct {
	name      string
	listeners subscriberList[func(T)]
}

// NewEvent creates a named Event. The name appears in NotifyPanicError.
func NewEvent[T any](name string) *Event[T] {
	return &Event[T]{name: name}
}

// AddListener registers fn and returns its subscription.
func (e *Event[T]) AddListener(fn func(T)) *Subscription {
	return e.listeners.add(fn)
}

// Listeners returns the number of registered listeners.
func (e *Event[T]) Listeners() int {
	return e.listeners.len()
}

// Emit calls every listener with v. If listeners panic, the rest still run
// and Emit then panics with *NotifyPanicError.
func (e *Event[T]) Emit(v T) {
	_, panics := e.listeners.dispatch(func(fn func(T)) { fn(v) })
	if len(panics) == 0 {
		return
	}
	src := e.name
	if src == "" {
		src = "Event[" + typeName[T]() + "]"
	}
	for _, p := range panics {
		logger().Error("event listener panicked", "event", src, "panic", fmt.Sprint(p))
	}
	panic(&NotifyPanicError{Source: src, Panics: panics})
}

// Clear removes every listener.
func (e *Event[T]) Clear() {
	e.listeners.clear()
}
