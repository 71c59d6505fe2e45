package grist

import (
	"log/slog"
	"reflect"
	"sync/atomic"
)

// DebugConfig controls development-time checks.
// Values are captured when an Obj is created, except Logger and
// PanicOnMisuse, which are read when a misuse is reported.
type DebugConfig struct {
	// TrackBorrows records the file:line of the most recent lock on each
	// Obj. Misuse panics and MustRead/MustWrite conflicts report it.
	// Default: false (runtime.Caller on every lock).
	TrackBorrows bool

	// DetectReentrancy makes a goroutine that asks for a lock conflicting
	// with one it already holds panic with CodeReentrantLock instead of
	// deadlocking.
	// Default: false (parses the goroutine ID on every lock).
	DetectReentrancy bool

	// PanicOnMisuse turns recoverable misuse (releasing the last handle
	// while a guard is outstanding) from a logged warning into a panic.
	// Default: false.
	PanicOnMisuse bool

	// Logger receives misuse warnings and recovered subscriber panics.
	// Default: slog.Default() with component=grist.
	Logger *slog.Logger
}

// DefaultDebugConfig returns a DebugConfig with all checks disabled.
func DefaultDebugConfig() DebugConfig {
	return DebugConfig{
		TrackBorrows:     false,
		DetectReentrancy: false,
		PanicOnMisuse:    false,
	}
}

// Debug is the global debug configuration.
// Set it at startup, before creating Objs:
//
//	func init() {
//	    if os.Getenv("GRIST_DEBUG") == "1" {
//	        grist.Debug.TrackBorrows = true
//	        grist.Debug.DetectReentrancy = true
//	    }
//	}
var Debug = DefaultDebugConfig()

func logger() *slog.Logger {
	if Debug.Logger != nil {
		return Debug.Logger
	}
	return slog.Default().With("component", "grist")
}

// Option configures an Obj at creation.
type Option func(*options)

type options struct {
	name             string
	trackBorrows     bool
	detectReentrancy bool
	observer         Observer
	drop             func(any)
	dropType         reflect.Type
}

// WithName labels the Obj in misuse errors, logs and metrics.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithBorrowTracking enables borrow-site tracking for this Obj regardless
// of Debug.TrackBorrows.
func WithBorrowTracking() Option {
	return func(o *options) {
		o.trackBorrows = true
	}
}

// WithReentrancyCheck enables same-goroutine re-entrancy detection for this
// Obj regardless of Debug.DetectReentrancy.
func WithReentrancyCheck() Option {
	return func(o *options) {
		o.detectReentrancy = true
	}
}

// WithObserver routes this Obj's lock and notification events to obs
// instead of the global observer.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		o.observer = obs
	}
}

// WithDrop registers fn to run exactly once when the value is dropped, after
// the last strong handle and the last guard are gone. The Obj's value type
// must be assignable to T; New panics with CodeDropMismatch otherwise.
//
// Values implementing Disposer are disposed automatically; WithDrop takes
// precedence when both are present.
func WithDrop[T any](fn func(T)) Option {
	return func(o *options) {
		o.dropType = reflect.TypeOf((*T)(nil)).Elem()
		o.drop = func(v any) {
			t, _ := v.(T) // nil interface values arrive as the zero T
			fn(t)
		}
	}
}

// Disposer is implemented by values that release resources when dropped.
type Disposer interface {
	Dispose()
}

// applyOptions applies the given options over the global Debug defaults.
func applyOptions(opts []Option) options {
	o := options{
		trackBorrows:     Debug.TrackBorrows,
		detectReentrancy: Debug.DetectReentrancy,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.observer == nil {
		o.observer = globalObserver()
	}
	return o
}

var defaultObserver atomic.Pointer[observerHolder]

type observerHolder struct {
	obs Observer
}

// SetObserver installs obs as the observer for Objs created afterwards
// without WithObserver. Pass nil to disable.
func SetObserver(obs Observer) {
	if obs == nil {
		defaultObserver.Store(nil)
		return
	}
	defaultObserver.Store(&observerHolder{obs: obs})
}

func globalObserver() Observer {
	if h := defaultObserver.Load(); h != nil {
		return h.obs
	}
	return nil
}
