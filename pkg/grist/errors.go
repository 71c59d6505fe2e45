package grist

import (
	"errors"
	"fmt"
	"reflect"

	gerrors "github.com/gristmill-dev/grist/internal/errors"
)

// ErrWouldBlock is returned by TryRead and TryWrite when the lock is held in
// a conflicting mode. The caller decides whether to retry, back off or skip.
var ErrWouldBlock = errors.New("grist: lock would block")

// ErrDead is returned by Weak.Upgrade once the last strong handle has been
// released. It is permanent: a dead value never comes back.
var ErrDead = errors.New("grist: value dropped")

// MisuseError is the panic value for programming errors such as re-entrant
// locking or using a released handle. Recover it with errors.As when a test
// needs to assert on the code.
type MisuseError = gerrors.GristError

// Misuse codes carried by MisuseError.Code.
const (
	CodeReentrantLock   = gerrors.CodeReentrantLock
	CodeReleaseUnderUse = gerrors.CodeReleaseUnderUse
	CodeHandleReleased  = gerrors.CodeHandleReleased
	CodeGuardReleased   = gerrors.CodeGuardReleased
	CodeDeadUpgrade     = gerrors.CodeDeadUpgrade
	CodeAlreadyBorrowed = gerrors.CodeAlreadyBorrowed
	CodeDropMismatch    = gerrors.CodeDropMismatch
)

// NotifyPanicError is raised on the goroutine that released a write guard
// (or emitted an Event) when one or more subscribers panicked. Every
// subscriber in the pass still ran; Panics holds the recovered values in
// subscriber order.
type NotifyPanicError struct {
	// Source names the Obj or Event whose pass panicked.
	Source string

	// Version is the version the pass announced (0 for events).
	Version uint64

	// Panics are the recovered panic values.
	Panics []any
}

// Error implements the error interface.
func (e *NotifyPanicError) Error() string {
	if len(e.Panics) == 1 {
		return fmt.Sprintf("grist: subscriber of %s panicked: %v", e.Source, e.Panics[0])
	}
	return fmt.Sprintf("grist: %d subscribers of %s panicked, first: %v", len(e.Panics), e.Source, e.Panics[0])
}

// Unwrap returns the panic values that were errors.
func (e *NotifyPanicError) Unwrap() []error {
	var errs []error
	for _, p := range e.Panics {
		if err, ok := p.(error); ok {
			errs = append(errs, err)
		}
	}
	return errs
}

// typeName returns the Go type name of T, including interface types.
func typeName[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}
