// Package rterr defines the small set of error kinds the runtime core
// produces itself, as distinct from OS errors translated from completion
// results, which are surfaced to callers untouched.
package rterr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the core's own error conditions. OS-origin errors
// (negative completion results) are never given a Kind; they pass through
// as plain syscall.Errno values.
type Kind int

const (
	// KindInterrupted means cancellation was acknowledged, or a timer was
	// cancelled before it fired.
	KindInterrupted Kind = iota

	// KindShutdown means the runtime or driver is exiting and rejected a
	// new registration.
	KindShutdown

	// KindNotFound means a cancel was attempted against a timer that had
	// already fired (or never existed).
	KindNotFound

	// KindOutOfMemory means the submission queue was still full after a
	// flush, or the kernel returned EAGAIN on enter (e.g. because the CQ
	// is full). A CQ overflow is not detected, so it is never reported
	// with this kind.
	KindOutOfMemory

	// KindOverflow means arithmetic on an absolute timestamp overflowed.
	KindOverflow
)

func (k Kind) String() string {
	switch k {
	case KindInterrupted:
		return "interrupted"
	case KindShutdown:
		return "shutdown"
	case KindNotFound:
		return "not found"
	case KindOutOfMemory:
		return "out of memory"
	case KindOverflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// Error is the concrete type every core-originated error takes.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, rterr.Interrupted) (and friends) match any *Error
// of the same Kind, regardless of message or wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel values for errors.Is comparisons. Construct wrapped instances
// with New/Wrap; compare with errors.Is(err, rterr.Interrupted) etc.
var (
	Interrupted = &Error{Kind: KindInterrupted, Msg: "interrupted"}
	Shutdown    = &Error{Kind: KindShutdown, Msg: "driver is shutting down"}
	NotFound    = &Error{Kind: KindNotFound, Msg: "not found"}
	OutOfMemory = &Error{Kind: KindOutOfMemory, Msg: "out of memory"}
	Overflow    = &Error{Kind: KindOverflow, Msg: "overflow"}
)

// New builds a fresh error of the given kind with a custom message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds a fresh error of the given kind around a causing error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Is reports whether err is a core error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
