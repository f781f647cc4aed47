// Package future implements the Future[T] producer contract of spec §3,
// §4.1: start(request) -> Progress, where Progress is either a
// synchronous Done(value) or a Pending(cancel) that will be discharged
// later by exactly one of a natural completion or a cancellation.
package future

import "github.com/ringrt/ringrt/request"

// CancelToken requests cancellation of whatever operation produced it.
// Run may be called at most once (spec §3, §4.1): it returns nil if the
// underlying operation will be (or already was) completed with an
// Interrupted result, or a non-nil error if cancellation is impossible —
// per spec's edge policy, cancelling an already-completed future is a
// no-op that reports success, and a cancel racing a completion is
// resolved by whoever reaches the request first, with the loser getting
// "already dispatched".
type CancelToken interface {
	Run() error
}

// CancelFunc adapts a plain func() error to CancelToken.
type CancelFunc func() error

// Run implements CancelToken.
func (f CancelFunc) Run() error { return f() }

// NoopCancel is a CancelToken that always reports cancellation succeeded
// without doing anything — useful as a placeholder or in tests.
var NoopCancel CancelToken = CancelFunc(func() error { return nil })

// Progress is the result of calling Future.Start: either the future
// resolved inline (Done) or it registered itself with the request and
// will be completed later, unless the returned CancelToken discharges it
// first (Pending).
type Progress[T any] struct {
	done   bool
	value  T
	cancel CancelToken
}

// Done reports a future that resolved synchronously; no callback will
// fire for the request that was passed to Start.
func Done[T any](value T) Progress[T] {
	return Progress[T]{done: true, value: value}
}

// Pending reports a future that registered itself; cancel may be invoked
// to request early cancellation.
func Pending[T any](cancel CancelToken) Progress[T] {
	return Progress[T]{cancel: cancel}
}

// IsDone reports whether the future resolved synchronously.
func (p Progress[T]) IsDone() bool { return p.done }

// Value returns the synchronously-resolved value. Only meaningful when
// IsDone() is true.
func (p Progress[T]) Value() T { return p.value }

// Cancel returns the CancelToken registered for a Pending progress, or
// nil for a Done progress.
func (p Progress[T]) Cancel() CancelToken { return p.cancel }

// Future is a producer of an asynchronous value (spec §3, §4.1).
// Invariants: a Request is outstanding for at most one Future at a time;
// after Pending, exactly one of {natural completion via
// Request.Complete, cancellation} ever discharges it; the producer may
// re-enter the consumer synchronously from within Complete, so any
// caller driving a Future must tolerate that.
type Future[T any] interface {
	Start(req *request.Request[T]) Progress[T]
}

// Func adapts a plain function to Future.
type Func[T any] func(req *request.Request[T]) Progress[T]

// Start implements Future.
func (f Func[T]) Start(req *request.Request[T]) Progress[T] { return f(req) }
