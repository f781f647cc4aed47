// Package request implements the Request[T] protocol: a stable-address,
// one-shot completion slot owned by the caller that identifies an
// outstanding asynchronous operation to its producer. This is the
// handshake every suspending operation in the runtime is built on top of
// (spec §3, §4.1).
//
// The teacher's closest analog is the (fuseID -> cancel func) map kept by
// Connection in connection.go: a caller-visible identity correlated to a
// completion/cancellation action looked up from a different call path.
// Request generalizes that one association (id -> cancel) into the full
// producer/consumer contract, and uses the request's own heap address as
// the identity instead of a kernel-assigned integer, since Go pointers to
// heap-escaped values are address-stable for as long as something holds
// them live — exactly the property the spec requires of a "pinned"
// address.
package request

import (
	"sync"
	"unsafe"

	"github.com/google/uuid"
)

// Callback is invoked exactly once to discharge a Request with its final
// value.
type Callback[T any] func(req *Request[T], value T)

// Request is the caller-owned, one-shot callback slot described by
// spec §3. A Request must have SetArg/SetCallback called (if needed)
// before it is handed to a producer's Start, and is completed by calling
// Complete exactly once — from the runtime thread, possibly synchronously
// from within Start itself (spec invariant iii, §4.1).
type Request[T any] struct {
	callback  Callback[T]
	env       any
	completed bool
	debugID   string
}

// New allocates a fresh, unpinned Request. The returned pointer's address
// becomes stable (usable as a kernel user_data value, or as a cancel
// target) from the moment it is handed to a producer's Start method.
func New[T any]() *Request[T] {
	return &Request[T]{}
}

// pinned holds fire-and-forget Requests alive between the moment their
// address is handed to a producer and the moment they are discharged.
// Normal Requests are kept alive by whatever goroutine stack is blocked
// inside pctx.BlockOn waiting on them (spec §9, "pinning and stable
// addresses"); NoOp requests have no such owner, so they pin themselves
// here instead, unpinning as soon as Complete runs.
var pinned sync.Map

// NoOp returns a Request whose callback discards its result. Used as the
// nominal target of fire-and-forget submissions (e.g. an ASYNC_CANCEL SQE)
// that reference another request by address but don't need a completion
// of their own observed anywhere.
func NoOp[T any]() *Request[T] {
	r := New[T]()
	addr := r.Addr()
	pinned.Store(addr, r)
	r.SetCallback(func(*Request[T], T) { pinned.Delete(addr) })
	return r
}

// SetArg attaches an opaque environment value, handed back to the caller
// in contexts where a callback needs access to state beyond the request
// itself. Must be called before the request is pinned (handed to Start).
func (r *Request[T]) SetArg(env any) {
	r.env = env
}

// Arg returns the environment value set by SetArg, or nil.
func (r *Request[T]) Arg() any {
	return r.env
}

// SetCallback installs the function that discharges this request. Must be
// called before the request is pinned.
func (r *Request[T]) SetCallback(cb Callback[T]) {
	r.callback = cb
}

// Addr returns the request's identity: its own heap address, interpreted
// as a uintptr. This is what gets encoded into a submission's user_data
// field, and what an ASYNC_CANCEL op addresses to request cancellation of
// a specific in-flight operation (spec §3, "User-data encoding").
func (r *Request[T]) Addr() uintptr {
	return uintptr(unsafe.Pointer(r))
}

// FromAddr recovers a *Request[T] from an address previously produced by
// Addr. Callers must only do this for addresses of requests they know to
// still be alive and of the matching type — exactly the discipline
// package driver's completion dispatch follows when it decodes a
// Completion's Addr (a CQE's user_data, for engine/uring).
func FromAddr[T any](addr uintptr) *Request[T] {
	return (*Request[T])(unsafe.Pointer(addr)) //nolint:govet
}

// Complete discharges the request exactly once, invoking its callback (if
// any) with the final value. Calling Complete twice on the same request is
// a programming error; per spec §8 this implementation panics rather than
// silently double-firing a caller's callback.
func (r *Request[T]) Complete(value T) {
	if r.completed {
		panic("request: Complete called twice on the same request")
	}

	r.completed = true
	cb := r.callback
	r.callback = nil

	if cb != nil {
		cb(r, value)
	}
}

// Completed reports whether Complete has already been called. Used by
// cancellation paths that need to distinguish "already dispatched" from
// "still outstanding" without racing the completion itself (cancellation
// and completion run on the same single thread/fiber-scheduler, so no
// synchronization is required here).
func (r *Request[T]) Completed() bool {
	return r.completed
}

// DebugID lazily assigns and returns a random identifier for log
// correlation across a request's lifetime. Nothing in this module calls
// it, and the ID is only generated on first call, so requests that are
// never logged pay nothing for it.
func (r *Request[T]) DebugID() string {
	if r.debugID == "" {
		r.debugID = uuid.NewString()
	}
	return r.debugID
}
