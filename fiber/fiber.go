// Package fiber implements the stackful-fiber executor of spec §4.2.
//
// Go gives no portable way to allocate a second stack and switch a single
// OS thread's instruction pointer into it without assembly. This package
// renders the spec's "stackful fiber" as a goroutine (one per started
// task) that rendezvous with the Executor over a pair of unbuffered channels: a
// Resume/Start hands the goroutine control and blocks until it suspends
// or finishes, a Suspend gives control back and blocks until the next
// Resume. Because sends and receives on an unbuffered channel block until
// both sides are ready, exactly one goroutine in an Executor's worker set
// is ever actually making progress at a time — the channel handoff plays
// the role the register-save-area/stack-switch plays in the source
// (spec §9, "Pinning and stable addresses" / §0 of SPEC_FULL.md).
//
// The teacher's closest analog is its one-goroutine-per-inbound-request
// dispatch in server.go/connection.go; this package generalizes that into
// a reusable, pooled fiber abstraction with an explicit resume/suspend
// contract instead of one-shot goroutines.
package fiber

import "sync"

// DefaultStackSize documents the spec's nominal fiber stack size (256
// KiB). It is not used for anything in this implementation — Go grows
// goroutine stacks on demand — and no Options field refers to it.
const DefaultStackSize = 256 * 1024

// DefaultPoolCap is the default bound on the number of idle Workers a
// Pool retains for reuse before it starts letting them be garbage
// collected instead.
const DefaultPoolCap = 64

// Worker is a stackful fiber: in the source, a program stack acquired
// from a Pool on start and returned on finish; here, a Worker struct
// holding the rendezvous channels for one goroutine, reused across tasks
// via Pool the way a freed stack is reused across tasks in the source.
//
// A Worker additionally carries the cancellation state spec §3 assigns to
// it (interrupted/pending-interrupt/guards); package pctx's Context is a
// thin facade over these fields plus the per-runtime Environment and
// Waker.
type Worker struct {
	pool *Pool

	resumeCh  chan struct{}
	suspendCh chan struct{}

	finished bool

	interrupted      bool
	pendingInterrupt bool
	guards           uint32

	// CurrentRequest is an opaque back-reference to whatever Request this
	// worker is currently suspended on, for debugging/observability only.
	CurrentRequest any
}

func newWorker(pool *Pool) *Worker {
	return &Worker{
		pool:      pool,
		resumeCh:  make(chan struct{}),
		suspendCh: make(chan struct{}),
	}
}

func (w *Worker) reset() {
	w.finished = false
	w.interrupted = false
	w.pendingInterrupt = false
	w.guards = 0
	w.CurrentRequest = nil
}

// Finished reports whether the worker's task body has returned.
func (w *Worker) Finished() bool { return w.finished }

// Interrupted reports the worker's latched interrupt flag (spec §4.4).
func (w *Worker) Interrupted() bool { return w.interrupted }

// SetInterrupted latches or clears the interrupt flag directly. Used by
// package pctx, which owns the policy around guards/pending.
func (w *Worker) SetInterrupted(v bool) { w.interrupted = v }

// PendingInterrupt reports whether an interrupt arrived while guarded.
func (w *Worker) PendingInterrupt() bool { return w.pendingInterrupt }

// SetPendingInterrupt latches or clears the pending-interrupt flag.
func (w *Worker) SetPendingInterrupt(v bool) { w.pendingInterrupt = v }

// Guards returns the current interrupt-guard depth.
func (w *Worker) Guards() uint32 { return w.guards }

// AddGuard increments the interrupt-guard depth (entering a no-cancel
// region).
func (w *Worker) AddGuard() { w.guards++ }

// ReleaseGuard decrements the interrupt-guard depth. Panics on
// underflow: a release without a matching acquire is a programming
// error, and spec §8 requires guards==0 on task entry/exit, so an
// unbalanced release must be caught immediately rather than silently
// wrapping.
func (w *Worker) ReleaseGuard() {
	if w.guards == 0 {
		panic("fiber: ReleaseGuard called with no outstanding guard")
	}
	w.guards--
}

// Pool is a bounded free-list of idle Workers, standing in for the
// source's stack pool (spec §4.2). Acquire reuses a Worker if one is
// free, allocating a new one otherwise; Release returns a finished
// Worker to the pool, subject to the pool's capacity.
type Pool struct {
	mu   sync.Mutex
	free []*Worker
	cap  int
}

// NewPool creates a Pool that retains at most cap idle Workers. A
// non-positive cap uses DefaultPoolCap.
func NewPool(cap int) *Pool {
	if cap <= 0 {
		cap = DefaultPoolCap
	}

	return &Pool{cap: cap}
}

func (p *Pool) acquire() *Worker {
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		w := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		p.mu.Unlock()

		w.reset()

		return w
	}
	p.mu.Unlock()

	return newWorker(p)
}

func (p *Pool) release(w *Worker) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) >= p.cap {
		return
	}

	p.free = append(p.free, w)
}

// Len reports how many idle Workers the pool currently retains. Intended
// for tests and diagnostics.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.free)
}

// Executor is single-threaded: it owns a Pool and tracks which Worker is
// currently running. All of Start/Resume/Suspend must be called from
// whichever goroutine is presently "the runtime thread" for this
// Executor — either the top-level driver loop, or (for Suspend only) the
// goroutine of the Worker currently recorded as running. There is no
// internal locking; the single-active-runner discipline is what makes
// that safe, exactly as in the source (spec §4.2 "Ordering").
type Executor struct {
	pool    *Pool
	current *Worker
}

// NewExecutor creates an Executor backed by the given Pool.
func NewExecutor(pool *Pool) *Executor {
	return &Executor{pool: pool}
}

// Pool returns the executor's backing stack pool.
func (e *Executor) Pool() *Pool { return e.pool }

// Current returns the Worker presently running on this executor, or nil
// if none is (the call is coming from outside any fiber).
func (e *Executor) Current() *Worker { return e.current }

// Start acquires a fresh Worker from the pool and begins running fn on
// it, transferring control into fn's goroutine and blocking the caller
// until fn suspends (via Suspend) or returns. This is the spec's
// "start(worker): first-time context switch into the worker stack"
// (§4.2); it is how package sched's Spawn brings a new task onto the
// executor.
func (e *Executor) Start(fn func(w *Worker)) *Worker {
	w := e.pool.acquire()

	prev := e.current
	e.current = w

	go func() {
		fn(w)

		w.finished = true
		w.pool.release(w)
		w.suspendCh <- struct{}{}
	}()

	<-w.suspendCh
	e.current = prev

	return w
}

// Resume transfers control to a previously suspended Worker, symmetric
// with Start: blocks the caller until the worker suspends again or
// finishes (spec §4.2 "resume(worker)"). Resume must not be called on a
// Worker that has already finished.
func (e *Executor) Resume(w *Worker) {
	if w.finished {
		panic("fiber: Resume called on a finished worker")
	}

	prev := e.current
	e.current = w

	w.resumeCh <- struct{}{}
	<-w.suspendCh

	e.current = prev
}

// Suspend yields control from the currently running Worker back to
// whoever called Start/Resume for it, and blocks the calling goroutine
// until the next Resume. Must only be called from inside the goroutine
// belonging to e.Current().
func (e *Executor) Suspend() {
	w := e.current
	if w == nil {
		panic("fiber: Suspend called with no worker currently running")
	}

	w.suspendCh <- struct{}{}
	<-w.resumeCh
}
