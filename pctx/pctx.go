// Package pctx implements Context, the per-worker runtime facade of
// spec §4.3/§4.4: block_on (the bridge from a synchronous call site into a
// suspending Future), the public interrupt/cancellation entry points, and
// typed access to the per-runtime Environment a concrete runtime (package
// runtime) hangs its driver and executor off of.
//
// Context wraps a *fiber.Worker rather than duplicating its
// interrupted/pending/guards fields, so there is exactly one place that
// state lives; this package owns the *policy* around those fields
// (guard-deferred interrupts), fiber owns the raw storage.
package pctx

import (
	"github.com/ringrt/ringrt/fiber"
	"github.com/ringrt/ringrt/future"
	"github.com/ringrt/ringrt/request"
	"github.com/ringrt/ringrt/rterr"
)

// Waker is the cross-thread wake vtable of spec §4.6: PrepareWake is called
// by a worker about to suspend waiting on a completion that may arrive from
// a different OS thread (blocking-work offload); Wake is the thread-safe
// half, called from whatever goroutine produced the result to get it back
// onto the runtime's single driving goroutine.
type Waker interface {
	PrepareWake()
	Wake()
}

// Environment is a per-runtime extension Context carries opaquely; the
// concrete runtime downcasts it with GetEnvironment. Typically holds the
// driver, the shared fiber.Executor, and whatever else every worker needs
// reachable (spec §3's "Runtime thread" state).
type Environment any

// Context is the per-worker facade spec §4.3 describes: block_on plus the
// interrupt entry points. One Context exists per running fiber.Worker.
type Context struct {
	worker   *fiber.Worker
	executor *fiber.Executor
	waker    Waker
	env      Environment

	cancel future.CancelToken
}

// New builds a Context around a worker that is (or will become) current on
// executor, wired to waker for cross-thread wakes and env for runtime-wide
// state.
func New(worker *fiber.Worker, executor *fiber.Executor, waker Waker, env Environment) *Context {
	return &Context{worker: worker, executor: executor, waker: waker, env: env}
}

// Worker returns the underlying fiber this Context wraps.
func (c *Context) Worker() *fiber.Worker { return c.worker }

// Executor returns the shared executor this worker runs on.
func (c *Context) Executor() *fiber.Executor { return c.executor }

// Waker returns the cross-thread wake vtable, or nil if none was wired.
func (c *Context) Waker() Waker { return c.waker }

// Env returns the raw per-runtime Environment value.
func (c *Context) Env() Environment { return c.env }

// GetEnvironment performs a typed downcast of c's Environment, the way
// get_environment<E>() does in the source.
func GetEnvironment[E any](c *Context) (E, bool) {
	e, ok := c.env.(E)
	return e, ok
}

// SetCancelToken registers the CancelToken a subsequent Interrupt should
// invoke. Called by BlockOn/BlockOnThreadSafe around a suspend point;
// never called directly by task bodies except through SyncTask's
// Canceller.
func (c *Context) SetCancelToken(tok future.CancelToken) { c.cancel = tok }

// ClearCancelToken removes the currently registered CancelToken, normally
// once the operation it belonged to has completed.
func (c *Context) ClearCancelToken() { c.cancel = nil }

// Interrupt requests cancellation of whatever this worker is currently
// waiting on (spec §4.4). If no interrupt guard is held, the interrupt is
// latched immediately and the registered CancelToken (if any) is invoked
// in place; if a guard is held, the interrupt is deferred ("pending") and
// promoted automatically when the last guard is released.
func (c *Context) Interrupt() error {
	if c.worker.Guards() > 0 {
		c.worker.SetPendingInterrupt(true)
		return rterr.New(rterr.KindInterrupted, "interrupt deferred: guard held")
	}

	c.worker.SetInterrupted(true)

	if c.cancel != nil {
		return c.cancel.Run()
	}

	return nil
}

// CheckInterrupt reports rterr.Interrupted if this worker's interrupt flag
// is latched, nil otherwise. I/O wrapper operations call this before
// starting new work, the cancellation checkpoint spec §4.4 describes.
func (c *Context) CheckInterrupt() error {
	if c.worker.Interrupted() {
		return rterr.Interrupted
	}
	return nil
}

// TakeInterrupt reads and clears the latched interrupt flag, returning
// whatever value it held. Idempotent: a second call with no intervening
// Interrupt returns false.
func (c *Context) TakeInterrupt() bool {
	v := c.worker.Interrupted()
	c.worker.SetInterrupted(false)
	return v
}

// InterruptGuard is a scoped no-cancellation region (spec §4.4, Glossary
// "interrupt guard"). Interrupts raised while any guard on a worker is
// held are latched as pending rather than delivered; the last Release
// promotes a pending interrupt to latched.
type InterruptGuard struct {
	ctx      *Context
	released bool
}

// Guard acquires a no-cancellation region on c's worker. Callers must
// Release it exactly once, typically via defer.
func (c *Context) Guard() *InterruptGuard {
	c.worker.AddGuard()
	return &InterruptGuard{ctx: c}
}

// Release ends the guarded region. Calling Release twice on the same
// guard panics — an unbalanced guard violates the guards==0-at-checkpoint
// invariant spec §8 requires, and that is a programming error to surface
// immediately rather than paper over.
func (g *InterruptGuard) Release() {
	if g.released {
		panic("pctx: InterruptGuard released twice")
	}
	g.released = true

	g.ctx.worker.ReleaseGuard()

	if g.ctx.worker.Guards() == 0 && g.ctx.worker.PendingInterrupt() {
		g.ctx.worker.SetPendingInterrupt(false)
		g.ctx.worker.SetInterrupted(true)
	}
}

// BlockOn is the bridge from a synchronous call site into a Future that
// may suspend (spec §4.3). It allocates a Request, starts fut, and if the
// Future doesn't resolve inline, registers the returned CancelToken (so a
// concurrent Interrupt has somewhere to go) and suspends the calling
// fiber until the Request's callback fires.
//
// The Future's callback may re-enter synchronously from within Start
// (spec invariant, package future) — for example a ring operation that
// the kernel completes before the submission call even returns. BlockOn
// tolerates that by checking whether the callback already ran before
// deciding to suspend at all.
func BlockOn[T any](c *Context, fut future.Future[T]) T {
	req := request.New[T]()

	var (
		value T
		done  bool
	)

	req.SetCallback(func(_ *request.Request[T], v T) {
		value = v
		done = true

		if c.executor.Current() != c.worker {
			c.executor.Resume(c.worker)
		}
	})

	progress := fut.Start(req)

	if progress.IsDone() {
		return progress.Value()
	}

	c.SetCancelToken(progress.Cancel())

	if !done {
		c.executor.Suspend()
	}

	c.ClearCancelToken()

	return value
}

// BlockOnThreadSafe is BlockOn for a Future whose completion may be
// produced from a different OS thread than the one driving this worker's
// executor (spec §4.6) — the blocking-work-offload path in package
// driver. It arms the cross-thread wake vtable before suspending so the
// driver's park loop knows a wake is expected.
func BlockOnThreadSafe[T any](c *Context, fut future.Future[T]) T {
	if c.waker != nil {
		c.waker.PrepareWake()
	}
	return BlockOn(c, fut)
}
