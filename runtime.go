// Package ringrt is the embedding facade spec.md §6 describes: the
// single entry point ("Runtime::new" / "Runtime::block_on") that wires
// fiber.Executor, pctx.Context, driver.Driver and timerwheel.Wheel
// together into something an external collaborator (iofile, ionet,
// cmd/ringrtctl) can just use, the way the teacher's Mount/MountedFileSystem
// pair is the one entry point everything in samples/ goes through.
package ringrt

import (
	"time"

	"go.uber.org/zap"

	"github.com/ringrt/ringrt/driver"
	"github.com/ringrt/ringrt/engine"
	"github.com/ringrt/ringrt/engine/syncfallback"
	"github.com/ringrt/ringrt/engine/uring"
	"github.com/ringrt/ringrt/fiber"
	"github.com/ringrt/ringrt/future"
	"github.com/ringrt/ringrt/pctx"
	"github.com/ringrt/ringrt/rtlog"
	"github.com/ringrt/ringrt/sched"
	"github.com/ringrt/ringrt/timerwheel"
)

// Options configures a Runtime, the way the teacher's MountConfig
// configures a mount: a plain struct of independently-defaulted knobs
// passed once at construction.
type Options struct {
	// RingEntries sizes the io_uring submission queue. Default 256. The
	// completion queue is sized separately: engine/uring.Setup asks for
	// 8192 entries where the kernel accepts that request.
	RingEntries uint32

	// FiberPoolCap bounds how many idle fiber.Worker values the pool keeps
	// for reuse. Default fiber.DefaultPoolCap.
	FiberPoolCap int

	// Debug enables verbose structured logging via rtlog.
	Debug bool
}

func (o Options) withDefaults() Options {
	if o.RingEntries == 0 {
		o.RingEntries = 256
	}
	if o.FiberPoolCap == 0 {
		o.FiberPoolCap = fiber.DefaultPoolCap
	}
	return o
}

// Runtime is a single-threaded asynchronous runtime: one fiber executor,
// one driver (timer wheel + I/O engines), and the root Context every
// spawned task descends from. Every exported method except New and
// Close must be called from the runtime's single driving goroutine.
type Runtime struct {
	opts     Options
	executor *fiber.Executor
	driver   *driver.Driver
}

// New builds a Runtime. It tries to set up an io_uring engine first and
// falls back to running entirely on engine/syncfallback if the kernel
// refuses (too old, or io_uring blocked by seccomp) — spec §4.7's
// capability probing taken to its limit: a kernel that cannot set up a
// ring at all still gets a working runtime, just a fully synchronous one.
func New(opts Options) (*Runtime, error) {
	opts = opts.withDefaults()
	rtlog.SetDebug(opts.Debug)

	var primary engine.Engine
	if ring, err := uring.Setup(opts.RingEntries); err != nil {
		rtlog.L().Warn("io_uring setup failed, running on synchronous fallback only", zap.Error(err))
		primary = syncfallback.New()
	} else {
		primary = ring
	}

	fb := syncfallback.New()
	wheel := timerwheel.New(nil)

	drv, err := driver.New(primary, fb, wheel)
	if err != nil {
		_ = primary.Close()
		_ = fb.Close()
		return nil, err
	}

	pool := fiber.NewPool(opts.FiberPoolCap)
	executor := fiber.NewExecutor(pool)

	return &Runtime{opts: opts, executor: executor, driver: drv}, nil
}

// Driver returns rt's I/O driver, for iofile/ionet wrappers to submit
// against.
func (rt *Runtime) Driver() *driver.Driver { return rt.driver }

// Executor returns rt's shared fiber executor.
func (rt *Runtime) Executor() *fiber.Executor { return rt.executor }

// Close begins the runtime's final shutdown: every outstanding timer is
// failed with rterr.Shutdown and both engines are closed (spec §4.6
// "exit"). Any RunWork goroutine still in flight is not waited for.
func (rt *Runtime) Close() {
	rt.driver.Exit()
}

// BlockOn is the runtime's single entry point (spec §6
// "Runtime::block_on"): it runs body to completion on a fresh root
// fiber, driving rt's park loop between suspensions until body returns,
// and returns body's result. Nested suspending operations (I/O, timers,
// spawn/join/select) all resolve through the very same park loop, since
// package driver's dispatchCompletion completes a completion's Request
// directly, and that Request's callback resumes the fiber waiting on it.
func BlockOn[T any](rt *Runtime, body func(c *pctx.Context) T) T {
	var result T

	w := rt.executor.Start(func(w *fiber.Worker) {
		root := pctx.New(w, rt.executor, rt.driver, rt)
		result = body(root)
	})

	rt.driver.BlockWhile(func() bool { return !w.Finished() })

	return result
}

// Sleep suspends the calling fiber for at least d.
func Sleep(c *pctx.Context, rt *Runtime, d time.Duration) error {
	return pctx.BlockOn(c, rt.driver.Wheel().Schedule(time.Now().Add(d)))
}

// Interval ticks once per period, according to
// a missed-tick policy (spec §4.5, original_source's interval.rs,
// SPEC_FULL.md §4) — a thin runtime-bound wrapper around timerwheel's
// own Interval so callers never touch package timerwheel directly.
type Interval struct {
	inner *timerwheel.Interval
}

// NewInterval creates an Interval ticking every period against rt's timer
// wheel, starting one period from now.
func (rt *Runtime) NewInterval(period time.Duration, policy timerwheel.MissPolicy) *Interval {
	return &Interval{inner: timerwheel.NewInterval(rt.driver.Wheel(), period, policy)}
}

// Tick blocks the calling fiber until the interval's next deadline.
func (iv *Interval) Tick(c *pctx.Context) error {
	return pctx.BlockOn(c, iv.inner.Tick())
}

// Spawn starts body on a new fiber and returns a handle to join or cancel
// it. Re-exported from package sched so common usage needs only this
// package's import.
func Spawn[T any](c *pctx.Context, body func(child *pctx.Context) T) *sched.JoinHandle[T] {
	return sched.Spawn(c, body)
}

// SelectAll blocks until the first of futures resolves, cancelling the
// rest.
func SelectAll[T any](c *pctx.Context, futures []future.Future[T]) sched.Result[T] {
	return sched.SelectAll(c, futures)
}

// Join concurrently drives a and b to completion and returns both
// results together. Re-exported from package sched.
func Join[A, B any](c *pctx.Context, a future.Future[A], b future.Future[B]) (A, B) {
	return sched.Join(c, a, b)
}

// Select concurrently drives a and b, cancels whichever is still
// running once the other completes, and waits for that cancellation to
// settle before returning both sides. Re-exported from package sched.
func Select[A, B any](c *pctx.Context, a future.Future[A], b future.Future[B]) sched.SelectResult[A, B] {
	return sched.Select(c, a, b)
}
