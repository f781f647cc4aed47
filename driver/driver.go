// Package driver composes the timer wheel and an I/O engine into the
// park loop spec §4.6 describes: block_while runs the loop body (submit
// pending work, wait for at least one completion or the next timer
// deadline, dispatch completions, run due timers, drain the cross-thread
// wake queue) until its predicate says to stop.
//
// Two engines are driven side by side: a primary (normally engine/uring)
// and a per-opcode synchronous fallback (engine/syncfallback), chosen at
// Submit time via the primary's Supports (spec §4.7 "Capability
// probing"). The cross-thread wake channel — an eventfd plus a
// mutex-guarded FIFO of thunks — is how a blocking-work goroutine
// (RunWork) gets its result back onto the single goroutine driving this
// loop without that goroutine ever touching fiber.Executor concurrently.
package driver

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/ringrt/ringrt/engine"
	"github.com/ringrt/ringrt/future"
	"github.com/ringrt/ringrt/request"
	"github.com/ringrt/ringrt/rtlog"
	"github.com/ringrt/ringrt/timerwheel"
)

// Driver owns the engines, the timer wheel, and the cross-thread wake
// channel for one runtime. Like fiber.Executor, every method except the
// ones explicitly documented as thread-safe must be called from the
// runtime's single driving goroutine.
type Driver struct {
	primary  engine.Engine
	fallback engine.Engine
	wheel    *timerwheel.Wheel

	eventfd int

	mu            sync.Mutex
	wakeQueue     []func()
	expectedWakes int

	exiting bool
}

// New builds a Driver around the given primary and fallback engines and
// timer wheel. fallback receives every submission whose opcode primary
// declines (spec §4.7). engine/syncfallback covers most opcodes but not
// Statx, Recvmsg, Sendmsg or AsyncCancel; routed to it, those complete
// with -ENOSYS.
func New(primary, fallback engine.Engine, wheel *timerwheel.Wheel) (*Driver, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, err
	}

	return &Driver{primary: primary, fallback: fallback, wheel: wheel, eventfd: fd}, nil
}

// Wheel returns the driver's timer wheel, for package sched and the
// runtime facade to schedule deadlines against.
func (d *Driver) Wheel() *timerwheel.Wheel { return d.wheel }

// Submit routes s to whichever engine reports it supports s.Op, primary
// first. Every Submission's Addr must be the address of a
// *request.Request[int32]; dispatch recovers it with request.FromAddr
// and completes it with the raw engine.Completion.Result — a
// non-negative count/fd on success, a negated errno on failure.
func (d *Driver) Submit(s engine.Submission) error {
	eng := d.fallback
	if d.primary != nil && d.primary.Supports(s.Op) {
		eng = d.primary
	}
	return eng.Submit(s)
}

// PrepareWake implements pctx.Waker: called by a worker about to suspend
// on a Future whose completion may arrive from another goroutine
// (RunWork). It only increments a count of outstanding wakes, which
// drainWakeQueue decrements as it runs queued thunks; nothing else reads
// the count. The actual cross-thread handoff happens through postWake.
func (d *Driver) PrepareWake() {
	d.mu.Lock()
	d.expectedWakes++
	d.mu.Unlock()
}

// Wake implements pctx.Waker: pings the park loop via the eventfd without
// attaching a payload, for callers that only need to interrupt a blocked
// SubmitAndWait (e.g. an external shutdown signal). RunWork uses
// postWake instead, which attaches the actual completion thunk.
func (d *Driver) Wake() {
	d.ping()
}

func (d *Driver) ping() {
	var one [8]byte
	one[7] = 1
	_, _ = unix.Write(d.eventfd, one[:])
}

// postWake is the thread-safe half of the wake protocol: any goroutine
// may call it to hand the driver's single driving goroutine a thunk to
// run, and have the park loop woken even if it is presently blocked
// inside the primary engine's SubmitAndWait.
func (d *Driver) postWake(fn func()) {
	d.mu.Lock()
	d.wakeQueue = append(d.wakeQueue, fn)
	d.mu.Unlock()

	d.ping()
}

func (d *Driver) pendingWakes() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.wakeQueue) > 0
}

func (d *Driver) drainWakeQueue() {
	d.mu.Lock()
	q := d.wakeQueue
	d.wakeQueue = nil
	d.expectedWakes -= len(q)
	d.mu.Unlock()

	var buf [8]byte
	for {
		if _, err := unix.Read(d.eventfd, buf[:]); err != nil {
			break
		}
	}

	for _, fn := range q {
		runWakeCallback(fn)
	}
}

// runWakeCallback invokes a wake thunk with a recover in place so a
// panicking callback is reported as a fatal error (spec §7's "waker
// callback failure" class) instead of taking down the park loop's own
// goroutine with an unrelated stack trace.
func runWakeCallback(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			rtlog.Fatal("wake callback panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

// RunWork offloads work to a new goroutine — standing in for the
// source's blocking-work thread pool, since Go has no cheaper way to run
// CPU-bound or blocking work off the runtime's single driving goroutine —
// and returns a Future that resolves with its result once that goroutine
// finishes and the park loop observes the wake. Pair with
// pctx.BlockOnThreadSafe, not pctx.BlockOn: the completion is produced on
// a different goroutine than the one suspending.
func RunWork[T any](d *Driver, work func() T) future.Future[T] {
	return future.Func[T](func(req *request.Request[T]) future.Progress[T] {
		go func() {
			v := work()
			d.postWake(func() { req.Complete(v) })
		}()

		return future.Pending[T](future.CancelFunc(func() error {
			// The work is already running on its own goroutine and
			// cannot be stopped once started (spec §4.6); cancelling
			// here only means "stop waiting for it", not "stop it" — the
			// result is still delivered later through postWake and
			// simply goes unobserved by whatever cancelled.
			return nil
		}))
	})
}

// BlockWhile runs the park loop body until pred returns false. Each
// iteration: size a wait timeout from the soonest of the timer wheel's
// next deadline and any pending cross-thread wake, ask the primary
// engine to flush and wait, harvest the fallback engine (whose
// submissions already completed inline), dispatch every completion,
// drain the wake queue, and run whatever timers are now due.
func (d *Driver) BlockWhile(pred func() bool) {
	for pred() {
		d.runOnce()
	}
}

func (d *Driver) runOnce() {
	now := time.Now()

	timeout := int64(-1)
	switch {
	case d.pendingWakes():
		timeout = 0
	default:
		if deadline, ok := d.wheel.NextDeadline(); ok {
			if wait := deadline.Sub(now); wait > 0 {
				timeout = int64(wait)
			} else {
				timeout = 0
			}
		}
	}

	completions, err := d.primary.SubmitAndWait(timeout)
	if err != nil {
		// spec §7: the primary engine's work() failing is one of the
		// three classes that never unwind — there is no sane recovery
		// once the one thread driving all I/O can no longer talk to the
		// kernel, so abort rather than silently stall every suspended
		// fiber forever.
		rtlog.Fatal("primary engine wait failed", zap.Error(err))
	}

	if fb, ferr := d.fallback.Harvest(); ferr == nil {
		completions = append(completions, fb...)
	}

	for _, c := range completions {
		dispatchCompletion(c)
	}

	d.drainWakeQueue()

	d.wheel.RunTimers(time.Now())
}

func dispatchCompletion(c engine.Completion) {
	req := request.FromAddr[int32](c.Addr)
	req.Complete(c.Result)
}

// Exit begins final shutdown (spec §4.6 "exit"): every outstanding timer
// completes with rterr.Shutdown, one last non-blocking harvest delivers
// whatever the kernel already finished, and both engines and the
// eventfd are closed. RunWork goroutines already running are not waited
// for; if they complete afterward, postWake's write to a closed eventfd
// fails silently (unix.Write's error is discarded) rather than
// panicking the caller.
func (d *Driver) Exit() {
	d.exiting = true
	d.wheel.Exit()

	if completions, err := d.primary.Harvest(); err == nil {
		for _, c := range completions {
			dispatchCompletion(c)
		}
	}
	if completions, err := d.fallback.Harvest(); err == nil {
		for _, c := range completions {
			dispatchCompletion(c)
		}
	}

	if err := d.primary.Close(); err != nil {
		rtlog.L().Warn("primary engine close failed", zap.Error(err))
	}
	if err := d.fallback.Close(); err != nil {
		rtlog.L().Warn("fallback engine close failed", zap.Error(err))
	}

	_ = unix.Close(d.eventfd)
}

// Exiting reports whether Exit has been called.
func (d *Driver) Exiting() bool { return d.exiting }
