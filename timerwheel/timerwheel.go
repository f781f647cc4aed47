// Package timerwheel implements the ordered timer set of spec §4.5:
// Schedule registers a deadline and returns a Future that resolves when it
// elapses (or early, with rterr.Interrupted, if cancelled first);
// RunTimers drains everything due by a given instant; Exit drains
// everything outstanding with rterr.Shutdown so no caller is left
// suspended forever across a driver shutdown.
//
// The source orders timers in a BTreeSet<(Instant, usize)>, using the
// registration's own address as a tie-breaker for timers sharing a
// deadline. container/heap is the idiomatic Go substitute: a binary heap
// gives the same O(log n) pop-min/insert a BTreeSet does, without needing
// a full ordered-map package from the corpus (none of the example repos
// carry one).
package timerwheel

import (
	"container/heap"
	"time"

	"github.com/jacobsa/timeutil"

	"github.com/ringrt/ringrt/future"
	"github.com/ringrt/ringrt/request"
	"github.com/ringrt/ringrt/rterr"
)

type entry struct {
	expire time.Time
	addr   uintptr
	req    *request.Request[error]
	index  int
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if !h[i].expire.Equal(h[j].expire) {
		return h[i].expire.Before(h[j].expire)
	}
	return h[i].addr < h[j].addr
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Wheel is the ordered timer set for a single driver. It is not
// thread-safe; like package fiber's Executor, it is only ever touched
// from the runtime's single driving goroutine.
type Wheel struct {
	clock  timeutil.Clock
	items  entryHeap
	byAddr map[uintptr]*entry
}

// New creates an empty Wheel. A nil clock uses timeutil.RealClock();
// tests inject a timeutil.SimulatedClock instead to control time
// deterministically.
func New(clock timeutil.Clock) *Wheel {
	if clock == nil {
		clock = timeutil.RealClock()
	}
	return &Wheel{clock: clock, byAddr: make(map[uintptr]*entry)}
}

// Schedule returns a Future that resolves with a nil error once deadline
// has passed (discovered by a later RunTimers call), or early with
// rterr.Interrupted if the Future's CancelToken runs first. A deadline
// that has already passed resolves inline.
func (w *Wheel) Schedule(deadline time.Time) future.Future[error] {
	return future.Func[error](func(req *request.Request[error]) future.Progress[error] {
		if !deadline.After(w.clock.Now()) {
			return future.Done[error](nil)
		}

		e := &entry{expire: deadline, addr: req.Addr(), req: req}
		heap.Push(&w.items, e)
		w.byAddr[e.addr] = e

		addr := e.addr
		return future.Pending[error](future.CancelFunc(func() error {
			return w.cancel(addr)
		}))
	})
}

// cancel removes the timer registered under addr and completes it with
// rterr.Interrupted. Cancelling a timer that already fired (and so is no
// longer in byAddr) is a no-op reporting success, per the CancelToken
// contract in package future.
func (w *Wheel) cancel(addr uintptr) error {
	e, ok := w.byAddr[addr]
	if !ok {
		return nil
	}

	delete(w.byAddr, addr)
	heap.Remove(&w.items, e.index)
	e.req.Complete(rterr.Interrupted)

	return nil
}

// RunTimers completes every timer whose deadline is at or before now.
// Called once per driver park-loop iteration, after the engine has been
// polled, with whatever instant the loop just observed.
func (w *Wheel) RunTimers(now time.Time) {
	for w.items.Len() > 0 {
		e := w.items[0]
		if e.expire.After(now) {
			return
		}

		heap.Pop(&w.items)
		delete(w.byAddr, e.addr)
		e.req.Complete(nil)
	}
}

// NextDeadline reports the earliest outstanding deadline, for the park
// loop to size its wait timeout against. ok is false if no timer is
// outstanding.
func (w *Wheel) NextDeadline() (deadline time.Time, ok bool) {
	if w.items.Len() == 0 {
		return time.Time{}, false
	}
	return w.items[0].expire, true
}

// Len reports the number of outstanding timers. Intended for tests and
// diagnostics.
func (w *Wheel) Len() int { return w.items.Len() }

// Exit completes every outstanding timer with rterr.Shutdown and empties
// the wheel. Called once, as the driver begins its final shutdown drain
// (spec §4.6 "exit"), so no suspended caller is left waiting on a timer
// that will never again be polled.
func (w *Wheel) Exit() {
	for w.items.Len() > 0 {
		e := heap.Pop(&w.items).(*entry)
		delete(w.byAddr, e.addr)
		e.req.Complete(rterr.Shutdown)
	}
}

// MissPolicy controls how Interval.Tick reschedules after the runtime
// fell behind and one or more periods elapsed before the previous tick
// was even observed (spec §4.5, Glossary "Interval").
type MissPolicy int

const (
	// Skip jumps straight to the next deadline strictly after the
	// current time, discarding any ticks that were missed entirely.
	Skip MissPolicy = iota

	// Delay keeps every tick, firing missed ones back-to-back without
	// skipping, so the total tick count over time is preserved.
	Delay
)

// Interval produces a sequence of deadlines period apart, starting one
// period from construction, with reschedule behavior after a missed tick
// governed by policy.
type Interval struct {
	wheel  *Wheel
	period time.Duration
	policy MissPolicy
	next   time.Time
}

// NewInterval creates an Interval whose first tick fires one period from
// now.
func NewInterval(wheel *Wheel, period time.Duration, policy MissPolicy) *Interval {
	return &Interval{
		wheel:  wheel,
		period: period,
		policy: policy,
		next:   wheel.clock.Now().Add(period),
	}
}

// Tick returns a Future for the interval's next deadline and immediately
// advances the schedule for the deadline after that, per policy.
func (iv *Interval) Tick() future.Future[error] {
	deadline := iv.next
	iv.advance()
	return iv.wheel.Schedule(deadline)
}

func (iv *Interval) advance() {
	switch iv.policy {
	case Delay:
		iv.next = iv.next.Add(iv.period)
	default: // Skip
		now := iv.wheel.clock.Now()
		next := iv.next.Add(iv.period)
		for !next.After(now) {
			next = next.Add(iv.period)
		}
		iv.next = next
	}
}
