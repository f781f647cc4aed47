// Package sched implements the scheduler combinators of spec §4.8 —
// Spawn, Join, Select — uniformly on top of fiber.Executor.Start/Resume
// and the Request/Future protocol, the way the source builds spawn/join/
// select as library code over the same primitives rather than as
// special-cased runtime operations.
package sched

import (
	"github.com/ringrt/ringrt/fiber"
	"github.com/ringrt/ringrt/future"
	"github.com/ringrt/ringrt/pctx"
	"github.com/ringrt/ringrt/request"
)

// JoinHandle is a running (or finished) task started by Spawn. It may be
// joined or selected on exactly once; like the source's JoinHandle, it
// is consumed by Join/Select rather than reusable.
type JoinHandle[T any] struct {
	executor *fiber.Executor
	worker   *fiber.Worker
	ctx      *pctx.Context

	done  bool
	value T

	// waiter is set at most once, by whichever AsFuture().Start call
	// first observes the task still running; invoked by the task's own
	// goroutine when it finishes.
	waiter func(T)
}

// Spawn starts body running immediately on a fresh fiber drawn from c's
// executor, eagerly running it up to its first suspension point before
// returning — the same "runs until first await" eagerness spec §4.8
// describes for spawn. The returned JoinHandle observes its result.
func Spawn[T any](c *pctx.Context, body func(child *pctx.Context) T) *JoinHandle[T] {
	h := &JoinHandle[T]{executor: c.Executor()}

	h.worker = c.Executor().Start(func(w *fiber.Worker) {
		h.ctx = pctx.New(w, c.Executor(), c.Waker(), c.Env())

		v := body(h.ctx)

		h.done = true
		h.value = v

		if h.waiter != nil {
			wt := h.waiter
			h.waiter = nil
			wt(v)
		}
	})

	return h
}

// Done reports whether the spawned task has finished.
func (h *JoinHandle[T]) Done() bool { return h.done }

// Cancel requests cancellation of the spawned task by interrupting
// whatever it is currently suspended on (spec §4.4). It is a no-op if
// the task has already finished.
func (h *JoinHandle[T]) Cancel() error {
	if h.done || h.ctx == nil {
		return nil
	}
	return h.ctx.Interrupt()
}

// AsFuture adapts h into a future.Future so it composes with
// pctx.BlockOn, Join, and Select. Must only be started once.
func (h *JoinHandle[T]) AsFuture() future.Future[T] {
	return future.Func[T](func(req *request.Request[T]) future.Progress[T] {
		if h.done {
			return future.Done[T](h.value)
		}

		h.waiter = func(v T) { req.Complete(v) }

		return future.Pending[T](future.CancelFunc(func() error {
			return h.Cancel()
		}))
	})
}

// Join blocks the calling fiber until h's task finishes, returning its
// result. h must not be joined or selected on more than once.
func (h *JoinHandle[T]) Join(c *pctx.Context) T {
	return pctx.BlockOn(c, h.AsFuture())
}

// Result is what SelectAll resolves with: which branch finished first and
// its value.
type Result[T any] struct {
	Index int
	Value T
}

// SelectAll starts every future in futures, blocks until the first one
// resolves, and issues a best-effort cancel to every other branch (spec
// §4.8 "cancel-on-first-done"). Branches that resolved synchronously
// during the initial start pass are also considered, in start order, and
// the first one seen Done wins; every branch is still started, and one
// left pending after a winner is known is cancelled at once.
//
// This is the same-typed N-ary generalization of the spec's binary
// select(a, b); for the canonical two-argument, heterogeneously-typed
// combinator see Select.
func SelectAll[T any](c *pctx.Context, futures []future.Future[T]) Result[T] {
	return pctx.BlockOn(c, branch(futures))
}

// branch is the internal combinator SelectAll builds on: race a set of
// Futures, resolving the moment any one of them does. Join and Select
// use the same outer-Request pattern in their own two-branch code.
func branch[T any](futures []future.Future[T]) future.Future[Result[T]] {
	return future.Func[Result[T]](func(outerReq *request.Request[Result[T]]) future.Progress[Result[T]] {
		cancels := make([]future.CancelToken, len(futures))

		var (
			done   bool
			result Result[T]
			inside = true
		)

		finish := func(i int, v T) {
			if done {
				return
			}
			done = true
			result = Result[T]{Index: i, Value: v}

			for j, tok := range cancels {
				if j != i && tok != nil {
					_ = tok.Run()
				}
			}

			if !inside {
				outerReq.Complete(result)
			}
		}

		for i, f := range futures {
			i := i
			req := request.New[T]()
			req.SetCallback(func(_ *request.Request[T], v T) { finish(i, v) })

			progress := f.Start(req)
			if progress.IsDone() {
				finish(i, progress.Value())
				continue
			}
			cancels[i] = progress.Cancel()
			if done {
				_ = cancels[i].Run()
			}
		}

		inside = false

		if done {
			return future.Done[Result[T]](result)
		}

		return future.Pending[Result[T]](future.CancelFunc(func() error {
			for _, tok := range cancels {
				if tok != nil {
					_ = tok.Run()
				}
			}
			return nil
		}))
	})
}

// joinPair is Join's single-typed carrier for a heterogeneous (A, B)
// result — future.Future is defined over one type parameter, so the two
// branch outputs travel together in a struct rather than as a literal Go
// tuple.
type joinPair[A, B any] struct {
	a A
	b B
}

// Join starts a and b concurrently and blocks until both have resolved,
// returning their results together (spec §4.8 "join(a, b) -> Join<Oa,
// Ob>"). Mirrors branch's structure — one outer Request discharged once
// every inner branch has completed, tolerating either branch resolving
// inline during the initial Start pass — generalized from branch's
// same-typed slice to two independently-typed futures.
//
// If one branch's Start panics, the other is cancelled immediately and
// Join waits for it to settle before re-raising the panic once both
// sides are done, standing in for the source's per-task unwind rule ("if
// the first panics, the second is cancelled"; "if the second to finish
// panics, the first's result is still reported" — the first's value is
// computed and held, even though a re-raised panic means nothing is
// returned normally to discard it).
func Join[A, B any](c *pctx.Context, a future.Future[A], b future.Future[B]) (A, B) {
	pair := pctx.BlockOn(c, joinFuture(a, b))
	return pair.a, pair.b
}

func joinFuture[A, B any](a future.Future[A], b future.Future[B]) future.Future[joinPair[A, B]] {
	return future.Func[joinPair[A, B]](func(outerReq *request.Request[joinPair[A, B]]) future.Progress[joinPair[A, B]] {
		var (
			pair             joinPair[A, B]
			aDone, bDone     bool
			aCancel, bCancel future.CancelToken
			panicVal         any
			panicked         bool
			inside           = true
		)

		finish := func() {
			if !aDone || !bDone || inside {
				return
			}
			if panicked {
				panic(panicVal)
			}
			outerReq.Complete(pair)
		}

		runA := func() (panickedHere bool) {
			defer func() {
				if r := recover(); r != nil {
					panicked = true
					panicVal = r
					aDone = true
					panickedHere = true
				}
			}()

			reqA := request.New[A]()
			reqA.SetCallback(func(_ *request.Request[A], v A) {
				pair.a = v
				aDone = true
				finish()
			})

			progress := a.Start(reqA)
			if progress.IsDone() {
				pair.a = progress.Value()
				aDone = true
			} else {
				aCancel = progress.Cancel()
			}
			return false
		}

		runB := func() (panickedHere bool) {
			defer func() {
				if r := recover(); r != nil {
					panicked = true
					panicVal = r
					bDone = true
					panickedHere = true
				}
			}()

			reqB := request.New[B]()
			reqB.SetCallback(func(_ *request.Request[B], v B) {
				pair.b = v
				bDone = true
				finish()
			})

			progress := b.Start(reqB)
			if progress.IsDone() {
				pair.b = progress.Value()
				bDone = true
			} else {
				bCancel = progress.Cancel()
			}
			return false
		}

		// Both branches are always started — spec's "the second is
		// cancelled" presumes it was already running — and only then
		// does a synchronous panic in either reach for the other's
		// cancel token.
		aPanicked := runA()
		bPanicked := runB()

		if aPanicked && bCancel != nil && !bDone {
			_ = bCancel.Run()
		}
		if bPanicked && aCancel != nil && !aDone {
			_ = aCancel.Run()
		}

		inside = false

		if aDone && bDone {
			if panicked {
				panic(panicVal)
			}
			return future.Done[joinPair[A, B]](pair)
		}

		return future.Pending[joinPair[A, B]](future.CancelFunc(func() error {
			if aCancel != nil && !aDone {
				_ = aCancel.Run()
			}
			if bCancel != nil && !bDone {
				_ = bCancel.Run()
			}
			return nil
		}))
	})
}

// SelectResult is what Select resolves with (spec §4.8 "select(a, b) ->
// Select<Oa, Ob>", "winner first, loser-maybe second"): which branch won,
// its value, and the loser's value if its cancellation still delivered
// one before settling.
type SelectResult[A, B any] struct {
	FirstWon bool

	A    A
	HasA bool

	B    B
	HasB bool
}

// Select starts a and b concurrently; on the first completion it cancels
// the other branch, then waits for that branch's own cancellation-
// completion (which may still carry a value) before resolving with both
// sides settled (spec §4.8 "select(a, b)").
func Select[A, B any](c *pctx.Context, a future.Future[A], b future.Future[B]) SelectResult[A, B] {
	return pctx.BlockOn(c, selectFuture(a, b))
}

func selectFuture[A, B any](a future.Future[A], b future.Future[B]) future.Future[SelectResult[A, B]] {
	return future.Func[SelectResult[A, B]](func(outerReq *request.Request[SelectResult[A, B]]) future.Progress[SelectResult[A, B]] {
		var (
			result           SelectResult[A, B]
			aDone, bDone     bool
			aCancel, bCancel future.CancelToken
			winnerDecided    bool
			inside           = true
		)

		finish := func() {
			if aDone && bDone && !inside {
				outerReq.Complete(result)
			}
		}

		onA := func(v A) {
			if aDone {
				return
			}
			aDone = true
			result.A = v
			result.HasA = true
			if !winnerDecided {
				winnerDecided = true
				result.FirstWon = true
				if bCancel != nil && !bDone {
					_ = bCancel.Run()
				}
			}
			finish()
		}

		onB := func(v B) {
			if bDone {
				return
			}
			bDone = true
			result.B = v
			result.HasB = true
			if !winnerDecided {
				winnerDecided = true
				result.FirstWon = false
				if aCancel != nil && !aDone {
					_ = aCancel.Run()
				}
			}
			finish()
		}

		reqA := request.New[A]()
		reqA.SetCallback(func(_ *request.Request[A], v A) { onA(v) })
		pa := a.Start(reqA)
		if pa.IsDone() {
			onA(pa.Value())
		} else {
			aCancel = pa.Cancel()
		}

		reqB := request.New[B]()
		reqB.SetCallback(func(_ *request.Request[B], v B) { onB(v) })
		pb := b.Start(reqB)
		if pb.IsDone() {
			onB(pb.Value())
		} else {
			bCancel = pb.Cancel()
			if aDone {
				// a already won inline, before b had a cancel token.
				_ = bCancel.Run()
			}
		}

		inside = false

		if aDone && bDone {
			return future.Done[SelectResult[A, B]](result)
		}

		return future.Pending[SelectResult[A, B]](future.CancelFunc(func() error {
			if aCancel != nil && !aDone {
				_ = aCancel.Run()
			}
			if bCancel != nil && !bDone {
				_ = bCancel.Run()
			}
			return nil
		}))
	})
}
