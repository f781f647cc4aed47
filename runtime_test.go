package ringrt

import (
	"testing"
	"time"

	"github.com/ringrt/ringrt/future"
	"github.com/ringrt/ringrt/pctx"
	"github.com/ringrt/ringrt/request"
	"github.com/ringrt/ringrt/sched"
	"github.com/ringrt/ringrt/timerwheel"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()

	rt, err := New(Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(rt.Close)
	return rt
}

func TestBlockOnReturnsBodyResult(t *testing.T) {
	rt := newTestRuntime(t)

	got := BlockOn(rt, func(c *pctx.Context) int { return 42 })
	if got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
}

func TestSleepSuspendsForAtLeastTheRequestedDuration(t *testing.T) {
	rt := newTestRuntime(t)

	start := time.Now()
	BlockOn(rt, func(c *pctx.Context) struct{} {
		if err := Sleep(c, rt, 20*time.Millisecond); err != nil {
			t.Errorf("Sleep: %v", err)
		}
		return struct{}{}
	})
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("Sleep returned after only %v", elapsed)
	}
}

func TestSpawnJoinRoundTrip(t *testing.T) {
	rt := newTestRuntime(t)

	got := BlockOn(rt, func(c *pctx.Context) int {
		h := Spawn(c, func(child *pctx.Context) int { return 23 })
		return h.Join(c)
	})
	if got != 23 {
		t.Fatalf("got %d, want 23", got)
	}
}

func TestSelectPicksTheSynchronousWinnerAndCancelsTheLoser(t *testing.T) {
	rt := newTestRuntime(t)

	var loserCancelled bool

	result := BlockOn(rt, func(c *pctx.Context) int {
		winner := future.Func[int](func(req *request.Request[int]) future.Progress[int] {
			return future.Done[int](1)
		})
		loser := future.Func[int](func(req *request.Request[int]) future.Progress[int] {
			return future.Pending[int](future.CancelFunc(func() error {
				loserCancelled = true
				return nil
			}))
		})

		r := SelectAll(c, []future.Future[int]{winner, loser})
		return r.Value
	})

	if result != 1 {
		t.Fatalf("got %d, want 1", result)
	}
	if !loserCancelled {
		t.Fatalf("expected the losing branch to be cancelled")
	}
}

func TestJoinCombinesTwoDifferentlyTypedResults(t *testing.T) {
	rt := newTestRuntime(t)

	type pair struct {
		a int
		b string
	}

	got := BlockOn(rt, func(c *pctx.Context) pair {
		a := future.Func[int](func(req *request.Request[int]) future.Progress[int] {
			return future.Done[int](7)
		})
		b := future.Func[string](func(req *request.Request[string]) future.Progress[string] {
			return future.Done[string]("ok")
		})
		va, vb := Join(c, a, b)
		return pair{va, vb}
	})

	if got.a != 7 || got.b != "ok" {
		t.Fatalf("got %+v, want {a:7 b:ok}", got)
	}
}

func TestSelectReportsWhichSideWonAndSettlesTheOther(t *testing.T) {
	rt := newTestRuntime(t)

	var loserCancelled bool

	result := BlockOn(rt, func(c *pctx.Context) sched.SelectResult[int, string] {
		a := future.Func[int](func(req *request.Request[int]) future.Progress[int] {
			return future.Done[int](1)
		})
		b := future.Func[string](func(req *request.Request[string]) future.Progress[string] {
			return future.Pending[string](future.CancelFunc(func() error {
				loserCancelled = true
				return nil
			}))
		})
		return Select(c, a, b)
	})

	if !result.FirstWon || !result.HasA || result.A != 1 {
		t.Fatalf("got %+v, want FirstWon with A=1", result)
	}
	if !loserCancelled {
		t.Fatalf("expected the losing branch to be cancelled")
	}
}

func TestIntervalTickWithSkipPolicyReturnsNoError(t *testing.T) {
	rt := newTestRuntime(t)

	iv := rt.NewInterval(10*time.Millisecond, timerwheel.Skip)

	BlockOn(rt, func(c *pctx.Context) struct{} {
		if err := iv.Tick(c); err != nil {
			t.Errorf("Tick: %v", err)
		}
		return struct{}{}
	})
}
