package sched

import (
	"testing"

	"github.com/ringrt/ringrt/fiber"
	"github.com/ringrt/ringrt/future"
	"github.com/ringrt/ringrt/pctx"
	"github.com/ringrt/ringrt/request"
)

func rootContext() *pctx.Context {
	pool := fiber.NewPool(0)
	exec := fiber.NewExecutor(pool)
	return pctx.New(nil, exec, nil, nil)
}

func TestSpawnJoinReturnsResult(t *testing.T) {
	root := rootContext()

	h := Spawn(root, func(c *pctx.Context) int {
		return 42
	})

	if !h.Done() {
		t.Fatalf("expected a non-suspending body to finish synchronously")
	}

	got := h.Join(root)
	if got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
}

func TestJoinHandleCancelOnFinishedTaskIsNoop(t *testing.T) {
	root := rootContext()

	h := Spawn(root, func(c *pctx.Context) int { return 1 })

	if err := h.Cancel(); err != nil {
		t.Fatalf("Cancel on a finished task should be a no-op, got %v", err)
	}
}

func TestSelectAllPicksFirstSynchronousWinner(t *testing.T) {
	root := rootContext()

	h1 := Spawn(root, func(c *pctx.Context) int { return 10 })
	h2 := Spawn(root, func(c *pctx.Context) int { return 20 })

	result := SelectAll(root, []future.Future[int]{h1.AsFuture(), h2.AsFuture()})

	if result.Index != 0 || result.Value != 10 {
		t.Fatalf("got %+v, want {Index:0 Value:10}", result)
	}
}

func TestBranchCancelsLoserOnSynchronousWinner(t *testing.T) {
	var loserCancelled bool

	winner := future.Func[int](func(req *request.Request[int]) future.Progress[int] {
		return future.Done[int](7)
	})

	loser := future.Func[int](func(req *request.Request[int]) future.Progress[int] {
		return future.Pending[int](future.CancelFunc(func() error {
			loserCancelled = true
			return nil
		}))
	})

	root := rootContext()
	result := SelectAll(root, []future.Future[int]{winner, loser})

	if result.Index != 0 || result.Value != 7 {
		t.Fatalf("got %+v, want {Index:0 Value:7}", result)
	}
	if !loserCancelled {
		t.Fatalf("expected the losing branch to be cancelled")
	}
}

func TestJoinAwaitsBothHeterogeneousBranches(t *testing.T) {
	root := rootContext()

	a := future.Func[int](func(req *request.Request[int]) future.Progress[int] {
		return future.Done[int](1)
	})
	b := future.Func[string](func(req *request.Request[string]) future.Progress[string] {
		return future.Done[string]("x")
	})

	gotA, gotB := Join(root, a, b)
	if gotA != 1 || gotB != "x" {
		t.Fatalf("got (%v, %v), want (1, x)", gotA, gotB)
	}
}

func TestJoinPropagatesAPanicFromEitherBranchAfterCancellingTheOther(t *testing.T) {
	root := rootContext()

	var otherCancelled bool

	bad := future.Func[int](func(req *request.Request[int]) future.Progress[int] {
		panic("boom")
	})
	other := future.Func[string](func(req *request.Request[string]) future.Progress[string] {
		return future.Pending[string](future.CancelFunc(func() error {
			otherCancelled = true
			return nil
		}))
	})

	defer func() {
		if recover() == nil {
			t.Fatalf("expected the panic to propagate out of Join")
		}
		if !otherCancelled {
			t.Fatalf("expected the surviving branch to be cancelled")
		}
	}()

	Join(root, bad, other)
}

func TestSelectReportsTheWinnerAndCancelsTheLoser(t *testing.T) {
	root := rootContext()

	var loserCancelled bool

	a := future.Func[int](func(req *request.Request[int]) future.Progress[int] {
		return future.Done[int](9)
	})
	b := future.Func[string](func(req *request.Request[string]) future.Progress[string] {
		return future.Pending[string](future.CancelFunc(func() error {
			loserCancelled = true
			return nil
		}))
	})

	result := Select(root, a, b)

	if !result.FirstWon || !result.HasA || result.A != 9 || result.HasB {
		t.Fatalf("got %+v, want FirstWon with A=9 and no B", result)
	}
	if !loserCancelled {
		t.Fatalf("expected the losing branch to be cancelled")
	}
}
