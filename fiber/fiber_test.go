package fiber

import "testing"

func TestStartRunsToCompletionWithoutSuspending(t *testing.T) {
	pool := NewPool(0)
	exec := NewExecutor(pool)

	var ran bool
	w := exec.Start(func(w *Worker) { ran = true })

	if !ran {
		t.Fatalf("expected the worker body to run")
	}
	if !w.Finished() {
		t.Fatalf("expected the worker to be finished")
	}
}

func TestSuspendAndResumeRoundTrip(t *testing.T) {
	pool := NewPool(0)
	exec := NewExecutor(pool)

	var before, after bool
	w := exec.Start(func(w *Worker) {
		before = true
		exec.Suspend()
		after = true
	})

	if !before || after {
		t.Fatalf("expected the body to have run up to Suspend and no further")
	}
	if w.Finished() {
		t.Fatalf("worker should not be finished while suspended")
	}

	exec.Resume(w)

	if !after {
		t.Fatalf("expected the body to resume past Suspend")
	}
	if !w.Finished() {
		t.Fatalf("expected the worker to be finished after resuming to completion")
	}
}

func TestResumeOnAFinishedWorkerPanics(t *testing.T) {
	pool := NewPool(0)
	exec := NewExecutor(pool)
	w := exec.Start(func(w *Worker) {})

	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic resuming a finished worker")
		}
	}()
	exec.Resume(w)
}

func TestReleaseGuardWithoutAnAcquireHeldPanics(t *testing.T) {
	w := newWorker(NewPool(0))

	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic releasing an unheld guard")
		}
	}()
	w.ReleaseGuard()
}

func TestPoolReusesReleasedWorkersUpToItsCapacity(t *testing.T) {
	pool := NewPool(1)
	exec := NewExecutor(pool)

	first := exec.Start(func(w *Worker) {})
	if got := pool.Len(); got != 1 {
		t.Fatalf("got pool.Len() = %d, want 1", got)
	}

	second := exec.Start(func(w *Worker) {})
	if first != second {
		t.Fatalf("expected the pool to reuse the released worker")
	}
}
