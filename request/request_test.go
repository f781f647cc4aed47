package request

import "testing"

func TestCompleteInvokesCallbackWithValue(t *testing.T) {
	r := New[int]()
	var got int
	r.SetCallback(func(_ *Request[int], v int) { got = v })

	r.Complete(7)

	if got != 7 {
		t.Fatalf("got %d, want 7", got)
	}
	if !r.Completed() {
		t.Fatalf("expected Completed() to be true after Complete")
	}
}

func TestCompleteTwiceOnTheSameRequestPanics(t *testing.T) {
	r := New[int]()
	r.Complete(1)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic from a second Complete call")
		}
	}()
	r.Complete(2)
}

func TestAddrRoundTripsThroughFromAddr(t *testing.T) {
	r := New[int]()
	got := FromAddr[int](r.Addr())

	if got != r {
		t.Fatalf("FromAddr(r.Addr()) did not recover the same pointer")
	}
}

func TestNoOpStaysPinnedUntilItCompletes(t *testing.T) {
	r := NoOp[int]()
	addr := r.Addr()

	if _, ok := pinned.Load(addr); !ok {
		t.Fatalf("expected NoOp's request to be pinned before completion")
	}

	r.Complete(0)

	if _, ok := pinned.Load(addr); ok {
		t.Fatalf("expected NoOp's request to be unpinned after completion")
	}
}

func TestArgRoundTrip(t *testing.T) {
	r := New[int]()
	r.SetArg("env")

	if r.Arg() != "env" {
		t.Fatalf("got %v, want %q", r.Arg(), "env")
	}
}
