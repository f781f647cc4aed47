package task

import (
	"testing"

	"github.com/ringrt/ringrt/future"
	"github.com/ringrt/ringrt/request"
)

type fakeCanceller struct {
	token   future.CancelToken
	cleared bool
}

func (c *fakeCanceller) SetCancelToken(tok future.CancelToken) { c.token = tok }
func (c *fakeCanceller) ClearCancelToken()                     { c.cleared = true }

func TestSyncTaskRunExecutesTheBody(t *testing.T) {
	st := New[int](func(c Canceller) int { return 5 })

	if got := st.Run(&fakeCanceller{}); got != 5 {
		t.Fatalf("got %d, want 5", got)
	}
}

func TestAsFutureResolvesSynchronously(t *testing.T) {
	st := New[int](func(c Canceller) int { return 11 })
	c := &fakeCanceller{}

	p := st.AsFuture(c).Start(request.New[int]())
	if !p.IsDone() {
		t.Fatalf("expected a synchronously resolved future")
	}
	if p.Value() != 11 {
		t.Fatalf("got %d, want 11", p.Value())
	}
}
