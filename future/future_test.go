package future

import (
	"testing"

	"github.com/ringrt/ringrt/request"
)

func TestDoneProgressCarriesItsValue(t *testing.T) {
	p := Done[int](42)

	if !p.IsDone() {
		t.Fatalf("expected IsDone() to be true")
	}
	if p.Value() != 42 {
		t.Fatalf("got %d, want 42", p.Value())
	}
	if p.Cancel() != nil {
		t.Fatalf("expected a nil CancelToken on a Done progress")
	}
}

func TestPendingProgressCarriesItsCancelToken(t *testing.T) {
	var ran bool
	p := Pending[int](CancelFunc(func() error { ran = true; return nil }))

	if p.IsDone() {
		t.Fatalf("expected IsDone() to be false")
	}
	if err := p.Cancel().Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !ran {
		t.Fatalf("expected the cancel function to run")
	}
}

func TestFuncAdaptsAPlainFunctionToFuture(t *testing.T) {
	var f Future[int] = Func[int](func(req *request.Request[int]) Progress[int] {
		return Done[int](9)
	})

	got := f.Start(request.New[int]())
	if got.Value() != 9 {
		t.Fatalf("got %d, want 9", got.Value())
	}
}

func TestNoopCancelAlwaysSucceeds(t *testing.T) {
	if err := NoopCancel.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
