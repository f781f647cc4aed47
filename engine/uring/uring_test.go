package uring_test

import (
	"testing"
	"time"

	. "github.com/jacobsa/ogletest"
	"github.com/kylelemons/godebug/pretty"

	"github.com/ringrt/ringrt/engine"
	"github.com/ringrt/ringrt/engine/uring"
)

func TestUring(t *testing.T) { RunTests(t) }

type UringTest struct {
	e *uring.Engine
}

func init() { RegisterTestSuite(&UringTest{}) }

func (t *UringTest) SetUp(ti *TestInfo) {
	e, err := uring.Setup(8)
	AssertEq(nil, err)
	t.e = e
}

func (t *UringTest) TearDown() {
	ExpectEq(nil, t.e.Close())
}

func (t *UringTest) SupportsMatchesTheKernelOpcodeTable() {
	ExpectTrue(t.e.Supports(engine.OpNop))

	// BIND and LISTEN are always synchronous (spec §4.7); they have no
	// kernelOp entry at all, so Supports must report false regardless of
	// what the running kernel actually implements.
	ExpectFalse(t.e.Supports(engine.OpBind))
	ExpectFalse(t.e.Supports(engine.OpListen))
}

func (t *UringTest) NopRoundTripsThroughTheCompletionQueue() {
	addr := uintptr(0xdeadbeef)

	err := t.e.Submit(engine.Submission{Op: engine.OpNop, Addr: addr})
	AssertEq(nil, err)

	completions, err := t.e.SubmitAndWait(int64(time.Second))
	AssertEq(nil, err)

	want := []engine.Completion{{Addr: addr, Result: 0}}
	ExpectEq("", pretty.Compare(want, completions))
}

func (t *UringTest) HarvestIsEmptyWithNothingSubmitted() {
	completions, err := t.e.Harvest()
	AssertEq(nil, err)
	ExpectEq(0, len(completions))
}
