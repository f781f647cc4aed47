package iofile

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/ringrt/ringrt/driver"
	"github.com/ringrt/ringrt/engine/syncfallback"
	"github.com/ringrt/ringrt/fiber"
	"github.com/ringrt/ringrt/pctx"
	"github.com/ringrt/ringrt/timerwheel"
)

func newTestDriver(t *testing.T) *driver.Driver {
	t.Helper()

	d, err := driver.New(syncfallback.New(), syncfallback.New(), timerwheel.New(nil))
	if err != nil {
		t.Fatalf("driver.New: %v", err)
	}
	return d
}

// runOnFiber runs body on a fresh fiber so pctx.BlockOn has a worker to
// suspend/resume, pumping d's park loop until body returns.
func runOnFiber(t *testing.T, d *driver.Driver, body func(c *pctx.Context)) {
	t.Helper()

	pool := fiber.NewPool(0)
	exec := fiber.NewExecutor(pool)

	w := exec.Start(func(w *fiber.Worker) {
		c := pctx.New(w, exec, d, nil)
		body(c)
	})

	d.BlockWhile(func() bool { return !w.Finished() })
}

func TestOpenWriteReadRoundTrip(t *testing.T) {
	d := newTestDriver(t)
	dir := t.TempDir()

	runOnFiber(t, d, func(c *pctx.Context) {
		f, err := Open(c, d, 0, dir+"/roundtrip", 0x242 /* O_RDWR|O_CREAT|O_TRUNC */, 0o644)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}

		want := []byte("hello io_uring-less world")
		n, err := f.WriteAt(c, want, 0)
		if err != nil || n != len(want) {
			t.Fatalf("WriteAt: n=%d err=%v", n, err)
		}

		got := make([]byte, len(want))
		n, err = f.ReadAt(c, got, 0)
		if err != nil || n != len(want) {
			t.Fatalf("ReadAt: n=%d err=%v", n, err)
		}
		if string(got) != string(want) {
			t.Fatalf("got %q, want %q", got, want)
		}

		if err := f.Fsync(c); err != nil {
			t.Fatalf("Fsync: %v", err)
		}
		if err := f.Close(c); err != nil {
			t.Fatalf("Close: %v", err)
		}
	})
}

func TestOpenNonexistentFileFails(t *testing.T) {
	d := newTestDriver(t)

	runOnFiber(t, d, func(c *pctx.Context) {
		if _, err := Open(c, d, 0, "/nonexistent/path/for/ringrt/test", 0, 0); err == nil {
			t.Fatalf("expected Open of a nonexistent path to fail")
		}
	})
}

// TestPollReportsReadinessOnAnAlreadyWritableFile is §8's poll scenario
// narrowed to a regular file, which is always POLLOUT-ready.
func TestPollReportsReadinessOnAnAlreadyWritableFile(t *testing.T) {
	d := newTestDriver(t)
	dir := t.TempDir()

	runOnFiber(t, d, func(c *pctx.Context) {
		f, err := Open(c, d, 0, dir+"/pollable", 0x242 /* O_RDWR|O_CREAT|O_TRUNC */, 0o644)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}

		got, err := f.Poll(c, unix.POLLOUT)
		if err != nil {
			t.Fatalf("Poll: %v", err)
		}
		if got&unix.POLLOUT == 0 {
			t.Fatalf("Poll: got revents %#x, want POLLOUT set", got)
		}

		if err := f.Close(c); err != nil {
			t.Fatalf("Close: %v", err)
		}
	})
}

// TestStatxIsUnsupportedBySynchronousFallback documents the
// syncfallback boundary (DESIGN.md): a fallback engine with no real ring
// behind it has no faithful synchronous equivalent for STATX's
// attribute-mask semantics, so it reports ENOSYS rather than faking it.
func TestStatxIsUnsupportedBySynchronousFallback(t *testing.T) {
	d := newTestDriver(t)

	runOnFiber(t, d, func(c *pctx.Context) {
		_, err := Statx(c, d, 0, "/", 0, unix.STATX_BASIC_STATS)
		if err != unix.ENOSYS {
			t.Fatalf("Statx: got err %v, want ENOSYS", err)
		}
	})
}
