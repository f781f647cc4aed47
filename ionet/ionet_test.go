package ionet

import (
	"bytes"
	"fmt"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/ringrt/ringrt/driver"
	"github.com/ringrt/ringrt/engine/syncfallback"
	"github.com/ringrt/ringrt/fiber"
	"github.com/ringrt/ringrt/pctx"
	"github.com/ringrt/ringrt/sched"
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

// TestTCPRoundTrip is §8 scenario 3: a listener bound to an ephemeral
// port, a dialer connecting to it, and bytes [0..10) sent one at a time
// round-tripping identically.
func TestTCPRoundTrip(t *testing.T) {
	d := newTestDriver(t)

	pool := fiber.NewPool(0)
	exec := fiber.NewExecutor(pool)

	want := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	got := make([]byte, len(want))

	w := exec.Start(func(w *fiber.Worker) {
		root := pctx.New(w, exec, d, nil)

		ln, err := ListenTCP(root, d, "127.0.0.1:0")
		if err != nil {
			t.Errorf("ListenTCP: %v", err)
			return
		}

		addr, err := ln.LocalAddr()
		if err != nil {
			t.Errorf("LocalAddr: %v", err)
			return
		}
		dialAddr := fmt.Sprintf("127.0.0.1:%d", addr.Port)

		client := sched.Spawn(root, func(c *pctx.Context) error {
			conn, err := DialTCP(c, d, dialAddr)
			if err != nil {
				return err
			}
			for _, b := range want {
				if _, err := conn.Send(c, []byte{b}); err != nil {
					return err
				}
			}
			return conn.Close(c)
		})

		peer, err := ln.Accept(root)
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}

		for total := 0; total < len(got); {
			n, err := peer.Recv(root, got[total:])
			if err != nil {
				t.Errorf("Recv: %v", err)
				return
			}
			total += n
		}

		if err := client.Join(root); err != nil {
			t.Errorf("client side failed: %v", err)
		}

		_ = peer.Close(root)
		_ = ln.Close(root)
	})

	d.BlockWhile(func() bool { return !w.Finished() })

	if !bytes.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

// TestSocketPollReportsWritableOnAConnectedSocket is §8's poll scenario
// applied to a TCP socket: a freshly connected socket is always
// POLLOUT-ready.
func TestSocketPollReportsWritableOnAConnectedSocket(t *testing.T) {
	d := newTestDriver(t)

	pool := fiber.NewPool(0)
	exec := fiber.NewExecutor(pool)

	w := exec.Start(func(w *fiber.Worker) {
		root := pctx.New(w, exec, d, nil)

		ln, err := ListenTCP(root, d, "127.0.0.1:0")
		if err != nil {
			t.Errorf("ListenTCP: %v", err)
			return
		}
		addr, err := ln.LocalAddr()
		if err != nil {
			t.Errorf("LocalAddr: %v", err)
			return
		}
		dialAddr := fmt.Sprintf("127.0.0.1:%d", addr.Port)

		client := sched.Spawn(root, func(c *pctx.Context) error {
			conn, err := DialTCP(c, d, dialAddr)
			if err != nil {
				return err
			}
			got, err := conn.Poll(c, unix.POLLOUT)
			if err != nil {
				return err
			}
			if got&unix.POLLOUT == 0 {
				t.Errorf("Poll: got revents %#x, want POLLOUT set", got)
			}
			return conn.Close(c)
		})

		peer, err := ln.Accept(root)
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}
		if err := client.Join(root); err != nil {
			t.Errorf("client side failed: %v", err)
		}
		_ = peer.Close(root)
		_ = ln.Close(root)
	})

	d.BlockWhile(func() bool { return !w.Finished() })
}

// TestRecvmsgSendmsgAreUnsupportedBySynchronousFallback documents the
// syncfallback boundary (DESIGN.md): ancillary-data semantics have no
// faithful plain read/write equivalent, so the fallback reports ENOSYS
// rather than silently dropping control messages.
func TestRecvmsgSendmsgAreUnsupportedBySynchronousFallback(t *testing.T) {
	d := newTestDriver(t)

	pool := fiber.NewPool(0)
	exec := fiber.NewExecutor(pool)

	w := exec.Start(func(w *fiber.Worker) {
		root := pctx.New(w, exec, d, nil)

		ln, err := ListenTCP(root, d, "127.0.0.1:0")
		if err != nil {
			t.Errorf("ListenTCP: %v", err)
			return
		}
		addr, err := ln.LocalAddr()
		if err != nil {
			t.Errorf("LocalAddr: %v", err)
			return
		}
		dialAddr := fmt.Sprintf("127.0.0.1:%d", addr.Port)

		client := sched.Spawn(root, func(c *pctx.Context) error {
			conn, err := DialTCP(c, d, dialAddr)
			if err != nil {
				return err
			}
			if _, err := conn.Sendmsg(c, []byte{0}); err != unix.ENOSYS {
				t.Errorf("Sendmsg: got err %v, want ENOSYS", err)
			}
			return conn.Close(c)
		})

		peer, err := ln.Accept(root)
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}
		if _, err := peer.Recvmsg(root, make([]byte, 1)); err != unix.ENOSYS {
			t.Errorf("Recvmsg: got err %v, want ENOSYS", err)
		}

		if err := client.Join(root); err != nil {
			t.Errorf("client side failed: %v", err)
		}
		_ = peer.Close(root)
		_ = ln.Close(root)
	})

	d.BlockWhile(func() bool { return !w.Finished() })
}
