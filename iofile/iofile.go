// Package iofile is the thin File wrapper spec.md §1 calls out as an
// external collaborator, specified only at its interface: Open, Read,
// Write, Fsync and Close, each a single engine.Submission routed through
// a Driver and resolved through pctx.BlockOn. No buffering, no path
// resolution beyond what openat itself does — exactly the "thin wrapper
// invoking the core's engine operations" scope boundary.
package iofile

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ringrt/ringrt/driver"
	"github.com/ringrt/ringrt/engine"
	"github.com/ringrt/ringrt/future"
	"github.com/ringrt/ringrt/pctx"
	"github.com/ringrt/ringrt/request"
	"github.com/ringrt/ringrt/rterr"
)

// File is an open file descriptor driven through a Driver rather than
// through direct blocking syscalls.
type File struct {
	drv *driver.Driver
	fd  int32
}

// Open issues an OPENAT against dir (AT_FDCWD if dir is 0) for path, with
// the given open(2) flags and mode, and returns the resulting File.
func Open(c *pctx.Context, drv *driver.Driver, dir int32, path string, flags int, mode uint32) (*File, error) {
	if err := c.CheckInterrupt(); err != nil {
		return nil, err
	}

	buf := append([]byte(path), 0)
	res := pctx.BlockOn(c, submit(drv, engine.Submission{
		Op:     engine.OpOpenAt,
		Fd:     dir,
		Buf:    buf,
		Flags:  uint32(flags),
		Offset: int64(mode),
	}))

	if res < 0 {
		return nil, errnoResult(res)
	}
	return &File{drv: drv, fd: res}, nil
}

// Fd returns the underlying file descriptor.
func (f *File) Fd() int32 { return f.fd }

// ReadAt issues a positioned READ into buf starting at offset, returning
// the number of bytes actually read. Per spec §7's partial-read policy a
// short read is not an error: n < len(buf) can mean EOF. A zero-length
// result while the fiber has been asked to cancel is reported as
// Interrupted rather than a bare io.EOF-like 0, mirroring
// check_interrupt_if_zero.
func (f *File) ReadAt(c *pctx.Context, buf []byte, offset int64) (int, error) {
	if err := c.CheckInterrupt(); err != nil {
		return 0, err
	}

	res := pctx.BlockOn(c, submit(f.drv, engine.Submission{
		Op:     engine.OpRead,
		Fd:     f.fd,
		Buf:    buf,
		Offset: offset,
	}))

	if res < 0 {
		return 0, errnoResult(res)
	}
	if res == 0 && c.TakeInterrupt() {
		return 0, rterr.Interrupted
	}
	return int(res), nil
}

// WriteAt issues a positioned WRITE of buf starting at offset, returning
// the number of bytes actually written.
func (f *File) WriteAt(c *pctx.Context, buf []byte, offset int64) (int, error) {
	if err := c.CheckInterrupt(); err != nil {
		return 0, err
	}

	res := pctx.BlockOn(c, submit(f.drv, engine.Submission{
		Op:     engine.OpWrite,
		Fd:     f.fd,
		Buf:    buf,
		Offset: offset,
	}))

	if res < 0 {
		return 0, errnoResult(res)
	}
	return int(res), nil
}

// Fsync flushes f to stable storage.
func (f *File) Fsync(c *pctx.Context) error {
	if err := c.CheckInterrupt(); err != nil {
		return err
	}

	res := pctx.BlockOn(c, submit(f.drv, engine.Submission{
		Op: engine.OpFsync,
		Fd: f.fd,
	}))

	if res < 0 {
		return errnoResult(res)
	}
	return nil
}

// Statx stats the file at path relative to dir (AT_FDCWD if dir is 0),
// populating whatever fields mask selects (the STATX_* bits) subject to
// the AT_* lookup flags. Addr2 — the kernel's second pointer argument
// for this opcode — rides in via Submission.Offset, the same overload
// OpAsyncCancel uses for its own second address.
func Statx(c *pctx.Context, drv *driver.Driver, dir int32, path string, flags int, mask uint32) (unix.Statx_t, error) {
	var stat unix.Statx_t

	if err := c.CheckInterrupt(); err != nil {
		return stat, err
	}

	pathBuf := append([]byte(path), 0)

	res := pctx.BlockOn(c, submit(drv, engine.Submission{
		Op:     engine.OpStatx,
		Fd:     dir,
		Buf:    pathBuf,
		Flags:  uint32(flags),
		Offset: int64(uintptr(unsafe.Pointer(&stat))),
		Len:    mask,
	}))

	if res < 0 {
		return stat, errnoResult(res)
	}
	return stat, nil
}

// Poll waits until at least one of the requested poll(2) event bits
// (unix.POLLIN, unix.POLLOUT, ...) is ready on f, returning whichever
// bits were actually observed.
func (f *File) Poll(c *pctx.Context, events int16) (int16, error) {
	if err := c.CheckInterrupt(); err != nil {
		return 0, err
	}

	res := pctx.BlockOn(c, submit(f.drv, engine.Submission{
		Op:    engine.OpPollAdd,
		Fd:    f.fd,
		Flags: uint32(events),
	}))

	if res < 0 {
		return 0, errnoResult(res)
	}
	return int16(res), nil
}

// Close dispatches CLOSE unconditionally, ignoring any pending interrupt
// — per spec §9's resolved open question, Close is never interruptible,
// to avoid leaking the descriptor.
func (f *File) Close(c *pctx.Context) error {
	res := pctx.BlockOn(c, submit(f.drv, engine.Submission{
		Op: engine.OpClose,
		Fd: f.fd,
	}))

	if res < 0 {
		return errnoResult(res)
	}
	return nil
}

// submit builds the Future common to every iofile/ionet operation: issue
// s against drv with the Request's own address as identity (the
// convention driver.Driver's completion dispatch requires), and on
// cancellation ask the engine to ASYNC_CANCEL the same address.
func submit(drv *driver.Driver, s engine.Submission) future.Future[int32] {
	return future.Func[int32](func(req *request.Request[int32]) future.Progress[int32] {
		s.Addr = req.Addr()

		if err := drv.Submit(s); err != nil {
			return future.Done[int32](-int32(unix.ENOMEM))
		}

		target := s.Addr
		return future.Pending[int32](future.CancelFunc(func() error {
			cancel := request.NoOp[int32]()
			return drv.Submit(engine.Submission{
				Op:     engine.OpAsyncCancel,
				Addr:   cancel.Addr(),
				Offset: int64(target),
			})
		}))
	})
}

// errnoResult converts a negative engine.Completion.Result into its
// unix.Errno.
func errnoResult(res int32) error {
	return unix.Errno(-res)
}
