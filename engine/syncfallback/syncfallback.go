// Package syncfallback implements engine.Engine by issuing each
// Submission as an ordinary blocking syscall the moment it is submitted.
// §6's "Kernel ABI compatibility" names the full opcode set a kernel may
// lack (OPENAT, CLOSE, READ, WRITE, SOCKET, ACCEPT, CONNECT, RECV(MSG),
// SEND(MSG), SHUTDOWN, FSYNC, STATX, POLL_ADD) and requires a synchronous
// fallback for whichever of them the running kernel turns out not to
// support; this engine is that fallback, one opcode at a time, and is
// also what a driver runs on wholesale when io_uring.Setup fails outright
// (too old a kernel, or blocked by seccomp). Of that set, STATX, RECVMSG
// and SENDMSG are not implemented here (nor is ASYNC_CANCEL): submitted
// to this engine, they complete with -ENOSYS.
package syncfallback

import (
	"bytes"

	"golang.org/x/sys/unix"

	"github.com/ringrt/ringrt/engine"
)

// supported is the opcode set this engine implements. Recvmsg, Sendmsg,
// Statx and AsyncCancel are deliberately absent — see DESIGN.md for why
// each is left to engine/uring only.
var supported = map[engine.Op]bool{
	engine.OpNop:      true,
	engine.OpClose:    true,
	engine.OpSocket:   true,
	engine.OpShutdown: true,
	engine.OpBind:     true,
	engine.OpListen:   true,
	engine.OpConnect:  true,
	engine.OpAccept:   true,
	engine.OpFsync:    true,
	engine.OpRead:     true,
	engine.OpWrite:    true,
	engine.OpRecv:     true,
	engine.OpSend:     true,
	engine.OpOpenAt:   true,
	engine.OpPollAdd:  true,
}

// Engine is a synchronous, immediate-execution engine.Engine. Submit does
// the syscall inline and buffers the Completion; Flush is a no-op;
// SubmitAndWait and Harvest both just drain whatever is buffered, since
// nothing here is ever actually pending.
type Engine struct {
	pending []engine.Completion
}

// New creates a synchronous fallback engine.
func New() *Engine {
	return &Engine{}
}

// Submit executes s immediately and buffers its result.
func (e *Engine) Submit(s engine.Submission) error {
	e.pending = append(e.pending, engine.Completion{
		Addr:   s.Addr,
		Result: int32(execute(s)),
	})
	return nil
}

// Flush is a no-op: Submit already ran the syscall synchronously.
func (e *Engine) Flush() error { return nil }

// SubmitAndWait drains whatever is buffered. Since every Submission here
// already completed inline, there is never anything to actually wait for;
// timeoutNanos is accepted only to satisfy engine.Engine.
func (e *Engine) SubmitAndWait(timeoutNanos int64) ([]engine.Completion, error) {
	return e.Harvest()
}

// Harvest drains and returns whatever completions have accumulated.
func (e *Engine) Harvest() ([]engine.Completion, error) {
	out := e.pending
	e.pending = nil
	return out, nil
}

// Supports reports whether op is one of the fixed set this engine
// actually implements.
func (e *Engine) Supports(op engine.Op) bool { return supported[op] }

// Close is a no-op: this engine holds no kernel resources of its own.
func (e *Engine) Close() error { return nil }

// execute runs one Submission synchronously, returning a non-negative
// result on success or a negated errno on failure — the same convention
// an io_uring CQE uses, so driver-level code never needs an
// engine-specific branch to interpret engine.Completion.Result.
func execute(s engine.Submission) int64 {
	switch s.Op {
	case engine.OpNop:
		return 0

	case engine.OpClose:
		if err := unix.Close(int(s.Fd)); err != nil {
			return negErrno(err)
		}
		return 0

	case engine.OpSocket:
		// Offset carries domain<<32|type as encoded by ionet; Flags
		// carries the protocol, the same layout engine/uring unpacks into
		// SOCKET's SQE fields.
		domain := int(s.Offset >> 32)
		typ := int(s.Offset & 0xffffffff)
		fd, err := unix.Socket(domain, typ, int(s.Flags))
		if err != nil {
			return negErrno(err)
		}
		return int64(fd)

	case engine.OpShutdown:
		if err := unix.Shutdown(int(s.Fd), int(s.Flags)); err != nil {
			return negErrno(err)
		}
		return 0

	case engine.OpBind:
		sa, err := decodeSockaddr(s.Buf)
		if err != nil {
			return negErrno(err)
		}
		if err := unix.Bind(int(s.Fd), sa); err != nil {
			return negErrno(err)
		}
		return 0

	case engine.OpListen:
		if err := unix.Listen(int(s.Fd), int(s.Offset)); err != nil {
			return negErrno(err)
		}
		return 0

	case engine.OpConnect:
		sa, err := decodeSockaddr(s.Buf)
		if err != nil {
			return negErrno(err)
		}
		if err := unix.Connect(int(s.Fd), sa); err != nil {
			return negErrno(err)
		}
		return 0

	case engine.OpAccept:
		fd, _, err := unix.Accept(int(s.Fd))
		if err != nil {
			return negErrno(err)
		}
		return int64(fd)

	case engine.OpFsync:
		if err := unix.Fsync(int(s.Fd)); err != nil {
			return negErrno(err)
		}
		return 0

	case engine.OpRead:
		n, err := unix.Pread(int(s.Fd), s.Buf, s.Offset)
		if err != nil {
			return negErrno(err)
		}
		return int64(n)

	case engine.OpWrite:
		n, err := unix.Pwrite(int(s.Fd), s.Buf, s.Offset)
		if err != nil {
			return negErrno(err)
		}
		return int64(n)

	case engine.OpRecv:
		// Plain read/write stand in for recv/send on a connected socket;
		// MSG_* flags in s.Flags are not honored here the way they are by
		// engine/uring's RECV opcode.
		n, err := unix.Read(int(s.Fd), s.Buf)
		if err != nil {
			return negErrno(err)
		}
		return int64(n)

	case engine.OpSend:
		n, err := unix.Write(int(s.Fd), s.Buf)
		if err != nil {
			return negErrno(err)
		}
		return int64(n)

	case engine.OpOpenAt:
		dirfd := int(s.Fd)
		if dirfd == 0 {
			dirfd = unix.AT_FDCWD
		}
		path := string(bytes.TrimRight(s.Buf, "\x00"))
		fd, err := unix.Openat(dirfd, path, int(s.Flags), uint32(s.Offset))
		if err != nil {
			return negErrno(err)
		}
		return int64(fd)

	case engine.OpPollAdd:
		fds := []unix.PollFd{{Fd: s.Fd, Events: int16(s.Flags)}}
		if _, err := unix.Poll(fds, -1); err != nil {
			return negErrno(err)
		}
		return int64(fds[0].Revents)

	default:
		return -int64(unix.ENOSYS)
	}
}

func negErrno(err error) int64 {
	if errno, ok := err.(unix.Errno); ok {
		return -int64(errno)
	}
	return -int64(unix.EIO)
}

func decodeSockaddr(buf []byte) (unix.Sockaddr, error) {
	switch len(buf) {
	case 6: // 2 bytes port + 4 bytes IPv4
		var sa unix.SockaddrInet4
		sa.Port = int(buf[0])<<8 | int(buf[1])
		copy(sa.Addr[:], buf[2:6])
		return &sa, nil
	case 18: // 2 bytes port + 16 bytes IPv6
		var sa unix.SockaddrInet6
		sa.Port = int(buf[0])<<8 | int(buf[1])
		copy(sa.Addr[:], buf[2:18])
		return &sa, nil
	default:
		return nil, unix.EINVAL
	}
}
