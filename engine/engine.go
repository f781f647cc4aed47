// Package engine defines Engine, the I/O driver's submission/completion
// boundary (spec §4.6, §4.7): a way to submit one opcode plus its
// arguments against a Request's address as its identity, and a way to
// drain whatever completed. Two implementations exist: engine/uring,
// which drives the kernel's io_uring interface directly, and
// engine/syncfallback, used per-opcode wherever a kernel lacks the
// capability (spec §4.7 "Capability probing").
package engine

// Op identifies the operation encoded in a Submission. The numeric values
// are this module's own numbering, not the kernel's IORING_OP_* codes;
// engine/uring translates each Op it handles through its kernelOp table
// before writing it into an SQE's opcode field.
type Op uint8

const (
	OpNop Op = iota
	OpOpenAt
	OpClose
	OpRead
	OpWrite
	OpSocket
	OpAccept
	OpConnect
	OpRecv
	OpRecvmsg
	OpSend
	OpSendmsg
	OpShutdown
	OpBind
	OpListen
	OpFsync
	OpStatx
	OpPollAdd
	OpAsyncCancel
	OpTimeout
)

func (o Op) String() string {
	switch o {
	case OpNop:
		return "nop"
	case OpOpenAt:
		return "openat"
	case OpClose:
		return "close"
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpSocket:
		return "socket"
	case OpAccept:
		return "accept"
	case OpConnect:
		return "connect"
	case OpRecv:
		return "recv"
	case OpRecvmsg:
		return "recvmsg"
	case OpSend:
		return "send"
	case OpSendmsg:
		return "sendmsg"
	case OpShutdown:
		return "shutdown"
	case OpBind:
		return "bind"
	case OpListen:
		return "listen"
	case OpFsync:
		return "fsync"
	case OpStatx:
		return "statx"
	case OpPollAdd:
		return "poll_add"
	case OpAsyncCancel:
		return "async_cancel"
	case OpTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Submission is one request for work, addressed by Addr (a Request's own
// heap address, per package request) so the engine can round-trip it back
// unchanged as a Completion's Addr.
//
// A handful of opcodes overload these fields beyond their literal names,
// the same way the kernel's own io_uring_sqe unions its fields per
// opcode: OpAsyncCancel and OpStatx both carry a second address through
// Offset (the cancel target's Addr, or STATX's output buffer pointer,
// respectively — exactly the sqe.off/addr2 union), and Len overrides the
// SQE's len field for opcodes where it doesn't mean len(Buf) (OpStatx's
// field-selection mask).
type Submission struct {
	Op   Op
	Addr uintptr

	Fd     int32
	Offset int64
	Buf    []byte
	Flags  uint32

	// Len overrides the submitted length field when it isn't len(Buf).
	// Zero means "derive from len(Buf)".
	Len uint32
}

// Completion reports the result of exactly one prior Submission, matched
// back to its caller by Addr.
type Completion struct {
	Addr uintptr

	// Result holds the raw return value: a non-negative count/fd on
	// success, or a negated errno on failure, exactly as the kernel
	// reports it on an io_uring CQE — engine/syncfallback reproduces the
	// same convention so callers never need an engine-specific code path.
	Result int32
}

// Engine is the submission/completion boundary a driver drives. Submit
// enqueues work without blocking; SubmitAndWait additionally flushes the
// queue and blocks (up to the given number of nanoseconds, or indefinitely
// if negative) until at least one completion is ready or the timeout
// elapses. Harvest drains whatever completions are currently available
// without blocking.
type Engine interface {
	// Submit enqueues s for processing. It may be batched; nothing is
	// guaranteed to have started until Flush or SubmitAndWait is called.
	Submit(s Submission) error

	// Flush pushes any batched submissions to the kernel without waiting
	// for completions.
	Flush() error

	// SubmitAndWait flushes pending submissions and blocks until at least
	// one completion is available or timeoutNanos elapses (a negative
	// value blocks indefinitely). It returns the completions harvested as
	// a side effect of waiting.
	SubmitAndWait(timeoutNanos int64) ([]Completion, error)

	// Harvest drains whatever completions are immediately available
	// without blocking.
	Harvest() ([]Completion, error)

	// Supports reports whether this engine can carry out op directly.
	// The driver consults this on every Submit (spec §4.7) and routes
	// unsupported opcodes to engine/syncfallback instead.
	Supports(op Op) bool

	// Close releases the engine's kernel resources. Idempotent.
	Close() error
}
