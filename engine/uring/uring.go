package uring

import (
	"fmt"
	"time"
	"unsafe"

	"github.com/bits-and-blooms/bitset"
	"golang.org/x/sys/unix"

	"github.com/ringrt/ringrt/engine"
	"github.com/ringrt/ringrt/rterr"
)

const ioUringRegisterProbe = 8 // IORING_REGISTER_PROBE

type probeOp struct {
	Op    uint8
	Resv  uint8
	Flags uint16
	Resv2 uint32
}

const probeOpSupported = 1 << 0

// probeLayout mirrors struct io_uring_probe, sized for the full 256-entry
// opcode space the kernel may report on.
type probeLayout struct {
	LastOp uint8
	OpsLen uint8
	Resv   uint16
	Resv2  [3]uint32
	Ops    [256]probeOp
}

type kernelTimespec struct {
	Sec  int64
	Nsec int64
}

// getEventsArg mirrors struct io_uring_getevents_arg, used with
// IORING_ENTER_EXT_ARG to pass a nanosecond-resolution wait timeout
// directly to io_uring_enter rather than relying on a separate
// IORING_OP_TIMEOUT submission (spec §4.6 "ext-arg timeout fallback" is
// the reverse case: kernels without FEAT_EXT_ARG fall back to a
// TIMEOUT SQE instead of this path).
type getEventsArg struct {
	SigMask   uint64
	SigMaskSz uint32
	Pad       uint32
	Ts        uint64
}

// Engine drives one io_uring instance. Like package fiber's Executor, it
// is single-threaded by contract: every method must be called from the
// runtime's one driving goroutine, which is also the only goroutine that
// may touch the mmap'd regions this Engine owns.
type Engine struct {
	fd int

	sq     region
	sqeArr sqeArray
	cq     region

	sqEntries, cqEntries   uint32
	sqMask, cqMask         uint32
	sqHeadOff, sqTailOff   uint32
	sqFlagsOff, sqArrayOff uint32
	cqHeadOff, cqTailOff   uint32
	cqesOff                uint32

	sqLocalTail uint32 // next free SQE slot, not yet published to the kernel
	sqPublished uint32 // last tail value written to the kernel's SQ ring

	features   uint32
	singleMmap bool

	caps *bitset.BitSet // nil if probing failed; Supports then trusts kernelOp alone

	// compatTimeoutTag's address is this engine's sentinel UserData for
	// the in-ring TIMEOUT SQE SubmitAndWait falls back to on kernels
	// without IORING_FEAT_EXT_ARG; never a real Request address, so
	// Harvest can filter it out of what it reports.
	compatTimeoutTag byte

	closed bool
}

// setupFlagDropOrder lists the negotiable IORING_SETUP_* flags from
// newest (tried first) to oldest, so Setup can drop one at a time on
// EINVAL until an older kernel accepts the syscall (spec §4.7/§6 "Kernel
// ABI compatibility").
var setupFlagDropOrder = []uint32{
	setupDeferTaskrun,
	setupSingleIssuer,
	setupTaskrunFlag,
	setupCoopTaskrun,
	setupSubmitAll,
	setupClamp,
	setupCQSize,
}

// Setup creates a new ring with room for entries submissions. It
// requests the full modern IORING_SETUP_* flag set (CQSIZE, CLAMP,
// SUBMIT_ALL, COOP_TASKRUN, TASKRUN_FLAG, SINGLE_ISSUER, DEFER_TASKRUN)
// and a generously-sized CQ, then negotiates both down one flag at a
// time whenever the kernel rejects the syscall with EINVAL, so the same
// call works unmodified from a recent kernel down to one that predates
// all of them.
func Setup(entries uint32) (*Engine, error) {
	flags := uint32(setupCQSize | setupClamp | setupSubmitAll | setupCoopTaskrun | setupTaskrunFlag | setupSingleIssuer | setupDeferTaskrun)
	drop := setupFlagDropOrder

	var params setupParams
	var fd uintptr
	var errno unix.Errno

	for {
		params = setupParams{Flags: flags}
		if flags&setupCQSize != 0 && flags&setupClamp != 0 {
			params.CqEntries = requestedCQEntries
		} else {
			params.Flags &^= setupCQSize
		}

		fd, _, errno = unix.Syscall(sysIoUringSetup, uintptr(entries), uintptr(unsafe.Pointer(&params)), 0)
		if errno == 0 {
			break
		}
		if errno != unix.EINVAL || len(drop) == 0 {
			return nil, errno
		}

		flags &^= drop[0]
		drop = drop[1:]
	}

	e := &Engine{fd: int(fd), features: params.Features}

	if err := e.mapRings(params); err != nil {
		unix.Close(int(fd))
		return nil, err
	}

	e.sqEntries = params.SqEntries
	e.cqEntries = params.CqEntries
	e.sqHeadOff = params.SqOff.Head
	e.sqTailOff = params.SqOff.Tail
	e.sqFlagsOff = params.SqOff.Flags
	e.sqArrayOff = params.SqOff.Array
	e.cqHeadOff = params.CqOff.Head
	e.cqTailOff = params.CqOff.Tail
	e.cqesOff = params.CqOff.Cqes
	e.sqMask = e.sq.loadU32(params.SqOff.RingMask)
	e.cqMask = e.cq.loadU32(params.CqOff.RingMask)
	e.sqPublished = e.sq.loadU32(e.sqTailOff)
	e.sqLocalTail = e.sqPublished

	e.probeCapabilities()

	return e, nil
}

func (e *Engine) mapRings(params setupParams) error {
	e.singleMmap = params.Features&featSingleMmap != 0

	sqRingSize := int(params.SqOff.Array) + int(params.SqEntries)*4
	cqRingSize := int(params.CqOff.Cqes) + int(params.CqEntries)*int(cqeSize)

	if e.singleMmap && cqRingSize > sqRingSize {
		sqRingSize = cqRingSize
	}

	sqMem, err := unix.Mmap(e.fd, offSQRing, sqRingSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		return fmt.Errorf("uring: mmap sq ring: %w", err)
	}

	var cqMem []byte
	if e.singleMmap {
		cqMem = sqMem
	} else {
		cqMem, err = unix.Mmap(e.fd, offCQRing, cqRingSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
		if err != nil {
			unix.Munmap(sqMem)
			return fmt.Errorf("uring: mmap cq ring: %w", err)
		}
	}

	sqesSize := int(params.SqEntries) * int(sqeSize)
	sqesMem, err := unix.Mmap(e.fd, offSQEs, sqesSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		if !e.singleMmap {
			unix.Munmap(cqMem)
		}
		unix.Munmap(sqMem)
		return fmt.Errorf("uring: mmap sqes: %w", err)
	}

	e.sq = newRegion(sqMem)
	e.cq = newRegion(cqMem)
	e.sqeArr = newSqeArray(sqesMem)

	return nil
}

// probeCapabilities issues IORING_REGISTER_PROBE and records which
// opcodes the running kernel actually implements, so Supports can answer
// without ever attempting (and failing) a real submission first (spec
// §4.7 "Capability probing"). A failed probe (old kernel without
// IORING_REGISTER_PROBE) leaves caps nil; Supports then trusts kernelOp
// membership alone and lets a genuinely unsupported opcode surface
// ENOSYS on its first Submit instead.
func (e *Engine) probeCapabilities() {
	var p probeLayout

	_, _, errno := unix.Syscall6(sysIoUringRegister, uintptr(e.fd), ioUringRegisterProbe,
		uintptr(unsafe.Pointer(&p)), uintptr(len(p.Ops)), 0, 0)
	if errno != 0 {
		return
	}

	caps := bitset.New(256)
	for i := 0; i <= int(p.LastOp) && i < len(p.Ops); i++ {
		if p.Ops[i].Flags&probeOpSupported != 0 {
			caps.Set(uint(p.Ops[i].Op))
		}
	}
	e.caps = caps
}

// Supports reports whether op both has a kernel opcode mapping in this
// engine and, when probe information is available, was reported as
// implemented by the running kernel.
func (e *Engine) Supports(op engine.Op) bool {
	code, ok := kernelOp[op]
	if !ok {
		return false
	}
	if e.caps == nil {
		return true
	}
	return e.caps.Test(uint(code))
}

// Submit writes s into the next free SQE slot. It does not publish the
// slot to the kernel; Flush or SubmitAndWait does that for every
// Submit call since the last flush, in one batch.
func (e *Engine) Submit(s engine.Submission) error {
	code, ok := kernelOp[s.Op]
	if !ok {
		return fmt.Errorf("uring: opcode %s has no engine/syncfallback exemption and no kernel mapping", s.Op)
	}

	if e.sqLocalTail-e.sq.loadU32(e.sqHeadOff) >= e.sqEntries {
		// Ring is full: flush what's already queued and make room for
		// this one rather than failing it outright (spec §4.7 step 3,
		// §8 "fill the SQ to capacity... the implementation flushes the
		// ring and continues").
		if err := e.Flush(); err != nil {
			return err
		}
		if e.sqLocalTail-e.sq.loadU32(e.sqHeadOff) >= e.sqEntries {
			return rterr.New(rterr.KindOutOfMemory, "uring: submission queue full even after flush")
		}
	}

	idx := e.sqLocalTail & e.sqMask
	entry := e.sqeArr.at(idx)
	*entry = sqe{}
	entry.Opcode = code
	entry.Fd = s.Fd
	entry.Off = uint64(s.Offset)
	entry.Len = uint32(len(s.Buf))
	if s.Len != 0 {
		entry.Len = s.Len
	}
	entry.OpFlags = s.Flags
	entry.UserData = uint64(s.Addr)
	switch {
	case s.Op == engine.OpAsyncCancel:
		// ASYNC_CANCEL addresses the *target* operation to cancel by its
		// user_data, carried in from Submission.Offset rather than Buf —
		// this submission's own Addr/UserData identifies the cancel op
		// itself, not what it cancels.
		entry.Addr = uint64(s.Offset)
	case s.Op == engine.OpSocket:
		// SOCKET takes domain in fd, type in off and protocol in len;
		// Submission carries domain<<32|type in Offset and the protocol
		// in Flags, the layout engine/syncfallback decodes as well.
		entry.Fd = int32(s.Offset >> 32)
		entry.Off = uint64(s.Offset & 0xffffffff)
		entry.Len = s.Flags
		entry.OpFlags = 0
	case s.Op == engine.OpShutdown:
		// SHUTDOWN takes how in len, carried in from Submission.Flags.
		entry.Len = s.Flags
		entry.OpFlags = 0
	case s.Op == engine.OpOpenAt || s.Op == engine.OpStatx:
		// Both resolve the path in Buf against the dirfd in Fd, where 0
		// stands for AT_FDCWD as in engine/syncfallback. OPENAT takes its
		// mode in len, carried in from Submission.Offset.
		if s.Fd == 0 {
			entry.Fd = unix.AT_FDCWD
		}
		if s.Op == engine.OpOpenAt {
			entry.Len = uint32(s.Offset)
			entry.Off = 0
		}
		entry.Addr = uint64(uintptr(unsafe.Pointer(&s.Buf[0])))
	case len(s.Buf) > 0:
		entry.Addr = uint64(uintptr(unsafe.Pointer(&s.Buf[0])))
	}

	*e.sq.sqringArray(e.sqArrayOff, idx) = idx

	e.sqLocalTail++

	return nil
}

// flushPending publishes every SQE written since the last flush by
// release-storing the new tail, returning how many entries that was.
func (e *Engine) flushPending() uint32 {
	toSubmit := e.sqLocalTail - e.sqPublished
	if toSubmit == 0 {
		return 0
	}

	e.sq.storeU32(e.sqTailOff, e.sqLocalTail)
	e.sqPublished = e.sqLocalTail

	return toSubmit
}

// Flush publishes pending submissions without waiting for any completion.
func (e *Engine) Flush() error {
	toSubmit := e.flushPending()
	if toSubmit == 0 {
		return nil
	}

	return e.enterRetrying(toSubmit, 0, 0, nil)
}

// SubmitAndWait flushes pending submissions and blocks for at least one
// completion, up to timeoutNanos (a negative value waits indefinitely).
// On kernels with IORING_FEAT_EXT_ARG the timeout is passed directly to
// io_uring_enter; older kernels instead get an in-ring IORING_OP_TIMEOUT
// SQE clamped to at most one second as the wait bound (spec §6 "Kernel
// ABI compatibility"), so the driver's own timer wheel still gets
// re-checked periodically even without EXT_ARG.
func (e *Engine) SubmitAndWait(timeoutNanos int64) ([]engine.Completion, error) {
	extArg := timeoutNanos >= 0 && e.features&featExtArg != 0
	compatTimeout := timeoutNanos >= 0 && !extArg

	var ts, compatTs kernelTimespec
	if compatTimeout {
		clamped := timeoutNanos
		if clamped > int64(time.Second) {
			clamped = int64(time.Second)
		}
		compatTs.Sec = clamped / int64(time.Second)
		compatTs.Nsec = clamped % int64(time.Second)
		e.submitCompatTimeout(&compatTs)
	}

	toSubmit := e.flushPending()

	flags := uint32(enterGetEvents)

	var arg *getEventsArg
	if extArg {
		ts.Sec = timeoutNanos / int64(time.Second)
		ts.Nsec = timeoutNanos % int64(time.Second)
		arg = &getEventsArg{Ts: uint64(uintptr(unsafe.Pointer(&ts)))}
		flags |= enterExtArg
	}

	if err := e.enterRetrying(toSubmit, 1, flags, arg); err != nil {
		return nil, err
	}

	completions, err := e.Harvest()
	if err != nil {
		return nil, err
	}
	if compatTimeout {
		completions = e.dropCompatTimeout(completions)
	}
	return completions, nil
}

// submitCompatTimeout writes a pure time-based IORING_OP_TIMEOUT SQE
// (off=0: fires after ts regardless of any completion count) directly,
// bypassing Submit's public Op-routing since this is the engine's own
// internal wait bound rather than a caller's Submission.
func (e *Engine) submitCompatTimeout(ts *kernelTimespec) {
	if e.sqLocalTail-e.sq.loadU32(e.sqHeadOff) >= e.sqEntries {
		_ = e.Flush()
	}

	idx := e.sqLocalTail & e.sqMask
	entry := e.sqeArr.at(idx)
	*entry = sqe{}
	entry.Opcode = kernelOp[engine.OpTimeout]
	entry.Addr = uint64(uintptr(unsafe.Pointer(ts)))
	entry.Len = 1
	entry.UserData = uint64(uintptr(unsafe.Pointer(&e.compatTimeoutTag)))

	*e.sq.sqringArray(e.sqArrayOff, idx) = idx
	e.sqLocalTail++
}

// dropCompatTimeout filters submitCompatTimeout's own completion out of
// a harvested batch so callers never see it as a real I/O result.
func (e *Engine) dropCompatTimeout(in []engine.Completion) []engine.Completion {
	sentinel := uintptr(unsafe.Pointer(&e.compatTimeoutTag))

	out := in[:0]
	for _, c := range in {
		if c.Addr == sentinel {
			continue
		}
		out = append(out, c)
	}
	return out
}

// enterRetrying calls io_uring_enter, looping on a partial submit (spec
// §4.7: "on partial submit, loop unless SUBMIT_ALL is active") until
// every requested SQE has been consumed by the kernel, and classifies
// EAGAIN as rterr.OutOfMemory (spec §4.7's Again-means-OutOfMemory
// retry rule) rather than a generic error.
func (e *Engine) enterRetrying(toSubmit, minComplete, flags uint32, arg *getEventsArg) error {
	remaining := toSubmit

	for {
		n, err := enter(e.fd, remaining, minComplete, flags, arg)
		if err != nil {
			switch err {
			case unix.EAGAIN:
				return rterr.New(rterr.KindOutOfMemory, "uring: io_uring_enter: resource temporarily unavailable")
			case unix.EINTR, unix.ETIME:
				return nil
			default:
				return err
			}
		}

		if remaining == 0 || uint32(n) >= remaining {
			return nil
		}

		remaining -= uint32(n)

		// Only the first call owns the wait/timeout semantics; retries
		// just push the rest of an already-queued batch through.
		minComplete = 0
		flags &^= enterGetEvents | enterExtArg
		arg = nil
	}
}

// Harvest drains every completion currently visible in the CQ ring, in
// strict FIFO order (ring index order from the last-seen head up to the
// kernel's published tail), and publishes the new head. Strict FIFO
// matches the ring's own invariant that completions are appended in the
// order the kernel finished them, so no separate reordering buffer is
// needed on this side.
func (e *Engine) Harvest() ([]engine.Completion, error) {
	head := e.cq.loadU32(e.cqHeadOff)
	tail := e.cq.loadU32(e.cqTailOff)

	if head == tail {
		return nil, nil
	}

	sentinel := uint64(uintptr(unsafe.Pointer(&e.compatTimeoutTag)))
	out := make([]engine.Completion, 0, tail-head)
	for i := head; i != tail; i++ {
		c := e.cq.cqeAt(e.cqesOff, i&e.cqMask)
		if c.UserData == sentinel {
			continue
		}
		out = append(out, engine.Completion{Addr: uintptr(c.UserData), Result: c.Res})
	}

	e.cq.storeU32(e.cqHeadOff, tail)

	return out, nil
}

// Close unmaps every region this Engine owns and closes the ring fd.
// Idempotent.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if !e.singleMmap {
		record(unix.Munmap(e.cq.mem))
	}
	record(unix.Munmap(e.sq.mem))
	record(unix.Munmap(e.sqeArr.mem))
	record(unix.Close(e.fd))

	return firstErr
}

func enter(fd int, toSubmit, minComplete, flags uint32, arg *getEventsArg) (int, error) {
	var argPtr, argSz uintptr
	if arg != nil {
		argPtr = uintptr(unsafe.Pointer(arg))
		argSz = unsafe.Sizeof(*arg)
	}

	r1, _, errno := unix.Syscall6(sysIoUringEnter, uintptr(fd),
		uintptr(toSubmit), uintptr(minComplete), uintptr(flags), argPtr, argSz)
	if errno != 0 {
		return 0, errno
	}

	return int(r1), nil
}
