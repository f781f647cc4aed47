// Package uring drives the kernel's io_uring interface directly: ring
// setup, the mmap'd submission/completion queues, per-opcode capability
// probing with synchronous fallback, and strict-FIFO completion
// harvesting (spec §4.6, §4.7).
//
// golang.org/x/sys/unix supplies Syscall/Syscall6 and mmap/munmap, but
// not typed struct bindings for the ring ABI — this file defines that
// ABI locally, including the io_uring_setup/enter/register syscall
// numbers, matching the stable uapi/linux/io_uring.h layout.
package uring

import "unsafe"

// setupParams mirrors struct io_uring_params.
type setupParams struct {
	SqEntries    uint32
	CqEntries    uint32
	Flags        uint32
	SqThreadCPU  uint32
	SqThreadIdle uint32
	Features     uint32
	WqFd         uint32
	Resv         [3]uint32
	SqOff        sqringOffsets
	CqOff        cqringOffsets
}

// sqringOffsets mirrors struct io_sqring_offsets: byte offsets, from the
// start of the SQ ring mmap region, of each control field.
type sqringOffsets struct {
	Head        uint32
	Tail        uint32
	RingMask    uint32
	RingEntries uint32
	Flags       uint32
	Dropped     uint32
	Array       uint32
	Resv1       uint32
	Resv2       uint64
}

// cqringOffsets mirrors struct io_cqring_offsets.
type cqringOffsets struct {
	Head        uint32
	Tail        uint32
	RingMask    uint32
	RingEntries uint32
	Overflow    uint32
	Cqes        uint32
	Flags       uint32
	Resv1       uint32
	Resv2       uint64
}

// sqe mirrors struct io_uring_sqe. Only the fields this engine populates
// are named individually; the rest of the union is left as raw padding.
type sqe struct {
	Opcode      uint8
	Flags       uint8
	Ioprio      uint16
	Fd          int32
	Off         uint64 // or addr2, depending on Opcode
	Addr        uint64
	Len         uint32
	OpFlags     uint32 // rw_flags / fsync_flags / poll_flags / accept_flags ...
	UserData    uint64
	BufIndexPad uint16
	Personality uint16
	SpliceFdIn  int32
	Pad2        [2]uint64
}

const sqeSize = unsafe.Sizeof(sqe{})

// cqe mirrors struct io_uring_cqe.
type cqe struct {
	UserData uint64
	Res      int32
	Flags    uint32
}

const cqeSize = unsafe.Sizeof(cqe{})

// mmap region offsets (IORING_OFF_*), fixed by the kernel ABI.
const (
	offSQRing = 0x00000000
	offCQRing = 0x08000000
	offSQEs   = 0x10000000
)

// io_uring_enter flags.
const (
	enterGetEvents = 1 << 0
	enterSQWakeup  = 1 << 1
	enterExtArg    = 1 << 3
)

// io_uring_setup feature flags this engine inspects.
const (
	featSingleMmap = 1 << 0
	featExtArg     = 1 << 8
)

// io_uring_setup request flags (IORING_SETUP_*). Setup negotiates these
// down from newest to oldest on EINVAL (spec §4.7/§6 "Kernel ABI
// compatibility") since an older kernel rejects the whole syscall if any
// requested flag is one it predates.
const (
	setupCQSize       = 1 << 3  // IORING_SETUP_CQSIZE
	setupClamp        = 1 << 4  // IORING_SETUP_CLAMP
	setupSubmitAll    = 1 << 7  // IORING_SETUP_SUBMIT_ALL
	setupCoopTaskrun  = 1 << 8  // IORING_SETUP_COOP_TASKRUN
	setupTaskrunFlag  = 1 << 9  // IORING_SETUP_TASKRUN_FLAG
	setupSingleIssuer = 1 << 12 // IORING_SETUP_SINGLE_ISSUER
	setupDeferTaskrun = 1 << 13 // IORING_SETUP_DEFER_TASKRUN
)

// requestedCQEntries is how large a CQ ring Setup asks for when
// IORING_SETUP_CLAMP is in the negotiated flag set, letting the kernel
// clamp it down to whatever its actual maximum is rather than Setup
// having to know that maximum itself (spec §4.7 "size CQ generously;
// CLAMP lets the kernel cap it").
const requestedCQEntries = 8192

// Raw x86-64 syscall numbers for the io_uring syscalls. golang.org/x/sys/unix
// does not export typed wrappers or named constants for these on every
// supported architecture, so they are issued via unix.Syscall/Syscall6
// directly, the same way both Go io_uring implementations in the
// retrieval pack do (one hardcodes 426 for SYS_IO_URING_SETUP directly;
// the other, cloudwego/gopkg's, targets linux/amd64 exclusively).
const (
	sysIoUringSetup    = 426
	sysIoUringEnter    = 427
	sysIoUringRegister = 428
)
