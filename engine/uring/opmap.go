package uring

import "github.com/ringrt/ringrt/engine"

// kernelOp maps this module's engine.Op to the kernel's stable
// IORING_OP_* opcode numbers. Bind and Listen are deliberately absent:
// spec §4.7 says those are "always synchronous", so Supports reports
// false for them unconditionally and they always route to
// engine/syncfallback. Close, Socket, and Shutdown do have real kernel
// opcodes here — on a kernel that probeCapabilities reports as
// implementing them, Supports answers true and they go through the ring
// like everything else; older kernels that lack them still fall back
// transparently (spec §4.7 "capability probing").
var kernelOp = map[engine.Op]uint8{
	engine.OpNop:          0,
	engine.OpClose:        19,
	engine.OpFsync:        3,
	engine.OpPollAdd:      6,
	engine.OpSendmsg:      9,
	engine.OpRecvmsg:      10,
	engine.OpTimeout:      11,
	engine.OpAccept:       13,
	engine.OpAsyncCancel:  14,
	engine.OpConnect:      16,
	engine.OpOpenAt:       18,
	engine.OpStatx:        21,
	engine.OpRead:         22,
	engine.OpWrite:        23,
	engine.OpShutdown:     34,
	engine.OpSend:         26,
	engine.OpRecv:         27,
	engine.OpSocket:       45,
}
