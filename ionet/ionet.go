// Package ionet is the thin Socket/TcpListener wrapper spec.md §1 calls
// out as an external collaborator: Socket, Bind, Listen, Accept, Connect,
// Recv, Send, Shutdown and Close, each one engine.Submission routed
// through a Driver, plus the socket-option helpers (SO_REUSEADDR, TCP
// nodelay) original_source's net/socket.rs applies around them. Address
// encoding/decoding mirrors the 6-byte (IPv4) / 18-byte (IPv6) wire shape
// engine/syncfallback already expects on OpBind/OpConnect.
package ionet

import (
	"fmt"
	"net"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ringrt/ringrt/driver"
	"github.com/ringrt/ringrt/engine"
	"github.com/ringrt/ringrt/future"
	"github.com/ringrt/ringrt/pctx"
	"github.com/ringrt/ringrt/request"
)

// Socket is an open socket descriptor driven through a Driver.
type Socket struct {
	drv *driver.Driver
	fd  int32
}

// NewTCP creates an AF_INET SOCK_STREAM socket (without SOCK_NONBLOCK)
// with SO_REUSEADDR and TCP_NODELAY set, the way original_source's
// net/socket.rs configures
// every listener and outbound connection before use.
func NewTCP(c *pctx.Context, drv *driver.Driver) (*Socket, error) {
	if err := c.CheckInterrupt(); err != nil {
		return nil, err
	}

	res := pctx.BlockOn(c, submit(drv, engine.Submission{
		Op:     engine.OpSocket,
		Offset: int64(unix.AF_INET)<<32 | int64(unix.SOCK_STREAM),
		Flags:  uint32(unix.IPPROTO_TCP),
	}))
	if res < 0 {
		return nil, errnoResult(res)
	}

	s := &Socket{drv: drv, fd: res}
	if err := unix.SetsockoptInt(int(s.fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return nil, err
	}
	if err := unix.SetsockoptInt(int(s.fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		return nil, err
	}

	return s, nil
}

// Fd returns the underlying file descriptor.
func (s *Socket) Fd() int32 { return s.fd }

// Bind binds s to addr.
func (s *Socket) Bind(c *pctx.Context, addr *net.TCPAddr) error {
	if err := c.CheckInterrupt(); err != nil {
		return err
	}

	res := pctx.BlockOn(c, submit(s.drv, engine.Submission{
		Op:  engine.OpBind,
		Fd:  s.fd,
		Buf: encodeAddr(addr),
	}))
	if res < 0 {
		return errnoResult(res)
	}
	return nil
}

// Listen marks s as a passive socket accepting up to backlog pending
// connections.
func (s *Socket) Listen(c *pctx.Context, backlog int) error {
	if err := c.CheckInterrupt(); err != nil {
		return err
	}

	res := pctx.BlockOn(c, submit(s.drv, engine.Submission{
		Op:     engine.OpListen,
		Fd:     s.fd,
		Offset: int64(backlog),
	}))
	if res < 0 {
		return errnoResult(res)
	}
	return nil
}

// Accept blocks until a connection arrives and returns a Socket wrapping
// the accepted peer.
func (s *Socket) Accept(c *pctx.Context) (*Socket, error) {
	if err := c.CheckInterrupt(); err != nil {
		return nil, err
	}

	res := pctx.BlockOn(c, submit(s.drv, engine.Submission{
		Op: engine.OpAccept,
		Fd: s.fd,
	}))
	if res < 0 {
		return nil, errnoResult(res)
	}
	return &Socket{drv: s.drv, fd: res}, nil
}

// Connect connects s to addr.
func (s *Socket) Connect(c *pctx.Context, addr *net.TCPAddr) error {
	if err := c.CheckInterrupt(); err != nil {
		return err
	}

	res := pctx.BlockOn(c, submit(s.drv, engine.Submission{
		Op:  engine.OpConnect,
		Fd:  s.fd,
		Buf: encodeAddr(addr),
	}))
	if res < 0 {
		return errnoResult(res)
	}
	return nil
}

// Recv reads into buf, returning the number of bytes read.
func (s *Socket) Recv(c *pctx.Context, buf []byte) (int, error) {
	if err := c.CheckInterrupt(); err != nil {
		return 0, err
	}

	res := pctx.BlockOn(c, submit(s.drv, engine.Submission{
		Op:  engine.OpRecv,
		Fd:  s.fd,
		Buf: buf,
	}))
	if res < 0 {
		return 0, errnoResult(res)
	}
	return int(res), nil
}

// Send writes buf, returning the number of bytes actually sent.
func (s *Socket) Send(c *pctx.Context, buf []byte) (int, error) {
	if err := c.CheckInterrupt(); err != nil {
		return 0, err
	}

	res := pctx.BlockOn(c, submit(s.drv, engine.Submission{
		Op:  engine.OpSend,
		Fd:  s.fd,
		Buf: buf,
	}))
	if res < 0 {
		return 0, errnoResult(res)
	}
	return int(res), nil
}

// Recvmsg is Recv via the kernel's scatter-gather msghdr path
// (OpRecvmsg) rather than a plain buffer — the same single-iovec
// msghdr engine/uring's addr field expects a pointer to. Submission.Len
// is set to 1 to match the sqe.len=1 convention the kernel's own
// io_uring_prep_recvmsg helper uses for this opcode.
func (s *Socket) Recvmsg(c *pctx.Context, buf []byte) (int, error) {
	if err := c.CheckInterrupt(); err != nil {
		return 0, err
	}

	msgBuf := buildMsghdr(buf)

	res := pctx.BlockOn(c, submit(s.drv, engine.Submission{
		Op:  engine.OpRecvmsg,
		Fd:  s.fd,
		Buf: msgBuf,
		Len: 1,
	}))
	if res < 0 {
		return 0, errnoResult(res)
	}
	return int(res), nil
}

// Sendmsg is Send via the msghdr path (OpSendmsg); see Recvmsg.
func (s *Socket) Sendmsg(c *pctx.Context, buf []byte) (int, error) {
	if err := c.CheckInterrupt(); err != nil {
		return 0, err
	}

	msgBuf := buildMsghdr(buf)

	res := pctx.BlockOn(c, submit(s.drv, engine.Submission{
		Op:  engine.OpSendmsg,
		Fd:  s.fd,
		Buf: msgBuf,
		Len: 1,
	}))
	if res < 0 {
		return 0, errnoResult(res)
	}
	return int(res), nil
}

// Poll waits until at least one of the requested poll(2) event bits is
// ready on s, returning whichever bits were actually observed.
func (s *Socket) Poll(c *pctx.Context, events int16) (int16, error) {
	if err := c.CheckInterrupt(); err != nil {
		return 0, err
	}

	res := pctx.BlockOn(c, submit(s.drv, engine.Submission{
		Op:    engine.OpPollAdd,
		Fd:    s.fd,
		Flags: uint32(events),
	}))
	if res < 0 {
		return 0, errnoResult(res)
	}
	return int16(res), nil
}

// Shutdown shuts down part or all of a full-duplex connection (how is one
// of unix.SHUT_RD/WR/RDWR).
func (s *Socket) Shutdown(c *pctx.Context, how int) error {
	if err := c.CheckInterrupt(); err != nil {
		return err
	}

	res := pctx.BlockOn(c, submit(s.drv, engine.Submission{
		Op:    engine.OpShutdown,
		Fd:    s.fd,
		Flags: uint32(how),
	}))
	if res < 0 {
		return errnoResult(res)
	}
	return nil
}

// Close dispatches CLOSE unconditionally, ignoring any pending interrupt,
// matching iofile.File.Close's resolution of the same open question.
func (s *Socket) Close(c *pctx.Context) error {
	res := pctx.BlockOn(c, submit(s.drv, engine.Submission{
		Op: engine.OpClose,
		Fd: s.fd,
	}))
	if res < 0 {
		return errnoResult(res)
	}
	return nil
}

// LocalAddr reports the address s is bound to. getsockname has no
// io_uring opcode; it is answered with a direct blocking syscall, the
// same way iofile/ionet treat any metadata query the engine doesn't
// model as a Submission.
func (s *Socket) LocalAddr() (*net.TCPAddr, error) {
	sa, err := unix.Getsockname(int(s.fd))
	if err != nil {
		return nil, err
	}
	return sockaddrToTCPAddr(sa)
}

// TcpListener is a bound, listening Socket — the external collaborator
// spec.md §1 names directly.
type TcpListener struct {
	*Socket
}

// ListenTCP creates, binds and listens a TcpListener on addr (e.g.
// "0.0.0.0:0" to let the kernel choose a port, per §8 scenario 3).
func ListenTCP(c *pctx.Context, drv *driver.Driver, addr string) (*TcpListener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp4", addr)
	if err != nil {
		return nil, err
	}

	sock, err := NewTCP(c, drv)
	if err != nil {
		return nil, err
	}
	if err := sock.Bind(c, tcpAddr); err != nil {
		return nil, err
	}
	if err := sock.Listen(c, 128); err != nil {
		return nil, err
	}

	return &TcpListener{Socket: sock}, nil
}

// DialTCP creates a Socket and connects it to addr.
func DialTCP(c *pctx.Context, drv *driver.Driver, addr string) (*Socket, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp4", addr)
	if err != nil {
		return nil, err
	}

	sock, err := NewTCP(c, drv)
	if err != nil {
		return nil, err
	}
	if err := sock.Connect(c, tcpAddr); err != nil {
		return nil, err
	}

	return sock, nil
}

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

func errnoResult(res int32) error {
	return unix.Errno(-res)
}

// encodeAddr packs a *net.TCPAddr into the 6-byte IPv4 / 18-byte IPv6
// wire shape engine/syncfallback's decodeSockaddr and engine/uring's
// OpBind/OpConnect adapters both expect: 2 bytes big-endian port followed
// by the raw address bytes.
func encodeAddr(addr *net.TCPAddr) []byte {
	ip4 := addr.IP.To4()
	if ip4 != nil {
		buf := make([]byte, 6)
		buf[0] = byte(addr.Port >> 8)
		buf[1] = byte(addr.Port)
		copy(buf[2:], ip4)
		return buf
	}

	ip6 := addr.IP.To16()
	buf := make([]byte, 18)
	buf[0] = byte(addr.Port >> 8)
	buf[1] = byte(addr.Port)
	copy(buf[2:], ip6)
	return buf
}

// buildMsghdr packs buf into a single-iovec struct msghdr and returns
// its raw bytes, for OpRecvmsg/OpSendmsg's addr field to point at
// directly — the same "Addr points at Buf's first byte" convention
// submit uses for every other opcode, just one level removed through
// the msghdr/iovec indirection the kernel requires for this one.
func buildMsghdr(buf []byte) []byte {
	iov := unix.Iovec{Base: &buf[0]}
	iov.SetLen(len(buf))

	msg := unix.Msghdr{Iov: &iov}
	msg.SetIovlen(1)

	return unsafe.Slice((*byte)(unsafe.Pointer(&msg)), int(unsafe.Sizeof(msg)))
}

func sockaddrToTCPAddr(sa unix.Sockaddr) (*net.TCPAddr, error) {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(sa.Addr[:]), Port: sa.Port}, nil
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(sa.Addr[:]), Port: sa.Port}, nil
	default:
		return nil, fmt.Errorf("ionet: unsupported sockaddr type %T", sa)
	}
}
