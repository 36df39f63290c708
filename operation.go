package fdio

import "syscall"

// opKind tags the variant stored in Operation. It mirrors the operation
// set in pkg/iouring/aio/operation.go and pkg/ring/operation.go in the
// ancestor of this engine, trimmed and renamed to the set this engine
// supports.
type opKind uint8

const (
	opAccept opKind = iota
	opCancel
	opCancelTimeout
	opClose
	opConnect
	opFsync
	opLinkTimeout
	opOpenAt
	opRead
	opRecv
	opRecvMsg
	opSend
	opSendMsg
	opTimeout
	opWrite
)

func (k opKind) String() string {
	switch k {
	case opAccept:
		return "accept"
	case opCancel:
		return "cancel"
	case opCancelTimeout:
		return "cancel_timeout"
	case opClose:
		return "close"
	case opConnect:
		return "connect"
	case opFsync:
		return "fsync"
	case opLinkTimeout:
		return "link_timeout"
	case opOpenAt:
		return "openat"
	case opRead:
		return "read"
	case opRecv:
		return "recv"
	case opRecvMsg:
		return "recvmsg"
	case opSend:
		return "send"
	case opSendMsg:
		return "sendmsg"
	case opTimeout:
		return "timeout"
	case opWrite:
		return "write"
	default:
		return "unknown"
	}
}

// Operation is the tagged variant describing one in-flight request. A
// single struct carries every tag's payload (per the design notes, this is
// the Go rendering of a discriminant enum with one owned payload per tag);
// only the fields relevant to op.kind are meaningful at any time.
type Operation struct {
	kind opKind
	fd   int

	// read/write/recv/send
	buf    []byte
	offset int64 // read/write only; on io_uring -1 means "current position", kqueue always uses pread/pwrite at this offset

	// recvmsg/sendmsg
	oob      []byte
	msgFlags int32
	destAddr syscall.Sockaddr // sendmsg destination
	peerAddr syscall.Sockaddr // recvmsg/accept source, populated on completion

	// accept/connect
	listenFd         int
	connectAddr      syscall.Sockaddr
	connectInitiated bool // kqueue: true once connect() has been issued once

	// io_uring accept/recvmsg scratch storage: the kernel writes the peer
	// address into this buffer asynchronously, so it must be owned by the
	// Operation (not a prepare-time local) and outlive the SQE until the
	// matching CQE is harvested.
	scratchAddr    *syscall.RawSockaddrAny
	scratchAddrLen *uint32
	scratchMsg     *syscall.Msghdr

	// scratchPath is openat's NUL-terminated path buffer; the kernel
	// dereferences it asynchronously, so like the other scratch fields it
	// must be owned by the Operation rather than a prepare-time local.
	scratchPath []byte

	// fsync
	dataSyncOnly bool

	// openat
	dirFd     int
	path      string
	openFlags int
	mode      uint32

	// timeout/linkTimeout
	durationNS uint64 // requested relative duration
	deadline   uint64 // absolute CLOCK_MONOTONIC deadline, computed at submit time
	absolute   bool   // not set by any submitter: every timeout, RunFor's included, is submitted relative

	// cancel/cancelTimeout
	target *Completion

	// filter is the kqueue backend's EVFILT_READ/EVFILT_WRITE choice for
	// the operation's readiness registration; unused on io_uring.
	filter int16
}

func (op *Operation) prepareAccept(fd int) {
	op.reset()
	op.kind = opAccept
	op.fd = fd
}

func (op *Operation) prepareConnect(fd int, addr syscall.Sockaddr) {
	op.reset()
	op.kind = opConnect
	op.fd = fd
	op.connectAddr = addr
}

func (op *Operation) prepareClose(fd int) {
	op.reset()
	op.kind = opClose
	op.fd = fd
}

func (op *Operation) prepareRead(fd int, buf []byte, offset int64) {
	op.reset()
	op.kind = opRead
	op.fd = fd
	op.buf = buf
	op.offset = offset
}

func (op *Operation) prepareWrite(fd int, buf []byte, offset int64) {
	op.reset()
	op.kind = opWrite
	op.fd = fd
	op.buf = buf
	op.offset = offset
}

func (op *Operation) prepareRecv(fd int, buf []byte, flags int32) {
	op.reset()
	op.kind = opRecv
	op.fd = fd
	op.buf = buf
	op.msgFlags = flags
}

func (op *Operation) prepareSend(fd int, buf []byte, flags int32) {
	op.reset()
	op.kind = opSend
	op.fd = fd
	op.buf = buf
	op.msgFlags = flags
}

func (op *Operation) prepareRecvMsg(fd int, buf, oob []byte, flags int32) {
	op.reset()
	op.kind = opRecvMsg
	op.fd = fd
	op.buf = buf
	op.oob = oob
	op.msgFlags = flags
}

func (op *Operation) prepareSendMsg(fd int, buf, oob []byte, addr syscall.Sockaddr, flags int32) {
	op.reset()
	op.kind = opSendMsg
	op.fd = fd
	op.buf = buf
	op.oob = oob
	op.destAddr = addr
	op.msgFlags = flags
}

func (op *Operation) prepareFsync(fd int, dataSyncOnly bool) {
	op.reset()
	op.kind = opFsync
	op.fd = fd
	op.dataSyncOnly = dataSyncOnly
}

func (op *Operation) prepareOpenAt(dirFd int, path string, flags int, mode uint32) {
	op.reset()
	op.kind = opOpenAt
	op.dirFd = dirFd
	op.path = path
	op.openFlags = flags
	op.mode = mode
}

func (op *Operation) prepareTimeout(d uint64) {
	op.reset()
	op.kind = opTimeout
	op.durationNS = d
	op.deadline = now() + d
}

func (op *Operation) prepareLinkTimeout(d uint64) {
	op.reset()
	op.kind = opLinkTimeout
	op.durationNS = d
	op.deadline = now() + d
}

func (op *Operation) prepareCancel(target *Completion) {
	op.reset()
	op.kind = opCancel
	op.target = target
}

func (op *Operation) prepareCancelTimeout(target *Completion) {
	op.reset()
	op.kind = opCancelTimeout
	op.target = target
}

func (op *Operation) reset() {
	*op = Operation{}
}

// PeerAddr returns the address accept or recvmsg populated for this
// completion, if any. It is nil until the operation has completed and is
// already set when the completion's callback runs.
// Preserved per the spec's open question: io_uring's accept SQE always
// carries address storage even though the original source discarded it;
// this engine surfaces it instead of dropping it on the floor.
func (c *Completion) PeerAddr() syscall.Sockaddr {
	return c.op.peerAddr
}
