//go:build linux

package fdio

import (
	"syscall"
	"time"
	"unsafe"

	"github.com/brickingsoft/errors"
	"github.com/pawelgaczynski/giouring"
)

// Engine is the io_uring backend. One ring, plus the unqueued FIFO for
// submissions that missed an SQE and the completed FIFO of harvested
// completions awaiting dispatch, are all the state it needs. Every
// Completion is caller storage and the FIFOs are intrusive; the event loop
// still allocates: harvest makes a fresh CQE batch buffer on each call, and
// prepareSQE allocates per-operation scratch for addresses, msghdrs and
// openat paths.
type Engine struct {
	ring      *giouring.Ring
	unqueued  fifo
	completed fifo
	trace     func(tag string, userdata uintptr)
}

// New creates the ring sized by WithEntries and configured by WithFlags.
func New(opts ...Option) (*Engine, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	var ring *giouring.Ring
	var err error
	if o.flags != 0 {
		ring, err = giouring.CreateRingParams(o.entries, &giouring.IOUringParams{Flags: o.flags})
	} else {
		ring, err = giouring.CreateRing(o.entries)
	}
	if err != nil {
		return nil, errors.From(ErrUnexpected, errors.WithWrap(err))
	}
	return &Engine{
		ring:  ring,
		trace: o.trace,
	}, nil
}

// Shutdown closes the ring. Submissions still in flight are abandoned;
// their callbacks never fire. Drive the engine to quiescence first.
func (e *Engine) Shutdown() error {
	e.ring.QueueExit()
	return nil
}

func (e *Engine) traceSubmit(tag string, c *Completion) {
	if e.trace != nil {
		e.trace(tag, uintptr(unsafe.Pointer(c)))
	}
}

// --- single-operation submitters -------------------------------------

func (e *Engine) Accept(c *Completion, fd int, callback func(Result)) {
	c.op.prepareAccept(fd)
	c.callback = callback
	e.submit(c)
}

func (e *Engine) Connect(c *Completion, fd int, addr syscall.Sockaddr, callback func(Result)) {
	c.op.prepareConnect(fd, addr)
	c.callback = callback
	e.submit(c)
}

func (e *Engine) Close(c *Completion, fd int, callback func(Result)) {
	c.op.prepareClose(fd)
	c.callback = callback
	e.submit(c)
}

func (e *Engine) Read(c *Completion, fd int, buf []byte, offset int64, callback func(Result)) {
	c.op.prepareRead(fd, buf, offset)
	c.callback = callback
	e.submit(c)
}

func (e *Engine) Write(c *Completion, fd int, buf []byte, offset int64, callback func(Result)) {
	c.op.prepareWrite(fd, buf, offset)
	c.callback = callback
	e.submit(c)
}

func (e *Engine) Recv(c *Completion, fd int, buf []byte, callback func(Result)) {
	c.op.prepareRecv(fd, buf, 0)
	c.callback = callback
	e.submit(c)
}

func (e *Engine) Send(c *Completion, fd int, buf []byte, callback func(Result)) {
	c.op.prepareSend(fd, buf, 0)
	c.callback = callback
	e.submit(c)
}

func (e *Engine) RecvMsg(c *Completion, fd int, buf, oob []byte, callback func(Result)) {
	c.op.prepareRecvMsg(fd, buf, oob, 0)
	c.callback = callback
	e.submit(c)
}

func (e *Engine) SendMsg(c *Completion, fd int, buf, oob []byte, addr syscall.Sockaddr, callback func(Result)) {
	c.op.prepareSendMsg(fd, buf, oob, addr, 0)
	c.callback = callback
	e.submit(c)
}

func (e *Engine) Fsync(c *Completion, fd int, dataSyncOnly bool, callback func(Result)) {
	c.op.prepareFsync(fd, dataSyncOnly)
	c.callback = callback
	e.submit(c)
}

func (e *Engine) OpenAt(c *Completion, dirFd int, path string, flags int, mode uint32, callback func(Result)) {
	c.op.prepareOpenAt(dirFd, path, flags, mode)
	c.callback = callback
	e.submit(c)
}

func (e *Engine) Timeout(c *Completion, durationNS uint64, callback func(Result)) {
	c.op.prepareTimeout(durationNS)
	c.callback = callback
	e.submit(c)
}

func (e *Engine) Cancel(c *Completion, target *Completion, callback func(Result)) {
	c.op.prepareCancel(target)
	c.callback = callback
	e.submit(c)
}

func (e *Engine) CancelTimeout(c *Completion, target *Completion, callback func(Result)) {
	c.op.prepareCancelTimeout(target)
	c.callback = callback
	e.submit(c)
}

// submit queues c for the next flush. New SQEs are acquired lazily in
// flush rather than here, so a burst of submissions made from a single
// callback never blocks the caller on ring capacity.
func (e *Engine) submit(c *Completion) {
	c.state = stateQueued
	e.unqueued.pushTail(c)
}

// --- composite linked submitters --------------------------------------

const iosqeIOLink uint8 = 1 << 2

func (e *Engine) submitLinked(lc *LinkedCompletion, mainPrep func(*Operation), timeoutNS uint64, callback func(Result)) {
	lc.callback = callback
	lc.Main.linked = true
	lc.Main.state = stateQueued
	mainPrep(&lc.Main.op)
	lc.Main.callback = func(r Result) { lc.settleMain(r) }

	lc.Timeout.linked = false
	lc.Timeout.state = stateQueued
	lc.Timeout.op.prepareLinkTimeout(timeoutNS)
	lc.Timeout.callback = func(r Result) { lc.settleTimeout(r) }

	// Pushed as an adjacent main-then-timeout pair; flushUnqueued()
	// preserves this adjacency so both land in the same submission and
	// the kernel observes IOSQE_IO_LINK correctly.
	e.unqueued.pushTail(&lc.Main)
	e.unqueued.pushTail(&lc.Timeout)
}

func (e *Engine) ConnectWithTimeout(lc *LinkedCompletion, fd int, addr syscall.Sockaddr, timeout uint64, callback func(Result)) {
	e.submitLinked(lc, func(op *Operation) { op.prepareConnect(fd, addr) }, timeout, callback)
}

func (e *Engine) RecvWithTimeout(lc *LinkedCompletion, fd int, buf []byte, timeout uint64, callback func(Result)) {
	e.submitLinked(lc, func(op *Operation) { op.prepareRecv(fd, buf, 0) }, timeout, callback)
}

func (e *Engine) RecvMsgWithTimeout(lc *LinkedCompletion, fd int, buf, oob []byte, timeout uint64, callback func(Result)) {
	e.submitLinked(lc, func(op *Operation) { op.prepareRecvMsg(fd, buf, oob, 0) }, timeout, callback)
}

func (e *Engine) SendWithTimeout(lc *LinkedCompletion, fd int, buf []byte, timeout uint64, callback func(Result)) {
	e.submitLinked(lc, func(op *Operation) { op.prepareSend(fd, buf, 0) }, timeout, callback)
}

func (e *Engine) SendMsgWithTimeout(lc *LinkedCompletion, fd int, buf, oob []byte, addr syscall.Sockaddr, timeout uint64, callback func(Result)) {
	e.submitLinked(lc, func(op *Operation) { op.prepareSendMsg(fd, buf, oob, addr, 0) }, timeout, callback)
}

// --- tick / run_for -----------------------------------------------------

// Tick flushes pending submissions, harvests whatever CQEs are already
// available without waiting, and dispatches a snapshot of completed
// callbacks. Submissions made from within a callback land on unqueued and
// are flushed to the kernel at the end of this Tick; their own callbacks
// run no earlier than the next Tick, never in the current sweep.
func (e *Engine) Tick() error {
	if err := e.flushUnqueued(); err != nil {
		return err
	}
	if err := e.harvest(0); err != nil {
		return err
	}
	e.dispatch()
	return e.flushUnqueued()
}

// RunFor submits an internal timeout through the same unqueued/completed
// pipeline as any other submission and drives the normal Tick loop until
// it fires, so submissions already queued before RunFor was called (or
// made from callbacks while it runs) are flushed to the kernel exactly as
// they would be under repeated caller-driven Tick calls.
func (e *Engine) RunFor(durationNS uint64) error {
	var deadlineC Completion
	fired := false
	e.Timeout(&deadlineC, durationNS, func(Result) {
		fired = true
	})
	for !fired {
		if err := e.Tick(); err != nil {
			return err
		}
	}
	return nil
}

// flushUnqueued moves everything on unqueued into SQEs, as far as the ring
// has room; whatever does not fit stays queued for the next pass. Linked pairs are popped two-at-a-time so the main-then-timeout
// adjacency the kernel needs for IOSQE_IO_LINK survives a partial flush:
// if either half of a pair fails to acquire an SQE, both are pushed back
// in original order and retried together next time.
func (e *Engine) flushUnqueued() error {
	acquired := 0
	for !e.unqueued.empty() {
		head := e.unqueued.peekHead()
		if head.linked {
			second := head.next
			if second == nil {
				// the timeout half has not been pushed yet; wait for it.
				break
			}
			sqe1 := e.ring.GetSQE()
			if sqe1 == nil {
				break
			}
			sqe2 := e.ring.GetSQE()
			if sqe2 == nil {
				// could not acquire the second SQE. sqe1 is already taken
				// from the ring and goes out with this batch, so it is
				// turned into a no-op with zero user-data, which
				// handleCQE ignores; both completions stay queued for
				// the next flush.
				sqe1.PrepareNop()
				sqe1.SetData(nil)
				acquired++
				break
			}
			e.unqueued.popHead()
			e.unqueued.popHead()
			e.prepareSQE(sqe1, head)
			sqe1.SetFlags(uint32(iosqeIOLink))
			e.prepareSQE(sqe2, second)
			head.state = stateSubmitted
			second.state = stateSubmitted
			acquired += 2
			continue
		}
		sqe := e.ring.GetSQE()
		if sqe == nil {
			break
		}
		e.unqueued.popHead()
		e.prepareSQE(sqe, head)
		head.state = stateSubmitted
		acquired++
	}
	if acquired == 0 {
		return nil
	}
	_, err := e.ring.Submit()
	if err != nil && !isRetryable(err) {
		return err
	}
	return nil
}

func (e *Engine) prepareSQE(sqe *giouring.SubmissionQueueEntry, c *Completion) {
	op := &c.op
	switch op.kind {
	case opAccept:
		op.peerAddr = nil
		op.scratchAddr = new(syscall.RawSockaddrAny)
		op.scratchAddrLen = new(uint32)
		*op.scratchAddrLen = uint32(syscall.SizeofSockaddrAny)
		sqe.PrepareAccept(op.fd, uintptr(unsafe.Pointer(op.scratchAddr)), uint64(uintptr(unsafe.Pointer(op.scratchAddrLen))), 0)
	case opConnect:
		op.scratchAddr, _ = sockaddrToRaw(op.connectAddr)
		sqe.PrepareConnect(op.fd, uintptr(unsafe.Pointer(op.scratchAddr)), uint64(unsafe.Sizeof(syscall.RawSockaddrAny{})))
	case opClose:
		sqe.PrepareClose(op.fd)
	case opRead:
		var ptr uintptr
		if len(op.buf) > 0 {
			ptr = uintptr(unsafe.Pointer(&op.buf[0]))
		}
		sqe.PrepareRead(op.fd, ptr, uint32(len(op.buf)), uint64(op.offset))
	case opWrite:
		var ptr uintptr
		if len(op.buf) > 0 {
			ptr = uintptr(unsafe.Pointer(&op.buf[0]))
		}
		sqe.PrepareWrite(op.fd, ptr, uint32(len(op.buf)), uint64(op.offset))
	case opRecv:
		var ptr uintptr
		if len(op.buf) > 0 {
			ptr = uintptr(unsafe.Pointer(&op.buf[0]))
		}
		sqe.PrepareRecv(op.fd, ptr, uint32(len(op.buf)), int(op.msgFlags))
	case opSend:
		var ptr uintptr
		if len(op.buf) > 0 {
			ptr = uintptr(unsafe.Pointer(&op.buf[0]))
		}
		sqe.PrepareSend(op.fd, ptr, uint32(len(op.buf)), int(op.msgFlags))
	case opRecvMsg, opSendMsg:
		op.scratchMsg = buildMsghdr(op)
		if op.kind == opRecvMsg {
			sqe.PrepareRecvMsg(op.fd, op.scratchMsg, uint32(op.msgFlags))
		} else {
			sqe.PrepareSendMsg(op.fd, op.scratchMsg, uint32(op.msgFlags))
		}
	case opFsync:
		var flags uint32
		if op.dataSyncOnly {
			flags = giouring.FsyncDatasync
		}
		sqe.PrepareFsync(op.fd, flags)
	case opOpenAt:
		op.scratchPath = cPath(op.path)
		sqe.PrepareOpenat(op.dirFd, op.scratchPath, op.openFlags, op.mode)
	case opTimeout:
		ts := syscall.NsecToTimespec(int64(op.durationNS))
		sqe.PrepareTimeout(&ts, 0, 0)
	case opLinkTimeout:
		ts := syscall.NsecToTimespec(int64(op.durationNS))
		sqe.PrepareLinkTimeout(&ts, 0)
	case opCancel:
		sqe.PrepareCancel64(uint64(uintptr(unsafe.Pointer(op.target))), 0)
	case opCancelTimeout:
		sqe.PrepareTimeoutRemove(uint64(uintptr(unsafe.Pointer(op.target))), 0)
	default:
		sqe.PrepareNop()
	}
	sqe.SetData(unsafe.Pointer(c))
	e.traceSubmit(op.kind.String(), c)
}

// harvest drains whatever CQEs are already available, decoding each into
// its completion and moving it to completed. With waitNr > 0 it first calls
// WaitCQEs with a zero timeout, so it does not block in either case.
func (e *Engine) harvest(waitNr uint32) error {
	if waitNr > 0 {
		ts := syscall.NsecToTimespec(0)
		if _, err := e.ring.WaitCQEs(waitNr, &ts, nil); err != nil && !isRetryable(err) && err != syscall.ETIME {
			return err
		}
	}
	buf := make([]*giouring.CompletionQueueEvent, 64)
	for {
		n := e.ring.PeekBatchCQE(buf)
		if n == 0 {
			return nil
		}
		for i := uint32(0); i < n; i++ {
			e.handleCQE(buf[i])
		}
		e.ring.CQAdvance(n)
	}
}

func (e *Engine) handleCQE(cqe *giouring.CompletionQueueEvent) {
	if cqe.UserData == 0 {
		return
	}
	c := (*Completion)(unsafe.Pointer(uintptr(cqe.UserData)))
	if cqe.Res == -int32(syscall.EINTR) {
		// transparent retry: the caller never observes EINTR.
		c.state = stateQueued
		e.unqueued.pushTail(c)
		return
	}
	c.rawResult = int64(cqe.Res)
	c.hasResult = true
	c.state = stateCompleted
	e.completed.pushTail(c)
}

// dispatch runs callbacks from a snapshot of completed taken before any
// of them run, so submissions a callback makes are queued for the next
// Tick instead of re-entering this sweep.
func (e *Engine) dispatch() {
	snapshot := e.completed.drain()
	drainList(snapshot, func(c *Completion) {
		r := decodeResult(&c.op, c.rawResult)
		c.hasResult = false
		c.state = stateIdle
		cb := c.callback
		c.callback = nil
		if cb != nil {
			cb(r)
		}
	})
}

func decodeResult(op *Operation, raw int64) Result {
	if raw >= 0 {
		switch op.kind {
		case opAccept:
			if op.scratchAddr != nil {
				op.peerAddr = rawToSockaddr(op.scratchAddr)
			}
		case opRecvMsg:
			op.peerAddr = decodeMsghdrPeer(op.scratchMsg)
			return Result{N: int(raw), Flags: op.msgFlags}
		case opSendMsg:
			return Result{N: int(raw), Flags: op.msgFlags}
		}
		return Result{N: int(raw)}
	}
	errno := syscall.Errno(-raw)
	var err error
	switch op.kind {
	case opAccept:
		err = errnoToAccept(errno)
	case opConnect:
		err = errnoToConnect(errno)
	case opClose:
		err = errnoToClose(errno)
	case opRead:
		err = errnoToRead(errno)
	case opWrite:
		err = errnoToWrite(errno)
	case opRecv, opRecvMsg:
		err = errnoToRecv(errno)
	case opSend, opSendMsg:
		err = errnoToSend(errno)
	case opFsync:
		err = errnoToFsync(errno)
	case opOpenAt:
		err = errnoToOpenAt(errno)
	case opTimeout, opLinkTimeout:
		err = errnoToTimeout(errno)
	case opCancel:
		err = errnoToCancel(errno)
	case opCancelTimeout:
		err = errnoToCancelTimeout(errno)
	default:
		err = wrapErrno(errno)
	}
	return Result{Err: err}
}

func isRetryable(err error) bool {
	return errors.Is(err, syscall.EINTR) || errors.Is(err, syscall.EAGAIN)
}
