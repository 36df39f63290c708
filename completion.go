package fdio

// Result is the typed outcome delivered to a completion's callback. Which
// fields are meaningful depends on the operation that produced it:
// N is a byte count for read/write/recv/send/recvmsg/sendmsg, a file
// descriptor for accept/openat, and unused otherwise; Flags carries
// recvmsg/sendmsg message flags; Err is nil on success or one of the
// sentinels in errors.go.
type Result struct {
	N     int
	Flags int32
	Err   error
}

// Completion is caller-owned, stable storage for one in-flight operation.
// Its address is used as kernel user-data on io_uring and as kevent udata
// on kqueue, so it must not move or be reused until its callback has run.
// A Completion belongs to at most one queue (an engine-internal FIFO) or
// to the kernel at any instant; it is never on two queues, and the queue
// membership is expressed purely through next, not through a separate
// owner flag.
type Completion struct {
	op       Operation
	callback func(Result)
	next     *Completion

	// linked is true on the main half of a linked pair submitted by the
	// composite submitters; the driver must place it adjacent to,
	// immediately before, its linked timeout half.
	linked bool

	// rawResult carries the raw result (a value or a negated errno) to
	// dispatch time: the io_uring CQE's res field, or on kqueue the
	// outcome of the inline syscall.
	rawResult int64
	hasResult bool

	// state distinguishes "not currently tracked by any backend queue
	// and not submitted to the kernel" from "next == nil because it is
	// the sole/last element of a queue", for cancel bookkeeping.
	state completionState

	// canceled marks a completion the kqueue backend has already decided
	// to report ErrCanceled for, set between cancelTarget and dispatch.
	canceled bool
}

type completionState uint8

const (
	stateIdle completionState = iota
	stateQueued
	stateSubmitted
	stateCompleted
)

// LinkedCompletion is a pair of completions submitted atomically: Main
// carries the I/O operation, Timeout a link-timeout that fires only if
// Main has not completed by the time it expires. Exactly one of the two
// halves observes ErrCanceled; the composite callback set by the
// ConnectWithTimeout/RecvWithTimeout/... family fires once, with Main's
// result, only once both halves have reported.
type LinkedCompletion struct {
	Main    Completion
	Timeout Completion

	callback func(Result)

	mainResult    Result
	mainSet       bool
	timeoutResult Result
	timeoutSet    bool
}

func (lc *LinkedCompletion) reset() {
	lc.mainResult = Result{}
	lc.mainSet = false
	lc.timeoutResult = Result{}
	lc.timeoutSet = false
}

// settleMain and settleTimeout each record one half's result and, once
// both halves are in, invoke
// the composite callback exactly once with the main result. The ordering
// here is the whole of the composite-dispatch invariant: neither half's
// callback is allowed to observe a partially-settled LinkedCompletion.
func (lc *LinkedCompletion) settleMain(r Result) {
	lc.mainResult = r
	lc.mainSet = true
	lc.maybeFire()
}

func (lc *LinkedCompletion) settleTimeout(r Result) {
	lc.timeoutResult = r
	lc.timeoutSet = true
	lc.maybeFire()
}

func (lc *LinkedCompletion) maybeFire() {
	if !lc.mainSet || !lc.timeoutSet {
		return
	}
	cb := lc.callback
	res := lc.mainResult
	lc.reset()
	if cb != nil {
		cb(res)
	}
}
