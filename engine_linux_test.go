//go:build linux

package fdio

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// drive runs Tick until cond reports done or the deadline passes, failing
// the test on timeout; it exists because callbacks here never block, so a
// scenario is "done" purely in terms of flags the callbacks themselves set.
func drive(t *testing.T, e *Engine, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		require.NoError(t, e.Tick())
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %s", timeout)
		}
	}
}

func TestWriteFsyncReadRoundTrip(t *testing.T) {
	e, err := New()
	require.NoError(t, err)
	defer e.Shutdown()

	f, err := os.CreateTemp(t.TempDir(), "fdio-*.dat")
	require.NoError(t, err)
	defer f.Close()
	fd := int(f.Fd())

	want := make([]byte, 20)
	for i := range want {
		want[i] = 0x61
	}
	got := make([]byte, 20)

	var writeDone, fsyncDone, readDone bool
	var writeRes, readRes Result

	var writeC, fsyncC, readC Completion
	e.Write(&writeC, fd, want, 10, func(r Result) {
		writeRes = r
		writeDone = true
		e.Fsync(&fsyncC, fd, false, func(r Result) {
			fsyncDone = true
			e.Read(&readC, fd, got, 10, func(r Result) {
				readRes = r
				readDone = true
			})
		})
	})

	drive(t, e, 2*time.Second, func() bool { return readDone })

	require.NoError(t, writeRes.Err)
	require.Equal(t, 20, writeRes.N)
	require.True(t, fsyncDone)
	require.NoError(t, readRes.Err)
	require.Equal(t, 20, readRes.N)
	require.Equal(t, want, got)
}

func mustListenTCP(t *testing.T) (int, syscall.Sockaddr) {
	t.Helper()
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	addr := &unix.SockaddrInet4{Addr: [4]byte{127, 0, 0, 1}}
	require.NoError(t, unix.Bind(fd, addr))
	require.NoError(t, unix.Listen(fd, 1))
	sa, err := unix.Getsockname(fd)
	require.NoError(t, err)
	bound := sa.(*unix.SockaddrInet4)
	return fd, &syscall.SockaddrInet4{Port: bound.Port, Addr: bound.Addr}
}

func mustConnectableSocket(t *testing.T) int {
	t.Helper()
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	return fd
}

func TestAcceptConnectSendRecv(t *testing.T) {
	e, err := New()
	require.NoError(t, err)
	defer e.Shutdown()

	listenFd, addr := mustListenTCP(t)
	defer unix.Close(listenFd)
	clientFd := mustConnectableSocket(t)
	defer unix.Close(clientFd)

	var acceptC, connectC, sendC, recvC Completion
	var serverFd int
	var connected, accepted, sent, received bool
	var sendRes, recvRes Result
	recvBuf := make([]byte, 5)

	e.Accept(&acceptC, listenFd, func(r Result) {
		require.NoError(t, r.Err)
		serverFd = r.N
		accepted = true
	})
	e.Connect(&connectC, clientFd, addr, func(r Result) {
		require.NoError(t, r.Err)
		connected = true
	})

	drive(t, e, 2*time.Second, func() bool { return accepted && connected })

	payload := []byte("0123456789")
	e.Send(&sendC, clientFd, payload, func(r Result) {
		sendRes = r
		sent = true
	})
	drive(t, e, 2*time.Second, func() bool { return sent })
	require.NoError(t, sendRes.Err)
	require.Equal(t, 10, sendRes.N)

	e.Recv(&recvC, serverFd, recvBuf, func(r Result) {
		recvRes = r
		received = true
	})
	drive(t, e, 2*time.Second, func() bool { return received })
	require.NoError(t, recvRes.Err)
	require.Equal(t, 5, recvRes.N)
	require.Equal(t, payload[:5], recvBuf)

	unix.Close(serverFd)
}

func TestRecvWithTimeoutFiresOnIdleSocket(t *testing.T) {
	e, err := New()
	require.NoError(t, err)
	defer e.Shutdown()

	listenFd, addr := mustListenTCP(t)
	defer unix.Close(listenFd)
	clientFd := mustConnectableSocket(t)
	defer unix.Close(clientFd)

	var acceptC, connectC Completion
	var serverFd int
	var accepted, connected bool
	e.Accept(&acceptC, listenFd, func(r Result) {
		require.NoError(t, r.Err)
		serverFd = r.N
		accepted = true
	})
	e.Connect(&connectC, clientFd, addr, func(r Result) {
		require.NoError(t, r.Err)
		connected = true
	})
	drive(t, e, 2*time.Second, func() bool { return accepted && connected })
	defer unix.Close(serverFd)

	var lc LinkedCompletion
	buf := make([]byte, 8)
	var done bool
	var result Result
	e.RecvWithTimeout(&lc, serverFd, buf, uint64(time.Millisecond), func(r Result) {
		result = r
		done = true
	})
	drive(t, e, 2*time.Second, func() bool { return done })
	require.ErrorIs(t, result.Err, ErrCanceled)
}

func TestRecvWithTimeoutDataArrivesFirst(t *testing.T) {
	e, err := New()
	require.NoError(t, err)
	defer e.Shutdown()

	listenFd, addr := mustListenTCP(t)
	defer unix.Close(listenFd)
	clientFd := mustConnectableSocket(t)
	defer unix.Close(clientFd)

	var acceptC, connectC Completion
	var serverFd int
	var accepted, connected bool
	e.Accept(&acceptC, listenFd, func(r Result) {
		require.NoError(t, r.Err)
		serverFd = r.N
		accepted = true
	})
	e.Connect(&connectC, clientFd, addr, func(r Result) {
		require.NoError(t, r.Err)
		connected = true
	})
	drive(t, e, 2*time.Second, func() bool { return accepted && connected })
	defer unix.Close(serverFd)

	var lc LinkedCompletion
	buf := make([]byte, 8)
	var done bool
	var result Result
	e.RecvWithTimeout(&lc, serverFd, buf, uint64(500*time.Millisecond), func(r Result) {
		result = r
		done = true
	})

	var sendC Completion
	var sent bool
	e.Send(&sendC, clientFd, []byte("hello"), func(r Result) { sent = true })

	drive(t, e, 2*time.Second, func() bool { return done && sent })
	require.NoError(t, result.Err)
	require.Equal(t, 5, result.N)
	require.Equal(t, []byte("hello"), buf[:5])
}

func TestCancelInFlightRecv(t *testing.T) {
	e, err := New()
	require.NoError(t, err)
	defer e.Shutdown()

	listenFd, addr := mustListenTCP(t)
	defer unix.Close(listenFd)
	clientFd := mustConnectableSocket(t)
	defer unix.Close(clientFd)

	var acceptC, connectC Completion
	var serverFd int
	var accepted, connected bool
	e.Accept(&acceptC, listenFd, func(r Result) {
		require.NoError(t, r.Err)
		serverFd = r.N
		accepted = true
	})
	e.Connect(&connectC, clientFd, addr, func(r Result) {
		require.NoError(t, r.Err)
		connected = true
	})
	drive(t, e, 2*time.Second, func() bool { return accepted && connected })
	defer unix.Close(serverFd)

	var recvC, cancelC Completion
	buf := make([]byte, 8)
	var recvDone, cancelDone bool
	var recvRes, cancelRes Result

	e.Recv(&recvC, serverFd, buf, func(r Result) {
		recvRes = r
		recvDone = true
	})
	e.Cancel(&cancelC, &recvC, func(r Result) {
		cancelRes = r
		cancelDone = true
	})

	drive(t, e, 2*time.Second, func() bool { return recvDone && cancelDone })
	require.ErrorIs(t, recvRes.Err, ErrCanceled)
	require.NoError(t, cancelRes.Err)
}

func TestRunForWithTenPendingTimeouts(t *testing.T) {
	e, err := New()
	require.NoError(t, err)
	defer e.Shutdown()

	const n = 10
	completions := make([]Completion, n)
	fired := 0

	for i := range completions {
		e.Timeout(&completions[i], uint64(20*time.Millisecond), func(r Result) {
			require.NoError(t, r.Err)
			fired++
		})
	}

	start := time.Now()
	require.NoError(t, e.RunFor(uint64(40*time.Millisecond)))
	elapsed := time.Since(start)

	require.Equal(t, n, fired)
	require.GreaterOrEqual(t, elapsed, 15*time.Millisecond)
}

func TestSubmissionQueueOverflowDrainsViaUnqueued(t *testing.T) {
	e, err := New(WithEntries(1))
	require.NoError(t, err)
	defer e.Shutdown()

	const n = 10
	completions := make([]Completion, n)
	fired := 0
	for i := range completions {
		e.Timeout(&completions[i], uint64(20*time.Millisecond), func(r Result) {
			require.NoError(t, r.Err)
			fired++
		})
	}

	drive(t, e, 3*time.Second, func() bool { return fired == n })
}

func TestCancelTimeoutBeforeItFires(t *testing.T) {
	e, err := New()
	require.NoError(t, err)
	defer e.Shutdown()

	var timeoutC, cancelC Completion
	var timeoutDone, cancelDone bool
	var timeoutRes, cancelRes Result

	e.Timeout(&timeoutC, uint64(time.Second), func(r Result) {
		timeoutRes = r
		timeoutDone = true
	})
	e.CancelTimeout(&cancelC, &timeoutC, func(r Result) {
		cancelRes = r
		cancelDone = true
	})

	drive(t, e, 2*time.Second, func() bool { return timeoutDone && cancelDone })
	require.ErrorIs(t, timeoutRes.Err, ErrCanceled)
	require.NoError(t, cancelRes.Err)
}
