//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package fdio

import "golang.org/x/sys/unix"

// now returns a CLOCK_MONOTONIC reading in nanoseconds. This is the same
// clock io_uring absolute timeouts are specified against, so deadlines
// computed here stay coherent with IORING_TIMEOUT_ABS submissions.
func now() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		// CLOCK_MONOTONIC is always available on the platforms this
		// engine targets; a failure here means the process is in a
		// state (e.g. seccomp filtering clock_gettime) nothing the
		// engine does can recover from.
		panic("fdio: clock_gettime(CLOCK_MONOTONIC) failed: " + err.Error())
	}
	return uint64(ts.Sec)*1e9 + uint64(ts.Nsec)
}
