//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package fdio

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// toUnixSockaddr adapts the engine's backend-neutral syscall.Sockaddr to
// the distinct (structurally identical) unix.Sockaddr interface
// golang.org/x/sys/unix's socket calls require.
func toUnixSockaddr(sa syscall.Sockaddr) unix.Sockaddr {
	switch s := sa.(type) {
	case *syscall.SockaddrInet4:
		return &unix.SockaddrInet4{Port: s.Port, Addr: s.Addr}
	case *syscall.SockaddrInet6:
		return &unix.SockaddrInet6{Port: s.Port, ZoneId: s.ZoneId, Addr: s.Addr}
	case *syscall.SockaddrUnix:
		return &unix.SockaddrUnix{Name: s.Name}
	default:
		return nil
	}
}

// fromUnixSockaddr is the inverse of toUnixSockaddr, applied to the
// addresses accept/recvfrom/recvmsg hand back.
func fromUnixSockaddr(sa unix.Sockaddr) syscall.Sockaddr {
	switch s := sa.(type) {
	case *unix.SockaddrInet4:
		return &syscall.SockaddrInet4{Port: s.Port, Addr: s.Addr}
	case *unix.SockaddrInet6:
		return &syscall.SockaddrInet6{Port: s.Port, ZoneId: s.ZoneId, Addr: s.Addr}
	case *unix.SockaddrUnix:
		return &syscall.SockaddrUnix{Name: s.Name}
	default:
		return nil
	}
}
