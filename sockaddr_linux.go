//go:build linux

package fdio

import (
	"syscall"
	"unsafe"
)

// sockaddrToRaw converts a generic syscall.Sockaddr into the raw kernel
// form io_uring's accept/connect/sendmsg SQEs need, the same three address
// families handled throughout this engine's ancestor (addr_linux.go).
func sockaddrToRaw(sa syscall.Sockaddr) (*syscall.RawSockaddrAny, int32) {
	raw := &syscall.RawSockaddrAny{}
	switch s := sa.(type) {
	case *syscall.SockaddrInet4:
		r4 := (*syscall.RawSockaddrInet4)(unsafe.Pointer(raw))
		r4.Family = syscall.AF_INET
		p := (*[2]byte)(unsafe.Pointer(&r4.Port))
		p[0] = byte(s.Port >> 8)
		p[1] = byte(s.Port)
		r4.Addr = s.Addr
		return raw, int32(unsafe.Sizeof(*r4))
	case *syscall.SockaddrInet6:
		r6 := (*syscall.RawSockaddrInet6)(unsafe.Pointer(raw))
		r6.Family = syscall.AF_INET6
		p := (*[2]byte)(unsafe.Pointer(&r6.Port))
		p[0] = byte(s.Port >> 8)
		p[1] = byte(s.Port)
		r6.Scope_id = s.ZoneId
		r6.Addr = s.Addr
		return raw, int32(unsafe.Sizeof(*r6))
	case *syscall.SockaddrUnix:
		ru := (*syscall.RawSockaddrUnix)(unsafe.Pointer(raw))
		ru.Family = syscall.AF_UNIX
		for i := 0; i < len(s.Name) && i < len(ru.Path); i++ {
			ru.Path[i] = int8(s.Name[i])
		}
		return raw, int32(unsafe.Sizeof(*ru))
	default:
		return raw, 0
	}
}

// rawToSockaddr is the inverse of sockaddrToRaw, used to decode the
// address accept/recvmsg wrote into their scratch RawSockaddrAny.
func rawToSockaddr(raw *syscall.RawSockaddrAny) syscall.Sockaddr {
	switch raw.Addr.Family {
	case syscall.AF_INET:
		r4 := (*syscall.RawSockaddrInet4)(unsafe.Pointer(raw))
		p := (*[2]byte)(unsafe.Pointer(&r4.Port))
		return &syscall.SockaddrInet4{
			Port: int(p[0])<<8 + int(p[1]),
			Addr: r4.Addr,
		}
	case syscall.AF_INET6:
		r6 := (*syscall.RawSockaddrInet6)(unsafe.Pointer(raw))
		p := (*[2]byte)(unsafe.Pointer(&r6.Port))
		return &syscall.SockaddrInet6{
			Port:   int(p[0])<<8 + int(p[1]),
			ZoneId: r6.Scope_id,
			Addr:   r6.Addr,
		}
	case syscall.AF_UNIX:
		ru := (*syscall.RawSockaddrUnix)(unsafe.Pointer(raw))
		n := 0
		for n < len(ru.Path) && ru.Path[n] != 0 {
			n++
		}
		return &syscall.SockaddrUnix{Name: string(unsafe.Slice((*byte)(unsafe.Pointer(&ru.Path[0])), n))}
	default:
		return nil
	}
}

// buildMsghdr assembles the syscall.Msghdr a recvmsg/sendmsg SQE points
// at. For sendmsg, destAddr is converted to its raw form and attached as
// the message name; recvmsg leaves name pointed at fresh scratch storage
// that rawToSockaddr decodes once the kernel has filled it in.
func buildMsghdr(op *Operation) *syscall.Msghdr {
	msg := &syscall.Msghdr{}

	if op.kind == opSendMsg && op.destAddr != nil {
		raw, rawLen := sockaddrToRaw(op.destAddr)
		msg.Name = (*byte)(unsafe.Pointer(raw))
		msg.Namelen = uint32(rawLen)
	} else if op.kind == opRecvMsg {
		raw := &syscall.RawSockaddrAny{}
		msg.Name = (*byte)(unsafe.Pointer(raw))
		msg.Namelen = uint32(unsafe.Sizeof(*raw))
	}

	if n := len(op.buf); n > 0 {
		msg.Iov = &syscall.Iovec{Base: &op.buf[0], Len: uint64(n)}
		msg.Iovlen = 1
	}
	if n := len(op.oob); n > 0 {
		msg.Control = &op.oob[0]
		msg.Controllen = uint64(n)
	}
	return msg
}

// decodeMsghdrPeer extracts the peer address buildMsghdr's recvmsg branch
// wrote into, called from dispatch once the CQE has landed.
func decodeMsghdrPeer(msg *syscall.Msghdr) syscall.Sockaddr {
	if msg == nil || msg.Name == nil {
		return nil
	}
	return rawToSockaddr((*syscall.RawSockaddrAny)(unsafe.Pointer(msg.Name)))
}

// cPath returns path as a NUL-terminated byte slice, the form
// io_uring's openat SQE requires for the kernel-side path pointer.
func cPath(path string) []byte {
	b := make([]byte, len(path)+1)
	copy(b, path)
	return b
}
