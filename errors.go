package fdio

import (
	"syscall"

	"github.com/brickingsoft/errors"
)

// Sentinel error kinds. Every value a callback can observe for a given
// operation is one of these (or nil for success), always reachable with
// errors.Is even after a backend wraps the originating errno via
// errors.From(..., errors.WithWrap(...)).
var (
	ErrAgain                     = errors.Define("resource temporarily unavailable")
	ErrCanceled                  = errors.Define("operation canceled")
	ErrUnexpected                = errors.Define("unexpected error")
	ErrNotFound                  = errors.Define("completion not found")
	ErrAlreadyInProgress         = errors.Define("cancellation already in progress")
	ErrFileDescriptorInvalid     = errors.Define("file descriptor invalid")
	ErrFileDescriptorNotASocket  = errors.Define("file descriptor is not a socket")
	ErrConnectionAborted         = errors.Define("connection aborted")
	ErrSocketNotListening        = errors.Define("socket not listening")
	ErrProcessFdQuotaExceeded    = errors.Define("process file descriptor quota exceeded")
	ErrSystemFdQuotaExceeded     = errors.Define("system file descriptor quota exceeded")
	ErrSystemResources           = errors.Define("insufficient system resources")
	ErrOperationNotSupported     = errors.Define("operation not supported")
	ErrPermissionDenied          = errors.Define("permission denied")
	ErrProtocolFailure           = errors.Define("protocol failure")
	ErrAccessDenied              = errors.Define("access denied")
	ErrAddressInUse              = errors.Define("address in use")
	ErrAddressNotAvailable       = errors.Define("address not available")
	ErrAddressFamilyNotSupported = errors.Define("address family not supported")
	ErrOpenAlreadyInProgress     = errors.Define("connect already in progress")
	ErrConnectionRefused         = errors.Define("connection refused")
	ErrAlreadyConnected          = errors.Define("socket already connected")
	ErrNetworkUnreachable        = errors.Define("network unreachable")
	ErrFileNotFound              = errors.Define("file not found")
	ErrProtocolNotSupported      = errors.Define("protocol not supported")
	ErrConnectionTimedOut        = errors.Define("connection timed out")
	ErrDiskQuota                 = errors.Define("disk quota exceeded")
	ErrInputOutput               = errors.Define("input/output error")
	ErrNoSpaceLeft               = errors.Define("no space left on device")
	ErrNotOpenForReading         = errors.Define("file not open for reading")
	ErrNotOpenForWriting         = errors.Define("file not open for writing")
	ErrAlignment                 = errors.Define("buffer or offset misaligned")
	ErrIsDir                     = errors.Define("is a directory")
	ErrUnseekable                = errors.Define("file descriptor is not seekable")
	ErrNotConnected              = errors.Define("socket not connected")
	ErrFileTooBig                = errors.Define("file too big")
	ErrBrokenPipe                = errors.Define("broken pipe")
	ErrSocketNotConnected        = errors.Define("socket not connected")
	ErrConnectionResetByPeer     = errors.Define("connection reset by peer")
	ErrFastOpenAlreadyInProgress = errors.Define("fast open already in progress")
	ErrMessageTooBig             = errors.Define("message too big")
	ErrArgumentsInvalid          = errors.Define("arguments invalid")
	ErrReadOnlyFileSystem        = errors.Define("read-only file system")
	ErrDeviceBusy                = errors.Define("device or resource busy")
	ErrPathAlreadyExists         = errors.Define("path already exists")
	ErrSymLinkLoop               = errors.Define("too many levels of symbolic links")
	ErrNameTooLong               = errors.Define("name too long")
	ErrNoDevice                  = errors.Define("no such device")
	ErrNotDir                    = errors.Define("not a directory")
	ErrFileLocksNotSupported     = errors.Define("file locks not supported")
)

// wrapErrno builds the final callback error for an unrecognised errno: the
// caller still gets a distinguishable ErrUnexpected via errors.Is, while
// errors.Is against the original syscall.Errno keeps working through the
// wrap chain.
func wrapErrno(errno syscall.Errno) error {
	return errors.From(ErrUnexpected, errors.WithWrap(errno))
}

// errnoToAccept translates the errno set the spec lists for accept.
func errnoToAccept(errno syscall.Errno) error {
	switch errno {
	case syscall.EAGAIN:
		return ErrAgain
	case syscall.EBADF:
		return ErrFileDescriptorInvalid
	case syscall.ECONNABORTED:
		return ErrConnectionAborted
	case syscall.EINVAL:
		return ErrSocketNotListening
	case syscall.EMFILE:
		return ErrProcessFdQuotaExceeded
	case syscall.ENFILE:
		return ErrSystemFdQuotaExceeded
	case syscall.ENOBUFS, syscall.ENOMEM:
		return ErrSystemResources
	case syscall.ENOTSOCK:
		return ErrFileDescriptorNotASocket
	case syscall.EOPNOTSUPP:
		return ErrOperationNotSupported
	case syscall.EPERM:
		return ErrPermissionDenied
	case syscall.EPROTO:
		return ErrProtocolFailure
	default:
		return wrapErrno(errno)
	}
}

// errnoToConnect translates the errno set the spec lists for connect.
func errnoToConnect(errno syscall.Errno) error {
	switch errno {
	case syscall.EACCES:
		return ErrAccessDenied
	case syscall.EADDRINUSE:
		return ErrAddressInUse
	case syscall.EADDRNOTAVAIL:
		return ErrAddressNotAvailable
	case syscall.EAFNOSUPPORT:
		return ErrAddressFamilyNotSupported
	case syscall.EAGAIN:
		return ErrAgain
	case syscall.EALREADY:
		return ErrOpenAlreadyInProgress
	case syscall.EBADF:
		return ErrFileDescriptorInvalid
	case syscall.ECONNREFUSED:
		return ErrConnectionRefused
	case syscall.EISCONN:
		return ErrAlreadyConnected
	case syscall.ENETUNREACH:
		return ErrNetworkUnreachable
	case syscall.ENOENT:
		return ErrFileNotFound
	case syscall.ENOTSOCK:
		return ErrFileDescriptorNotASocket
	case syscall.EPERM:
		return ErrPermissionDenied
	case syscall.EPROTOTYPE:
		return ErrProtocolNotSupported
	case syscall.ETIMEDOUT:
		return ErrConnectionTimedOut
	default:
		return wrapErrno(errno)
	}
}

// errnoToClose translates the errno set the spec lists for close.
func errnoToClose(errno syscall.Errno) error {
	switch errno {
	case syscall.EBADF:
		return ErrFileDescriptorInvalid
	case syscall.EDQUOT:
		return ErrDiskQuota
	case syscall.EIO:
		return ErrInputOutput
	case syscall.ENOSPC:
		return ErrNoSpaceLeft
	default:
		return wrapErrno(errno)
	}
}

// errnoToRead translates the errno set the spec lists for read.
func errnoToRead(errno syscall.Errno) error {
	switch errno {
	case syscall.EAGAIN:
		return ErrAgain
	case syscall.EBADF:
		return ErrNotOpenForReading
	case syscall.EINVAL:
		return ErrAlignment
	case syscall.EIO:
		return ErrInputOutput
	case syscall.EISDIR:
		return ErrIsDir
	case syscall.ENOBUFS, syscall.ENOMEM:
		return ErrSystemResources
	case syscall.ESPIPE:
		return ErrUnseekable
	default:
		return wrapErrno(errno)
	}
}

// errnoToWrite translates the errno set the spec lists for write, a
// superset of read's.
func errnoToWrite(errno syscall.Errno) error {
	switch errno {
	case syscall.EBADF:
		return ErrNotOpenForWriting
	case syscall.EPIPE:
		return ErrBrokenPipe
	case syscall.ENOTCONN:
		return ErrNotConnected
	case syscall.EDQUOT:
		return ErrDiskQuota
	case syscall.EFBIG:
		return ErrFileTooBig
	case syscall.EACCES:
		return ErrAccessDenied
	default:
		return errnoToRead(errno)
	}
}

// errnoToRecv translates the errno set the spec lists for recv/recvmsg.
func errnoToRecv(errno syscall.Errno) error {
	switch errno {
	case syscall.EAGAIN:
		return ErrAgain
	case syscall.EBADF:
		return ErrFileDescriptorInvalid
	case syscall.ECONNREFUSED:
		return ErrConnectionRefused
	case syscall.ENOBUFS, syscall.ENOMEM:
		return ErrSystemResources
	case syscall.ENOTCONN:
		return ErrSocketNotConnected
	case syscall.ENOTSOCK:
		return ErrFileDescriptorNotASocket
	case syscall.ECONNRESET:
		return ErrConnectionResetByPeer
	default:
		return wrapErrno(errno)
	}
}

// errnoToSend translates the errno set the spec lists for send/sendmsg.
func errnoToSend(errno syscall.Errno) error {
	switch errno {
	case syscall.EACCES:
		return ErrAccessDenied
	case syscall.EAGAIN:
		return ErrAgain
	case syscall.EALREADY:
		return ErrFastOpenAlreadyInProgress
	case syscall.EAFNOSUPPORT:
		return ErrAddressFamilyNotSupported
	case syscall.EBADF:
		return ErrFileDescriptorInvalid
	case syscall.ECONNRESET:
		return ErrConnectionResetByPeer
	case syscall.EMSGSIZE:
		return ErrMessageTooBig
	case syscall.ENOBUFS, syscall.ENOMEM:
		return ErrSystemResources
	case syscall.ENOTCONN:
		return ErrSocketNotConnected
	case syscall.ENOTSOCK:
		return ErrFileDescriptorNotASocket
	case syscall.EOPNOTSUPP:
		return ErrOperationNotSupported
	case syscall.EPIPE:
		return ErrBrokenPipe
	default:
		return wrapErrno(errno)
	}
}

// errnoToFsync translates the errno set the spec lists for fsync.
func errnoToFsync(errno syscall.Errno) error {
	switch errno {
	case syscall.EBADF:
		return ErrFileDescriptorInvalid
	case syscall.EDQUOT:
		return ErrDiskQuota
	case syscall.EINVAL:
		return ErrArgumentsInvalid
	case syscall.EIO:
		return ErrInputOutput
	case syscall.ENOSPC:
		return ErrNoSpaceLeft
	case syscall.EROFS:
		return ErrReadOnlyFileSystem
	default:
		return wrapErrno(errno)
	}
}

// errnoToOpenAt translates the errno set the spec lists for openat.
func errnoToOpenAt(errno syscall.Errno) error {
	switch errno {
	case syscall.EACCES:
		return ErrAccessDenied
	case syscall.EBADF:
		return ErrFileDescriptorInvalid
	case syscall.EBUSY:
		return ErrDeviceBusy
	case syscall.EEXIST:
		return ErrPathAlreadyExists
	case syscall.EFBIG, syscall.EOVERFLOW:
		return ErrFileTooBig
	case syscall.EINVAL:
		return ErrArgumentsInvalid
	case syscall.EISDIR:
		return ErrIsDir
	case syscall.ELOOP:
		return ErrSymLinkLoop
	case syscall.EMFILE:
		return ErrProcessFdQuotaExceeded
	case syscall.ENAMETOOLONG:
		return ErrNameTooLong
	case syscall.ENFILE:
		return ErrSystemFdQuotaExceeded
	case syscall.ENODEV:
		return ErrNoDevice
	case syscall.ENOENT:
		return ErrFileNotFound
	case syscall.ENOMEM:
		return ErrSystemResources
	case syscall.ENOSPC:
		return ErrNoSpaceLeft
	case syscall.ENOTDIR:
		return ErrNotDir
	case syscall.EOPNOTSUPP:
		return ErrFileLocksNotSupported
	case syscall.EAGAIN:
		return ErrAgain
	default:
		return wrapErrno(errno)
	}
}

// errnoToTimeout translates the (small) errno set the spec lists for
// timeout/linkTimeout completion. ETIME is not an error here: it is how
// io_uring reports a timeout that expired normally (CQE res == -ETIME),
// which the spec defines as success carrying nothing.
func errnoToTimeout(errno syscall.Errno) error {
	switch errno {
	case syscall.ETIME:
		return nil
	case syscall.ECANCELED:
		return ErrCanceled
	default:
		return wrapErrno(errno)
	}
}

// errnoToCancel translates the errno set the spec lists for cancel.
func errnoToCancel(errno syscall.Errno) error {
	switch errno {
	case syscall.EALREADY:
		return ErrAlreadyInProgress
	case syscall.ENOENT:
		return ErrNotFound
	default:
		return wrapErrno(errno)
	}
}

// errnoToCancelTimeout translates the errno set the spec lists for
// cancelTimeout, a superset of cancel's.
func errnoToCancelTimeout(errno syscall.Errno) error {
	switch errno {
	case syscall.ECANCELED:
		return ErrCanceled
	default:
		return errnoToCancel(errno)
	}
}
