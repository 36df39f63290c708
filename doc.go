// Package fdio is a single-threaded, completion-based asynchronous I/O
// engine. It exposes POSIX-style file-descriptor operations (accept,
// connect, close, read, write, recv, send, recvmsg, sendmsg, fsync, openat,
// timeout, cancel) uniformly over two backends: Linux io_uring
// (engine_linux.go) and a kqueue fallback for the BSD family
// (engine_kqueue.go).
//
// A caller owns a Completion (or a LinkedCompletion for the composite
// submitters) and passes its address to a submitter. The engine never
// allocates that storage; it is the caller's responsibility to keep it
// stable and its buffers alive until the callback fires. Tick drives one
// non-blocking step of the engine; RunFor drives Tick until a deadline
// elapses.
package fdio
