// Package fd implements the polymorphic file descriptor model described in
// spec §3 and §4.3: a small interface exposing read/write/can_read/can_write,
// with Console, Null and the two pipe halves as concrete variants.
package fd

import "talus/kernel"

var (
	// ErrUnsupported is returned by a File when the operation does not
	// apply to it (e.g. Write on a PipeRead).
	ErrUnsupported = &kernel.Error{Module: "fd", Message: "operation not supported by this file"}

	// ErrBlocked is a sentinel, not a real *kernel.Error to surface to
	// userland: the syscall dispatcher recognizes it and blocks the
	// caller instead of returning it as a result (spec §4.5).
	ErrBlocked = &kernel.Error{Module: "fd", Message: "operation would block"}
)

// File is the interface every open descriptor implements.
type File interface {
	Read(buf []byte) (int, *kernel.Error)
	Write(buf []byte) (int, *kernel.Error)
	CanRead() bool
	CanWrite() bool
}
