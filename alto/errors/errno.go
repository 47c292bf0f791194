// Package errors defines the portable error kinds surfaced by the Alto file
// system engine, and a DriverError type that carries one of them plus a
// human-readable message and, optionally, a wrapped cause.
package errors

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Errno is a closed set of portable error kinds. It intentionally does not
// track the host's full POSIX errno space -- only the kinds the engine's
// public API (see the root package) is contracted to surface.
type Errno int

const (
	OK Errno = iota
	NotFound
	AlreadyExists
	PermissionDenied
	InvalidArgument
	NoSpace
	IoError
	Corrupt
)

var errnoNames = map[Errno]string{
	OK:                "no error",
	NotFound:          "no such file",
	AlreadyExists:     "file exists",
	PermissionDenied:  "permission denied",
	InvalidArgument:   "invalid argument",
	NoSpace:           "no space left on device",
	IoError:           "input/output error",
	Corrupt:           "file system corrupted",
}

func (e Errno) String() string {
	name, ok := errnoNames[e]
	if !ok {
		return fmt.Sprintf("errno(%d)", int(e))
	}
	return name
}

// DriverError is the error type returned by every fallible operation in this
// module. It always carries a portable Errno so callers can map it onto
// whatever error surface their own host layer needs (POSIX errno, an HTTP
// status, etc.) without string matching.
type DriverError interface {
	error
	Errno() Errno
	WithMessage(message string) DriverError
	Wrap(cause error) DriverError
	Unwrap() error
}

type driverError struct {
	errno   Errno
	message string
	cause   error
}

// New creates a DriverError with the default message for the given Errno.
func New(errno Errno) DriverError {
	return driverError{errno: errno, message: errno.String()}
}

// NewWithMessage creates a DriverError with a custom message.
func NewWithMessage(errno Errno, message string) DriverError {
	return driverError{errno: errno, message: message}
}

// NewFromError wraps a plain error under the given Errno.
func NewFromError(errno Errno, cause error) DriverError {
	return driverError{
		errno:   errno,
		message: fmt.Sprintf("%s: %s", errno.String(), cause.Error()),
		cause:   cause,
	}
}

func (e driverError) Error() string {
	return e.message
}

func (e driverError) Errno() Errno {
	return e.errno
}

func (e driverError) WithMessage(message string) DriverError {
	return driverError{
		errno:   e.errno,
		message: fmt.Sprintf("%s: %s", e.message, message),
		cause:   e.cause,
	}
}

// Wrap folds an additional cause into this error. When called more than
// once, the causes accumulate via go-multierror rather than being
// discarded -- consistency repair (alto/repair) relies on this to report
// every problem found in a single mount pass, not just the first.
func (e driverError) Wrap(cause error) DriverError {
	var newCause error
	if e.cause == nil {
		newCause = cause
	} else {
		newCause = multierror.Append(e.cause, cause)
	}
	return driverError{
		errno:   e.errno,
		message: fmt.Sprintf("%s: %s", e.message, cause.Error()),
		cause:   newCause,
	}
}

func (e driverError) Unwrap() error {
	return e.cause
}

// IsNotFound is a convenience matcher used by the CLI and by tests.
func IsNotFound(err error) bool {
	de, ok := err.(DriverError)
	return ok && de.Errno() == NotFound
}
