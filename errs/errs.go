// Package errs defines the error taxonomy shared by the disk, FAT and TFTP
// layers. Every error that crosses a package boundary is
// wrapped in an *Error carrying one of the Kind values below, so callers can
// branch on errors.As rather than string matching.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies the failure so callers (TFTP handler, CLI) can decide how
// to surface it without inspecting message text.
type Kind int

const (
	// InternalError is the zero value so a forgotten Kind fails safe as fatal.
	InternalError Kind = iota
	InvalidFormat
	NoSpace
	NotFound
	PermissionDenied
	NotADirectory
	IsADirectory
	DirectoryNotEmpty
	BadOptions
	AlreadyAcknowledged
	TransferDone
	TimedOut
	IntegrityWarning
)

func (k Kind) String() string {
	switch k {
	case InvalidFormat:
		return "invalid format"
	case NoSpace:
		return "no space"
	case NotFound:
		return "not found"
	case PermissionDenied:
		return "permission denied"
	case NotADirectory:
		return "not a directory"
	case IsADirectory:
		return "is a directory"
	case DirectoryNotEmpty:
		return "directory not empty"
	case BadOptions:
		return "bad options"
	case AlreadyAcknowledged:
		return "already acknowledged"
	case TransferDone:
		return "transfer done"
	case TimedOut:
		return "timed out"
	case IntegrityWarning:
		return "integrity warning"
	default:
		return "internal error"
	}
}

// Error is the concrete error type produced by every package under this
// module. It wraps an underlying cause (if any) with errors.Wrap so a stack
// trace is captured at the point the Kind was first assigned.
type Error struct {
	kind  Kind
	msg   string
	cause error
}

func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg, cause: errors.New(msg)}
}

func Newf(kind Kind, format string, args ...interface{}) *Error {
	msg := fmt.Sprintf(format, args...)
	return &Error{kind: kind, msg: msg, cause: errors.New(msg)}
}

// Wrap attaches kind to an existing error, preserving it as the cause.
func Wrap(kind Kind, cause error, msg string) *Error {
	if cause == nil {
		return New(kind, msg)
	}
	return &Error{kind: kind, msg: msg, cause: errors.Wrap(cause, msg)}
}

func (e *Error) Error() string {
	if e.msg == "" {
		return e.kind.String()
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *Error) Unwrap() error { return e.cause }

// Kind reports the error's Kind.
func (e *Error) Kind() Kind { return e.kind }

// IsKind reports whether err, or an error it wraps, is an *Error of the
// given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.kind == kind
	}
	return false
}
