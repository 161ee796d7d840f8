// Package protoerr defines the NineDoor wire error taxonomy
// (Invalid/NotFound/Permission/Busy/Closed/TooBig) as a single
// structured error type every internal package constructs and
// propagates. It lives below the root package so every internal
// collaborator, and the root package itself, can depend on it without
// an import cycle.
package protoerr

import (
	"errors"
	"fmt"
)

// Code is the wire error taxonomy. Every protocol-level failure maps to
// exactly one of these.
type Code string

const (
	CodeInvalid    Code = "invalid"
	CodeNotFound   Code = "not found"
	CodePermission Code = "permission"
	CodeBusy       Code = "busy"
	CodeClosed     Code = "closed"
	CodeTooBig     Code = "too big"
)

// Error is a structured NineDoor error carrying the wire code, the
// operation that failed, and an optional causal chain.
type Error struct {
	Op      string // operation, e.g. "attach", "walk", "write"
	Path    string // offending path, if any
	Fid     uint32 // offending fid, 0 if not applicable
	Code    Code
	Message string
	Inner   error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("ninedoor: %s: %s", e.Code, e.Message)
	}
	if e.Path != "" {
		return fmt.Sprintf("ninedoor: %s: %s: %s (path=%s)", e.Op, e.Code, e.Message, e.Path)
	}
	return fmt.Sprintf("ninedoor: %s: %s: %s", e.Op, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Inner }

// Is supports errors.Is against another *Error, compared by Code only.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// NewError constructs a structured error for the given operation/code pair.
func NewError(op string, code Code, msg string) *Error {
	return &Error{Op: op, Code: code, Message: msg}
}

// NewPathError constructs a structured error referencing the offending path.
func NewPathError(op, path string, code Code, msg string) *Error {
	return &Error{Op: op, Path: path, Code: code, Message: msg}
}

// NewFidError constructs a structured error referencing the offending fid.
func NewFidError(op string, fid uint32, code Code, msg string) *Error {
	return &Error{Op: op, Fid: fid, Code: code, Message: msg}
}

// WrapError wraps an existing error with NineDoor operation context,
// preserving the code of an inner *Error or defaulting to CodeInvalid.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	var ne *Error
	if errors.As(inner, &ne) {
		return &Error{Op: op, Path: ne.Path, Fid: ne.Fid, Code: ne.Code, Message: ne.Message, Inner: inner}
	}
	return &Error{Op: op, Code: CodeInvalid, Message: inner.Error(), Inner: inner}
}

// IsCode reports whether err is a NineDoor error of the given code.
func IsCode(err error, code Code) bool {
	var ne *Error
	if errors.As(err, &ne) {
		return ne.Code == code
	}
	return false
}

// Convenience constructors mirroring the six wire codes.
func ErrInvalid(op, msg string) *Error    { return NewError(op, CodeInvalid, msg) }
func ErrNotFound(op, msg string) *Error   { return NewError(op, CodeNotFound, msg) }
func ErrPermission(op, msg string) *Error { return NewError(op, CodePermission, msg) }
func ErrBusy(op, msg string) *Error       { return NewError(op, CodeBusy, msg) }
func ErrClosed(op, msg string) *Error     { return NewError(op, CodeClosed, msg) }
func ErrTooBig(op, msg string) *Error     { return NewError(op, CodeTooBig, msg) }
