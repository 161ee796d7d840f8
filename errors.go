// Package ninedoor provides the NineDoor capability-oriented microkernel
// userland server: a Secure9P-derived file protocol multiplexer between a
// privileged queen session and sandboxed worker sessions.
package ninedoor

import "github.com/cohesix/ninedoor/internal/protoerr"

// Code and Error are re-exported from internal/protoerr so the whole
// server shares one error taxonomy while every internal package stays
// free of an import back onto the root package.
type Code = protoerr.Code
type Error = protoerr.Error

const (
	CodeInvalid    = protoerr.CodeInvalid
	CodeNotFound   = protoerr.CodeNotFound
	CodePermission = protoerr.CodePermission
	CodeBusy       = protoerr.CodeBusy
	CodeClosed     = protoerr.CodeClosed
	CodeTooBig     = protoerr.CodeTooBig
)

var (
	NewError     = protoerr.NewError
	NewPathError = protoerr.NewPathError
	NewFidError  = protoerr.NewFidError
	WrapError    = protoerr.WrapError
	IsCode       = protoerr.IsCode
	ErrInvalid   = protoerr.ErrInvalid
	ErrNotFound  = protoerr.ErrNotFound
	ErrPermission = protoerr.ErrPermission
	ErrBusy      = protoerr.ErrBusy
	ErrClosed    = protoerr.ErrClosed
	ErrTooBig    = protoerr.ErrTooBig
)
