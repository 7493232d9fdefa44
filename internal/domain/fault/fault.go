// Package fault defines the shared error taxonomy for the checkout core.
//
// Every error that crosses a component boundary resolves to one of five
// stable machine-readable codes. Typed domain errors participate by
// implementing Coder; everything else maps to CodeInternal.
package fault

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Code is a stable machine-readable error category.
type Code string

const (
	// CodeNotFound marks a missing cart, order, product or item.
	CodeNotFound Code = "not_found"
	// CodeValidation marks rejected input (bad quantity, missing address fields).
	CodeValidation Code = "validation"
	// CodeConflict marks state conflicts: insufficient stock, empty cart,
	// mutation of an already-converted cart, illegal status transition.
	CodeConflict Code = "conflict"
	// CodeTransient marks catalog/storage unavailability. Safe to retry.
	CodeTransient Code = "transient"
	// CodeInternal marks unexpected failures.
	CodeInternal Code = "internal"
)

// Coder is implemented by typed domain errors that carry their own code.
type Coder interface {
	FaultCode() Code
}

// Error is a coded error with a human-readable message.
type Error struct {
	Code    Code
	Message string
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.Message + ": " + e.err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.err }

// FaultCode implements Coder.
func (e *Error) FaultCode() Code { return e.Code }

// New returns a coded error with the given message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a code and message, preserving the cause for
// errors.Is/As.
func Wrap(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), err: err}
}

// NotFound returns a CodeNotFound error.
func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, format, args...)
}

// Validation returns a CodeValidation error.
func Validation(format string, args ...any) *Error {
	return New(CodeValidation, format, args...)
}

// Conflict returns a CodeConflict error.
func Conflict(format string, args ...any) *Error {
	return New(CodeConflict, format, args...)
}

// Transient wraps err as a retryable CodeTransient error.
func Transient(err error, format string, args ...any) *Error {
	return Wrap(err, CodeTransient, format, args...)
}

// CodeOf resolves the taxonomy code for err. Unknown errors are CodeInternal;
// a nil error has no code and returns "".
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var c Coder
	if errors.As(err, &c) {
		return c.FaultCode()
	}
	return CodeInternal
}

// IsTransient reports whether err is safe to retry.
func IsTransient(err error) bool {
	return CodeOf(err) == CodeTransient
}
