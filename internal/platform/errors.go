// Package platform holds cross-cutting primitives shared by every
// component: the stable error taxonomy, the injected clock, and the
// background task runner.
package platform

import (
	"errors"
	"fmt"
)

// Code identifies a stable, machine-readable error category. Codes are part
// of the command-surface contract and never change meaning between releases.
type Code string

const (
	CodeInvalidArgument    Code = "invalid_argument"
	CodeNotFound           Code = "not_found"
	CodeAlreadyExists      Code = "already_exists"
	CodeQuotaExceeded      Code = "quota_exceeded"
	CodeRateLimited        Code = "rate_limited"
	CodeBackendUnavailable Code = "backend_unavailable"
	CodeInvalidValue       Code = "invalid_value"
	CodeUnavailable        Code = "unavailable"
	CodeConflict           Code = "conflict"
	CodeTimeout            Code = "timeout"
	CodeUnknownCommand     Code = "unknown_command"
	CodeInternal           Code = "internal"
)

// Error is a classified error carrying a taxonomy code, a human-readable
// message, and an optional cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any
func (e *Error) Unwrap() error {
	return e.cause
}

// New creates a classified error with the given code
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a classified error with a formatted message
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error. A nil cause returns nil.
func Wrap(cause error, code Code, message string) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: cause}
}

// CodeOf extracts the taxonomy code from an error chain. Unclassified
// errors map to internal; nil maps to the empty code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeInternal
}

// IsCode reports whether any error in the chain carries the given code
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
