package store

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a domain failure for callers and the assignment log.
type ErrorCode string

const (
	CodeBadRequest          ErrorCode = "BAD_REQUEST"
	CodeNotFound            ErrorCode = "NOT_FOUND"
	CodeConflict            ErrorCode = "CONFLICT"
	CodeInterpreterConflict ErrorCode = "INTERPRETER_CONFLICT"
	CodeInvalidInterpreter  ErrorCode = "INVALID_INTERPRETER"
	CodeFairnessGuardrail   ErrorCode = "FAIRNESS_GUARDRAIL"
	CodeDRBlocked           ErrorCode = "DR_BLOCKED"
	CodeLockTimeout         ErrorCode = "LOCK_TIMEOUT"
	CodePolicyViolation     ErrorCode = "POLICY_VIOLATION"
	CodeInternal            ErrorCode = "INTERNAL_ERROR"
)

// Error is a structured domain error.
type Error struct {
	Code ErrorCode
	Msg  string

	// ConflictingBookingID is set on INTERPRETER_CONFLICT.
	ConflictingBookingID int64

	Err error
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a domain error with a formatted message.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// WrapError attaches a domain code to an underlying error.
func WrapError(code ErrorCode, err error, msg string) *Error {
	return &Error{Code: code, Msg: msg, Err: err}
}

// CodeOf extracts the domain code from an error chain, defaulting to
// INTERNAL_ERROR for unclassified failures.
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// IsCode reports whether the error chain carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// IsTransient reports whether the failure is worth retrying in a later pass.
func IsTransient(err error) bool {
	return IsCode(err, CodeLockTimeout)
}
