// Package derrors provides coded domain errors shared by all modules.
//
// Stores and infrastructure return sentinel errors (pkg/platform/sentinel);
// services translate those into coded domain errors so handlers can map them
// to transport responses and callers can branch on the failure category.
package derrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error. Every rejected operation carries exactly
// one code so callers can decide between retry, abandon, and escalation
// without parsing messages.
type Code string

const (
	// CodeNotFound: a referenced entity (treatment, escrow, milestone) does
	// not exist.
	CodeNotFound Code = "not_found"
	// CodeConflict: the operation is invalid for the entity's current state
	// (already released, escrow inactive, wrong phase).
	CodeConflict Code = "conflict"
	// CodeUnauthorized: the caller presented no usable identity.
	CodeUnauthorized Code = "unauthorized"
	// CodeForbidden: the caller is authenticated but not permitted to act
	// as the required identity or role.
	CodeForbidden Code = "forbidden"
	// CodeArithmetic: amount math would overflow or underflow. The whole
	// operation is aborted; counters are never wrapped.
	CodeArithmetic Code = "arithmetic"
	// CodePolicy: a policy predicate rejected the operation (mandatory
	// verification missing, emergency delay not elapsed, capacity exceeded).
	CodePolicy Code = "policy_violation"
	// CodeInvariantViolation: a model constructor or transition guard
	// rejected input that would break an aggregate invariant.
	CodeInvariantViolation Code = "invariant_violation"
	// CodeValidation: request-level validation failed.
	CodeValidation Code = "validation"
	// CodeBadRequest: the request could not be parsed at all.
	CodeBadRequest Code = "bad_request"
	// CodeInvalidInput: a single field failed boundary parsing.
	CodeInvalidInput Code = "invalid_input"
	// CodeInternal: unexpected infrastructure failure. Details are logged,
	// never returned to callers.
	CodeInternal Code = "internal_error"
)

// Error is a coded domain error. It optionally wraps a cause for logging;
// the cause never leaks into transport responses.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded domain error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause.
// Wrapping nil returns nil.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// Is is a convenience alias for HasCode, matching call sites that read
// better as a predicate.
func Is(err error, code Code) bool { return HasCode(err, code) }

// CodeOf returns the code carried by err, or CodeInternal when err carries
// none. Useful for metrics labels and transport mapping.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
