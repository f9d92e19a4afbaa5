// Package domainerrors defines the closed error taxonomy returned by services.
//
// Every service error carries exactly one Code. Transport layers switch over
// the code (see httputil.StatusFor) instead of matching message strings, so a
// new code fails loudly at the mapping site rather than falling through as a 500.
package domainerrors

import (
	"errors"
	"fmt"
	"time"
)

// Code classifies a domain error.
type Code string

const (
	CodeInternal           Code = "internal_error"
	CodeBadRequest         Code = "bad_request"
	CodeInvalidInput       Code = "invalid_input"
	CodeValidation         Code = "validation_error"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeInvalidState       Code = "invalid_state"
	CodeRateLimited        Code = "rate_limited"
	CodeTimeout            Code = "timeout"
	CodeInvariantViolation Code = "invariant_violation"
)

// Codes lists every code. Used by tests to prove the transport mapping is exhaustive.
var Codes = []Code{
	CodeInternal,
	CodeBadRequest,
	CodeInvalidInput,
	CodeValidation,
	CodeUnauthorized,
	CodeForbidden,
	CodeNotFound,
	CodeConflict,
	CodeInvalidState,
	CodeRateLimited,
	CodeTimeout,
	CodeInvariantViolation,
}

// Error is a coded domain error. RetryAfter is only meaningful for CodeRateLimited.
type Error struct {
	Code       Code
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a coded error.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// RateLimited builds a CodeRateLimited error carrying the remaining lock duration.
func RateLimited(msg string, retryAfter time.Duration) *Error {
	if retryAfter < 0 {
		retryAfter = 0
	}
	return &Error{Code: CodeRateLimited, Message: msg, RetryAfter: retryAfter}
}

// As returns the first *Error in the chain.
func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	de, ok := As(err)
	return ok && de.Code == code
}

// CodeOf returns the code of err, or CodeInternal for uncoded errors.
func CodeOf(err error) Code {
	if de, ok := As(err); ok {
		return de.Code
	}
	return CodeInternal
}

// RetryAfterOf returns the retry-after hint of a rate limited error.
func RetryAfterOf(err error) (time.Duration, bool) {
	de, ok := As(err)
	if !ok || de.Code != CodeRateLimited {
		return 0, false
	}
	return de.RetryAfter, true
}

// Is is errors.Is re-exported so callers need only one errors import.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
