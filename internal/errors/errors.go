// Package errors defines the typed error taxonomy for the fetcher and the
// retry classification used by the fetch pool's requeue decision. Recoverable
// transport failures are retried; configuration and data-format problems are
// permanent.
package errors

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Code identifies a failure category. Codes are stable and appear in logs and
// user-facing error strings.
type Code int

const (
	// CodeConfiguration covers invalid or missing configuration.
	CodeConfiguration Code = 1001
	// CodeDataFormat covers rows that do not match the expected schema.
	CodeDataFormat Code = 1002
	// CodeTaskInit covers probe failures while planning a fetch task.
	CodeTaskInit Code = 1003
	// CodeFetchExhausted covers a page that failed more times than allowed.
	CodeFetchExhausted Code = 1004
	// CodeTooManyMissing covers datasets with more holes than the configured
	// maximum.
	CodeTooManyMissing Code = 1005
)

// Error is a coded error with an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[error code: %d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[error code: %d] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// New creates a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a coded error wrapping a cause.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// NewConfiguration reports an invalid or missing configuration value.
func NewConfiguration(format string, args ...any) *Error {
	return New(CodeConfiguration, fmt.Sprintf(format, args...))
}

// NewDataFormat reports a row that does not match the expected schema.
func NewDataFormat(format string, args ...any) *Error {
	return New(CodeDataFormat, fmt.Sprintf(format, args...))
}

// NewTaskInit reports a failure to plan a fetch task.
func NewTaskInit(format string, args ...any) *Error {
	return New(CodeTaskInit, fmt.Sprintf(format, args...))
}

// NewTooManyMissing reports a dataset with too many missing points.
func NewTooManyMissing(format string, args ...any) *Error {
	return New(CodeTooManyMissing, fmt.Sprintf(format, args...))
}

// IsRetryable reports whether an error represents a transient condition worth
// retrying: network failures, timeouts, rate limiting and server errors. Coded
// errors are never retryable; they describe final outcomes.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var coded *Error
	if errors.As(err, &coded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"rate limit",
		"too many requests",
		"timeout",
		"timed out",
		"connection refused",
		"connection reset",
		"temporary failure",
		"server error",
		"service unavailable",
		"bad gateway",
		"eof",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}

	return false
}
