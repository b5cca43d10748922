package domain

import (
	"errors"
	"fmt"
	"time"
)

// Domain errors represent error conditions in the opstream domain.
// These errors are returned by the public API and can be checked with errors.Is.
var (
	// ErrClosed is returned by operations on a closed delta manager.
	ErrClosed = errors.New("opstream: delta manager closed")

	// ErrReadonly is returned by Submit while the document is read-only.
	ErrReadonly = errors.New("opstream: document is read-only")

	// ErrNotConnected is returned when an operation needs a live connection.
	ErrNotConnected = errors.New("opstream: not connected")

	// ErrHandlerAttached is returned when AttachHandler is called twice.
	ErrHandlerAttached = errors.New("opstream: handler already attached")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("opstream: invalid configuration")
)

// ErrorType classifies an Error.
type ErrorType string

const (
	ErrorTypeGeneric    ErrorType = "genericError"
	ErrorTypeNetwork    ErrorType = "networkError"
	ErrorTypeThrottling ErrorType = "throttlingError"
	ErrorTypeWrite      ErrorType = "writeError"
	ErrorTypeFatal      ErrorType = "fatalError"
	ErrorTypeSequencing ErrorType = "sequencingError"
)

// Error is a classified failure.
// The zero value of CanRetry is false; use the constructors.
type Error struct {
	Type       ErrorType
	Message    string
	CanRetry   bool
	RetryAfter time.Duration
	StatusCode int
	Critical   bool
	Err        error
}

// Error implements error.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Type, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s", e.Type, msg)
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the operation that failed may be retried.
func (e *Error) Retryable() bool { return e.CanRetry }

// RetryDelay is the server-suggested delay, or zero.
func (e *Error) RetryDelay() time.Duration { return e.RetryAfter }

// NewNetworkError creates a network error.
func NewNetworkError(message string, canRetry bool, statusCode int, retryAfter time.Duration) *Error {
	return &Error{
		Type:       ErrorTypeNetwork,
		Message:    message,
		CanRetry:   canRetry,
		StatusCode: statusCode,
		RetryAfter: retryAfter,
	}
}

// NewThrottlingError creates a retryable throttling error.
func NewThrottlingError(message string, retryAfter time.Duration) *Error {
	return &Error{
		Type:       ErrorTypeThrottling,
		Message:    message,
		CanRetry:   true,
		RetryAfter: retryAfter,
	}
}

// NewWriteError creates a non-retryable error for writes the service refused.
func NewWriteError(message string) *Error {
	return &Error{Type: ErrorTypeWrite, Message: message}
}

// NewFatalError creates a non-retryable error.
func NewFatalError(message string) *Error {
	return &Error{Type: ErrorTypeFatal, Message: message}
}

// NewSequencingError creates a non-retryable protocol invariant violation.
func NewSequencingError(format string, args ...interface{}) *Error {
	return &Error{Type: ErrorTypeSequencing, Message: fmt.Sprintf(format, args...)}
}

// NewStatusError classifies a failure the service reported with an HTTP
// style status code. Zero means no response was received.
func NewStatusError(message string, statusCode int, retryAfter time.Duration) *Error {
	switch {
	case statusCode == 429:
		e := NewThrottlingError(message, retryAfter)
		e.StatusCode = statusCode
		return e
	case statusCode == 401, statusCode == 403, statusCode == 404:
		return NewNetworkError(message, false, statusCode, 0)
	case statusCode == 0, statusCode == 408, statusCode >= 500:
		return NewNetworkError(message, true, statusCode, retryAfter)
	default:
		return NewNetworkError(message, false, statusCode, 0)
	}
}

// Wrap classifies err. Errors that are already classified are returned as is.
func Wrap(err error, canRetry bool) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Type: ErrorTypeGeneric, Err: err, CanRetry: canRetry}
}

type retryable interface {
	Retryable() bool
}

type retryDelayer interface {
	RetryDelay() time.Duration
}

// CanRetry reports whether err allows a retry.
// Errors that do not say otherwise are retryable.
func CanRetry(err error) bool {
	if err == nil {
		return true
	}
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}

// RetryDelay returns the server-suggested delay carried by err, if any.
func RetryDelay(err error) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}
	var r retryDelayer
	if errors.As(err, &r) {
		if d := r.RetryDelay(); d > 0 {
			return d, true
		}
	}
	return 0, false
}

// IsCritical reports whether err is a critical classified error.
func IsCritical(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Critical
}

// TypeOf returns the classification of err, or ErrorTypeGeneric.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeGeneric
}
