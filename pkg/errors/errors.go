package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeNetwork      ErrorType = "network"
	ErrorTypeRateLimit    ErrorType = "rate_limit"
	ErrorTypeServerError  ErrorType = "server_error"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeInvalidURL   ErrorType = "invalid_url"
	ErrorTypeRequest      ErrorType = "request"
	ErrorTypeAccess       ErrorType = "access"
	ErrorTypeCorruptState ErrorType = "corrupt_state"
	ErrorTypeUnknown      ErrorType = "unknown"
)

// Error carries the failure category alongside the HTTP code (when there
// was one) and an optional cause.
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	// RetryAfter is set for rate-limit errors when the server said how
	// long to back off.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an Error of the given type.
func New(t ErrorType, msg string) *Error {
	return &Error{Type: t, Message: msg}
}

// Wrap builds an Error of the given type around a cause.
func Wrap(t ErrorType, msg string, err error) *Error {
	return &Error{Type: t, Message: msg, Err: err}
}

// TypeOf returns the error's type, or ErrorTypeUnknown when err is not an
// *Error.
func TypeOf(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// IsTransient reports whether the error is worth retrying: network
// failures, rate limiting, and server-side errors.
func IsTransient(err error) bool {
	switch TypeOf(err) {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	}
	return false
}

// IsPermanent reports whether retrying can never help for this URL.
func IsPermanent(err error) bool {
	switch TypeOf(err) {
	case ErrorTypeNotFound, ErrorTypeInvalidURL, ErrorTypeRequest:
		return true
	}
	return false
}

// IsAccess reports whether the channel itself is unreachable: missing
// permissions, revoked membership, deleted channel.
func IsAccess(err error) bool {
	return TypeOf(err) == ErrorTypeAccess
}

// IsRateLimited reports whether the error chain contains a rate-limit
// response.
func IsRateLimited(err error) bool {
	var e *Error
	for ; err != nil; err = stderrors.Unwrap(err) {
		if stderrors.As(err, &e) && e.Type == ErrorTypeRateLimit {
			return true
		}
	}
	return false
}

// RetryAfter returns the server-requested backoff from the first
// rate-limit error in the chain, or zero.
func RetryAfter(err error) time.Duration {
	var e *Error
	for ; err != nil; err = stderrors.Unwrap(err) {
		if stderrors.As(err, &e) && e.Type == ErrorTypeRateLimit {
			return e.RetryAfter
		}
	}
	return 0
}

// FromStatus maps an HTTP status code to a typed error. Shared by the
// download client and the message source so both classify the same way.
func FromStatus(code int, msg string) *Error {
	e := &Error{Message: msg, Code: code}
	switch {
	case code == 429:
		e.Type = ErrorTypeRateLimit
	case code >= 500:
		e.Type = ErrorTypeServerError
	case code == 401 || code == 403:
		e.Type = ErrorTypeAccess
	case code == 404 || code == 410:
		e.Type = ErrorTypeNotFound
	case code >= 400:
		e.Type = ErrorTypeRequest
	default:
		e.Type = ErrorTypeUnknown
	}
	return e
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 429: // Too Many Requests
		return true
	case 500, 502, 503, 504: // Server errors
		return true
	case 401, 403, 404: // Client errors that won't change
		return false
	default:
		return statusCode >= 500 // Retry all 5xx errors
	}
}
