// Package apperr defines the pipeline's error taxonomy. Every user-visible
// failure carries a stable machine-readable code next to the human-readable
// message; the worker uses the class to decide between retry and terminal
// failure.
package apperr

import (
	"errors"
	"fmt"
)

// Code is a stable error code surfaced to API clients.
type Code string

const (
	CodeValidation        Code = "VALIDATION_FAILED"
	CodeQuotaExceeded     Code = "QUOTA_EXCEEDED"
	CodeDuplicateContent  Code = "DUPLICATE_CONTENT"
	CodeUnsupportedFormat Code = "UNSUPPORTED_FORMAT"
	CodeMalwareDetected   Code = "MALWARE_DETECTED"
	CodeTransientIO       Code = "TRANSIENT_IO"
	CodeFatalParse        Code = "FATAL_PARSE"
	CodeNotFound          Code = "NOT_FOUND"
	CodeConflict          Code = "CONFLICT"
)

// Error is a coded application error. Wrapped causes stay reachable through
// errors.Is / errors.As.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches two coded errors by code alone, so sentinel-style comparisons
// like errors.Is(err, apperr.QuotaExceeded("")) work regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Validation reports rejected input (bad type, size, range). Never retried;
// raised before any side effect.
func Validation(format string, args ...any) *Error {
	return New(CodeValidation, format, args...)
}

// QuotaExceeded reports a tenant over its storage quota. No reservation has
// been applied when this is returned.
func QuotaExceeded(format string, args ...any) *Error {
	return New(CodeQuotaExceeded, format, args...)
}

// DuplicateContent reports an upload whose bytes already exist for the tenant.
func DuplicateContent(format string, args ...any) *Error {
	return New(CodeDuplicateContent, format, args...)
}

// UnsupportedFormat reports a MIME type no registered parser handles. The
// message lists the supported formats.
func UnsupportedFormat(format string, args ...any) *Error {
	return New(CodeUnsupportedFormat, format, args...)
}

// MalwareDetected reports a positive scanner verdict.
func MalwareDetected(format string, args ...any) *Error {
	return New(CodeMalwareDetected, format, args...)
}

// TransientIO wraps a recoverable failure from the content store, a parser
// or the scanner. The job state machine retries these with backoff.
func TransientIO(cause error, format string, args ...any) *Error {
	return Wrap(CodeTransientIO, cause, format, args...)
}

// FatalParse wraps corrupt or unparseable content. Terminal regardless of
// remaining retry budget.
func FatalParse(cause error, format string, args ...any) *Error {
	return Wrap(CodeFatalParse, cause, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, format, args...)
}

// CodeOf returns the code of err, or empty if err carries no code.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsTransient reports whether err should go through the retry cycle rather
// than fail the job outright.
func IsTransient(err error) bool {
	return CodeOf(err) == CodeTransientIO
}
