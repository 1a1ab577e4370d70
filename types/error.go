package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the generation core.
type ErrorCode string

const (
	// ErrValidation indicates a precondition was not met before dispatch
	// (missing prompt, missing file, no project selected, missing credential).
	// No job is created.
	ErrValidation ErrorCode = "VALIDATION"

	// ErrProvider indicates an adapter-level failure: bad HTTP status or a
	// malformed response body. Marks exactly the affected job failed.
	ErrProvider ErrorCode = "PROVIDER_ERROR"

	// ErrTransport indicates a network-level failure during polling or sync.
	ErrTransport ErrorCode = "TRANSPORT"

	// ErrConflict indicates divergent local and remote snapshots. Not a
	// failure: a required user decision.
	ErrConflict ErrorCode = "CONFLICT"

	// ErrNotFound indicates a missing entity (provider, project, job, record).
	ErrNotFound ErrorCode = "NOT_FOUND"

	// ErrImportMalformed indicates an export document that could not be
	// parsed. The workspace is left unmodified.
	ErrImportMalformed ErrorCode = "IMPORT_MALFORMED"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code of the failed upstream call.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsValidation reports whether err is a precondition violation.
func IsValidation(err error) bool { return GetErrorCode(err) == ErrValidation }

// IsConflict reports whether err is a sync conflict awaiting a resolution choice.
func IsConflict(err error) bool { return GetErrorCode(err) == ErrConflict }
