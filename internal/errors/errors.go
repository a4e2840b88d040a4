package errors

import (
	stderrors "errors"
	"fmt"
)

// Error is the structured error type for Locus.
type Error struct {
	// Code is the catalog code (e.g. INDEX_CORRUPT).
	Code Code

	// Message is the user-facing message, action-oriented and jargon-free.
	Message string

	// Detail is the developer-facing cause description.
	Detail string

	// Suggestion is an actionable remediation for the user.
	Suggestion string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface with the developer view.
func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by code so errors.Is works across instances.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Kind returns the handling kind for this error.
func (e *Error) Kind() Kind {
	return kindOf(e.Code)
}

// WithDetail sets the developer-facing detail. Returns the error for chaining.
func (e *Error) WithDetail(format string, args ...any) *Error {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

// WithSuggestion overrides the stock remediation. Returns the error for chaining.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// New creates an Error with the given code and user message.
func New(code Code, message string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: defaultSuggestion(code),
	}
}

// Wrap creates an Error from an existing error, keeping it as the cause.
// Returns nil when err is nil. Wrapping an *Error again preserves it.
func Wrap(code Code, message string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:       code,
		Message:    message,
		Detail:     err.Error(),
		Suggestion: defaultSuggestion(code),
		Cause:      err,
	}
}

// CodeOf extracts the code from an error chain.
// Returns empty string if no *Error is present.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	return stderrors.Is(err, &Error{Code: code})
}

// UserMessage returns the user-facing message and suggestion for an error.
// Non-structured errors get a generic message and an empty suggestion.
func UserMessage(err error) (message, suggestion string) {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Message, e.Suggestion
	}
	return "The operation failed unexpectedly.", ""
}
