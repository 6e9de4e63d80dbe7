package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes for categorizing errors
const (
	ErrConfig       = "CONFIG"
	ErrAuthConfig   = "AUTH_CONFIG"
	ErrConnection   = "CONNECTION"
	ErrExec         = "EXEC"
	ErrTunnelStart  = "TUNNEL_START"
	ErrTunnelStop   = "TUNNEL_STOP"
	ErrCredential   = "CREDENTIAL"
	ErrConnectivity = "CONNECTIVITY"
	ErrLoad         = "LOAD"
	ErrStore        = "STORE"
)

// Error represents a structured error with code, message, suggestion, and optional cause.
// Rendered as:
//
//	✗ <What failed>
//
//	  <Why it failed - technical details>
//
//	  <How to fix it - actionable steps>
type Error struct {
	Code       string
	Message    string
	Suggestion string
	Cause      error
}

// New creates a new structured error with the given code, message, and suggestion.
func New(code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
	}
}

// WrapWithCode wraps an existing error with a specific code, message, and suggestion.
func WrapWithCode(err error, code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
		Cause:      err,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("✗ %s\n", e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Cause.Error()))
	}

	if e.Suggestion != "" {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Suggestion))
	}

	return b.String()
}

// Unwrap returns the underlying cause for use with errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsCode checks if an error is a structured Error with the given code.
// Only the outermost structured error in the chain is considered, so a
// CONNECTIVITY error wrapping a CONNECTION failure reports CONNECTIVITY.
func IsCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var smErr *Error
	if errors.As(err, &smErr) {
		return smErr.Code == code
	}
	return false
}

// CodeOf returns the code of the outermost structured error, or "" if none.
func CodeOf(err error) string {
	var smErr *Error
	if errors.As(err, &smErr) {
		return smErr.Code
	}
	return ""
}

// StepError attributes a failure to the orchestration step that produced it.
// The cause is carried unchanged so callers can still match on its code.
type StepError struct {
	Step  string
	Cause error
}

// NewStepError wraps err with the name of the step that produced it.
func NewStepError(step string, err error) *StepError {
	return &StepError{Step: step, Cause: err}
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s step failed: %v", e.Step, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *StepError) Unwrap() error {
	return e.Cause
}

// StepOf reports the step name attached to err, if any.
func StepOf(err error) (string, bool) {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Step, true
	}
	return "", false
}
