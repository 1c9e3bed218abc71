package checks

import (
	"errors"
	"fmt"
)

// RuntimeError represents an operational error that should lead to exit code 2
// Examples include configuration errors, file not found, etc.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError creates a new RuntimeError
func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// SessionFailureError represents a failure inside a session's child
// processes (exit code 1)
type SessionFailureError struct {
	Message string
}

func (e *SessionFailureError) Error() string {
	return fmt.Sprintf("session failure: %s", e.Message)
}

// NewSessionFailureError creates a new SessionFailureError
func NewSessionFailureError(message string) *SessionFailureError {
	return &SessionFailureError{Message: message}
}

// IsSessionFailureError checks if the error is or wraps a SessionFailureError
func IsSessionFailureError(err error) bool {
	var sessionErr *SessionFailureError
	return err != nil && errors.As(err, &sessionErr)
}
