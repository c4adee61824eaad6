package core

import (
	"errors"
	"fmt"
)

// ExecutionError represents a structured error with category and details
type ExecutionError struct {
	Category ErrorCategory
	Code     string                 // Machine-readable code: timeout, invalid_query, etc.
	Message  string                 // Human-readable message
	Details  map[string]interface{} // Additional context
	Cause    error                  // Underlying error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an ExecutionError with the same code.
// This lets callers write errors.Is(err, core.ErrTimeout) against derived copies.
func (e *ExecutionError) Is(target error) bool {
	t, ok := target.(*ExecutionError)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// WithCause returns a copy of the error with the given cause
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  e.Details,
		Cause:    cause,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  msg,
		Details:  e.Details,
		Cause:    e.Cause,
	}
}

// WithMessagef is WithMessage with formatting.
func (e *ExecutionError) WithMessagef(format string, args ...interface{}) *ExecutionError {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// WithDetails returns a copy of the error with additional details
func (e *ExecutionError) WithDetails(details map[string]interface{}) *ExecutionError {
	merged := make(map[string]interface{})
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  merged,
		Cause:    e.Cause,
	}
}

// Predefined errors
var (
	// Argument errors
	ErrInvalidArgument = &ExecutionError{
		Category: ErrCategoryArgument,
		Code:     "invalid_argument",
		Message:  "invalid argument",
	}
	ErrInvalidQuery = &ExecutionError{
		Category: ErrCategoryArgument,
		Code:     "invalid_query",
		Message:  "invalid query",
	}
	ErrNoMatch = &ExecutionError{
		Category: ErrCategoryArgument,
		Code:     "no_match",
		Message:  "no element matches query",
	}

	// Transport errors
	ErrTransport = &ExecutionError{
		Category: ErrCategoryTransport,
		Code:     "transport",
		Message:  "could not reach the device agent",
	}

	// Protocol errors
	ErrProtocol = &ExecutionError{
		Category: ErrCategoryProtocol,
		Code:     "protocol",
		Message:  "device agent returned an error",
	}

	// Timeout errors
	ErrTimeout = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     "timeout",
		Message:  "operation timed out",
	}
	ErrWaitTimeout = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     "wait_timeout",
		Message:  "wait condition timed out",
	}

	// Connection errors
	ErrServerUnreachable = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     "server_unreachable",
		Message:  "could not connect to device agent",
	}

	// Launch errors
	ErrLaunchFailed = &ExecutionError{
		Category: ErrCategoryLaunch,
		Code:     "launch_failed",
		Message:  "device agent failed to launch",
	}
	ErrStaleAgent = &ExecutionError{
		Category: ErrCategoryLaunch,
		Code:     "stale_agent",
		Message:  "running device agent does not match the installed bundle",
	}
	ErrLaunchInProgress = &ExecutionError{
		Category: ErrCategoryLaunch,
		Code:     "launch_in_progress",
		Message:  "another launch is using this launcher",
	}

	// App errors
	ErrAppNotInstalled = &ExecutionError{
		Category: ErrCategoryApp,
		Code:     "app_not_installed",
		Message:  "application is not installed",
	}
	ErrAppLaunchFailed = &ExecutionError{
		Category: ErrCategoryApp,
		Code:     "app_launch_failed",
		Message:  "application failed to launch",
	}

	// Config errors
	ErrInvalidConfig = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_config",
		Message:  "invalid configuration",
	}
)

// CategoryOf returns the category of the first ExecutionError in err's chain.
func CategoryOf(err error) ErrorCategory {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Category
	}
	return ErrCategoryNone
}

// IsCategory reports whether err carries an ExecutionError of the given category.
func IsCategory(err error, category ErrorCategory) bool {
	return err != nil && CategoryOf(err) == category
}
