package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestExecutionError_Error(t *testing.T) {
	err := &ExecutionError{
		Category: ErrCategoryArgument,
		Code:     "test_error",
		Message:  "test message",
	}

	if got := err.Error(); got != "test message" {
		t.Errorf("Error() = %q, want %q", got, "test message")
	}
}

func TestExecutionError_ErrorWithCause(t *testing.T) {
	cause := errors.New("underlying error")
	err := &ExecutionError{
		Category: ErrCategoryArgument,
		Code:     "test_error",
		Message:  "test message",
		Cause:    cause,
	}

	got := err.Error()
	if !strings.Contains(got, "test message") {
		t.Errorf("Error() = %q, should contain 'test message'", got)
	}
	if !strings.Contains(got, "underlying error") {
		t.Errorf("Error() = %q, should contain 'underlying error'", got)
	}
}

func TestExecutionError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := &ExecutionError{
		Message: "wrapper",
		Cause:   cause,
	}

	if got := err.Unwrap(); got != cause {
		t.Errorf("Unwrap() = %v, want %v", got, cause)
	}
}

func TestExecutionError_WithCause(t *testing.T) {
	original := ErrInvalidQuery
	cause := errors.New("custom cause")

	newErr := original.WithCause(cause)

	if newErr.Cause != cause {
		t.Error("WithCause() did not set cause")
	}
	if newErr.Code != original.Code {
		t.Error("WithCause() changed code")
	}
	if original.Cause != nil {
		t.Error("WithCause() modified original error")
	}
}

func TestExecutionError_WithMessage(t *testing.T) {
	original := ErrTimeout
	newErr := original.WithMessage("custom timeout message")

	if newErr.Message != "custom timeout message" {
		t.Errorf("Message = %q, want 'custom timeout message'", newErr.Message)
	}
	if newErr.Code != original.Code {
		t.Error("WithMessage() changed code")
	}
	if original.Message == "custom timeout message" {
		t.Error("WithMessage() modified original error")
	}
}

func TestExecutionError_WithDetails(t *testing.T) {
	original := &ExecutionError{
		Code:    "test",
		Message: "test",
		Details: map[string]interface{}{"existing": "value"},
	}

	newErr := original.WithDetails(map[string]interface{}{
		"query": "marked:Login",
		"timeout":  5000,
	})

	if newErr.Details["query"] != "marked:Login" {
		t.Error("WithDetails() did not add new details")
	}
	if newErr.Details["existing"] != "value" {
		t.Error("WithDetails() did not preserve existing details")
	}
	if _, ok := original.Details["query"]; ok {
		t.Error("WithDetails() modified original error")
	}
}

func TestPredefinedErrors(t *testing.T) {
	tests := []struct {
		err      *ExecutionError
		category ErrorCategory
		code     string
	}{
		{ErrInvalidArgument, ErrCategoryArgument, "invalid_argument"},
		{ErrInvalidQuery, ErrCategoryArgument, "invalid_query"},
		{ErrNoMatch, ErrCategoryArgument, "no_match"},
		{ErrTransport, ErrCategoryTransport, "transport"},
		{ErrProtocol, ErrCategoryProtocol, "protocol"},
		{ErrTimeout, ErrCategoryTimeout, "timeout"},
		{ErrWaitTimeout, ErrCategoryTimeout, "wait_timeout"},
		{ErrServerUnreachable, ErrCategoryConnection, "server_unreachable"},
		{ErrLaunchFailed, ErrCategoryLaunch, "launch_failed"},
		{ErrStaleAgent, ErrCategoryLaunch, "stale_agent"},
		{ErrLaunchInProgress, ErrCategoryLaunch, "launch_in_progress"},
		{ErrAppNotInstalled, ErrCategoryApp, "app_not_installed"},
		{ErrAppLaunchFailed, ErrCategoryApp, "app_launch_failed"},
		{ErrInvalidConfig, ErrCategoryConfig, "invalid_config"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if tt.err.Category != tt.category {
				t.Errorf("Category = %s, want %s", tt.err.Category, tt.category)
			}
			if tt.err.Code != tt.code {
				t.Errorf("Code = %s, want %s", tt.err.Code, tt.code)
			}
			if tt.err.Message == "" {
				t.Error("Message should not be empty")
			}
		})
	}
}

func TestExecutionError_ErrorsIs(t *testing.T) {
	cause := errors.New("root cause")
	err := ErrTimeout.WithCause(cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is() should find the cause")
	}
}

func TestExecutionError_IsMatchesCode(t *testing.T) {
	err := fmt.Errorf("query: %w", ErrWaitTimeout.WithMessage("waited for keyboard"))

	if !errors.Is(err, ErrWaitTimeout) {
		t.Error("errors.Is() should match derived error by code")
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("errors.Is() should not match a different code")
	}
}

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ErrCategoryNone},
		{"plain", errors.New("boom"), ErrCategoryNone},
		{"direct", ErrProtocol, ErrCategoryProtocol},
		{"wrapped", fmt.Errorf("launch: %w", ErrLaunchFailed.WithCause(errors.New("x"))), ErrCategoryLaunch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CategoryOf(tt.err); got != tt.want {
				t.Errorf("CategoryOf() = %s, want %s", got, tt.want)
			}
		})
	}

	if IsCategory(nil, ErrCategoryNone) {
		t.Error("IsCategory(nil) should be false")
	}
	if !IsCategory(ErrTransport, ErrCategoryTransport) {
		t.Error("IsCategory(ErrTransport, transport) should be true")
	}
}
