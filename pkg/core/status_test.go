package core

import "testing"

func TestSessionState_String(t *testing.T) {
	tests := []struct {
		state    SessionState
		expected string
	}{
		{StateUnknown, "unknown"},
		{StateLaunching, "launching"},
		{StateHealthChecking, "health_checking"},
		{StateReady, "ready"},
		{StateStale, "stale"},
		{StateRelaunching, "relaunching"},
		{StateShuttingDown, "shutting_down"},
		{StateStopped, "stopped"},
		{SessionState(99), "invalid"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("SessionState(%d).String() = %q, want %q", tt.state, got, tt.expected)
		}
	}
}

func TestSessionState_IsRunning(t *testing.T) {
	if !StateReady.IsRunning() {
		t.Error("StateReady.IsRunning() = false, want true")
	}
	for _, s := range []SessionState{StateUnknown, StateLaunching, StateHealthChecking, StateStale, StateStopped} {
		if s.IsRunning() {
			t.Errorf("SessionState(%s).IsRunning() = true, want false", s)
		}
	}
}

func TestErrorCategory_String(t *testing.T) {
	tests := []struct {
		category ErrorCategory
		expected string
	}{
		{ErrCategoryNone, "none"},
		{ErrCategoryArgument, "argument"},
		{ErrCategoryTransport, "transport"},
		{ErrCategoryProtocol, "protocol"},
		{ErrCategoryTimeout, "timeout"},
		{ErrCategoryLaunch, "launch"},
		{ErrCategoryConnection, "connection"},
		{ErrCategoryApp, "app"},
		{ErrCategoryConfig, "config"},
		{ErrorCategory(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.category.String(); got != tt.expected {
			t.Errorf("ErrorCategory(%d).String() = %q, want %q", tt.category, got, tt.expected)
		}
	}
}
