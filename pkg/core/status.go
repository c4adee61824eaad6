package core

// SessionState is a step in the device agent lifecycle.
type SessionState int

const (
	StateUnknown        SessionState = iota // Nothing probed yet
	StateLaunching                          // Launcher is starting the agent
	StateHealthChecking                     // Waiting for the agent to answer health checks
	StateReady                              // Agent is healthy and current
	StateStale                              // Running agent build differs from the on-disk bundle
	StateRelaunching                        // Stale agent was stopped and is being started again
	StateShuttingDown                       // Teardown in progress
	StateStopped                            // Agent is not running
)

// String returns the string representation of SessionState
func (s SessionState) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateLaunching:
		return "launching"
	case StateHealthChecking:
		return "health_checking"
	case StateReady:
		return "ready"
	case StateStale:
		return "stale"
	case StateRelaunching:
		return "relaunching"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "invalid"
	}
}

// IsRunning returns true if the agent is expected to answer requests in this state.
func (s SessionState) IsRunning() bool {
	return s == StateReady
}

// ErrorCategory classifies the type of error for better debugging and reporting
type ErrorCategory int

const (
	ErrCategoryNone       ErrorCategory = iota // No error
	ErrCategoryArgument                        // Malformed query, zero timeout, missing predicate
	ErrCategoryTransport                       // Transient network failures that exhausted their retries
	ErrCategoryProtocol                        // HTTP status >= 400 or an "error" key in the body
	ErrCategoryTimeout                         // Wait or retry budget exhausted
	ErrCategoryLaunch                          // Agent failed to install, start or become healthy
	ErrCategoryConnection                      // Agent unreachable
	ErrCategoryApp                             // App not installed or failed to launch
	ErrCategoryConfig                          // Invalid configuration
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryArgument:
		return "argument"
	case ErrCategoryTransport:
		return "transport"
	case ErrCategoryProtocol:
		return "protocol"
	case ErrCategoryTimeout:
		return "timeout"
	case ErrCategoryLaunch:
		return "launch"
	case ErrCategoryConnection:
		return "connection"
	case ErrCategoryApp:
		return "app"
	case ErrCategoryConfig:
		return "config"
	default:
		return "unknown"
	}
}
