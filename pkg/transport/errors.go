package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/devicelab-dev/device-agent/pkg/core"
)

// ProtocolError is a logical failure reported by the agent: an HTTP status
// >= 400 or a body carrying an "error" key.
type ProtocolError struct {
	Method     string
	Path       string
	StatusCode int
	Body       map[string]interface{}
	Raw        string
}

func (e *ProtocolError) Error() string {
	msg := e.Raw
	if e.Body != nil {
		if v, ok := e.Body["error"]; ok {
			msg = fmt.Sprint(v)
		}
	}
	if len(msg) > 300 {
		msg = msg[:300] + "..."
	}
	return fmt.Sprintf("%s %s returned %d: %s", e.Method, e.Path, e.StatusCode, msg)
}

// Unwrap lets errors.Is(err, core.ErrProtocol) and core.CategoryOf work.
func (e *ProtocolError) Unwrap() error {
	return core.ErrProtocol
}

// TransportError is raised once transient failures have used every attempt.
type TransportError struct {
	Method   string
	Path     string
	BaseURL  string
	Attempts int
	Hint     string
	Cause    error
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("%s %s%s failed after %d attempt(s): %v", e.Method, e.BaseURL, e.Path, e.Attempts, e.Cause)
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

func (e *TransportError) Unwrap() []error {
	return []error{core.ErrTransport, e.Cause}
}

// transientPatterns catches wrapped errors that lost their syscall type.
var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"no route to host",
	"network is unreachable",
	"host is down",
	"no such host",
	"broken pipe",
	"server closed idle connection",
	"eof",
}

// IsTransient reports whether err is worth another attempt: connection
// refused, reset or unreachable peers, name resolution failures, dropped
// keep-alive connections and per-call timeouts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		return false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	for _, errno := range []syscall.Errno{
		syscall.ECONNREFUSED,
		syscall.ECONNRESET,
		syscall.ECONNABORTED,
		syscall.EHOSTUNREACH,
		syscall.ENETUNREACH,
		syscall.EPIPE,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// Hint returns a diagnostic for well-known transient failures.
func Hint(err error) string {
	if err == nil {
		return ""
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "is the server on the same network?"
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return "the server probably crashed"
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return "is the device agent running?"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no such host"):
		return "is the server on the same network?"
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "eof"):
		return "the server probably crashed"
	}
	return ""
}
