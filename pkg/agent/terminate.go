package agent

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/devicelab-dev/device-agent/pkg/core"
	"github.com/devicelab-dev/device-agent/pkg/logger"
	"github.com/devicelab-dev/device-agent/pkg/wait"
)

// DefaultGrace is how long a process gets to exit after SIGTERM.
const DefaultGrace = 3 * time.Second

// TerminateProcess stops pid, first with SIGTERM and then, if it is still
// alive after grace, with SIGKILL.
func TerminateProcess(ctx context.Context, shell Shell, pid int, grace time.Duration) error {
	if pid <= 0 || !shell.Alive(pid) {
		return nil
	}
	if grace <= 0 {
		grace = DefaultGrace
	}

	logger.Debug("Sending SIGTERM to pid %d", pid)
	if err := shell.Signal(pid, syscall.SIGTERM); err != nil && shell.Alive(pid) {
		logger.Debug("SIGTERM pid %d: %v", pid, err)
	}

	err := wait.Until(ctx, wait.Spec{
		Timeout:  grace,
		Interval: 100 * time.Millisecond,
		Error:    core.ErrTimeout,
		Message:  fmt.Sprintf("pid %d ignored SIGTERM", pid),
	}, func(ctx context.Context) (bool, error) {
		return !shell.Alive(pid), nil
	})
	if err == nil {
		return nil
	}

	logger.Warn("%v, sending SIGKILL", err)
	if err := shell.Signal(pid, syscall.SIGKILL); err != nil && shell.Alive(pid) {
		return fmt.Errorf("kill pid %d: %w", pid, err)
	}
	return nil
}
