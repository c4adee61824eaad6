package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// Shell runs host tools. Tests replace it to avoid spawning processes.
type Shell interface {
	// Run executes a command to completion and returns its combined output.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
	// Start spawns a detached command writing to log and returns its pid.
	Start(name string, args []string, env []string, log *os.File) (int, error)
	// Signal delivers sig to pid.
	Signal(pid int, sig syscall.Signal) error
	// Alive reports whether pid still exists.
	Alive(pid int) bool
}

// ExecShell implements Shell with os/exec.
type ExecShell struct{}

func (ExecShell) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

func (ExecShell) Start(name string, args []string, env []string, log *os.File) (int, error) {
	cmd := exec.Command(name, args...)
	cmd.Stdout = log
	cmd.Stderr = log
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start %s: %w", name, err)
	}
	// The run is a long-lived listener; reap it whenever it exits.
	go cmd.Wait()
	return cmd.Process.Pid, nil
}

func (ExecShell) Signal(pid int, sig syscall.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Signal(sig)
}

func (ExecShell) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
