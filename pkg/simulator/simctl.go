package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/devicelab-dev/device-agent/pkg/core"
	"github.com/devicelab-dev/device-agent/pkg/logger"
	"github.com/devicelab-dev/device-agent/pkg/wait"
)

// RunFunc runs a command to completion and returns its combined output.
type RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRun runs commands with os/exec.
func ExecRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Simctl drives simulators through xcrun simctl.
type Simctl struct {
	run RunFunc
}

// New creates a Simctl. A nil run uses ExecRun.
func New(run RunFunc) *Simctl {
	if run == nil {
		run = ExecRun
	}
	return &Simctl{run: run}
}

// simctlDevicesOutput represents the JSON output from xcrun simctl list devices.
type simctlDevicesOutput struct {
	Devices map[string][]simctlDevice `json:"devices"`
}

type simctlDevice struct {
	Name        string `json:"name"`
	UDID        string `json:"udid"`
	State       string `json:"state"`
	IsAvailable bool   `json:"isAvailable"`
}

func (s *Simctl) simctl(ctx context.Context, args ...string) ([]byte, error) {
	return s.run(ctx, "xcrun", append([]string{"simctl"}, args...)...)
}

// ListSimulators returns all available simulators sorted by name then UDID.
func (s *Simctl) ListSimulators(ctx context.Context) ([]SimulatorDevice, error) {
	output, err := s.simctl(ctx, "list", "devices", "available", "-j")
	if err != nil {
		return nil, fmt.Errorf("failed to list simulators: %w", err)
	}

	var data simctlDevicesOutput
	if err := json.Unmarshal(output, &data); err != nil {
		return nil, fmt.Errorf("failed to parse simctl output: %w", err)
	}

	var sims []SimulatorDevice
	for runtime, devices := range data.Devices {
		osVersion := extractOSVersion(runtime)
		for _, dev := range devices {
			if !dev.IsAvailable {
				continue
			}
			sims = append(sims, SimulatorDevice{
				Name:        dev.Name,
				UDID:        dev.UDID,
				Runtime:     runtime,
				OSVersion:   osVersion,
				State:       dev.State,
				IsAvailable: dev.IsAvailable,
			})
		}
	}
	sort.Slice(sims, func(i, j int) bool {
		if sims[i].Name != sims[j].Name {
			return sims[i].Name < sims[j].Name
		}
		return sims[i].UDID < sims[j].UDID
	})

	logger.Debug("Found %d available simulators", len(sims))
	return sims, nil
}

// Lookup finds a simulator by UDID or case-insensitive name.
func (s *Simctl) Lookup(ctx context.Context, nameOrUDID string) (SimulatorDevice, error) {
	sims, err := s.ListSimulators(ctx)
	if err != nil {
		return SimulatorDevice{}, err
	}
	for _, sim := range sims {
		if sim.UDID == nameOrUDID || strings.EqualFold(sim.Name, nameOrUDID) {
			return sim, nil
		}
	}
	return SimulatorDevice{}, core.ErrInvalidArgument.WithMessagef("simulator not found: %s", nameOrUDID)
}

// EnsureBooted boots the simulator unless it already runs and waits for it.
func (s *Simctl) EnsureBooted(ctx context.Context, udid string, timeout time.Duration) error {
	output, err := s.simctl(ctx, "boot", udid)
	if err != nil {
		if !strings.Contains(string(output), "current state: Booted") {
			return fmt.Errorf("failed to boot simulator: %s", strings.TrimSpace(string(output)))
		}
		logger.Info("Simulator already booted: %s", udid)
		return nil
	}

	logger.Info("Waiting for simulator boot: %s", udid)
	spec := wait.Spec{
		Timeout:  timeout,
		Interval: time.Second,
		Error:    core.ErrTimeout,
		Message:  fmt.Sprintf("simulator %s did not boot", udid),
	}
	return wait.Until(ctx, spec, func(ctx context.Context) (bool, error) {
		sim, err := s.Lookup(ctx, udid)
		if err != nil {
			logger.Debug("Boot check error: %v", err)
			return false, nil
		}
		return sim.Booted(), nil
	})
}

// Quiesce terminates the given apps so an install does not race a running
// instance. Apps that are not running are ignored.
func (s *Simctl) Quiesce(ctx context.Context, udid string, bundleIDs ...string) {
	for _, id := range bundleIDs {
		if id == "" {
			continue
		}
		if output, err := s.simctl(ctx, "terminate", udid, id); err != nil {
			logger.Debug("simctl terminate %s: %s", id, strings.TrimSpace(string(output)))
		}
	}
}

// Install installs an .app bundle on the simulator.
func (s *Simctl) Install(ctx context.Context, udid, appPath string) error {
	if output, err := s.simctl(ctx, "install", udid, appPath); err != nil {
		return fmt.Errorf("simctl install %s: %s: %w", appPath, strings.TrimSpace(string(output)), err)
	}
	return nil
}

// IsInstalled reports whether bundleID is installed on the simulator.
func (s *Simctl) IsInstalled(ctx context.Context, udid, bundleID string) (bool, error) {
	output, err := s.simctl(ctx, "get_app_container", udid, bundleID)
	if err == nil {
		return true, nil
	}
	msg := string(output)
	if strings.Contains(msg, "No such file") || strings.Contains(msg, "not installed") {
		return false, nil
	}
	return false, fmt.Errorf("simctl get_app_container %s: %s: %w", bundleID, strings.TrimSpace(msg), err)
}

// Shutdown shuts the simulator down. An already stopped simulator is not an error.
func (s *Simctl) Shutdown(ctx context.Context, udid string) error {
	output, err := s.simctl(ctx, "shutdown", udid)
	if err != nil && !strings.Contains(string(output), "current state: Shutdown") {
		return fmt.Errorf("failed to shutdown simulator: %s", strings.TrimSpace(string(output)))
	}
	return nil
}

// extractOSVersion extracts version from runtime string.
// e.g., "com.apple.CoreSimulator.SimRuntime.iOS-17-2" -> "17.2"
func extractOSVersion(runtime string) string {
	for _, prefix := range []string{"iOS-", "watchOS-", "tvOS-", "xrOS-"} {
		if idx := strings.LastIndex(runtime, prefix); idx != -1 {
			return strings.ReplaceAll(runtime[idx+len(prefix):], "-", ".")
		}
	}
	return ""
}
