// Package agent installs and starts the on-device automation agent.
package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/devicelab-dev/device-agent/pkg/core"
	"github.com/devicelab-dev/device-agent/pkg/logger"
	"github.com/devicelab-dev/device-agent/pkg/metrics"
	"github.com/devicelab-dev/device-agent/pkg/simulator"
)

// Strategy names a launcher variant.
type Strategy string

// Launcher strategies.
const (
	StrategyDeviceManager Strategy = "device_manager"
	StrategyBuildAndRun   Strategy = "build_and_run"
)

// ParseStrategy accepts the config spellings of a strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "-", "_")) {
	case "", string(StrategyDeviceManager):
		return StrategyDeviceManager, nil
	case string(StrategyBuildAndRun):
		return StrategyBuildAndRun, nil
	}
	return "", core.ErrInvalidConfig.WithMessagef("unknown launcher strategy %q (want device_manager or build_and_run)", s)
}

// DefaultInstallTimeout bounds installing the agent on a physical device.
const DefaultInstallTimeout = 120 * time.Second

// LaunchOptions are the per-launch inputs.
type LaunchOptions struct {
	Device              core.Device
	InstallTimeout      time.Duration
	CodesignIdentity    string
	ProvisioningProfile string
	TeamID              string
	Port                int
	Env                 map[string]string // Passed to the agent process
	Quiesce             []string          // Bundle ids to stop on a simulator before install
}

// Launcher starts the agent on a device and returns the controlling pid.
// Launch returns as soon as the run is spawned; it does not wait for the
// agent to answer.
type Launcher interface {
	Name() Strategy
	Launch(ctx context.Context, opts LaunchOptions) (int, error)
	LogPath() string
}

// AppInspector is implemented by launchers that can tell whether an app is
// installed without a costly round trip.
type AppInspector interface {
	CanInspectApps(device core.Device) bool
	AppInstalled(ctx context.Context, device core.Device, bundleID string) (bool, error)
}

// Config wires a launcher to its collaborators.
type Config struct {
	Shell         Shell
	Bundle        *Bundle
	Simctl        *simulator.Simctl
	LogDir        string
	DeviceManager string // iOSDeviceManager binary
}

// New builds the launcher for strategy.
func New(strategy Strategy, cfg Config) (Launcher, error) {
	if cfg.Shell == nil {
		cfg.Shell = ExecShell{}
	}
	if cfg.Simctl == nil {
		cfg.Simctl = simulator.New(cfg.Shell.Run)
	}
	if cfg.Bundle == nil {
		return nil, core.ErrInvalidConfig.WithMessage("launcher requires an agent bundle")
	}
	if cfg.LogDir == "" {
		cfg.LogDir = os.TempDir()
	}

	b := base{
		strategy: strategy,
		shell:    cfg.Shell,
		bundle:   cfg.Bundle,
		simctl:   cfg.Simctl,
		logPath:  filepath.Join(cfg.LogDir, string(strategy)+".log"),
	}

	switch strategy {
	case StrategyDeviceManager:
		bin := cfg.DeviceManager
		if bin == "" {
			bin = "iOSDeviceManager"
		}
		return &DeviceManagerLauncher{base: b, binary: bin}, nil
	case StrategyBuildAndRun:
		return &BuildAndRunLauncher{base: b}, nil
	}
	return nil, core.ErrInvalidConfig.WithMessagef("unknown launcher strategy %q", strategy)
}

// base holds what every strategy shares.
type base struct {
	strategy Strategy
	shell    Shell
	bundle   *Bundle
	simctl   *simulator.Simctl
	logPath  string
}

func (b *base) Name() Strategy  { return b.strategy }
func (b *base) LogPath() string { return b.logPath }

// openLog takes the strategy lock and truncates the log file. The lock is
// released by the returned func once the run has been spawned.
func (b *base) openLog() (*os.File, func(), error) {
	if err := os.MkdirAll(filepath.Dir(b.logPath), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	lock := flock.New(b.logPath + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to lock %s: %w", lock.Path(), err)
	}
	if !locked {
		return nil, nil, core.ErrLaunchInProgress.WithMessagef("another %s launch holds %s", b.strategy, lock.Path())
	}

	logFile, err := os.Create(b.logPath)
	if err != nil {
		lock.Unlock()
		return nil, nil, fmt.Errorf("failed to create log file: %w", err)
	}
	return logFile, func() {
		logFile.Close()
		lock.Unlock()
	}, nil
}

func (b *base) quiesce(ctx context.Context, opts LaunchOptions, agentBundleID string) {
	if !opts.Device.Simulator {
		return
	}
	ids := append([]string{agentBundleID}, opts.Quiesce...)
	b.simctl.Quiesce(ctx, opts.Device.UDID, ids...)
}

func (b *base) record(err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.LaunchesTotal.WithLabelValues(string(b.strategy), outcome).Inc()
}

func (b *base) launchError(opts LaunchOptions, err error) error {
	return core.ErrLaunchFailed.
		WithMessagef("%s launch on %s failed (log: %s)", b.strategy, opts.Device, b.logPath).
		WithCause(err)
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func installTimeout(opts LaunchOptions) time.Duration {
	if opts.InstallTimeout > 0 {
		return opts.InstallTimeout
	}
	return DefaultInstallTimeout
}

// DeviceManagerLauncher installs and starts the agent with iOSDeviceManager.
type DeviceManagerLauncher struct {
	base
	binary string
}

// Launch installs the agent and spawns start_test.
func (l *DeviceManagerLauncher) Launch(ctx context.Context, opts LaunchOptions) (pid int, err error) {
	defer func() { l.record(err) }()

	appPath, err := l.bundle.AppPath()
	if err != nil {
		return 0, l.launchError(opts, err)
	}
	info, err := ReadInfo(appPath)
	if err != nil {
		return 0, l.launchError(opts, err)
	}
	l.quiesce(ctx, opts, info.BundleID)

	if err := l.install(ctx, opts, appPath); err != nil {
		return 0, l.launchError(opts, err)
	}

	logFile, release, err := l.openLog()
	if err != nil {
		return 0, err
	}
	defer release()

	args := []string{"start_test", "-d", opts.Device.UDID, "-k", "true"}
	pid, err = l.shell.Start(l.binary, args, envList(opts.Env), logFile)
	if err != nil {
		return 0, l.launchError(opts, err)
	}
	logger.Info("Started %s (pid %d), log: %s", l.strategy, pid, l.logPath)
	return pid, nil
}

func (l *DeviceManagerLauncher) install(ctx context.Context, opts LaunchOptions, appPath string) error {
	args := []string{"install", "-d", opts.Device.UDID, "-a", appPath}
	if opts.Device.IsPhysical() {
		if opts.CodesignIdentity != "" {
			args = append(args, "-c", opts.CodesignIdentity)
		}
		if opts.ProvisioningProfile != "" {
			args = append(args, "-p", opts.ProvisioningProfile)
		}
	}

	timeout := installTimeout(opts)
	installCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.Info("Installing agent on %s (timeout %v)", opts.Device, timeout)
	output, err := l.shell.Run(installCtx, l.binary, args...)
	if installCtx.Err() == context.DeadlineExceeded {
		return core.ErrTimeout.WithMessagef("agent install did not finish within %v", timeout)
	}
	if err != nil {
		return fmt.Errorf("%s install: %s: %w", l.binary, strings.TrimSpace(string(output)), err)
	}
	return nil
}

// CanInspectApps is true for every device iOSDeviceManager can reach.
func (l *DeviceManagerLauncher) CanInspectApps(device core.Device) bool {
	return true
}

// AppInstalled asks iOSDeviceManager, or simctl for simulators.
func (l *DeviceManagerLauncher) AppInstalled(ctx context.Context, device core.Device, bundleID string) (bool, error) {
	if device.Simulator {
		return l.simctl.IsInstalled(ctx, device.UDID, bundleID)
	}
	output, err := l.shell.Run(ctx, l.binary, "is_installed", "-d", device.UDID, "-b", bundleID)
	if err != nil {
		return false, fmt.Errorf("%s is_installed: %s: %w", l.binary, strings.TrimSpace(string(output)), err)
	}
	return strings.Contains(strings.ToLower(string(output)), "true"), nil
}

// BuildAndRunLauncher runs the prebuilt agent with xcodebuild test-without-building.
type BuildAndRunLauncher struct {
	base
}

// Launch injects the agent environment into the xctestrun and spawns xcodebuild.
func (l *BuildAndRunLauncher) Launch(ctx context.Context, opts LaunchOptions) (pid int, err error) {
	defer func() { l.record(err) }()

	xctestrun, err := l.bundle.XCTestRunPath()
	if err != nil {
		return 0, l.launchError(opts, err)
	}
	info, err := l.bundle.Info()
	if err != nil {
		return 0, l.launchError(opts, err)
	}
	l.quiesce(ctx, opts, info.BundleID)

	env := make(map[string]string, len(opts.Env)+1)
	for k, v := range opts.Env {
		env[k] = v
	}
	if opts.Port > 0 {
		env["DEVICE_AGENT_PORT"] = fmt.Sprint(opts.Port)
	}
	if err := InjectEnv(xctestrun, env); err != nil {
		return 0, l.launchError(opts, err)
	}

	logFile, release, err := l.openLog()
	if err != nil {
		return 0, err
	}
	defer release()

	pid, err = l.shell.Start("xcrun", l.args(opts, xctestrun), nil, logFile)
	if err != nil {
		return 0, l.launchError(opts, err)
	}
	logger.Info("Started %s (pid %d), log: %s", l.strategy, pid, l.logPath)
	return pid, nil
}

func (l *BuildAndRunLauncher) args(opts LaunchOptions, xctestrun string) []string {
	args := []string{
		"xcodebuild", "test-without-building",
		"-xctestrun", xctestrun,
		"-destination", "id=" + opts.Device.UDID,
	}
	if opts.Device.IsPhysical() {
		args = append(args,
			"-destination-timeout", fmt.Sprint(int(installTimeout(opts).Seconds())),
			"-allowProvisioningUpdates",
		)
		if opts.TeamID != "" {
			args = append(args, "DEVELOPMENT_TEAM="+opts.TeamID)
		}
		if opts.CodesignIdentity != "" {
			args = append(args, "CODE_SIGN_IDENTITY="+opts.CodesignIdentity)
		}
		if opts.ProvisioningProfile != "" {
			args = append(args, "PROVISIONING_PROFILE_SPECIFIER="+opts.ProvisioningProfile)
		}
	}
	return args
}

// CanInspectApps is limited to simulators; asking a device is too slow.
func (l *BuildAndRunLauncher) CanInspectApps(device core.Device) bool {
	return device.Simulator
}

// AppInstalled checks a simulator with simctl.
func (l *BuildAndRunLauncher) AppInstalled(ctx context.Context, device core.Device, bundleID string) (bool, error) {
	if !device.Simulator {
		return false, core.ErrInvalidArgument.WithMessage("app inspection is only supported on simulators")
	}
	return l.simctl.IsInstalled(ctx, device.UDID, bundleID)
}
