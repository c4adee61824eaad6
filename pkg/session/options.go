package session

import (
	"time"

	"github.com/devicelab-dev/device-agent/pkg/agent"
	"github.com/devicelab-dev/device-agent/pkg/core"
	"github.com/devicelab-dev/device-agent/pkg/retry"
	"github.com/devicelab-dev/device-agent/pkg/transport"
	"github.com/devicelab-dev/device-agent/pkg/wait"
)

// Fixed timings of the lifecycle.
const (
	// HealthWindowFactor scales the install timeout into the post-launch health window.
	HealthWindowFactor = 1.5
	// SessionRetries is how many times session creation is attempted.
	SessionRetries = 5
	// SessionRetryInterval separates session creation attempts.
	SessionRetryInterval = time.Second
	// ShutdownPollTimeout bounds waiting for the agent to stop answering.
	ShutdownPollTimeout = 10 * time.Second

	healthInterval = 500 * time.Millisecond
	logTailLines   = 20
)

// Options are the explicit per-session settings. Zero values are not
// defaults; start from DefaultOptions.
type Options struct {
	Policy     retry.Policy // Plain calls
	TextPolicy retry.Policy // Text entry
	PingPolicy retry.Policy // Health probes

	InstallTimeout       time.Duration
	ShutdownBeforeLaunch bool

	LaunchArgs         []string
	Env                map[string]string
	TerminateIfRunning bool

	WaitTimeout  time.Duration
	WaitInterval time.Duration

	Port                int
	CodesignIdentity    string
	ProvisioningProfile string
	TeamID              string
	AgentEnv            map[string]string
}

// DefaultOptions returns the standard timings.
func DefaultOptions() Options {
	return Options{
		Policy:             transport.DefaultPolicy,
		TextPolicy:         transport.DefaultPolicy.Override(retry.Policy{Timeout: 30 * time.Second}),
		PingPolicy:         retry.Policy{Retries: 1, Timeout: 2 * time.Second},
		InstallTimeout:     agent.DefaultInstallTimeout,
		TerminateIfRunning: true,
		WaitTimeout:        wait.DefaultTimeout,
		WaitInterval:       wait.DefaultInterval,
	}
}

// Validate checks every policy and timeout.
func (o Options) Validate() error {
	for name, p := range map[string]retry.Policy{"policy": o.Policy, "text policy": o.TextPolicy, "ping policy": o.PingPolicy} {
		if err := p.Validate(); err != nil {
			return core.ErrInvalidConfig.WithMessagef("%s: %v", name, err)
		}
	}
	if o.InstallTimeout <= 0 {
		return core.ErrInvalidConfig.WithMessagef("install timeout must be > 0, got %v", o.InstallTimeout)
	}
	if o.WaitTimeout <= 0 {
		return core.ErrInvalidConfig.WithMessagef("wait timeout must be > 0, got %v", o.WaitTimeout)
	}
	if o.WaitInterval < 0 {
		return core.ErrInvalidConfig.WithMessagef("wait interval must be >= 0, got %v", o.WaitInterval)
	}
	return nil
}

// HealthWindow is how long a fresh launch gets to answer health checks.
func (o Options) HealthWindow() time.Duration {
	return time.Duration(float64(o.InstallTimeout) * HealthWindowFactor)
}

func (o Options) launchOptions(device core.Device, quiesce ...string) agent.LaunchOptions {
	return agent.LaunchOptions{
		Device:              device,
		InstallTimeout:      o.InstallTimeout,
		CodesignIdentity:    o.CodesignIdentity,
		ProvisioningProfile: o.ProvisioningProfile,
		TeamID:              o.TeamID,
		Port:                o.Port,
		Env:                 o.AgentEnv,
		Quiesce:             quiesce,
	}
}

// Handle describes a launched session.
type Handle struct {
	BundleID    string
	Device      core.Device
	Launcher    agent.Strategy
	LauncherPID int
	Options     Options
}
