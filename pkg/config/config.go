// Package config handles configuration for the device agent controller.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/device-agent/pkg/address"
	"github.com/devicelab-dev/device-agent/pkg/agent"
	"github.com/devicelab-dev/device-agent/pkg/core"
	"github.com/devicelab-dev/device-agent/pkg/retry"
	"github.com/devicelab-dev/device-agent/pkg/session"
	"github.com/devicelab-dev/device-agent/pkg/transport"
	"github.com/devicelab-dev/device-agent/pkg/wait"
)

// Environment variables read by ApplyEnv.
const (
	EnvURL            = "DEVICE_AGENT_URL"
	EnvPath           = "DEVICE_AGENT_PATH"
	EnvInstallTimeout = "DEVICE_AGENT_INSTALL_TIMEOUT"
	EnvHTTPTimeout    = "DEVICE_AGENT_HTTP_TIMEOUT"
	EnvHome           = "DEVICE_AGENT_HOME"
	EnvCI             = "CI"
)

// ciInstallTimeout is used instead of the default on CI machines.
const ciInstallTimeout = 240 * time.Second

// Config represents the workspace configuration (config.yaml).
type Config struct {
	// Target
	Device     string            `yaml:"device"`     // Simulator name/UDID or physical UDID
	DeviceName string            `yaml:"deviceName"` // Physical device name, used for the Bonjour hostname
	BundleID   string            `yaml:"bundleId"`   // App under test
	LaunchArgs []string          `yaml:"launchArgs"` // Passed to the app on launch
	Env        map[string]string `yaml:"env"`        // App environment

	Agent AgentConfig `yaml:"agent"`
	HTTP  HTTPConfig  `yaml:"http"`
	Wait  WaitConfig  `yaml:"wait"`

	// Home is the controller's working directory (bundle cache, logs).
	Home string `yaml:"home"`
}

// AgentConfig controls where the agent lives and how it is launched.
type AgentConfig struct {
	URL                  string            `yaml:"url"`
	CompanionURL         string            `yaml:"companionUrl"`
	Port                 int               `yaml:"port"`
	Path                 string            `yaml:"path"`    // Explicit .app
	Archive              string            `yaml:"archive"` // Zip with the default bundle
	Strategy             string            `yaml:"strategy"`
	DeviceManager        string            `yaml:"deviceManager"`
	InstallTimeout       time.Duration     `yaml:"installTimeout"`
	ShutdownBeforeLaunch bool              `yaml:"shutdownBeforeLaunch"`
	CodesignIdentity     string            `yaml:"codesignIdentity"`
	ProvisioningProfile  string            `yaml:"provisioningProfile"`
	TeamID               string            `yaml:"teamId"`
	LogDir               string            `yaml:"logDir"`
	Env                  map[string]string `yaml:"env"` // Agent process environment
}

// HTTPConfig is the default retry policy for agent calls.
type HTTPConfig struct {
	Retries  int           `yaml:"retries"`
	Timeout  time.Duration `yaml:"timeout"`
	Interval time.Duration `yaml:"interval"`
}

// WaitConfig holds the wait defaults.
type WaitConfig struct {
	Timeout  time.Duration `yaml:"timeout"`
	Interval time.Duration `yaml:"interval"`
}

// Defaults returns the built-in configuration. The install timeout doubles
// when the CI environment variable is set.
func Defaults() *Config {
	install := agent.DefaultInstallTimeout
	if os.Getenv(EnvCI) != "" {
		install = ciInstallTimeout
	}
	return &Config{
		Agent: AgentConfig{
			Port:           address.DefaultPort,
			Strategy:       string(agent.StrategyDeviceManager),
			DeviceManager:  "iOSDeviceManager",
			InstallTimeout: install,
		},
		HTTP: HTTPConfig{
			Retries:  transport.DefaultPolicy.Retries,
			Timeout:  transport.DefaultPolicy.Timeout,
			Interval: transport.DefaultPolicy.Interval,
		},
		Wait: WaitConfig{
			Timeout:  wait.DefaultTimeout,
			Interval: wait.DefaultInterval,
		},
	}
}

// Load loads configuration from a file on top of Defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, core.ErrInvalidConfig.WithMessagef("parse %s: %v", path, err).WithCause(err)
	}

	return cfg, nil
}

// LoadFromDir looks for config.yaml or config.yml in the directory.
func LoadFromDir(dir string) (*Config, error) {
	// Try config.yaml first
	configPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// Try config.yml
	configPath = filepath.Join(dir, "config.yml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// No config file found, use defaults
	return Defaults(), nil
}

// ApplyEnv overrides file values with the DEVICE_AGENT_* environment.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvURL); v != "" {
		c.Agent.URL = v
	}
	if v := getenv(EnvPath); v != "" {
		c.Agent.Path = v
	}
	if v := getenv(EnvHome); v != "" {
		c.Home = v
	}
	if v := getenv(EnvInstallTimeout); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return core.ErrInvalidConfig.WithMessagef("%s: %v", EnvInstallTimeout, err)
		}
		c.Agent.InstallTimeout = d
	}
	if v := getenv(EnvHTTPTimeout); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return core.ErrInvalidConfig.WithMessagef("%s: %v", EnvHTTPTimeout, err)
		}
		c.HTTP.Timeout = d
	}
	return nil
}

// parseDuration accepts Go durations ("90s") and bare seconds ("90").
func parseDuration(s string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

// Validate rejects unknown strategies and non-positive timeouts.
func (c *Config) Validate() error {
	if _, err := agent.ParseStrategy(c.Agent.Strategy); err != nil {
		return err
	}
	if c.Agent.InstallTimeout <= 0 {
		return core.ErrInvalidConfig.WithMessagef("agent.installTimeout must be > 0, got %v", c.Agent.InstallTimeout)
	}
	if c.Agent.Port < 0 || c.Agent.Port > 65535 {
		return core.ErrInvalidConfig.WithMessagef("agent.port out of range: %d", c.Agent.Port)
	}
	if err := c.Policy().Validate(); err != nil {
		return core.ErrInvalidConfig.WithMessagef("http: %v", err)
	}
	if c.Wait.Timeout <= 0 {
		return core.ErrInvalidConfig.WithMessagef("wait.timeout must be > 0, got %v", c.Wait.Timeout)
	}
	if c.Wait.Interval < 0 {
		return core.ErrInvalidConfig.WithMessagef("wait.interval must be >= 0, got %v", c.Wait.Interval)
	}
	return nil
}

// Policy returns the configured default retry policy.
func (c *Config) Policy() retry.Policy {
	return retry.Policy{
		Retries:  c.HTTP.Retries,
		Timeout:  c.HTTP.Timeout,
		Interval: c.HTTP.Interval,
	}
}

// Strategy returns the parsed launcher strategy.
func (c *Config) Strategy() (agent.Strategy, error) {
	return agent.ParseStrategy(c.Agent.Strategy)
}

// App returns the app under test.
func (c *Config) App() core.App {
	return core.App{BundleID: c.BundleID}
}

// Resolver returns the agent address resolver.
func (c *Config) Resolver() address.Resolver {
	return address.Resolver{
		Override:     c.Agent.URL,
		CompanionURL: c.Agent.CompanionURL,
		Port:         c.Agent.Port,
	}
}

// Bundle returns the on-disk agent locator. Without an explicit archive the
// default one is expected under <home>/agent.
func (c *Config) Bundle() *agent.Bundle {
	archive := c.Agent.Archive
	if archive == "" && c.Agent.Path == "" {
		archive = filepath.Join(c.Home, "agent", "DeviceAgent.zip")
	}
	return &agent.Bundle{
		Override: c.Agent.Path,
		Archive:  archive,
		Dir:      c.BundleDir(),
	}
}

// LogDir is where launcher logs are written.
func (c *Config) LogDir() string {
	if c.Agent.LogDir != "" {
		return c.Agent.LogDir
	}
	return filepath.Join(c.Home, "logs")
}

// SessionOptions converts the configuration into session options.
func (c *Config) SessionOptions() session.Options {
	opts := session.DefaultOptions()
	policy := c.Policy()

	opts.Policy = opts.Policy.Override(policy)
	opts.TextPolicy = opts.TextPolicy.Override(retry.Policy{Retries: policy.Retries, Interval: policy.Interval})
	opts.InstallTimeout = c.Agent.InstallTimeout
	opts.ShutdownBeforeLaunch = c.Agent.ShutdownBeforeLaunch
	opts.LaunchArgs = c.LaunchArgs
	opts.Env = c.Env
	opts.WaitTimeout = c.Wait.Timeout
	opts.WaitInterval = c.Wait.Interval
	opts.Port = c.Agent.Port
	opts.CodesignIdentity = c.Agent.CodesignIdentity
	opts.ProvisioningProfile = c.Agent.ProvisioningProfile
	opts.TeamID = c.Agent.TeamID
	opts.AgentEnv = c.Agent.Env
	return opts
}
