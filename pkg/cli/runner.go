package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/device-agent/pkg/agent"
	"github.com/devicelab-dev/device-agent/pkg/config"
	"github.com/devicelab-dev/device-agent/pkg/core"
	"github.com/devicelab-dev/device-agent/pkg/logger"
	"github.com/devicelab-dev/device-agent/pkg/metrics"
	"github.com/devicelab-dev/device-agent/pkg/session"
	"github.com/devicelab-dev/device-agent/pkg/simulator"
)

// runner carries what commands need from the process.
type runner struct {
	shell  agent.Shell
	getenv func(string) string

	metricsServer *http.Server
	metricsAddr   string
}

func (r *runner) before(c *cli.Context) error {
	if path := c.String("log-file"); path != "" {
		if err := logger.Init(path); err != nil {
			return err
		}
	} else {
		logger.InitWriter(c.App.ErrWriter)
	}
	logger.SetVerbose(c.Bool("verbose"))

	if addr := c.String("metrics-addr"); addr != "" {
		if err := r.startMetrics(addr); err != nil {
			return err
		}
	}
	return nil
}

func (r *runner) after(c *cli.Context) error {
	r.stopMetrics()
	logger.Close()
	return nil
}

// startMetrics serves /metrics until stopMetrics is called.
func (r *runner) startMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return core.ErrInvalidConfig.WithMessagef("metrics address %s: %v", addr, err).WithCause(err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	r.metricsServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.metricsAddr = ln.Addr().String()

	go func() {
		if err := r.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server: %v", err)
		}
	}()
	logger.Info("Serving metrics on http://%s/metrics", r.metricsAddr)
	return nil
}

func (r *runner) stopMetrics() {
	if r.metricsServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.metricsServer.Shutdown(ctx); err != nil {
		logger.Warn("metrics server shutdown: %v", err)
	}
	r.metricsServer = nil
}

// loadConfig reads the config file, then the environment, then the flags.
func (r *runner) loadConfig(c *cli.Context) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadFromDir(".")
	}
	if err != nil {
		return nil, err
	}

	if err := cfg.ApplyEnv(r.getenv); err != nil {
		return nil, err
	}

	if c.IsSet("device") {
		cfg.Device = c.String("device")
	}
	if c.IsSet("device-name") {
		cfg.DeviceName = c.String("device-name")
	}
	if c.IsSet("bundle-id") {
		cfg.BundleID = c.String("bundle-id")
	}
	if c.IsSet("agent-url") {
		cfg.Agent.URL = c.String("agent-url")
	}
	if c.IsSet("port") {
		cfg.Agent.Port = c.Int("port")
	}
	if c.IsSet("strategy") {
		cfg.Agent.Strategy = c.String("strategy")
	}
	if c.IsSet("install-timeout") {
		cfg.Agent.InstallTimeout = c.Duration("install-timeout")
	}
	if c.IsSet("http-timeout") {
		cfg.HTTP.Timeout = c.Duration("http-timeout")
	}

	cfg.ResolveHome(r.getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveDevice maps the configured device onto a simulator when simctl
// knows it and onto a physical device otherwise.
func (r *runner) resolveDevice(ctx context.Context, cfg *config.Config) (core.Device, error) {
	simctl := simulator.New(r.shell.Run)

	if cfg.Device == "" {
		if cfg.Agent.URL != "" {
			return core.Device{Name: cfg.DeviceName}, nil
		}
		sims, err := simctl.ListSimulators(ctx)
		if err != nil {
			return core.Device{}, core.ErrInvalidArgument.
				WithMessage("no device given and simulators could not be listed; use --device").WithCause(err)
		}
		for _, sim := range sims {
			if sim.Booted() {
				logger.Info("Using booted simulator %s (%s)", sim.Name, sim.UDID)
				return sim.Device(), nil
			}
		}
		return core.Device{}, core.ErrInvalidArgument.WithMessage("no booted simulator found; use --device")
	}

	sim, err := simctl.Lookup(ctx, cfg.Device)
	if err == nil {
		return sim.Device(), nil
	}
	logger.Debug("%s is not a known simulator (%v), treating it as a physical device", cfg.Device, err)
	return core.Device{UDID: cfg.Device, Name: cfg.DeviceName}, nil
}

// openSession wires a session from config, environment and flags.
func (r *runner) openSession(c *cli.Context) (*session.Session, error) {
	cfg, err := r.loadConfig(c)
	if err != nil {
		return nil, err
	}
	device, err := r.resolveDevice(c.Context, cfg)
	if err != nil {
		return nil, err
	}
	strategy, err := cfg.Strategy()
	if err != nil {
		return nil, err
	}

	bundle := cfg.Bundle()
	launcher, err := agent.New(strategy, agent.Config{
		Shell:         r.shell,
		Bundle:        bundle,
		Simctl:        simulator.New(r.shell.Run),
		LogDir:        cfg.LogDir(),
		DeviceManager: cfg.Agent.DeviceManager,
	})
	if err != nil {
		return nil, err
	}

	return session.New(session.Config{
		Device:   device,
		App:      cfg.App(),
		Launcher: launcher,
		Bundle:   bundle,
		Resolver: cfg.Resolver(),
		Shell:    r.shell,
		Options:  cfg.SessionOptions(),
	})
}

// printJSON writes v as indented JSON to the app's writer.
func printJSON(c *cli.Context, v interface{}) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// sessionResult is the JSON view of a session.
type sessionResult struct {
	URL         string      `json:"url"`
	State       string      `json:"state"`
	Device      core.Device `json:"device"`
	BundleID    string      `json:"bundleId,omitempty"`
	Launcher    string      `json:"launcher,omitempty"`
	LauncherPID int         `json:"launcherPid,omitempty"`
}

func newSessionResult(s *session.Session) sessionResult {
	res := sessionResult{
		URL:    s.URL(),
		State:  s.State().String(),
		Device: s.Device(),
	}
	if h := s.Handle(); h != nil {
		res.BundleID = h.BundleID
		res.Launcher = string(h.Launcher)
		res.LauncherPID = h.LauncherPID
	}
	return res
}
