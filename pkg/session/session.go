// Package session drives one automation agent on one device: launch,
// health and staleness checks, queries, gestures, waits and shutdown.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/devicelab-dev/device-agent/pkg/address"
	"github.com/devicelab-dev/device-agent/pkg/agent"
	"github.com/devicelab-dev/device-agent/pkg/core"
	"github.com/devicelab-dev/device-agent/pkg/logger"
	"github.com/devicelab-dev/device-agent/pkg/query"
	"github.com/devicelab-dev/device-agent/pkg/retry"
	"github.com/devicelab-dev/device-agent/pkg/transport"
	"github.com/devicelab-dev/device-agent/pkg/wait"
)

// BuildSource reports the build identifier of the on-disk agent.
type BuildSource interface {
	BuildIdentifier() (string, error)
}

// Config wires a session to its collaborators.
type Config struct {
	Device   core.Device
	App      core.App
	Launcher agent.Launcher
	Bundle   BuildSource // Optional; without it staleness is not checked
	Resolver address.Resolver
	Shell    agent.Shell // Used to terminate the launcher process
	Options  Options
}

// Session is an automation session. Operations are sequential; a Session
// must not be used from several goroutines at once.
type Session struct {
	device   core.Device
	app      core.App
	launcher agent.Launcher
	bundle   BuildSource
	shell    agent.Shell
	url      string

	opts    Options
	client  *transport.Client
	queries *query.Engine

	state  core.SessionState
	handle *Handle
}

// New resolves the agent address and builds the transport stack.
func New(cfg Config) (*Session, error) {
	if cfg.Launcher == nil {
		return nil, core.ErrInvalidConfig.WithMessage("session requires a launcher")
	}
	if err := cfg.Options.Validate(); err != nil {
		return nil, err
	}
	url, err := cfg.Resolver.Resolve(cfg.Device)
	if err != nil {
		return nil, err
	}
	shell := cfg.Shell
	if shell == nil {
		shell = agent.ExecShell{}
	}

	s := &Session{
		device:   cfg.Device,
		app:      cfg.App,
		launcher: cfg.Launcher,
		bundle:   cfg.Bundle,
		shell:    shell,
		url:      url,
		state:    core.StateUnknown,
	}
	s.configure(cfg.Options)
	return s, nil
}

func (s *Session) configure(opts Options) {
	s.opts = opts
	s.client = transport.NewClient(transport.NewTransport(s.url), opts.Policy)
	s.queries = query.NewEngine(s.client, opts.Policy)
}

// URL returns the resolved agent base URL.
func (s *Session) URL() string { return s.url }

// Device returns the device the session drives.
func (s *Session) Device() core.Device { return s.device }

// State returns the lifecycle state.
func (s *Session) State() core.SessionState { return s.state }

// Options returns the current options.
func (s *Session) Options() Options { return s.opts }

// Handle returns a copy of the launch handle, or nil before launch.
func (s *Session) Handle() *Handle {
	if s.handle == nil {
		return nil
	}
	h := *s.handle
	return &h
}

// Reconfigure replaces the session options, e.g. to reconnect with other
// timeouts. The connection pool is rebuilt.
func (s *Session) Reconfigure(opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	s.configure(opts)
	if s.handle != nil {
		s.handle.Options = opts
	}
	logger.Debug("Session reconfigured: %s", opts.Policy)
	return nil
}

func (s *Session) setState(next core.SessionState) {
	if s.state == next {
		return
	}
	s.log().WithFields(logrus.Fields{"from": s.state.String(), "to": next.String()}).Debug("state change")
	s.state = next
}

func (s *Session) log() *logrus.Entry {
	return logger.WithFields(logrus.Fields{"device": s.device.UDID, "url": s.url})
}

// Running probes health once. Any failure means "not running".
func (s *Session) Running(ctx context.Context) (map[string]interface{}, bool) {
	body, err := s.client.Request(ctx, transport.Get(transport.RouteHealth), s.opts.PingPolicy)
	if err != nil {
		logger.Debug("health probe: %v", err)
		return nil, false
	}
	return body, true
}

// Version returns the agent's version payload.
func (s *Session) Version(ctx context.Context) (map[string]interface{}, error) {
	return s.client.Request(ctx, transport.Get(transport.RouteVersion), s.opts.PingPolicy)
}

// runningBuild extracts the build identifier from a version payload.
func runningBuild(body map[string]interface{}) string {
	for _, key := range []string{"bundle_version", "build", "version"} {
		if v, ok := body[key]; ok && v != nil {
			return fmt.Sprint(v)
		}
	}
	return ""
}

// checkBuild compares the running agent against the on-disk bundle and
// returns core.ErrStaleAgent when they differ. Anything that cannot be read
// counts as current.
func (s *Session) checkBuild(ctx context.Context) error {
	if s.bundle == nil {
		return nil
	}
	onDisk, err := s.bundle.BuildIdentifier()
	if err != nil {
		logger.Debug("cannot read on-disk agent build: %v", err)
		return nil
	}
	body, err := s.Version(ctx)
	if err != nil {
		logger.Debug("cannot read running agent version: %v", err)
		return nil
	}
	running := runningBuild(body)
	if running == "" || agent.SameBuild(running, onDisk) {
		return nil
	}
	return core.ErrStaleAgent.WithMessagef("running agent build %s does not match installed build %s", running, onDisk)
}

// Launch makes sure a healthy, current agent is running. It is a no-op
// when one already answers.
func (s *Session) Launch(ctx context.Context) error {
	if s.opts.ShutdownBeforeLaunch {
		s.Shutdown(ctx)
	}

	if _, ok := s.Running(ctx); ok {
		err := s.checkBuild(ctx)
		if err == nil {
			if s.handle == nil {
				s.handle = s.newHandle(0)
			}
			s.setState(core.StateReady)
			return nil
		}
		s.log().Infof("%v, relaunching", err)
		s.setState(core.StateStale)
		s.Shutdown(ctx)
		s.setState(core.StateRelaunching)
	}

	s.setState(core.StateLaunching)
	pid, err := s.launcher.Launch(ctx, s.opts.launchOptions(s.device, s.app.BundleID))
	if err != nil {
		s.setState(core.StateStopped)
		return err
	}
	s.handle = s.newHandle(pid)

	s.setState(core.StateHealthChecking)
	window := s.opts.HealthWindow()
	_, err = wait.For(ctx, wait.Spec{
		Timeout:  window,
		Interval: healthInterval,
		Error:    core.ErrServerUnreachable,
	}, func(ctx context.Context) (map[string]interface{}, bool, error) {
		body, ok := s.Running(ctx)
		return body, ok, nil
	})
	if err != nil {
		if errors.Is(err, core.ErrServerUnreachable) {
			err = s.unreachable(window)
		}
		s.log().Errorf("%v", err)
		s.setState(core.StateStopped)
		return err
	}

	s.setState(core.StateReady)
	s.log().Infof("Device agent ready (strategy %s, pid %d)", s.launcher.Name(), pid)
	return nil
}

// unreachable describes an agent that never answered, using whatever the
// launcher wrote to its log by now.
func (s *Session) unreachable(window time.Duration) error {
	logPath := s.launcher.LogPath()
	msg := fmt.Sprintf("device agent on %s did not answer at %s within %v", s.device, s.url, window)
	if logPath == "" {
		return core.ErrServerUnreachable.WithMessage(msg)
	}
	msg += "; check the launcher log at " + logPath
	if hint := agent.Diagnose(logPath); hint != "" {
		msg += " (" + hint + ")"
	}
	return core.ErrServerUnreachable.WithMessagef("%s\n%s", msg, agent.TailLog(logPath, logTailLines))
}

func (s *Session) newHandle(pid int) *Handle {
	return &Handle{
		BundleID:    s.app.BundleID,
		Device:      s.device,
		Launcher:    s.launcher.Name(),
		LauncherPID: pid,
		Options:     s.opts,
	}
}

// Shutdown stops the agent and the launcher process. It never fails:
// problems are logged so Shutdown is safe as unconditional cleanup.
func (s *Session) Shutdown(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log().Errorf("shutdown panicked: %v", r)
		}
		s.killLauncher(ctx)
		s.setState(core.StateStopped)
	}()

	if _, ok := s.Running(ctx); !ok {
		s.log().Debug("Device agent not running, nothing to shut down")
		return
	}

	s.setState(core.StateShuttingDown)
	if _, err := s.client.Request(ctx, transport.Delete(transport.RouteSession), s.opts.Policy); err != nil {
		s.log().Warnf("delete session: %v", err)
	}
	if _, err := s.client.Request(ctx, transport.Post(transport.RouteShutdown, map[string]interface{}{}), s.opts.Policy); err != nil {
		s.log().Warnf("shutdown request: %v", err)
	}

	err := wait.Until(ctx, wait.Spec{
		Timeout:  ShutdownPollTimeout,
		Interval: healthInterval,
		Message:  "device agent still answers after shutdown",
	}, func(ctx context.Context) (bool, error) {
		_, ok := s.Running(ctx)
		return !ok, nil
	})
	if err != nil {
		s.log().Warnf("%v", err)
		return
	}
	s.log().Info("Device agent stopped")
}

func (s *Session) killLauncher(ctx context.Context) {
	if s.handle == nil || s.handle.LauncherPID <= 0 {
		return
	}
	pid := s.handle.LauncherPID
	if err := agent.TerminateProcess(ctx, s.shell, pid, agent.DefaultGrace); err != nil {
		s.log().Warnf("terminate launcher pid %d: %v", pid, err)
	}
	s.handle.LauncherPID = 0
}

// request is a plain call with the session policy.
func (s *Session) request(ctx context.Context, req transport.Request) (map[string]interface{}, error) {
	return s.client.Request(ctx, req, retry.Policy{})
}
