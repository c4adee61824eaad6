package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devicelab-dev/device-agent/pkg/agent"
	"github.com/devicelab-dev/device-agent/pkg/core"
	"github.com/devicelab-dev/device-agent/pkg/logger"
	"github.com/devicelab-dev/device-agent/pkg/retry"
	"github.com/devicelab-dev/device-agent/pkg/transport"
)

// sessionRequest is the body of POST session.
type sessionRequest struct {
	BundleID           string            `json:"bundle_id"`
	LaunchArgs         []string          `json:"launchArgs"`
	Environment        map[string]string `json:"environment"`
	TerminateIfRunning bool              `json:"terminate_aut_if_running"`
}

type bundleRequest struct {
	BundleID string `json:"bundle_id"`
}

// LaunchApp starts the application under test. The agent is launched first
// if needed; session creation is retried and the agent relaunched if it
// died between attempts.
func (s *Session) LaunchApp(ctx context.Context) error {
	bundleID := s.app.BundleID
	if bundleID == "" {
		return core.ErrInvalidArgument.WithMessage("no application bundle id configured")
	}

	if s.state != core.StateReady {
		if err := s.Launch(ctx); err != nil {
			return err
		}
	}

	if err := s.checkInstalled(ctx, bundleID); err != nil {
		return err
	}

	body := sessionRequest{
		BundleID:           bundleID,
		LaunchArgs:         s.opts.LaunchArgs,
		Environment:        s.opts.Env,
		TerminateIfRunning: s.opts.TerminateIfRunning,
	}
	if body.LaunchArgs == nil {
		body.LaunchArgs = []string{}
	}
	if body.Environment == nil {
		body.Environment = map[string]string{}
	}

	policy := retry.Policy{
		Retries:  SessionRetries,
		Timeout:  time.Duration(SessionRetries) * (s.opts.Policy.Timeout + s.opts.HealthWindow() + SessionRetryInterval),
		Interval: SessionRetryInterval,
	}

	var attempts int
	err := retry.Do(ctx, policy, retryableLaunch, func(ctx context.Context, a retry.Attempt) error {
		attempts = a.Number
		if a.Number > 1 {
			if _, ok := s.Running(ctx); !ok {
				logger.Warn("Device agent died before %s launched, relaunching (attempt %d)", bundleID, a.Number)
				s.setState(core.StateRelaunching)
				if err := s.Launch(ctx); err != nil {
					return err
				}
			}
		}
		_, err := s.client.Request(ctx, transport.Post(transport.RouteSession, body), retry.Policy{})
		return err
	})
	if err != nil {
		var ex *retry.ExhaustedError
		if errors.As(err, &ex) {
			err = ex.Last
		}
		return core.ErrAppLaunchFailed.
			WithMessagef("could not launch %s on %s after %d attempt(s)", bundleID, s.device, attempts).
			WithCause(err)
	}

	logger.Info("Launched %s on %s", bundleID, s.device)
	return nil
}

// retryableLaunch gives up on caller mistakes and concurrent launches.
func retryableLaunch(err error) bool {
	switch core.CategoryOf(err) {
	case core.ErrCategoryArgument, core.ErrCategoryConfig:
		return false
	}
	return !errors.Is(err, core.ErrLaunchInProgress)
}

func (s *Session) checkInstalled(ctx context.Context, bundleID string) error {
	inspector, ok := s.launcher.(agent.AppInspector)
	if !ok || !inspector.CanInspectApps(s.device) {
		return nil
	}
	installed, err := inspector.AppInstalled(ctx, s.device, bundleID)
	if err != nil {
		logger.Warn("could not check whether %s is installed: %v", bundleID, err)
		return nil
	}
	if !installed {
		return core.ErrAppNotInstalled.WithMessagef("%s is not installed on %s", bundleID, s.device)
	}
	return nil
}

// Home presses the home button.
func (s *Session) Home(ctx context.Context) error {
	_, err := s.request(ctx, transport.Post(transport.RouteHome, map[string]interface{}{}))
	return err
}

// TerminateApp stops an application by bundle id.
func (s *Session) TerminateApp(ctx context.Context, bundleID string) error {
	if bundleID == "" {
		bundleID = s.app.BundleID
	}
	_, err := s.request(ctx, transport.Post(transport.RouteTerminate, bundleRequest{BundleID: bundleID}))
	return err
}

// AppPID returns the process id of a running application, 0 when not running.
func (s *Session) AppPID(ctx context.Context, bundleID string) (int, error) {
	if bundleID == "" {
		bundleID = s.app.BundleID
	}
	body, err := s.request(ctx, transport.Post(transport.RoutePID, bundleRequest{BundleID: bundleID}))
	if err != nil {
		return 0, err
	}
	switch v := body["pid"].(type) {
	case float64:
		return int(v), nil
	case string:
		var pid int
		if _, err := fmt.Sscan(v, &pid); err != nil {
			return 0, core.ErrProtocol.WithMessagef("unexpected pid %q", v)
		}
		return pid, nil
	case nil:
		return 0, nil
	default:
		return 0, core.ErrProtocol.WithMessagef("unexpected pid %v", v)
	}
}
