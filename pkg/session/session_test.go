package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/devicelab-dev/device-agent/pkg/address"
	"github.com/devicelab-dev/device-agent/pkg/agent"
	"github.com/devicelab-dev/device-agent/pkg/core"
	"github.com/devicelab-dev/device-agent/pkg/query"
	"github.com/devicelab-dev/device-agent/pkg/retry"
)

// fakeAgent is an in-process stand-in for the device agent.
type fakeAgent struct {
	mu              sync.Mutex
	up              bool
	version         string
	elements        []map[string]interface{}
	requests        []string
	bodies          map[string][]map[string]interface{}
	sessionFailures int  // POST session fails this many times
	dieOnSession    bool // a failing POST session also takes the agent down
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{version: "1.0.0", bodies: map[string][]map[string]interface{}{}}
}

func (f *fakeAgent) setUp(up bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.up = up
}

func (f *fakeAgent) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if strings.HasPrefix(r, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeAgent) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func (f *fakeAgent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := r.Method + " " + r.URL.Path
	f.requests = append(f.requests, key)

	if !f.up {
		hj, _ := w.(http.Hijacker)
		conn, _, err := hj.Hijack()
		if err == nil {
			conn.Close()
		}
		return
	}

	var body map[string]interface{}
	json.NewDecoder(r.Body).Decode(&body)
	f.bodies[key] = append(f.bodies[key], body)

	reply := func(v interface{}) { json.NewEncoder(w).Encode(v) }

	switch key {
	case "GET /1.0/health":
		reply(map[string]interface{}{"status": "ready"})
	case "GET /1.0/version":
		reply(map[string]interface{}{"bundle_version": f.version})
	case "POST /1.0/session":
		if f.sessionFailures > 0 {
			f.sessionFailures--
			if f.dieOnSession {
				f.up = false
			}
			w.WriteHeader(http.StatusInternalServerError)
			reply(map[string]interface{}{"error": "could not launch application"})
			return
		}
		reply(map[string]interface{}{"status": "launched"})
	case "POST /1.0/shutdown":
		f.up = false
		reply(map[string]interface{}{"message": "shutting down"})
	case "POST /1.0/query":
		var rows []interface{}
		for _, el := range f.elements {
			if matches(el, body) {
				rows = append(rows, el)
			}
		}
		reply(map[string]interface{}{"result": rows})
	case "GET /1.0/tree":
		children := make([]interface{}, len(f.elements))
		for i, el := range f.elements {
			children[i] = el
		}
		reply(map[string]interface{}{"type": "Application", "hitable": true, "children": children})
	case "POST /1.0/pid":
		reply(map[string]interface{}{"pid": 321})
	default:
		reply(map[string]interface{}{})
	}
}

func matches(el, params map[string]interface{}) bool {
	for k, v := range params {
		if el[k] != v {
			return false
		}
	}
	return true
}

// fakeLauncher brings the fake agent up when launched.
type fakeLauncher struct {
	agent     *fakeAgent
	launches  int
	noStart   bool
	installed *bool
	logPath   string
}

func (l *fakeLauncher) Name() agent.Strategy { return agent.StrategyDeviceManager }
func (l *fakeLauncher) LogPath() string      { return l.logPath }

func (l *fakeLauncher) Launch(ctx context.Context, opts agent.LaunchOptions) (int, error) {
	l.launches++
	if !l.noStart {
		l.agent.setUp(true)
	}
	return 9000 + l.launches, nil
}

func (l *fakeLauncher) CanInspectApps(device core.Device) bool { return l.installed != nil }

func (l *fakeLauncher) AppInstalled(ctx context.Context, device core.Device, bundleID string) (bool, error) {
	return *l.installed, nil
}

// fakeShell tracks signals sent to launcher processes.
type fakeShell struct {
	mu      sync.Mutex
	alive   map[int]bool
	signals []syscall.Signal
}

func (s *fakeShell) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return nil, nil
}
func (s *fakeShell) Start(name string, args []string, env []string, log *os.File) (int, error) {
	return 0, errors.New("not supported")
}
func (s *fakeShell) Signal(pid int, sig syscall.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, sig)
	s.alive[pid] = false
	return nil
}
func (s *fakeShell) Alive(pid int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive[pid]
}

type staticBuild string

func (b staticBuild) BuildIdentifier() (string, error) { return string(b), nil }

func testOptions() Options {
	o := DefaultOptions()
	o.Policy = retry.Policy{Retries: 2, Timeout: 2 * time.Second, Interval: 10 * time.Millisecond}
	o.TextPolicy = o.Policy
	o.PingPolicy = retry.Policy{Retries: 1, Timeout: 500 * time.Millisecond}
	o.InstallTimeout = 200 * time.Millisecond
	o.WaitTimeout = 300 * time.Millisecond
	o.WaitInterval = 10 * time.Millisecond
	return o
}

type fixture struct {
	agent    *fakeAgent
	launcher *fakeLauncher
	shell    *fakeShell
	session  *Session
}

func newFixture(t *testing.T, build string) *fixture {
	t.Helper()
	fa := newFakeAgent()
	server := httptest.NewServer(fa)
	t.Cleanup(server.Close)

	f := &fixture{
		agent:    fa,
		launcher: &fakeLauncher{agent: fa, logPath: "/tmp/device_manager.log"},
		shell:    &fakeShell{alive: map[int]bool{}},
	}
	cfg := Config{
		Device:   core.Device{UDID: "SIM-1", Name: "iPhone 15", Simulator: true},
		App:      core.App{BundleID: "com.example.app"},
		Launcher: f.launcher,
		Resolver: address.Resolver{Override: server.URL},
		Shell:    f.shell,
		Options:  testOptions(),
	}
	if build != "" {
		cfg.Bundle = staticBuild(build)
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	f.session = s
	return f
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Options: testOptions()}); !core.IsCategory(err, core.ErrCategoryConfig) {
		t.Errorf("expected config error without launcher, got %v", err)
	}

	bad := testOptions()
	bad.Policy.Timeout = 0
	_, err := New(Config{Launcher: &fakeLauncher{}, Options: bad, Device: core.Device{Simulator: true}})
	if !core.IsCategory(err, core.ErrCategoryConfig) {
		t.Errorf("expected config error for zero timeout, got %v", err)
	}
}

func TestLaunch_StartsAgent(t *testing.T) {
	f := newFixture(t, "")
	if f.session.State() != core.StateUnknown {
		t.Errorf("initial state = %v", f.session.State())
	}

	if err := f.session.Launch(context.Background()); err != nil {
		t.Fatalf("Launch() error: %v", err)
	}
	if f.launcher.launches != 1 {
		t.Errorf("launches = %d, want 1", f.launcher.launches)
	}
	if f.session.State() != core.StateReady {
		t.Errorf("state = %v, want ready", f.session.State())
	}
	h := f.session.Handle()
	if h == nil || h.LauncherPID != 9001 || h.BundleID != "com.example.app" || h.Launcher != agent.StrategyDeviceManager {
		t.Errorf("handle = %+v", h)
	}
}

func TestLaunch_IdempotentWhenHealthy(t *testing.T) {
	f := newFixture(t, "1.0.0")
	f.agent.setUp(true)

	for i := 0; i < 2; i++ {
		if err := f.session.Launch(context.Background()); err != nil {
			t.Fatalf("Launch() error: %v", err)
		}
	}
	if f.launcher.launches != 0 {
		t.Errorf("expected no launches against a healthy agent, got %d", f.launcher.launches)
	}
	if f.agent.count("POST /1.0/shutdown") != 0 {
		t.Error("healthy agent should not be shut down")
	}
}

func TestLaunch_RelaunchesStaleAgent(t *testing.T) {
	f := newFixture(t, "2.0.0")
	f.agent.setUp(true)

	if err := f.session.Launch(context.Background()); err != nil {
		t.Fatalf("Launch() error: %v", err)
	}
	if f.agent.count("DELETE /1.0/session") != 1 || f.agent.count("POST /1.0/shutdown") != 1 {
		t.Errorf("stale agent not shut down: %v", f.agent.snapshot())
	}
	if f.launcher.launches != 1 {
		t.Errorf("launches = %d, want 1", f.launcher.launches)
	}
	if f.session.State() != core.StateReady {
		t.Errorf("state = %v", f.session.State())
	}
}

func TestCheckBuild(t *testing.T) {
	tests := []struct {
		name  string
		build string
		stale bool
	}{
		{"no bundle", "", false},
		{"same build", "1.0.0", false},
		{"different build", "2.0.0", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.build)
			f.agent.setUp(true)

			err := f.session.checkBuild(context.Background())
			if got := errors.Is(err, core.ErrStaleAgent); got != tt.stale {
				t.Fatalf("checkBuild() = %v, stale expected: %v", err, tt.stale)
			}
			if tt.stale && !strings.Contains(err.Error(), "1.0.0") {
				t.Errorf("error %q should name the running build", err)
			}
		})
	}
}

func TestLaunch_ShutdownBeforeLaunch(t *testing.T) {
	f := newFixture(t, "")
	f.agent.setUp(true)
	opts := testOptions()
	opts.ShutdownBeforeLaunch = true
	if err := f.session.Reconfigure(opts); err != nil {
		t.Fatal(err)
	}

	if err := f.session.Launch(context.Background()); err != nil {
		t.Fatalf("Launch() error: %v", err)
	}
	if f.agent.count("POST /1.0/shutdown") != 1 {
		t.Error("expected a shutdown before launch")
	}
	if f.launcher.launches != 1 {
		t.Errorf("launches = %d, want 1", f.launcher.launches)
	}
}

func TestLaunch_HealthTimeout(t *testing.T) {
	f := newFixture(t, "")
	f.launcher.noStart = true

	start := time.Now()
	err := f.session.Launch(context.Background())
	elapsed := time.Since(start)

	if !core.IsCategory(err, core.ErrCategoryConnection) {
		t.Fatalf("expected connection error, got %v", err)
	}
	for _, want := range []string{"iPhone 15", f.session.URL(), "/tmp/device_manager.log"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %q", err, want)
		}
	}
	if window := testOptions().HealthWindow(); elapsed < window {
		t.Errorf("gave up after %v, before the %v health window", elapsed, window)
	}
	if f.session.State() != core.StateStopped {
		t.Errorf("state = %v, want stopped", f.session.State())
	}
}

func TestLaunch_HealthTimeoutReadsLauncherLog(t *testing.T) {
	f := newFixture(t, "")
	f.launcher.noStart = true
	f.launcher.logPath = filepath.Join(t.TempDir(), "device_manager.log")

	// The launcher only reports the failure once the agent build has started.
	go func() {
		time.Sleep(50 * time.Millisecond)
		if err := os.WriteFile(f.launcher.logPath, []byte("Building agent\nCode Sign error: no identity\n"), 0644); err != nil {
			t.Error(err)
		}
	}()

	err := f.session.Launch(context.Background())
	if !errors.Is(err, core.ErrServerUnreachable) {
		t.Fatalf("expected server unreachable, got %v", err)
	}
	for _, want := range []string{"code signing failed", "Building agent\nCode Sign error: no identity", f.launcher.logPath} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %q", err, want)
		}
	}
}

func TestShutdown_WhenStoppedOnlyChecksHealth(t *testing.T) {
	f := newFixture(t, "")

	f.session.Shutdown(context.Background())

	if reqs := f.agent.snapshot(); len(reqs) != 1 || reqs[0] != "GET /1.0/health" {
		t.Errorf("requests = %v, want only the health check", reqs)
	}
	if f.session.State() != core.StateStopped {
		t.Errorf("state = %v", f.session.State())
	}
}

func TestShutdown_StopsAgentAndLauncher(t *testing.T) {
	f := newFixture(t, "")
	if err := f.session.Launch(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.shell.alive[9001] = true

	f.session.Shutdown(context.Background())

	if f.agent.count("DELETE /1.0/session") != 1 || f.agent.count("POST /1.0/shutdown") != 1 {
		t.Errorf("requests = %v", f.agent.snapshot())
	}
	if len(f.shell.signals) == 0 || f.shell.signals[0] != syscall.SIGTERM {
		t.Errorf("launcher not terminated, signals = %v", f.shell.signals)
	}
	if _, ok := f.session.Running(context.Background()); ok {
		t.Error("agent still running after shutdown")
	}
	if f.session.Handle().LauncherPID != 0 {
		t.Error("handle should drop the pid")
	}
}

func TestShutdown_NeverPanicsOnUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	s, err := New(Config{
		Device:   core.Device{UDID: "SIM-1", Simulator: true},
		Launcher: &fakeLauncher{agent: newFakeAgent()},
		Resolver: address.Resolver{Override: url},
		Shell:    &fakeShell{alive: map[int]bool{}},
		Options:  testOptions(),
	})
	if err != nil {
		t.Fatal(err)
	}
	s.Shutdown(context.Background())

	if body, ok := s.Running(context.Background()); ok || body != nil {
		t.Errorf("Running() = %v, %v against an unreachable server", body, ok)
	}
}

func TestLaunchApp_SendsSessionRequest(t *testing.T) {
	f := newFixture(t, "")
	opts := testOptions()
	opts.LaunchArgs = []string{"-AppleLanguages", "(en)"}
	opts.Env = map[string]string{"MOCK_API": "1"}
	f.session.Reconfigure(opts)

	if err := f.session.LaunchApp(context.Background()); err != nil {
		t.Fatalf("LaunchApp() error: %v", err)
	}

	bodies := f.agent.bodies["POST /1.0/session"]
	if len(bodies) != 1 {
		t.Fatalf("session requests = %d", len(bodies))
	}
	body := bodies[0]
	if body["bundle_id"] != "com.example.app" || body["terminate_aut_if_running"] != true {
		t.Errorf("body = %v", body)
	}
	if args := body["launchArgs"].([]interface{}); len(args) != 2 {
		t.Errorf("launchArgs = %v", args)
	}
	if env := body["environment"].(map[string]interface{}); env["MOCK_API"] != "1" {
		t.Errorf("environment = %v", env)
	}
}

func TestLaunchApp_RetriesAndRelaunches(t *testing.T) {
	f := newFixture(t, "")
	f.agent.sessionFailures = 1
	f.agent.dieOnSession = true

	if err := f.session.LaunchApp(context.Background()); err != nil {
		t.Fatalf("LaunchApp() error: %v", err)
	}
	if got := f.agent.count("POST /1.0/session"); got != 2 {
		t.Errorf("session attempts = %d, want 2", got)
	}
	if f.launcher.launches != 2 {
		t.Errorf("launches = %d, want the agent relaunched once", f.launcher.launches)
	}
}

func TestLaunchApp_NotInstalled(t *testing.T) {
	f := newFixture(t, "")
	installed := false
	f.launcher.installed = &installed

	err := f.session.LaunchApp(context.Background())
	if !errors.Is(err, core.ErrAppNotInstalled) {
		t.Fatalf("expected not installed error, got %v", err)
	}
	if f.agent.count("POST /1.0/session") != 0 {
		t.Error("session should not be requested for a missing app")
	}
}

func TestLaunchApp_NoBundleID(t *testing.T) {
	f := newFixture(t, "")
	f.session.app = core.App{}
	if err := f.session.LaunchApp(context.Background()); !core.IsCategory(err, core.ErrCategoryArgument) {
		t.Errorf("expected argument error, got %v", err)
	}
}

var screen = []map[string]interface{}{
	{"id": "login", "type": "Button", "label": "Log in", "hitable": true,
		"rect": map[string]interface{}{"x": 24, "y": 459, "width": 100, "height": 25}},
	{"id": "email", "type": "TextField", "value": "a@b.c", "hitable": true,
		"rect": map[string]interface{}{"x": 0, "y": 100, "width": 200, "height": 40}},
	{"id": "spacer", "type": "Other", "hitable": true,
		"rect": map[string]interface{}{"x": 0, "y": 0, "width": 10, "height": 10}},
}

func readyFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t, "")
	f.agent.elements = screen
	if err := f.session.Launch(context.Background()); err != nil {
		t.Fatal(err)
	}
	return f
}

func TestTouch_SendsCentroid(t *testing.T) {
	f := readyFixture(t)

	if _, err := f.session.Touch(context.Background(), query.ByID("login")); err != nil {
		t.Fatalf("Touch() error: %v", err)
	}
	body := f.agent.bodies["POST /1.0/gesture"][0]
	if body["gesture"] != GestureTouch {
		t.Errorf("gesture = %v", body["gesture"])
	}
	coord := body["specifiers"].(map[string]interface{})["coordinate"].(map[string]interface{})
	if coord["x"] != 74.0 || coord["y"] != 471.5 {
		t.Errorf("coordinate = %v, want {74 471.5}", coord)
	}
}

func TestGestureBodies(t *testing.T) {
	tests := []struct {
		name       string
		gesture    string
		coordinate bool
		send       func(s *Session) (map[string]interface{}, error)
	}{
		{"double tap", GestureDoubleTap, true, func(s *Session) (map[string]interface{}, error) {
			return s.DoubleTap(context.Background(), query.ByID("login"))
		}},
		{"two finger tap", GestureTwoFingerTap, true, func(s *Session) (map[string]interface{}, error) {
			return s.TwoFingerTap(context.Background(), query.ByID("login"))
		}},
		{"clear text", GestureClearText, false, func(s *Session) (map[string]interface{}, error) {
			return s.ClearText(context.Background())
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := readyFixture(t)
			if _, err := tt.send(f.session); err != nil {
				t.Fatalf("gesture error: %v", err)
			}

			f.agent.mu.Lock()
			sent := f.agent.bodies["POST /1.0/gesture"]
			f.agent.mu.Unlock()
			if len(sent) != 1 {
				t.Fatalf("posted %d gestures, want 1", len(sent))
			}
			body := sent[0]
			if body["gesture"] != tt.gesture {
				t.Errorf("gesture = %v, want %s", body["gesture"], tt.gesture)
			}
			specifiers, _ := body["specifiers"].(map[string]interface{})
			coord, hasCoord := specifiers["coordinate"].(map[string]interface{})
			if hasCoord != tt.coordinate {
				t.Fatalf("specifiers = %v, coordinate expected: %v", specifiers, tt.coordinate)
			}
			if tt.coordinate && (coord["x"] != 74.0 || coord["y"] != 471.5) {
				t.Errorf("coordinate = %v, want {74 471.5}", coord)
			}
		})
	}
}

func TestTouch_NoMatch(t *testing.T) {
	f := readyFixture(t)
	_, err := f.session.Touch(context.Background(), query.ByID("missing"))
	if !errors.Is(err, core.ErrNoMatch) {
		t.Errorf("expected no match, got %v", err)
	}
	if f.agent.count("POST /1.0/gesture") != 0 {
		t.Error("no gesture should be sent")
	}
}

func TestPanAndLongPress(t *testing.T) {
	f := readyFixture(t)

	if _, err := f.session.Pan(context.Background(), query.ByID("email"), query.ByID("login"), time.Second); err != nil {
		t.Fatalf("Pan() error: %v", err)
	}
	body := f.agent.bodies["POST /1.0/gesture"][0]
	coords := body["specifiers"].(map[string]interface{})["coordinates"].([]interface{})
	if body["gesture"] != GestureDrag || len(coords) != 2 {
		t.Errorf("pan body = %v", body)
	}

	if _, err := f.session.LongPress(context.Background(), query.ByID("login"), 0); !core.IsCategory(err, core.ErrCategoryArgument) {
		t.Errorf("expected argument error for zero duration, got %v", err)
	}
}

func TestEnterText_RequiresKeyboard(t *testing.T) {
	f := readyFixture(t)

	_, err := f.session.EnterText(context.Background(), "hello")
	if !errors.Is(err, core.ErrNoMatch) {
		t.Fatalf("expected failure without keyboard, got %v", err)
	}
	if f.agent.count("POST /1.0/gesture") != 0 {
		t.Error("no gesture should be sent without a keyboard")
	}

	f.agent.mu.Lock()
	f.agent.elements = append(f.agent.elements, map[string]interface{}{"type": "Keyboard", "hitable": true})
	f.agent.mu.Unlock()

	if _, err := f.session.EnterText(context.Background(), "hello"); err != nil {
		t.Fatalf("EnterText() error: %v", err)
	}
	body := f.agent.bodies["POST /1.0/gesture"][0]
	if body["gesture"] != GestureEnterText || body["options"].(map[string]interface{})["string"] != "hello" {
		t.Errorf("body = %v", body)
	}
}

func TestWaitForView(t *testing.T) {
	f := readyFixture(t)

	elements, err := f.session.WaitForView(context.Background(), query.ByID("login"), WaitOptions{})
	if err != nil || len(elements) != 1 {
		t.Fatalf("WaitForView() = %v, %v", elements, err)
	}

	_, err = f.session.WaitForView(context.Background(), query.ByID("missing"), WaitOptions{Timeout: 50 * time.Millisecond})
	if !errors.Is(err, core.ErrWaitTimeout) {
		t.Errorf("expected wait timeout, got %v", err)
	}
	if err := f.session.WaitForNoView(context.Background(), query.ByID("missing"), WaitOptions{}); err != nil {
		t.Errorf("WaitForNoView() error: %v", err)
	}
	if err := f.session.WaitForNoKeyboard(context.Background(), WaitOptions{}); err != nil {
		t.Errorf("WaitForNoKeyboard() error: %v", err)
	}
	if err := f.session.WaitForAlert(context.Background(), WaitOptions{Timeout: 50 * time.Millisecond}); !errors.Is(err, core.ErrWaitTimeout) {
		t.Errorf("expected alert wait to time out, got %v", err)
	}
}

func TestWaitFor_Timeouts(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		wantErr *core.ExecutionError
		calls   bool
	}{
		{"zero uses the session default", 0, nil, true},
		{"negative is rejected", -time.Second, core.ErrInvalidArgument, false},
		{"explicit", 40 * time.Millisecond, core.ErrWaitTimeout, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "")
			polls := 0
			err := f.session.WaitFor(context.Background(), WaitOptions{Timeout: tt.timeout}, func(ctx context.Context) (bool, error) {
				polls++
				return tt.wantErr == nil && polls > 2, nil
			})

			if tt.wantErr == nil && err != nil {
				t.Fatalf("WaitFor() error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("WaitFor() = %v, want %v", err, tt.wantErr)
			}
			if (polls > 0) != tt.calls {
				t.Errorf("polls = %d, predicate run expected: %v", polls, tt.calls)
			}
		})
	}
}

func TestWaitForTextInView(t *testing.T) {
	f := readyFixture(t)

	el, err := f.session.WaitForTextInView(context.Background(), "a@b.c", query.ByID("email"), WaitOptions{})
	if err != nil || el.ID != "email" {
		t.Fatalf("WaitForTextInView() = %+v, %v", el, err)
	}

	// "spacer" has neither value nor label.
	el, err = f.session.WaitForTextInView(context.Background(), "", query.ByType("Other"), WaitOptions{})
	if err != nil || el.ID != "spacer" {
		t.Fatalf("WaitForTextInView(empty) = %+v, %v", el, err)
	}

	_, err = f.session.WaitForTextInView(context.Background(), "", query.ByID("login"), WaitOptions{Timeout: 50 * time.Millisecond})
	if !errors.Is(err, core.ErrWaitTimeout) {
		t.Fatalf("labelled element should not satisfy empty text, got %v", err)
	}
	if !strings.Contains(err.Error(), `id="login"`) {
		t.Errorf("error %q should describe the element it saw", err)
	}
}

func TestHasText(t *testing.T) {
	tests := []struct {
		name  string
		attrs map[string]interface{}
		text  string
		want  bool
	}{
		{"label match", map[string]interface{}{"label": "OK"}, "OK", true},
		{"value match", map[string]interface{}{"value": "42"}, "42", true},
		{"no match", map[string]interface{}{"label": "OK"}, "Cancel", false},
		{"empty text, no fields", map[string]interface{}{"id": "x"}, "", true},
		{"empty text, null fields", map[string]interface{}{"label": nil, "value": nil}, "", true},
		{"empty text, empty label", map[string]interface{}{"label": ""}, "", false},
		{"empty text, value present", map[string]interface{}{"value": "v"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasText(core.ElementFromMap(tt.attrs), tt.text); got != tt.want {
				t.Errorf("HasText() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppHelpers(t *testing.T) {
	f := readyFixture(t)

	pid, err := f.session.AppPID(context.Background(), "")
	if err != nil || pid != 321 {
		t.Errorf("AppPID() = %d, %v", pid, err)
	}
	if err := f.session.TerminateApp(context.Background(), "com.other"); err != nil {
		t.Errorf("TerminateApp() error: %v", err)
	}
	if got := f.agent.bodies["POST /1.0/terminate"][0]["bundle_id"]; got != "com.other" {
		t.Errorf("terminate bundle_id = %v", got)
	}
	if err := f.session.Home(context.Background()); err != nil {
		t.Errorf("Home() error: %v", err)
	}
}

func TestTreeAndQuery(t *testing.T) {
	f := readyFixture(t)

	elements, err := f.session.Query(context.Background(), query.Query{})
	if err != nil {
		t.Fatal(err)
	}
	if len(elements) != len(screen)+1 {
		t.Errorf("wildcard query returned %d elements, want %d", len(elements), len(screen)+1)
	}
	if f.agent.count("GET /1.0/tree") != 1 {
		t.Error("wildcard query should fetch the tree")
	}

	tree, err := f.session.Tree(context.Background())
	if err != nil || tree["type"] != "Application" {
		t.Errorf("Tree() = %v, %v", tree, err)
	}
}

func TestReconfigure(t *testing.T) {
	f := readyFixture(t)
	opts := testOptions()
	opts.WaitTimeout = time.Minute
	if err := f.session.Reconfigure(opts); err != nil {
		t.Fatal(err)
	}
	if f.session.Handle().Options.WaitTimeout != time.Minute {
		t.Error("handle options not replaced")
	}

	opts.InstallTimeout = 0
	if err := f.session.Reconfigure(opts); !core.IsCategory(err, core.ErrCategoryConfig) {
		t.Errorf("expected config error, got %v", err)
	}
	if f.session.Options().InstallTimeout == 0 {
		t.Error("invalid options must not be applied")
	}
}

func TestVersion(t *testing.T) {
	f := readyFixture(t)
	body, err := f.session.Version(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if runningBuild(body) != "1.0.0" {
		t.Errorf("runningBuild() = %q", runningBuild(body))
	}
	if got := runningBuild(map[string]interface{}{"build": 12.0}); got != fmt.Sprint(12.0) {
		t.Errorf("runningBuild(build) = %q", got)
	}
}
