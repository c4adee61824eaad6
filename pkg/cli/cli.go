// Package cli provides the command-line interface for the device agent controller.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/device-agent/pkg/agent"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Config file (defaults to config.yaml or config.yml in the current directory)",
		EnvVars: []string{"DEVICE_AGENT_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "device",
		Aliases: []string{"udid"},
		Usage:   "Simulator name/UDID or physical device UDID",
		EnvVars: []string{"DEVICE_AGENT_DEVICE"},
	},
	&cli.StringFlag{
		Name:  "device-name",
		Usage: "Physical device name, used to derive its network hostname",
	},
	&cli.StringFlag{
		Name:    "bundle-id",
		Aliases: []string{"b"},
		Usage:   "Bundle identifier of the app under test",
		EnvVars: []string{"DEVICE_AGENT_BUNDLE_ID"},
	},
	&cli.StringFlag{
		Name:  "agent-url",
		Usage: "Explicit agent base URL",
	},
	&cli.IntFlag{
		Name:  "port",
		Usage: "Agent port",
	},
	&cli.StringFlag{
		Name:    "strategy",
		Usage:   "Launcher strategy (device_manager, build_and_run)",
		EnvVars: []string{"DEVICE_AGENT_STRATEGY"},
	},
	&cli.DurationFlag{
		Name:  "install-timeout",
		Usage: "Agent install timeout",
	},
	&cli.DurationFlag{
		Name:  "http-timeout",
		Usage: "Budget for one agent call including retries",
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Enable verbose logging",
		EnvVars: []string{"DEVICE_AGENT_VERBOSE"},
	},
	&cli.StringFlag{
		Name:  "log-file",
		Usage: "Write logs to this file instead of stderr",
	},
	&cli.StringFlag{
		Name:    "metrics-addr",
		Usage:   "Serve Prometheus metrics on this address while the command runs (e.g. :9100)",
		EnvVars: []string{"DEVICE_AGENT_METRICS_ADDR"},
	},
}

// Execute runs the CLI.
func Execute() {
	app := newApp(&runner{
		shell:  agent.ExecShell{},
		getenv: os.Getenv,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp(r *runner) *cli.App {
	return &cli.App{
		Name:    "device-agent",
		Usage:   "Launch and drive the on-device automation agent",
		Version: Version,
		Description: `device-agent installs the automation agent on an iOS simulator or
device, launches apps through it and runs queries, gestures and waits.
Every command prints its result as JSON.

Examples:
  device-agent --device "iPhone 15" launch
  device-agent --device "iPhone 15" -b com.example.app launch-app
  device-agent query --marked Login
  device-agent tap --id submit
  device-agent wait --marked Welcome --timeout 20s`,
		Flags:  GlobalFlags,
		Before: r.before,
		After:  r.after,
		Commands: []*cli.Command{
			r.launchCommand(),
			r.launchAppCommand(),
			r.healthCommand(),
			r.versionCommand(),
			r.queryCommand(),
			r.tapCommand(),
			r.typeCommand(),
			r.treeCommand(),
			r.waitCommand(),
			r.shutdownCommand(),
			r.agentCommand(),
			r.devicesCommand(),
		},
	}
}
