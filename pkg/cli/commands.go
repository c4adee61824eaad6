package cli

import (
	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/device-agent/pkg/core"
	"github.com/devicelab-dev/device-agent/pkg/query"
	"github.com/devicelab-dev/device-agent/pkg/session"
	"github.com/devicelab-dev/device-agent/pkg/simulator"
)

// queryFlags select elements for query, tap and wait.
func queryFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "id", Usage: "Match the accessibility identifier"},
		&cli.StringFlag{Name: "marked", Aliases: []string{"m"}, Usage: "Match identifier or label"},
		&cli.StringFlag{Name: "text", Usage: "Match the visible text"},
		&cli.StringFlag{Name: "type", Usage: "Match the element type (e.g. Button)"},
		&cli.IntFlag{Name: "index", Usage: "Pick the n-th match"},
		&cli.BoolFlag{Name: "all", Usage: "Include elements that are not hitable"},
	}
}

// queryFrom builds the query selected by queryFlags. No selector flags
// yields the wildcard query.
func queryFrom(c *cli.Context) query.Query {
	f := query.Filter{
		ID:     c.String("id"),
		Marked: c.String("marked"),
		Text:   c.String("text"),
		Type:   c.String("type"),
		All:    c.Bool("all"),
	}
	if c.IsSet("index") {
		i := c.Int("index")
		f.Index = &i
	}
	return f.Query()
}

func (r *runner) launchCommand() *cli.Command {
	return &cli.Command{
		Name:  "launch",
		Usage: "Start the device agent and wait until it is healthy",
		Description: `Starts the agent unless a healthy agent with the same build is already
running. A stale agent is shut down and relaunched.

Examples:
  device-agent --device "iPhone 15" launch
  device-agent --device 00008110-000A1234 --device-name "QA iPhone" launch`,
		Action: func(c *cli.Context) error {
			s, err := r.openSession(c)
			if err != nil {
				return err
			}
			if err := s.Launch(c.Context); err != nil {
				return err
			}
			return printJSON(c, newSessionResult(s))
		},
	}
}

func (r *runner) launchAppCommand() *cli.Command {
	return &cli.Command{
		Name:  "launch-app",
		Usage: "Launch the app under test through the agent",
		Description: `Launches the agent if needed, then starts the app given by --bundle-id.

Examples:
  device-agent --device "iPhone 15" -b com.example.app launch-app`,
		Action: func(c *cli.Context) error {
			s, err := r.openSession(c)
			if err != nil {
				return err
			}
			if err := s.LaunchApp(c.Context); err != nil {
				return err
			}
			return printJSON(c, newSessionResult(s))
		},
	}
}

func (r *runner) healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check whether the agent answers",
		Action: func(c *cli.Context) error {
			s, err := r.openSession(c)
			if err != nil {
				return err
			}
			body, ok := s.Running(c.Context)
			if err := printJSON(c, map[string]interface{}{
				"url":     s.URL(),
				"running": ok,
				"health":  body,
			}); err != nil {
				return err
			}
			if !ok {
				return core.ErrServerUnreachable.WithMessagef("device agent at %s is not running", s.URL())
			}
			return nil
		},
	}
}

func (r *runner) versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print the version reported by the running agent",
		Action: func(c *cli.Context) error {
			s, err := r.openSession(c)
			if err != nil {
				return err
			}
			body, err := s.Version(c.Context)
			if err != nil {
				return err
			}
			return printJSON(c, body)
		},
	}
}

func (r *runner) queryCommand() *cli.Command {
	return &cli.Command{
		Name:  "query",
		Usage: "List the elements matching a query",
		Description: `Without selector flags every visible element is listed.

Examples:
  device-agent query --marked Login
  device-agent query --type Button --all
  device-agent query --id submit --coordinate`,
		Flags: append(queryFlags(),
			&cli.BoolFlag{Name: "coordinate", Usage: "Print the center of the first match instead"},
		),
		Action: func(c *cli.Context) error {
			s, err := r.openSession(c)
			if err != nil {
				return err
			}
			q := queryFrom(c)
			if c.Bool("coordinate") {
				p, err := s.QueryForCoordinate(c.Context, q)
				if err != nil {
					return err
				}
				return printJSON(c, p)
			}
			elements, err := s.Query(c.Context, q)
			if err != nil {
				return err
			}
			if elements == nil {
				elements = []core.Element{}
			}
			return printJSON(c, elements)
		},
	}
}

func (r *runner) tapCommand() *cli.Command {
	return &cli.Command{
		Name:  "tap",
		Usage: "Touch an element or a coordinate",
		Description: `Examples:
  device-agent tap --marked Login
  device-agent tap --x 120 --y 300
  device-agent tap --id cell --double
  device-agent tap --id cell --long-press 2s`,
		Flags: append(queryFlags(),
			&cli.Float64Flag{Name: "x", Usage: "Screen x coordinate"},
			&cli.Float64Flag{Name: "y", Usage: "Screen y coordinate"},
			&cli.BoolFlag{Name: "double", Usage: "Double tap"},
			&cli.BoolFlag{Name: "two-finger", Usage: "Two finger tap"},
			&cli.DurationFlag{Name: "long-press", Usage: "Hold for this long"},
		),
		Action: func(c *cli.Context) error {
			q := queryFrom(c)
			hasPoint := c.IsSet("x") || c.IsSet("y")
			if q.IsWildcard() && !hasPoint {
				return core.ErrInvalidArgument.WithMessage("tap needs a selector (--id, --marked, --text, --type) or --x/--y")
			}

			s, err := r.openSession(c)
			if err != nil {
				return err
			}

			var result map[string]interface{}
			switch {
			case hasPoint:
				result, err = s.TouchCoordinate(c.Context, core.Point{X: c.Float64("x"), Y: c.Float64("y")})
			case c.Bool("double"):
				result, err = s.DoubleTap(c.Context, q)
			case c.Bool("two-finger"):
				result, err = s.TwoFingerTap(c.Context, q)
			case c.IsSet("long-press"):
				result, err = s.LongPress(c.Context, q, c.Duration("long-press"))
			default:
				result, err = s.Touch(c.Context, q)
			}
			if err != nil {
				return err
			}
			return printJSON(c, result)
		},
	}
}

func (r *runner) typeCommand() *cli.Command {
	return &cli.Command{
		Name:      "type",
		Usage:     "Type text into the focused field",
		ArgsUsage: "<text>",
		Description: `The keyboard must be visible.

Examples:
  device-agent type "hello world"
  device-agent type --clear "new value"`,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "clear", Usage: "Clear the field first"},
		},
		Action: func(c *cli.Context) error {
			text := c.Args().First()
			if text == "" && !c.Bool("clear") {
				return core.ErrInvalidArgument.WithMessage("type needs text (or --clear)")
			}

			s, err := r.openSession(c)
			if err != nil {
				return err
			}

			var result map[string]interface{}
			if c.Bool("clear") {
				if result, err = s.ClearText(c.Context); err != nil {
					return err
				}
			}
			if text != "" {
				if result, err = s.EnterText(c.Context, text); err != nil {
					return err
				}
			}
			return printJSON(c, result)
		},
	}
}

func (r *runner) treeCommand() *cli.Command {
	return &cli.Command{
		Name:  "tree",
		Usage: "Print the view hierarchy",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "flat", Usage: "Print the flattened element list"},
		},
		Action: func(c *cli.Context) error {
			s, err := r.openSession(c)
			if err != nil {
				return err
			}
			tree, err := s.Tree(c.Context)
			if err != nil {
				return err
			}
			if c.Bool("flat") {
				return printJSON(c, query.Flatten(tree))
			}
			return printJSON(c, tree)
		},
	}
}

func (r *runner) waitCommand() *cli.Command {
	return &cli.Command{
		Name:  "wait",
		Usage: "Wait for a view, text, the keyboard or an alert",
		Description: `Examples:
  device-agent wait --marked Welcome
  device-agent wait --marked Spinner --gone --timeout 30s
  device-agent wait --id status --has-text Done
  device-agent wait --keyboard
  device-agent wait --alert --gone`,
		Flags: append(queryFlags(),
			&cli.BoolFlag{Name: "gone", Usage: "Wait for the condition to disappear"},
			&cli.StringFlag{Name: "has-text", Usage: "Wait for a matching element showing this text"},
			&cli.BoolFlag{Name: "keyboard", Usage: "Wait for the keyboard"},
			&cli.BoolFlag{Name: "alert", Usage: "Wait for an alert"},
			&cli.DurationFlag{Name: "timeout", Usage: "Give up after this long"},
			&cli.DurationFlag{Name: "interval", Usage: "Poll this often"},
		),
		Action: func(c *cli.Context) error {
			q := queryFrom(c)
			gone := c.Bool("gone")
			opts := session.WaitOptions{
				Timeout:  c.Duration("timeout"),
				Interval: c.Duration("interval"),
			}

			s, err := r.openSession(c)
			if err != nil {
				return err
			}
			ctx := c.Context

			switch {
			case c.Bool("keyboard") && gone:
				err = s.WaitForNoKeyboard(ctx, opts)
			case c.Bool("keyboard"):
				err = s.WaitForKeyboard(ctx, opts)
			case c.Bool("alert") && gone:
				err = s.WaitForNoAlert(ctx, opts)
			case c.Bool("alert"):
				err = s.WaitForAlert(ctx, opts)
			case c.IsSet("has-text"):
				var el core.Element
				if el, err = s.WaitForTextInView(ctx, c.String("has-text"), q, opts); err == nil {
					return printJSON(c, el)
				}
			case q.IsWildcard():
				return core.ErrInvalidArgument.WithMessage("wait needs a selector, --keyboard or --alert")
			case gone:
				err = s.WaitForNoView(ctx, q, opts)
			default:
				var elements []core.Element
				if elements, err = s.WaitForView(ctx, q, opts); err == nil {
					return printJSON(c, elements)
				}
			}
			if err != nil {
				return err
			}
			return printJSON(c, map[string]interface{}{"ok": true})
		},
	}
}

func (r *runner) shutdownCommand() *cli.Command {
	return &cli.Command{
		Name:  "shutdown",
		Usage: "Stop the running agent",
		Action: func(c *cli.Context) error {
			s, err := r.openSession(c)
			if err != nil {
				return err
			}
			s.Shutdown(c.Context)
			return printJSON(c, newSessionResult(s))
		},
	}
}

func (r *runner) agentCommand() *cli.Command {
	return &cli.Command{
		Name:  "agent",
		Usage: "Print information about the on-disk agent bundle",
		Action: func(c *cli.Context) error {
			cfg, err := r.loadConfig(c)
			if err != nil {
				return err
			}
			bundle := cfg.Bundle()
			path, err := bundle.AppPath()
			if err != nil {
				return err
			}
			info, err := bundle.Info()
			if err != nil {
				return err
			}
			build, err := bundle.BuildIdentifier()
			if err != nil {
				return err
			}
			return printJSON(c, map[string]interface{}{
				"path":         path,
				"bundleId":     info.BundleID,
				"buildVersion": info.BuildVersion,
				"shortVersion": info.ShortVersion,
				"build":        build,
			})
		},
	}
}

func (r *runner) devicesCommand() *cli.Command {
	return &cli.Command{
		Name:  "devices",
		Usage: "List available simulators",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "booted", Usage: "Only list booted simulators"},
		},
		Action: func(c *cli.Context) error {
			sims, err := simulator.New(r.shell.Run).ListSimulators(c.Context)
			if err != nil {
				return err
			}
			type row struct {
				core.Device
				State string `json:"state"`
			}
			rows := []row{}
			for _, sim := range sims {
				if c.Bool("booted") && !sim.Booted() {
					continue
				}
				rows = append(rows, row{Device: sim.Device(), State: sim.State})
			}
			return printJSON(c, rows)
		},
	}
}
