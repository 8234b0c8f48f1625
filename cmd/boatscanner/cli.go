package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/theboatscanner/boatscanner/internal/errors"
	"github.com/theboatscanner/boatscanner/internal/mcp"
	"github.com/theboatscanner/boatscanner/internal/normalize"
	"github.com/theboatscanner/boatscanner/internal/ops"
	"github.com/theboatscanner/boatscanner/internal/web"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp() *cli.App {
	app := &cli.App{
		Name:    "boatscanner",
		Usage:   "Find boat listings from a photo",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "base-dir",
				EnvVars: []string{"BOATSCANNER_HOME"},
				Usage:   "Data directory (default ~/.boatscanner)",
			},
		},
		Commands: []*cli.Command{
			serveCmd(),
			mcpCmd(),
			classifyCmd(),
			creditsCmd(),
			historyCmd(),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// withRuntime opens the runtime for the selected base dir and runs fn.
func withRuntime(c *cli.Context, fn func(*runtime) error) error {
	baseDir, err := resolveBaseDir(c.String("base-dir"))
	if err != nil {
		return outputError(errors.NewInternal(err))
	}
	rt, err := openRuntime(c.Context, baseDir)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer rt.Close()
	return fn(rt)
}

// serveCmd creates the serve command.
func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API and pages",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Aliases: []string{"l"}, Usage: "Listen address (overrides config)"},
		},
		Action: func(c *cli.Context) error {
			return withRuntime(c, func(rt *runtime) error {
				if addr := c.String("listen"); addr != "" {
					rt.deps.Config.ListenAddress = addr
				}
				if rt.verifier == nil && !rt.deps.Config.DevBypassAuth {
					log.Printf("warning: supabase_url is not set; every authenticated route will reject requests")
				}
				return web.Run(web.NewServer(rt.deps, rt.verifier, Version))
			})
		},
	}
}

// mcpCmd creates the mcp command.
func mcpCmd() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Run the MCP server on stdio",
		Action: func(c *cli.Context) error {
			return withRuntime(c, func(rt *runtime) error {
				if unknown := mcp.ValidateDisabledTools(rt.deps.Config.DisabledTools); len(unknown) > 0 {
					log.Printf("warning: unknown disabled_tools: %s (known: %s)",
						strings.Join(unknown, ", "), strings.Join(mcp.AllToolNames(), ", "))
				}
				return mcp.Run(rt.deps, Version)
			})
		},
	}
}

// classifyOutput is the normalized form of a matching-webhook response.
// A success always carries matches.
type classifyOutput struct {
	Kind       normalize.Kind     `json:"kind"`
	Message    string             `json:"message,omitempty"`
	Matches    *[]normalize.Match `json:"matches,omitempty"`
	Reason     string             `json:"reason,omitempty"`
	Chargeable bool               `json:"chargeable"`
}

func newClassifyOutput(resp normalize.Response) classifyOutput {
	out := classifyOutput{
		Kind:       resp.Kind,
		Message:    resp.Message,
		Reason:     resp.Reason,
		Chargeable: resp.Chargeable(),
	}
	if resp.Kind == normalize.KindSuccess {
		matches := resp.Matches
		if matches == nil {
			matches = []normalize.Match{}
		}
		out.Matches = &matches
	}
	return out
}

// classifyCmd creates the classify command.
func classifyCmd() *cli.Command {
	return &cli.Command{
		Name:  "classify",
		Usage: "Normalize a matching-webhook response (reads JSON from stdin)",
		Action: func(c *cli.Context) error {
			if !stdinHasData() {
				return outputError(errors.NewInvalidRequest("payload must be piped via stdin"))
			}
			payload, err := readStdin()
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			if payload == "" {
				return outputError(errors.NewInvalidRequest("payload is required"))
			}

			resp := normalize.Decode([]byte(payload))
			return outputJSON(newClassifyOutput(resp))
		},
	}
}

// creditsCmd creates the credits command group.
func creditsCmd() *cli.Command {
	userFlag := func() cli.Flag {
		return &cli.StringFlag{Name: "user", Aliases: []string{"u"}, Required: true, Usage: "Account id"}
	}
	return &cli.Command{
		Name:  "credits",
		Usage: "Inspect and adjust account credits",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Show a user's balance",
				Flags: []cli.Flag{userFlag()},
				Action: func(c *cli.Context) error {
					return withRuntime(c, func(rt *runtime) error {
						output, err := ops.Credits(c.Context, rt.deps, ops.CreditsInput{UserID: c.String("user")})
						if err != nil {
							return outputError(err)
						}
						return outputJSON(output)
					})
				},
			},
			{
				Name:  "grant",
				Usage: "Add paid credits to a user",
				Flags: []cli.Flag{
					userFlag(),
					&cli.IntFlag{Name: "amount", Aliases: []string{"n"}, Required: true, Usage: "Paid credits to add"},
				},
				Action: func(c *cli.Context) error {
					return withRuntime(c, func(rt *runtime) error {
						output, err := ops.GrantCredits(c.Context, rt.deps, ops.GrantCreditsInput{
							UserID: c.String("user"),
							Amount: c.Int("amount"),
						})
						if err != nil {
							return outputError(err)
						}
						return outputJSON(output)
					})
				},
			},
			{
				Name:  "subscribe",
				Usage: "Extend a user's subscription",
				Flags: []cli.Flag{
					userFlag(),
					&cli.StringFlag{Name: "for", Value: "30d", Usage: "Subscription length, e.g. 30d"},
				},
				Action: func(c *cli.Context) error {
					days, err := parseDuration(c.String("for"))
					if err != nil {
						return outputError(errors.NewInvalidRequest(err.Error()))
					}
					return withRuntime(c, func(rt *runtime) error {
						output, err := ops.Subscribe(c.Context, rt.deps, ops.SubscribeInput{
							UserID: c.String("user"),
							For:    time.Duration(days) * 24 * time.Hour,
						})
						if err != nil {
							return outputError(err)
						}
						return outputJSON(output)
					})
				},
			},
		},
	}
}

// historyCmd creates the history command group.
func historyCmd() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Inspect search history",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List a user's searches, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Required: true, Usage: "Account id"},
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Max results"},
					&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Usage: "Pagination offset"},
				},
				Action: func(c *cli.Context) error {
					return withRuntime(c, func(rt *runtime) error {
						output, err := ops.ListHistory(c.Context, rt.deps, ops.ListHistoryInput{
							UserID: c.String("user"),
							Limit:  c.Int("limit"),
							Offset: c.Int("offset"),
						})
						if err != nil {
							return outputError(err)
						}
						return outputJSON(output)
					})
				},
			},
		},
	}
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var sErr *errors.ScanError
	if stderrors.As(err, &sErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", sErr.Code, sErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads all content from stdin.
func readStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// parseDuration parses "30d" format to days.
func parseDuration(s string) (int, error) {
	if numStr, ok := strings.CutSuffix(s, "d"); ok {
		days, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		if days <= 0 {
			return 0, fmt.Errorf("duration must be positive")
		}
		return days, nil
	}
	return 0, fmt.Errorf("duration must end with 'd' (days), e.g., 30d")
}
