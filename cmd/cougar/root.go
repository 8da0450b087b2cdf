// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the cougar CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/invowk/cougar/internal/config"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

type (
	// App wires CLI services and shared dependencies. Every command handler
	// receives the App and reads configuration through it.
	App struct {
		Config config.Provider
		stdout io.Writer
		stderr io.Writer

		configPath string
		verbose    bool
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config config.Provider
		Stdout io.Writer
		Stderr io.Writer
	}
)

// NewApp builds an App, filling unset dependencies.
func NewApp(deps Dependencies) *App {
	app := &App{Config: deps.Config, stdout: deps.Stdout, stderr: deps.Stderr}
	if app.Config == nil {
		app.Config = config.NewProvider()
	}
	if app.stdout == nil {
		app.stdout = os.Stdout
	}
	if app.stderr == nil {
		app.stderr = os.Stderr
	}
	return app
}

// NewRootCommand builds the command tree for app.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   config.AppName,
		Short: "An RPC execution venue",
		Long: TitleStyle.Render("cougar") + SubtitleStyle.Render(" - an RPC execution venue") + `

cougar dispatches operation invocations through interceptor chains to
registered services, enforcing per-operation timeouts, and serves them
over JSON-RPC (HTTP and websocket) and SSH.

` + SubtitleStyle.Render("Examples:") + `
  cougar serve                                   Run the venue and its transports
  cougar operations                              List registered operations
  cougar invoke HealthService/v3.0/isHealthy     Invoke an operation in-process
  cougar config show --format yaml               Show the effective configuration
  cougar issue 3                                 Explain an error`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(app.stdout)
	root.SetErr(app.stderr)

	root.PersistentFlags().StringVar(&app.configPath, "config", "", "config file (default is <config dir>/cougar/config.cue)")
	root.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "show full error chains")

	root.AddCommand(
		newServeCommand(app),
		newInvokeCommand(app),
		newOperationsCommand(app),
		newConfigCommand(app),
		newIssueCommand(app),
	)
	return root
}

// loadConfig loads configuration honoring the --config flag.
func (a *App) loadConfig(ctx context.Context) (*config.Config, error) {
	return a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: a.configPath})
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI. It is called by main.main.
func Execute() {
	app := NewApp(Dependencies{})
	root := NewRootCommand(app)

	// fang overrides root.Version, so the version goes through WithVersion.
	err := fang.Execute(
		context.Background(),
		root,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
		fang.WithErrorHandler(func(w io.Writer, _ fang.Styles, err error) {
			fmt.Fprintln(w, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, app.verbose))
		}),
	)
	if err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}
