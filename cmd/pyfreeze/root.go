// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/invowk/pyfreeze/internal/config"
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
	// App wires CLI services and shared dependencies. It is the composition
	// root for the CLI layer: every Cobra handler receives an App and reads
	// configuration and output streams through it.
	App struct {
		Config config.Provider
		stdout io.Writer
		stderr io.Writer

		// Values of the persistent root flags.
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

// NewApp creates an App from deps.
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

// NewRootCommand builds the command tree bound to app.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "pyfreeze",
		Short: "Discover the module graph of a Python program without running it",
		Long: TitleStyle.Render("pyfreeze") + SubtitleStyle.Render(" - static import analysis for frozen Python applications") + `

pyfreeze reads the compiled bytecode of entry-point scripts, follows every
import it finds and reports the complete module graph: which modules are
needed, where they come from, which ones are missing and why each one was
pulled in.

` + SubtitleStyle.Render("Examples:") + `
  pyfreeze analyze app.py              Analyze a program and print a summary
  pyfreeze analyze -f json app.py      Emit the graph as JSON
  pyfreeze analyze --strict app.py     Fail when mandatory modules are missing
  pyfreeze scan pkg/__init__.pyc       Show the imports of one code unit
  pyfreeze config show                 Show the effective configuration`,
		SilenceUsage: true,
	}
	root.SetOut(app.stdout)
	root.SetErr(app.stderr)

	root.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "enable verbose output")
	root.PersistentFlags().StringVar(&app.configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/pyfreeze/pyfreeze.cue, then ./pyfreeze.cue)")

	root.AddCommand(newAnalyzeCommand(app))
	root.AddCommand(newScanCommand(app))
	root.AddCommand(newConfigCommand(app))
	root.AddCommand(newHooksCommand(app))
	return root
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI and exits the process with the command's exit code.
// It is called by main.main().
func Execute() {
	app := NewApp(Dependencies{})
	if err := fang.Execute(
		context.Background(),
		NewRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
		fang.WithErrorHandler(errorHandler),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(ExitFailure)
	}
}

// errorHandler leaves ExitErrors alone: their message was rendered by the
// command that returned them.
func errorHandler(w io.Writer, styles fang.Styles, err error) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return
	}
	fang.DefaultErrorHandler(w, styles, err)
}

// loadConfig reads the effective configuration and reports where it came from.
func (app *App) loadConfig(ctx context.Context) (*config.Config, string, error) {
	cfg, source, err := app.Config.LoadWithSource(ctx, config.LoadOptions{ConfigFilePath: app.configPath})
	if err != nil {
		return nil, "", err
	}
	if cfg.UI.Verbose {
		app.verbose = true
	}
	return cfg, source, nil
}

// newLogger builds the process logger and installs it as the slog default.
func (app *App) newLogger() *log.Logger {
	level := log.WarnLevel
	if app.verbose {
		level = log.DebugLevel
	}
	logger := log.NewWithOptions(app.stderr, log.Options{
		Prefix: "pyfreeze",
		Level:  level,
	})
	slog.SetDefault(slog.New(logger))
	return logger
}
