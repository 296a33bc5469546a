// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/invowk/pyfreeze/internal/config"
	"github.com/invowk/pyfreeze/internal/issue"
)

// newConfigCommand creates the `pyfreeze config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect pyfreeze configuration",
		Long: `Inspect pyfreeze configuration.

Configuration is read from the file given with --config, otherwise from:
  - Linux: $XDG_CONFIG_HOME/pyfreeze/pyfreeze.cue (~/.config/pyfreeze/pyfreeze.cue)
  - macOS: ~/Library/Application Support/pyfreeze/pyfreeze.cue
  - Windows: %APPDATA%\pyfreeze\pyfreeze.cue
and then from pyfreeze.cue in the working directory. Every value can be
overridden with a PYFREEZE_* environment variable, e.g. PYFREEZE_PYTHON_VERSION.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration as CUE",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, source, err := app.loadConfig(cmd.Context())
			if err != nil {
				return app.fail(cmd, newServiceError(err, issue.ConfigLoadFailedId))
			}
			if source == "" {
				source = "defaults"
			}
			fmt.Fprintf(app.stdout, "// source: %s\n", source)
			fmt.Fprint(app.stdout, config.GenerateCUE(cfg))
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the configuration file in use",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, source, err := app.loadConfig(cmd.Context())
			if err != nil {
				return app.fail(cmd, newServiceError(err, issue.ConfigLoadFailedId))
			}
			if source == "" {
				dir, err := config.ConfigDir()
				if err != nil {
					return app.fail(cmd, err)
				}
				fmt.Fprintf(app.stdout, "%s %s\n", SubtitleStyle.Render("no configuration file, default location:"),
					filepath.Join(dir, config.ConfigFileName+"."+config.ConfigFileExt))
				return nil
			}
			fmt.Fprintln(app.stdout, source)
			return nil
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration to a file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ConfigFileName + "." + config.ConfigFileExt
			if len(args) == 1 {
				path = args[0]
			}
			if err := writeDefaultConfig(path, force); err != nil {
				return app.fail(cmd, err)
			}
			fmt.Fprintf(app.stdout, "%s %s\n", SuccessStyle.Render("Created"), path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cfgCmd.AddCommand(initCmd)

	return cfgCmd
}

func writeDefaultConfig(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return issue.NewActionableError("create configuration", path,
				errors.New("file already exists"), "pass --force to overwrite it")
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, []byte(config.GenerateCUE(config.DefaultConfig())), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
