// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/invowk/pyfreeze/internal/hooks"
	"github.com/invowk/pyfreeze/internal/issue"
)

func newHooksCommand(app *App) *cobra.Command {
	hooksCmd := &cobra.Command{
		Use:   "hooks",
		Short: "Inspect hook files",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var dirs []string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the hooks found in the configured hook directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := app.loadConfig(cmd.Context())
			if err != nil {
				return app.fail(cmd, newServiceError(err, issue.ConfigLoadFailedId))
			}
			registry, err := hooks.Load(append(cfg.HookDirs, dirs...), app.newLogger())
			if err != nil {
				return app.fail(cmd, newServiceError(err, issue.HookLoadFailedId))
			}
			if registry.Len() == 0 {
				fmt.Fprintln(app.stdout, SubtitleStyle.Render("no hooks found"))
				return nil
			}
			for _, module := range registry.Modules() {
				for _, h := range registry.Hooks(module) {
					fmt.Fprintf(app.stdout, "%s %s\n", ModuleStyle.Render(module), SubtitleStyle.Render(h.Path))
					writeHookDetail(app, "hidden imports", h.HiddenImports)
					writeHookDetail(app, "excluded imports", h.ExcludedImports)
					if len(h.Datas) > 0 {
						fmt.Fprintf(app.stdout, "  data files: %d\n", len(h.Datas))
					}
				}
			}
			return nil
		},
	}
	listCmd.Flags().StringSliceVar(&dirs, "hooks-dir", nil, "additional hook directory (repeatable)")
	hooksCmd.AddCommand(listCmd)
	return hooksCmd
}

func writeHookDetail(app *App, label string, names []string) {
	if len(names) == 0 {
		return
	}
	fmt.Fprintf(app.stdout, "  %s: %s\n", label, strings.Join(names, ", "))
}
