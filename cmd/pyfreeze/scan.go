// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/invowk/pyfreeze/internal/bytecode"
	"github.com/invowk/pyfreeze/internal/codeunit"
	"github.com/invowk/pyfreeze/internal/issue"
	"github.com/invowk/pyfreeze/internal/pyc"
	"github.com/invowk/pyfreeze/internal/scancache"
)

// scanDocument is the output of pyfreeze scan.
type scanDocument struct {
	File    string `json:"file" yaml:"file"`
	Version string `json:"python_version" yaml:"python_version"`

	bytecode.ScanResult `yaml:",inline"`
}

func newScanCommand(app *App) *cobra.Command {
	var (
		format  string
		version string
		python  string
	)
	cmd := &cobra.Command{
		Use:   "scan <file>",
		Short: "Show the imports and global names of one source or compiled file",
		Long: `Show the imports and global names of one source or compiled file.

The file is compiled if needed and its code unit is scanned exactly the way
analyze does it, without resolving anything. Each import is listed with the
context it appears in: inside a function, under a condition or in a try block.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, _, err := app.loadConfig(ctx)
			if err != nil {
				return app.fail(cmd, newServiceError(err, issue.ConfigLoadFailedId))
			}
			if version != "" {
				cfg.Python.Version = version
			}
			if python != "" {
				cfg.Python.Interpreter = python
			}
			logger := app.newLogger()

			scanner, err := newScanner(cfg, scancache.Nop{}, logger)
			if err != nil {
				return app.fail(cmd, err)
			}
			path, err := filepath.Abs(args[0])
			if err != nil {
				return app.fail(cmd, err)
			}
			result, err := scanner.Scan(ctx, path)
			if err != nil {
				return app.fail(cmd, newServiceError(err, scanIssue(err)))
			}

			doc := scanDocument{File: path, Version: cfg.Python.Version, ScanResult: *result}
			return app.writeScan(cmd, format, doc)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format (text, json, yaml)")
	cmd.Flags().StringVar(&version, "python-version", "", "bytecode version to decode (3.8, 3.9 or 3.10)")
	cmd.Flags().StringVar(&python, "python", "", "interpreter command used to compile sources")
	return cmd
}

// scanIssue picks the help text for a failed scan.
func scanIssue(err error) issue.Id {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return issue.FileNotFoundId
	case errors.Is(err, pyc.ErrUnsupportedVersion), errors.Is(err, codeunit.ErrVersionMismatch):
		return issue.UnsupportedPythonVersionId
	default:
		return issue.CompileFailedId
	}
}

func (app *App) writeScan(cmd *cobra.Command, format string, doc scanDocument) error {
	switch format {
	case "text":
		writeScanText(app.stdout, doc)
	case "json":
		enc := json.NewEncoder(app.stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return app.fail(cmd, err)
		}
	case "yaml":
		enc := yaml.NewEncoder(app.stdout)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return app.fail(cmd, err)
		}
		if err := enc.Close(); err != nil {
			return app.fail(cmd, err)
		}
	default:
		return app.fail(cmd, fmt.Errorf("unknown scan format %q (valid: text, json, yaml)", format))
	}
	return nil
}

func writeScanText(w io.Writer, doc scanDocument) {
	fmt.Fprintf(w, "%s %s\n\n", TitleStyle.Render(doc.File), SubtitleStyle.Render("(python "+doc.Version+")"))
	if len(doc.Imports) == 0 {
		fmt.Fprintln(w, SubtitleStyle.Render("no imports"))
	}
	for _, imp := range doc.Imports {
		line := "  " + ModuleStyle.Render(imp.String())
		if ctx := importContext(imp); ctx != "" {
			line += " " + SubtitleStyle.Render("("+ctx+")")
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "\nglobals written: %s\n", strings.Join(doc.GlobalsWritten.Sorted(), ", "))
	fmt.Fprintf(w, "globals read:    %s\n", strings.Join(doc.GlobalsRead.Sorted(), ", "))
}

func importContext(imp bytecode.ImportInfo) string {
	var parts []string
	if imp.InFunction {
		parts = append(parts, "function "+imp.Scope)
	}
	if imp.InConditional {
		parts = append(parts, "conditional")
	}
	if imp.InTryExcept {
		parts = append(parts, "try")
	}
	return strings.Join(parts, ", ")
}
