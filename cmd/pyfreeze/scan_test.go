// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestScan_Formats(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "mod.pyc")
	writePyc(t, path, "os", "json.decoder")

	t.Run("json", func(t *testing.T) {
		t.Parallel()
		cli := newTestCLI(t)
		if err := cli.run(t, "scan", "-f", "json", path); err != nil {
			t.Fatalf("scan failed: %v\n%s", err, cli.stderr.String())
		}
		var doc struct {
			File    string `json:"file"`
			Imports []struct {
				Name    string `json:"name"`
				Binding string `json:"binding"`
			} `json:"imports"`
			GlobalsWritten []string `json:"globals_written"`
		}
		if err := json.Unmarshal(cli.stdout.Bytes(), &doc); err != nil {
			t.Fatalf("invalid JSON: %v\n%s", err, cli.stdout.String())
		}
		if doc.File != path {
			t.Errorf("file = %q, want %q", doc.File, path)
		}
		if len(doc.Imports) != 2 || doc.Imports[1].Name != "json.decoder" || doc.Imports[1].Binding != "json" {
			t.Errorf("imports = %+v", doc.Imports)
		}
		if !slices.Equal(doc.GlobalsWritten, []string{"json", "os"}) {
			t.Errorf("globals_written = %v", doc.GlobalsWritten)
		}
	})

	t.Run("yaml", func(t *testing.T) {
		t.Parallel()
		cli := newTestCLI(t)
		if err := cli.run(t, "scan", "-f", "yaml", path); err != nil {
			t.Fatalf("scan failed: %v\n%s", err, cli.stderr.String())
		}
		var doc map[string]any
		if err := yaml.Unmarshal(cli.stdout.Bytes(), &doc); err != nil {
			t.Fatalf("invalid YAML: %v\n%s", err, cli.stdout.String())
		}
		for _, key := range []string{"file", "python_version", "imports", "globals_written", "globals_read"} {
			if _, ok := doc[key]; !ok {
				t.Errorf("YAML output lacks %q:\n%s", key, cli.stdout.String())
			}
		}
	})

	t.Run("text", func(t *testing.T) {
		t.Parallel()
		cli := newTestCLI(t)
		if err := cli.run(t, "scan", path); err != nil {
			t.Fatalf("scan failed: %v\n%s", err, cli.stderr.String())
		}
		out := cli.stdout.String()
		for _, want := range []string{"import os", "import json.decoder", "globals written: json, os"} {
			if !strings.Contains(out, want) {
				t.Errorf("text output lacks %q:\n%s", want, out)
			}
		}
	})
}

func TestScan_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	compiled := filepath.Join(dir, "mod.pyc")
	writePyc(t, compiled, "os")
	source := filepath.Join(dir, "src.py")
	if err := os.WriteFile(source, []byte("import os\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"missing file", []string{"scan", filepath.Join(dir, "nope.pyc")}, "no such file"},
		{"version mismatch", []string{"scan", "--python-version", "3.9", compiled}, "different python version"},
		{"unknown format", []string{"scan", "-f", "toml", compiled}, "unknown scan format"},
		{"source without interpreter", []string{"scan", source}, "no interpreter configured"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cli := newTestCLI(t)
			err := cli.run(t, tt.args...)
			var exitErr *ExitError
			if !errors.As(err, &exitErr) {
				t.Fatalf("expected ExitError, got %v", err)
			}
			if !strings.Contains(cli.stderr.String(), tt.wantErr) {
				t.Errorf("stderr should mention %q:\n%s", tt.wantErr, cli.stderr.String())
			}
		})
	}
}

func TestScanIssue(t *testing.T) {
	t.Parallel()

	if got := scanIssue(errors.New("boom")); got == 0 {
		t.Error("scanIssue should always pick an issue")
	}
}
