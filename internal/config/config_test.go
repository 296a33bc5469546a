// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"

	"github.com/invowk/pyfreeze/internal/issue"
	"github.com/invowk/pyfreeze/pkg/cueutil"
)

// isolated returns options that never see the user's real configuration.
func isolated(t *testing.T) LoadOptions {
	t.Helper()
	return LoadOptions{ConfigDirPath: t.TempDir(), BaseDir: t.TempDir()}
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, ConfigFileName+"."+ConfigFileExt)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()

	if cfg.Python.Version != DefaultPythonVersion || cfg.Python.Interpreter != "" {
		t.Errorf("python = %+v", cfg.Python)
	}
	if cfg.HookExclusionPolicy != PolicyHook {
		t.Errorf("hook_exclusion_policy = %q", cfg.HookExclusionPolicy)
	}
	if cfg.Cache.Backend != CacheMemory {
		t.Errorf("cache.backend = %q", cfg.Cache.Backend)
	}
	if !slices.Contains(cfg.Builtins, "sys") || !slices.Contains(cfg.Frozen, "zipimport") {
		t.Errorf("builtins = %v, frozen = %v", cfg.Builtins, cfg.Frozen)
	}
	if err := cfg.Validate("<defaults>"); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Parallel()
	cfg, source, err := LoadWithSource(t.Context(), isolated(t))
	if err != nil {
		t.Fatal(err)
	}
	if source != "" {
		t.Errorf("source = %q, want none", source)
	}
	if cfg.Report.Format != "text" || cfg.Platform != DefaultPlatform() {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoad_ConfigDirThenBaseDir(t *testing.T) {
	t.Parallel()
	opts := isolated(t)
	local := writeConfig(t, opts.BaseDir, `python: version: "3.9"`)

	cfg, source, err := LoadWithSource(t.Context(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if source != local || cfg.Python.Version != "3.9" {
		t.Errorf("local file: source = %q, version = %q", source, cfg.Python.Version)
	}

	user := writeConfig(t, opts.ConfigDirPath, `python: version: "3.8"`)
	cfg, source, err = LoadWithSource(t.Context(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if source != user || cfg.Python.Version != "3.8" {
		t.Errorf("config dir should win: source = %q, version = %q", source, cfg.Python.Version)
	}
}

func TestLoad_FullFile(t *testing.T) {
	t.Parallel()
	opts := isolated(t)
	opts.ConfigFilePath = writeConfig(t, t.TempDir(), `
python: {
	interpreter: "env PYTHONHASHSEED=0 'python3.10'"
	version:     "3.10"
}
search_path: ["/app/src", "/app/site-packages"]
platform:    "nt"
excludes: ["tests", "tests.**"]
hook_dirs: ["/app/hooks"]
hook_exclusion_policy: "static"
cache: {
	backend:   "redis"
	redis_url: "redis://localhost:6379/1"
}
report: {
	format: "markdown"
	neo4j: {uri: "bolt://localhost:7687", user: "neo4j", password: "secret"}
	sqlite_path:  "graph.db"
	metrics_file: "pyfreeze.prom"
}
ui: verbose: true
`)

	cfg, err := NewProvider().Load(t.Context(), opts)
	if err != nil {
		t.Fatal(err)
	}
	argv, err := cfg.InterpreterArgv()
	if err != nil || !slices.Equal(argv, []string{"env", "PYTHONHASHSEED=0", "python3.10"}) {
		t.Errorf("InterpreterArgv() = %q, %v", argv, err)
	}
	if !slices.Equal(cfg.SearchPath, []string{"/app/src", "/app/site-packages"}) {
		t.Errorf("search_path = %v", cfg.SearchPath)
	}
	if cfg.Platform != PlatformNT || cfg.HookExclusionPolicy != PolicyStatic || len(cfg.Excludes) != 2 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Cache.Backend != CacheRedis || cfg.Cache.RedisURL != "redis://localhost:6379/1" {
		t.Errorf("cache = %+v", cfg.Cache)
	}
	if cfg.Report.Neo4j.Password != "secret" || cfg.Report.SQLitePath != "graph.db" || !cfg.UI.Verbose {
		t.Errorf("report = %+v, ui = %+v", cfg.Report, cfg.UI)
	}
	if v, err := cfg.PythonVersion(); err != nil || v.Minor != 10 {
		t.Errorf("PythonVersion() = %v, %v", v, err)
	}
	// Defaults survive for keys the file does not mention.
	if !slices.Contains(cfg.Builtins, "sys") {
		t.Errorf("builtins = %v", cfg.Builtins)
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "schema violation", content: `platform: "os2"`, want: "platform"},
		{name: "unknown version", content: `python: version: "2.7"`, want: "python.version"},
		{name: "syntax error", content: `python: {`, want: "pyfreeze.cue"},
		{name: "redis without url", content: `cache: backend: "redis"`, want: "cache.redis_url"},
		{name: "bad pattern", content: `excludes: ["tests.[a"]`, want: "excludes[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			opts := isolated(t)
			opts.ConfigFilePath = writeConfig(t, t.TempDir(), tt.content)

			_, err := NewProvider().Load(t.Context(), opts)
			if err == nil {
				t.Fatal("expected an error")
			}
			var actionable *issue.ActionableError
			if !errors.As(err, &actionable) {
				t.Fatalf("expected *issue.ActionableError, got %T", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Parallel()
	opts := isolated(t)
	opts.ConfigFilePath = filepath.Join(t.TempDir(), "absent.cue")

	_, err := NewProvider().Load(t.Context(), opts)
	var actionable *issue.ActionableError
	if !errors.As(err, &actionable) || !actionable.HasHints() {
		t.Fatalf("expected an actionable error with suggestions, got %v", err)
	}
	if actionable.Resource != opts.ConfigFilePath {
		t.Errorf("resource = %q", actionable.Resource)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PYFREEZE_PYTHON_VERSION", "3.8")
	t.Setenv("PYFREEZE_HOOK_EXCLUSION_POLICY", "static")
	t.Setenv("PYFREEZE_SEARCH_PATH", "/a,/b")

	opts := isolated(t)
	writeConfig(t, opts.ConfigDirPath, `python: version: "3.9"`)

	cfg, err := NewProvider().Load(t.Context(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Python.Version != "3.8" || cfg.HookExclusionPolicy != PolicyStatic {
		t.Errorf("environment did not override: %+v", cfg)
	}
	if !slices.Equal(cfg.SearchPath, []string{"/a", "/b"}) {
		t.Errorf("search_path = %v", cfg.SearchPath)
	}
}

func TestLoad_InvalidEnvironmentValue(t *testing.T) {
	t.Setenv("PYFREEZE_CACHE_BACKEND", "memcached")

	_, err := NewProvider().Load(t.Context(), isolated(t))
	if !errors.Is(err, ErrInvalidCacheBackend) || !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidCacheBackend, got %v", err)
	}
	var verr *cueutil.ValidationError
	if !errors.As(err, &verr) || verr.CUEPath != "cache.backend" || verr.Suggestion == "" {
		t.Errorf("expected a validation error for cache.backend, got %#v", verr)
	}
}

func TestLoad_CanceledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if _, err := NewProvider().Load(ctx, isolated(t)); err == nil {
		t.Fatal("expected an error for a canceled context")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Platform = "beos"
	cfg.HookExclusionPolicy = "maybe"
	cfg.Python.Interpreter = `python "unterminated`
	cfg.Report.Format = "xml"

	err := cfg.Validate("pyfreeze.cue")
	var invalid *InvalidConfigError
	if !errors.As(err, &invalid) || len(invalid.FieldErrors) != 4 {
		t.Fatalf("expected 4 field errors, got %v", err)
	}
	for _, sentinel := range []error{ErrInvalidPlatform, ErrInvalidExclusionPolicy, ErrInvalidInterpreter, ErrInvalidReportFormat} {
		if !errors.Is(err, sentinel) {
			t.Errorf("missing %v", sentinel)
		}
	}
}

func TestGenerateCUE_RoundTrip(t *testing.T) {
	t.Parallel()
	want := DefaultConfig()
	want.Python.Interpreter = "python3"
	want.Excludes = []string{"tests.**"}
	want.Report.SQLitePath = "graph.db"

	opts := isolated(t)
	opts.ConfigFilePath = writeConfig(t, t.TempDir(), GenerateCUE(want))
	got, err := NewProvider().Load(t.Context(), opts)
	if err != nil {
		t.Fatalf("generated config does not load: %v\n%s", err, GenerateCUE(want))
	}
	if got.Python != want.Python || !slices.Equal(got.Excludes, want.Excludes) ||
		!slices.Equal(got.Builtins, want.Builtins) || got.Report != want.Report {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestConfigDir(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG_CONFIG_HOME is only honored on Linux")
	}
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	got, err := ConfigDir()
	if err != nil || got != filepath.Join(dir, AppName) {
		t.Errorf("ConfigDir() = %q, %v", got, err)
	}
}
