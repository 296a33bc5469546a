// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"runtime"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
	"mvdan.cc/sh/v3/shell"

	"github.com/invowk/pyfreeze/internal/pyc"
	"github.com/invowk/pyfreeze/pkg/cueutil"
	"github.com/invowk/pyfreeze/pkg/platform"
)

const (
	// PlatformPosix selects posixpath for os.path and shared-object extensions.
	PlatformPosix Platform = platform.Posix
	// PlatformNT selects ntpath for os.path and .pyd extensions.
	PlatformNT Platform = platform.NT

	// PolicyHook lets hook exclusions win over static imports.
	PolicyHook ExclusionPolicy = "hook"
	// PolicyStatic keeps hard static imports of hook-excluded names.
	PolicyStatic ExclusionPolicy = "static"

	// CacheNone disables the scan cache.
	CacheNone CacheBackend = "none"
	// CacheMemory keeps scan results for the lifetime of the process.
	CacheMemory CacheBackend = "memory"
	// CacheRedis shares scan results through Redis.
	CacheRedis CacheBackend = "redis"

	// DefaultPythonVersion is the interpreter version analyzed when none is configured.
	DefaultPythonVersion = "3.10"
)

var (
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrInvalidPythonVersion is returned for versions the bytecode decoder does not support.
	ErrInvalidPythonVersion = errors.New("invalid python version")
	// ErrInvalidInterpreter is returned when the interpreter command cannot be split.
	ErrInvalidInterpreter = errors.New("invalid interpreter command")
	// ErrInvalidPlatform is returned for platforms other than posix and nt.
	ErrInvalidPlatform = errors.New("invalid platform")
	// ErrInvalidExclusionPolicy is returned for policies other than hook and static.
	ErrInvalidExclusionPolicy = errors.New("invalid hook exclusion policy")
	// ErrInvalidExcludePattern is returned for malformed doublestar patterns.
	ErrInvalidExcludePattern = errors.New("invalid exclude pattern")
	// ErrInvalidCacheBackend is returned for unknown cache backends.
	ErrInvalidCacheBackend = errors.New("invalid cache backend")
	// ErrMissingRedisURL is returned when the redis backend has no URL.
	ErrMissingRedisURL = errors.New("redis cache backend requires cache.redis_url")
	// ErrInvalidReportFormat is returned for unknown report formats.
	ErrInvalidReportFormat = errors.New("invalid report format")

	reportFormats = []string{"text", "json", "yaml", "markdown"}
)

type (
	// Platform selects platform-dependent resolution.
	Platform string

	// ExclusionPolicy decides hook exclusions that collide with static imports.
	// Defined locally to avoid coupling config to the graph builder.
	ExclusionPolicy string

	// CacheBackend selects the scan cache implementation.
	CacheBackend string

	// InvalidConfigError collects every field error found in a configuration.
	// It wraps ErrInvalidConfig and each field error for errors.Is() compatibility.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the application configuration.
	Config struct {
		Python PythonConfig `json:"python" mapstructure:"python"`
		// SearchPath is used for top-level names, after the directories of the scripts.
		SearchPath        []string `json:"search_path" mapstructure:"search_path"`
		Builtins          []string `json:"builtins" mapstructure:"builtins"`
		Frozen            []string `json:"frozen" mapstructure:"frozen"`
		ExtensionSuffixes []string `json:"extension_suffixes" mapstructure:"extension_suffixes"`
		Platform          Platform `json:"platform" mapstructure:"platform"`
		// Excludes are doublestar patterns over dotted names ("tests.**").
		Excludes            []string        `json:"excludes" mapstructure:"excludes"`
		HookDirs            []string        `json:"hook_dirs" mapstructure:"hook_dirs"`
		HookExclusionPolicy ExclusionPolicy `json:"hook_exclusion_policy" mapstructure:"hook_exclusion_policy"`
		Cache               CacheConfig     `json:"cache" mapstructure:"cache"`
		Report              ReportConfig    `json:"report" mapstructure:"report"`
		UI                  UIConfig        `json:"ui" mapstructure:"ui"`
	}

	// PythonConfig describes the target interpreter.
	PythonConfig struct {
		// Interpreter compiles source files without a fresh __pycache__ entry.
		// Empty disables compilation.
		Interpreter string `json:"interpreter" mapstructure:"interpreter"`
		Version     string `json:"version" mapstructure:"version"`
	}

	// CacheConfig configures the scan cache.
	CacheConfig struct {
		Backend  CacheBackend `json:"backend" mapstructure:"backend"`
		RedisURL string       `json:"redis_url" mapstructure:"redis_url"`
	}

	// ReportConfig configures reporting sinks. Empty destinations are disabled.
	ReportConfig struct {
		Format      string      `json:"format" mapstructure:"format"`
		Neo4j       Neo4jConfig `json:"neo4j" mapstructure:"neo4j"`
		SQLitePath  string      `json:"sqlite_path" mapstructure:"sqlite_path"`
		MetricsFile string      `json:"metrics_file" mapstructure:"metrics_file"`
	}

	// Neo4jConfig holds graph database connection settings.
	Neo4jConfig struct {
		URI      string `json:"uri" mapstructure:"uri"`
		User     string `json:"user" mapstructure:"user"`
		Password string `json:"password" mapstructure:"password"`
	}

	// UIConfig holds UI settings.
	UIConfig struct {
		Verbose bool `json:"verbose" mapstructure:"verbose"`
	}
)

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s", errors.Join(e.FieldErrors...))
}

// Unwrap returns the sentinel and every field error.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}

// String returns the string representation of the Platform.
func (p Platform) String() string { return string(p) }

// DefaultPlatform returns the platform of the running system.
func DefaultPlatform() Platform {
	return Platform(platform.OSName(runtime.GOOS))
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Python: PythonConfig{
			Interpreter: "",
			Version:     DefaultPythonVersion,
		},
		SearchPath: []string{},
		Builtins: []string{
			"_abc", "_codecs", "_collections", "_functools", "_imp", "_io", "_locale",
			"_operator", "_signal", "_sre", "_stat", "_string", "_thread", "_tracemalloc",
			"_warnings", "_weakref", "atexit", "builtins", "errno", "faulthandler", "gc",
			"itertools", "marshal", "posix", "pwd", "sys", "time", "xxsubtype",
		},
		Frozen:              []string{"_frozen_importlib", "_frozen_importlib_external", "zipimport"},
		ExtensionSuffixes:   []string{},
		Platform:            DefaultPlatform(),
		Excludes:            []string{},
		HookDirs:            []string{},
		HookExclusionPolicy: PolicyHook,
		Cache: CacheConfig{
			Backend: CacheMemory,
		},
		Report: ReportConfig{
			Format: "text",
		},
	}
}

// PythonVersion returns the parsed interpreter version.
func (c *Config) PythonVersion() (pyc.Version, error) {
	v, err := pyc.ParseVersion(c.Python.Version)
	if err != nil {
		return pyc.Version{}, fmt.Errorf("%w: %w", ErrInvalidPythonVersion, err)
	}
	return v, nil
}

// InterpreterArgv splits the interpreter command. A nil result means
// compilation is disabled.
func (c *Config) InterpreterArgv() ([]string, error) {
	argv, err := shell.Fields(c.Python.Interpreter, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInterpreter, err)
	}
	return argv, nil
}

// Validate checks the constraints the CUE schema cannot express, and
// re-checks enumerations for values that came from the environment. path
// names the configuration file in error messages.
func (c *Config) Validate(path string) error {
	var errs []error
	fail := func(field, msg, suggestion string, sentinel error) {
		errs = append(errs, &cueutil.ValidationError{
			FilePath:   path,
			CUEPath:    field,
			Message:    msg,
			Suggestion: suggestion,
			Err:        sentinel,
		})
	}

	if _, err := c.PythonVersion(); err != nil {
		fail("python.version", err.Error(), "use 3.8, 3.9 or 3.10", ErrInvalidPythonVersion)
	}
	if _, err := c.InterpreterArgv(); err != nil {
		fail("python.interpreter", err.Error(), "check the quoting of the interpreter command", ErrInvalidInterpreter)
	}
	switch c.Platform {
	case PlatformPosix, PlatformNT:
	default:
		fail("platform", fmt.Sprintf("unknown platform %q", c.Platform), "use posix or nt", ErrInvalidPlatform)
	}
	switch c.HookExclusionPolicy {
	case PolicyHook, PolicyStatic:
	default:
		fail("hook_exclusion_policy", fmt.Sprintf("unknown policy %q", c.HookExclusionPolicy), "use hook or static", ErrInvalidExclusionPolicy)
	}
	for i, pattern := range c.Excludes {
		if pattern == "" || !doublestar.ValidatePattern(pattern) {
			fail(fmt.Sprintf("excludes[%d]", i), fmt.Sprintf("malformed pattern %q", pattern),
				`patterns match dotted names, e.g. "tests" or "tests.**"`, ErrInvalidExcludePattern)
		}
	}
	switch c.Cache.Backend {
	case CacheNone, CacheMemory:
	case CacheRedis:
		if c.Cache.RedisURL == "" {
			fail("cache.redis_url", "missing redis URL", "set cache.redis_url, e.g. redis://localhost:6379/0", ErrMissingRedisURL)
		}
	default:
		fail("cache.backend", fmt.Sprintf("unknown backend %q", c.Cache.Backend), "use none, memory or redis", ErrInvalidCacheBackend)
	}
	if !slices.Contains(reportFormats, c.Report.Format) {
		fail("report.format", fmt.Sprintf("unknown format %q", c.Report.Format), "use text, json, yaml or markdown", ErrInvalidReportFormat)
	}

	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}
