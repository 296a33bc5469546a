// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/invowk/pyfreeze/internal/issue"
	"github.com/invowk/pyfreeze/pkg/cueutil"
)

const (
	// AppName is the application name.
	AppName = "pyfreeze"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "pyfreeze"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes environment overrides (PYFREEZE_PYTHON_VERSION).
	EnvPrefix = "PYFREEZE"
)

//go:embed config_schema.cue
var configSchema []byte

// ConfigDir returns the pyfreeze directory below the user configuration
// directory: %AppData% on Windows, ~/Library/Application Support on macOS
// and $XDG_CONFIG_HOME (default ~/.config) elsewhere.
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locating the user configuration directory: %w", err)
	}
	return filepath.Join(dir, AppName), nil
}

// loadWithOptions performs option-driven config loading. It returns the
// configuration and the path of the file it came from ("" for defaults only).
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	resolvedPath := ""

	// A config file given with --config is used exclusively.
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return nil, "", issue.NewActionableError("load configuration", opts.ConfigFilePath,
				fmt.Errorf("config file not found: %w", os.ErrNotExist),
				"check the path given with --config",
				"run 'pyfreeze config init' to create a configuration file")
		}
		if err := loadCUEIntoViper(v, opts.ConfigFilePath); err != nil {
			return nil, "", loadError(opts.ConfigFilePath, err)
		}
		resolvedPath = opts.ConfigFilePath
	} else {
		cfgDir, err := configDirWithOverride(opts.ConfigDirPath)
		if err != nil {
			return nil, "", err
		}

		candidates := []string{
			filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt),
			filepath.Join(opts.BaseDir, ConfigFileName+"."+ConfigFileExt),
		}
		for _, path := range candidates {
			if !fileExists(path) {
				continue
			}
			if err := loadCUEIntoViper(v, path); err != nil {
				return nil, "", loadError(path, err)
			}
			resolvedPath = path
			break
		}
		// If no config file is found the defaults apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	source := resolvedPath
	if source == "" {
		source = "<defaults>"
	}
	if err := cfg.Validate(source); err != nil {
		return nil, "", issue.NewActionableError("validate configuration", source, err,
			"check values set through "+EnvPrefix+"_* environment variables",
			"run 'pyfreeze config show' to see the effective configuration")
	}

	return &cfg, resolvedPath, nil
}

func setDefaults(v *viper.Viper) {
	defaults := DefaultConfig()
	v.SetDefault("python.interpreter", defaults.Python.Interpreter)
	v.SetDefault("python.version", defaults.Python.Version)
	v.SetDefault("search_path", defaults.SearchPath)
	v.SetDefault("builtins", defaults.Builtins)
	v.SetDefault("frozen", defaults.Frozen)
	v.SetDefault("extension_suffixes", defaults.ExtensionSuffixes)
	v.SetDefault("platform", defaults.Platform)
	v.SetDefault("excludes", defaults.Excludes)
	v.SetDefault("hook_dirs", defaults.HookDirs)
	v.SetDefault("hook_exclusion_policy", defaults.HookExclusionPolicy)
	v.SetDefault("cache.backend", defaults.Cache.Backend)
	v.SetDefault("cache.redis_url", defaults.Cache.RedisURL)
	v.SetDefault("report.format", defaults.Report.Format)
	v.SetDefault("report.neo4j.uri", defaults.Report.Neo4j.URI)
	v.SetDefault("report.neo4j.user", defaults.Report.Neo4j.User)
	v.SetDefault("report.neo4j.password", defaults.Report.Neo4j.Password)
	v.SetDefault("report.sqlite_path", defaults.Report.SQLitePath)
	v.SetDefault("report.metrics_file", defaults.Report.MetricsFile)
	v.SetDefault("ui.verbose", defaults.UI.Verbose)
}

func loadError(path string, err error) error {
	return issue.NewActionableError("load configuration", path, err,
		"check the CUE syntax and the field names",
		"see 'pyfreeze config --help' for the available settings")
}

// configDirWithOverride resolves the configuration directory, honoring
// explicit provider options before platform defaults.
func configDirWithOverride(configDirPath string) (string, error) {
	if configDirPath != "" {
		return configDirPath, nil
	}

	return ConfigDir()
}

// loadCUEIntoViper validates a CUE file against #Config and merges it into
// v. Fields are optional, so the file decodes into a map that leaves the
// defaults and environment overrides of v in place.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	configMap, err := cueutil.Decode[map[string]any](configSchema, data, "#Config",
		cueutil.WithFilename(path), cueutil.WithConcrete(false))
	if err != nil {
		return err
	}

	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

// fileExists checks if a file exists and is not a directory
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// GenerateCUE generates a CUE representation of the configuration
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// pyfreeze configuration\n\n")

	sb.WriteString("python: {\n")
	fmt.Fprintf(&sb, "\tinterpreter: %q\n", cfg.Python.Interpreter)
	fmt.Fprintf(&sb, "\tversion:     %q\n", cfg.Python.Version)
	sb.WriteString("}\n\n")

	writeList(&sb, "search_path", cfg.SearchPath)
	writeList(&sb, "builtins", cfg.Builtins)
	writeList(&sb, "frozen", cfg.Frozen)
	writeList(&sb, "extension_suffixes", cfg.ExtensionSuffixes)
	fmt.Fprintf(&sb, "platform: %q\n", cfg.Platform)
	writeList(&sb, "excludes", cfg.Excludes)
	writeList(&sb, "hook_dirs", cfg.HookDirs)
	fmt.Fprintf(&sb, "hook_exclusion_policy: %q\n", cfg.HookExclusionPolicy)

	sb.WriteString("\ncache: {\n")
	fmt.Fprintf(&sb, "\tbackend: %q\n", cfg.Cache.Backend)
	if cfg.Cache.RedisURL != "" {
		fmt.Fprintf(&sb, "\tredis_url: %q\n", cfg.Cache.RedisURL)
	}
	sb.WriteString("}\n")

	sb.WriteString("\nreport: {\n")
	fmt.Fprintf(&sb, "\tformat: %q\n", cfg.Report.Format)
	if cfg.Report.Neo4j.URI != "" {
		sb.WriteString("\tneo4j: {\n")
		fmt.Fprintf(&sb, "\t\turi:  %q\n", cfg.Report.Neo4j.URI)
		fmt.Fprintf(&sb, "\t\tuser: %q\n", cfg.Report.Neo4j.User)
		sb.WriteString("\t}\n")
	}
	if cfg.Report.SQLitePath != "" {
		fmt.Fprintf(&sb, "\tsqlite_path: %q\n", cfg.Report.SQLitePath)
	}
	if cfg.Report.MetricsFile != "" {
		fmt.Fprintf(&sb, "\tmetrics_file: %q\n", cfg.Report.MetricsFile)
	}
	sb.WriteString("}\n")

	sb.WriteString("\nui: {\n")
	fmt.Fprintf(&sb, "\tverbose: %v\n", cfg.UI.Verbose)
	sb.WriteString("}\n")

	return sb.String()
}

func writeList(sb *strings.Builder, key string, values []string) {
	if len(values) == 0 {
		fmt.Fprintf(sb, "%s: []\n", key)
		return
	}
	fmt.Fprintf(sb, "%s: [\n", key)
	for _, v := range values {
		fmt.Fprintf(sb, "\t%q,\n", v)
	}
	sb.WriteString("]\n")
}
