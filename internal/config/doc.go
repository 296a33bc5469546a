// SPDX-License-Identifier: MPL-2.0

// Package config handles application configuration using Viper with CUE as the file format.
//
// Configuration is loaded from the file given with --config, otherwise from
// pyfreeze.cue in the user config directory ($XDG_CONFIG_HOME/pyfreeze on Linux,
// ~/Library/Application Support/pyfreeze on macOS, %APPDATA%\pyfreeze on Windows),
// otherwise from pyfreeze.cue in the working directory. Every key can be
// overridden from the environment with the PYFREEZE_ prefix, dots becoming
// underscores (PYFREEZE_PYTHON_VERSION, PYFREEZE_CACHE_BACKEND).
//
// Files are validated against the embedded CUE schema (config_schema.cue);
// constraints CUE cannot express are checked by Config.IsValid.
package config
