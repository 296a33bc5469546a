// SPDX-License-Identifier: MPL-2.0

// Package hooks loads per-module hook files and applies them to the module
// graph. A hook for module "m" lives in "hook-m.toml" and may name hidden
// imports, exclusions, data files and free-form attributes:
//
//	hiddenimports = ["m._speedups"]
//	excludedimports = ["tkinter"]
//	datas = [{ source = "m/templates", dest = "m/templates" }]
//
//	[attributes]
//	needs_console = true
//
// Hooks never see the graph. They act only through the API the graph
// builder hands them for the module being hooked.
package hooks

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/pelletier/go-toml/v2"
)

const (
	filePrefix = "hook-"
	fileSuffix = ".toml"
)

// ErrInvalidHook is the sentinel wrapped by every hook file error.
var ErrInvalidHook = errors.New("invalid hook file")

type (
	// API is the narrow surface hooks act through. It is bound to one module.
	API interface {
		// Module returns the dotted name of the hooked module.
		Module() string
		// AddDependency adds a hard dependency of the hooked module on name.
		AddDependency(name string) error
		// Exclude keeps name out of the traversal.
		Exclude(name, reason string)
		// AddDataFiles records data files the hooked module needs at run time.
		AddDataFiles(files ...DataFile)
		// SetAttribute stores a value in the hooked module's attributes.
		SetAttribute(key string, value any)
	}

	// DataFile is one file or directory to ship next to the code.
	DataFile struct {
		Source string `toml:"source" json:"source" yaml:"source"`
		Dest   string `toml:"dest" json:"dest" yaml:"dest"`
	}

	// Hook is one parsed hook file.
	Hook struct {
		// Module is derived from the file name.
		Module string `toml:"-"`
		// Path is the file the hook was read from.
		Path string `toml:"-"`

		HiddenImports   []string       `toml:"hiddenimports"`
		ExcludedImports []string       `toml:"excludedimports"`
		Datas           []DataFile     `toml:"datas"`
		Attributes      map[string]any `toml:"attributes"`
	}

	// Registry maps module names to their hooks, in load order.
	Registry struct {
		byModule map[string][]*Hook
		logger   *log.Logger
	}

	// HookError describes a hook file that could not be loaded.
	HookError struct {
		Path string
		Err  error
	}
)

func (e *HookError) Error() string { return fmt.Sprintf("hook %s: %v", e.Path, e.Err) }

// Unwrap returns ErrInvalidHook joined with the underlying cause.
func (e *HookError) Unwrap() []error { return []error{ErrInvalidHook, e.Err} }

// ModuleForFile returns the module a hook file name targets, or false if the
// name does not follow the hook-<module>.toml pattern.
func ModuleForFile(name string) (string, bool) {
	base := filepath.Base(name)
	if !strings.HasPrefix(base, filePrefix) || !strings.HasSuffix(base, fileSuffix) {
		return "", false
	}
	module := strings.TrimSuffix(strings.TrimPrefix(base, filePrefix), fileSuffix)
	if module == "" {
		return "", false
	}
	return module, true
}

// Parse decodes a hook file. Unknown keys are rejected so that misspelled
// directives do not pass silently.
func Parse(data []byte, module, path string) (*Hook, error) {
	var h Hook
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&h); err != nil {
		return nil, &HookError{Path: path, Err: fmt.Errorf("parsing hook TOML: %w", err)}
	}
	h.Module = module
	h.Path = path
	for _, name := range slices.Concat(h.HiddenImports, h.ExcludedImports) {
		if name == "" || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
			return nil, &HookError{Path: path, Err: fmt.Errorf("invalid module name %q", name)}
		}
	}
	for _, d := range h.Datas {
		if d.Source == "" {
			return nil, &HookError{Path: path, Err: errors.New("data file entry without source")}
		}
	}
	return &h, nil
}

// NewRegistry creates an empty registry. A nil logger discards output.
func NewRegistry(logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Registry{byModule: make(map[string][]*Hook), logger: logger}
}

// Load reads every hook-*.toml file found directly in dirs. Directories that
// do not exist are skipped.
func Load(dirs []string, logger *log.Logger) (*Registry, error) {
	r := NewRegistry(logger)
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				r.logger.Debug("hook directory does not exist", "dir", dir)
				continue
			}
			return nil, fmt.Errorf("reading hook directory %s: %w", dir, err)
		}
		for _, e := range entries {
			module, ok := ModuleForFile(e.Name())
			if e.IsDir() || !ok {
				continue
			}
			path := filepath.Join(dir, e.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, &HookError{Path: path, Err: err}
			}
			h, err := Parse(data, module, path)
			if err != nil {
				return nil, err
			}
			r.Add(h)
		}
	}
	return r, nil
}

// Add registers h after any hooks already known for its module.
func (r *Registry) Add(h *Hook) {
	r.byModule[h.Module] = append(r.byModule[h.Module], h)
}

// Hooks returns the hooks registered for module.
func (r *Registry) Hooks(module string) []*Hook {
	if r == nil {
		return nil
	}
	return slices.Clone(r.byModule[module])
}

// Modules returns every hooked module name, sorted.
func (r *Registry) Modules() []string {
	if r == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(r.byModule))
}

// Len returns the number of registered hooks.
func (r *Registry) Len() int {
	n := 0
	for _, hs := range r.byModule {
		n += len(hs)
	}
	return n
}

// Apply runs every hook registered for api.Module().
func (r *Registry) Apply(api API) error {
	if r == nil {
		return nil
	}
	for _, h := range r.byModule[api.Module()] {
		r.logger.Debug("applying hook", "module", h.Module, "path", h.Path)
		if err := h.Apply(api); err != nil {
			return err
		}
	}
	return nil
}

// Apply feeds the hook's directives to api. Exclusions go first so that a
// hidden import of an excluded name is excluded too.
func (h *Hook) Apply(api API) error {
	for _, name := range h.ExcludedImports {
		api.Exclude(name, "excluded by "+filepath.Base(h.Path))
	}
	for _, name := range h.HiddenImports {
		if err := api.AddDependency(name); err != nil {
			return &HookError{Path: h.Path, Err: err}
		}
	}
	if len(h.Datas) > 0 {
		api.AddDataFiles(h.Datas...)
	}
	for _, key := range slices.Sorted(maps.Keys(h.Attributes)) {
		api.SetAttribute(key, h.Attributes[key])
	}
	return nil
}
