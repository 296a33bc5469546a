// SPDX-License-Identifier: MPL-2.0

// Package resolver locates Python modules on a search path the way the
// interpreter's path-based finder does, and attributes them to installed
// distributions.
package resolver

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/invowk/pyfreeze/pkg/platform"
)

// Resolution outcomes.
const (
	NotFound Kind = iota
	Builtin
	Frozen
	Source
	Compiled
	Extension
	Package
	Namespace
)

type (
	// Kind is what a lookup found.
	Kind uint8

	// Spec describes a found module.
	Spec struct {
		Name string
		Kind Kind
		// Path is the module file, or the package directory.
		Path string
		// SearchPath holds the directories submodules are looked up in.
		SearchPath []string
		// InitKind and InitPath describe a regular package's __init__ module.
		InitKind Kind
		InitPath string
		// HasDataFiles is set for package directories carrying non-code files.
		HasDataFiles bool
		Distribution *Distribution
	}

	// Options configures a FileResolver.
	Options struct {
		// Builtins are names compiled into the interpreter.
		Builtins []string
		// Frozen are names embedded as frozen modules.
		Frozen []string
		// ExtensionSuffixes are the native module suffixes, in lookup order.
		ExtensionSuffixes []string
		Logger            *log.Logger
	}

	// FileResolver resolves against the local filesystem.
	FileResolver struct {
		builtins   map[string]bool
		frozen     map[string]bool
		extensions []string
		logger     *log.Logger

		mu      sync.Mutex
		indexed map[string]bool
		dists   map[string][]*Distribution
	}
)

func (k Kind) String() string {
	switch k {
	case Builtin:
		return "builtin"
	case Frozen:
		return "frozen"
	case Source:
		return "source"
	case Compiled:
		return "compiled"
	case Extension:
		return "extension"
	case Package:
		return "package"
	case Namespace:
		return "namespace"
	default:
		return "not-found"
	}
}

// DefaultExtensionSuffixes returns the usual native module suffixes for the
// target whose os.name is osName.
func DefaultExtensionSuffixes(osName string) []string {
	return platform.ExtensionSuffixes(osName)
}

// New creates a FileResolver.
func New(opts Options) *FileResolver {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	extensions := opts.ExtensionSuffixes
	if len(extensions) == 0 {
		extensions = DefaultExtensionSuffixes(platform.Posix)
	}
	r := &FileResolver{
		builtins:   make(map[string]bool, len(opts.Builtins)),
		frozen:     make(map[string]bool, len(opts.Frozen)),
		extensions: slices.Clone(extensions),
		logger:     logger,
		indexed:    make(map[string]bool),
		dists:      make(map[string][]*Distribution),
	}
	for _, name := range opts.Builtins {
		r.builtins[name] = true
	}
	for _, name := range opts.Frozen {
		r.frozen[name] = true
	}
	return r
}

// Resolve looks name up on searchPath. name is the full dotted name; only its
// last component is looked for in each directory. A module that is not found
// is reported as Kind NotFound, not as an error.
func (r *FileResolver) Resolve(ctx context.Context, name string, searchPath []string) (Spec, error) {
	if err := ctx.Err(); err != nil {
		return Spec{}, fmt.Errorf("resolve %s: %w", name, err)
	}

	switch {
	case r.builtins[name]:
		return Spec{Name: name, Kind: Builtin}, nil
	case r.frozen[name]:
		return Spec{Name: name, Kind: Frozen}, nil
	}

	last := name[strings.LastIndex(name, ".")+1:]
	var portions []string
	for _, entry := range searchPath {
		spec, portion, ok := r.findIn(entry, name, last)
		if ok {
			spec.Distribution = r.distributionFor(spec.Path, name)
			return spec, nil
		}
		if portion != "" {
			portions = append(portions, portion)
		}
	}

	if len(portions) > 0 {
		spec := Spec{Name: name, Kind: Namespace, Path: portions[0], SearchPath: portions}
		for _, p := range portions {
			if hasDataFiles(p, r.extensions) {
				spec.HasDataFiles = true
				break
			}
		}
		spec.Distribution = r.distributionFor(portions[0], name)
		return spec, nil
	}
	return Spec{Name: name, Kind: NotFound}, nil
}

// findIn checks one search path entry. It returns either a complete spec, or
// the directory to record as a namespace portion.
func (r *FileResolver) findIn(entry, name, last string) (Spec, string, bool) {
	base := filepath.Join(entry, last)

	portion := ""
	if isDir(base) {
		if kind, init := r.findInit(base); kind != NotFound {
			return Spec{
				Name:         name,
				Kind:         Package,
				Path:         base,
				SearchPath:   []string{base},
				InitKind:     kind,
				InitPath:     init,
				HasDataFiles: hasDataFiles(base, r.extensions),
			}, "", true
		}
		portion = base
	}

	for _, suffix := range r.extensions {
		if isFile(base + suffix) {
			return Spec{Name: name, Kind: Extension, Path: base + suffix}, "", true
		}
	}
	if isFile(base + ".py") {
		return Spec{Name: name, Kind: Source, Path: base + ".py"}, "", true
	}
	if isFile(base + ".pyc") {
		return Spec{Name: name, Kind: Compiled, Path: base + ".pyc"}, "", true
	}
	return Spec{}, portion, false
}

func (r *FileResolver) findInit(dir string) (Kind, string) {
	init := filepath.Join(dir, "__init__")
	for _, suffix := range r.extensions {
		if isFile(init + suffix) {
			return Extension, init + suffix
		}
	}
	if isFile(init + ".py") {
		return Source, init + ".py"
	}
	if isFile(init + ".pyc") {
		return Compiled, init + ".pyc"
	}
	return NotFound, ""
}

// hasDataFiles reports whether a package directory holds files that are not
// Python code, or subdirectories that are not packages.
func hasDataFiles(dir string, extensions []string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			if name == "__pycache__" || strings.HasPrefix(name, ".") {
				continue
			}
			if !containsCode(filepath.Join(dir, name), extensions) {
				return true
			}
			continue
		}
		if !isCodeFile(name, extensions) {
			return true
		}
	}
	return false
}

func containsCode(dir string, extensions []string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && isCodeFile(e.Name(), extensions) {
			return true
		}
	}
	return false
}

func isCodeFile(name string, extensions []string) bool {
	switch filepath.Ext(name) {
	case ".py", ".pyc", ".pyo", ".pyi":
		return true
	}
	for _, suffix := range extensions {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
