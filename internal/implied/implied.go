// SPDX-License-Identifier: MPL-2.0

// Package implied holds the static table of dependencies that bytecode
// scanning cannot discover: extra modules a module loads from native code,
// aliases such as os.path, and names provided at run time.
package implied

import (
	_ "embed"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/invowk/pyfreeze/pkg/cueutil"
)

const (
	// None means no special handling.
	None Kind = iota
	// Extra means further modules must be pulled in alongside the name.
	Extra
	// Alias means the name is another module under a different identifier.
	Alias
	// Virtual means the name is provided at run time and has no file.
	Virtual
)

var (
	//go:embed implied_schema.cue
	schema []byte

	//go:embed implied.cue
	builtinTable []byte

	// ErrInvalidPlatform is returned for platforms other than posix and nt.
	ErrInvalidPlatform = errors.New("invalid platform")
)

type (
	// Kind classifies a table entry.
	Kind uint8

	// Result is the outcome of a lookup.
	Result struct {
		Kind Kind
		// Modules lists the extra modules for Extra.
		Modules []string
		// Target is the real module name for Alias.
		Target string
	}

	// Table is a read-only lookup table for one target platform.
	Table struct {
		platform string
		entries  map[string]Result
	}

	tableFile struct {
		Entries map[string]entryFile `json:"entries"`
	}

	entryFile struct {
		Kind            string            `json:"kind"`
		Modules         []string          `json:"modules,omitempty"`
		Target          string            `json:"target,omitempty"`
		PlatformTargets map[string]string `json:"platform_targets,omitempty"`
	}
)

func (k Kind) String() string {
	switch k {
	case Extra:
		return "extra"
	case Alias:
		return "alias"
	case Virtual:
		return "virtual"
	default:
		return "none"
	}
}

// Default returns the built-in table for platform ("posix" or "nt").
func Default(platform string) (*Table, error) {
	return Parse(builtinTable, "implied.cue", platform)
}

// Parse decodes a table file. Later tables can be layered on top with Extend.
func Parse(data []byte, filename, platform string) (*Table, error) {
	if platform != "posix" && platform != "nt" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPlatform, platform)
	}

	parsed, err := cueutil.Decode[tableFile](schema, data, "#Table", cueutil.WithFilename(filename))
	if err != nil {
		return nil, err
	}

	t := &Table{platform: platform, entries: make(map[string]Result, len(parsed.Entries))}
	for name, e := range parsed.Entries {
		switch e.Kind {
		case "extra":
			t.entries[name] = Result{Kind: Extra, Modules: slices.Clone(e.Modules)}
		case "alias":
			target := e.Target
			if target == "" {
				target = e.PlatformTargets[platform]
			}
			// An alias with no target for this platform does not apply here.
			if target != "" {
				t.entries[name] = Result{Kind: Alias, Target: target}
			}
		case "virtual":
			t.entries[name] = Result{Kind: Virtual}
		case "none":
			t.entries[name] = Result{Kind: None}
		}
	}
	return t, nil
}

// Platform returns the platform the table was built for.
func (t *Table) Platform() string { return t.platform }

// Lookup returns the entry for name. Unknown names yield Kind None.
func (t *Table) Lookup(name string) Result {
	if t == nil {
		return Result{}
	}
	r, ok := t.entries[name]
	if !ok {
		return Result{}
	}
	r.Modules = slices.Clone(r.Modules)
	return r
}

// Extend returns a new table holding t's entries overridden by other's.
func (t *Table) Extend(other *Table) *Table {
	merged := &Table{platform: t.platform, entries: maps.Clone(t.entries)}
	if other != nil {
		maps.Copy(merged.entries, other.entries)
	}
	return merged
}

// Names returns every name with an entry, sorted.
func (t *Table) Names() []string {
	return slices.Sorted(maps.Keys(t.entries))
}
