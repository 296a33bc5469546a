// SPDX-License-Identifier: MPL-2.0

package modgraph

import "github.com/invowk/pyfreeze/internal/bytecode"

// DependencyInfo classifies one edge. It is a plain comparable value.
type DependencyInfo struct {
	// Optional is set when failure to import is tolerated by the importer
	// (the import sits in a try block or handler).
	Optional bool `json:"optional" yaml:"optional"`
	// Conditional is set when the import only runs on some branch.
	Conditional bool `json:"conditional" yaml:"conditional"`
	// TryExcept is set when the import sits inside exception handling.
	TryExcept bool `json:"tryexcept" yaml:"tryexcept"`
	// Global is set when the import runs at module level rather than in a function.
	Global bool `json:"global" yaml:"global"`
	// Fromlist is set when the target was named in a from-import list.
	Fromlist bool `json:"fromlist" yaml:"fromlist"`
	// ImportedAs is the local binding name, if known.
	ImportedAs string `json:"imported_as,omitempty" yaml:"imported_as,omitempty"`
}

// hardDependency is the payload of structural edges (submodule to parent,
// alias to target, implied extras, hidden imports).
var hardDependency = DependencyInfo{Global: true}

// Classify turns a scanned import into edge data. optional and global describe
// the call site; the import's own context flags are folded in.
func Classify(info bytecode.ImportInfo, optional, global bool) DependencyInfo {
	return DependencyInfo{
		Optional:    optional || info.InTryExcept,
		Conditional: info.InConditional,
		TryExcept:   info.InTryExcept,
		Global:      global && !info.InFunction,
		ImportedAs:  info.Binding,
	}
}

// Hard reports whether the import runs unconditionally at load time.
func (d DependencyInfo) Hard() bool {
	return !d.Optional && !d.Conditional && !d.TryExcept && d.Global
}

// Mandatory reports whether a failure to resolve the import would break the
// importer on every run.
func (d DependencyInfo) Mandatory() bool {
	return !d.Optional && !d.Conditional
}

// MergeDependencyInfo combines two classifications of the same edge. A hard
// side wins outright (keeping its binding); otherwise the context flags are
// OR-ed and the binding survives only if both sides agree. Fromlist holds only
// if both sides came from from-lists.
func MergeDependencyInfo(old, new DependencyInfo) DependencyInfo {
	fromlist := old.Fromlist && new.Fromlist
	switch {
	case old.Hard():
		old.Fromlist = fromlist
		return old
	case new.Hard():
		new.Fromlist = fromlist
		return new
	}

	merged := DependencyInfo{
		Optional:    old.Optional || new.Optional,
		Conditional: old.Conditional || new.Conditional,
		TryExcept:   old.TryExcept || new.TryExcept,
		Global:      old.Global || new.Global,
		Fromlist:    fromlist,
	}
	if old.ImportedAs == new.ImportedAs {
		merged.ImportedAs = old.ImportedAs
	}
	return merged
}
