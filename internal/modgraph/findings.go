// SPDX-License-Identifier: MPL-2.0

package modgraph

import (
	"slices"
	"time"

	"github.com/invowk/pyfreeze/internal/objgraph"
)

const (
	// SeverityInfo is an expected condition worth listing.
	SeverityInfo Severity = "info"
	// SeverityWarning is a likely packaging gap.
	SeverityWarning Severity = "warning"
	// SeverityError is a defect in the analyzed program.
	SeverityError Severity = "error"
)

// Finding codes.
const (
	CodeMissingModule           = "missing_module"
	CodeMissingOptionalModule   = "missing_optional_module"
	CodeInvalidRelativeImport   = "invalid_relative_import"
	CodeScanFailed              = "scan_failed"
	CodeHookExclusionOverridden = "hook_exclusion_overridden"
	CodeImportCycle             = "import_cycle"
)

type (
	// Severity is the level of a finding.
	Severity string

	// Finding is a soft result of a build, handed to reporting sinks rather
	// than raised as an error.
	Finding struct {
		Severity Severity `json:"severity" yaml:"severity"`
		// Code is a machine-readable identifier (e.g. "missing_module").
		Code    string `json:"code" yaml:"code"`
		Message string `json:"message" yaml:"message"`
		// Module is the node the finding is about.
		Module string `json:"module,omitempty" yaml:"module,omitempty"`
		// Importers lists the nodes whose imports led to the finding.
		Importers []string `json:"importers,omitempty" yaml:"importers,omitempty"`
	}

	// Graph is the module graph type.
	Graph = objgraph.Graph[Node, DependencyInfo]

	// Edge is one enumerated module graph edge.
	Edge = objgraph.Edge[Node, DependencyInfo]

	// Result is everything a build produced.
	Result struct {
		Graph    *Graph
		Findings []Finding
		// Order lists every node dependencies-first.
		Order []Node
		// Missing and InvalidRelative are the distinguished finding sets.
		Missing         []*MissingModule
		InvalidRelative []*InvalidRelativeImport
		Duration        time.Duration
	}
)

// IsValid reports whether s is a known severity.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError:
		return true
	default:
		return false
	}
}

// HasErrors reports whether any finding has error severity.
func (r *Result) HasErrors() bool {
	return slices.ContainsFunc(r.Findings, func(f Finding) bool { return f.Severity == SeverityError })
}

// HasMandatoryMissing reports whether a missing module is needed on every run.
func (r *Result) HasMandatoryMissing() bool {
	return slices.ContainsFunc(r.Findings, func(f Finding) bool { return f.Code == CodeMissingModule })
}

// FindingsByCode returns the findings carrying code.
func (r *Result) FindingsByCode(code string) []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Code == code {
			out = append(out, f)
		}
	}
	return out
}

// CountByKind returns the number of nodes of each kind.
func (r *Result) CountByKind() map[Kind]int {
	counts := make(map[Kind]int)
	for _, n := range r.Graph.Nodes() {
		counts[n.Kind()]++
	}
	return counts
}
