// SPDX-License-Identifier: MPL-2.0

package modgraph

import (
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"github.com/invowk/pyfreeze/internal/bytecode"
)

// Node kinds, one per variant.
const (
	KindScript Kind = iota
	KindSourceModule
	KindBytecodeModule
	KindExtensionModule
	KindBuiltinModule
	KindFrozenModule
	KindPackage
	KindNamespacePackage
	KindAlias
	KindVirtual
	KindMissing
	KindExcluded
	KindInvalidRelativeImport
)

const (
	// NamespaceRegular is a package with its own init module.
	NamespaceRegular NamespaceType = "regular"
	// NamespaceImplicit is a PEP 420 directory package.
	NamespaceImplicit NamespaceType = "implicit"
	// NamespaceDeclared is a package whose init module extends its own __path__.
	NamespaceDeclared NamespaceType = "declared"
)

var kindNames = [...]string{
	KindScript:                "Script",
	KindSourceModule:          "SourceModule",
	KindBytecodeModule:        "BytecodeModule",
	KindExtensionModule:       "ExtensionModule",
	KindBuiltinModule:         "BuiltinModule",
	KindFrozenModule:          "FrozenModule",
	KindPackage:               "Package",
	KindNamespacePackage:      "NamespacePackage",
	KindAlias:                 "AliasNode",
	KindVirtual:               "VirtualNode",
	KindMissing:               "MissingModule",
	KindExcluded:              "ExcludedModule",
	KindInvalidRelativeImport: "InvalidRelativeImport",
}

type (
	// Kind identifies a node variant.
	Kind uint8

	// NamespaceType records how a package came to exist.
	NamespaceType string

	// Node is one vertex of the module graph. The set of implementations is
	// closed; consumers switch over the concrete types.
	Node interface {
		Identifier() string
		Kind() Kind
		// Base exposes the fields every variant shares.
		Base() *NodeBase
		sealed()
	}

	// Distribution identifies the installed distribution owning a node.
	Distribution struct {
		Name    string `json:"name"`
		Version string `json:"version,omitempty"`
	}

	// NodeBase holds the fields shared by all variants.
	NodeBase struct {
		// Name is the dotted module name (the file stem for scripts).
		Name string
		// Origin is the file or directory the node came from, if any.
		Origin string
		// Distribution is the owning distribution, if known.
		Distribution *Distribution
		// Attributes is the only mutable state; hooks write to it.
		Attributes map[string]any
	}

	// Globals holds the global names of a code-bearing node.
	Globals struct {
		Written bytecode.NameSet
		Read    bytecode.NameSet
	}

	// Script is an entry point.
	Script struct {
		NodeBase
		Globals
	}

	// SourceModule is a module compiled from a .py file.
	SourceModule struct {
		NodeBase
		Globals
	}

	// BytecodeModule is a module available only as a .pyc file.
	BytecodeModule struct {
		NodeBase
		Globals
	}

	// ExtensionModule is a native extension; it has no code to scan.
	ExtensionModule struct {
		NodeBase
	}

	// BuiltinModule is compiled into the interpreter.
	BuiltinModule struct {
		NodeBase
	}

	// FrozenModule is embedded in the interpreter as frozen bytecode.
	FrozenModule struct {
		NodeBase
	}

	// Package is a module with a search path of its own.
	Package struct {
		NodeBase
		SearchPath []string
		// InitModule is the package's own module; it shares the package name.
		InitModule    Node
		NamespaceType NamespaceType
		HasDataFiles  bool
	}

	// NamespacePackage is a package without init code.
	NamespacePackage struct {
		NodeBase
		SearchPath   []string
		HasDataFiles bool
	}

	// AliasNode is a name that resolves to another module.
	AliasNode struct {
		NodeBase
		Actual string
	}

	// VirtualNode is a name that some other module provides at run time.
	VirtualNode struct {
		NodeBase
	}

	// MissingModule is a name that could not be resolved.
	MissingModule struct {
		NodeBase
	}

	// ExcludedModule is a name deliberately left out of the traversal.
	ExcludedModule struct {
		NodeBase
		Reason string
	}

	// InvalidRelativeImport is a relative import that escapes its top-level package.
	InvalidRelativeImport struct {
		NodeBase
		Level  int
		Module string
	}
)

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Unknown"
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Kinds returns every node kind in declaration order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(kindNames))
	for k := range kindNames {
		kinds = append(kinds, Kind(k))
	}
	return kinds
}

func newBase(name, origin string) NodeBase {
	return NodeBase{Name: name, Origin: origin, Attributes: make(map[string]any)}
}

func (b *NodeBase) Identifier() string { return b.Name }

// Base returns b itself.
func (b *NodeBase) Base() *NodeBase { return b }

func (b *NodeBase) sealed() {}

// Identifier of a script is its path, so two scripts never collide.
func (s *Script) Identifier() string { return s.Origin }

func (*Script) Kind() Kind                { return KindScript }
func (*SourceModule) Kind() Kind          { return KindSourceModule }
func (*BytecodeModule) Kind() Kind        { return KindBytecodeModule }
func (*ExtensionModule) Kind() Kind       { return KindExtensionModule }
func (*BuiltinModule) Kind() Kind         { return KindBuiltinModule }
func (*FrozenModule) Kind() Kind          { return KindFrozenModule }
func (*Package) Kind() Kind               { return KindPackage }
func (*NamespacePackage) Kind() Kind      { return KindNamespacePackage }
func (*AliasNode) Kind() Kind             { return KindAlias }
func (*VirtualNode) Kind() Kind           { return KindVirtual }
func (*MissingModule) Kind() Kind         { return KindMissing }
func (*ExcludedModule) Kind() Kind        { return KindExcluded }
func (*InvalidRelativeImport) Kind() Kind { return KindInvalidRelativeImport }

// NewScript creates a script node for path.
func NewScript(path string) *Script {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return &Script{NodeBase: newBase(stem, path)}
}

// GlobalsOf returns the globals of a code-bearing node and nil for every other
// variant. A package answers with its init module's globals.
func GlobalsOf(n Node) *Globals {
	switch n := n.(type) {
	case *Script:
		return &n.Globals
	case *SourceModule:
		return &n.Globals
	case *BytecodeModule:
		return &n.Globals
	case *Package:
		if n.InitModule == nil {
			return nil
		}
		return GlobalsOf(n.InitModule)
	case *ExtensionModule, *BuiltinModule, *FrozenModule, *NamespacePackage,
		*AliasNode, *VirtualNode, *MissingModule, *ExcludedModule, *InvalidRelativeImport:
		return nil
	default:
		return nil
	}
}

// CodePath returns the file whose code is scanned for n, or "" if n has none.
func CodePath(n Node) string {
	switch n := n.(type) {
	case *Script, *SourceModule, *BytecodeModule:
		return n.Base().Origin
	case *Package:
		if n.InitModule != nil && GlobalsOf(n.InitModule) != nil {
			return n.InitModule.Base().Origin
		}
		return ""
	default:
		return ""
	}
}

// SearchPathOf returns the submodule search path of package-like nodes.
func SearchPathOf(n Node) ([]string, bool) {
	switch n := n.(type) {
	case *Package:
		return n.SearchPath, true
	case *NamespacePackage:
		return n.SearchPath, true
	default:
		return nil, false
	}
}

// IsModuleLike reports whether n stands for something importable that exists.
func IsModuleLike(n Node) bool {
	switch n.(type) {
	case *Script, *SourceModule, *BytecodeModule, *ExtensionModule, *BuiltinModule,
		*FrozenModule, *Package, *NamespacePackage, *AliasNode, *VirtualNode:
		return true
	case *MissingModule, *ExcludedModule, *InvalidRelativeImport:
		return false
	default:
		return false
	}
}

// Summary is a flat, serializable view of a node used by reporting sinks.
type Summary struct {
	Name           string         `json:"name" yaml:"name"`
	Kind           Kind           `json:"kind" yaml:"kind"`
	Origin         string         `json:"origin,omitempty" yaml:"origin,omitempty"`
	Distribution   *Distribution  `json:"distribution,omitempty" yaml:"distribution,omitempty"`
	SearchPath     []string       `json:"search_path,omitempty" yaml:"search_path,omitempty"`
	InitModule     string         `json:"init_module,omitempty" yaml:"init_module,omitempty"`
	NamespaceType  NamespaceType  `json:"namespace_type,omitempty" yaml:"namespace_type,omitempty"`
	HasDataFiles   bool           `json:"has_data_files,omitempty" yaml:"has_data_files,omitempty"`
	Actual         string         `json:"actual,omitempty" yaml:"actual,omitempty"`
	Reason         string         `json:"reason,omitempty" yaml:"reason,omitempty"`
	GlobalsWritten []string       `json:"globals_written,omitempty" yaml:"globals_written,omitempty"`
	Attributes     map[string]any `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// Summarize flattens n.
func Summarize(n Node) Summary {
	b := n.Base()
	s := Summary{
		Name:         n.Identifier(),
		Kind:         n.Kind(),
		Origin:       b.Origin,
		Distribution: b.Distribution,
	}
	if len(b.Attributes) > 0 {
		s.Attributes = maps.Clone(b.Attributes)
	}
	if g := GlobalsOf(n); g != nil {
		s.GlobalsWritten = g.Written.Sorted()
	}

	switch n := n.(type) {
	case *Package:
		s.SearchPath = slices.Clone(n.SearchPath)
		s.NamespaceType = n.NamespaceType
		s.HasDataFiles = n.HasDataFiles
		if n.InitModule != nil {
			s.InitModule = n.InitModule.Kind().String()
		}
	case *NamespacePackage:
		s.SearchPath = slices.Clone(n.SearchPath)
		s.NamespaceType = NamespaceImplicit
		s.HasDataFiles = n.HasDataFiles
	case *AliasNode:
		s.Actual = n.Actual
	case *ExcludedModule:
		s.Reason = n.Reason
	case *InvalidRelativeImport:
		s.Reason = "relative import beyond top-level package"
	case *Script, *SourceModule, *BytecodeModule, *ExtensionModule, *BuiltinModule,
		*FrozenModule, *VirtualNode, *MissingModule:
	}
	return s
}
