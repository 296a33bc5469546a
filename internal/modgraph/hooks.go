// SPDX-License-Identifier: MPL-2.0

package modgraph

import (
	"fmt"

	"github.com/invowk/pyfreeze/internal/hooks"
)

// AttrDatas is the attribute key hook data files are collected under.
const AttrDatas = "datas"

// hookAPI is what a hook sees of the builder: operations on one node.
type hookAPI struct {
	b    *Builder
	node Node
}

func (a *hookAPI) Module() string { return a.node.Identifier() }

func (a *hookAPI) AddDependency(name string) error {
	return a.b.AddDependency(a.node, name)
}

func (a *hookAPI) Exclude(name, reason string) {
	a.b.exclude(name, reason)
}

func (a *hookAPI) AddDataFiles(files ...hooks.DataFile) {
	attrs := a.node.Base().Attributes
	existing, _ := attrs[AttrDatas].([]hooks.DataFile)
	attrs[AttrDatas] = append(existing, files...)

	switch n := a.node.(type) {
	case *Package:
		n.HasDataFiles = true
	case *NamespacePackage:
		n.HasDataFiles = true
	}
}

func (a *hookAPI) SetAttribute(key string, value any) {
	a.node.Base().Attributes[key] = value
}

// hookable reports whether hooks run for n: every concrete module kind.
func hookable(n Node) bool {
	switch n.(type) {
	case *SourceModule, *BytecodeModule, *ExtensionModule, *BuiltinModule, *FrozenModule,
		*Package, *NamespacePackage:
		return true
	case *Script, *AliasNode, *VirtualNode, *MissingModule, *ExcludedModule, *InvalidRelativeImport:
		return false
	default:
		return false
	}
}

// exclude registers a hook exclusion. A name that is already in the graph
// cannot be taken out again; that is reported instead.
func (b *Builder) exclude(name, reason string) {
	if _, ok := b.hookExcluded[name]; ok {
		return
	}
	b.hookExcluded[name] = reason
	if n, ok := b.graph.Find(name); ok && n.Kind() != KindExcluded {
		b.overridden(name, fmt.Sprintf("%s is excluded (%s) but was already imported", name, reason))
	}
}

func (b *Builder) overridden(name, message string) {
	b.logger.Warn("hook exclusion overridden", "module", name)
	b.findings = append(b.findings, Finding{
		Severity: SeverityWarning,
		Code:     CodeHookExclusionOverridden,
		Message:  message,
		Module:   name,
	})
}
