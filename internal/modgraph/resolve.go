// SPDX-License-Identifier: MPL-2.0

package modgraph

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/invowk/pyfreeze/internal/bytecode"
	"github.com/invowk/pyfreeze/internal/implied"
	"github.com/invowk/pyfreeze/internal/resolver"
)

// processImport turns one import statement of source into nodes and edges.
func (b *Builder) processImport(ctx context.Context, source Node, info bytecode.ImportInfo, dep DependencyInfo) error {
	target, err := b.importTarget(ctx, source, info, dep)
	if err != nil {
		return err
	}

	switch {
	case info.StarImport:
		return b.mergeStar(source, target)
	case target != nil && len(info.Names) > 0:
		for _, n := range info.Names {
			fromDep := dep
			fromDep.Fromlist = true
			fromDep.ImportedAs = info.NameBindings[n]
			if err := b.importFromName(ctx, source, target, n, fromDep); err != nil {
				return err
			}
		}
	}
	return nil
}

// importTarget resolves the module named by an import statement. It returns
// nil when the statement names no module that can be loaded.
func (b *Builder) importTarget(ctx context.Context, source Node, info bytecode.ImportInfo, dep DependencyInfo) (Node, error) {
	name := info.Name
	if info.Level > 0 {
		base, ok := relativeBase(source, info.Level)
		if !ok {
			return nil, b.addInvalidRelative(source, info, dep)
		}
		name = joinName(base, info.Name)
	}
	if name == "" {
		b.logger.Warn("ignoring import without a module name", "module", source.Identifier(), "import", info.String())
		return nil, nil
	}
	return b.importModule(ctx, name, source, dep)
}

// importModule loads every prefix of name, parents first, and links source
// to the last one. Importing a.b.c runs a and a.b as well; that is expressed
// by the submodule-to-parent edges rather than by edges from source.
func (b *Builder) importModule(ctx context.Context, name string, source Node, dep DependencyInfo) (Node, error) {
	var parent, n Node
	parts := strings.Split(name, ".")
	for i := range parts {
		var err error
		n, err = b.load(ctx, strings.Join(parts[:i+1], "."), parent, dep, true)
		if err != nil {
			return nil, err
		}
		parent = n
	}
	if source != nil {
		if err := b.addImportEdge(source, n, dep); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// importFromName handles one name of "from pkg import name". The name is a
// submodule if one exists; otherwise it is an attribute of pkg when pkg's code
// binds it, and missing when it does not. That last check needs pkg's final
// globals, star re-exports included, so it waits for pkg to finish.
func (b *Builder) importFromName(ctx context.Context, source, pkg Node, name string, dep DependencyInfo) error {
	switch pkg.(type) {
	case *Package, *NamespacePackage:
	default:
		return nil
	}

	child, err := b.load(ctx, pkg.Identifier()+"."+name, pkg, dep, false)
	if err != nil {
		return err
	}
	if child != nil {
		return b.addImportEdge(source, child, dep)
	}
	if _, ok := pkg.(*NamespacePackage); ok {
		return b.fromNameMissing(source, pkg, name, dep)
	}

	if b.dp.IsFinished(pkg.Identifier()) {
		return b.resolveFromName(source, pkg, name, dep)
	}
	b.logger.Debug("deferring from-import", "package", pkg.Identifier(), "name", name, "importer", source.Identifier())
	return b.dp.WaitFor(pkg.Identifier(), source.Identifier(), func(_, _ string) error {
		return b.resolveFromName(source, pkg, name, dep)
	})
}

func (b *Builder) resolveFromName(source, pkg Node, name string, dep DependencyInfo) error {
	g := GlobalsOf(pkg)
	// Without scanned globals there is nothing to contradict the attribute.
	if g == nil || g.Written == nil || g.Written.Has(name) {
		b.logger.Debug("from-import name is an attribute", "package", pkg.Identifier(), "name", name)
		return nil
	}
	return b.fromNameMissing(source, pkg, name, dep)
}

func (b *Builder) fromNameMissing(source, pkg Node, name string, dep DependencyInfo) error {
	full := pkg.Identifier() + "." + name
	n, ok := b.graph.Find(full)
	if !ok {
		var err error
		if n, err = b.addLeaf(&MissingModule{NodeBase: newBase(full, "")}, pkg); err != nil {
			return err
		}
	}
	return b.addImportEdge(source, n, dep)
}

// mergeStar copies the public globals of target into source once target has
// finished, then counts the star import of source as merged.
func (b *Builder) mergeStar(source, target Node) error {
	if target == nil || target.Identifier() == source.Identifier() || GlobalsOf(source) == nil {
		return b.starMerged(source)
	}
	id := target.Identifier()
	return b.dp.WaitFor(id, id, func(_, _ string) error {
		tg, sg := GlobalsOf(target), GlobalsOf(source)
		if tg == nil || sg == nil {
			return b.starMerged(source)
		}
		if sg.Written == nil {
			sg.Written = make(bytecode.NameSet)
		}
		merged := 0
		for name := range tg.Written {
			if !strings.HasPrefix(name, "_") && !sg.Written.Has(name) {
				sg.Written.Add(name)
				merged++
			}
		}
		b.logger.Debug("star import merged", "from", target.Identifier(), "into", source.Identifier(), "names", merged)
		return b.starMerged(source)
	})
}

func (b *Builder) starMerged(n Node) error {
	id := n.Identifier()
	left, ok := b.stars[id]
	switch {
	case !ok:
		return nil
	case left > 1:
		b.stars[id] = left - 1
		return nil
	}
	delete(b.stars, id)
	return b.settle(id)
}

// load returns the node for name, creating it if needed. parent is the node
// of the enclosing package (nil for top-level names). When createMissing is
// false an unresolvable name yields a nil node and no graph change.
func (b *Builder) load(ctx context.Context, name string, parent Node, dep DependencyInfo, createMissing bool) (Node, error) {
	if n, ok := b.graph.Find(name); ok && !b.revives(n, dep) {
		return n, nil
	}

	if pattern, ok := b.excludedByPattern(name); ok {
		return b.addLeaf(&ExcludedModule{NodeBase: newBase(name, ""), Reason: "matches exclude pattern " + pattern}, parent)
	}
	if ex, ok := parent.(*ExcludedModule); ok {
		return b.addLeaf(&ExcludedModule{NodeBase: newBase(name, ""), Reason: ex.Reason}, parent)
	}
	if reason, ok := b.hookExcluded[name]; ok {
		if b.opts.ExclusionPolicy == PolicyHook || !dep.Hard() {
			return b.addLeaf(&ExcludedModule{NodeBase: newBase(name, ""), Reason: reason}, parent)
		}
		b.overridden(name, fmt.Sprintf("%s is excluded (%s) but imported unconditionally; resolving it anyway", name, reason))
	}

	entry := b.opts.Implied.Lookup(name)
	switch entry.Kind {
	case implied.Alias:
		n := &AliasNode{NodeBase: newBase(name, ""), Actual: entry.Target}
		if _, err := b.addLeaf(n, parent); err != nil {
			return nil, err
		}
		b.enqueue(workItem{kind: workImport, node: n, info: bytecode.ImportInfo{Name: entry.Target}, dep: hardDependency})
		return n, nil
	case implied.Virtual:
		return b.addLeaf(&VirtualNode{NodeBase: newBase(name, "")}, parent)
	case implied.None, implied.Extra:
	}

	spec, err := b.find(ctx, name, parent)
	if err != nil {
		return nil, err
	}
	if spec.Kind == resolver.NotFound {
		if !createMissing {
			return nil, nil
		}
		return b.addLeaf(&MissingModule{NodeBase: newBase(name, "")}, parent)
	}

	n := nodeFromSpec(spec)
	if err := b.addNode(n, parent); err != nil {
		return nil, err
	}
	if entry.Kind == implied.Extra {
		for _, extra := range entry.Modules {
			b.enqueue(workItem{kind: workImport, node: n, info: bytecode.ImportInfo{Name: extra}, dep: hardDependency})
		}
	}
	return n, nil
}

// revives reports whether n, excluded by a hook when only soft imports had
// reached it, must be resolved now that a hard import does under PolicyStatic.
func (b *Builder) revives(n Node, dep DependencyInfo) bool {
	ex, ok := n.(*ExcludedModule)
	if !ok || b.opts.ExclusionPolicy != PolicyStatic || !dep.Hard() {
		return false
	}
	reason, hooked := b.hookExcluded[ex.Name]
	return hooked && ex.Reason == reason
}

// find asks the resolver about name. Submodules are looked up on the parent's
// search path; a parent without one cannot have submodules.
func (b *Builder) find(ctx context.Context, name string, parent Node) (resolver.Spec, error) {
	searchPath := b.opts.SearchPath
	if parent != nil {
		var ok bool
		if searchPath, ok = SearchPathOf(parent); !ok {
			return resolver.Spec{Name: name, Kind: resolver.NotFound}, nil
		}
	}
	spec, err := b.opts.Resolver.Resolve(ctx, name, searchPath)
	if err != nil {
		return resolver.Spec{}, fmt.Errorf("resolving %s: %w", name, err)
	}
	return spec, nil
}

// addLeaf adds n and returns it; it exists to keep the callers above short.
func (b *Builder) addLeaf(n Node, parent Node) (Node, error) {
	if err := b.addNode(n, parent); err != nil {
		return nil, err
	}
	return n, nil
}

// addNode stores n, links it to its parent and schedules its scan. Nodes
// without code are finished right away. Hooks run last, so their exclusions
// are in place before any import of n is processed. An excluded node of the
// same name is replaced, keeping the edges of the soft imports that reached
// it.
func (b *Builder) addNode(n Node, parent Node) error {
	id := n.Identifier()
	if old, ok := b.graph.Find(id); ok && old.Kind() == KindExcluded {
		if err := b.graph.Replace(n); err != nil {
			return fmt.Errorf("replacing %s: %w", id, err)
		}
		b.logger.Debug("excluded node resolved", "name", id, "kind", n.Kind())
	} else {
		if err := b.graph.AddNode(n); err != nil {
			return fmt.Errorf("adding %s: %w", id, err)
		}
		b.dp.Track(id)
		b.logger.Debug("node created", "name", id, "kind", n.Kind())
	}

	if parent != nil {
		if err := b.graph.AddEdge(n, parent, hardDependency, MergeDependencyInfo); err != nil {
			return fmt.Errorf("linking %s to its parent: %w", id, err)
		}
	}

	if CodePath(n) != "" {
		b.enqueue(workItem{kind: workScan, node: n})
	} else if err := b.settle(id); err != nil {
		return err
	}

	if b.opts.Hooks != nil && hookable(n) {
		if err := b.opts.Hooks.Apply(&hookAPI{b: b, node: n}); err != nil {
			return fmt.Errorf("applying hooks for %s: %w", id, err)
		}
	}
	return nil
}

func (b *Builder) addImportEdge(source, target Node, dep DependencyInfo) error {
	if source.Identifier() == target.Identifier() {
		return nil
	}
	if err := b.graph.AddEdge(source, target, dep, MergeDependencyInfo); err != nil {
		return fmt.Errorf("adding import edge: %w", err)
	}
	return nil
}

// addInvalidRelative records a relative import that climbs past the top-level
// package. It never falls through to resolution, so no missing node is made.
func (b *Builder) addInvalidRelative(source Node, info bytecode.ImportInfo, dep DependencyInfo) error {
	id := strings.Repeat(".", info.Level) + info.Name
	n, ok := b.graph.Find(id)
	if !ok {
		b.logger.Debug("invalid relative import", "module", source.Identifier(), "import", info.String())
		var err error
		n, err = b.addLeaf(&InvalidRelativeImport{NodeBase: newBase(id, ""), Level: info.Level, Module: info.Name}, nil)
		if err != nil {
			return err
		}
	}
	return b.addImportEdge(source, n, dep)
}

func nodeFromSpec(spec resolver.Spec) Node {
	base := newBase(spec.Name, spec.Path)
	if d := spec.Distribution; d != nil {
		base.Distribution = &Distribution{Name: d.Name, Version: d.Version}
	}

	switch spec.Kind {
	case resolver.Builtin:
		return &BuiltinModule{NodeBase: base}
	case resolver.Frozen:
		return &FrozenModule{NodeBase: base}
	case resolver.Source:
		return &SourceModule{NodeBase: base}
	case resolver.Compiled:
		return &BytecodeModule{NodeBase: base}
	case resolver.Extension:
		return &ExtensionModule{NodeBase: base}
	case resolver.Package:
		p := &Package{
			NodeBase:      base,
			SearchPath:    slices.Clone(spec.SearchPath),
			NamespaceType: NamespaceRegular,
			HasDataFiles:  spec.HasDataFiles,
		}
		initBase := newBase(spec.Name, spec.InitPath)
		switch spec.InitKind {
		case resolver.Source:
			p.InitModule = &SourceModule{NodeBase: initBase}
		case resolver.Compiled:
			p.InitModule = &BytecodeModule{NodeBase: initBase}
		case resolver.Extension:
			p.InitModule = &ExtensionModule{NodeBase: initBase}
		}
		return p
	case resolver.Namespace:
		return &NamespacePackage{
			NodeBase:     base,
			SearchPath:   slices.Clone(spec.SearchPath),
			HasDataFiles: spec.HasDataFiles,
		}
	default:
		return &MissingModule{NodeBase: newBase(spec.Name, "")}
	}
}

// packageOf returns the dotted name parts of the package n's relative
// imports are anchored at.
func packageOf(n Node) []string {
	switch n.(type) {
	case *Script:
		return nil
	case *Package, *NamespacePackage:
		return strings.Split(n.Identifier(), ".")
	default:
		parts := strings.Split(n.Identifier(), ".")
		return parts[:len(parts)-1]
	}
}

// relativeBase resolves the anchor of a relative import of the given level.
func relativeBase(source Node, level int) (string, bool) {
	pkg := packageOf(source)
	if level > len(pkg) {
		return "", false
	}
	return strings.Join(pkg[:len(pkg)-level+1], "."), true
}

func joinName(base, name string) string {
	switch {
	case base == "":
		return name
	case name == "":
		return base
	default:
		return base + "." + name
	}
}
