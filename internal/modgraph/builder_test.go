// SPDX-License-Identifier: MPL-2.0

package modgraph_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/invowk/pyfreeze/internal/bytecode"
	"github.com/invowk/pyfreeze/internal/hooks"
	"github.com/invowk/pyfreeze/internal/implied"
	"github.com/invowk/pyfreeze/internal/modgraph"
	"github.com/invowk/pyfreeze/internal/resolver"
	"github.com/invowk/pyfreeze/internal/testutil"
	"github.com/invowk/pyfreeze/internal/testutil/codeunittest"
)

// fakeScanner serves assembled code units by file path.
type fakeScanner struct {
	units map[string]*bytecode.CodeUnit
}

func (s *fakeScanner) Scan(_ context.Context, path string) (*bytecode.ScanResult, error) {
	unit, ok := s.units[path]
	if !ok {
		return nil, fmt.Errorf("no code for %s", path)
	}
	return bytecode.Extract(unit)
}

// fixture is a temporary search path plus the code of the files in it.
type fixture struct {
	t       *testing.T
	root    string
	scanner *fakeScanner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{t: t, root: t.TempDir(), scanner: &fakeScanner{units: make(map[string]*bytecode.CodeUnit)}}
}

// file creates rel and returns its path. With a non-nil unit the file also
// gets code.
func (f *fixture) file(rel string, unit *codeunittest.Assembler) string {
	f.t.Helper()
	path := filepath.Join(f.root, filepath.FromSlash(rel))
	testutil.MustWriteFile(f.t, path, nil)
	if unit != nil {
		f.scanner.units[path] = unit.Build()
	}
	return path
}

// empty is a module body without imports.
func empty() *codeunittest.Assembler { return codeunittest.Module("<module>").Return() }

func (f *fixture) build(opts modgraph.Options, scripts ...string) *modgraph.Result {
	f.t.Helper()
	if opts.Resolver == nil {
		opts.Resolver = resolver.New(resolver.Options{Builtins: []string{"sys", "_json"}})
	}
	opts.Scanner = f.scanner
	opts.SearchPath = []string{f.root}
	if opts.Implied == nil {
		table, err := implied.Default("posix")
		if err != nil {
			f.t.Fatal(err)
		}
		opts.Implied = table
	}

	b, err := modgraph.NewBuilder(opts)
	if err != nil {
		f.t.Fatalf("NewBuilder() error = %v", err)
	}
	for _, s := range scripts {
		if _, err := b.AddScript(s); err != nil {
			f.t.Fatalf("AddScript(%q) error = %v", s, err)
		}
	}
	result, err := b.Build(f.t.Context())
	if err != nil {
		f.t.Fatalf("Build() error = %v", err)
	}
	return result
}

func mustFind(t *testing.T, r *modgraph.Result, id string) modgraph.Node {
	t.Helper()
	n, ok := r.Graph.Find(id)
	if !ok {
		var have []string
		for _, n := range r.Graph.Nodes() {
			have = append(have, n.Identifier())
		}
		t.Fatalf("node %q not in graph; have %v", id, have)
	}
	return n
}

func edge(t *testing.T, r *modgraph.Result, from, to string) modgraph.DependencyInfo {
	t.Helper()
	dep, err := r.Graph.EdgeData(mustFind(t, r, from), mustFind(t, r, to))
	if err != nil {
		t.Fatalf("EdgeData(%s, %s) error = %v", from, to, err)
	}
	return dep
}

func codes(findings []modgraph.Finding) []string {
	var out []string
	for _, f := range findings {
		out = append(out, f.Code)
	}
	return out
}

func TestBuild_EndToEnd(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	// p/__init__.py: from . import sub; import os
	f.file("p/__init__.py", codeunittest.Module("<module>").
		Import("", 1, "sub").ImportFrom("sub").Store("sub").Pop().
		Import("os", 0).Store("os").
		Return())
	// p/sub.py: try: import nonexistent_xyz / except ImportError: pass
	f.file("p/sub.py", codeunittest.Module("<module>").
		SetupFinally("handler").
		Import("nonexistent_xyz", 0).Store("nonexistent_xyz").
		PopBlock().
		JumpForward("end").
		Label("handler").
		ExceptAll().PopExcept().
		Label("end").
		Return())
	f.file("os.py", empty())
	main := f.file("main.py", codeunittest.Module("<module>").Import("p", 0).Store("p").Return())

	r := f.build(modgraph.Options{}, main)

	wantKinds := map[string]modgraph.Kind{
		main:              modgraph.KindScript,
		"p":               modgraph.KindPackage,
		"p.sub":           modgraph.KindSourceModule,
		"os":              modgraph.KindSourceModule,
		"nonexistent_xyz": modgraph.KindMissing,
	}
	for id, want := range wantKinds {
		if got := mustFind(t, r, id).Kind(); got != want {
			t.Errorf("%s: kind = %v, want %v", id, got, want)
		}
	}

	if dep := edge(t, r, "p.sub", "nonexistent_xyz"); !dep.Optional || !dep.TryExcept {
		t.Errorf("p.sub -> nonexistent_xyz = %+v, want optional", dep)
	}
	if dep := edge(t, r, "p", "p.sub"); !dep.Fromlist || dep.ImportedAs != "sub" {
		t.Errorf("p -> p.sub = %+v, want from-list binding sub", dep)
	}
	if dep := edge(t, r, "p.sub", "p"); !dep.Hard() {
		t.Errorf("p.sub -> p = %+v, want hard parent edge", dep)
	}
	if dep := edge(t, r, main, "p"); !dep.Hard() || dep.ImportedAs != "p" {
		t.Errorf("main -> p = %+v", dep)
	}

	pkg := mustFind(t, r, "p").(*modgraph.Package)
	if pkg.InitModule == nil || pkg.InitModule.Kind() != modgraph.KindSourceModule || pkg.InitModule.Base().Name != "p" {
		t.Errorf("InitModule = %#v", pkg.InitModule)
	}
	if got := modgraph.GlobalsOf(pkg).Written.Sorted(); !slices.Equal(got, []string{"os", "sub"}) {
		t.Errorf("p globals = %v", got)
	}

	if len(r.Missing) != 1 || r.Missing[0].Name != "nonexistent_xyz" {
		t.Errorf("Missing = %v", r.Missing)
	}
	missing := r.FindingsByCode(modgraph.CodeMissingOptionalModule)
	if len(missing) != 1 || missing[0].Severity != modgraph.SeverityInfo ||
		!slices.Equal(missing[0].Importers, []string{"p.sub"}) {
		t.Errorf("optional missing findings = %+v", missing)
	}
	if r.HasMandatoryMissing() || r.HasErrors() {
		t.Errorf("unexpected severe findings: %v", codes(r.Findings))
	}

	// p and p.sub import each other, so only the leaves have a fixed place.
	pos := make(map[string]int)
	for i, n := range r.Order {
		pos[n.Identifier()] = i
	}
	if len(r.Order) != r.Graph.Len() || pos["os"] > pos["p"] || pos["nonexistent_xyz"] > pos["p.sub"] {
		t.Errorf("unexpected order %v", pos)
	}
	if cycles := r.FindingsByCode(modgraph.CodeImportCycle); len(cycles) != 1 || cycles[0].Severity != modgraph.SeverityInfo {
		t.Errorf("cycle findings = %+v", cycles)
	}
}

func TestBuild_RelativeImportBeyondTopLevel(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	// m.py (top-level): try: from .. import x / except: pass
	f.file("m.py", codeunittest.Module("<module>").
		SetupFinally("handler").
		Import("", 2, "x").ImportFrom("x").Store("x").Pop().
		PopBlock().
		JumpForward("end").
		Label("handler").
		ExceptAll().PopExcept().
		Label("end").
		Return())
	main := f.file("main.py", codeunittest.Module("<module>").Import("m", 0).Store("m").Return())

	r := f.build(modgraph.Options{}, main)

	if len(r.InvalidRelative) != 1 {
		t.Fatalf("InvalidRelative = %v, want exactly one", r.InvalidRelative)
	}
	if got := r.InvalidRelative[0]; got.Level != 2 || got.Identifier() != ".." {
		t.Errorf("invalid relative node = %+v", got)
	}
	if len(r.Missing) != 0 {
		t.Errorf("Missing = %v, want none", r.Missing)
	}
	findings := r.FindingsByCode(modgraph.CodeInvalidRelativeImport)
	if len(findings) != 1 || findings[0].Severity != modgraph.SeverityError {
		t.Errorf("findings = %+v", findings)
	}
	if !r.HasErrors() {
		t.Error("an invalid relative import must count as an error even on an optional path")
	}
}

func TestBuild_RelativeImportInSubpackage(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.file("a/__init__.py", empty())
	f.file("a/util.py", empty())
	f.file("a/b/__init__.py", empty())
	// a/b/mod.py: from ..util import helper
	f.file("a/b/mod.py", codeunittest.Module("<module>").
		Import("util", 2, "helper").ImportFrom("helper").Store("helper").Pop().
		Return())
	main := f.file("main.py", codeunittest.Module("<module>").Import("a.b.mod", 0).Store("a").Return())

	r := f.build(modgraph.Options{}, main)

	if dep := edge(t, r, "a.b.mod", "a.util"); dep.ImportedAs != "" || dep.Fromlist {
		t.Errorf("a.b.mod -> a.util = %+v", dep)
	}
	for _, id := range []string{"a", "a.b", "a.b.mod", "a.util"} {
		mustFind(t, r, id)
	}
	if dep := edge(t, r, "a.b", "a"); !dep.Hard() {
		t.Errorf("a.b -> a = %+v", dep)
	}
	if len(r.InvalidRelative) != 0 || len(r.Missing) != 0 {
		t.Errorf("unexpected findings %v", codes(r.Findings))
	}
}

func TestBuild_StarImportMergesGlobals(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.file("helpers.py", codeunittest.Module("<module>").
		Const(1).Store("alpha").
		Const(2).Store("_private").
		Return())
	main := f.file("main.py", codeunittest.Module("<module>").
		Import("helpers", 0, "*").ImportStar().
		Const(3).Store("own").
		Return())

	r := f.build(modgraph.Options{}, main)

	got := modgraph.GlobalsOf(mustFind(t, r, main)).Written.Sorted()
	if !slices.Equal(got, []string{"alpha", "own"}) {
		t.Errorf("script globals = %v, want [alpha own]", got)
	}
}

func TestBuild_FromImportSeesStarReexports(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	// p/__init__.py: from .mid import *
	f.file("p/__init__.py", codeunittest.Module("<module>").
		Import("mid", 1, "*").ImportStar().
		Return())
	// p/mid.py: from .impl import *
	f.file("p/mid.py", codeunittest.Module("<module>").
		Import("impl", 1, "*").ImportStar().
		Return())
	f.file("p/impl.py", codeunittest.Module("<module>").Const(1).Store("foo").Return())
	// main.py: from p import foo
	main := f.file("main.py", codeunittest.Module("<module>").
		Import("p", 0, "foo").ImportFrom("foo").Store("foo").Pop().
		Return())

	r := f.build(modgraph.Options{}, main)

	if _, ok := r.Graph.Find("p.foo"); ok {
		t.Error("foo is re-exported by p through star imports and must not become a node")
	}
	if r.HasMandatoryMissing() {
		t.Errorf("unexpected missing modules: %v", codes(r.Findings))
	}
	for _, id := range []string{"p", "p.mid"} {
		if !modgraph.GlobalsOf(mustFind(t, r, id)).Written.Has("foo") {
			t.Errorf("%s globals lack foo", id)
		}
	}
}

func TestBuild_StarImportCycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.file("a.py", codeunittest.Module("<module>").
		Import("b", 0, "*").ImportStar().
		Const(1).Store("x").
		Return())
	f.file("b.py", codeunittest.Module("<module>").
		Import("a", 0, "*").ImportStar().
		Const(2).Store("y").
		Return())
	main := f.file("main.py", codeunittest.Module("<module>").Import("a", 0).Store("a").Return())

	r := f.build(modgraph.Options{}, main)

	for _, id := range []string{"a", "b"} {
		if got := modgraph.GlobalsOf(mustFind(t, r, id)).Written.Sorted(); !slices.Equal(got, []string{"x", "y"}) {
			t.Errorf("%s globals = %v, want [x y]", id, got)
		}
	}
}

func TestBuild_FromImportAttributeOrMissing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.file("q/__init__.py", codeunittest.Module("<module>").Const("1.0").Store("VERSION").Return())
	f.file("q/sub.py", empty())
	main := f.file("main.py", codeunittest.Module("<module>").
		Import("q", 0, "VERSION", "nothere", "sub").
		ImportFrom("VERSION").Store("VERSION").
		ImportFrom("nothere").Store("nothere").
		ImportFrom("sub").Store("sub").
		Pop().
		Return())

	r := f.build(modgraph.Options{}, main)

	if _, ok := r.Graph.Find("q.VERSION"); ok {
		t.Error("an attribute bound by q must not become a node")
	}
	if dep := edge(t, r, main, "q.sub"); !dep.Fromlist || dep.ImportedAs != "sub" {
		t.Errorf("main -> q.sub = %+v", dep)
	}
	if n := mustFind(t, r, "q.nothere"); n.Kind() != modgraph.KindMissing {
		t.Errorf("q.nothere kind = %v", n.Kind())
	}
	if dep := edge(t, r, main, "q.nothere"); !dep.Fromlist || !dep.Mandatory() {
		t.Errorf("main -> q.nothere = %+v", dep)
	}
	findings := r.FindingsByCode(modgraph.CodeMissingModule)
	if len(findings) != 1 || findings[0].Module != "q.nothere" || findings[0].Severity != modgraph.SeverityWarning {
		t.Errorf("missing findings = %+v", findings)
	}
}

func TestBuild_NamespacePackage(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.file("ns/part.py", empty())
	main := f.file("main.py", codeunittest.Module("<module>").
		Import("ns", 0, "part", "ghost").
		ImportFrom("part").Store("part").
		ImportFrom("ghost").Store("ghost").
		Pop().
		Return())

	r := f.build(modgraph.Options{}, main)

	if n := mustFind(t, r, "ns"); n.Kind() != modgraph.KindNamespacePackage {
		t.Errorf("ns kind = %v", n.Kind())
	}
	mustFind(t, r, "ns.part")
	if n := mustFind(t, r, "ns.ghost"); n.Kind() != modgraph.KindMissing {
		t.Errorf("a namespace package has no attributes; ns.ghost kind = %v", n.Kind())
	}
}

func TestBuild_MergeKeepsHardImport(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.file("x.py", empty())
	// try: import x / except: pass; import x
	main := f.file("main.py", codeunittest.Module("<module>").
		SetupFinally("handler").
		Import("x", 0).Store("x").
		PopBlock().
		JumpForward("end").
		Label("handler").
		ExceptAll().PopExcept().
		Label("end").
		Import("x", 0).Store("x").
		Return())

	r := f.build(modgraph.Options{}, main)

	if dep := edge(t, r, main, "x"); !dep.Hard() || dep.Optional || dep.ImportedAs != "x" {
		t.Errorf("merged edge = %+v, want hard", dep)
	}
	if n := len(r.Graph.Edges()); n != 1 {
		t.Errorf("expected one summarized edge, got %d", n)
	}
}

func TestBuild_ImpliedAliasAndExtra(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.file("os.py", empty())
	f.file("posixpath.py", empty())
	f.file("json/__init__.py", empty())
	f.file("json/decoder.py", empty())
	main := f.file("main.py", codeunittest.Module("<module>").
		Import("os.path", 0).Store("os").
		Import("_json", 0).Store("_json").
		Import("six.moves", 0).Store("six").
		Return())

	r := f.build(modgraph.Options{}, main)

	alias, ok := mustFind(t, r, "os.path").(*modgraph.AliasNode)
	if !ok || alias.Actual != "posixpath" {
		t.Fatalf("os.path = %#v, want alias of posixpath", mustFind(t, r, "os.path"))
	}
	if dep := edge(t, r, "os.path", "posixpath"); !dep.Hard() {
		t.Errorf("alias edge = %+v", dep)
	}
	if n := mustFind(t, r, "_json"); n.Kind() != modgraph.KindBuiltinModule {
		t.Errorf("_json kind = %v", n.Kind())
	}
	if dep := edge(t, r, "_json", "json.decoder"); !dep.Hard() {
		t.Errorf("implied extra edge = %+v", dep)
	}
	if n := mustFind(t, r, "six.moves"); n.Kind() != modgraph.KindVirtual {
		t.Errorf("six.moves kind = %v", n.Kind())
	}
	// six itself is not installed; the virtual child does not change that.
	if n := mustFind(t, r, "six"); n.Kind() != modgraph.KindMissing {
		t.Errorf("six kind = %v", n.Kind())
	}
}

func TestBuild_ExcludePatterns(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.file("tests/__init__.py", empty())
	f.file("tests/unit.py", empty())
	main := f.file("main.py", codeunittest.Module("<module>").Import("tests.unit", 0).Store("tests").Return())

	r := f.build(modgraph.Options{Excludes: []string{"tests", "tests.**"}}, main)

	for _, id := range []string{"tests", "tests.unit"} {
		n, ok := mustFind(t, r, id).(*modgraph.ExcludedModule)
		if !ok || !strings.HasPrefix(n.Reason, "matches exclude pattern tests") {
			t.Errorf("%s = %#v, want excluded by pattern", id, mustFind(t, r, id))
		}
	}
	if len(r.Missing) != 0 {
		t.Errorf("excluded names must not be reported missing: %v", r.Missing)
	}
}

func hookRegistry(t *testing.T) *hooks.Registry {
	t.Helper()
	h, err := hooks.Parse([]byte(`
hiddenimports = ["hidden_dep"]
excludedimports = ["heavy"]
datas = [{ source = "app_data", dest = "app" }]

[attributes]
gui = true
`), "app", "hook-app.toml")
	if err != nil {
		t.Fatal(err)
	}
	r := hooks.NewRegistry(nil)
	r.Add(h)
	return r
}

func TestBuild_HookExclusionPolicy(t *testing.T) {
	t.Parallel()
	tests := []struct {
		policy        modgraph.ExclusionPolicy
		wantKind      modgraph.Kind
		wantOverrides int
	}{
		{modgraph.PolicyHook, modgraph.KindExcluded, 0},
		{modgraph.PolicyStatic, modgraph.KindSourceModule, 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			f.file("heavy.py", empty())
			f.file("hidden_dep.py", empty())
			f.file("app.py", codeunittest.Module("<module>").Import("heavy", 0).Store("heavy").Return())
			main := f.file("main.py", codeunittest.Module("<module>").Import("app", 0).Store("app").Return())

			r := f.build(modgraph.Options{Hooks: hookRegistry(t), ExclusionPolicy: tt.policy}, main)

			if got := mustFind(t, r, "heavy").Kind(); got != tt.wantKind {
				t.Errorf("heavy kind = %v, want %v", got, tt.wantKind)
			}
			if got := len(r.FindingsByCode(modgraph.CodeHookExclusionOverridden)); got != tt.wantOverrides {
				t.Errorf("override findings = %d, want %d", got, tt.wantOverrides)
			}
			if dep := edge(t, r, "app", "hidden_dep"); !dep.Hard() {
				t.Errorf("hidden import edge = %+v", dep)
			}
			app := mustFind(t, r, "app").Base()
			if app.Attributes["gui"] != true {
				t.Errorf("attributes = %v", app.Attributes)
			}
			if datas, _ := app.Attributes[modgraph.AttrDatas].([]hooks.DataFile); len(datas) != 1 {
				t.Errorf("datas = %v", app.Attributes[modgraph.AttrDatas])
			}
		})
	}
}

func TestBuild_HookExclusionAfterSoftImport(t *testing.T) {
	t.Parallel()
	tests := []struct {
		policy        modgraph.ExclusionPolicy
		wantKind      modgraph.Kind
		wantOverrides int
	}{
		{modgraph.PolicyHook, modgraph.KindExcluded, 0},
		{modgraph.PolicyStatic, modgraph.KindSourceModule, 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			f.file("heavy.py", empty())
			f.file("hidden_dep.py", empty())
			// app.py: try: import heavy / except: pass
			f.file("app.py", codeunittest.Module("<module>").
				SetupFinally("handler").
				Import("heavy", 0).Store("heavy").
				PopBlock().
				JumpForward("end").
				Label("handler").
				ExceptAll().PopExcept().
				Label("end").
				Return())
			f.file("other.py", codeunittest.Module("<module>").Import("heavy", 0).Store("heavy").Return())
			main := f.file("main.py", codeunittest.Module("<module>").
				Import("app", 0).Store("app").
				Import("other", 0).Store("other").
				Return())

			r := f.build(modgraph.Options{Hooks: hookRegistry(t), ExclusionPolicy: tt.policy}, main)

			if got := mustFind(t, r, "heavy").Kind(); got != tt.wantKind {
				t.Errorf("heavy kind = %v, want %v", got, tt.wantKind)
			}
			if got := len(r.FindingsByCode(modgraph.CodeHookExclusionOverridden)); got != tt.wantOverrides {
				t.Errorf("override findings = %d, want %d", got, tt.wantOverrides)
			}
			if dep := edge(t, r, "app", "heavy"); !dep.Optional {
				t.Errorf("app -> heavy = %+v, want optional", dep)
			}
			if dep := edge(t, r, "other", "heavy"); !dep.Hard() {
				t.Errorf("other -> heavy = %+v, want hard", dep)
			}
		})
	}
}

func TestBuild_ScanFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.file("broken.py", nil)
	f.file("bpkg/__init__.py", nil)
	main := f.file("main.py", codeunittest.Module("<module>").
		Import("broken", 0).Store("broken").
		Import("bpkg", 0, "thing").ImportFrom("thing").Store("thing").Pop().
		Return())

	r := f.build(modgraph.Options{}, main)

	failed := r.FindingsByCode(modgraph.CodeScanFailed)
	if len(failed) != 2 {
		t.Fatalf("scan_failed findings = %+v", failed)
	}
	if _, ok := r.Graph.Find("bpkg.thing"); ok {
		t.Error("a package with unknown globals must not produce missing attributes")
	}
}

func TestBuild_DeclaredNamespace(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	// __path__ = __import__('pkgutil').extend_path(__path__, __name__)
	f.file("legacy/__init__.py", codeunittest.Module("<module>").
		Load("__import__").Const("pkgutil").Load("extend_path").
		Load("__path__").Load("__name__").
		Store("__path__").
		Return())
	main := f.file("main.py", codeunittest.Module("<module>").Import("legacy", 0).Store("legacy").Return())

	r := f.build(modgraph.Options{}, main)

	if got := mustFind(t, r, "legacy").(*modgraph.Package).NamespaceType; got != modgraph.NamespaceDeclared {
		t.Errorf("NamespaceType = %q", got)
	}
}

func TestBuilder_AddModuleAndDependency(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.file("plugin.py", empty())

	b, err := modgraph.NewBuilder(modgraph.Options{
		Resolver:   resolver.New(resolver.Options{}),
		Scanner:    f.scanner,
		SearchPath: []string{f.root},
	})
	if err != nil {
		t.Fatal(err)
	}
	b.AddModule("plugin")
	if err := b.AddDependency(modgraph.NewScript("/nowhere.py"), "extra"); err == nil {
		t.Error("AddDependency from a node outside the graph must fail")
	}

	r, err := b.Build(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	roots := r.Graph.Roots()
	if len(roots) != 1 || roots[0].Identifier() != "plugin" {
		t.Errorf("roots = %v", roots)
	}
	if _, err := b.Build(t.Context()); err == nil {
		t.Error("a second Build must fail")
	}
}

func TestNewBuilder_Validation(t *testing.T) {
	t.Parallel()
	scanner := &fakeScanner{}
	res := resolver.New(resolver.Options{})

	tests := []struct {
		name string
		opts modgraph.Options
		want error
	}{
		{"no scanner", modgraph.Options{Resolver: res}, modgraph.ErrNoScanner},
		{"no resolver", modgraph.Options{Scanner: scanner}, modgraph.ErrNoResolver},
		{"bad policy", modgraph.Options{Scanner: scanner, Resolver: res, ExclusionPolicy: "maybe"}, modgraph.ErrInvalidPolicy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := modgraph.NewBuilder(tt.opts); !errors.Is(err, tt.want) {
				t.Errorf("NewBuilder() error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := modgraph.NewBuilder(modgraph.Options{Scanner: scanner, Resolver: res, Excludes: []string{"a.[b"}}); err == nil {
		t.Error("expected an error for a malformed exclude pattern")
	}
}

func TestBuild_CanceledContext(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	main := f.file("main.py", empty())
	b, err := modgraph.NewBuilder(modgraph.Options{Resolver: resolver.New(resolver.Options{}), Scanner: f.scanner})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.AddScript(main); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if _, err := b.Build(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
