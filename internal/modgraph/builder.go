// SPDX-License-Identifier: MPL-2.0

package modgraph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"

	"github.com/invowk/pyfreeze/internal/bytecode"
	"github.com/invowk/pyfreeze/internal/deferred"
	"github.com/invowk/pyfreeze/internal/hooks"
	"github.com/invowk/pyfreeze/internal/implied"
	"github.com/invowk/pyfreeze/internal/objgraph"
	"github.com/invowk/pyfreeze/internal/resolver"
)

const (
	// PolicyHook lets a hook exclusion win over any static import.
	PolicyHook ExclusionPolicy = "hook"
	// PolicyStatic resolves hard static imports of hook-excluded names anyway
	// and records a finding.
	PolicyStatic ExclusionPolicy = "static"
)

const (
	workScan workKind = iota
	workImport
	workRoot
)

var (
	// ErrInvalidPolicy is returned for an unknown hook exclusion policy.
	ErrInvalidPolicy = errors.New("invalid hook exclusion policy")
	// ErrNoScanner is returned when a Builder is created without a Scanner.
	ErrNoScanner = errors.New("builder requires a scanner")
	// ErrNoResolver is returned when a Builder is created without a Resolver.
	ErrNoResolver = errors.New("builder requires a resolver")
)

type (
	// ExclusionPolicy decides who wins when a hook excludes a name that the
	// code imports unconditionally.
	ExclusionPolicy string

	// Resolver locates a module by its full dotted name on a search path.
	Resolver interface {
		Resolve(ctx context.Context, name string, searchPath []string) (resolver.Spec, error)
	}

	// Scanner produces the scan result for the code stored at path.
	Scanner interface {
		Scan(ctx context.Context, path string) (*bytecode.ScanResult, error)
	}

	// HookSource runs the hooks registered for api.Module().
	HookSource interface {
		Apply(api hooks.API) error
	}

	// Options configures a Builder.
	Options struct {
		Resolver Resolver
		Scanner  Scanner
		// Implied is consulted before the resolver; nil disables it.
		Implied *implied.Table
		Hooks   HookSource
		// SearchPath is where top-level names are looked up.
		SearchPath []string
		// Excludes are doublestar patterns over dotted names with dots read
		// as path separators ("tests.**" excludes every tests submodule).
		Excludes        []string
		ExclusionPolicy ExclusionPolicy
		Logger          *log.Logger
	}

	// Builder discovers the module graph of a program. It owns the graph and
	// the deferred processor exclusively and is not safe for concurrent use.
	Builder struct {
		opts     Options
		logger   *log.Logger
		graph    *Graph
		dp       *deferred.Processor[string]
		queue    []workItem
		findings []Finding
		// hookExcluded maps names excluded by hooks to the reason given.
		hookExcluded map[string]string
		// stars counts the star imports of a scanned node that are not
		// merged yet; the node finishes when it drops to zero.
		stars     map[string]int
		starOrder []string
		excludes     []excludePattern
		built        bool
	}

	// excludePattern keeps the configured pattern for messages next to the
	// slash form it is matched in.
	excludePattern struct {
		raw  string
		glob string
	}

	workKind uint8

	workItem struct {
		kind   workKind
		node   Node
		info   bytecode.ImportInfo
		dep    DependencyInfo
		module string
	}
)

// IsValid reports whether p is a known policy.
func (p ExclusionPolicy) IsValid() bool {
	return p == PolicyHook || p == PolicyStatic
}

// NewBuilder validates opts and creates a Builder.
func NewBuilder(opts Options) (*Builder, error) {
	if opts.Scanner == nil {
		return nil, ErrNoScanner
	}
	if opts.Resolver == nil {
		return nil, ErrNoResolver
	}
	if opts.ExclusionPolicy == "" {
		opts.ExclusionPolicy = PolicyHook
	}
	if !opts.ExclusionPolicy.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPolicy, opts.ExclusionPolicy)
	}
	excludes := make([]excludePattern, 0, len(opts.Excludes))
	for _, pattern := range opts.Excludes {
		glob := strings.ReplaceAll(pattern, ".", "/")
		if !doublestar.ValidatePattern(glob) {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", pattern, doublestar.ErrBadPattern)
		}
		excludes = append(excludes, excludePattern{raw: pattern, glob: glob})
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Builder{
		opts:         opts,
		logger:       logger,
		graph:        objgraph.New[Node, DependencyInfo](),
		dp:           deferred.New[string](),
		hookExcluded: make(map[string]string),
		stars:        make(map[string]int),
		excludes:     excludes,
	}, nil
}

// Graph returns the graph under construction.
func (b *Builder) Graph() *Graph { return b.graph }

// AddScript adds the entry point at path as a root and queues it for scanning.
func (b *Builder) AddScript(path string) (*Script, error) {
	s := NewScript(path)
	if err := b.graph.AddNode(s); err != nil {
		return nil, fmt.Errorf("adding script: %w", err)
	}
	if err := b.graph.AddRoot(s); err != nil {
		return nil, fmt.Errorf("adding script: %w", err)
	}
	b.dp.Track(s.Identifier())
	b.enqueue(workItem{kind: workScan, node: s})
	b.logger.Debug("script added", "path", path)
	return s, nil
}

// AddModule queues name to be resolved and marked as a root, the way hidden
// imports given on the command line are.
func (b *Builder) AddModule(name string) {
	b.enqueue(workItem{kind: workRoot, module: name})
}

// AddDependency queues a hard dependency of from on the module name. from
// must already be in the graph.
func (b *Builder) AddDependency(from Node, name string) error {
	if _, ok := b.graph.FindNode(from); !ok {
		return fmt.Errorf("adding dependency on %s: %w", name, &objgraph.UnknownNodeError{ID: from.Identifier()})
	}
	b.enqueue(workItem{kind: workImport, node: from, info: bytecode.ImportInfo{Name: name}, dep: hardDependency})
	return nil
}

// Build drains the work queue and returns the result. Only programmer-error
// class failures and context cancellation abort it; everything else becomes
// a finding.
func (b *Builder) Build(ctx context.Context) (*Result, error) {
	if b.built {
		return nil, errors.New("builder already ran")
	}
	b.built = true
	start := time.Now()

	for {
		if err := b.drain(ctx); err != nil {
			return nil, err
		}
		broken, err := b.breakStarCycle()
		if err != nil {
			return nil, err
		}
		if !broken {
			break
		}
	}

	result := b.finish()
	result.Duration = time.Since(start)
	b.logger.Debug("build finished", "nodes", b.graph.Len(), "findings", len(result.Findings),
		"duration", result.Duration)
	return result, nil
}

func (b *Builder) drain(ctx context.Context) error {
	for len(b.queue) > 0 || b.dp.HaveFinishedWork() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(b.queue) > 0 {
			item := b.queue[0]
			b.queue = b.queue[1:]
			if err := b.process(ctx, item); err != nil {
				return err
			}
		}
		if b.dp.HaveFinishedWork() {
			if err := b.dp.ProcessFinishedNodes(); err != nil {
				return fmt.Errorf("processing deferred imports: %w", err)
			}
		}
	}
	return nil
}

// breakStarCycle finishes the oldest node still waiting for star merges.
// Star imports that form a cycle wait on each other and only settle this way,
// once nothing else is left to do.
func (b *Builder) breakStarCycle() (bool, error) {
	for len(b.starOrder) > 0 {
		id := b.starOrder[0]
		b.starOrder = b.starOrder[1:]
		if _, ok := b.stars[id]; !ok {
			continue
		}
		delete(b.stars, id)
		b.logger.Debug("star imports form a cycle", "module", id)
		return true, b.settle(id)
	}
	return false, nil
}

// settle finishes id unless it already is: a node revived from a hook
// exclusion was finished once as a leaf.
func (b *Builder) settle(id string) error {
	if b.dp.IsFinished(id) {
		return nil
	}
	if err := b.dp.Finished(id); err != nil {
		return fmt.Errorf("finishing %s: %w", id, err)
	}
	return nil
}

func (b *Builder) enqueue(item workItem) {
	b.queue = append(b.queue, item)
}

func (b *Builder) process(ctx context.Context, item workItem) error {
	switch item.kind {
	case workScan:
		return b.scan(ctx, item.node)
	case workImport:
		return b.processImport(ctx, item.node, item.info, item.dep)
	case workRoot:
		n, err := b.importModule(ctx, item.module, nil, hardDependency)
		if err != nil {
			return err
		}
		return b.graph.AddRoot(n)
	default:
		return fmt.Errorf("unknown work item kind %d", item.kind)
	}
}

// scan extracts n's imports and queues them. n finishes once its star imports
// are merged, so its globals are complete when anything waiting on it runs. A
// node whose code cannot be read is finished right away.
func (b *Builder) scan(ctx context.Context, n Node) error {
	stars := 0
	path := CodePath(n)
	result, err := b.opts.Scanner.Scan(ctx, path)
	switch {
	case err != nil && ctx.Err() != nil:
		return ctx.Err()
	case err != nil:
		b.logger.Warn("scan failed", "module", n.Identifier(), "path", path, "err", err)
		b.findings = append(b.findings, Finding{
			Severity: SeverityWarning,
			Code:     CodeScanFailed,
			Message:  fmt.Sprintf("could not scan %s: %v", path, err),
			Module:   n.Identifier(),
		})
	default:
		if g := GlobalsOf(n); g != nil {
			g.Written = result.GlobalsWritten.Clone()
			g.Read = result.GlobalsRead.Clone()
			if p, ok := n.(*Package); ok && g.Written.Has("__path__") && g.Read.Has("__path__") {
				p.NamespaceType = NamespaceDeclared
			}
		}
		b.logger.Debug("scanned", "module", n.Identifier(), "imports", len(result.Imports),
			"globals", result.GlobalsWritten.Len())
		for _, imp := range result.Imports {
			b.enqueue(workItem{kind: workImport, node: n, info: imp, dep: Classify(imp, false, true)})
			if imp.StarImport {
				stars++
			}
		}
	}

	if stars > 0 {
		b.stars[n.Identifier()] = stars
		b.starOrder = append(b.starOrder, n.Identifier())
		return nil
	}
	return b.settle(n.Identifier())
}

// finish assembles the result once the queue is empty.
func (b *Builder) finish() *Result {
	r := &Result{Graph: b.graph, Findings: b.findings}

	for _, n := range b.graph.Nodes() {
		switch n := n.(type) {
		case *MissingModule:
			r.Missing = append(r.Missing, n)
			r.Findings = append(r.Findings, b.missingFinding(n))
		case *InvalidRelativeImport:
			r.InvalidRelative = append(r.InvalidRelative, n)
			r.Findings = append(r.Findings, Finding{
				Severity:  SeverityError,
				Code:      CodeInvalidRelativeImport,
				Message:   fmt.Sprintf("relative import of %q at level %d goes beyond the top-level package", n.Module, n.Level),
				Module:    n.Identifier(),
				Importers: b.importers(n),
			})
		}
	}

	order, err := b.graph.DependencyOrder()
	var cycleErr *objgraph.CycleError
	if errors.As(err, &cycleErr) {
		r.Findings = append(r.Findings, Finding{
			Severity:  SeverityInfo,
			Code:      CodeImportCycle,
			Message:   fmt.Sprintf("%d modules take part in or depend on import cycles", len(cycleErr.Cycle)),
			Importers: cycleErr.Cycle,
		})
	}
	r.Order = order
	return r
}

func (b *Builder) missingFinding(n *MissingModule) Finding {
	mandatory := false
	for dep := range b.graph.Incoming(n) {
		if dep.Mandatory() {
			mandatory = true
			break
		}
	}
	f := Finding{
		Severity:  SeverityInfo,
		Code:      CodeMissingOptionalModule,
		Message:   fmt.Sprintf("optional module %s not found", n.Name),
		Module:    n.Identifier(),
		Importers: b.importers(n),
	}
	if mandatory {
		f.Severity = SeverityWarning
		f.Code = CodeMissingModule
		f.Message = fmt.Sprintf("module %s not found", n.Name)
	}
	return f
}

func (b *Builder) importers(n Node) []string {
	var out []string
	for _, source := range b.graph.Incoming(n) {
		out = append(out, source.Identifier())
	}
	return out
}

// excludedByPattern returns the first configured pattern matching name.
func (b *Builder) excludedByPattern(name string) (string, bool) {
	path := strings.ReplaceAll(name, ".", "/")
	for _, p := range b.excludes {
		if ok, _ := doublestar.Match(p.glob, path); ok {
			return p.raw, true
		}
	}
	return "", false
}
