// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/charmbracelet/log"

	"github.com/invowk/pyfreeze/internal/codeunit"
	"github.com/invowk/pyfreeze/internal/config"
	"github.com/invowk/pyfreeze/internal/hooks"
	"github.com/invowk/pyfreeze/internal/implied"
	"github.com/invowk/pyfreeze/internal/issue"
	"github.com/invowk/pyfreeze/internal/modgraph"
	"github.com/invowk/pyfreeze/internal/resolver"
	"github.com/invowk/pyfreeze/internal/scancache"
)

// pipeline holds the collaborators of one analysis run.
type pipeline struct {
	cfg        *config.Config
	logger     *log.Logger
	searchPath []string
	resolver   *resolver.FileResolver
	hooks      *hooks.Registry
	cache      scancache.Cache
	scanner    *codeunit.Scanner
	implied    *implied.Table
	// cacheErr is set when the configured cache could not be opened.
	cacheErr *ServiceError
}

// searchPathFor puts the directories of the scripts in front of the
// configured search path, the way the interpreter does for the main script.
func searchPathFor(cfg *config.Config, scripts []string) ([]string, error) {
	var path []string
	for _, script := range scripts {
		abs, err := filepath.Abs(script)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", script, err)
		}
		if dir := filepath.Dir(abs); !slices.Contains(path, dir) {
			path = append(path, dir)
		}
	}
	for _, dir := range cfg.SearchPath {
		if !slices.Contains(path, dir) {
			path = append(path, dir)
		}
	}
	return path, nil
}

// newScanner builds the code-unit provider and scanner for cfg. Without an
// interpreter only compiled files and fresh __pycache__ entries can be read.
func newScanner(cfg *config.Config, cache scancache.Cache, logger *log.Logger) (*codeunit.Scanner, error) {
	version, err := cfg.PythonVersion()
	if err != nil {
		return nil, newServiceError(err, issue.UnsupportedPythonVersionId)
	}
	var compiler codeunit.Compiler
	if cfg.Python.Interpreter != "" {
		c, err := codeunit.NewInterpreterCompiler(cfg.Python.Interpreter, logger)
		if err != nil {
			return nil, newServiceError(err, issue.CompileFailedId)
		}
		compiler = c
	}
	provider := codeunit.NewProvider(codeunit.ProviderOptions{
		Version:  version,
		Compiler: compiler,
		Logger:   logger,
	})
	return codeunit.NewScanner(provider, cache, logger), nil
}

// openCache opens the configured scan cache. A cache that cannot be opened
// is not fatal: the run continues uncached and the error is returned for
// display.
func openCache(cfg *config.Config, logger *log.Logger) (scancache.Cache, *ServiceError) {
	cache, err := scancache.New(string(cfg.Cache.Backend), cfg.Cache.RedisURL)
	if err != nil {
		logger.Warn("scan cache unavailable, continuing without it", "backend", cfg.Cache.Backend, "error", err)
		return scancache.Nop{}, newServiceError(err, issue.CacheUnavailableId)
	}
	return cache, nil
}

// newPipeline wires resolver, hooks, scan cache, scanner and implied table
// for an analysis of scripts.
func newPipeline(ctx context.Context, cfg *config.Config, scripts []string, logger *log.Logger) (*pipeline, error) {
	searchPath, err := searchPathFor(cfg, scripts)
	if err != nil {
		return nil, err
	}

	res, registry, err := loadResolution(ctx, cfg, searchPath, logger)
	if err != nil {
		return nil, err
	}

	table, err := implied.Default(cfg.Platform.String())
	if err != nil {
		return nil, fmt.Errorf("loading implied dependencies: %w", err)
	}

	cache, cacheErr := openCache(cfg, logger)
	scanner, err := newScanner(cfg, cache, logger)
	if err != nil {
		closeCache(cache, logger)
		return nil, err
	}

	return &pipeline{
		cfg:        cfg,
		logger:     logger,
		searchPath: searchPath,
		resolver:   res,
		hooks:      registry,
		cache:      cache,
		scanner:    scanner,
		implied:    table,
		cacheErr:   cacheErr,
	}, nil
}

// loadResolution builds the resolver over the installed distributions of
// searchPath and loads the hook directories.
func loadResolution(ctx context.Context, cfg *config.Config, searchPath []string, logger *log.Logger) (*resolver.FileResolver, *hooks.Registry, error) {
	suffixes := cfg.ExtensionSuffixes
	if len(suffixes) == 0 {
		suffixes = resolver.DefaultExtensionSuffixes(cfg.Platform.String())
	}
	res := resolver.New(resolver.Options{
		Builtins:          cfg.Builtins,
		Frozen:            cfg.Frozen,
		ExtensionSuffixes: suffixes,
		Logger:            logger,
	})
	if err := res.IndexDistributions(ctx, searchPath); err != nil {
		return nil, nil, fmt.Errorf("indexing installed distributions: %w", err)
	}

	registry, err := hooks.Load(cfg.HookDirs, logger)
	if err != nil {
		return nil, nil, newServiceError(err, issue.HookLoadFailedId)
	}
	return res, registry, nil
}

// refresh re-reads distributions and hooks. The scan cache and scanner are
// kept, so unchanged files are not scanned again.
func (p *pipeline) refresh(ctx context.Context) error {
	res, registry, err := loadResolution(ctx, p.cfg, p.searchPath, p.logger)
	if err != nil {
		return err
	}
	p.resolver, p.hooks = res, registry
	return nil
}

// watchRoots are the directories whose changes can alter the graph: the
// script directories and the hook directories.
func (p *pipeline) watchRoots(scripts []string) []string {
	var roots []string
	for _, script := range scripts {
		if abs, err := filepath.Abs(script); err == nil && !slices.Contains(roots, filepath.Dir(abs)) {
			roots = append(roots, filepath.Dir(abs))
		}
	}
	for _, dir := range p.cfg.HookDirs {
		if !slices.Contains(roots, dir) {
			roots = append(roots, dir)
		}
	}
	return roots
}

// build runs the graph builder over scripts and the hidden imports.
func (p *pipeline) build(ctx context.Context, scripts, hidden []string) (*modgraph.Result, error) {
	builder, err := modgraph.NewBuilder(modgraph.Options{
		Resolver:        p.resolver,
		Scanner:         p.scanner,
		Implied:         p.implied,
		Hooks:           p.hooks,
		SearchPath:      p.searchPath,
		Excludes:        p.cfg.Excludes,
		ExclusionPolicy: modgraph.ExclusionPolicy(p.cfg.HookExclusionPolicy),
		Logger:          p.logger,
	})
	if err != nil {
		return nil, err
	}
	for _, script := range scripts {
		abs, err := filepath.Abs(script)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", script, err)
		}
		if _, err := os.Stat(abs); err != nil {
			return nil, newServiceError(fmt.Errorf("reading script: %w", err), issue.FileNotFoundId)
		}
		if _, err := builder.AddScript(abs); err != nil {
			return nil, err
		}
	}
	for _, name := range hidden {
		builder.AddModule(name)
	}
	return builder.Build(ctx)
}

func (p *pipeline) close() {
	closeCache(p.cache, p.logger)
}

func closeCache(cache scancache.Cache, logger *log.Logger) {
	if c, ok := cache.(io.Closer); ok {
		if err := c.Close(); err != nil {
			logger.Warn("closing scan cache", "error", err)
		}
	}
}
