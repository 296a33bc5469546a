// SPDX-License-Identifier: MPL-2.0

package codeunit

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"

	"github.com/invowk/pyfreeze/internal/bytecode"
	"github.com/invowk/pyfreeze/internal/scancache"
)

type (
	// Scanner loads and extracts code units, consulting a scan cache keyed
	// by file content first.
	Scanner struct {
		provider *Provider
		cache    scancache.Cache
		logger   *log.Logger
		stats    Stats
	}

	// Stats counts what a Scanner did.
	Stats struct {
		Scans     int `json:"scans"`
		CacheHits int `json:"cache_hits"`
		Failures  int `json:"failures"`
	}
)

// NewScanner creates a Scanner. A nil cache disables caching.
func NewScanner(provider *Provider, cache scancache.Cache, logger *log.Logger) *Scanner {
	if cache == nil {
		cache = scancache.Nop{}
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Scanner{provider: provider, cache: cache, logger: logger}
}

// Scan returns the imports and global names of the code at path. Cache
// failures are logged and otherwise ignored.
func (s *Scanner) Scan(ctx context.Context, path string) (*bytecode.ScanResult, error) {
	s.stats.Scans++
	content, err := os.ReadFile(path)
	if err != nil {
		s.stats.Failures++
		return nil, err
	}
	key := scancache.Key(s.provider.Version().String(), content)

	result, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("scan cache lookup failed", "path", path, "err", err)
	}
	if ok {
		s.stats.CacheHits++
		return result, nil
	}

	unit, err := s.provider.Load(ctx, path)
	if err != nil {
		s.stats.Failures++
		return nil, err
	}
	result, err = bytecode.Extract(unit)
	if err != nil {
		s.stats.Failures++
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := s.cache.Put(ctx, key, result); err != nil {
		s.logger.Warn("scan cache store failed", "path", path, "err", err)
	}
	return result, nil
}

// Stats returns the counters accumulated so far.
func (s *Scanner) Stats() Stats { return s.stats }
