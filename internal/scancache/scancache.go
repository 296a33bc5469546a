// SPDX-License-Identifier: MPL-2.0

// Package scancache stores extractor results keyed by the content they were
// computed from, so unchanged files are not decoded twice.
package scancache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/invowk/pyfreeze/internal/bytecode"
)

// Backend names accepted by New.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// formatVersion is mixed into every key; bump it when ScanResult changes shape.
const formatVersion = "scan-v1"

// ErrUnknownBackend is returned by New for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown scan cache backend")

type (
	// Cache stores scan results.
	Cache interface {
		// Get returns the stored result, or false when there is none.
		Get(ctx context.Context, key string) (*bytecode.ScanResult, bool, error)
		Put(ctx context.Context, key string, result *bytecode.ScanResult) error
	}

	// Nop never stores anything.
	Nop struct{}

	// Memory keeps encoded results in process memory. Results are stored
	// encoded so callers can never share mutable sets through the cache.
	Memory struct {
		mu      sync.RWMutex
		entries map[string][]byte
	}
)

// Key derives the cache key of a code file from its contents and the
// interpreter version it is decoded for.
func Key(version string, content []byte) string {
	h := sha256.New()
	h.Write([]byte(formatVersion))
	h.Write([]byte{0})
	h.Write([]byte(version))
	h.Write([]byte{0})
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

// New creates the cache named by backend. redisURL is only used by the
// Redis backend.
func New(backend, redisURL string) (Cache, error) {
	switch backend {
	case "", BackendNone:
		return Nop{}, nil
	case BackendMemory:
		return NewMemory(), nil
	case BackendRedis:
		return OpenRedis(redisURL)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// Get always misses.
func (Nop) Get(context.Context, string) (*bytecode.ScanResult, bool, error) { return nil, false, nil }

// Put discards result.
func (Nop) Put(context.Context, string, *bytecode.ScanResult) error { return nil }

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string][]byte)}
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, key string) (*bytecode.ScanResult, bool, error) {
	m.mu.RLock()
	data, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	result, err := decode(data)
	if err != nil {
		return nil, false, err
	}
	return result, true, nil
}

// Put implements Cache.
func (m *Memory) Put(_ context.Context, key string, result *bytecode.ScanResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding scan result: %w", err)
	}
	m.mu.Lock()
	m.entries[key] = data
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored results.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func decode(data []byte) (*bytecode.ScanResult, error) {
	var result bytecode.ScanResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decoding cached scan result: %w", err)
	}
	if result.GlobalsWritten == nil {
		result.GlobalsWritten = make(bytecode.NameSet)
	}
	if result.GlobalsRead == nil {
		result.GlobalsRead = make(bytecode.NameSet)
	}
	return &result, nil
}
