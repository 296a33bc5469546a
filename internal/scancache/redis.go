// SPDX-License-Identifier: MPL-2.0

package scancache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/invowk/pyfreeze/internal/bytecode"
)

const (
	defaultPrefix = "pyfreeze:scan:"
	defaultTTL    = 7 * 24 * time.Hour
)

type (
	// Redis shares scan results between machines through a Redis server.
	Redis struct {
		client *redis.Client
		prefix string
		ttl    time.Duration
	}

	// RedisOption configures a Redis cache.
	RedisOption func(*Redis)
)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

// WithTTL sets how long entries live. Zero keeps them forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) { r.ttl = ttl }
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{client: client, prefix: defaultPrefix, ttl: defaultTTL}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OpenRedis connects to the server at url (redis://host:port/db).
func OpenRedis(url string, opts ...RedisOption) (*Redis, error) {
	if url == "" {
		return nil, errors.New("redis scan cache needs a URL")
	}
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	return NewRedis(redis.NewClient(options), opts...), nil
}

// Get implements Cache.
func (r *Redis) Get(ctx context.Context, key string) (*bytecode.ScanResult, bool, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis GET %s: %w", key, err)
	}
	result, err := decode(data)
	if err != nil {
		return nil, false, err
	}
	return result, true, nil
}

// Put implements Cache.
func (r *Redis) Put(ctx context.Context, key string, result *bytecode.ScanResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding scan result: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", key, err)
	}
	return nil
}

// Close releases the client's connections.
func (r *Redis) Close() error {
	return r.client.Close()
}
