// Package cache tracks which webhook deliveries were already handled.
//
// The provider redelivers an event until it receives a 200, so the same event
// id can arrive several times. The gate consults a Cache after the signature
// check and marks the id once the downstream handler succeeds.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrClosed is returned by a cache after Close
var ErrClosed = errors.New("cache: closed")

// Cache records processed event ids. A delivery first claims its id, so
// overlapping redeliveries of one event run the handler once.
type Cache interface {
	IsProcessed(ctx context.Context, eventID string) (bool, error)
	// Claim reserves eventID for one in-flight delivery until ttl passes. It
	// reports false when the id is already claimed or processed.
	Claim(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
	// Release drops a claim that was not marked processed
	Release(ctx context.Context, eventID string) error
	// MarkProcessed records eventID for ttl, replacing the claim. Marking an id
	// twice keeps the first expiry.
	MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) error
	// Ping reports whether the backing store is reachable
	Ping(ctx context.Context) error
	Close() error
}

// Type selects a cache backend
type Type string

const (
	TypeNone   Type = "none"
	TypeMemory Type = "memory"
	TypeRedis  Type = "redis"
)

const (
	defaultCleanupInterval = 1 * time.Hour
	defaultKeyPrefix       = "easy_webhook:event:"
)

// Config selects and configures a backend
type Config struct {
	Type   Type
	Memory MemoryConfig
	Redis  RedisConfig
}

// MemoryConfig configures the in-process backend
type MemoryConfig struct {
	MaxSize         int
	CleanupInterval time.Duration
	EnableLRU       bool
}

// New creates the backend named by cfg.Type. An empty type disables dedup.
func New(cfg Config) (Cache, error) {
	switch cfg.Type {
	case "", TypeNone:
		return NewNoOpCache(), nil
	case TypeMemory:
		return NewMemoryCache(cfg.Memory.MaxSize, cfg.Memory.CleanupInterval, cfg.Memory.EnableLRU), nil
	case TypeRedis:
		return NewRedisCache(cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown cache type: %s", cfg.Type)
	}
}
