package domain

import (
	"context"
	"time"
)

// Cache is a branch-scoped byte cache used for rule snapshots and daily
// rate rows. Customer aggregates are deliberately never cached here: the
// rolling-window figures must be fresh on every request.
type Cache interface {
	// Get retrieves a value; nil, nil when the key is absent.
	Get(ctx context.Context, branchID string, key string) ([]byte, error)

	// Set stores a value with expiration.
	Set(ctx context.Context, branchID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value.
	Delete(ctx context.Context, branchID string, key string) error

	// DeletePrefix removes every key under a prefix for a branch; used to
	// invalidate rule snapshots on reload.
	DeletePrefix(ctx context.Context, branchID string, prefix string) error

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings: check local first, then Redis
	EnableTwoPhase bool
}
