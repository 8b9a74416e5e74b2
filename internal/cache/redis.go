package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisNamespace = "naga:"

// RedisCache implements domain.Cache using Redis. Used for multi-branch
// deployments and as L2 in two-phase caching.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Get retrieves a value from Redis.
func (c *RedisCache) Get(ctx context.Context, branchID string, key string) ([]byte, error) {
	if branchID == "" {
		return nil, fmt.Errorf("branchID is required")
	}

	val, err := c.client.Get(ctx, redisNamespace+makeKey(branchID, key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores a value in Redis with TTL.
func (c *RedisCache) Set(ctx context.Context, branchID string, key string, value []byte, ttl time.Duration) error {
	if branchID == "" {
		return fmt.Errorf("branchID is required")
	}
	return c.client.Set(ctx, redisNamespace+makeKey(branchID, key), value, ttl).Err()
}

// Delete removes a value from Redis.
func (c *RedisCache) Delete(ctx context.Context, branchID string, key string) error {
	if branchID == "" {
		return fmt.Errorf("branchID is required")
	}
	return c.client.Del(ctx, redisNamespace+makeKey(branchID, key)).Err()
}

// DeletePrefix removes every key under a prefix for a branch using SCAN so
// large keyspaces are not blocked.
func (c *RedisCache) DeletePrefix(ctx context.Context, branchID string, prefix string) error {
	if branchID == "" {
		return fmt.Errorf("branchID is required")
	}

	pattern := redisNamespace + makeKey(branchID, prefix) + "*"
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
