package enums

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	infoKeyPrefix = "enum_info:"
	fullKeyPrefix = "enum_full_info:"

	// DefaultCacheTTL bounds how long a missed invalidation can serve stale values.
	DefaultCacheTTL = 24 * time.Hour
)

// ErrCacheMiss is returned by Cache.Get when the key is absent.
var ErrCacheMiss = errors.New("enum cache miss")

// Cache is the key/value store holding serialised enum views.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

func infoKey(name string) string { return infoKeyPrefix + name }
func fullKey(name string) string { return fullKeyPrefix + name }

// RedisCache stores enum views as plain string keys with TTL eviction.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache constructs a Redis-backed enum cache.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get returns ErrCacheMiss on redis.Nil; other errors are wrapped.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("get enum cache %s: %w", key, err)
	}
	return data, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set enum cache %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete enum cache: %w", err)
	}
	return nil
}

var _ Cache = (*RedisCache)(nil)
