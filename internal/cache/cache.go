// Package cache stores JSON-encoded values in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// JSON caches values of type T under a common key prefix.
type JSON[T any] struct {
	client redis.Cmdable
	prefix string
}

// NewJSON constructs a cache backed by the provided Redis client.
func NewJSON[T any](client redis.Cmdable, prefix string) *JSON[T] {
	return &JSON[T]{client: client, prefix: prefix}
}

// Get returns the cached value, or nil when the key is absent.
func (c *JSON[T]) Get(ctx context.Context, key string) (*T, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}

	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cached value: %w", err)
	}

	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("decode cached value: %w", err)
	}

	return &value, nil
}

// Set stores value for ttl.
func (c *JSON[T]) Set(ctx context.Context, key string, value *T, ttl time.Duration) error {
	if c == nil || c.client == nil || value == nil {
		return nil
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode value for cache: %w", err)
	}

	if err := c.client.Set(ctx, c.prefix+key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("set cached value: %w", err)
	}

	return nil
}

// Invalidate removes the entry if it exists.
func (c *JSON[T]) Invalidate(ctx context.Context, key string) error {
	if c == nil || c.client == nil {
		return nil
	}

	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("delete cached value: %w", err)
	}

	return nil
}
