// Package cache provides an optional Redis read cache for the query API.
// The server degrades gracefully when Redis is absent: a nil *Cache skips
// caching entirely.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// StatisticsKey caches the computed statistics summary
	StatisticsKey = "nilm:statistics"
	// AppliancesKey caches the appliance catalogue
	AppliancesKey = "nilm:appliances"
	// StatisticsTTL bounds how stale the statistics summary may be
	StatisticsTTL = 30 * time.Second
	// AppliancesTTL bounds how stale the catalogue may be
	AppliancesTTL = 10 * time.Second
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Cache wraps a Redis connection for JSON value caching.
type Cache struct {
	client *redis.Client
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, addr, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Get unmarshals the cached value for key into dest. A nil receiver always
// misses.
func (c *Cache) Get(ctx context.Context, key string, dest any) error {
	if c == nil {
		return ErrMiss
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", key, err)
	}
	return json.Unmarshal(data, dest)
}

// Set stores value under key with the given TTL. A nil receiver is a no-op.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", key, err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// Invalidate removes the given keys. A nil receiver is a no-op.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	if c == nil || len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// Ping verifies the connection.
func (c *Cache) Ping(ctx context.Context) error {
	if c == nil {
		return errors.New("cache disabled")
	}
	return c.client.Ping(ctx).Err()
}

// Close closes the connection. A nil receiver is a no-op.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
