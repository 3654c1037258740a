package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quotagate/quotagate/internal/pkg/env"
)

// Cache wraps the Redis client used for entitlement snapshots. It is a
// latency optimization only; callers must treat every error as a cache miss
// and fall back to the durable store.
type Cache struct {
	client *redis.Client
}

// Setup connects to the cache server configured via CACHE_HOST/CACHE_PORT.
// A failed connection is logged but not fatal: the service degrades to
// store-only reads.
func Setup() *Cache {
	host := env.GetEnv("CACHE_HOST", "localhost")
	port := env.GetEnv("CACHE_PORT", "6379")

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       0,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		log.Printf("Warning: Could not connect to cache: %v", err)
	}
	return &Cache{client: client}
}

// NewWithClient wraps an existing client, used by tests.
func NewWithClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Client exposes the underlying Redis client for adapters that need it
// directly (e.g. rate-limiter storage).
func (c *Cache) Client() *redis.Client {
	return c.client
}

// Set stores a value with the given TTL.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

// Get retrieves a value by key. redis.Nil is returned on miss.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

// Delete removes a key. Used for write-path invalidation: deleting instead of
// updating avoids a racing read repopulating a stale merge.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	return c.client.Del(ctx, keys...).Err()
}

// IsMiss reports whether err is a plain cache miss.
func IsMiss(err error) bool {
	return err == redis.Nil
}
