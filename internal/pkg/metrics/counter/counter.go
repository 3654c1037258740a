// Package counter keeps lightweight operational counters in Redis hashes.
// Counters are best effort: increments that fail are dropped, never retried,
// and must not slow down or fail the request that produced them.
package counter

import (
	"context"
	"strconv"

	"github.com/gofiber/fiber/v2/log"

	"github.com/quotagate/quotagate/internal/pkg/cache"
)

const (
	eventsKey = "webhook:counters:events"
	usageKey  = "usage:counters:products"
)

// Stats is a point-in-time snapshot of all counters.
type Stats struct {
	// Events counts processed webhook events per raw event type.
	Events map[string]int64 `json:"events"`
	// Usage sums recorded usage per product.
	Usage map[string]int64 `json:"usage"`
}

// Counter tallies processed events and recorded usage. A nil Counter is
// valid and counts nothing.
type Counter struct {
	cache *cache.Cache
}

// New creates a counter backed by the given cache. Returns nil when the
// cache is nil, which disables counting.
func New(c *cache.Cache) *Counter {
	if c == nil {
		return nil
	}
	return &Counter{cache: c}
}

// AddEvent increments the processed counter for one event type.
func (c *Counter) AddEvent(ctx context.Context, eventType string) {
	if c == nil || eventType == "" {
		return
	}
	if err := c.cache.Client().HIncrBy(ctx, eventsKey, eventType, 1).Err(); err != nil {
		log.Warnf("[counter] event tally failed: %v", err)
	}
}

// AddUsage adds recorded usage to the per-product tally.
func (c *Counter) AddUsage(ctx context.Context, productID string, amount int64) {
	if c == nil || productID == "" || amount <= 0 {
		return
	}
	if err := c.cache.Client().HIncrBy(ctx, usageKey, productID, amount).Err(); err != nil {
		log.Warnf("[counter] usage tally failed: %v", err)
	}
}

// Snapshot reads all counters.
func (c *Counter) Snapshot(ctx context.Context) (*Stats, error) {
	stats := &Stats{Events: map[string]int64{}, Usage: map[string]int64{}}
	if c == nil {
		return stats, nil
	}

	events, err := c.cache.Client().HGetAll(ctx, eventsKey).Result()
	if err != nil {
		return nil, err
	}
	for k, v := range events {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			stats.Events[k] = n
		}
	}

	usage, err := c.cache.Client().HGetAll(ctx, usageKey).Result()
	if err != nil {
		return nil, err
	}
	for k, v := range usage {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			stats.Usage[k] = n
		}
	}
	return stats, nil
}
