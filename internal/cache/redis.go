// Package cache implements the layered cache hierarchy fronting flag config
// lookups: an in-process LRU (L1), a shared Redis tier (L2), and the
// authoritative config store (L3), plus the invalidation listener that keeps
// them coherent within a bounded staleness window.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bifrost-flags/bifrost/internal/flag"
)

// L2 is the shared network tier. Entries are whole flag configs serialized
// as JSON with a TTL; every instance sees the same view, so deleting a key
// here is the authoritative cross-instance invalidation step.
type L2 struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	channel string
}

// NewL2 wraps a Redis client as the L2 tier.
func NewL2(client *redis.Client, prefix string, ttl time.Duration, channel string) *L2 {
	if client == nil {
		panic("cache: redis client cannot be nil")
	}
	return &L2{client: client, prefix: prefix, ttl: ttl, channel: channel}
}

func (c *L2) redisKey(key string) string {
	return fmt.Sprintf("%s:%s", c.prefix, key)
}

// Get fetches a config from Redis. A missing key returns (nil, nil): misses
// are expected and not an error condition.
func (c *L2) Get(ctx context.Context, key string) (*flag.Config, error) {
	data, err := c.client.Get(ctx, c.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get flag %q from l2: %w", key, err)
	}

	var cfg flag.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		// A corrupt entry is treated as a miss after removal; the next
		// read repopulates from the authoritative store.
		_ = c.client.Del(ctx, c.redisKey(key)).Err()
		return nil, fmt.Errorf("corrupt l2 entry for flag %q: %w", key, err)
	}

	return &cfg, nil
}

// Set stores a config with the tier TTL.
func (c *L2) Set(ctx context.Context, cfg *flag.Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode flag %q: %w", cfg.Key, err)
	}
	if err := c.client.Set(ctx, c.redisKey(cfg.Key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set flag %q in l2: %w", cfg.Key, err)
	}
	return nil
}

// Invalidate deletes the key. Other instances' L1 copies expire via their
// own TTL; that asymmetry is the designed two-speed invalidation.
func (c *L2) Invalidate(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate flag %q in l2: %w", key, err)
	}
	return nil
}

// Notification is the payload carried on the invalidation channel by the
// external management system whenever a config mutates.
type Notification struct {
	Key     string `json:"key"`
	Version int64  `json:"version"`
}

// PublishInvalidation announces a config change on the pub/sub channel.
// The engine itself only consumes notifications; this is here for tests and
// operational tooling.
func (c *L2) PublishInvalidation(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode invalidation: %w", err)
	}
	if err := c.client.Publish(ctx, c.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidation for %q: %w", n.Key, err)
	}
	return nil
}
