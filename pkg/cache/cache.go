// Package cache is a redis-backed TTL cache for retrieval results and
// query reformulations. Values are JSON-encoded; a disabled cache is a
// no-op so callers never branch on configuration.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/strata-ai/strata/pkg/config"
)

// Cache wraps a redis client with a fixed TTL.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New returns a disabled (nil-client) cache when cfg says so.
func New(cfg *config.CacheConfig) *Cache {
	if !cfg.IsEnabled() {
		return &Cache{}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Pass,
		DB:       cfg.DB,
	})
	return &Cache{client: client, ttl: cfg.TTL}
}

// NewWithClient wires an existing client, used by tests.
func NewWithClient(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Enabled reports whether the cache actually stores anything.
func (c *Cache) Enabled() bool { return c.client != nil }

// Get unmarshals the cached value into dest. The boolean reports a
// hit; cache failures degrade to a miss.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if c.client == nil {
		return false, nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		slog.Warn("Cache read failed", "key", key, "error", err)
		return false, nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to decode cached value: %w", err)
	}
	return true, nil
}

// Set stores value under key with the configured TTL. Failures are
// logged, not returned; the cache is best-effort.
func (c *Cache) Set(ctx context.Context, key string, value interface{}) {
	if c.client == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		slog.Warn("Cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		slog.Warn("Cache write failed", "key", key, "error", err)
	}
}

// Delete removes keys. Used when a collection's content changes and
// cached retrieval results would go stale.
func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if c.client == nil || len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		slog.Warn("Cache delete failed", "error", err)
	}
}

// DeleteByPrefix evicts every key under a prefix (SCAN + DEL).
func (c *Cache) DeleteByPrefix(ctx context.Context, prefix string) {
	if c.client == nil {
		return
	}
	iter := c.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		slog.Warn("Cache scan failed", "prefix", prefix, "error", err)
		return
	}
	c.Delete(ctx, keys...)
}

func (c *Cache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Fingerprint builds a stable cache key from its parts. Parts are
// JSON-encoded so maps hash deterministically (encoding/json sorts
// map keys).
func Fingerprint(namespace string, parts ...interface{}) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, part := range parts {
		// Encoding basic values and sorted maps cannot fail here.
		_ = enc.Encode(part)
	}
	return namespace + ":" + hex.EncodeToString(h.Sum(nil))[:32]
}
