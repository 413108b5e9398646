// Package redis provides an optional Redis cache for data-service query
// results.
//
// Graceful fallback: if Redis is unavailable, operations silently return
// zero values instead of blocking the business logic. A nil *Cache is a
// valid, permanently disabled cache.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dayuer/agentbus/internal/logging"
)

// Key prefixes.
const (
	KeySummary = "summary:" // consumer summary payloads
	KeyRecords = "records:" // recent record pages
)

// Config holds Redis connection settings.
type Config struct {
	URL      string // redis://host:port; empty disables the cache
	Password string
	DB       int
	TTL      time.Duration
	Prefix   string // namespace prepended to every key
}

// Cache wraps a connected client.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	log    zerolog.Logger
}

// New connects to Redis. It returns a nil Cache and no error when the URL
// is empty, and a nil Cache plus the cause when the server is unreachable,
// so callers may log and carry on without caching.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Cache, error) {
	log = logging.Component(log, "redis")
	if cfg.URL == "" {
		log.Debug().Msg("URL not configured, cache disabled")
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis: invalid URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	opts.DialTimeout = 2 * time.Second
	opts.ReadTimeout = time.Second
	opts.WriteTimeout = time.Second
	opts.MaxRetries = 1

	c := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: connect %s: %w", opts.Addr, err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	log.Info().Str("addr", opts.Addr).Dur("ttl", ttl).Msg("connected")
	return &Cache{client: c, ttl: ttl, prefix: cfg.Prefix, log: log}, nil
}

// Available reports whether the cache is usable.
func (c *Cache) Available() bool {
	return c != nil && c.client != nil
}

// Close closes the connection.
func (c *Cache) Close() error {
	if !c.Available() {
		return nil
	}
	return c.client.Close()
}

// GetJSON reads a JSON value into out. Returns false if not found or on error.
func (c *Cache) GetJSON(ctx context.Context, key string, out any) bool {
	if !c.Available() {
		return false
	}
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn().Str("key", key).Err(err).Msg("get failed")
		}
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		c.log.Warn().Str("key", key).Err(err).Msg("cached value is not valid JSON")
		return false
	}
	return true
}

// SetJSON writes a JSON-serialized value with the cache TTL. Returns false on failure.
func (c *Cache) SetJSON(ctx context.Context, key string, value any) bool {
	if !c.Available() {
		return false
	}
	data, err := json.Marshal(value)
	if err != nil {
		c.log.Warn().Str("key", key).Err(err).Msg("marshal failed")
		return false
	}
	if err := c.client.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		c.log.Warn().Str("key", key).Err(err).Msg("set failed")
		return false
	}
	return true
}

// Del deletes keys. Returns false on failure.
func (c *Cache) Del(ctx context.Context, keys ...string) bool {
	if !c.Available() || len(keys) == 0 {
		return false
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.prefix + k
	}
	if err := c.client.Del(ctx, full...).Err(); err != nil {
		c.log.Warn().Strs("keys", keys).Err(err).Msg("del failed")
		return false
	}
	return true
}

// DelPrefix deletes every key starting with prefix and returns how many
// were removed. Keys are found with SCAN, so the server is never blocked.
func (c *Cache) DelPrefix(ctx context.Context, prefix string) int {
	if !c.Available() || prefix == "" {
		return 0
	}
	removed := 0
	iter := c.client.Scan(ctx, 0, c.prefix+prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n, err := c.client.Del(ctx, iter.Val()).Result()
		if err != nil {
			c.log.Warn().Str("key", iter.Val()).Err(err).Msg("del failed")
			continue
		}
		removed += int(n)
	}
	if err := iter.Err(); err != nil {
		c.log.Warn().Str("prefix", prefix).Err(err).Msg("scan failed")
	}
	return removed
}

// SummaryKey returns the key for the consumer summary of a database.
func SummaryKey(dbPath string) string {
	return KeySummary + dbPath
}

// RecordsKey returns the key for the n most recent records of a database.
func RecordsKey(dbPath string, n int) string {
	return fmt.Sprintf("%s%d", RecordsPrefix(dbPath), n)
}

// RecordsPrefix is the common prefix of every RecordsKey for dbPath.
func RecordsPrefix(dbPath string) string {
	return KeyRecords + dbPath + ":"
}
