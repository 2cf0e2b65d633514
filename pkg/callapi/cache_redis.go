package callapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fivetwenty-io/callapi/internal/constants"
	"github.com/redis/go-redis/v9"
)

// Static errors for err113 compliance.
var (
	ErrRedisAddrRequired = errors.New("redis address or client required")
)

// RedisCacheConfig configures a Redis-backed cache.
type RedisCacheConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces keys. Defaults to "callapi:cache:".
	Prefix string
	// Client is an existing client. It is not closed by the cache.
	Client *redis.Client
}

// RedisCache stores entries in Redis with per-entry expiry.
type RedisCache struct {
	client     *redis.Client
	ownsClient bool
	prefix     string
}

// NewRedisCache creates a Redis cache.
func NewRedisCache(config *RedisCacheConfig) (*RedisCache, error) {
	if config == nil || (config.Client == nil && config.Addr == "") {
		return nil, ErrRedisAddrRequired
	}

	client := config.Client
	ownsClient := false

	if client == nil {
		client = redis.NewClient(&redis.Options{
			Addr:     config.Addr,
			Password: config.Password,
			DB:       config.DB,
		})
		ownsClient = true
	}

	prefix := config.Prefix
	if prefix == "" {
		prefix = constants.DefaultRedisKeyPrefix
	}

	return &RedisCache{client: client, ownsClient: ownsClient, prefix: prefix}, nil
}

// Get returns the entry for key.
func (c *RedisCache) Get(ctx context.Context, key string) (*CacheEntry, error) {
	encoded, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrKeyNotFound
		}

		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}

	var entry CacheEntry

	err = json.Unmarshal(encoded, &entry)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cache entry: %w", err)
	}

	if entry.Expired(time.Now()) {
		return nil, ErrEntryExpired
	}

	return &entry, nil
}

// Set stores entry under key, expiring it in Redis at entry.ExpiresAt.
func (c *RedisCache) Set(ctx context.Context, key string, entry *CacheEntry) error {
	var ttl time.Duration

	if !entry.ExpiresAt.IsZero() {
		ttl = time.Until(entry.ExpiresAt)
		if ttl <= 0 {
			return nil
		}
	}

	encoded, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	err = c.client.Set(ctx, c.prefix+key, encoded, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}

	return nil
}

// Delete removes key.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	err := c.client.Del(ctx, c.prefix+key).Err()
	if err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}

	return nil
}

// Clear removes every key under the prefix.
func (c *RedisCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 0).Iterator()

	for iter.Next(ctx) {
		err := c.client.Del(ctx, iter.Val()).Err()
		if err != nil {
			return fmt.Errorf("failed to delete cache entry: %w", err)
		}
	}

	err := iter.Err()
	if err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}

	return nil
}

// Has reports whether key exists.
func (c *RedisCache) Has(ctx context.Context, key string) bool {
	n, err := c.client.Exists(ctx, c.prefix+key).Result()

	return err == nil && n > 0
}

// Close closes the client if the cache created it.
func (c *RedisCache) Close() error {
	if !c.ownsClient {
		return nil
	}

	return c.client.Close()
}
