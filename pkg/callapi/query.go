package callapi

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fivetwenty-io/callapi/internal/constants"
	"golang.org/x/sync/singleflight"
)

// QueryClient caches successful envelopes by QueryKey, collapses identical
// in-flight fetches and invalidates cached queries after mutations.
type QueryClient struct {
	cache     Cache
	staleTime time.Duration
	gcTime    time.Duration
	logger    Logger

	group singleflight.Group

	mu   sync.Mutex
	keys map[string]QueryKey
}

// QueryOption configures a QueryClient.
type QueryOption func(*QueryClient)

// WithStaleTime sets how long fetched data is served without refetching.
// The default of zero refetches on every Fetch.
func WithStaleTime(d time.Duration) QueryOption {
	return func(c *QueryClient) {
		c.staleTime = d
	}
}

// WithGCTime sets how long unused data is retained.
func WithGCTime(d time.Duration) QueryOption {
	return func(c *QueryClient) {
		c.gcTime = d
	}
}

// WithQueryCache sets the backing cache.
func WithQueryCache(cache Cache) QueryOption {
	return func(c *QueryClient) {
		c.cache = cache
	}
}

// WithQueryLogger sets the logger.
func WithQueryLogger(logger Logger) QueryOption {
	return func(c *QueryClient) {
		c.logger = logger
	}
}

// NewQueryClient creates a query client backed by a memory cache unless
// WithQueryCache is given.
func NewQueryClient(opts ...QueryOption) *QueryClient {
	c := &QueryClient{
		gcTime: constants.DefaultGCTime,
		keys:   make(map[string]QueryKey),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.cache == nil {
		c.cache = NewMemoryCache(constants.DefaultCacheSize)
	}

	return c
}

// Fetch returns the cached data for key while it is fresh and calls fn
// otherwise. Concurrent fetches of the same key and type share one call of fn,
// which runs detached from any single caller's cancellation; each caller still
// returns early when its own ctx is done. Failed envelopes are returned but
// never cached.
func Fetch[T any](ctx context.Context, c *QueryClient, key QueryKey, fn func(context.Context) *Envelope[T]) *Envelope[T] {
	hash := key.Hash()

	if env, ok := cachedEnvelope[T](ctx, c, hash); ok {
		return env
	}

	shared := context.WithoutCancel(ctx)
	flight := fmt.Sprintf("%s:%T", hash, (*T)(nil))

	results := c.group.DoChan(flight, func() (interface{}, error) {
		env := fn(shared)
		if env == nil {
			env = Decode[T](NormalizeTransportError(nil))
		}

		if env.Success {
			err := c.store(shared, key, env.Data, env.StatusCode, env.Message)
			if err != nil && c.logger != nil {
				c.logger.Warn("Failed to cache query data", map[string]interface{}{
					"key":   key.String(),
					"error": err.Error(),
				})
			}
		}

		return env, nil
	})

	select {
	case <-ctx.Done():
		return Decode[T](NormalizeTransportError(ctx.Err()))
	case result := <-results:
		if env, ok := result.Val.(*Envelope[T]); ok && env != nil {
			return env
		}

		return Decode[T](NormalizeTransportError(nil))
	}
}

// Query fetches endpoint with GET through c using the key derived from params.
func Query[T any](ctx context.Context, c *QueryClient, d Dispatcher, endpoint string, params Params, directives *CacheDirectives) *Envelope[T] {
	return Fetch(ctx, c, DeriveKey(endpoint, params), func(ctx context.Context) *Envelope[T] {
		return Get[T](ctx, d, endpoint, params, directives)
	})
}

// Mutate runs fn and, on success, invalidates the given key prefixes or every
// cached query when none are given.
func Mutate[T any](ctx context.Context, c *QueryClient, fn func(context.Context) *Envelope[T], invalidate ...QueryKey) *Envelope[T] {
	env := fn(ctx)
	if env == nil || !env.Success {
		return env
	}

	if len(invalidate) == 0 {
		c.InvalidateAll(ctx)

		return env
	}

	for _, prefix := range invalidate {
		c.Invalidate(ctx, prefix)
	}

	return env
}

// SetQueryData stores data under key as if it had been fetched.
func SetQueryData[T any](ctx context.Context, c *QueryClient, key QueryKey, data T) error {
	return c.store(ctx, key, data, 0, "")
}

// GetQueryData returns the data stored under key regardless of staleness.
func GetQueryData[T any](ctx context.Context, c *QueryClient, key QueryKey) (T, bool) {
	var zero T

	entry, err := c.cache.Get(ctx, key.Hash())
	if err != nil {
		return zero, false
	}

	var data T

	err = json.Unmarshal(entry.Data, &data)
	if err != nil {
		return zero, false
	}

	return data, true
}

// Invalidate drops every cached query whose key starts with prefix and
// returns how many were dropped.
func (c *QueryClient) Invalidate(ctx context.Context, prefix QueryKey) int {
	c.mu.Lock()

	var matched []string

	for hash, key := range c.keys {
		if key.HasPrefix(prefix) {
			matched = append(matched, hash)
			delete(c.keys, hash)
		}
	}

	c.mu.Unlock()

	for _, hash := range matched {
		_ = c.cache.Delete(ctx, hash)
	}

	if c.logger != nil && len(matched) > 0 {
		c.logger.Debug("Invalidated queries", map[string]interface{}{
			"prefix":  prefix.String(),
			"queries": len(matched),
		})
	}

	return len(matched)
}

// InvalidateAll drops every cached query.
func (c *QueryClient) InvalidateAll(ctx context.Context) int {
	c.mu.Lock()

	hashes := make([]string, 0, len(c.keys))
	for hash := range c.keys {
		hashes = append(hashes, hash)
	}

	c.keys = make(map[string]QueryKey)
	c.mu.Unlock()

	for _, hash := range hashes {
		_ = c.cache.Delete(ctx, hash)
	}

	return len(hashes)
}

// Keys returns the keys of all cached queries.
func (c *QueryClient) Keys() []QueryKey {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]QueryKey, 0, len(c.keys))
	for _, key := range c.keys {
		out = append(out, key)
	}

	return out
}

func (c *QueryClient) store(ctx context.Context, key QueryKey, data any, status int, message string) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode query data: %w", err)
	}

	now := time.Now()
	entry := &CacheEntry{
		Data:       encoded,
		StatusCode: status,
		Message:    message,
		StoredAt:   now,
	}

	if c.gcTime > 0 {
		entry.ExpiresAt = now.Add(c.gcTime)
	}

	hash := key.Hash()

	err = c.cache.Set(ctx, hash, entry)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.keys[hash] = key
	c.mu.Unlock()

	return nil
}

func cachedEnvelope[T any](ctx context.Context, c *QueryClient, hash string) (*Envelope[T], bool) {
	if c.staleTime <= 0 {
		return nil, false
	}

	entry, err := c.cache.Get(ctx, hash)
	if err != nil || time.Since(entry.StoredAt) >= c.staleTime {
		return nil, false
	}

	env := Decode[T](entry.Envelope())
	if !env.Success {
		return nil, false
	}

	return env, true
}
