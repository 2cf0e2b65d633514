package callapi

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fivetwenty-io/callapi/internal/constants"
)

// DataCache is the FetchCache used by the server path. It stores successful
// GET responses in a Cache backend and indexes them by tag so RevalidateTag
// can drop every entry carrying a tag.
//
// The tag index lives in this process. With a shared backend each process
// only revalidates entries it stored itself.
type DataCache struct {
	backend Cache
	logger  Logger

	mu      sync.Mutex
	tags    map[string]map[string]struct{}
	keyTags map[string][]string

	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
}

// NewDataCache wraps backend. A nil backend selects a default memory cache.
func NewDataCache(backend Cache, logger Logger) *DataCache {
	if backend == nil {
		backend = NewMemoryCache(constants.DefaultCacheSize)
	}

	return &DataCache{
		backend: backend,
		logger:  logger,
		tags:    make(map[string]map[string]struct{}),
		keyTags: make(map[string][]string),
	}
}

// Backend returns the underlying cache.
func (c *DataCache) Backend() Cache {
	return c.backend
}

// Lookup returns a live entry for key. A miss drops key from the tag index,
// so expired and evicted entries do not accumulate there.
func (c *DataCache) Lookup(ctx context.Context, key QueryKey) (*CacheEntry, bool) {
	hash := key.Hash()

	entry, err := c.backend.Get(ctx, hash)
	if err != nil {
		c.misses.Add(1)
		c.forget(hash)

		return nil, false
	}

	c.hits.Add(1)

	return entry, true
}

// Store saves entry under key. Directives that do not ask for caching are a no-op.
func (c *DataCache) Store(ctx context.Context, key QueryKey, entry *CacheEntry, directives *CacheDirectives) error {
	if !directives.Active() || entry == nil {
		return nil
	}

	hash := key.Hash()

	err := c.backend.Set(ctx, hash, entry)
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", key.String(), err)
	}

	c.sets.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.forgetLocked(hash)

	for _, tag := range directives.Tags {
		keys, ok := c.tags[tag]
		if !ok {
			keys = make(map[string]struct{})
			c.tags[tag] = keys
		}

		if _, seen := keys[hash]; !seen {
			keys[hash] = struct{}{}
			c.keyTags[hash] = append(c.keyTags[hash], tag)
		}
	}

	return nil
}

// IndexedKeys returns how many keys the tag index holds for tag.
func (c *DataCache) IndexedKeys(tag string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.tags[tag])
}

func (c *DataCache) forget(hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.forgetLocked(hash)
}

func (c *DataCache) forgetLocked(hash string) {
	for _, tag := range c.keyTags[hash] {
		keys := c.tags[tag]
		delete(keys, hash)

		if len(keys) == 0 {
			delete(c.tags, tag)
		}
	}

	delete(c.keyTags, hash)
}

// RevalidateTag drops every entry stored with tag and returns how many were dropped.
func (c *DataCache) RevalidateTag(ctx context.Context, tag string) (int, error) {
	if tag == "" {
		return 0, constants.ErrTagRequired
	}

	c.mu.Lock()

	hashes := make([]string, 0, len(c.tags[tag]))
	for hash := range c.tags[tag] {
		hashes = append(hashes, hash)
	}

	for _, hash := range hashes {
		c.forgetLocked(hash)
	}

	c.mu.Unlock()

	count := 0

	for _, hash := range hashes {
		err := c.backend.Delete(ctx, hash)
		if err != nil {
			return count, fmt.Errorf("failed to revalidate tag %s: %w", tag, err)
		}

		count++
	}

	if c.logger != nil {
		c.logger.Info("Revalidated cache tag", map[string]interface{}{
			"tag":     tag,
			"entries": count,
		})
	}

	return count, nil
}

// RevalidateKey drops the entry stored under key.
func (c *DataCache) RevalidateKey(ctx context.Context, key QueryKey) error {
	hash := key.Hash()
	c.forget(hash)

	return c.backend.Delete(ctx, hash)
}

// Clear drops every entry and tag.
func (c *DataCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.tags = make(map[string]map[string]struct{})
	c.keyTags = make(map[string][]string)
	c.mu.Unlock()

	return c.backend.Clear(ctx)
}

// Stats returns a snapshot of cache activity.
func (c *DataCache) Stats() CacheStats {
	stats := CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Sets:   c.sets.Load(),
	}

	if memory, ok := c.backend.(*MemoryCache); ok {
		stats.Evictions = memory.Evictions()
	}

	return stats
}
