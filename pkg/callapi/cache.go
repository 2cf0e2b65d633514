package callapi

import (
	"container/list"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fivetwenty-io/callapi/internal/constants"
)

// Static errors for err113 compliance.
var (
	ErrKeyNotFound  = errors.New("key not found")
	ErrEntryExpired = errors.New("entry expired")
)

// Cache is a key-value store for cached responses.
type Cache interface {
	Get(ctx context.Context, key string) (*CacheEntry, error)
	Set(ctx context.Context, key string, entry *CacheEntry) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Has(ctx context.Context, key string) bool
}

// CacheEntry is a cached successful response.
type CacheEntry struct {
	Data       json.RawMessage `json:"data,omitempty"`
	StatusCode int             `json:"status_code"`
	Message    string          `json:"message,omitempty"`
	Tags       []string        `json:"tags,omitempty"`
	StoredAt   time.Time       `json:"stored_at"`
	// ExpiresAt is zero for entries that live until they are revalidated.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the entry is past its expiry at now.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Envelope rebuilds the successful envelope the entry was stored from.
func (e *CacheEntry) Envelope() *Envelope[json.RawMessage] {
	return &Envelope[json.RawMessage]{
		Success:    true,
		Data:       e.Data,
		Message:    e.Message,
		StatusCode: e.StatusCode,
		Kind:       KindNone,
		raw:        e.Data,
	}
}

// EntryFromEnvelope builds a cache entry from a successful envelope.
func EntryFromEnvelope(env *Envelope[json.RawMessage], ttl time.Duration, tags []string) *CacheEntry {
	now := time.Now()

	entry := &CacheEntry{
		Data:       env.Data,
		StatusCode: env.StatusCode,
		Message:    env.Message,
		Tags:       append([]string(nil), tags...),
		StoredAt:   now,
	}

	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}

	return entry
}

// CacheOptions are options common to all cache backends.
type CacheOptions struct {
	// MaxSize bounds the number of entries held in memory.
	MaxSize int
}

// DefaultCacheOptions returns default cache options.
func DefaultCacheOptions() *CacheOptions {
	return &CacheOptions{
		MaxSize: constants.DefaultCacheSize,
	}
}

// CacheStats counts cache activity.
type CacheStats struct {
	Hits      int64
	Misses    int64
	Sets      int64
	Evictions int64
}

// GetHitRate returns hits divided by lookups.
func (s *CacheStats) GetHitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}

	return float64(s.Hits) / float64(total)
}

type memoryItem struct {
	key   string
	entry *CacheEntry
}

// MemoryCache is a bounded in-process LRU cache.
type MemoryCache struct {
	mu        sync.Mutex
	maxSize   int
	items     map[string]*list.Element
	order     *list.List
	evictions atomic.Int64
}

// NewMemoryCache creates a memory cache holding at most maxSize entries.
func NewMemoryCache(maxSize int) *MemoryCache {
	if maxSize <= 0 {
		maxSize = constants.DefaultCacheSize
	}

	return &MemoryCache{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Get returns the entry for key.
func (c *MemoryCache) Get(ctx context.Context, key string) (*CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, ErrKeyNotFound
	}

	item, _ := elem.Value.(*memoryItem)
	if item.entry.Expired(time.Now()) {
		c.removeElement(elem)

		return nil, ErrEntryExpired
	}

	c.order.MoveToFront(elem)

	return item.entry, nil
}

// Set stores entry under key, evicting the least recently used entry when full.
func (c *MemoryCache) Set(ctx context.Context, key string, entry *CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		item, _ := elem.Value.(*memoryItem)
		item.entry = entry
		c.order.MoveToFront(elem)

		return nil
	}

	for c.order.Len() >= c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}

		c.removeElement(oldest)
		c.evictions.Add(1)
	}

	c.items[key] = c.order.PushFront(&memoryItem{key: key, entry: entry})

	return nil
}

// Delete removes key.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}

	return nil
}

// Clear removes all entries.
func (c *MemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order.Init()

	return nil
}

// Has reports whether a live entry exists for key.
func (c *MemoryCache) Has(ctx context.Context, key string) bool {
	_, err := c.Get(ctx, key)

	return err == nil
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.order.Len()
}

// Evictions returns the number of entries evicted for capacity.
func (c *MemoryCache) Evictions() int64 {
	return c.evictions.Load()
}

// Cleanup removes expired entries.
func (c *MemoryCache) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()

		item, _ := elem.Value.(*memoryItem)
		if item.entry.Expired(now) {
			c.removeElement(elem)
		}

		elem = next
	}
}

func (c *MemoryCache) removeElement(elem *list.Element) {
	item, _ := elem.Value.(*memoryItem)
	delete(c.items, item.key)
	c.order.Remove(elem)
}
