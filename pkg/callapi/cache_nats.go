package callapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fivetwenty-io/callapi/internal/constants"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Static errors for err113 compliance.
var (
	ErrNATSURLRequired = errors.New("NATS URL or connection required")
)

// NATSKVConfig configures a JetStream key-value cache.
type NATSKVConfig struct {
	// URL is used to connect when Conn is nil.
	URL string
	// Conn is an existing connection. It is not closed by the cache.
	Conn *nats.Conn
	// Bucket is the key-value bucket name.
	Bucket string
	// TTL is the bucket-wide maximum age of entries. Zero keeps entries
	// until they are deleted.
	TTL time.Duration
	// Timeout bounds bucket creation.
	Timeout time.Duration
}

// NATSKVCache stores entries in a JetStream key-value bucket so that several
// server processes share one data cache.
type NATSKVCache struct {
	conn     *nats.Conn
	ownsConn bool
	kv       jetstream.KeyValue
}

// NewNATSKVCache connects to NATS and opens or creates the bucket.
func NewNATSKVCache(config *NATSKVConfig) (*NATSKVCache, error) {
	if config == nil || (config.Conn == nil && config.URL == "") {
		return nil, ErrNATSURLRequired
	}

	conn := config.Conn
	ownsConn := false

	if conn == nil {
		var err error

		conn, err = nats.Connect(config.URL, nats.Name("callapi-cache"))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}

		ownsConn = true
	}

	bucket := config.Bucket
	if bucket == "" {
		bucket = constants.DefaultNATSBucket
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = constants.ShortHTTPTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	js, err := jetstream.New(conn)
	if err != nil {
		closeOwned(conn, ownsConn)

		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "callapi response cache",
		TTL:         config.TTL,
	})
	if err != nil {
		closeOwned(conn, ownsConn)

		return nil, fmt.Errorf("failed to open key-value bucket %s: %w", bucket, err)
	}

	return &NATSKVCache{conn: conn, ownsConn: ownsConn, kv: kv}, nil
}

// Get returns the entry for key.
func (c *NATSKVCache) Get(ctx context.Context, key string) (*CacheEntry, error) {
	kvEntry, err := c.kv.Get(ctx, natsKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrKeyNotFound
		}

		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}

	var entry CacheEntry

	err = json.Unmarshal(kvEntry.Value(), &entry)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cache entry: %w", err)
	}

	if entry.Expired(time.Now()) {
		_ = c.kv.Delete(ctx, natsKey(key))

		return nil, ErrEntryExpired
	}

	return &entry, nil
}

// Set stores entry under key.
func (c *NATSKVCache) Set(ctx context.Context, key string, entry *CacheEntry) error {
	encoded, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	_, err = c.kv.Put(ctx, natsKey(key), encoded)
	if err != nil {
		return fmt.Errorf("failed to put cache entry: %w", err)
	}

	return nil
}

// Delete removes key.
func (c *NATSKVCache) Delete(ctx context.Context, key string) error {
	err := c.kv.Delete(ctx, natsKey(key))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}

	return nil
}

// Clear removes all keys in the bucket.
func (c *NATSKVCache) Clear(ctx context.Context) error {
	keys, err := c.kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil
		}

		return fmt.Errorf("failed to list cache keys: %w", err)
	}

	for _, key := range keys {
		err := c.kv.Delete(ctx, key)
		if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
			return fmt.Errorf("failed to delete cache entry: %w", err)
		}
	}

	return nil
}

// Has reports whether a live entry exists for key.
func (c *NATSKVCache) Has(ctx context.Context, key string) bool {
	_, err := c.Get(ctx, key)

	return err == nil
}

// Close closes the connection if the cache opened it.
func (c *NATSKVCache) Close() {
	closeOwned(c.conn, c.ownsConn)
}

func closeOwned(conn *nats.Conn, owned bool) {
	if owned && conn != nil {
		conn.Close()
	}
}

// natsKey maps an arbitrary key onto the restricted KV key alphabet.
func natsKey(key string) string {
	sum := sha256.Sum256([]byte(key))

	return hex.EncodeToString(sum[:])
}
