// Package cache provides the TTL- and quality-aware result cache that lets
// completed pipeline artifacts survive both repeat requests and process
// restarts.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orbitlabs/orbit/internal/metrics"
)

// Entry is one cached record. Owned exclusively by Cache; mutated only
// through its API. The JSON form is the durable layout and must round-trip
// exactly.
type Entry struct {
	Key         string          `json:"key"`
	Value       json.RawMessage `json:"value"`
	CreatedAt   time.Time       `json:"created_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
	HitCount    int64           `json:"hit_count"`
	QualityTag  string          `json:"quality_tag"`
	ContentHash string          `json:"content_hash"`
}

// Store mirrors entries to durable storage, one record per cache key.
// Implementations must make Load return only what Save wrote (expired records
// may be omitted) and tolerate Delete of absent keys.
type Store interface {
	Save(ctx context.Context, e Entry) error
	Delete(ctx context.Context, key string) error
	Load(ctx context.Context) ([]Entry, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// Hasher produces the content hash recorded when callers do not supply one.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// GetOption adjusts a single Get call.
type GetOption func(*getOpts)

type getOpts struct {
	maxAge time.Duration
}

// MaxAge treats entries older than d as absent even if not yet expired; a
// stricter per-call freshness override.
func MaxAge(d time.Duration) GetOption {
	return func(o *getOpts) { o.maxAge = d }
}

// Cache is a process-wide artifact cache with lazy TTL expiry and synchronous
// write-through persistence. There is no capacity bound or LRU eviction:
// target cardinality is one entry per subject per pipeline variant, so
// unbounded growth is an accepted tradeoff. Reads and writes for the same key
// are serialized by the internal lock; no lock is held across store I/O
// during reads.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Entry

	store  Store
	clock  Clock
	hasher Hasher
	logger *zap.Logger
}

// New builds a Cache and eagerly loads still-valid durable entries. A nil
// store yields a memory-only cache (used in tests and the no_cache strategy).
// Store failures during load degrade to an empty cache and are logged, never
// returned: persistence trouble must not block startup.
func New(ctx context.Context, store Store, clock Clock, hasher Hasher, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		entries: make(map[string]*Entry),
		store:   store,
		clock:   clock,
		hasher:  hasher,
		logger:  logger,
	}
	c.loadDurable(ctx)
	return c
}

func (c *Cache) loadDurable(ctx context.Context) {
	if c.store == nil {
		return
	}
	loaded, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Warn("cache durable load failed, starting empty", zap.Error(err))
		return
	}
	now := c.clock.Now()
	kept := 0
	for i := range loaded {
		e := loaded[i]
		if !e.ExpiresAt.After(now) {
			continue
		}
		c.entries[e.Key] = &e
		kept++
	}
	c.logger.Info("cache loaded from durable store",
		zap.Int("entries", kept),
		zap.Int("skipped", len(loaded)-kept),
	)
}

// Get returns the cached value for key if present and fresh. Expired entries
// are removed on the way out. A hit increments the entry's hit count.
func (c *Cache) Get(ctx context.Context, key string, opts ...GetOption) (json.RawMessage, bool) {
	var o getOpts
	for _, opt := range opts {
		opt(&o)
	}

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		metrics.ObserveCacheOp("get", "miss")
		return nil, false
	}
	now := c.clock.Now()
	if !now.Before(e.ExpiresAt) {
		delete(c.entries, key)
		c.mu.Unlock()
		c.deleteDurable(ctx, key)
		metrics.ObserveCacheOp("get", "expired")
		return nil, false
	}
	if o.maxAge > 0 && now.Sub(e.CreatedAt) > o.maxAge {
		c.mu.Unlock()
		metrics.ObserveCacheOp("get", "stale")
		return nil, false
	}
	e.HitCount++
	value := e.Value
	hits := e.HitCount
	c.mu.Unlock()

	metrics.ObserveCacheOp("get", "hit")
	c.logger.Debug("cache hit", zap.String("key", key), zap.Int64("hits", hits))
	return value, true
}

// Set stores value under key and synchronously mirrors the entry to the
// durable store. When contentHash is empty it is computed from the serialized
// value; the hash serves change detection by callers, not cache admission.
// Persistence failures are logged and swallowed: the in-memory entry stands
// and the caller's run must not fail over storage trouble.
func (c *Cache) Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration, qualityTag, contentHash string) {
	now := c.clock.Now()
	if contentHash == "" && c.hasher != nil {
		h, err := c.hasher.Hash(value)
		if err != nil {
			c.logger.Warn("cache content hash failed", zap.String("key", key), zap.Error(err))
		} else {
			contentHash = h
		}
	}

	e := &Entry{
		Key:         key,
		Value:       value,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		QualityTag:  qualityTag,
		ContentHash: contentHash,
	}

	c.mu.Lock()
	c.entries[key] = e
	snapshot := *e
	c.mu.Unlock()

	metrics.ObserveCacheOp("set", "ok")
	if c.store != nil {
		if err := c.store.Save(ctx, snapshot); err != nil {
			c.logger.Warn("cache persist failed", zap.String("key", key), zap.Error(err))
		}
	}
}

// Invalidate removes key unconditionally, in memory and durably.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	c.deleteDurable(ctx, key)
	metrics.ObserveCacheOp("invalidate", "ok")
}

// InvalidatePattern removes every key containing substr, returning how many
// were removed. Coarse bulk eviction for "all entries for subject X across
// pipelines".
func (c *Cache) InvalidatePattern(ctx context.Context, substr string) int {
	c.mu.Lock()
	var victims []string
	for key := range c.entries {
		if strings.Contains(key, substr) {
			victims = append(victims, key)
		}
	}
	for _, key := range victims {
		delete(c.entries, key)
	}
	c.mu.Unlock()

	for _, key := range victims {
		c.deleteDurable(ctx, key)
	}
	metrics.ObserveCacheOp("invalidate_pattern", "ok")
	return len(victims)
}

// Meta returns a copy of the entry metadata for key, for inspection tooling.
func (c *Cache) Meta(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Len reports the number of resident entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) deleteDurable(ctx context.Context, key string) {
	if c.store == nil {
		return
	}
	if err := c.store.Delete(ctx, key); err != nil {
		c.logger.Warn("cache durable delete failed", zap.String("key", key), zap.Error(err))
	}
}
