// Package cache keeps recently proxied tiles in memory.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// TileCache provides LRU caching for proxied tiles, bounded by entry count and total size
type TileCache struct {
	mu       sync.Mutex
	entries  *lru.Cache[string, *CacheEntry]
	maxSize  int64 // Maximum cache size in bytes
	currSize int64 // Current cache size (atomic)
	ttl      time.Duration
	hits     int64
	misses   int64
	now      func() time.Time
}

// CacheEntry represents a cached tile
type CacheEntry struct {
	Key         string
	LayerID     string
	ContentType string
	Data        []byte
	CreateTime  time.Time
}

// Stats is a snapshot of the cache counters
type Stats struct {
	Entries   int   `json:"entries"`
	SizeBytes int64 `json:"sizeBytes"`
	MaxBytes  int64 `json:"maxBytes"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
}

// NewTileCache creates a tile cache; zero limits in cfg fall back to the defaults
func NewTileCache(cfg Config) (*TileCache, error) {
	cfg = cfg.withDefaults()

	c := &TileCache{
		maxSize: int64(cfg.MaxSizeMB) * 1024 * 1024,
		ttl:     cfg.ttl(),
		now:     time.Now,
	}

	entries, err := lru.NewWithEvict(cfg.MaxEntries, func(_ string, e *CacheEntry) {
		atomic.AddInt64(&c.currSize, -int64(len(e.Data)))
	})
	if err != nil {
		return nil, err
	}
	c.entries = entries
	return c, nil
}

// Get retrieves a tile from cache. Expired tiles are dropped and reported as misses.
func (c *TileCache) Get(key string) (*CacheEntry, bool) {
	entry, ok := c.entries.Get(key)
	if ok && c.now().Sub(entry.CreateTime) > c.ttl {
		c.entries.Remove(key)
		ok = false
	}

	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}
	atomic.AddInt64(&c.hits, 1)
	return entry, true
}

// Set stores a tile in cache, evicting the least recently used tiles while
// the cache is over its size budget
func (c *TileCache) Set(key, layerID, contentType string, data []byte) {
	size := int64(len(data))
	if size > c.maxSize {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Replacing an entry does not fire the evict callback
	if old, ok := c.entries.Peek(key); ok {
		atomic.AddInt64(&c.currSize, -int64(len(old.Data)))
	}

	c.entries.Add(key, &CacheEntry{
		Key:         key,
		LayerID:     layerID,
		ContentType: contentType,
		Data:        data,
		CreateTime:  c.now(),
	})
	atomic.AddInt64(&c.currSize, size)

	for atomic.LoadInt64(&c.currSize) > c.maxSize {
		if _, _, ok := c.entries.RemoveOldest(); !ok {
			break
		}
	}
}

// PurgeLayer removes every tile of a layer and returns how many were removed
func (c *TileCache) PurgeLayer(layerID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, key := range c.entries.Keys() {
		if e, ok := c.entries.Peek(key); ok && e.LayerID == layerID {
			c.entries.Remove(key)
			removed++
		}
	}
	return removed
}

// Stats returns cache statistics
func (c *TileCache) Stats() Stats {
	return Stats{
		Entries:   c.entries.Len(),
		SizeBytes: atomic.LoadInt64(&c.currSize),
		MaxBytes:  c.maxSize,
		Hits:      atomic.LoadInt64(&c.hits),
		Misses:    atomic.LoadInt64(&c.misses),
	}
}

// Clear removes all cached tiles
func (c *TileCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Purge()
	atomic.StoreInt64(&c.currSize, 0)
	atomic.StoreInt64(&c.hits, 0)
	atomic.StoreInt64(&c.misses, 0)
}
