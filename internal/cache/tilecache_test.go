package cache

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCache(t *testing.T, cfg Config) *TileCache {
	t.Helper()
	c, err := NewTileCache(cfg)
	require.NoError(t, err)
	return c
}

func TestGetSet(t *testing.T) {
	c := newCache(t, Config{})

	_, ok := c.Get("https://tiles.example/0/0/0.jpg")
	assert.False(t, ok)

	c.Set("https://tiles.example/0/0/0.jpg", "moon", "image/jpeg", []byte("jpeg"))
	e, ok := c.Get("https://tiles.example/0/0/0.jpg")
	require.True(t, ok)
	assert.Equal(t, "moon", e.LayerID)
	assert.Equal(t, "image/jpeg", e.ContentType)
	assert.Equal(t, []byte("jpeg"), e.Data)

	s := c.Stats()
	assert.Equal(t, 1, s.Entries)
	assert.Equal(t, int64(4), s.SizeBytes)
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
}

func TestReplaceKeepsSizeAccurate(t *testing.T) {
	c := newCache(t, Config{})
	c.Set("k", "moon", "image/png", make([]byte, 100))
	c.Set("k", "moon", "image/png", make([]byte, 40))

	assert.Equal(t, int64(40), c.Stats().SizeBytes)
	assert.Equal(t, 1, c.Stats().Entries)
}

func TestEvictsByCount(t *testing.T) {
	c := newCache(t, Config{MaxEntries: 2})
	c.Set("a", "moon", "image/png", []byte("a"))
	c.Set("b", "moon", "image/png", []byte("b"))
	_, _ = c.Get("a")
	c.Set("c", "moon", "image/png", []byte("c"))

	_, ok := c.Get("b")
	assert.False(t, ok, "least recently used tile is evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, int64(2), c.Stats().SizeBytes)
}

func TestEvictsBySize(t *testing.T) {
	c := newCache(t, Config{MaxSizeMB: 1})
	half := bytes.Repeat([]byte{1}, 512*1024)

	c.Set("a", "moon", "image/png", half)
	c.Set("b", "moon", "image/png", half)
	c.Set("c", "moon", "image/png", half)

	s := c.Stats()
	assert.Equal(t, 2, s.Entries)
	assert.LessOrEqual(t, s.SizeBytes, s.MaxBytes)
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Set("huge", "moon", "image/png", make([]byte, 2*1024*1024))
	_, ok = c.Get("huge")
	assert.False(t, ok, "tiles larger than the budget are not cached")
}

func TestExpiry(t *testing.T) {
	c := newCache(t, Config{TTLMinutes: 1})
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set("a", "earth", "image/jpeg", []byte("a"))
	now = now.Add(59 * time.Second)
	_, ok := c.Get("a")
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestPurgeLayerAndClear(t *testing.T) {
	c := newCache(t, Config{})
	c.Set("m1", "moon", "image/png", []byte("1"))
	c.Set("m2", "moon", "image/png", []byte("2"))
	c.Set("e1", "earth", "image/png", []byte("3"))

	assert.Equal(t, 2, c.PurgeLayer("moon"))
	assert.Equal(t, 1, c.Stats().Entries)
	assert.Equal(t, int64(1), c.Stats().SizeBytes)

	c.Clear()
	assert.Equal(t, Stats{MaxBytes: c.Stats().MaxBytes}, c.Stats())
}
