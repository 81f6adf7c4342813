package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerfolio/engine/fetch"
)

func TestPriceCacheHitWithinTTL(t *testing.T) {
	c, err := NewPriceCache(10, time.Minute)
	require.NoError(t, err)
	now := time.Now()
	c.Put("AAPL", fetch.Frame{Ticker: "AAPL"}, now)

	_, ok := c.Get("AAPL")
	assert.True(t, ok, "Get() should hit for a fresh entry")
}

func TestPriceCacheExpiresAfterTTL(t *testing.T) {
	c, err := NewPriceCache(10, time.Minute)
	require.NoError(t, err)
	stale := time.Now().Add(-2 * time.Minute)
	c.Put("AAPL", fetch.Frame{Ticker: "AAPL"}, stale)

	_, ok := c.Get("AAPL")
	assert.False(t, ok, "Get() should miss for an entry past its TTL")
}

func TestPriceCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c, err := NewPriceCache(1, time.Hour)
	require.NoError(t, err)
	now := time.Now()
	c.Put("AAPL", fetch.Frame{Ticker: "AAPL"}, now)
	c.Put("MSFT", fetch.Frame{Ticker: "MSFT"}, now)

	_, ok := c.Get("AAPL")
	assert.False(t, ok, "AAPL should be evicted once a second ticker exceeds the 1-entry cap")
	_, ok = c.Get("MSFT")
	assert.True(t, ok, "MSFT should still be cached")
}

func TestPriceCacheSnapshotRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.msgpack")
	now := time.Now()

	c1, err := NewPriceCache(10, time.Hour)
	require.NoError(t, err)
	c1.Put("AAPL", fetch.Frame{Ticker: "AAPL", Source: "primary"}, now)
	require.NoError(t, c1.SaveSnapshot(path))

	c2, err := NewPriceCache(10, time.Hour)
	require.NoError(t, err)
	c2.LoadSnapshot(path, now)

	frame, ok := c2.Get("AAPL")
	require.True(t, ok, "Get() should hit after restoring from snapshot")
	assert.Equal(t, "AAPL", frame.Ticker)
}

func TestPriceCacheSnapshotDropsExpiredEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.msgpack")
	stale := time.Now().Add(-2 * time.Hour)

	c1, err := NewPriceCache(10, time.Hour)
	require.NoError(t, err)
	c1.Put("AAPL", fetch.Frame{Ticker: "AAPL"}, stale)
	require.NoError(t, c1.SaveSnapshot(path))

	c2, err := NewPriceCache(10, time.Hour)
	require.NoError(t, err)
	c2.LoadSnapshot(path, time.Now())

	_, ok := c2.Get("AAPL")
	assert.False(t, ok, "a stale snapshot entry should not be restored")
}

func TestPriceCacheLoadSnapshotIgnoresMissingFile(t *testing.T) {
	c, err := NewPriceCache(10, time.Hour)
	require.NoError(t, err)
	c.LoadSnapshot(filepath.Join(t.TempDir(), "does-not-exist.msgpack"), time.Now())
	_, ok := c.Get("AAPL")
	assert.False(t, ok)
}

func TestFundamentalsCachePersistsAcrossLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fundamentals.json")
	now := time.Now()

	c1 := NewFundamentalsCache(path, time.Hour, now)
	c1.Put("AAPL", fetch.Fundamentals{Ticker: "AAPL", Sector: "Technology"}, now)

	c2 := NewFundamentalsCache(path, time.Hour, now)
	got, ok := c2.Get("AAPL", now)
	require.True(t, ok, "Get() should hit after reload")
	assert.Equal(t, "Technology", got.Sector)
}

func TestFundamentalsCacheDiscardsExpiredOnLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fundamentals.json")
	stale := time.Now().Add(-2 * time.Hour)

	c1 := NewFundamentalsCache(path, time.Hour, stale)
	c1.Put("AAPL", fetch.Fundamentals{Ticker: "AAPL"}, stale)

	now := time.Now()
	c2 := NewFundamentalsCache(path, time.Hour, now)
	_, ok := c2.Get("AAPL", now)
	assert.False(t, ok, "a stale entry should be discarded on load")
}

func TestAliasCacheRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aliases.json")
	c1 := NewAliasCache(path)
	c1.Put("BRK.B", "BRK-B")

	c2 := NewAliasCache(path)
	got, ok := c2.Get("BRK.B")
	require.True(t, ok)
	assert.Equal(t, "BRK-B", got)
}

func TestAliasCacheSurvivesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aliases.json")
	require.NoError(t, writeJSONAtomic(path, "not a map"))

	c := NewAliasCache(path)
	_, ok := c.Get("anything")
	assert.False(t, ok, "a freshly reset cache should miss")
}
