// Package cache sits between priceservice and fetch: an LRU, TTL-bounded
// in-memory price cache, a JSON-persisted fundamentals cache, and two
// unbounded JSON-persisted alias caches for company names and ticker
// corrections. A cache failure (corrupt file, disk full) is never fatal to
// the caller; it is logged and treated as a cache miss.
package cache

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ledgerfolio/engine/fetch"
)

// PriceCacheTTL is the default freshness window for a cached price frame.
const PriceCacheTTL = 15 * time.Minute

// FundamentalsCacheTTL is the freshness window for cached fundamentals,
// much longer-lived than prices since sector/industry/market cap change
// slowly.
const FundamentalsCacheTTL = 12 * time.Hour

type priceEntry struct {
	frame   fetch.Frame
	fetched time.Time
}

type fundamentalsEntry struct {
	Data    fetch.Fundamentals `json:"data"`
	Fetched time.Time          `json:"fetched"`
}

// PriceCache is an LRU cache of recently fetched price frames.
type PriceCache struct {
	mu  sync.Mutex
	lru *lru.Cache
	ttl time.Duration
}

// NewPriceCache builds an LRU price cache holding at most maxEntries
// tickers, each valid for ttl (0 selects PriceCacheTTL).
func NewPriceCache(maxEntries int, ttl time.Duration) (*PriceCache, error) {
	if ttl <= 0 {
		ttl = PriceCacheTTL
	}
	l, err := lru.New(maxEntries)
	if err != nil {
		return nil, err
	}
	return &PriceCache{lru: l, ttl: ttl}, nil
}

// Get returns the cached frame for ticker if present and not expired.
func (c *PriceCache) Get(ticker string) (fetch.Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lru.Get(ticker)
	if !ok {
		return fetch.Frame{}, false
	}
	entry := v.(priceEntry)
	if time.Since(entry.fetched) > c.ttl {
		c.lru.Remove(ticker)
		return fetch.Frame{}, false
	}
	return entry.frame, true
}

// Put stores a freshly fetched frame, timestamped now.
func (c *PriceCache) Put(ticker string, frame fetch.Frame, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(ticker, priceEntry{frame: frame, fetched: now})
}

// priceSnapshotEntry is the msgpack wire shape for one warm-cache row. The
// in-memory priceEntry is unexported and untagged, so SaveSnapshot copies
// into this shape rather than encoding priceEntry directly.
type priceSnapshotEntry struct {
	Ticker  string      `msgpack:"ticker"`
	Frame   fetch.Frame `msgpack:"frame"`
	Fetched time.Time   `msgpack:"fetched"`
}

// SaveSnapshot writes the current cache contents to path using msgpack,
// letting a process restart with a warm price cache instead of refetching
// every ticker on the next request. This is a hot-path optimization only;
// an empty or missing snapshot just means a cold start, never an error the
// caller needs to handle specially.
func (c *PriceCache) SaveSnapshot(path string) error {
	c.mu.Lock()
	keys := c.lru.Keys()
	entries := make([]priceSnapshotEntry, 0, len(keys))
	for _, k := range keys {
		v, ok := c.lru.Peek(k)
		if !ok {
			continue
		}
		ticker := k.(string)
		e := v.(priceEntry)
		entries = append(entries, priceSnapshotEntry{Ticker: ticker, Frame: e.frame, Fetched: e.fetched})
	}
	c.mu.Unlock()

	raw, err := msgpack.Marshal(entries)
	if err != nil {
		return err
	}
	return writeAtomic(path, raw)
}

// LoadSnapshot restores a previously saved cache from path, skipping any
// entry already past ttl relative to now. A missing or corrupt snapshot
// file leaves the cache empty rather than failing.
func (c *PriceCache) LoadSnapshot(path string, now time.Time) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var entries []priceSnapshotEntry
	if err := msgpack.Unmarshal(raw, &entries); err != nil {
		log.Printf("cache: discarding corrupt price cache snapshot %s: %v", path, err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		if now.Sub(e.Fetched) > c.ttl {
			continue
		}
		c.lru.Add(e.Ticker, priceEntry{frame: e.Frame, fetched: e.Fetched})
	}
}

// FundamentalsCache is a JSON-file-persisted TTL cache of Fundamentals,
// loaded once at startup with expired entries discarded on load.
type FundamentalsCache struct {
	mu      sync.Mutex
	path    string
	ttl     time.Duration
	entries map[string]fundamentalsEntry
}

// NewFundamentalsCache loads path if it exists, discarding any entry older
// than ttl (0 selects FundamentalsCacheTTL). A missing or corrupt file
// starts an empty cache rather than failing.
func NewFundamentalsCache(path string, ttl time.Duration, now time.Time) *FundamentalsCache {
	if ttl <= 0 {
		ttl = FundamentalsCacheTTL
	}
	c := &FundamentalsCache{path: path, ttl: ttl, entries: make(map[string]fundamentalsEntry)}

	raw, err := os.ReadFile(path)
	if err != nil {
		return c
	}
	var loaded map[string]fundamentalsEntry
	if err := json.Unmarshal(raw, &loaded); err != nil {
		log.Printf("cache: discarding corrupt fundamentals cache %s: %v", path, err)
		return c
	}
	for ticker, entry := range loaded {
		if now.Sub(entry.Fetched) <= ttl {
			c.entries[ticker] = entry
		}
	}
	return c
}

// Get returns cached fundamentals for ticker if present and unexpired.
func (c *FundamentalsCache) Get(ticker string, now time.Time) (fetch.Fundamentals, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[ticker]
	if !ok || now.Sub(entry.Fetched) > c.ttl {
		return fetch.Fundamentals{}, false
	}
	return entry.Data, true
}

// Put stores fundamentals and persists the whole cache to disk. A write
// failure is logged, never returned, matching the package's non-fatal
// cache-failure policy.
func (c *FundamentalsCache) Put(ticker string, data fetch.Fundamentals, now time.Time) {
	c.mu.Lock()
	c.entries[ticker] = fundamentalsEntry{Data: data, Fetched: now}
	snapshot := make(map[string]fundamentalsEntry, len(c.entries))
	for k, v := range c.entries {
		snapshot[k] = v
	}
	c.mu.Unlock()

	if err := writeJSONAtomic(c.path, snapshot); err != nil {
		log.Printf("cache: failed to persist fundamentals cache: %v", err)
	}
}

// AliasCache is an unbounded, TTL-free, JSON-persisted string->string map
// used for company-name and ticker-correction lookups that, once learned,
// stay valid indefinitely.
type AliasCache struct {
	mu      sync.Mutex
	path    string
	entries map[string]string
}

// NewAliasCache loads path if present; a missing or corrupt file starts
// empty.
func NewAliasCache(path string) *AliasCache {
	c := &AliasCache{path: path, entries: make(map[string]string)}
	raw, err := os.ReadFile(path)
	if err != nil {
		return c
	}
	if err := json.Unmarshal(raw, &c.entries); err != nil {
		log.Printf("cache: discarding corrupt alias cache %s: %v", path, err)
		c.entries = make(map[string]string)
	}
	return c
}

// Get returns the cached alias for key, if any.
func (c *AliasCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

// Put records key->value and persists the map to disk, logging rather than
// returning a write failure.
func (c *AliasCache) Put(key, value string) {
	c.mu.Lock()
	c.entries[key] = value
	snapshot := make(map[string]string, len(c.entries))
	for k, v := range c.entries {
		snapshot[k] = v
	}
	c.mu.Unlock()

	if err := writeJSONAtomic(c.path, snapshot); err != nil {
		log.Printf("cache: failed to persist alias cache: %v", err)
	}
}

func writeJSONAtomic(path string, v any) error {
	if path == "" {
		return nil
	}
	enc, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(path, enc)
}

// writeAtomic writes raw to path via a temp file in the same directory
// followed by rename, so a concurrent reader never observes a partial
// write.
func writeAtomic(path string, raw []byte) error {
	if path == "" {
		return nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".cache-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
