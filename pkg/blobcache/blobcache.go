package blobcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/syncx"
)

// Tier reports which layer served a lookup.
type Tier string

const (
	TierMemory  Tier = "memory"
	TierDisk    Tier = "disk"
	TierNetwork Tier = "network"
)

const defaultFetchTimeout = 10 * time.Second

// FetchFunc retrieves the authoritative bytes for a key. In this system the
// key is a logo URL, but the cache does not care what the bytes are.
type FetchFunc func(ctx context.Context, key string) ([]byte, error)

// Cache is a tiered byte cache: memory, then disk, then network. A network
// hit writes through both faster tiers before returning. Entries never
// expire; only a fresh network fetch replaces them.
type Cache struct {
	mu     sync.RWMutex
	memory map[string][]byte

	dir   string
	fetch FetchFunc

	flight   syncx.SingleFlight
	coalesce bool
}

// diskEntry is the msgpack envelope written to the disk tier. Keeping the
// original key and fetch time alongside the bytes makes disk files
// self-describing after the sanitized filename loses information.
type diskEntry struct {
	Key       string    `msgpack:"key"`
	Data      []byte    `msgpack:"data"`
	FetchedAt time.Time `msgpack:"fetched_at"`
}

// Option configures a new Cache.
type Option func(*Cache)

// WithFetchFunc overrides the network fetcher.
func WithFetchFunc(fetch FetchFunc) Option {
	return func(c *Cache) {
		if fetch != nil {
			c.fetch = fetch
		}
	}
}

// WithCoalescing dedupes concurrent network fetches for the same key through a
// single in-flight call. Off by default; see the cache tests for the tradeoff.
func WithCoalescing() Option {
	return func(c *Cache) {
		c.coalesce = true
	}
}

// New constructs a cache whose disk tier lives under dir.
func New(dir string, opts ...Option) (*Cache, error) {
	if dir == "" {
		dir = "blobcache"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blobcache: create cache dir %s: %w", dir, err)
	}
	cache := &Cache{
		memory: make(map[string][]byte),
		dir:    dir,
		fetch:  httpFetch,
		flight: syncx.NewSingleFlight(),
	}
	for _, opt := range opts {
		opt(cache)
	}
	return cache, nil
}

// Get looks up key through the tiers in order and reports which tier hit.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, Tier, error) {
	c.mu.RLock()
	data, ok := c.memory[key]
	c.mu.RUnlock()
	if ok {
		return data, TierMemory, nil
	}

	if data, ok := c.loadFromDisk(key); ok {
		c.mu.Lock()
		c.memory[key] = data
		c.mu.Unlock()
		return data, TierDisk, nil
	}

	data, err := c.fetchNetwork(ctx, key)
	if err != nil {
		return nil, TierNetwork, fmt.Errorf("blobcache: fetch %s: %w", key, err)
	}

	c.mu.Lock()
	c.memory[key] = data
	c.mu.Unlock()
	c.writeToDisk(key, data)
	return data, TierNetwork, nil
}

// Refresh forces a network fetch for key and overwrites both cache tiers.
func (c *Cache) Refresh(ctx context.Context, key string) ([]byte, error) {
	data, err := c.fetchNetwork(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("blobcache: refresh %s: %w", key, err)
	}
	c.mu.Lock()
	c.memory[key] = data
	c.mu.Unlock()
	c.writeToDisk(key, data)
	return data, nil
}

func (c *Cache) fetchNetwork(ctx context.Context, key string) ([]byte, error) {
	if !c.coalesce {
		return c.fetch(ctx, key)
	}
	result, err := c.flight.Do(key, func() (any, error) {
		return c.fetch(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	data, ok := result.([]byte)
	if !ok {
		return nil, errors.New("unexpected fetch result type")
	}
	return data, nil
}

func (c *Cache) loadFromDisk(key string) ([]byte, bool) {
	raw, err := os.ReadFile(c.diskPath(key))
	if os.IsNotExist(err) {
		return nil, false
	}
	if err != nil {
		logx.Errorf("blobcache: read disk tier for %s: %v", key, err)
		return nil, false
	}
	var entry diskEntry
	if err := msgpack.Unmarshal(raw, &entry); err != nil {
		// A corrupt entry behaves like a miss and is replaced on next fetch.
		logx.Errorf("blobcache: decode disk tier for %s: %v", key, err)
		return nil, false
	}
	return entry.Data, true
}

// writeToDisk persists a disk-tier entry. Disk failures degrade the cache to
// two tiers but never fail the lookup that triggered the write.
func (c *Cache) writeToDisk(key string, data []byte) {
	entry := diskEntry{Key: key, Data: data, FetchedAt: time.Now().UTC()}
	raw, err := msgpack.Marshal(entry)
	if err != nil {
		logx.Errorf("blobcache: encode disk tier for %s: %v", key, err)
		return
	}
	if err := os.WriteFile(c.diskPath(key), raw, 0o644); err != nil {
		logx.Errorf("blobcache: write disk tier for %s: %v", key, err)
	}
}

// diskPath maps a key (often a URL) onto a filesystem-safe file name.
func (c *Cache) diskPath(key string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "?", "_", "&", "_")
	return filepath.Join(c.dir, replacer.Replace(key)+".blob")
}

// httpFetch is the default network tier: a plain GET of the key as a URL.
func httpFetch(ctx context.Context, key string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, key, nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: defaultFetchTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
