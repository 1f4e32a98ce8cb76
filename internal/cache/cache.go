// Package cache stores rendered history pages. Keys embed the store fingerprint, so a new
// snapshot naturally misses and stale entries simply age out.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kjstillabower/sensor-dashboard/internal/sensor"
)

// Cache defines the interface for history page caching implementations.
// Get returns cached data if present and not expired, Set stores data with TTL.
type Cache interface {
	Get(ctx context.Context, key string) (sensor.Page, bool, error)
	Set(ctx context.Context, key string, value sensor.Page, ttl time.Duration) error
}

// PageKey builds the cache key for one history page of the store identified by fingerprint.
func PageKey(fingerprint uint64, pageSize, page int) string {
	return fmt.Sprintf("history:%016x:%d:%d", fingerprint, pageSize, page)
}

// sweepThreshold is the entry count above which Set purges expired entries.
const sweepThreshold = 256

// InMemoryCache implements Cache using a map with TTL-based expiration. Safe for concurrent use.
type InMemoryCache struct {
	mu   sync.Mutex
	now  func() time.Time
	data map[string]cacheEntry
}

type cacheEntry struct {
	value     sensor.Page
	expiresAt time.Time
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		now:  time.Now,
		data: make(map[string]cacheEntry),
	}
}

// Get retrieves the cached page for the key if present and not expired.
// Returns (page, true, nil) on hit, (zero, false, nil) on miss or expiration.
// Expired entries are removed on access.
func (c *InMemoryCache) Get(ctx context.Context, key string) (sensor.Page, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.data[key]
	if !ok {
		return sensor.Page{}, false, nil
	}
	if c.now().After(entry.expiresAt) {
		delete(c.data, key)
		return sensor.Page{}, false, nil
	}
	return entry.value, true, nil
}

// Set stores the page with the specified TTL. Once the map grows past sweepThreshold, expired
// entries are purged.
func (c *InMemoryCache) Set(ctx context.Context, key string, value sensor.Page, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if len(c.data) >= sweepThreshold {
		for k, e := range c.data {
			if now.After(e.expiresAt) {
				delete(c.data, k)
			}
		}
	}
	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: now.Add(ttl),
	}
	return nil
}

// Len returns the number of entries currently held, expired or not.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
