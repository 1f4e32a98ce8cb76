package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/sensor-dashboard/internal/sensor"
)

const keyPrefix = "dashboard:"

// maxKeyLen is memcached's key length limit, prefix included.
const maxKeyLen = 250

// pageFormat versions the stored page layout. Entries written with another version read as
// misses, so replicas running different builds never decode each other's pages.
const pageFormat = 1

// ErrInvalidKey is returned for keys memcached would reject.
var ErrInvalidKey = errors.New("invalid memcached key")

// storedPage is the memcached value for one history page.
type storedPage struct {
	Format int         `json:"format"`
	Page   sensor.Page `json:"page"`
}

// MemcachedCache implements Cache using memcached. Pages are stored as JSON so several
// dashboard replicas can share rendered history.
type MemcachedCache struct {
	client *memcache.Client
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// key prefixes k and checks it against memcached's rules: at most 250 bytes, no spaces or
// control characters.
func (c *MemcachedCache) key(k string) (string, error) {
	full := keyPrefix + k
	if k == "" || len(full) > maxKeyLen {
		return "", fmt.Errorf("%w: %d bytes", ErrInvalidKey, len(full))
	}
	for i := 0; i < len(full); i++ {
		if full[i] <= ' ' || full[i] == 0x7f {
			return "", fmt.Errorf("%w: %q", ErrInvalidKey, k)
		}
	}
	return full, nil
}

func encodePage(p sensor.Page) ([]byte, error) {
	return json.Marshal(storedPage{Format: pageFormat, Page: p})
}

// decodePage returns ok=false for values written with another page format.
func decodePage(raw []byte) (sensor.Page, bool, error) {
	var sp storedPage
	if err := json.Unmarshal(raw, &sp); err != nil {
		return sensor.Page{}, false, err
	}
	if sp.Format != pageFormat {
		return sensor.Page{}, false, nil
	}
	return sp.Page, true, nil
}

// Get implements Cache.Get. Returns false, nil on cache miss or a page stored in another
// format; false, err on error.
func (c *MemcachedCache) Get(ctx context.Context, key string) (sensor.Page, bool, error) {
	if ctx.Err() != nil {
		return sensor.Page{}, false, ctx.Err()
	}
	k, err := c.key(key)
	if err != nil {
		return sensor.Page{}, false, err
	}
	item, err := c.client.Get(k)
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return sensor.Page{}, false, nil
		}
		return sensor.Page{}, false, fmt.Errorf("memcached get %s: %w", key, err)
	}
	page, ok, err := decodePage(item.Value)
	if err != nil {
		return sensor.Page{}, false, fmt.Errorf("decode cached page %s: %w", key, err)
	}
	return page, ok, nil
}

// Set implements Cache.Set.
func (c *MemcachedCache) Set(ctx context.Context, key string, value sensor.Page, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	k, err := c.key(key)
	if err != nil {
		return err
	}
	raw, err := encodePage(value)
	if err != nil {
		return fmt.Errorf("encode page %s: %w", key, err)
	}
	expSec := int32(ttl.Seconds())
	const maxRelativeExp = 30 * 24 * 60 * 60 // 30 days
	if expSec <= 0 || expSec > maxRelativeExp {
		expSec = 3600 // fallback 1h if invalid
	}
	return c.client.Set(&memcache.Item{
		Key:        k,
		Value:      raw,
		Expiration: expSec,
	})
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedCache) Ping() error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
