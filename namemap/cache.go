package namemap

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
)

const cacheKey = "entries"

// Loader fetches a complete, fresh map from the server.
type Loader[V any] func(ctx context.Context) (Map[V], error)

// Cache is a lazily loaded Map backed by patrickmn/go-cache.
//
// Nothing is fetched until the first Get. Refresh always replaces the whole map;
// a failed load leaves the previous map in place. With a zero TTL the map never
// expires and staleness is bounded only by explicit Refresh or Invalidate calls.
//
// Thread-safety: all methods are safe for concurrent use. Loads are serialized,
// so readers see either the previous map or the new one.
type Cache[V any] struct {
	name  string
	load  Loader[V]
	store *cache.Cache
	ttl   time.Duration

	mu         sync.Mutex
	lastLoaded time.Time
}

// NewCache creates an empty cache. ttl <= 0 disables expiry.
func NewCache[V any](name string, ttl time.Duration, load Loader[V]) *Cache[V] {
	expiry := ttl
	cleanup := 2 * ttl
	if ttl <= 0 {
		expiry = cache.NoExpiration
		cleanup = 0
	}
	return &Cache[V]{
		name:  name,
		load:  load,
		store: cache.New(expiry, cleanup),
		ttl:   ttl,
	}
}

// Get returns the cached map, loading it on first use or after expiry.
func (c *Cache[V]) Get(ctx context.Context) (Map[V], error) {
	if m, ok := c.cached(); ok {
		return m, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another caller may have loaded while we waited.
	if m, ok := c.cached(); ok {
		return m, nil
	}
	return c.refreshLocked(ctx)
}

// Refresh fetches the map and replaces the cached one.
func (c *Cache[V]) Refresh(ctx context.Context) (Map[V], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx)
}

// Invalidate drops the cached map; the next Get reloads it.
func (c *Cache[V]) Invalidate() {
	c.store.Flush()
}

// Loaded reports whether a map is currently cached.
func (c *Cache[V]) Loaded() bool {
	_, ok := c.cached()
	return ok
}

// LastLoaded returns the time of the last successful load.
func (c *Cache[V]) LastLoaded() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastLoaded
}

// TTL returns the configured expiry.
func (c *Cache[V]) TTL() time.Duration {
	return c.ttl
}

func (c *Cache[V]) cached() (Map[V], bool) {
	if v, found := c.store.Get(cacheKey); found {
		return v.(Map[V]), true
	}
	return Map[V]{}, false
}

func (c *Cache[V]) refreshLocked(ctx context.Context) (Map[V], error) {
	m, err := c.load(ctx)
	if err != nil {
		return Map[V]{}, err
	}
	c.store.Set(cacheKey, m, cache.DefaultExpiration)
	c.lastLoaded = time.Now()
	log.WithFields(log.Fields{"cache": c.name, "entries": m.Len()}).Debug("name map refreshed")
	return m, nil
}
