package exporter

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	inventoryCacheKey = "inventory"
	defaultCacheTTL   = 5 * time.Minute
)

// InventoryCache holds the last inventory between scrapes.
//
// Entity counts change rarely while Prometheus scrapes every 15 to 60
// seconds; the cache keeps the Commcell from being walked on every scrape.
//
// Thread-safety: All methods are safe for concurrent use.
type InventoryCache struct {
	cache              *cache.Cache
	ttl                time.Duration
	lastCollectionMu   sync.RWMutex
	lastCollectionTime time.Time
}

// NewInventoryCache creates a cache with the given TTL; ttl <= 0 selects
// five minutes.
func NewInventoryCache(ttl time.Duration) *InventoryCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &InventoryCache{
		cache: cache.New(ttl, ttl*2),
		ttl:   ttl,
	}
}

// Get returns the cached inventory, if any.
func (ic *InventoryCache) Get() ([]InventoryValue, bool) {
	if cached, found := ic.cache.Get(inventoryCacheKey); found {
		return cached.([]InventoryValue), true
	}
	return nil, false
}

// Set stores values and stamps the collection time.
func (ic *InventoryCache) Set(values []InventoryValue) {
	ic.cache.Set(inventoryCacheKey, values, cache.DefaultExpiration)
	ic.lastCollectionMu.Lock()
	ic.lastCollectionTime = time.Now()
	ic.lastCollectionMu.Unlock()
}

// LastCollectionTime is when Set was last called.
func (ic *InventoryCache) LastCollectionTime() time.Time {
	ic.lastCollectionMu.RLock()
	defer ic.lastCollectionMu.RUnlock()
	return ic.lastCollectionTime
}

func (ic *InventoryCache) TTL() time.Duration {
	return ic.ttl
}

// Flush drops the cached inventory. Used on config reload when the Commcell
// changes.
func (ic *InventoryCache) Flush() {
	ic.cache.Flush()
}
