package exporter

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewInventoryCacheDefaultTTL(t *testing.T) {
	assert.Equal(t, defaultCacheTTL, NewInventoryCache(0).TTL())
	assert.Equal(t, defaultCacheTTL, NewInventoryCache(-5*time.Minute).TTL())
	assert.Equal(t, 2*time.Minute, NewInventoryCache(2*time.Minute).TTL())
}

func TestInventoryCacheGetSet(t *testing.T) {
	cache := NewInventoryCache(5 * time.Minute)

	values, found := cache.Get()
	assert.False(t, found)
	assert.Nil(t, values)
	assert.True(t, cache.LastCollectionTime().IsZero())

	inventory := []InventoryValue{
		{Collection: "roles", Count: 4},
		{Collection: "tags", Err: errors.New("down")},
	}
	before := time.Now()
	cache.Set(inventory)

	values, found = cache.Get()
	assert.True(t, found)
	assert.Equal(t, inventory, values)
	assert.False(t, cache.LastCollectionTime().Before(before))
	assert.Equal(t, 1, succeeded(values))

	cache.Flush()
	_, found = cache.Get()
	assert.False(t, found)
}

func TestInventoryCacheExpires(t *testing.T) {
	cache := NewInventoryCache(50 * time.Millisecond)
	cache.Set([]InventoryValue{{Collection: "roles", Count: 1}})
	assert.Eventually(t, func() bool {
		_, found := cache.Get()
		return !found
	}, time.Second, 10*time.Millisecond)
}
