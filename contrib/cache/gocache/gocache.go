// Package gocache implements the response cache in process memory, backed by
// an expiring cache. It is the default backend for single-node deployments
// and tests.
package gocache

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/tradegate/customs-copilot/cache"
)

// MemoryCache implements cache.Cache in process memory with TTL eviction.
type MemoryCache struct {
	store *gocache.Cache
}

// NewMemoryCache creates an in-memory cache. defaultTTL bounds entries stored
// with a non-positive TTL; expired entries are purged every cleanupInterval.
func NewMemoryCache(defaultTTL, cleanupInterval time.Duration) *MemoryCache {
	if defaultTTL <= 0 {
		defaultTTL = cache.DefaultTTL
	}
	if cleanupInterval <= 0 {
		cleanupInterval = defaultTTL
	}
	return &MemoryCache{store: gocache.New(defaultTTL, cleanupInterval)}
}

// Get returns the cached payload or (nil, nil) on a miss.
func (c *MemoryCache) Get(ctx context.Context, key string) (*cache.Payload, error) {
	v, found := c.store.Get(key)
	if !found {
		return nil, nil
	}
	payload, ok := v.(*cache.Payload)
	if !ok {
		return nil, fmt.Errorf("unexpected cache entry type %T", v)
	}
	clone := *payload
	return &clone, nil
}

// Put stores the payload under the key with a TTL.
func (c *MemoryCache) Put(ctx context.Context, key string, payload *cache.Payload, ttl time.Duration) error {
	if payload == nil {
		return fmt.Errorf("payload cannot be nil")
	}
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	clone := *payload
	c.store.Set(key, &clone, ttl)
	return nil
}

// Close is a no-op for the in-memory cache.
func (c *MemoryCache) Close() error {
	return nil
}
