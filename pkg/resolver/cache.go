package resolver

import (
	"context"
	"sync"
	"time"

	"helios-hq/helios/pkg/registry"
)

// providerCache is a short-TTL read-through cache over the provider list.
// It bounds store load under concurrent traffic while guaranteeing that no
// result is ever served past its TTL. Invalidate drops the cached snapshot
// immediately; the store's change notifications call it on every provider
// create, update, or delete.
type providerCache struct {
	store registry.Store
	ttl   time.Duration

	mu        sync.Mutex
	snapshot  []*registry.Provider
	fetchedAt time.Time

	// stats for the metrics hook
	hits   int64
	misses int64
}

func newProviderCache(store registry.Store, ttl time.Duration) *providerCache {
	c := &providerCache{store: store, ttl: ttl}
	store.Subscribe(func(string) { c.Invalidate() })
	return c
}

// List returns the provider list, from cache when fresh.
func (c *providerCache) List(ctx context.Context) ([]*registry.Provider, error) {
	c.mu.Lock()
	if c.snapshot != nil && time.Since(c.fetchedAt) < c.ttl {
		snapshot := c.snapshot
		c.hits++
		c.mu.Unlock()
		return snapshot, nil
	}
	c.misses++
	c.mu.Unlock()

	// Fetch outside the lock; concurrent misses may race to the store, the
	// last writer wins and every result is equally fresh.
	providers, err := c.store.List(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.snapshot = providers
	c.fetchedAt = time.Now()
	c.mu.Unlock()

	return providers, nil
}

// Invalidate drops the cached snapshot.
func (c *providerCache) Invalidate() {
	c.mu.Lock()
	c.snapshot = nil
	c.mu.Unlock()
}

// Stats returns hit and miss counts since start.
func (c *providerCache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
