// Package adapterfactory constructs adapters from provider records and
// pools live instances so repeated requests to the same provider reuse
// connections and subprocess plumbing.
package adapterfactory

import (
	"fmt"
	"sync"
	"time"

	"helios-hq/helios/pkg/adapters"
	"helios-hq/helios/pkg/adapters/httpapi"
	"helios-hq/helios/pkg/adapters/local"
	"helios-hq/helios/pkg/adapters/spawn"
	"helios-hq/helios/pkg/adapters/upstream"
	"helios-hq/helios/pkg/registry"
)

// New builds a fresh adapter for a provider record. The caller owns the
// returned adapter and must Close it.
func New(p *registry.Provider) (adapters.Adapter, error) {
	switch p.Type {
	case registry.AdapterSpawn:
		return spawn.New(p)
	case registry.AdapterHTTP:
		return httpapi.New(p)
	case registry.AdapterProxy:
		return upstream.New(p)
	case registry.AdapterLocal:
		return local.New(p)
	default:
		return nil, fmt.Errorf("unknown adapter type %q for provider %q", p.Type, p.Slug)
	}
}

type cacheEntry struct {
	adapter   adapters.Adapter
	updatedAt time.Time
}

// Cache hands out adapters keyed by provider slug, rebuilding an entry
// when the provider record has changed since the cached adapter was
// constructed. Entries for providers edited or removed at runtime are
// closed and replaced transparently.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
}

// NewCache creates an empty adapter cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*cacheEntry)}
}

// Get returns a live adapter for the provider, building one if the cache
// holds none or holds one built from a stale record.
func (c *Cache) Get(p *registry.Provider) (adapters.Adapter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[p.Slug]; ok {
		if entry.updatedAt.Equal(p.UpdatedAt) {
			return entry.adapter, nil
		}
		// Record changed since construction; retire the old instance.
		entry.adapter.Close()
		delete(c.entries, p.Slug)
	}

	adapter, err := New(p)
	if err != nil {
		return nil, err
	}
	c.entries[p.Slug] = &cacheEntry{adapter: adapter, updatedAt: p.UpdatedAt}
	return adapter, nil
}

// Evict closes and drops the cached adapter for a provider, if any.
func (c *Cache) Evict(slug string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[slug]; ok {
		entry.adapter.Close()
		delete(c.entries, slug)
	}
}

// Close releases every cached adapter. The cache is unusable afterwards.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for slug, entry := range c.entries {
		if err := entry.adapter.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.entries, slug)
	}
	return firstErr
}
