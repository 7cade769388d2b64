package registry

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a provider slug does not exist in the store.
var ErrNotFound = errors.New("provider not found")

// ChangeFunc is invoked after a provider is created, updated, or deleted.
// Subscribers use it to invalidate caches; the callback must not block.
type ChangeFunc func(slug string)

// Store is the persistence boundary for provider records. The routing core
// reads through it on every request (behind the resolver's short-TTL
// cache); the admin layer writes through it.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// List returns all provider records, enabled or not.
	List(ctx context.Context) ([]*Provider, error)

	// Get returns the provider with the given slug, or ErrNotFound.
	Get(ctx context.Context, slug string) (*Provider, error)

	// Put creates or replaces a provider record keyed by slug.
	Put(ctx context.Context, p *Provider) error

	// Delete removes a provider record. Deleting a missing slug returns
	// ErrNotFound.
	Delete(ctx context.Context, slug string) error

	// SetHealth updates only the health status of a provider.
	SetHealth(ctx context.Context, slug string, hs HealthStatus) error

	// Subscribe registers a change callback fired on Put, Delete, and
	// SetHealth.
	Subscribe(fn ChangeFunc)

	// Close releases any resources held by the store.
	Close() error
}

// Validate checks the structural invariants of a provider record before it
// is written to a store.
func Validate(p *Provider) error {
	if p == nil {
		return fmt.Errorf("provider is nil")
	}
	if p.Slug == "" {
		return fmt.Errorf("provider slug is required")
	}

	switch p.Type {
	case AdapterSpawn:
		if p.Spawn == nil || p.Spawn.Command == "" {
			return fmt.Errorf("provider %q: spawn.command is required", p.Slug)
		}
	case AdapterHTTP:
		if p.HTTP == nil || p.HTTP.BaseURL == "" {
			return fmt.Errorf("provider %q: http.base_url is required", p.Slug)
		}
	case AdapterProxy:
		if p.Proxy == nil || p.Proxy.UpstreamURL == "" {
			return fmt.Errorf("provider %q: proxy.upstream_url is required", p.Slug)
		}
	case AdapterLocal:
		if p.Local == nil || p.Local.URL == "" {
			return fmt.Errorf("provider %q: local.url is required", p.Slug)
		}
	default:
		return fmt.Errorf("provider %q: unsupported adapter type %q", p.Slug, p.Type)
	}

	seen := make(map[string]bool, len(p.Models))
	for _, m := range p.Models {
		if m.PublicModel == "" || m.InternalModel == "" {
			return fmt.Errorf("provider %q: model mapping requires public and internal ids", p.Slug)
		}
		if seen[m.PublicModel] {
			return fmt.Errorf("provider %q: duplicate public model %q", p.Slug, m.PublicModel)
		}
		seen[m.PublicModel] = true
	}

	return nil
}
