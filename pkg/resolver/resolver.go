// Package resolver maps a public model id to the ranked set of enabled
// providers that can serve it.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"helios-hq/helios/pkg/registry"
)

// DefaultCacheTTL bounds how stale the resolver's provider snapshot may be.
const DefaultCacheTTL = 5 * time.Second

// ModelNotFoundError is returned when no enabled provider maps a public
// model id. It is a client-visible 404-class error and is never retried.
type ModelNotFoundError struct {
	Model string
}

// Error implements the error interface.
func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("model %q is not served by any enabled provider", e.Model)
}

// Candidate pairs a provider snapshot with the model mapping that matched
// the requested public id.
type Candidate struct {
	Provider *registry.Provider
	Mapping  registry.ModelMapping
}

// Resolver finds candidate providers for public model ids, reading the
// provider list through a short-TTL cache.
type Resolver struct {
	cache *providerCache
}

// New creates a resolver over the given store. ttl <= 0 uses
// DefaultCacheTTL.
func New(store registry.Store, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Resolver{cache: newProviderCache(store, ttl)}
}

// Resolve returns every enabled provider whose mapping list contains the
// public model id, ordered by priority then slug. It fails with
// ModelNotFoundError when the result is empty.
func (r *Resolver) Resolve(ctx context.Context, publicModel string) ([]Candidate, error) {
	providers, err := r.cache.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}

	var candidates []Candidate
	for _, p := range providers {
		if !p.Enabled {
			continue
		}
		if m, ok := p.Mapping(publicModel); ok {
			candidates = append(candidates, Candidate{Provider: p, Mapping: m})
		}
	}

	if len(candidates) == 0 {
		return nil, &ModelNotFoundError{Model: publicModel}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Provider.Priority != candidates[j].Provider.Priority {
			return candidates[i].Provider.Priority < candidates[j].Provider.Priority
		}
		return candidates[i].Provider.Slug < candidates[j].Provider.Slug
	})

	slog.Debug("resolved model to candidates",
		"model", publicModel,
		"candidates", len(candidates),
	)

	return candidates, nil
}

// Models returns every public model served by at least one enabled
// provider, each annotated with the mapping of the best-priority provider
// that serves it.
func (r *Resolver) Models(ctx context.Context) ([]ModelInfo, error) {
	providers, err := r.cache.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}

	best := make(map[string]ModelInfo)
	for _, p := range providers {
		if !p.Enabled {
			continue
		}
		for _, m := range p.Models {
			if cur, ok := best[m.PublicModel]; ok && cur.Priority <= p.Priority {
				continue
			}
			best[m.PublicModel] = ModelInfo{
				Mapping:  m,
				OwnedBy:  p.Slug,
				Priority: p.Priority,
			}
		}
	}

	result := make([]ModelInfo, 0, len(best))
	for _, info := range best {
		result = append(result, info)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Mapping.PublicModel < result[j].Mapping.PublicModel
	})
	return result, nil
}

// ModelInfo describes one public model for the models listing.
type ModelInfo struct {
	Mapping  registry.ModelMapping
	OwnedBy  string
	Priority int
}

// Invalidate drops the provider cache. Exposed for the admin surface;
// normal invalidation happens through store change notifications.
func (r *Resolver) Invalidate() {
	r.cache.Invalidate()
}

// CacheStats returns cache hit and miss counts.
func (r *Resolver) CacheStats() (hits, misses int64) {
	return r.cache.Stats()
}
