package registry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store using in-memory storage. This is the default
// store; all records are lost when the process exits.
//
// MemoryStore is thread-safe and supports concurrent access using
// sync.RWMutex. Records are deep-copied on the way in and out so callers
// can never mutate shared state.
type MemoryStore struct {
	// providers maps slug to record
	providers map[string]*Provider

	// mu protects access to the providers map
	mu sync.RWMutex

	// subscribers receive change notifications
	subscribers []ChangeFunc
	subMu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory provider store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		providers: make(map[string]*Provider),
	}
}

// List returns all provider records ordered by slug for determinism.
func (s *MemoryStore) List(ctx context.Context) ([]*Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Provider, 0, len(s.providers))
	for _, p := range s.providers {
		result = append(result, clone(p))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Slug < result[j].Slug })
	return result, nil
}

// Get returns the provider with the given slug, or ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, slug string) (*Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.providers[slug]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(p), nil
}

// Put creates or replaces a provider record.
func (s *MemoryStore) Put(ctx context.Context, p *Provider) error {
	if err := Validate(p); err != nil {
		return err
	}

	cp := clone(p)
	cp.UpdatedAt = time.Now()
	if cp.Health.Status == "" {
		cp.Health.Status = HealthUnknown
	}

	s.mu.Lock()
	s.providers[cp.Slug] = cp
	s.mu.Unlock()

	s.notify(cp.Slug)
	return nil
}

// Delete removes a provider record.
func (s *MemoryStore) Delete(ctx context.Context, slug string) error {
	s.mu.Lock()
	_, ok := s.providers[slug]
	if ok {
		delete(s.providers, slug)
	}
	s.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	s.notify(slug)
	return nil
}

// SetHealth updates only the health status of a provider.
func (s *MemoryStore) SetHealth(ctx context.Context, slug string, hs HealthStatus) error {
	s.mu.Lock()
	p, ok := s.providers[slug]
	if ok {
		p.Health = hs
	}
	s.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	s.notify(slug)
	return nil
}

// Subscribe registers a change callback.
func (s *MemoryStore) Subscribe(fn ChangeFunc) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) notify(slug string) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, fn := range s.subscribers {
		fn(slug)
	}
}

// clone deep-copies a provider record.
func clone(p *Provider) *Provider {
	cp := *p
	cp.Models = append([]ModelMapping(nil), p.Models...)
	if p.Credentials != nil {
		cp.Credentials = make(map[string]string, len(p.Credentials))
		for k, v := range p.Credentials {
			cp.Credentials[k] = v
		}
	}
	if p.Spawn != nil {
		sc := *p.Spawn
		sc.Args = append([]string(nil), p.Spawn.Args...)
		sc.Env = append([]string(nil), p.Spawn.Env...)
		cp.Spawn = &sc
	}
	if p.HTTP != nil {
		hc := *p.HTTP
		if p.HTTP.Headers != nil {
			hc.Headers = make(map[string]string, len(p.HTTP.Headers))
			for k, v := range p.HTTP.Headers {
				hc.Headers[k] = v
			}
		}
		cp.HTTP = &hc
	}
	if p.Proxy != nil {
		pc := *p.Proxy
		pc.ForwardHeaders = append([]string(nil), p.Proxy.ForwardHeaders...)
		if p.Proxy.SetHeaders != nil {
			pc.SetHeaders = make(map[string]string, len(p.Proxy.SetHeaders))
			for k, v := range p.Proxy.SetHeaders {
				pc.SetHeaders[k] = v
			}
		}
		if p.Proxy.RequestFields != nil {
			pc.RequestFields = make(map[string]string, len(p.Proxy.RequestFields))
			for k, v := range p.Proxy.RequestFields {
				pc.RequestFields[k] = v
			}
		}
		cp.Proxy = &pc
	}
	if p.Local != nil {
		lc := *p.Local
		cp.Local = &lc
	}
	return &cp
}
