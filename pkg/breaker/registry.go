package breaker

import (
	"log/slog"
	"sort"
	"sync"
)

// HealthSink receives routing-health updates driven by breaker
// transitions. The provider registry implements it: an opening breaker
// forces the provider unhealthy for routing, a closing breaker returns it
// to unknown until the next probe.
type HealthSink interface {
	MarkUnhealthy(provider, reason string)
	MarkUnknown(provider string)
}

// Registry owns one breaker per provider id, created lazily on first use.
// It is explicit owned state injected into the orchestrator at
// construction; tests instantiate isolated registries per test case.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker

	defaults Settings
	sink     HealthSink

	// onTransition is an optional observer hook (metrics)
	onTransition StateChangeFunc
}

// NewRegistry creates an empty breaker registry with the given default
// settings. sink may be nil.
func NewRegistry(defaults Settings, sink HealthSink) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		defaults: defaults,
		sink:     sink,
	}
}

// OnTransition registers an observer for state transitions, in addition to
// the health sink. Must be called before traffic starts.
func (r *Registry) OnTransition(fn StateChangeFunc) {
	r.onTransition = fn
}

// Get returns the breaker for a provider, creating it on first use.
func (r *Registry) Get(provider string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[provider]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[provider]; ok {
		return b
	}

	b = New(provider, r.defaults, r.stateChanged)
	r.breakers[provider] = b
	return b
}

// IsOpen reports whether the provider's breaker currently rejects
// requests. A provider with no breaker yet is not open.
func (r *Registry) IsOpen(provider string) bool {
	r.mu.RLock()
	b, ok := r.breakers[provider]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return b.IsOpen()
}

// Snapshots returns the state of every breaker, ordered by provider.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	result := make([]Snapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		result = append(result, b.Snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].Provider < result[j].Provider })
	return result
}

// Remove drops a provider's breaker, typically after the provider record
// is deleted.
func (r *Registry) Remove(provider string) {
	r.mu.Lock()
	delete(r.breakers, provider)
	r.mu.Unlock()
}

// stateChanged propagates transitions to the health sink and observer.
func (r *Registry) stateChanged(provider string, from, to State) {
	slog.Info("circuit breaker state changed",
		"provider", provider,
		"from", string(from),
		"to", string(to),
	)

	if r.sink != nil {
		switch to {
		case StateOpen:
			r.sink.MarkUnhealthy(provider, "circuit breaker open")
		case StateClosed:
			r.sink.MarkUnknown(provider)
		}
	}

	if r.onTransition != nil {
		r.onTransition(provider, from, to)
	}
}
