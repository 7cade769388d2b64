package fallback

import (
	"log/slog"
	"math/rand"
	"sort"
	"sync"

	"helios-hq/helios/pkg/registry"
)

// Candidate is one provider eligible to serve a model, annotated by the
// resolver with the state the ordering strategies need.
type Candidate struct {
	// Slug is the provider slug
	Slug string

	// Priority is the provider's declared priority (lower = preferred)
	Priority int

	// Health is the provider's current routing health
	Health registry.Health

	// BreakerOpen reports whether the provider's circuit breaker currently
	// rejects requests
	BreakerOpen bool
}

// Engine holds the per-model policies and rotation counters and produces
// bounded attempt sequences. Policy mutations are linearizable with respect
// to concurrent Plan calls.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]Policy

	// rotations holds the per-model round-robin counters. Per-key state so
	// unrelated models never contend.
	rotMu     sync.Mutex
	rotations map[string]*rotation

	// attemptWhenAllOpen controls behavior when every candidate's breaker
	// is open: attempt the single best candidate anyway (true) or return
	// an empty plan (false).
	attemptWhenAllOpen bool
}

type rotation struct {
	mu   sync.Mutex
	next int
}

// NewEngine creates an engine with no policies installed.
func NewEngine(attemptWhenAllOpen bool) *Engine {
	return &Engine{
		policies:           make(map[string]Policy),
		rotations:          make(map[string]*rotation),
		attemptWhenAllOpen: attemptWhenAllOpen,
	}
}

// Policy returns the policy for a model. Models without a configured
// policy, or with a disabled one, get the implicit no-fallback default.
func (e *Engine) Policy(model string) Policy {
	e.mu.RLock()
	p, ok := e.policies[model]
	e.mu.RUnlock()

	if !ok || !p.Enabled {
		return DefaultPolicy(model)
	}
	return p
}

// SetPolicy installs or replaces the policy for a model.
func (e *Engine) SetPolicy(p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	e.policies[p.Model] = p
	e.mu.Unlock()

	slog.Info("fallback policy updated",
		"model", p.Model,
		"strategy", string(p.Strategy),
		"max_attempts", p.MaxAttempts,
	)
	return nil
}

// DeletePolicy removes the policy for a model, reverting it to the
// no-fallback default.
func (e *Engine) DeletePolicy(model string) {
	e.mu.Lock()
	delete(e.policies, model)
	e.mu.Unlock()
}

// Replace swaps the full policy set atomically. Used by the file and git
// policy sources on reload.
func (e *Engine) Replace(policies []Policy) error {
	next := make(map[string]Policy, len(policies))
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return err
		}
		next[p.Model] = p
	}

	e.mu.Lock()
	e.policies = next
	e.mu.Unlock()

	slog.Info("fallback policies replaced", "count", len(policies))
	return nil
}

// Policies returns a copy of all installed policies, ordered by model.
func (e *Engine) Policies() []Policy {
	e.mu.RLock()
	result := make([]Policy, 0, len(e.policies))
	for _, p := range e.policies {
		result = append(result, p)
	}
	e.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].Model < result[j].Model })
	return result
}

// Plan produces the ordered attempt sequence for one request, bounded by
// the model's policy. Candidates whose breaker is open are skipped without
// counting against MaxAttempts; when every candidate is open, the single
// best candidate is returned (if configured) so the caller receives a real
// provider error rather than a policy artifact.
func (e *Engine) Plan(model string, candidates []Candidate) []Candidate {
	if len(candidates) == 0 {
		return nil
	}

	policy := e.Policy(model)
	ordered := e.order(policy, model, candidates)

	available := make([]Candidate, 0, len(ordered))
	for _, c := range ordered {
		if !c.BreakerOpen {
			available = append(available, c)
		}
	}

	if len(available) == 0 {
		if !e.attemptWhenAllOpen {
			return nil
		}
		// Every breaker is open: attempt the best one anyway.
		return ordered[:1]
	}

	if policy.Strategy == StrategyNone {
		return available[:1]
	}
	if len(available) > policy.MaxAttempts {
		available = available[:policy.MaxAttempts]
	}
	return available
}

// order applies the policy's strategy to the candidate list.
func (e *Engine) order(policy Policy, model string, candidates []Candidate) []Candidate {
	ordered := append([]Candidate(nil), candidates...)

	switch policy.Strategy {
	case StrategyRandom:
		rand.Shuffle(len(ordered), func(i, j int) {
			ordered[i], ordered[j] = ordered[j], ordered[i]
		})

	case StrategyHealthBased:
		sort.SliceStable(ordered, func(i, j int) bool {
			ri, rj := registry.HealthRank(ordered[i].Health), registry.HealthRank(ordered[j].Health)
			if ri != rj {
				return ri < rj
			}
			if ordered[i].Priority != ordered[j].Priority {
				return ordered[i].Priority < ordered[j].Priority
			}
			return ordered[i].Slug < ordered[j].Slug
		})

	case StrategyRoundRobin:
		sortByPriority(ordered)
		ordered = e.rotateAvailable(model, ordered)

	default: // StrategyPriority, StrategyNone
		sortByPriority(ordered)
	}

	if len(policy.ProviderOrder) > 0 {
		ordered = applyExplicitOrder(ordered, policy.ProviderOrder)
	}

	return ordered
}

// rotateAvailable rotates the candidates whose breaker is closed so that
// a full cycle of requests starts with each of them exactly once. Open
// candidates keep their priority order at the tail, where the breaker
// filter drops them without disturbing the counter. When every breaker
// is open the rotation covers the whole list.
func (e *Engine) rotateAvailable(model string, ordered []Candidate) []Candidate {
	avail := make([]Candidate, 0, len(ordered))
	var open []Candidate
	for _, c := range ordered {
		if c.BreakerOpen {
			open = append(open, c)
		} else {
			avail = append(avail, c)
		}
	}
	if len(avail) == 0 {
		avail = ordered
		open = nil
	}

	offset := e.advance(model, len(avail))
	rotated := make([]Candidate, 0, len(ordered))
	for i := 0; i < len(avail); i++ {
		rotated = append(rotated, avail[(offset+i)%len(avail)])
	}
	return append(rotated, open...)
}

// advance returns the current rotation offset for a model and moves it
// forward, so consecutive requests start one candidate later each time.
func (e *Engine) advance(model string, n int) int {
	e.rotMu.Lock()
	rot, ok := e.rotations[model]
	if !ok {
		rot = &rotation{}
		e.rotations[model] = rot
	}
	e.rotMu.Unlock()

	rot.mu.Lock()
	defer rot.mu.Unlock()
	offset := rot.next % n
	rot.next = (rot.next + 1) % n
	return offset
}

// ResetRotation clears the rotation counter for a model. Primarily used in
// tests.
func (e *Engine) ResetRotation(model string) {
	e.rotMu.Lock()
	delete(e.rotations, model)
	e.rotMu.Unlock()
}

// applyExplicitOrder pins providers listed in order to the front of the
// sequence; unlisted providers keep their strategy ordering after them.
func applyExplicitOrder(candidates []Candidate, order []string) []Candidate {
	index := make(map[string]int, len(order))
	for i, slug := range order {
		index[slug] = i
	}

	pinned := make([]Candidate, 0, len(candidates))
	rest := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := index[c.Slug]; ok {
			pinned = append(pinned, c)
		} else {
			rest = append(rest, c)
		}
	}

	sort.SliceStable(pinned, func(i, j int) bool {
		return index[pinned[i].Slug] < index[pinned[j].Slug]
	})

	return append(pinned, rest...)
}

func sortByPriority(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].Slug < candidates[j].Slug
	})
}
