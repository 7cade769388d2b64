// Package gateway composes the resolver, fallback engine, circuit
// breakers and adapter pool into the request lifecycle behind the public
// API surface.
package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"helios-hq/helios/pkg/adapters"
	"helios-hq/helios/pkg/breaker"
	"helios-hq/helios/pkg/fallback"
	"helios-hq/helios/pkg/registry"
	"helios-hq/helios/pkg/resolver"
	"helios-hq/helios/pkg/telemetry/metrics"
	"helios-hq/helios/pkg/telemetry/tracing"
)

// AdapterSource hands out a live adapter for a provider record.
// *adapterfactory.Cache is the production implementation.
type AdapterSource interface {
	Get(p *registry.Provider) (adapters.Adapter, error)
}

// Orchestrator owns the attempt loop: resolve, plan, gate through the
// breaker, invoke the adapter, record the outcome.
type Orchestrator struct {
	resolver *resolver.Resolver
	fallback *fallback.Engine
	breakers *breaker.Registry
	pool     AdapterSource

	metrics *metrics.Collector
	tracer  *tracing.Tracer
	logger  *slog.Logger
	usage   UsageRecorder
}

// Options carries the orchestrator's collaborators. Resolver, Fallback,
// Breakers and Pool are required; the rest default to inert
// implementations.
type Options struct {
	Resolver *resolver.Resolver
	Fallback *fallback.Engine
	Breakers *breaker.Registry
	Pool     AdapterSource

	Metrics *metrics.Collector
	Tracer  *tracing.Tracer
	Logger  *slog.Logger
	Usage   UsageRecorder
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metricsCollector := opts.Metrics
	if metricsCollector == nil {
		metricsCollector = metrics.NewCollector("helios", nil)
	}
	usage := opts.Usage
	if usage == nil {
		usage = NopUsageRecorder{}
	}

	return &Orchestrator{
		resolver: opts.Resolver,
		fallback: opts.Fallback,
		breakers: opts.Breakers,
		pool:     opts.Pool,
		metrics:  metricsCollector,
		tracer:   opts.Tracer,
		logger:   logger,
		usage:    usage,
	}
}

// attempt pairs a planned fallback slot with the resolved provider data
// needed to execute it.
type attempt struct {
	candidate resolver.Candidate
	delay     time.Duration
}

// plan resolves the model and orders the viable candidates. The returned
// strategy labels metrics; the delay applies between consecutive
// attempts.
func (o *Orchestrator) plan(ctx context.Context, model string) ([]attempt, fallback.Policy, error) {
	resolved, err := o.resolver.Resolve(ctx, model)
	if err != nil {
		return nil, fallback.Policy{}, err
	}

	bySlug := make(map[string]resolver.Candidate, len(resolved))
	fbCandidates := make([]fallback.Candidate, 0, len(resolved))
	for _, c := range resolved {
		bySlug[c.Provider.Slug] = c
		fbCandidates = append(fbCandidates, fallback.Candidate{
			Slug:        c.Provider.Slug,
			Priority:    c.Provider.Priority,
			Health:      c.Provider.Health.Status,
			BreakerOpen: o.breakers.IsOpen(c.Provider.Slug),
		})
	}

	policy := o.fallback.Policy(model)
	ordered := o.fallback.Plan(model, fbCandidates)
	if len(ordered) == 0 {
		// Every candidate's breaker is open and the engine declined to
		// force an attempt.
		return nil, policy, &breaker.OpenError{Provider: resolved[0].Provider.Slug}
	}

	attempts := make([]attempt, 0, len(ordered))
	for _, c := range ordered {
		attempts = append(attempts, attempt{
			candidate: bySlug[c.Slug],
			delay:     policy.RetryDelay,
		})
	}
	return attempts, policy, nil
}

// acquire gates an attempt through the provider's breaker and hands out
// its adapter. A breaker.OpenError means skip, any other error means the
// provider record is unusable.
func (o *Orchestrator) acquire(a attempt) (adapters.Adapter, *breaker.Breaker, error) {
	br := o.breakers.Get(a.candidate.Provider.Slug)
	if err := br.Allow(); err != nil {
		return nil, nil, err
	}

	adapter, err := o.pool.Get(a.candidate.Provider)
	if err != nil {
		// Misconfigured provider; release the half-open slot if we
		// reserved one and report the failure against the breaker.
		br.RecordFailure()
		return nil, nil, err
	}
	return adapter, br, nil
}

// settle records an attempt's outcome on the breaker and metrics. Only
// provider-attributable failures count against the breaker.
func (o *Orchestrator) settle(br *breaker.Breaker, slug string, err error) {
	if err == nil {
		br.RecordSuccess()
		o.metrics.RecordAttempt(slug, "success")
		return
	}
	if adapters.CountsAgainstBreaker(err) {
		br.RecordFailure()
	}
	o.metrics.RecordAttempt(slug, "failure")
}

// retryable reports whether the attempt loop should continue to the next
// candidate after err.
func retryable(err error) bool {
	if _, ok := err.(*breaker.OpenError); ok {
		return true
	}
	return adapters.IsRetryable(err)
}

// waitBetweenAttempts honors the policy's retry delay without outliving
// the request.
func waitBetweenAttempts(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// newCompletionID mints the public response id.
func newCompletionID() string {
	return "chatcmpl-" + uuid.NewString()
}
