// Package metrics registers and records the gateway's Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns every metric the gateway exports. All collectors are
// registered on a dedicated registry so tests can instantiate collectors
// without tripping duplicate-registration panics.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	tokensTotal     *prometheus.CounterVec

	attemptsTotal  *prometheus.CounterVec
	fallbacksTotal *prometheus.CounterVec

	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec

	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter

	streamsActive prometheus.Gauge
}

// NewCollector creates a collector on the given registry. A nil registry
// gets a fresh one.
func NewCollector(namespace string, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if namespace == "" {
		namespace = "helios"
	}

	c := &Collector{
		registry: registry,

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Completed gateway requests by operation, provider and status",
			},
			[]string{"operation", "provider", "model", "status"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "End-to-end request duration in seconds",
				// LLM latencies run long; bucket out to two minutes.
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"operation", "provider"},
		),

		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_total",
				Help:      "Tokens processed by provider, model and direction",
			},
			[]string{"provider", "model", "type"},
		),

		attemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_total",
				Help:      "Individual provider attempts by outcome",
			},
			[]string{"provider", "outcome"},
		),

		fallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fallbacks_total",
				Help:      "Requests that moved past their first-choice provider",
			},
			[]string{"model", "strategy"},
		),

		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "breaker_state",
				Help:      "Circuit breaker state per provider (0 closed, 1 half-open, 2 open)",
			},
			[]string{"provider"},
		),

		breakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "breaker_transitions_total",
				Help:      "Circuit breaker state transitions",
			},
			[]string{"provider", "from", "to"},
		),

		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolver_cache_hits_total",
			Help:      "Provider snapshot cache hits",
		}),

		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolver_cache_misses_total",
			Help:      "Provider snapshot cache misses",
		}),

		streamsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_active",
			Help:      "Streaming responses currently in flight",
		}),
	}

	registry.MustRegister(
		c.requestsTotal,
		c.requestDuration,
		c.tokensTotal,
		c.attemptsTotal,
		c.fallbacksTotal,
		c.breakerState,
		c.breakerTransitions,
		c.cacheHits,
		c.cacheMisses,
		c.streamsActive,
	)
	return c
}

// RecordRequest records one completed gateway request.
func (c *Collector) RecordRequest(operation, provider, model, status string, duration time.Duration) {
	c.requestsTotal.WithLabelValues(operation, provider, model, status).Inc()
	c.requestDuration.WithLabelValues(operation, provider).Observe(duration.Seconds())
}

// RecordTokens records token usage for a completed request.
func (c *Collector) RecordTokens(provider, model string, prompt, completion int) {
	if prompt > 0 {
		c.tokensTotal.WithLabelValues(provider, model, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		c.tokensTotal.WithLabelValues(provider, model, "completion").Add(float64(completion))
	}
}

// RecordAttempt records one provider attempt.
func (c *Collector) RecordAttempt(provider, outcome string) {
	c.attemptsTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordFallback records that a request moved past its first candidate.
func (c *Collector) RecordFallback(model, strategy string) {
	c.fallbacksTotal.WithLabelValues(model, strategy).Inc()
}

// SetBreakerState publishes the current breaker state for a provider.
func (c *Collector) SetBreakerState(provider string, state float64) {
	c.breakerState.WithLabelValues(provider).Set(state)
}

// RecordBreakerTransition records one breaker state change.
func (c *Collector) RecordBreakerTransition(provider, from, to string) {
	c.breakerTransitions.WithLabelValues(provider, from, to).Inc()
}

// RecordCacheHit records a resolver cache hit.
func (c *Collector) RecordCacheHit() { c.cacheHits.Inc() }

// RecordCacheMiss records a resolver cache miss.
func (c *Collector) RecordCacheMiss() { c.cacheMisses.Inc() }

// StreamStarted marks a streaming response as in flight.
func (c *Collector) StreamStarted() { c.streamsActive.Inc() }

// StreamEnded marks a streaming response as finished.
func (c *Collector) StreamEnded() { c.streamsActive.Dec() }

// Registry exposes the underlying registry for additional registrations.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
