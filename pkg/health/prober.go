// Package health runs the scheduled provider probes and serves the
// process liveness and readiness checks.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"helios-hq/helios/pkg/adapterfactory"
	"helios-hq/helios/pkg/registry"
)

// DefaultSchedule probes every provider once a minute.
const DefaultSchedule = "@every 1m"

// Prober periodically tests every enabled provider's connectivity and
// writes the outcome back to the registry for routing decisions.
type Prober struct {
	store    registry.Store
	pool     *adapterfactory.Cache
	logger   *slog.Logger
	schedule string
	timeout  time.Duration

	cron *cron.Cron

	mu      sync.Mutex
	running bool
}

// NewProber creates a prober. An empty schedule uses DefaultSchedule.
func NewProber(store registry.Store, pool *adapterfactory.Cache, logger *slog.Logger, schedule string) *Prober {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		store:    store,
		pool:     pool,
		logger:   logger,
		schedule: schedule,
		timeout:  30 * time.Second,
	}
}

// Start schedules the probe loop and runs one sweep immediately in the
// background so fresh processes converge without waiting a full period.
func (p *Prober) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	p.cron = cron.New()
	if _, err := p.cron.AddFunc(p.schedule, func() { p.Sweep(context.Background()) }); err != nil {
		return err
	}
	p.cron.Start()
	p.running = true

	go p.Sweep(context.Background())
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (p *Prober) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	ctx := p.cron.Stop()
	<-ctx.Done()
	p.running = false
}

// Sweep probes every enabled provider once.
func (p *Prober) Sweep(ctx context.Context) {
	providers, err := p.store.List(ctx)
	if err != nil {
		p.logger.Error("health sweep could not list providers", "error", err)
		return
	}

	for _, provider := range providers {
		if !provider.Enabled {
			continue
		}
		p.probe(ctx, provider)
	}
}

func (p *Prober) probe(ctx context.Context, provider *registry.Provider) {
	adapter, err := p.pool.Get(provider)
	if err != nil {
		p.setHealth(ctx, provider.Slug, registry.HealthUnhealthy, err.Error())
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	result := adapter.TestConnection(probeCtx)
	if result.Success {
		p.setHealth(ctx, provider.Slug, registry.HealthHealthy, "")
		return
	}

	p.logger.Warn("provider failed health probe",
		"provider", provider.Slug, "message", result.Message)
	p.setHealth(ctx, provider.Slug, registry.HealthUnhealthy, result.Message)
}

func (p *Prober) setHealth(ctx context.Context, slug string, status registry.Health, message string) {
	err := p.store.SetHealth(ctx, slug, registry.HealthStatus{
		Status:       status,
		LastChecked:  time.Now(),
		ErrorMessage: message,
	})
	if err != nil {
		p.logger.Error("failed to record provider health", "provider", slug, "error", err)
	}
}
