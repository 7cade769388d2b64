package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"helios-hq/helios/pkg/adapterfactory"
	"helios-hq/helios/pkg/breaker"
	"helios-hq/helios/pkg/config"
	"helios-hq/helios/pkg/fallback"
	"helios-hq/helios/pkg/gateway"
	"helios-hq/helios/pkg/health"
	"helios-hq/helios/pkg/registry"
	"helios-hq/helios/pkg/resolver"
	"helios-hq/helios/pkg/server"
	"helios-hq/helios/pkg/telemetry/logging"
	"helios-hq/helios/pkg/telemetry/metrics"
	"helios-hq/helios/pkg/telemetry/tracing"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the gateway server",
	Long: `Start the gateway server with the specified configuration.

The server listens on the configured address, translates OpenAI-compatible
requests into adapter calls, and routes around failing providers.

Examples:
  # Start with default config
  helios run

  # Start with custom config
  helios run --config /etc/helios/config.yaml

  # Override listen address
  helios run --listen 0.0.0.0:8080

  # Validate config without starting
  helios run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose && cfg.Telemetry.Logging.Level == "info" {
		cfg.Telemetry.Logging.Level = "debug"
	}

	logger, err := logging.New(logging.Config{
		Level:     cfg.Telemetry.Logging.Level,
		Format:    cfg.Telemetry.Logging.Format,
		AddSource: cfg.Telemetry.Logging.AddSource,
	})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if runFlags.dryRun {
		fmt.Println("✓ Configuration valid")
		return nil
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// Provider store, seeded from config. Persistent records win over
	// seeds with the same slug.
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := seedProviders(ctx, store, cfg.Providers); err != nil {
		return err
	}

	collector := metrics.NewCollector(cfg.Telemetry.Metrics.Namespace, nil)

	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:     cfg.Telemetry.Tracing.Enabled,
		Endpoint:    cfg.Telemetry.Tracing.Endpoint,
		ServiceName: cfg.Telemetry.Tracing.ServiceName,
		SampleRatio: cfg.Telemetry.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer tracer.Shutdown(context.Background())

	breakers := breaker.NewRegistry(breaker.Settings{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Cooldown:         cfg.Breaker.Cooldown,
	}, health.NewStoreSink(store, logger))
	breakers.OnTransition(func(provider string, from, to breaker.State) {
		collector.RecordBreakerTransition(provider, string(from), string(to))
		collector.SetBreakerState(provider, breakerStateValue(to))
	})

	engine := fallback.NewEngine(*cfg.Fallback.AttemptWhenAllOpen)
	stopPolicies, err := startPolicySource(ctx, cfg, engine, logger)
	if err != nil {
		return err
	}
	defer stopPolicies()

	pool := adapterfactory.NewCache()
	defer pool.Close()
	// Retire pooled adapters when their provider record changes.
	store.Subscribe(pool.Evict)

	models := resolver.New(store, cfg.Resolver.CacheTTL)

	if *cfg.Health.Enabled {
		prober := health.NewProber(store, pool, logger, cfg.Health.Schedule)
		if err := prober.Start(); err != nil {
			return fmt.Errorf("failed to start health prober: %w", err)
		}
		defer prober.Stop()
	}

	orchestrator := gateway.New(gateway.Options{
		Resolver: models,
		Fallback: engine,
		Breakers: breakers,
		Pool:     pool,
		Metrics:  collector,
		Tracer:   tracer,
		Logger:   logger,
	})

	srv := server.New(server.Options{
		Config:       cfg.Server,
		Orchestrator: orchestrator,
		Store:        store,
		Breakers:     breakers,
		Fallback:     engine,
		Metrics:      collector,
		Logger:       logger,
	})
	return srv.Start(ctx)
}

func openStore(cfg *config.Config) (registry.Store, error) {
	switch cfg.Registry.Backend {
	case "sqlite":
		return registry.NewSQLiteStore(cfg.Registry.Path)
	default:
		return registry.NewMemoryStore(), nil
	}
}

// seedProviders installs configured provider records that the store does
// not already hold.
func seedProviders(ctx context.Context, store registry.Store, providers []registry.Provider) error {
	for i := range providers {
		p := providers[i]
		if _, err := store.Get(ctx, p.Slug); err == nil {
			continue
		} else if !errors.Is(err, registry.ErrNotFound) {
			return err
		}
		if err := store.Put(ctx, &p); err != nil {
			return fmt.Errorf("failed to seed provider %q: %w", p.Slug, err)
		}
	}
	return nil
}

// startPolicySource installs fallback policies from the configured
// source and keeps them fresh. The returned stop function is safe to
// call when no source is configured.
func startPolicySource(ctx context.Context, cfg *config.Config, engine *fallback.Engine, logger *slog.Logger) (func(), error) {
	if cfg.Fallback.Git != nil {
		src, err := fallback.NewGitSource(fallback.GitSourceConfig{
			Repository:   cfg.Fallback.Git.Repository,
			Branch:       cfg.Fallback.Git.Branch,
			Path:         cfg.Fallback.Git.Path,
			LocalPath:    cfg.Fallback.Git.LocalPath,
			PollInterval: cfg.Fallback.Git.PollInterval,
			Username:     cfg.Fallback.Git.Username,
			Token:        cfg.Fallback.Git.Token,
		}, engine)
		if err != nil {
			return nil, err
		}
		if err := src.Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to start git policy source: %w", err)
		}
		return src.Stop, nil
	}

	if cfg.Fallback.PolicyFile == "" {
		return func() {}, nil
	}

	policies, err := fallback.LoadPolicies(cfg.Fallback.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load fallback policies: %w", err)
	}
	if err := engine.Replace(policies); err != nil {
		return nil, err
	}
	logger.Info("fallback policies loaded", "path", cfg.Fallback.PolicyFile, "count", len(policies))

	if cfg.Fallback.Watch == nil || !*cfg.Fallback.Watch {
		return func() {}, nil
	}
	watcher, err := fallback.NewWatcher(cfg.Fallback.PolicyFile, engine, 0)
	if err != nil {
		return nil, err
	}
	if err := watcher.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to watch policy file: %w", err)
	}
	return watcher.Stop, nil
}

func breakerStateValue(s breaker.State) float64 {
	switch s {
	case breaker.StateOpen:
		return 2
	case breaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}
