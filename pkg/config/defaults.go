package config

import "time"

func boolPtr(v bool) *bool { return &v }

// ApplyDefaults fills unset fields with their documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = "127.0.0.1:8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Minute
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 120 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Server.AdminEnabled == nil {
		cfg.Server.AdminEnabled = boolPtr(true)
	}

	if cfg.Registry.Backend == "" {
		cfg.Registry.Backend = "memory"
	}

	if cfg.Fallback.Watch == nil {
		cfg.Fallback.Watch = boolPtr(cfg.Fallback.PolicyFile != "")
	}
	if cfg.Fallback.AttemptWhenAllOpen == nil {
		cfg.Fallback.AttemptWhenAllOpen = boolPtr(true)
	}
	if cfg.Fallback.Git != nil {
		if cfg.Fallback.Git.Branch == "" {
			cfg.Fallback.Git.Branch = "main"
		}
		if cfg.Fallback.Git.PollInterval == 0 {
			cfg.Fallback.Git.PollInterval = time.Minute
		}
	}

	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.SuccessThreshold == 0 {
		cfg.Breaker.SuccessThreshold = 2
	}
	if cfg.Breaker.Cooldown == 0 {
		cfg.Breaker.Cooldown = 30 * time.Second
	}

	if cfg.Resolver.CacheTTL == 0 {
		cfg.Resolver.CacheTTL = 5 * time.Second
	}

	if cfg.Health.Enabled == nil {
		cfg.Health.Enabled = boolPtr(true)
	}
	if cfg.Health.Schedule == "" {
		cfg.Health.Schedule = "@every 1m"
	}

	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = "info"
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = "json"
	}
	if cfg.Telemetry.Metrics.Enabled == nil {
		cfg.Telemetry.Metrics.Enabled = boolPtr(true)
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = "helios"
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = "helios"
	}
}
