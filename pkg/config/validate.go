package config

import (
	"fmt"
	"net"

	"helios-hq/helios/pkg/registry"
)

// Validate checks the configuration for errors a running gateway could
// not recover from. It is called after defaults are applied.
func Validate(cfg *Config) error {
	if _, _, err := net.SplitHostPort(cfg.Server.ListenAddress); err != nil {
		return fmt.Errorf("server.listen_address %q is not host:port: %w", cfg.Server.ListenAddress, err)
	}

	switch cfg.Registry.Backend {
	case "memory":
	case "sqlite":
		if cfg.Registry.Path == "" {
			return fmt.Errorf("registry.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("registry.backend %q is not supported (memory, sqlite)", cfg.Registry.Backend)
	}

	seen := make(map[string]bool, len(cfg.Providers))
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if err := registry.Validate(p); err != nil {
			return fmt.Errorf("providers[%d]: %w", i, err)
		}
		if seen[p.Slug] {
			return fmt.Errorf("providers[%d]: duplicate slug %q", i, p.Slug)
		}
		seen[p.Slug] = true
	}

	if cfg.Fallback.Git != nil {
		if cfg.Fallback.Git.Repository == "" {
			return fmt.Errorf("fallback.git.repository is required when the git source is configured")
		}
		if cfg.Fallback.Git.Path == "" {
			return fmt.Errorf("fallback.git.path is required when the git source is configured")
		}
	}

	if cfg.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker.failure_threshold must be at least 1")
	}
	if cfg.Breaker.SuccessThreshold < 1 {
		return fmt.Errorf("breaker.success_threshold must be at least 1")
	}
	if cfg.Breaker.Cooldown <= 0 {
		return fmt.Errorf("breaker.cooldown must be positive")
	}

	if cfg.Telemetry.Tracing.Enabled && cfg.Telemetry.Tracing.Endpoint == "" {
		return fmt.Errorf("telemetry.tracing.endpoint is required when tracing is enabled")
	}
	if r := cfg.Telemetry.Tracing.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("telemetry.tracing.sample_ratio must be between 0 and 1")
	}
	return nil
}
