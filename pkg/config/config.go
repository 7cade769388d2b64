// Package config defines the gateway's configuration schema and its
// loading, defaulting and validation rules.
package config

import (
	"time"

	"helios-hq/helios/pkg/registry"
)

// Config is the root configuration structure for Helios.
type Config struct {
	// Server contains HTTP server configuration.
	Server ServerConfig `yaml:"server"`

	// Registry selects and configures the provider store backend.
	Registry RegistryConfig `yaml:"registry"`

	// Providers seeds the registry at startup. Records already present
	// in a persistent store win over seeds with the same slug.
	Providers []registry.Provider `yaml:"providers"`

	// Fallback configures the policy engine and its sources.
	Fallback FallbackConfig `yaml:"fallback"`

	// Breaker sets the default circuit breaker thresholds.
	Breaker BreakerConfig `yaml:"breaker"`

	// Resolver configures model resolution caching.
	Resolver ResolverConfig `yaml:"resolver"`

	// Health configures the scheduled provider probes.
	Health HealthConfig `yaml:"health"`

	// Telemetry configures logging, metrics and tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is "host:port". Default: "127.0.0.1:8080".
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout bounds reading the request including its body.
	// Default: 30s.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds response writes. Streaming responses run long,
	// so the default is generous. Default: 10m.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout bounds keep-alive waits. Default: 120s.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown. Default: 30s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// AdminEnabled exposes the /admin endpoints. Default: true.
	AdminEnabled *bool `yaml:"admin_enabled"`
}

// RegistryConfig selects the provider store backend.
type RegistryConfig struct {
	// Backend is "memory" or "sqlite". Default: "memory".
	Backend string `yaml:"backend"`

	// Path is the SQLite database file; required for the sqlite backend.
	Path string `yaml:"path"`
}

// FallbackConfig configures the policy engine.
type FallbackConfig struct {
	// PolicyFile is a YAML file of per-model policies, hot-reloaded on
	// change when Watch is true.
	PolicyFile string `yaml:"policy_file"`

	// Watch reloads PolicyFile when it changes. Default: true when
	// PolicyFile is set.
	Watch *bool `yaml:"watch"`

	// Git, when set, polls a git repository for the policy file instead
	// of watching a local path.
	Git *GitConfig `yaml:"git"`

	// AttemptWhenAllOpen attempts the single best candidate when every
	// breaker is open, so callers see a real provider error. Default:
	// true.
	AttemptWhenAllOpen *bool `yaml:"attempt_when_all_open"`
}

// GitConfig configures the git policy source.
type GitConfig struct {
	Repository   string        `yaml:"repository"`
	Branch       string        `yaml:"branch"`
	Path         string        `yaml:"path"`
	LocalPath    string        `yaml:"local_path"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Username     string        `yaml:"username"`
	Token        string        `yaml:"token"`
}

// BreakerConfig sets default circuit breaker thresholds.
type BreakerConfig struct {
	// FailureThreshold opens the breaker after this many consecutive
	// failures. Default: 5.
	FailureThreshold int `yaml:"failure_threshold"`

	// SuccessThreshold closes a half-open breaker after this many
	// consecutive trial successes. Default: 2.
	SuccessThreshold int `yaml:"success_threshold"`

	// Cooldown is how long an open breaker rejects before allowing a
	// trial. Default: 30s.
	Cooldown time.Duration `yaml:"cooldown"`
}

// ResolverConfig configures model resolution.
type ResolverConfig struct {
	// CacheTTL bounds provider-list staleness. Default: 5s.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// HealthConfig configures the scheduled provider probes.
type HealthConfig struct {
	// Enabled turns probing on. Default: true.
	Enabled *bool `yaml:"enabled"`

	// Schedule is a cron expression or @every duration. Default:
	// "@every 1m".
	Schedule string `yaml:"schedule"`
}

// TelemetryConfig configures observability.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error". Default: "info".
	Level string `yaml:"level"`

	// Format is "json" or "text". Default: "json".
	Format string `yaml:"format"`

	// AddSource includes file:line in records. Default: false.
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	// Enabled exposes /metrics. Default: true.
	Enabled *bool `yaml:"enabled"`

	// Namespace prefixes every metric name. Default: "helios".
	Namespace string `yaml:"namespace"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	// Enabled turns span export on. Default: false.
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP/gRPC collector address.
	Endpoint string `yaml:"endpoint"`

	// ServiceName labels exported spans. Default: "helios".
	ServiceName string `yaml:"service_name"`

	// SampleRatio in (0,1) samples that fraction of traces; 0 or 1
	// samples everything.
	SampleRatio float64 `yaml:"sample_ratio"`
}
