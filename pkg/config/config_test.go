package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"helios-hq/helios/pkg/registry"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.ListenAddress != "127.0.0.1:8080" {
		t.Errorf("ListenAddress = %q", cfg.Server.ListenAddress)
	}
	if cfg.Server.WriteTimeout != 10*time.Minute {
		t.Errorf("WriteTimeout = %v, want 10m for streaming", cfg.Server.WriteTimeout)
	}
	if cfg.Registry.Backend != "memory" {
		t.Errorf("Backend = %q", cfg.Registry.Backend)
	}
	if cfg.Breaker.FailureThreshold != 5 || cfg.Breaker.SuccessThreshold != 2 || cfg.Breaker.Cooldown != 30*time.Second {
		t.Errorf("Breaker = %+v", cfg.Breaker)
	}
	if cfg.Resolver.CacheTTL != 5*time.Second {
		t.Errorf("CacheTTL = %v", cfg.Resolver.CacheTTL)
	}
	if cfg.Health.Enabled == nil || !*cfg.Health.Enabled || cfg.Health.Schedule != "@every 1m" {
		t.Errorf("Health = %+v", cfg.Health)
	}
	if cfg.Telemetry.Logging.Level != "info" || cfg.Telemetry.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Telemetry.Logging)
	}
	if cfg.Telemetry.Metrics.Namespace != "helios" {
		t.Errorf("Namespace = %q", cfg.Telemetry.Metrics.Namespace)
	}
	if cfg.Fallback.AttemptWhenAllOpen == nil || !*cfg.Fallback.AttemptWhenAllOpen {
		t.Error("AttemptWhenAllOpen should default to true")
	}
	// No policy file means nothing to watch.
	if cfg.Fallback.Watch == nil || *cfg.Fallback.Watch {
		t.Error("Watch should default to false without a policy file")
	}
}

func TestWatchDefaultsOnWithPolicyFile(t *testing.T) {
	cfg := &Config{Fallback: FallbackConfig{PolicyFile: "policies.yaml"}}
	ApplyDefaults(cfg)
	if cfg.Fallback.Watch == nil || !*cfg.Fallback.Watch {
		t.Error("Watch should default to true when a policy file is set")
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_address: "0.0.0.0:9090"
  read_timeout: 15s
registry:
  backend: sqlite
  path: /var/lib/helios/providers.db
providers:
  - slug: openai
    type: http
    enabled: true
    priority: 1
    http:
      base_url: https://api.openai.com/v1
      auth: api_key
    models:
      - public_model: gpt-4
        internal_model: gpt-4-0613
        supports_streaming: true
breaker:
  failure_threshold: 3
  cooldown: 10s
fallback:
  policy_file: policies.yaml
telemetry:
  logging:
    level: debug
    format: text
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.ListenAddress != "0.0.0.0:9090" {
		t.Errorf("ListenAddress = %q", cfg.Server.ListenAddress)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("ReadTimeout = %v", cfg.Server.ReadTimeout)
	}
	// Unset fields still get defaults.
	if cfg.Server.WriteTimeout != 10*time.Minute {
		t.Errorf("WriteTimeout = %v", cfg.Server.WriteTimeout)
	}
	if cfg.Registry.Backend != "sqlite" || cfg.Registry.Path == "" {
		t.Errorf("Registry = %+v", cfg.Registry)
	}
	if len(cfg.Providers) != 1 {
		t.Fatalf("Providers = %d, want 1", len(cfg.Providers))
	}
	p := cfg.Providers[0]
	if p.Slug != "openai" || p.Type != registry.AdapterHTTP || p.HTTP.Auth != registry.AuthAPIKey {
		t.Errorf("provider = %+v", p)
	}
	if len(p.Models) != 1 || p.Models[0].InternalModel != "gpt-4-0613" {
		t.Errorf("models = %+v", p.Models)
	}
	if cfg.Breaker.FailureThreshold != 3 || cfg.Breaker.SuccessThreshold != 2 {
		t.Errorf("Breaker = %+v", cfg.Breaker)
	}
	if cfg.Telemetry.Logging.Level != "debug" || cfg.Telemetry.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Telemetry.Logging)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("HELIOS_TEST_API_KEY", "sk-from-env")

	path := writeConfig(t, `
providers:
  - slug: openai
    type: http
    enabled: true
    http:
      base_url: https://api.openai.com/v1
      auth: api_key
    credentials:
      api_key: ${HELIOS_TEST_API_KEY}
    models:
      - public_model: gpt-4
        internal_model: gpt-4-0613
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Providers[0].Credentials["api_key"]; got != "sk-from-env" {
		t.Errorf("api_key = %q, want the environment value", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load succeeded on a missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(cfg *Config) {},
		},
		{
			name:    "bad listen address",
			mutate:  func(cfg *Config) { cfg.Server.ListenAddress = "no-port" },
			wantErr: "listen_address",
		},
		{
			name:    "unknown backend",
			mutate:  func(cfg *Config) { cfg.Registry.Backend = "postgres" },
			wantErr: "registry.backend",
		},
		{
			name: "sqlite without path",
			mutate: func(cfg *Config) {
				cfg.Registry.Backend = "sqlite"
				cfg.Registry.Path = ""
			},
			wantErr: "registry.path",
		},
		{
			name: "duplicate provider slug",
			mutate: func(cfg *Config) {
				p := registry.Provider{
					Slug: "openai",
					Type: registry.AdapterHTTP,
					HTTP: &registry.HTTPConfig{BaseURL: "https://api.openai.com/v1"},
				}
				cfg.Providers = []registry.Provider{p, p}
			},
			wantErr: "duplicate slug",
		},
		{
			name: "invalid provider",
			mutate: func(cfg *Config) {
				cfg.Providers = []registry.Provider{{Slug: "x", Type: registry.AdapterHTTP}}
			},
			wantErr: "base_url",
		},
		{
			name: "git source without repository",
			mutate: func(cfg *Config) {
				cfg.Fallback.Git = &GitConfig{Path: "policies.yaml"}
			},
			wantErr: "fallback.git.repository",
		},
		{
			name: "git source without path",
			mutate: func(cfg *Config) {
				cfg.Fallback.Git = &GitConfig{Repository: "https://example.com/policies.git"}
			},
			wantErr: "fallback.git.path",
		},
		{
			name:    "zero failure threshold",
			mutate:  func(cfg *Config) { cfg.Breaker.FailureThreshold = -1 },
			wantErr: "failure_threshold",
		},
		{
			name:    "tracing enabled without endpoint",
			mutate:  func(cfg *Config) { cfg.Telemetry.Tracing.Enabled = true },
			wantErr: "tracing.endpoint",
		},
		{
			name:    "sample ratio out of range",
			mutate:  func(cfg *Config) { cfg.Telemetry.Tracing.SampleRatio = 1.5 },
			wantErr: "sample_ratio",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate accepted an invalid config")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}
