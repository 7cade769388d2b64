// Package registry holds the provider records the gateway routes against
// and the store abstraction that persists them. The routing core only ever
// reads a live snapshot per request; records are created and updated by the
// external admin layer through the same Store interface.
package registry

import "time"

// AdapterType identifies which adapter variant executes a provider.
type AdapterType string

const (
	// AdapterSpawn launches a configured command per request.
	AdapterSpawn AdapterType = "spawn"

	// AdapterHTTP calls a vendor HTTP API.
	AdapterHTTP AdapterType = "http"

	// AdapterProxy forwards requests to an upstream URL largely unmodified.
	AdapterProxy AdapterType = "proxy"

	// AdapterLocal talks to a locally reachable model server.
	AdapterLocal AdapterType = "local"
)

// Health is a provider's routing health state.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthUnhealthy Health = "unhealthy"
	HealthUnknown   Health = "unknown"
)

// HealthStatus describes the most recent health observation for a provider.
// It is written by the health prober and by circuit breaker transitions
// (an opening breaker forces unhealthy for routing purposes).
type HealthStatus struct {
	Status       Health    `json:"status" yaml:"status"`
	LastChecked  time.Time `json:"last_checked" yaml:"last_checked"`
	ErrorMessage string    `json:"error_message,omitempty" yaml:"error_message,omitempty"`
}

// ModelMapping binds a public model id to a provider-internal model id.
// Within one provider, public model ids are unique.
type ModelMapping struct {
	// PublicModel is the model id exposed on the public API surface
	PublicModel string `json:"public_model" yaml:"public_model"`

	// InternalModel is the id the provider backend understands
	InternalModel string `json:"internal_model" yaml:"internal_model"`

	// MaxTokens is the largest completion the mapping allows
	MaxTokens int `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`

	// ContextWindow is the total context size in tokens
	ContextWindow int `json:"context_window,omitempty" yaml:"context_window,omitempty"`

	SupportsStreaming  bool `json:"supports_streaming" yaml:"supports_streaming"`
	SupportsEmbeddings bool `json:"supports_embeddings" yaml:"supports_embeddings"`
}

// SpawnConfig configures the process-spawn adapter variant.
type SpawnConfig struct {
	// Command is the executable to launch
	Command string `json:"command" yaml:"command"`

	// Args are passed to the command verbatim
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`

	// Env is appended to the child environment as KEY=VALUE pairs
	Env []string `json:"env,omitempty" yaml:"env,omitempty"`

	// Sandbox runs the command inside a network-disabled container
	Sandbox bool `json:"sandbox,omitempty" yaml:"sandbox,omitempty"`

	// SandboxImage is the container image used when Sandbox is true
	SandboxImage string `json:"sandbox_image,omitempty" yaml:"sandbox_image,omitempty"`

	// SandboxRuntime is the container runtime binary (default: docker)
	SandboxRuntime string `json:"sandbox_runtime,omitempty" yaml:"sandbox_runtime,omitempty"`

	// MemoryLimitMB caps the sandboxed process memory
	MemoryLimitMB int `json:"memory_limit_mb,omitempty" yaml:"memory_limit_mb,omitempty"`

	// CPULimit caps the sandboxed process CPUs (e.g. 1.5)
	CPULimit float64 `json:"cpu_limit,omitempty" yaml:"cpu_limit,omitempty"`

	// Timeout is the wall-clock limit for one invocation
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// AuthMode selects how the HTTP adapter authenticates against a backend.
type AuthMode string

const (
	AuthNone   AuthMode = "none"
	AuthAPIKey AuthMode = "api_key"
	AuthBearer AuthMode = "bearer"
	AuthBasic  AuthMode = "basic"
	AuthOAuth  AuthMode = "oauth"
)

// HTTPConfig configures the HTTP-client adapter variant.
type HTTPConfig struct {
	BaseURL string `json:"base_url" yaml:"base_url"`

	// ChatPath, EmbeddingsPath override the default endpoint paths
	ChatPath       string `json:"chat_path,omitempty" yaml:"chat_path,omitempty"`
	EmbeddingsPath string `json:"embeddings_path,omitempty" yaml:"embeddings_path,omitempty"`

	// Headers are sent with every request
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	Auth AuthMode `json:"auth" yaml:"auth"`

	// AuthHeader names the header used for AuthAPIKey (default: Authorization)
	AuthHeader string `json:"auth_header,omitempty" yaml:"auth_header,omitempty"`

	// MaxRetries bounds transient-status retries inside the adapter
	MaxRetries int `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`

	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// ProxyConfig configures the reverse-proxy adapter variant.
type ProxyConfig struct {
	UpstreamURL string `json:"upstream_url" yaml:"upstream_url"`

	// ForwardHeaders is the whitelist of request headers passed upstream
	ForwardHeaders []string `json:"forward_headers,omitempty" yaml:"forward_headers,omitempty"`

	// SetHeaders are added to every upstream request
	SetHeaders map[string]string `json:"set_headers,omitempty" yaml:"set_headers,omitempty"`

	// RequestFields renames top-level JSON fields on the way upstream
	RequestFields map[string]string `json:"request_fields,omitempty" yaml:"request_fields,omitempty"`

	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// LocalConfig configures the local model server adapter variant.
type LocalConfig struct {
	URL string `json:"url" yaml:"url"`

	// HealthPath is probed by TestConnection instead of the chat endpoint
	HealthPath string `json:"health_path,omitempty" yaml:"health_path,omitempty"`

	// GRPCTarget enables the gRPC health probe when set (host:port)
	GRPCTarget string `json:"grpc_target,omitempty" yaml:"grpc_target,omitempty"`

	// MaxIdleConns sizes the keep-alive connection pool
	MaxIdleConns int `json:"max_idle_conns,omitempty" yaml:"max_idle_conns,omitempty"`

	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// RateLimit is the provider's declared rate limit. The gateway does not
// enforce it; it is passed through for the external limiter to consume.
type RateLimit struct {
	RequestsPerMinute int `json:"requests_per_minute,omitempty" yaml:"requests_per_minute,omitempty"`
	TokensPerMinute   int `json:"tokens_per_minute,omitempty" yaml:"tokens_per_minute,omitempty"`
}

// Provider is one configured backend. The slug is unique and immutable;
// everything else may change mid-flight via the admin layer, so the routing
// core must only hold a record for the duration of one request.
type Provider struct {
	ID      string      `json:"id" yaml:"id"`
	Slug    string      `json:"slug" yaml:"slug"`
	Type    AdapterType `json:"type" yaml:"type"`
	Enabled bool        `json:"enabled" yaml:"enabled"`

	// Models is the ordered mapping list; public ids are unique within it
	Models []ModelMapping `json:"models" yaml:"models"`

	// Adapter-specific configuration; exactly one is consulted per Type
	Spawn *SpawnConfig `json:"spawn,omitempty" yaml:"spawn,omitempty"`
	HTTP  *HTTPConfig  `json:"http,omitempty" yaml:"http,omitempty"`
	Proxy *ProxyConfig `json:"proxy,omitempty" yaml:"proxy,omitempty"`
	Local *LocalConfig `json:"local,omitempty" yaml:"local,omitempty"`

	// Credentials is an opaque key to secret map consumed by the adapter
	Credentials map[string]string `json:"credentials,omitempty" yaml:"credentials,omitempty"`

	RateLimit RateLimit    `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
	Health    HealthStatus `json:"health" yaml:"health"`

	// Priority orders providers for routing; lower is preferred
	Priority int `json:"priority" yaml:"priority"`

	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Mapping returns the model mapping for a public model id, if present.
func (p *Provider) Mapping(publicModel string) (ModelMapping, bool) {
	for _, m := range p.Models {
		if m.PublicModel == publicModel {
			return m, true
		}
	}
	return ModelMapping{}, false
}

// HealthRank orders health states for routing: healthy before unknown
// before unhealthy.
func HealthRank(h Health) int {
	switch h {
	case HealthHealthy:
		return 0
	case HealthUnknown:
		return 1
	default:
		return 2
	}
}
