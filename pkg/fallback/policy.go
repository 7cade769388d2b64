// Package fallback decides, per logical model, which providers are
// attempted in which order when a request fails. Policies are in-process
// mutable state owned by the engine; they can be seeded from a YAML file, a
// watched directory, or a git repository.
package fallback

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Strategy selects the candidate ordering algorithm.
type Strategy string

const (
	// StrategyNone performs exactly one attempt on the top-ranked candidate.
	StrategyNone Strategy = "none"

	// StrategyPriority orders candidates by provider priority ascending,
	// ties broken by slug.
	StrategyPriority Strategy = "priority"

	// StrategyRoundRobin rotates the starting candidate per model.
	StrategyRoundRobin Strategy = "round_robin"

	// StrategyRandom shuffles candidates uniformly per request.
	StrategyRandom Strategy = "random"

	// StrategyHealthBased orders healthy before unknown before unhealthy,
	// ties broken by priority.
	StrategyHealthBased Strategy = "health_based"
)

// MaxAttemptsLimit bounds Policy.MaxAttempts.
const MaxAttemptsLimit = 10

// Policy is the per-model fallback rule. The zero value is not valid; use
// DefaultPolicy for the implicit no-fallback behavior.
type Policy struct {
	// Model is the public model id this policy applies to
	Model string `yaml:"model" json:"model"`

	Strategy Strategy `yaml:"strategy" json:"strategy"`

	// MaxAttempts bounds the attempt sequence (1..10)
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	Enabled bool `yaml:"enabled" json:"enabled"`

	// ProviderOrder, when set, pins listed providers to the front of the
	// sequence in the given order
	ProviderOrder []string `yaml:"provider_order,omitempty" json:"provider_order,omitempty"`

	// RetryDelay is the wait between attempts (0 allowed)
	RetryDelay time.Duration `yaml:"retry_delay,omitempty" json:"retry_delay,omitempty"`
}

// DefaultPolicy is the behavior for models with no configured policy:
// exactly one attempt, no fallback.
func DefaultPolicy(model string) Policy {
	return Policy{
		Model:       model,
		Strategy:    StrategyNone,
		MaxAttempts: 1,
		Enabled:     true,
	}
}

// Validate checks a policy before it is installed.
func (p Policy) Validate() error {
	if p.Model == "" {
		return fmt.Errorf("policy model is required")
	}
	switch p.Strategy {
	case StrategyNone, StrategyPriority, StrategyRoundRobin, StrategyRandom, StrategyHealthBased:
	default:
		return fmt.Errorf("policy for %q: unsupported strategy %q", p.Model, p.Strategy)
	}
	if p.MaxAttempts < 1 || p.MaxAttempts > MaxAttemptsLimit {
		return fmt.Errorf("policy for %q: max_attempts must be 1..%d, got %d", p.Model, MaxAttemptsLimit, p.MaxAttempts)
	}
	if p.RetryDelay < 0 {
		return fmt.Errorf("policy for %q: retry_delay must not be negative", p.Model)
	}
	return nil
}

// policyFile is the on-disk policy document layout.
type policyFile struct {
	Policies []Policy `yaml:"policies"`
}

// LoadPolicies reads a YAML policy document from path and validates every
// entry.
func LoadPolicies(path string) ([]Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var doc policyFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}

	seen := make(map[string]bool, len(doc.Policies))
	for _, p := range doc.Policies {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if seen[p.Model] {
			return nil, fmt.Errorf("duplicate policy for model %q", p.Model)
		}
		seen[p.Model] = true
	}

	return doc.Policies, nil
}
