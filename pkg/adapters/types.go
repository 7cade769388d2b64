package adapters

import (
	"net/http"
	"time"
)

// Message represents a single message in a conversation.
// It is backend-agnostic and is transformed to backend-specific formats
// by each adapter variant.
type Message struct {
	// Role identifies the message sender (system, user, assistant)
	Role string `json:"role"`

	// Content is the message text content
	Content string `json:"content"`
}

// Options contains the generation options carried by a normalized request.
type Options struct {
	// MaxTokens is the maximum number of tokens to generate (0 = backend default)
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness (0.0 to 2.0)
	Temperature float64 `json:"temperature,omitempty"`

	// TopP controls nucleus sampling (0.0 to 1.0)
	TopP float64 `json:"top_p,omitempty"`

	// Stop sequences that halt generation
	Stop []string `json:"stop,omitempty"`

	// Stream indicates whether the caller requested incremental delivery
	Stream bool `json:"stream,omitempty"`
}

// Meta is the request-scoped metadata bag. It is never forwarded to the
// backend payload; adapters use it for logging and correlation only.
type Meta struct {
	// RequestID correlates all fallback attempts of one gateway request
	RequestID string `json:"-"`

	// PublicModel is the model id the caller asked for, before translation
	PublicModel string `json:"-"`

	// Attempt is the 1-based fallback attempt number
	Attempt int `json:"-"`

	// Headers carries the caller's request headers. Proxy adapters forward
	// the subset their whitelist names; everything else ignores them.
	Headers http.Header `json:"-"`
}

// Request is the normalized chat request handed to an adapter.
// Model is always the provider-internal model id; the orchestrator performs
// public-to-internal translation before the call.
type Request struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Options  Options   `json:"options"`
	Meta     Meta      `json:"-"`
}

// TokenUsage tracks token consumption for a request.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the normalized chat response produced by an adapter.
// Model is the provider-internal id; the orchestrator rewrites it back to
// the public id before the response leaves the gateway.
type Response struct {
	// ID is the backend's response identifier, if it provided one
	ID string `json:"id,omitempty"`

	Model   string `json:"model"`
	Content string `json:"content"`

	// FinishReason indicates why generation stopped (stop, length, ...)
	FinishReason string `json:"finish_reason"`

	Usage TokenUsage `json:"usage"`

	// Created is the Unix timestamp when the response was produced
	Created int64 `json:"created,omitempty"`
}

// Delta is one element of a streaming response. The final delta of a stream
// carries a non-empty FinishReason; a delta with Err set terminates the
// stream abnormally and no further deltas follow it.
type Delta struct {
	Content      string      `json:"content,omitempty"`
	FinishReason string      `json:"finish_reason,omitempty"`
	Usage        *TokenUsage `json:"usage,omitempty"`

	// Err is set when the backend failed mid-stream
	Err error `json:"-"`
}

// EmbeddingsRequest is the normalized embeddings request.
type EmbeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
	Meta  Meta     `json:"-"`
}

// EmbeddingsResponse holds one vector per input, in input order.
type EmbeddingsResponse struct {
	Model   string      `json:"model"`
	Vectors [][]float64 `json:"vectors"`
	Usage   TokenUsage  `json:"usage"`
}

// ConnectionResult is the outcome of a liveness probe. TestConnection never
// returns an error for expected failures; it reports them here instead.
type ConnectionResult struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Latency time.Duration     `json:"latency,omitempty"`
}

// ValidationResult is the outcome of a static configuration check.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Message role constants
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Finish reason constants
const (
	FinishReasonStop   = "stop"
	FinishReasonLength = "length"
	FinishReasonError  = "error"
)
