// Package api defines the public OpenAI-compatible wire types and the
// helpers that parse requests and write JSON or SSE responses.
package api

import (
	"net/http"

	"helios-hq/helios/pkg/adapters"
)

// ChatCompletionRequest is the POST /v1/chat/completions request body.
// Header carries the caller's request headers, captured at parse time for
// adapters that forward a whitelisted subset.
type ChatCompletionRequest struct {
	Model       string             `json:"model"`
	Messages    []adapters.Message `json:"messages"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
	Temperature float64            `json:"temperature,omitempty"`
	TopP        float64            `json:"top_p,omitempty"`
	Stop        []string           `json:"stop,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
	User        string             `json:"user,omitempty"`

	Header http.Header `json:"-"`
}

// ChatCompletionChoice is one entry in a completion's choices array.
type ChatCompletionChoice struct {
	Index        int              `json:"index"`
	Message      adapters.Message `json:"message"`
	FinishReason string           `json:"finish_reason"`
}

// Usage reports token accounting for a completed request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionResponse is the non-streaming completion response body.
type ChatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []ChatCompletionChoice `json:"choices"`
	Usage   Usage                  `json:"usage"`
}

// ChunkDelta is the incremental message fragment inside a stream chunk.
type ChunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// ChunkChoice is one entry in a stream chunk's choices array.
type ChunkChoice struct {
	Index        int         `json:"index"`
	Delta        ChunkDelta  `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
	Error        *ErrorBody  `json:"error,omitempty"`
}

// ChatCompletionChunk is one streamed SSE payload.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`
}

// EmbeddingsRequest is the POST /v1/embeddings request body. Input may be
// a single string or an array of strings on the wire.
type EmbeddingsRequest struct {
	Model string        `json:"model"`
	Input EmbeddingText `json:"input"`
	User  string        `json:"user,omitempty"`

	Header http.Header `json:"-"`
}

// Embedding is one vector in the embeddings response.
type Embedding struct {
	Object    string    `json:"object"`
	Embedding []float64 `json:"embedding"`
	Index     int       `json:"index"`
}

// EmbeddingsResponse is the embeddings response body.
type EmbeddingsResponse struct {
	Object string      `json:"object"`
	Data   []Embedding `json:"data"`
	Model  string      `json:"model"`
	Usage  Usage       `json:"usage"`
}

// Model is one entry in the GET /v1/models listing.
type Model struct {
	ID                 string `json:"id"`
	Object             string `json:"object"`
	OwnedBy            string `json:"owned_by"`
	MaxTokens          int    `json:"max_tokens,omitempty"`
	ContextWindow      int    `json:"context_window,omitempty"`
	SupportsStreaming  bool   `json:"supports_streaming"`
	SupportsEmbeddings bool   `json:"supports_embeddings"`
}

// ModelList is the GET /v1/models response body.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}
