// Package adaptertest provides a scripted adapter implementation for
// exercising the orchestrator and fallback machinery without real
// backends.
package adaptertest

import (
	"context"
	"sync"

	"helios-hq/helios/pkg/adapters"
)

// Outcome scripts one invocation of the mock.
type Outcome struct {
	Response *adapters.Response
	Err      error

	// Deltas, when set, scripts a StreamChat call instead.
	Deltas []adapters.Delta

	// StreamErr fails StreamChat before any delta is produced.
	StreamErr error
}

// Mock is a scripted adapter. Outcomes are consumed in order; when the
// script runs out the last outcome repeats. The zero value succeeds with
// an empty response.
type Mock struct {
	Slug string

	mu       sync.Mutex
	outcomes []Outcome
	calls    int
}

// NewMock creates a mock provider adapter.
func NewMock(slug string, outcomes ...Outcome) *Mock {
	return &Mock{Slug: slug, outcomes: outcomes}
}

// Calls reports how many chat/stream/embeddings invocations happened.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *Mock) next() Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.outcomes) == 0 {
		return Outcome{Response: &adapters.Response{FinishReason: adapters.FinishReasonStop}}
	}
	idx := m.calls - 1
	if idx >= len(m.outcomes) {
		idx = len(m.outcomes) - 1
	}
	return m.outcomes[idx]
}

// Chat implements adapters.Adapter.
func (m *Mock) Chat(ctx context.Context, req *adapters.Request) (*adapters.Response, error) {
	out := m.next()
	if out.Err != nil {
		return nil, out.Err
	}
	resp := out.Response
	if resp == nil {
		resp = &adapters.Response{
			Model:        req.Model,
			Content:      "ok",
			FinishReason: adapters.FinishReasonStop,
		}
	}
	return resp, nil
}

// StreamChat implements adapters.Adapter.
func (m *Mock) StreamChat(ctx context.Context, req *adapters.Request) (<-chan adapters.Delta, error) {
	out := m.next()
	if out.StreamErr != nil {
		return nil, out.StreamErr
	}

	deltas := out.Deltas
	if len(deltas) == 0 {
		deltas = []adapters.Delta{
			{Content: "ok"},
			{FinishReason: adapters.FinishReasonStop},
		}
	}

	ch := make(chan adapters.Delta, len(deltas))
	for _, d := range deltas {
		ch <- d
	}
	close(ch)
	return ch, nil
}

// Embeddings implements adapters.Adapter.
func (m *Mock) Embeddings(ctx context.Context, req *adapters.EmbeddingsRequest) (*adapters.EmbeddingsResponse, error) {
	out := m.next()
	if out.Err != nil {
		return nil, out.Err
	}
	vectors := make([][]float64, len(req.Input))
	for i := range vectors {
		vectors[i] = []float64{0.1, 0.2, 0.3}
	}
	return &adapters.EmbeddingsResponse{
		Model:   req.Model,
		Vectors: vectors,
		Usage:   adapters.TokenUsage{PromptTokens: len(req.Input), TotalTokens: len(req.Input)},
	}, nil
}

// TestConnection implements adapters.Adapter.
func (m *Mock) TestConnection(ctx context.Context) *adapters.ConnectionResult {
	return &adapters.ConnectionResult{Success: true, Message: "mock"}
}

// ValidateConfig implements adapters.Adapter.
func (m *Mock) ValidateConfig() *adapters.ValidationResult {
	return &adapters.ValidationResult{Valid: true}
}

// Name implements adapters.Adapter.
func (m *Mock) Name() string { return m.Slug }

// Type implements adapters.Adapter.
func (m *Mock) Type() string { return "mock" }

// Close implements adapters.Adapter.
func (m *Mock) Close() error { return nil }
