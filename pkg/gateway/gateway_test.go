package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"helios-hq/helios/internal/adaptertest"
	"helios-hq/helios/pkg/adapters"
	"helios-hq/helios/pkg/api"
	"helios-hq/helios/pkg/breaker"
	"helios-hq/helios/pkg/fallback"
	"helios-hq/helios/pkg/registry"
	"helios-hq/helios/pkg/resolver"
)

// mockPool maps provider slugs to scripted adapters.
type mockPool struct {
	adapters map[string]*adaptertest.Mock
}

func (p *mockPool) Get(prov *registry.Provider) (adapters.Adapter, error) {
	a, ok := p.adapters[prov.Slug]
	if !ok {
		return nil, fmt.Errorf("no adapter scripted for %q", prov.Slug)
	}
	return a, nil
}

type fixture struct {
	orch     *Orchestrator
	store    registry.Store
	breakers *breaker.Registry
	fb       *fallback.Engine
	pool     *mockPool
}

func newFixture(t *testing.T, mocks ...*adaptertest.Mock) *fixture {
	t.Helper()

	store := registry.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	pool := &mockPool{adapters: make(map[string]*adaptertest.Mock)}
	for i, m := range mocks {
		pool.adapters[m.Slug] = m
		p := &registry.Provider{
			ID:      m.Slug,
			Slug:    m.Slug,
			Type:    registry.AdapterHTTP,
			Enabled: true,
			Models: []registry.ModelMapping{{
				PublicModel:        "gpt-4",
				InternalModel:      m.Slug + "-gpt4",
				SupportsStreaming:  true,
				SupportsEmbeddings: true,
			}},
			HTTP:     &registry.HTTPConfig{BaseURL: "http://example.invalid"},
			Priority: i + 1,
		}
		if err := store.Put(context.Background(), p); err != nil {
			t.Fatalf("Put(%s): %v", m.Slug, err)
		}
	}

	breakers := breaker.NewRegistry(breaker.Settings{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Cooldown:         time.Minute,
	}, nil)

	fb := fallback.NewEngine(true)
	if err := fb.SetPolicy(fallback.Policy{
		Model:       "gpt-4",
		Strategy:    fallback.StrategyPriority,
		MaxAttempts: len(mocks),
		Enabled:     true,
	}); err != nil {
		t.Fatalf("SetPolicy: %v", err)
	}

	orch := New(Options{
		Resolver: resolver.New(store, time.Second),
		Fallback: fb,
		Breakers: breakers,
		Pool:     pool,
	})
	return &fixture{orch: orch, store: store, breakers: breakers, fb: fb, pool: pool}
}

func chatRequest() *api.ChatCompletionRequest {
	return &api.ChatCompletionRequest{
		Model: "gpt-4",
		Messages: []adapters.Message{
			{Role: adapters.RoleUser, Content: "hello"},
		},
	}
}

func TestChatCompletionSuccess(t *testing.T) {
	primary := adaptertest.NewMock("primary", adaptertest.Outcome{
		Response: &adapters.Response{
			Model:        "primary-gpt4",
			Content:      "hi there",
			FinishReason: adapters.FinishReasonStop,
			Usage:        adapters.TokenUsage{PromptTokens: 4, CompletionTokens: 3},
		},
	})
	fx := newFixture(t, primary)

	resp, err := fx.orch.HandleChatCompletion(context.Background(), chatRequest(), "req-1")
	if err != nil {
		t.Fatalf("HandleChatCompletion: %v", err)
	}

	// The internal model id never leaks to the client.
	if resp.Model != "gpt-4" {
		t.Errorf("Model = %q, want gpt-4", resp.Model)
	}
	if !strings.HasPrefix(resp.ID, "chatcmpl-") {
		t.Errorf("ID = %q, want chatcmpl- prefix", resp.ID)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Content != "hi there" {
		t.Errorf("Choices = %+v", resp.Choices)
	}
	if resp.Choices[0].Message.Role != adapters.RoleAssistant {
		t.Errorf("Role = %q, want assistant", resp.Choices[0].Message.Role)
	}
	if resp.Usage.TotalTokens != 7 {
		t.Errorf("TotalTokens = %d, want 7 (computed from prompt+completion)", resp.Usage.TotalTokens)
	}
}

func TestChatCompletionFallsBackOnRetryableFailure(t *testing.T) {
	primary := adaptertest.NewMock("primary", adaptertest.Outcome{
		Err: adapters.NewTransportError("primary", errors.New("connection refused")),
	})
	backup := adaptertest.NewMock("backup", adaptertest.Outcome{
		Response: &adapters.Response{Content: "from backup", FinishReason: adapters.FinishReasonStop},
	})
	fx := newFixture(t, primary, backup)

	resp, err := fx.orch.HandleChatCompletion(context.Background(), chatRequest(), "req-1")
	if err != nil {
		t.Fatalf("HandleChatCompletion: %v", err)
	}
	if resp.Choices[0].Message.Content != "from backup" {
		t.Errorf("Content = %q, want from backup", resp.Choices[0].Message.Content)
	}
	if primary.Calls() != 1 || backup.Calls() != 1 {
		t.Errorf("calls = primary %d, backup %d; want 1 each", primary.Calls(), backup.Calls())
	}
}

func TestChatCompletionTerminalErrorAborts(t *testing.T) {
	primary := adaptertest.NewMock("primary", adaptertest.Outcome{
		Err: &adapters.AdapterError{
			Kind:      adapters.KindInvalidRequest,
			Provider:  "primary",
			Message:   "unknown parameter",
			Retryable: false,
		},
	})
	backup := adaptertest.NewMock("backup")
	fx := newFixture(t, primary, backup)

	_, err := fx.orch.HandleChatCompletion(context.Background(), chatRequest(), "req-1")
	if err == nil {
		t.Fatal("expected the terminal error to surface")
	}
	var ae *adapters.AdapterError
	if !errors.As(err, &ae) || ae.Kind != adapters.KindInvalidRequest {
		t.Fatalf("error = %v, want KindInvalidRequest AdapterError", err)
	}
	if backup.Calls() != 0 {
		t.Errorf("backup was attempted %d times after a terminal failure", backup.Calls())
	}
}

func TestChatCompletionExhaustionReturnsLastError(t *testing.T) {
	primary := adaptertest.NewMock("primary", adaptertest.Outcome{
		Err: adapters.NewTransportError("primary", errors.New("refused")),
	})
	backup := adaptertest.NewMock("backup", adaptertest.Outcome{
		Err: adapters.NewTimeoutError("backup", time.Second),
	})
	fx := newFixture(t, primary, backup)

	_, err := fx.orch.HandleChatCompletion(context.Background(), chatRequest(), "req-1")
	var ae *adapters.AdapterError
	if !errors.As(err, &ae) {
		t.Fatalf("error = %v, want AdapterError", err)
	}
	if ae.Provider != "backup" || ae.Kind != adapters.KindTimeout {
		t.Errorf("last error = %+v, want backup timeout", ae)
	}
}

func TestChatCompletionUnknownModel(t *testing.T) {
	fx := newFixture(t, adaptertest.NewMock("primary"))

	req := chatRequest()
	req.Model = "no-such-model"
	_, err := fx.orch.HandleChatCompletion(context.Background(), req, "req-1")

	var nf *resolver.ModelNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("error = %v, want ModelNotFoundError", err)
	}
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	primary := adaptertest.NewMock("primary", adaptertest.Outcome{
		Err: adapters.NewTransportError("primary", errors.New("refused")),
	})
	fx := newFixture(t, primary)

	// FailureThreshold is 3; each request records one failure.
	for i := 0; i < 3; i++ {
		if _, err := fx.orch.HandleChatCompletion(context.Background(), chatRequest(), "req-1"); err == nil {
			t.Fatalf("request %d unexpectedly succeeded", i)
		}
	}
	if !fx.breakers.IsOpen("primary") {
		t.Fatal("breaker did not open at the failure threshold")
	}

	// attemptWhenAllOpen still forces one attempt through the open
	// breaker's trial path being unavailable, the breaker rejects it.
	calls := primary.Calls()
	if _, err := fx.orch.HandleChatCompletion(context.Background(), chatRequest(), "req-1"); err == nil {
		t.Fatal("request through an open breaker unexpectedly succeeded")
	}
	if primary.Calls() != calls {
		t.Errorf("adapter was invoked while the breaker was open")
	}
}

func TestNonAttributableErrorsDoNotCountAgainstBreaker(t *testing.T) {
	primary := adaptertest.NewMock("primary", adaptertest.Outcome{
		Err: &adapters.AdapterError{
			Kind:      adapters.KindRateLimit,
			Provider:  "primary",
			Message:   "slow down",
			Retryable: true,
		},
	})
	fx := newFixture(t, primary)

	for i := 0; i < 5; i++ {
		fx.orch.HandleChatCompletion(context.Background(), chatRequest(), "req-1")
	}
	if fx.breakers.IsOpen("primary") {
		t.Fatal("rate limit failures opened the breaker")
	}
}

func TestEmbeddingsSuccess(t *testing.T) {
	primary := adaptertest.NewMock("primary")
	fx := newFixture(t, primary)

	resp, err := fx.orch.HandleEmbeddings(context.Background(), &api.EmbeddingsRequest{
		Model: "gpt-4",
		Input: api.EmbeddingText{"one", "two"},
	}, "req-1")
	if err != nil {
		t.Fatalf("HandleEmbeddings: %v", err)
	}

	if resp.Model != "gpt-4" {
		t.Errorf("Model = %q, want gpt-4", resp.Model)
	}
	if len(resp.Data) != 2 {
		t.Fatalf("got %d embeddings, want 2", len(resp.Data))
	}
	for i, e := range resp.Data {
		if e.Index != i {
			t.Errorf("Data[%d].Index = %d", i, e.Index)
		}
		if e.Object != "embedding" {
			t.Errorf("Data[%d].Object = %q", i, e.Object)
		}
	}
}

func TestEmbeddingsSkipsProvidersWithoutCapability(t *testing.T) {
	primary := adaptertest.NewMock("primary")
	backup := adaptertest.NewMock("backup")
	fx := newFixture(t, primary, backup)

	// Primary serves the model but not embeddings.
	p, err := fx.store.Get(context.Background(), "primary")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	p.Models[0].SupportsEmbeddings = false
	if err := fx.store.Put(context.Background(), p); err != nil {
		t.Fatalf("Put: %v", err)
	}

	resp, err := fx.orch.HandleEmbeddings(context.Background(), &api.EmbeddingsRequest{
		Model: "gpt-4",
		Input: api.EmbeddingText{"one"},
	}, "req-1")
	if err != nil {
		t.Fatalf("HandleEmbeddings: %v", err)
	}
	if len(resp.Data) != 1 {
		t.Fatalf("got %d embeddings, want 1", len(resp.Data))
	}
	if primary.Calls() != 0 {
		t.Errorf("primary was invoked despite lacking embeddings support")
	}
	if backup.Calls() != 1 {
		t.Errorf("backup calls = %d, want 1", backup.Calls())
	}
}

func TestAvailableModels(t *testing.T) {
	fx := newFixture(t, adaptertest.NewMock("primary"))

	list, err := fx.orch.AvailableModels(context.Background())
	if err != nil {
		t.Fatalf("AvailableModels: %v", err)
	}
	if list.Object != "list" || len(list.Data) != 1 {
		t.Fatalf("list = %+v", list)
	}
	if list.Data[0].ID != "gpt-4" || list.Data[0].OwnedBy != "primary" {
		t.Errorf("Data[0] = %+v", list.Data[0])
	}
}

func TestChatStreamDeliversSSE(t *testing.T) {
	primary := adaptertest.NewMock("primary", adaptertest.Outcome{
		Deltas: []adapters.Delta{
			{Content: "hel"},
			{Content: "lo"},
			{FinishReason: adapters.FinishReasonStop},
		},
	})
	fx := newFixture(t, primary)

	rec := httptest.NewRecorder()
	req := chatRequest()
	req.Stream = true
	if err := fx.orch.HandleChatStream(context.Background(), rec, req, "req-1"); err != nil {
		t.Fatalf("HandleChatStream: %v", err)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"content":"hel"`) || !strings.Contains(body, `"content":"lo"`) {
		t.Errorf("body missing content chunks:\n%s", body)
	}
	if !strings.Contains(body, `"model":"gpt-4"`) {
		t.Errorf("chunks do not carry the public model id:\n%s", body)
	}
	if !strings.HasSuffix(strings.TrimSpace(body), "data: [DONE]") {
		t.Errorf("stream did not end with the [DONE] sentinel:\n%s", body)
	}
}

func TestChatStreamFallsBackBeforeFirstDelta(t *testing.T) {
	primary := adaptertest.NewMock("primary", adaptertest.Outcome{
		StreamErr: adapters.NewTransportError("primary", errors.New("refused")),
	})
	backup := adaptertest.NewMock("backup", adaptertest.Outcome{
		Deltas: []adapters.Delta{
			{Content: "recovered"},
			{FinishReason: adapters.FinishReasonStop},
		},
	})
	fx := newFixture(t, primary, backup)

	rec := httptest.NewRecorder()
	req := chatRequest()
	req.Stream = true
	if err := fx.orch.HandleChatStream(context.Background(), rec, req, "req-1"); err != nil {
		t.Fatalf("HandleChatStream: %v", err)
	}

	body := rec.Body.String()
	if !strings.Contains(body, `"content":"recovered"`) {
		t.Errorf("fallback stream content missing:\n%s", body)
	}
	if strings.Contains(body, "error") {
		t.Errorf("client saw the primary's failure:\n%s", body)
	}
}

func TestChatStreamMidStreamErrorSurfacesAsChunk(t *testing.T) {
	primary := adaptertest.NewMock("primary", adaptertest.Outcome{
		Deltas: []adapters.Delta{
			{Content: "partial"},
			{Err: adapters.NewTransportError("primary", errors.New("reset"))},
		},
	})
	backup := adaptertest.NewMock("backup")
	fx := newFixture(t, primary, backup)

	rec := httptest.NewRecorder()
	req := chatRequest()
	req.Stream = true
	// Bytes were flushed, so the stream ends here and the handler reports
	// success to the HTTP layer.
	if err := fx.orch.HandleChatStream(context.Background(), rec, req, "req-1"); err != nil {
		t.Fatalf("HandleChatStream: %v", err)
	}

	body := rec.Body.String()
	if !strings.Contains(body, `"content":"partial"`) {
		t.Errorf("partial content missing:\n%s", body)
	}
	if !strings.Contains(body, `"finish_reason":"error"`) {
		t.Errorf("no error-shaped terminal chunk:\n%s", body)
	}
	if backup.Calls() != 0 {
		t.Errorf("fallback ran after bytes were flushed")
	}
}

func TestDeliverStreamReleasesGoroutineOnCancel(t *testing.T) {
	fx := newFixture(t, adaptertest.NewMock("primary"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	before := runtime.NumGoroutine()
	for i := 0; i < 10; i++ {
		// Never closed: only the cancellation can release the merger.
		deltas := make(chan adapters.Delta)
		rec := httptest.NewRecorder()
		fx.orch.deliverStream(ctx, rec, "gpt-4", "req-1", adapters.Delta{Content: "x"}, deltas)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= before {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("goroutines = %d after cancellation, started with %d", runtime.NumGoroutine(), before)
}

// brokenPipeWriter simulates a client that went away: every body write
// fails the way a closed connection would.
type brokenPipeWriter struct {
	*httptest.ResponseRecorder
}

func (w *brokenPipeWriter) Write([]byte) (int, error) {
	return 0, errors.New("write tcp: broken pipe")
}

func TestClientDisconnectDoesNotCountAgainstBreaker(t *testing.T) {
	primary := adaptertest.NewMock("primary")
	fx := newFixture(t, primary)

	// FailureThreshold is 3; every one of these streams dies on the
	// client's side after the first delta was handed over.
	for i := 0; i < 4; i++ {
		rec := &brokenPipeWriter{httptest.NewRecorder()}
		req := chatRequest()
		req.Stream = true
		if err := fx.orch.HandleChatStream(context.Background(), rec, req, "req-1"); err != nil {
			t.Fatalf("HandleChatStream: %v", err)
		}
	}

	if fx.breakers.IsOpen("primary") {
		t.Fatal("client-side write failures opened the provider's breaker")
	}
}

func TestChatStreamNoStreamingCapability(t *testing.T) {
	primary := adaptertest.NewMock("primary")
	fx := newFixture(t, primary)

	p, err := fx.store.Get(context.Background(), "primary")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	p.Models[0].SupportsStreaming = false
	if err := fx.store.Put(context.Background(), p); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rec := httptest.NewRecorder()
	req := chatRequest()
	req.Stream = true
	err = fx.orch.HandleChatStream(context.Background(), rec, req, "req-1")
	if err == nil {
		t.Fatal("expected an error when no candidate supports streaming")
	}
	var ae *adapters.AdapterError
	if !errors.As(err, &ae) || ae.Kind != adapters.KindCapability {
		t.Fatalf("error = %v, want capability AdapterError", err)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("bytes were written before the capability check failed: %q", rec.Body.String())
	}
}

func TestMaxTokensClampedToMapping(t *testing.T) {
	var seen *adapters.Request
	primary := adaptertest.NewMock("primary")
	fx := newFixture(t, primary)

	p, err := fx.store.Get(context.Background(), "primary")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	p.Models[0].MaxTokens = 100
	if err := fx.store.Put(context.Background(), p); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Inspect the request the orchestrator builds directly.
	provider, _ := fx.store.Get(context.Background(), "primary")
	mapping := provider.Models[0]
	a := attempt{candidate: resolver.Candidate{Provider: provider, Mapping: mapping}}

	req := chatRequest()
	req.MaxTokens = 5000
	seen = fx.orch.buildRequest(req, a, "req-1", 1)
	if seen.Options.MaxTokens != 100 {
		t.Errorf("MaxTokens = %d, want clamped to 100", seen.Options.MaxTokens)
	}
	if seen.Model != "primary-gpt4" {
		t.Errorf("Model = %q, want the internal id", seen.Model)
	}
	if seen.Meta.PublicModel != "gpt-4" || seen.Meta.RequestID != "req-1" {
		t.Errorf("Meta = %+v", seen.Meta)
	}

	req.MaxTokens = 50
	seen = fx.orch.buildRequest(req, a, "req-1", 1)
	if seen.Options.MaxTokens != 50 {
		t.Errorf("MaxTokens = %d, want the client's 50 kept", seen.Options.MaxTokens)
	}
}
