package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"helios-hq/helios/pkg/adapters"
	"helios-hq/helios/pkg/registry"
)

func proxyProvider(upstreamURL string, mutate ...func(*registry.ProxyConfig)) *registry.Provider {
	cfg := &registry.ProxyConfig{UpstreamURL: upstreamURL}
	for _, fn := range mutate {
		fn(cfg)
	}
	return &registry.Provider{Slug: "edge", Type: registry.AdapterProxy, Proxy: cfg}
}

func newTestAdapter(t *testing.T, p *registry.Provider) *Adapter {
	t.Helper()
	a, err := New(p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func chatReq() *adapters.Request {
	return &adapters.Request{
		Model:    "edge-gpt4",
		Messages: []adapters.Message{{Role: adapters.RoleUser, Content: "hi"}},
		Options:  adapters.Options{MaxTokens: 64},
		Meta:     adapters.Meta{RequestID: "req-42"},
	}
}

const upstreamChatBody = `{
	"id": "up-1",
	"created": 1700000000,
	"choices": [{"message": {"content": "forwarded"}, "finish_reason": "stop"}],
	"usage": {"prompt_tokens": 2, "completion_tokens": 3, "total_tokens": 5}
}`

func TestChatForwardsToUpstream(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, upstreamChatBody)
	}))
	defer srv.Close()

	a := newTestAdapter(t, proxyProvider(srv.URL))
	resp, err := a.Chat(context.Background(), chatReq())
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if gotPath != "/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody["model"] != "edge-gpt4" {
		t.Errorf("model = %v", gotBody["model"])
	}
	if gotBody["max_tokens"] != float64(64) {
		t.Errorf("max_tokens = %v", gotBody["max_tokens"])
	}
	if resp.Content != "forwarded" || resp.Usage.TotalTokens != 5 {
		t.Errorf("response = %+v", resp)
	}
}

func TestChatAppliesFieldRenames(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, upstreamChatBody)
	}))
	defer srv.Close()

	a := newTestAdapter(t, proxyProvider(srv.URL, func(cfg *registry.ProxyConfig) {
		cfg.RequestFields = map[string]string{"max_tokens": "max_completion_tokens"}
	}))
	if _, err := a.Chat(context.Background(), chatReq()); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if _, present := gotBody["max_tokens"]; present {
		t.Error("renamed field max_tokens still present")
	}
	if gotBody["max_completion_tokens"] != float64(64) {
		t.Errorf("max_completion_tokens = %v", gotBody["max_completion_tokens"])
	}
}

func TestChatOmitsUnsetOptions(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, upstreamChatBody)
	}))
	defer srv.Close()

	a := newTestAdapter(t, proxyProvider(srv.URL))
	req := chatReq()
	req.Options = adapters.Options{}
	if _, err := a.Chat(context.Background(), req); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	// The keys must be absent, not present with a null value.
	if _, present := gotBody["max_tokens"]; present {
		t.Errorf("max_tokens = %v, want the key absent", gotBody["max_tokens"])
	}
	if _, present := gotBody["temperature"]; present {
		t.Errorf("temperature = %v, want the key absent", gotBody["temperature"])
	}
}

func TestChatForwardsWhitelistedHeaders(t *testing.T) {
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		fmt.Fprint(w, upstreamChatBody)
	}))
	defer srv.Close()

	a := newTestAdapter(t, proxyProvider(srv.URL, func(cfg *registry.ProxyConfig) {
		cfg.ForwardHeaders = []string{"X-Tenant", "Accept-Language"}
	}))

	req := chatReq()
	req.Meta.Headers = http.Header{}
	req.Meta.Headers.Set("X-Tenant", "acme")
	req.Meta.Headers.Set("Accept-Language", "de")
	req.Meta.Headers.Set("Authorization", "Bearer client-secret")
	if _, err := a.Chat(context.Background(), req); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if got := gotHeaders.Get("X-Tenant"); got != "acme" {
		t.Errorf("X-Tenant = %q, want acme", got)
	}
	if got := gotHeaders.Get("Accept-Language"); got != "de" {
		t.Errorf("Accept-Language = %q, want de", got)
	}
	if got := gotHeaders.Get("Authorization"); got != "" {
		t.Errorf("Authorization = %q forwarded without being whitelisted", got)
	}
}

func TestChatConfiguredHeadersWinOverForwarded(t *testing.T) {
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		fmt.Fprint(w, upstreamChatBody)
	}))
	defer srv.Close()

	a := newTestAdapter(t, proxyProvider(srv.URL, func(cfg *registry.ProxyConfig) {
		cfg.ForwardHeaders = []string{"X-Tenant"}
		cfg.SetHeaders = map[string]string{"X-Tenant": "pinned"}
	}))

	req := chatReq()
	req.Meta.Headers = http.Header{}
	req.Meta.Headers.Set("X-Tenant", "acme")
	if _, err := a.Chat(context.Background(), req); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got := gotHeaders.Get("X-Tenant"); got != "pinned" {
		t.Errorf("X-Tenant = %q, want the configured value to win", got)
	}
}

func TestChatSetsConfiguredHeaders(t *testing.T) {
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		fmt.Fprint(w, upstreamChatBody)
	}))
	defer srv.Close()

	a := newTestAdapter(t, proxyProvider(srv.URL, func(cfg *registry.ProxyConfig) {
		cfg.SetHeaders = map[string]string{"X-Gateway": "helios"}
		cfg.ForwardHeaders = []string{"X-Request-ID"}
	}))
	if _, err := a.Chat(context.Background(), chatReq()); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if got := gotHeaders.Get("X-Gateway"); got != "helios" {
		t.Errorf("X-Gateway = %q", got)
	}
	if got := gotHeaders.Get("X-Request-ID"); got != "req-42" {
		t.Errorf("X-Request-ID = %q, want the request id forwarded", got)
	}
}

func TestChatDoesNotForwardUnlistedHeaders(t *testing.T) {
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		fmt.Fprint(w, upstreamChatBody)
	}))
	defer srv.Close()

	a := newTestAdapter(t, proxyProvider(srv.URL))
	if _, err := a.Chat(context.Background(), chatReq()); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got := gotHeaders.Get("X-Request-ID"); got != "" {
		t.Errorf("X-Request-ID = %q forwarded without being whitelisted", got)
	}
}

func TestChatMapsUpstreamStatus(t *testing.T) {
	tests := []struct {
		status    int
		wantKind  adapters.ErrorKind
		retryable bool
	}{
		{http.StatusUnauthorized, adapters.KindAuth, false},
		{http.StatusForbidden, adapters.KindAuth, false},
		{http.StatusTooManyRequests, adapters.KindRateLimit, false},
		{http.StatusBadRequest, adapters.KindInvalidRequest, false},
		{http.StatusBadGateway, adapters.KindTransport, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"error":{"message":"upstream says no"}}`)
			}))
			defer srv.Close()

			a := newTestAdapter(t, proxyProvider(srv.URL))
			_, err := a.Chat(context.Background(), chatReq())

			var ae *adapters.AdapterError
			if !errors.As(err, &ae) {
				t.Fatalf("error = %v, want AdapterError", err)
			}
			if ae.Kind != tt.wantKind || ae.Retryable != tt.retryable {
				t.Errorf("error = %+v, want kind %q retryable %v", ae, tt.wantKind, tt.retryable)
			}
			if ae.Message != "upstream says no" {
				t.Errorf("Message = %q, want the upstream envelope message", ae.Message)
			}
		})
	}
}

func TestStreamChatUnsupported(t *testing.T) {
	a := newTestAdapter(t, proxyProvider("http://example.invalid"))
	_, err := a.StreamChat(context.Background(), chatReq())
	var ae *adapters.AdapterError
	if !errors.As(err, &ae) || ae.Kind != adapters.KindCapability {
		t.Fatalf("error = %v, want capability AdapterError", err)
	}
}

func TestEmbeddings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"data":[{"embedding":[0.5,0.6]}],"usage":{"prompt_tokens":1,"total_tokens":1}}`)
	}))
	defer srv.Close()

	a := newTestAdapter(t, proxyProvider(srv.URL))
	resp, err := a.Embeddings(context.Background(), &adapters.EmbeddingsRequest{
		Model: "edge-embed",
		Input: []string{"one"},
	})
	if err != nil {
		t.Fatalf("Embeddings: %v", err)
	}
	if len(resp.Vectors) != 1 || resp.Vectors[0][1] != 0.6 {
		t.Errorf("Vectors = %v", resp.Vectors)
	}
}

func TestTestConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := newTestAdapter(t, proxyProvider(srv.URL))
	if res := a.TestConnection(context.Background()); !res.Success {
		t.Errorf("TestConnection = %+v", res)
	}

	srv.Close()
	if res := a.TestConnection(context.Background()); res.Success {
		t.Error("TestConnection succeeded against a closed server")
	}
}
