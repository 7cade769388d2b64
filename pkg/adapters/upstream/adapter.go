// Package upstream implements the reverse-proxy adapter variant: requests
// are forwarded largely unmodified to an upstream OpenAI-compatible URL,
// with an optional header whitelist and top-level JSON field renames.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"helios-hq/helios/pkg/adapters"
	"helios-hq/helios/pkg/registry"
)

// DefaultTimeout bounds one proxied exchange when unconfigured.
const DefaultTimeout = 120 * time.Second

// Adapter forwards normalized requests to an upstream gateway.
type Adapter struct {
	slug   string
	config registry.ProxyConfig
	http   *http.Client

	// forward is the lowercase header whitelist
	forward map[string]bool
}

// New creates a proxy adapter for a provider record.
func New(p *registry.Provider) (*Adapter, error) {
	if p.Proxy == nil {
		return nil, fmt.Errorf("provider %q has no proxy configuration", p.Slug)
	}
	cfg := *p.Proxy
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	forward := make(map[string]bool, len(cfg.ForwardHeaders))
	for _, h := range cfg.ForwardHeaders {
		forward[strings.ToLower(h)] = true
	}

	return &Adapter{
		slug:    p.Slug,
		config:  cfg,
		http:    &http.Client{},
		forward: forward,
	}, nil
}

// forwardPayload builds the upstream body: the normalized request as an
// OpenAI-shaped document, with configured field renames applied.
func (a *Adapter) forwardPayload(fields map[string]any) ([]byte, error) {
	for from, to := range a.config.RequestFields {
		if v, ok := fields[from]; ok {
			delete(fields, from)
			fields[to] = v
		}
	}
	return json.Marshal(fields)
}

func (a *Adapter) post(ctx context.Context, path string, fields map[string]any, meta adapters.Meta) (*http.Response, error) {
	body, err := a.forwardPayload(fields)
	if err != nil {
		return nil, adapters.NewTransportError(a.slug, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.UpstreamURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, adapters.NewTransportError(a.slug, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for name := range a.forward {
		if v := meta.Headers.Get(name); v != "" {
			req.Header.Set(name, v)
		}
	}
	// Operator-configured headers win over anything the client sent.
	for k, v := range a.config.SetHeaders {
		req.Header.Set(k, v)
	}
	if meta.RequestID != "" && a.forward["x-request-id"] {
		req.Header.Set("X-Request-ID", meta.RequestID)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, adapters.NewTimeoutError(a.slug, a.config.Timeout)
		}
		if ctx.Err() != nil {
			return nil, &adapters.AdapterError{
				Kind:      adapters.KindCanceled,
				Provider:  a.slug,
				Message:   "request canceled",
				Retryable: false,
				Cause:     ctx.Err(),
			}
		}
		return nil, adapters.NewTransportError(a.slug, err)
	}

	if resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, a.mapStatus(resp.StatusCode, errBody)
	}
	return resp, nil
}

func (a *Adapter) mapStatus(status int, body []byte) error {
	message := fmt.Sprintf("upstream returned status %d", status)
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &adapters.AdapterError{Kind: adapters.KindAuth, Provider: a.slug, Message: message, Retryable: false}
	case status == http.StatusTooManyRequests:
		return &adapters.AdapterError{Kind: adapters.KindRateLimit, Provider: a.slug, Message: message, Retryable: false}
	case status >= 500:
		return &adapters.AdapterError{Kind: adapters.KindTransport, Provider: a.slug, Message: message, Retryable: true}
	default:
		return &adapters.AdapterError{Kind: adapters.KindInvalidRequest, Provider: a.slug, Message: message, Retryable: false}
	}
}

// Chat implements adapters.Adapter.
func (a *Adapter) Chat(ctx context.Context, req *adapters.Request) (*adapters.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	fields := map[string]any{
		"model":    req.Model,
		"messages": req.Messages,
	}
	// Unset options stay out of the body entirely so the upstream applies
	// its own defaults.
	if req.Options.MaxTokens > 0 {
		fields["max_tokens"] = req.Options.MaxTokens
	}
	if req.Options.Temperature > 0 {
		fields["temperature"] = req.Options.Temperature
	}

	resp, err := a.post(callCtx, "/chat/completions", fields, req.Meta)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		ID      string `json:"id"`
		Created int64  `json:"created"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage *adapters.TokenUsage `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, adapters.NewBadOutputError(a.slug, err)
	}
	if len(out.Choices) == 0 {
		return nil, adapters.NewBadOutputError(a.slug, errors.New("upstream response carried no choices"))
	}

	result := &adapters.Response{
		ID:           out.ID,
		Model:        req.Model,
		Content:      out.Choices[0].Message.Content,
		FinishReason: out.Choices[0].FinishReason,
		Created:      out.Created,
	}
	if out.Usage != nil {
		result.Usage = *out.Usage
	}
	if result.FinishReason == "" {
		result.FinishReason = adapters.FinishReasonStop
	}
	return result, nil
}

// StreamChat implements adapters.Adapter. The proxy variant does not
// re-frame upstream SSE streams; streaming requests are declined so the
// resolver only routes them here when the mapping opts in, which proxy
// mappings should not.
func (a *Adapter) StreamChat(ctx context.Context, req *adapters.Request) (<-chan adapters.Delta, error) {
	return nil, adapters.NewCapabilityError(a.slug, "stream_chat")
}

// Embeddings implements adapters.Adapter.
func (a *Adapter) Embeddings(ctx context.Context, req *adapters.EmbeddingsRequest) (*adapters.EmbeddingsResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	resp, err := a.post(callCtx, "/embeddings", map[string]any{
		"model": req.Model,
		"input": req.Input,
	}, req.Meta)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
		Usage *adapters.TokenUsage `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, adapters.NewBadOutputError(a.slug, err)
	}
	if len(out.Data) == 0 {
		return nil, adapters.NewBadOutputError(a.slug, errors.New("upstream response carried no embeddings"))
	}

	vectors := make([][]float64, len(out.Data))
	for i, d := range out.Data {
		vectors[i] = d.Embedding
	}
	result := &adapters.EmbeddingsResponse{Model: req.Model, Vectors: vectors}
	if out.Usage != nil {
		result.Usage = *out.Usage
	}
	return result, nil
}

// TestConnection implements adapters.Adapter.
func (a *Adapter) TestConnection(ctx context.Context) *adapters.ConnectionResult {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, a.config.UpstreamURL+"/models", nil)
	if err != nil {
		return &adapters.ConnectionResult{Success: false, Message: err.Error()}
	}

	start := time.Now()
	resp, err := a.http.Do(req)
	if err != nil {
		return &adapters.ConnectionResult{Success: false, Message: "upstream unreachable", Latency: time.Since(start)}
	}
	resp.Body.Close()

	return &adapters.ConnectionResult{
		Success: true,
		Message: "upstream reachable",
		Details: map[string]string{"status": resp.Status},
		Latency: time.Since(start),
	}
}

// ValidateConfig implements adapters.Adapter.
func (a *Adapter) ValidateConfig() *adapters.ValidationResult {
	var errs []string
	if a.config.UpstreamURL == "" {
		errs = append(errs, "upstream_url is required")
	} else if _, err := url.Parse(a.config.UpstreamURL); err != nil {
		errs = append(errs, "upstream_url is not a valid URL")
	}
	return &adapters.ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// Name implements adapters.Adapter.
func (a *Adapter) Name() string { return a.slug }

// Type implements adapters.Adapter.
func (a *Adapter) Type() string { return string(registry.AdapterProxy) }

// Close implements adapters.Adapter.
func (a *Adapter) Close() error {
	a.http.CloseIdleConnections()
	return nil
}
