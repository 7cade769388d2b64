// Package local implements the adapter variant for model servers running
// on the same host or network segment (llama.cpp, vLLM, Ollama and the
// like). It keeps a warm keep-alive connection pool and probes health
// through a dedicated endpoint, optionally over gRPC.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"helios-hq/helios/pkg/adapters"
	"helios-hq/helios/pkg/registry"
)

const (
	// DefaultTimeout bounds one exchange when unconfigured. Local servers
	// running large models on CPU can be slow, so this is generous.
	DefaultTimeout = 300 * time.Second

	// DefaultMaxIdleConns sizes the keep-alive pool when unconfigured.
	DefaultMaxIdleConns = 4

	// DefaultHealthPath is probed when no health_path is configured.
	DefaultHealthPath = "/health"
)

// Adapter talks to a local OpenAI-compatible model server.
type Adapter struct {
	slug   string
	config registry.LocalConfig
	http   *http.Client
}

// New creates a local adapter for a provider record.
func New(p *registry.Provider) (*Adapter, error) {
	if p.Local == nil {
		return nil, fmt.Errorf("provider %q has no local configuration", p.Slug)
	}
	cfg := *p.Local
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = DefaultMaxIdleConns
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = DefaultHealthPath
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConns,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Adapter{
		slug:   p.Slug,
		config: cfg,
		http:   &http.Client{Transport: transport},
	}, nil
}

type chatPayload struct {
	Model       string             `json:"model"`
	Messages    []adapters.Message `json:"messages"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
	Temperature float64            `json:"temperature,omitempty"`
	TopP        float64            `json:"top_p,omitempty"`
	Stop        []string           `json:"stop,omitempty"`
}

type chatResult struct {
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

func (a *Adapter) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, adapters.NewTransportError(a.slug, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.URL+path, bytes.NewReader(body))
	if err != nil {
		return nil, adapters.NewTransportError(a.slug, err)
	}
	req.Header.Set("Content-Type", "application/json")

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
		resp.Body.Close()
		if resp.StatusCode >= 500 {
			return nil, &adapters.AdapterError{
				Kind:      adapters.KindTransport,
				Provider:  a.slug,
				Message:   fmt.Sprintf("model server returned status %d", resp.StatusCode),
				Retryable: true,
			}
		}
		return nil, &adapters.AdapterError{
			Kind:      adapters.KindInvalidRequest,
			Provider:  a.slug,
			Message:   fmt.Sprintf("model server rejected the request with status %d", resp.StatusCode),
			Retryable: false,
		}
	}
	return resp, nil
}

// Chat implements adapters.Adapter.
func (a *Adapter) Chat(ctx context.Context, req *adapters.Request) (*adapters.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	resp, err := a.post(callCtx, "/v1/chat/completions", &chatPayload{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.Options.MaxTokens,
		Temperature: req.Options.Temperature,
		TopP:        req.Options.TopP,
		Stop:        req.Options.Stop,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out chatResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, adapters.NewBadOutputError(a.slug, err)
	}
	if len(out.Choices) == 0 {
		return nil, adapters.NewBadOutputError(a.slug, errors.New("response carried no choices"))
	}

	result := &adapters.Response{
		ID:           out.ID,
		Model:        req.Model,
		Content:      out.Choices[0].Message.Content,
		FinishReason: out.Choices[0].FinishReason,
		Created:      out.Created,
	}
	if result.FinishReason == "" {
		result.FinishReason = adapters.FinishReasonStop
	}
	if result.Created == 0 {
		result.Created = time.Now().Unix()
	}
	if out.Usage != nil {
		result.Usage = *out.Usage
	}
	return result, nil
}

// StreamChat implements adapters.Adapter. Local servers are on a fast
// link, so the full response is generated and delivered as a single
// content delta followed by a finish delta.
func (a *Adapter) StreamChat(ctx context.Context, req *adapters.Request) (<-chan adapters.Delta, error) {
	resp, err := a.Chat(ctx, req)
	if err != nil {
		return nil, err
	}

	ch := make(chan adapters.Delta, 2)
	ch <- adapters.Delta{Content: resp.Content}
	ch <- adapters.Delta{FinishReason: resp.FinishReason, Usage: &resp.Usage}
	close(ch)
	return ch, nil
}

// Embeddings implements adapters.Adapter.
func (a *Adapter) Embeddings(ctx context.Context, req *adapters.EmbeddingsRequest) (*adapters.EmbeddingsResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	resp, err := a.post(callCtx, "/v1/embeddings", map[string]any{
		"model": req.Model,
		"input": req.Input,
	})
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
		return nil, adapters.NewBadOutputError(a.slug, errors.New("response carried no embeddings"))
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

// TestConnection implements adapters.Adapter. When a gRPC target is
// configured the standard health service is consulted; otherwise the
// HTTP health path is probed.
func (a *Adapter) TestConnection(ctx context.Context) *adapters.ConnectionResult {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if a.config.GRPCTarget != "" {
		return a.probeGRPC(probeCtx)
	}
	return a.probeHTTP(probeCtx)
}

func (a *Adapter) probeHTTP(ctx context.Context) *adapters.ConnectionResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.config.URL+a.config.HealthPath, nil)
	if err != nil {
		return &adapters.ConnectionResult{Success: false, Message: err.Error()}
	}

	start := time.Now()
	resp, err := a.http.Do(req)
	if err != nil {
		return &adapters.ConnectionResult{Success: false, Message: "model server unreachable", Latency: time.Since(start)}
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &adapters.ConnectionResult{
			Success: false,
			Message: fmt.Sprintf("health endpoint returned status %d", resp.StatusCode),
			Latency: time.Since(start),
		}
	}
	return &adapters.ConnectionResult{
		Success: true,
		Message: "model server healthy",
		Details: map[string]string{"probe": "http", "path": a.config.HealthPath},
		Latency: time.Since(start),
	}
}

func (a *Adapter) probeGRPC(ctx context.Context) *adapters.ConnectionResult {
	start := time.Now()
	conn, err := grpc.NewClient(a.config.GRPCTarget, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return &adapters.ConnectionResult{Success: false, Message: err.Error()}
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return &adapters.ConnectionResult{Success: false, Message: "grpc health check failed", Latency: time.Since(start)}
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return &adapters.ConnectionResult{
			Success: false,
			Message: fmt.Sprintf("grpc health status %s", resp.GetStatus()),
			Latency: time.Since(start),
		}
	}
	return &adapters.ConnectionResult{
		Success: true,
		Message: "model server healthy",
		Details: map[string]string{"probe": "grpc", "target": a.config.GRPCTarget},
		Latency: time.Since(start),
	}
}

// ValidateConfig implements adapters.Adapter.
func (a *Adapter) ValidateConfig() *adapters.ValidationResult {
	var errs []string
	if a.config.URL == "" {
		errs = append(errs, "url is required")
	} else if !strings.HasPrefix(a.config.URL, "http://") && !strings.HasPrefix(a.config.URL, "https://") {
		errs = append(errs, "url must be an http or https URL")
	}
	return &adapters.ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// Name implements adapters.Adapter.
func (a *Adapter) Name() string { return a.slug }

// Type implements adapters.Adapter.
func (a *Adapter) Type() string { return string(registry.AdapterLocal) }

// Close implements adapters.Adapter.
func (a *Adapter) Close() error {
	a.http.CloseIdleConnections()
	return nil
}
