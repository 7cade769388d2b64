package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"helios-hq/helios/pkg/adapters"
	"helios-hq/helios/pkg/registry"
)

// Adapter executes requests against an OpenAI-compatible vendor API.
type Adapter struct {
	slug   string
	client *client
}

// New creates an HTTP adapter for a provider record.
func New(p *registry.Provider) (*Adapter, error) {
	if p.HTTP == nil {
		return nil, fmt.Errorf("provider %q has no http configuration", p.Slug)
	}
	return &Adapter{slug: p.Slug, client: newClient(p)}, nil
}

// Vendor wire shapes. These match the OpenAI chat/embeddings API, which
// is the lingua franca of the backends this variant targets.

type chatPayload struct {
	Model       string             `json:"model"`
	Messages    []adapters.Message `json:"messages"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
	Temperature float64            `json:"temperature,omitempty"`
	TopP        float64            `json:"top_p,omitempty"`
	Stop        []string           `json:"stop,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type chatResult struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *adapters.TokenUsage `json:"usage"`
}

type embeddingsPayload struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResult struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string               `json:"model"`
	Usage *adapters.TokenUsage `json:"usage"`
}

func (a *Adapter) chatPath() string {
	if a.client.config.ChatPath != "" {
		return a.client.config.ChatPath
	}
	return "/chat/completions"
}

func (a *Adapter) embeddingsPath() string {
	if a.client.config.EmbeddingsPath != "" {
		return a.client.config.EmbeddingsPath
	}
	return "/embeddings"
}

// Chat implements adapters.Adapter.
func (a *Adapter) Chat(ctx context.Context, req *adapters.Request) (*adapters.Response, error) {
	ctx, cancel := a.client.withTimeout(ctx)
	defer cancel()

	resp, err := a.client.do(ctx, a.chatPath(), &chatPayload{
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

// StreamChat implements adapters.Adapter. It reads the vendor's SSE stream
// and forwards one delta per data line until `[DONE]` or an error.
func (a *Adapter) StreamChat(ctx context.Context, req *adapters.Request) (<-chan adapters.Delta, error) {
	// The configured timeout bounds the exchange setup only. A deadline on
	// the full context would cut long streams off mid-body, so a one-shot
	// timer cancels the exchange if headers have not arrived in time and
	// is disarmed the moment they do.
	ctx, cancel := context.WithCancelCause(ctx)
	setup := time.AfterFunc(a.client.config.Timeout, func() {
		cancel(context.DeadlineExceeded)
	})

	resp, err := a.client.do(ctx, a.chatPath(), &chatPayload{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.Options.MaxTokens,
		Temperature: req.Options.Temperature,
		TopP:        req.Options.TopP,
		Stop:        req.Options.Stop,
		Stream:      true,
	})
	setup.Stop()
	if err != nil {
		cancel(nil)
		return nil, err
	}

	ch := make(chan adapters.Delta)
	go func() {
		defer cancel(nil)
		defer close(ch)
		defer resp.Body.Close()
		a.pumpStream(ctx, resp.Body, ch)
	}()
	return ch, nil
}

// pumpStream parses SSE lines into deltas. A finish-reason delta is always
// the last one delivered on success; a failure delivers a Delta with Err.
func (a *Adapter) pumpStream(ctx context.Context, body io.Reader, ch chan<- adapters.Delta) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	finished := false
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			if !finished {
				a.send(ctx, ch, adapters.Delta{FinishReason: adapters.FinishReasonStop})
			}
			return
		}

		var chunk chatResult
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			a.send(ctx, ch, adapters.Delta{Err: adapters.NewBadOutputError(a.slug, err)})
			return
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := adapters.Delta{
			Content:      chunk.Choices[0].Delta.Content,
			FinishReason: chunk.Choices[0].FinishReason,
			Usage:        chunk.Usage,
		}
		if delta.FinishReason != "" {
			finished = true
		}
		if !a.send(ctx, ch, delta) {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		a.send(ctx, ch, adapters.Delta{Err: adapters.NewTransportError(a.slug, err)})
		return
	}
	if !finished {
		// Upstream closed without [DONE]; treat as a truncated stream.
		a.send(ctx, ch, adapters.Delta{Err: adapters.NewTransportError(a.slug, errors.New("stream ended without a finish reason"))})
	}
}

func (a *Adapter) send(ctx context.Context, ch chan<- adapters.Delta, d adapters.Delta) bool {
	select {
	case ch <- d:
		return true
	case <-ctx.Done():
		return false
	}
}

// Embeddings implements adapters.Adapter.
func (a *Adapter) Embeddings(ctx context.Context, req *adapters.EmbeddingsRequest) (*adapters.EmbeddingsResponse, error) {
	ctx, cancel := a.client.withTimeout(ctx)
	defer cancel()

	resp, err := a.client.do(ctx, a.embeddingsPath(), &embeddingsPayload{
		Model: req.Model,
		Input: req.Input,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out embeddingsResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, adapters.NewBadOutputError(a.slug, err)
	}
	if len(out.Data) == 0 {
		return nil, adapters.NewBadOutputError(a.slug, errors.New("response carried no embeddings"))
	}

	vectors := make([][]float64, len(out.Data))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, adapters.NewBadOutputError(a.slug, fmt.Errorf("embedding index %d out of range", d.Index))
		}
		vectors[d.Index] = d.Embedding
	}

	result := &adapters.EmbeddingsResponse{Model: req.Model, Vectors: vectors}
	if out.Usage != nil {
		result.Usage = *out.Usage
	}
	return result, nil
}

// TestConnection implements adapters.Adapter. It issues a GET against the
// base URL and treats any HTTP response, even an error status, as proof of
// liveness; only transport failures report unhealthy.
func (a *Adapter) TestConnection(ctx context.Context) *adapters.ConnectionResult {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, a.client.config.BaseURL+"/models", nil)
	if err != nil {
		return &adapters.ConnectionResult{Success: false, Message: err.Error()}
	}
	if err := a.client.applyAuth(req); err != nil {
		return &adapters.ConnectionResult{Success: false, Message: "credentials not configured"}
	}

	start := time.Now()
	resp, err := a.client.http.Do(req)
	if err != nil {
		return &adapters.ConnectionResult{
			Success: false,
			Message: "backend unreachable",
			Latency: time.Since(start),
		}
	}
	resp.Body.Close()

	return &adapters.ConnectionResult{
		Success: true,
		Message: "backend reachable",
		Details: map[string]string{"status": resp.Status},
		Latency: time.Since(start),
	}
}

// ValidateConfig implements adapters.Adapter.
func (a *Adapter) ValidateConfig() *adapters.ValidationResult {
	cfg := a.client.config
	var errs []string
	if cfg.BaseURL == "" {
		errs = append(errs, "base_url is required")
	} else if !strings.HasPrefix(cfg.BaseURL, "http://") && !strings.HasPrefix(cfg.BaseURL, "https://") {
		errs = append(errs, "base_url must be an http or https URL")
	}
	switch cfg.Auth {
	case registry.AuthNone, registry.AuthAPIKey, registry.AuthBearer, registry.AuthBasic, registry.AuthOAuth, "":
	default:
		errs = append(errs, fmt.Sprintf("unsupported auth mode %q", cfg.Auth))
	}
	return &adapters.ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// Name implements adapters.Adapter.
func (a *Adapter) Name() string { return a.slug }

// Type implements adapters.Adapter.
func (a *Adapter) Type() string { return string(registry.AdapterHTTP) }

// Close implements adapters.Adapter.
func (a *Adapter) Close() error {
	a.client.http.CloseIdleConnections()
	return nil
}
