package spawn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"helios-hq/helios/pkg/adapters"
	"helios-hq/helios/pkg/registry"
)

// DefaultTimeout is the wall-clock limit for one invocation when the
// provider does not configure one.
const DefaultTimeout = 60 * time.Second

// Adapter executes chat and embedding requests by spawning the configured
// command per request. The subprocess protocol is JSON on stdin, JSON on
// stdout; exit code != 0 or unparsable output is a retryable failure.
type Adapter struct {
	slug     string
	config   registry.SpawnConfig
	executor Executor
	timeout  time.Duration
}

// New creates a spawn adapter for a provider record.
func New(p *registry.Provider) (*Adapter, error) {
	if p.Spawn == nil {
		return nil, fmt.Errorf("provider %q has no spawn configuration", p.Slug)
	}
	cfg := *p.Spawn

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var executor Executor
	if cfg.Sandbox {
		if cfg.SandboxImage == "" {
			return nil, fmt.Errorf("provider %q enables sandbox without an image", p.Slug)
		}
		executor = newSandboxExecutor(cfg.SandboxRuntime, cfg.SandboxImage, cfg.Command, cfg.Args, cfg.Env, cfg.MemoryLimitMB, cfg.CPULimit)
	} else {
		executor = newDirectExecutor(cfg.Command, cfg.Args, cfg.Env)
	}

	return &Adapter{
		slug:     p.Slug,
		config:   cfg,
		executor: executor,
		timeout:  timeout,
	}, nil
}

// wireRequest is the JSON document written to the child's stdin.
type wireRequest struct {
	Operation string              `json:"operation"`
	Model     string              `json:"model"`
	Messages  []adapters.Message  `json:"messages,omitempty"`
	Input     []string            `json:"input,omitempty"`
	Options   *adapters.Options   `json:"options,omitempty"`
}

// wireResponse is the JSON document expected on the child's stdout.
type wireResponse struct {
	Content      string              `json:"content"`
	FinishReason string              `json:"finish_reason"`
	Vectors      [][]float64         `json:"vectors,omitempty"`
	Usage        adapters.TokenUsage `json:"usage"`
	Error        string              `json:"error,omitempty"`
}

// Chat implements adapters.Adapter.
func (a *Adapter) Chat(ctx context.Context, req *adapters.Request) (*adapters.Response, error) {
	opts := req.Options
	out, err := a.invoke(ctx, &wireRequest{
		Operation: "chat",
		Model:     req.Model,
		Messages:  req.Messages,
		Options:   &opts,
	})
	if err != nil {
		return nil, err
	}

	return &adapters.Response{
		Model:        req.Model,
		Content:      out.Content,
		FinishReason: finishReasonOrStop(out.FinishReason),
		Usage:        out.Usage,
		Created:      time.Now().Unix(),
	}, nil
}

// StreamChat implements adapters.Adapter. The subprocess protocol is
// request/response, so streaming executes the full request and delivers
// the result as a single delta followed by the finish delta.
func (a *Adapter) StreamChat(ctx context.Context, req *adapters.Request) (<-chan adapters.Delta, error) {
	ch := make(chan adapters.Delta, 2)

	go func() {
		defer close(ch)

		resp, err := a.Chat(ctx, req)
		if err != nil {
			select {
			case ch <- adapters.Delta{Err: err}:
			case <-ctx.Done():
			}
			return
		}

		usage := resp.Usage
		select {
		case ch <- adapters.Delta{Content: resp.Content}:
		case <-ctx.Done():
			return
		}
		select {
		case ch <- adapters.Delta{FinishReason: resp.FinishReason, Usage: &usage}:
		case <-ctx.Done():
		}
	}()

	return ch, nil
}

// Embeddings implements adapters.Adapter.
func (a *Adapter) Embeddings(ctx context.Context, req *adapters.EmbeddingsRequest) (*adapters.EmbeddingsResponse, error) {
	out, err := a.invoke(ctx, &wireRequest{
		Operation: "embeddings",
		Model:     req.Model,
		Input:     req.Input,
	})
	if err != nil {
		return nil, err
	}
	if len(out.Vectors) == 0 {
		return nil, adapters.NewBadOutputError(a.slug, errors.New("embeddings response carried no vectors"))
	}

	return &adapters.EmbeddingsResponse{
		Model:   req.Model,
		Vectors: out.Vectors,
		Usage:   out.Usage,
	}, nil
}

// invoke runs one subprocess round trip under the wall-clock timeout.
func (a *Adapter) invoke(ctx context.Context, req *wireRequest) (*wireResponse, error) {
	stdin, err := json.Marshal(req)
	if err != nil {
		return nil, &adapters.AdapterError{
			Kind:      adapters.KindInvalidRequest,
			Provider:  a.slug,
			Message:   "failed to encode subprocess request",
			Retryable: false,
			Cause:     err,
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, err := a.executor.Run(runCtx, stdin)
	elapsed := time.Since(start)

	if err != nil {
		return nil, a.classifyRunError(ctx, runCtx, err, stderr)
	}

	slog.Debug("subprocess completed",
		"provider", a.slug,
		"command", a.executor.Describe(),
		"duration_ms", elapsed.Milliseconds(),
	)

	return a.parseOutput(stdout)
}

func (a *Adapter) classifyRunError(ctx, runCtx context.Context, err error, stderr []byte) error {
	// Caller cancellation is not a provider failure.
	if ctx.Err() != nil {
		return &adapters.AdapterError{
			Kind:      adapters.KindCanceled,
			Provider:  a.slug,
			Message:   "request canceled",
			Retryable: false,
			Cause:     ctx.Err(),
		}
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return adapters.NewTimeoutError(a.slug, a.timeout)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &adapters.AdapterError{
			Kind:      adapters.KindProcessExit,
			Provider:  a.slug,
			Message:   fmt.Sprintf("process exited with code %d: %s", exitErr.ExitCode(), firstLine(stderr)),
			Retryable: true,
			Cause:     err,
		}
	}

	return adapters.NewTransportError(a.slug, err)
}

func (a *Adapter) parseOutput(stdout []byte) (*wireResponse, error) {
	if !utf8.Valid(stdout) {
		return nil, adapters.NewBadOutputError(a.slug, errors.New("output is not valid UTF-8"))
	}

	var out wireResponse
	if err := json.Unmarshal(stdout, &out); err != nil {
		return nil, adapters.NewBadOutputError(a.slug, err)
	}
	if out.Error != "" {
		return nil, &adapters.AdapterError{
			Kind:      adapters.KindTransport,
			Provider:  a.slug,
			Message:   out.Error,
			Retryable: true,
		}
	}
	return &out, nil
}

// TestConnection implements adapters.Adapter. For the direct executor it
// verifies the command resolves on PATH; for the sandbox it verifies the
// runtime binary resolves. It never spawns a full request.
func (a *Adapter) TestConnection(ctx context.Context) *adapters.ConnectionResult {
	probe := a.config.Command
	if a.config.Sandbox {
		probe = a.config.SandboxRuntime
		if probe == "" {
			probe = "docker"
		}
	}

	start := time.Now()
	path, err := exec.LookPath(probe)
	if err != nil {
		return &adapters.ConnectionResult{
			Success: false,
			Message: fmt.Sprintf("command %q not found", probe),
			Latency: time.Since(start),
		}
	}

	return &adapters.ConnectionResult{
		Success: true,
		Message: "command resolved",
		Details: map[string]string{"path": path},
		Latency: time.Since(start),
	}
}

// ValidateConfig implements adapters.Adapter.
func (a *Adapter) ValidateConfig() *adapters.ValidationResult {
	var errs []string
	if a.config.Command == "" {
		errs = append(errs, "command is required")
	}
	if a.config.Sandbox && a.config.SandboxImage == "" {
		errs = append(errs, "sandbox_image is required when sandbox is enabled")
	}
	if a.config.Timeout < 0 {
		errs = append(errs, "timeout must not be negative")
	}
	return &adapters.ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// Name implements adapters.Adapter.
func (a *Adapter) Name() string { return a.slug }

// Type implements adapters.Adapter.
func (a *Adapter) Type() string { return string(registry.AdapterSpawn) }

// Close implements adapters.Adapter. Spawn adapters hold no persistent
// resources.
func (a *Adapter) Close() error { return nil }

func finishReasonOrStop(r string) string {
	if r == "" {
		return adapters.FinishReasonStop
	}
	return r
}

func firstLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const max = 200
	if len(s) > max {
		s = s[:max]
	}
	return s
}
