// Package httpapi implements the HTTP-client adapter variant. It issues
// OpenAI-shaped requests against a configured base URL, retries transient
// status codes with exponential backoff, and maps vendor error bodies to
// the gateway error taxonomy.
package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"helios-hq/helios/pkg/adapters"
	"helios-hq/helios/pkg/registry"
)

const (
	// DefaultTimeout bounds one HTTP exchange when unconfigured.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries bounds transient-status retries inside the adapter.
	DefaultMaxRetries = 2
)

// client wraps the pooled HTTP client with retry and auth handling shared
// by the chat, streaming, and embeddings paths.
type client struct {
	slug        string
	config      registry.HTTPConfig
	credentials map[string]string
	http        *http.Client
}

func newClient(p *registry.Provider) *client {
	cfg := *p.HTTP
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	transport := &http.Transport{
		MaxIdleConns:        32,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	return &client{
		slug:        p.Slug,
		config:      cfg,
		credentials: p.Credentials,
		http: &http.Client{
			Transport: transport,
			// No client-level timeout: it would cut streaming bodies off.
			// Deadlines come from the request context.
		},
	}
}

// do performs one HTTP exchange with bounded retries on transient status
// codes (429, 5xx) and network errors. A Retry-After value from the last
// 429 replaces the exponential backoff for the next attempt. On success
// the caller owns resp.Body.
func (c *client) do(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &adapters.AdapterError{
			Kind:      adapters.KindInvalidRequest,
			Provider:  c.slug,
			Message:   "failed to encode request",
			Retryable: false,
			Cause:     err,
		}
	}

	var lastErr error
	var retryAfter time.Duration
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			if retryAfter > 0 {
				backoff = retryAfter
			}
			slog.Debug("retrying provider request",
				"provider", c.slug,
				"attempt", attempt,
				"backoff", backoff,
			)
			select {
			case <-ctx.Done():
				return nil, c.contextError(ctx)
			case <-time.After(backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, adapters.NewTransportError(c.slug, err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range c.config.Headers {
			req.Header.Set(k, v)
		}
		if err := c.applyAuth(req); err != nil {
			return nil, err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, c.contextError(ctx)
			}
			lastErr = adapters.NewTransportError(c.slug, err)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		mapped := c.mapStatus(resp.StatusCode, errBody, resp.Header)
		if !isTransientStatus(resp.StatusCode) {
			return nil, mapped
		}
		lastErr = mapped
		retryAfter = 0
		var ae *adapters.AdapterError
		if errors.As(mapped, &ae) {
			retryAfter = ae.RetryAfter
		}
	}

	return nil, lastErr
}

// withTimeout bounds one complete exchange by the configured timeout.
func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.config.Timeout)
}

// contextError distinguishes the caller's deadline from cancellation. It
// inspects the cancellation cause so a setup timer armed with
// WithCancelCause still reports as a timeout.
func (c *client) contextError(ctx context.Context) error {
	if errors.Is(context.Cause(ctx), context.DeadlineExceeded) {
		return adapters.NewTimeoutError(c.slug, c.config.Timeout)
	}
	return &adapters.AdapterError{
		Kind:      adapters.KindCanceled,
		Provider:  c.slug,
		Message:   "request canceled",
		Retryable: false,
		Cause:     context.Cause(ctx),
	}
}

// vendorError is the error envelope most OpenAI-compatible vendors return.
type vendorError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// mapStatus converts a non-2xx vendor response to the adapter taxonomy.
func (c *client) mapStatus(status int, body []byte, header http.Header) error {
	message := fmt.Sprintf("provider returned status %d", status)
	var ve vendorError
	if err := json.Unmarshal(body, &ve); err == nil && ve.Error.Message != "" {
		message = ve.Error.Message
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &adapters.AdapterError{
			Kind:      adapters.KindAuth,
			Provider:  c.slug,
			Message:   message,
			Retryable: false,
		}
	case status == http.StatusTooManyRequests:
		return &adapters.AdapterError{
			Kind:       adapters.KindRateLimit,
			Provider:   c.slug,
			Message:    message,
			Retryable:  true,
			RetryAfter: parseRetryAfter(header.Get("Retry-After")),
		}
	case status >= 500:
		return &adapters.AdapterError{
			Kind:      adapters.KindTransport,
			Provider:  c.slug,
			Message:   message,
			Retryable: true,
		}
	default:
		return &adapters.AdapterError{
			Kind:      adapters.KindInvalidRequest,
			Provider:  c.slug,
			Message:   message,
			Retryable: false,
		}
	}
}

// applyAuth sets the configured authentication on a request.
func (c *client) applyAuth(req *http.Request) error {
	cred := func(key string) string { return c.credentials[key] }

	switch c.config.Auth {
	case registry.AuthNone, "":
		return nil

	case registry.AuthAPIKey:
		header := c.config.AuthHeader
		if header == "" {
			header = "Authorization"
		}
		key := cred("api_key")
		if key == "" {
			return c.missingCredential("api_key")
		}
		req.Header.Set(header, key)

	case registry.AuthBearer, registry.AuthOAuth:
		token := cred("token")
		if token == "" {
			token = cred("api_key")
		}
		if token == "" {
			return c.missingCredential("token")
		}
		req.Header.Set("Authorization", "Bearer "+token)

	case registry.AuthBasic:
		user, pass := cred("username"), cred("password")
		if user == "" {
			return c.missingCredential("username")
		}
		raw := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
		req.Header.Set("Authorization", "Basic "+raw)

	default:
		return &adapters.AdapterError{
			Kind:      adapters.KindInvalidRequest,
			Provider:  c.slug,
			Message:   fmt.Sprintf("unsupported auth mode %q", c.config.Auth),
			Retryable: false,
		}
	}
	return nil
}

func (c *client) missingCredential(key string) error {
	return &adapters.AdapterError{
		Kind:      adapters.KindAuth,
		Provider:  c.slug,
		Message:   fmt.Sprintf("credential %q is not configured", key),
		Retryable: false,
	}
}

func isTransientStatus(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}

// parseRetryAfter parses the Retry-After header value. It supports both
// delay-seconds and HTTP-date formats.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}

	var seconds int
	if _, err := fmt.Sscanf(header, "%d", &seconds); err == nil {
		return time.Duration(seconds) * time.Second
	}

	if t, err := http.ParseTime(header); err == nil {
		return time.Until(t)
	}

	return 0
}
