package logging

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	modelKey     contextKey = "model"
	providerKey  contextKey = "provider"
)

// WithRequestID stamps a request ID onto the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request ID from the context, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithModel stamps the public model id onto the context.
func WithModel(ctx context.Context, model string) context.Context {
	return context.WithValue(ctx, modelKey, model)
}

// Model returns the public model id from the context, or "".
func Model(ctx context.Context) string {
	m, _ := ctx.Value(modelKey).(string)
	return m
}

// WithProvider stamps the provider slug onto the context.
func WithProvider(ctx context.Context, provider string) context.Context {
	return context.WithValue(ctx, providerKey, provider)
}

// Provider returns the provider slug from the context, or "".
func Provider(ctx context.Context) string {
	p, _ := ctx.Value(providerKey).(string)
	return p
}

// FromContext returns a logger carrying whatever request fields the
// context holds. Handlers call this once and pass the result down.
func FromContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	logger := base
	if id := RequestID(ctx); id != "" {
		logger = logger.With("request_id", id)
	}
	if m := Model(ctx); m != "" {
		logger = logger.With("model", m)
	}
	if p := Provider(ctx); p != "" {
		logger = logger.With("provider", p)
	}
	return logger
}
