package api

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"helios-hq/helios/pkg/adapters"
	"helios-hq/helios/pkg/breaker"
	"helios-hq/helios/pkg/resolver"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
		wantCode   string
	}{
		{
			name:       "request error passes through",
			err:        NewInvalidRequestError("model is required"),
			wantStatus: http.StatusBadRequest,
			wantType:   ErrTypeInvalidRequest,
		},
		{
			name:       "model not found",
			err:        &resolver.ModelNotFoundError{Model: "gpt-9"},
			wantStatus: http.StatusNotFound,
			wantType:   ErrTypeInvalidRequest,
			wantCode:   "model_not_found",
		},
		{
			name:       "circuit open",
			err:        &breaker.OpenError{Provider: "openai", RetryAt: time.Now()},
			wantStatus: http.StatusBadGateway,
			wantType:   ErrTypeInternal,
			wantCode:   "circuit_open",
		},
		{
			name: "auth failure",
			err: &adapters.AdapterError{
				Kind: adapters.KindAuth, Provider: "openai", Message: "bad key",
			},
			wantStatus: http.StatusUnauthorized,
			wantType:   ErrTypeAuthentication,
		},
		{
			name: "rate limit",
			err: &adapters.AdapterError{
				Kind: adapters.KindRateLimit, Provider: "openai", Message: "slow down",
			},
			wantStatus: http.StatusTooManyRequests,
			wantType:   ErrTypeRateLimit,
		},
		{
			name: "invalid request rejected upstream",
			err: &adapters.AdapterError{
				Kind: adapters.KindInvalidRequest, Provider: "openai", Message: "unknown parameter",
			},
			wantStatus: http.StatusBadRequest,
			wantType:   ErrTypeInvalidRequest,
		},
		{
			name:       "unsupported capability",
			err:        adapters.NewCapabilityError("openai", "embeddings"),
			wantStatus: http.StatusBadRequest,
			wantType:   ErrTypeInvalidRequest,
			wantCode:   "unsupported_capability",
		},
		{
			name:       "upstream timeout",
			err:        adapters.NewTimeoutError("openai", 30*time.Second),
			wantStatus: http.StatusGatewayTimeout,
			wantType:   ErrTypeInternal,
			wantCode:   "upstream_timeout",
		},
		{
			name:       "transport failure",
			err:        adapters.NewTransportError("openai", errors.New("refused")),
			wantStatus: http.StatusBadGateway,
			wantType:   ErrTypeInternal,
		},
		{
			name:       "unknown error",
			err:        errors.New("surprise"),
			wantStatus: http.StatusInternalServerError,
			wantType:   ErrTypeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, status := Classify(tt.err)
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
			if body.Type != tt.wantType {
				t.Errorf("type = %q, want %q", body.Type, tt.wantType)
			}
			if body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
			if body.Message == "" {
				t.Error("message is empty")
			}
		})
	}
}

func TestClassifyHidesInternalDetail(t *testing.T) {
	body, _ := Classify(errors.New("dial tcp 10.0.0.1:5432: connection refused"))
	if body.Message != "internal error" {
		t.Errorf("message = %q leaks internal detail", body.Message)
	}
}

func TestClassifyWrappedError(t *testing.T) {
	wrapped := errorsJoin(adapters.NewTimeoutError("openai", time.Second))
	_, status := Classify(wrapped)
	if status != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504 for a wrapped timeout", status)
	}
}

func errorsJoin(err error) error {
	return &wrapper{err}
}

type wrapper struct{ inner error }

func (w *wrapper) Error() string { return "attempt failed: " + w.inner.Error() }
func (w *wrapper) Unwrap() error { return w.inner }
