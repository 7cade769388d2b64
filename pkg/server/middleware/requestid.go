// Package middleware holds the HTTP middleware chain applied to every
// gateway route.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"helios-hq/helios/pkg/telemetry/logging"
)

// RequestIDHeader carries the request id on both request and response.
const RequestIDHeader = "X-Request-ID"

// RequestID stamps a request id onto the context and response headers.
// A client-provided X-Request-ID is honored so callers can correlate
// retries across systems.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		ctx := logging.WithRequestID(r.Context(), id)
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
