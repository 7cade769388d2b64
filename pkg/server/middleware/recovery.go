package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"helios-hq/helios/pkg/api"
	"helios-hq/helios/pkg/telemetry/logging"
)

// Recovery turns handler panics into a 500 error envelope. The stack is
// logged but never exposed to the client.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					requestID := logging.RequestID(r.Context())
					logger.ErrorContext(r.Context(), "panic in handler",
						"error", rec,
						"request_id", requestID,
						"method", r.Method,
						"path", r.URL.Path,
						"stack", string(debug.Stack()),
					)

					api.WriteJSON(w, http.StatusInternalServerError, &api.ErrorResponse{
						Error: api.ErrorBody{
							Message:   "an internal error occurred",
							Type:      api.ErrTypeInternal,
							RequestID: requestID,
						},
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
