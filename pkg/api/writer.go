package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// WriteJSON encodes v as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response body", "error", err)
	}
}

// WriteError maps err through the public taxonomy and writes the error
// envelope, stamping the request id for correlation.
func WriteError(w http.ResponseWriter, requestID string, err error) {
	body, status := Classify(err)
	body.RequestID = requestID
	WriteJSON(w, status, &ErrorResponse{Error: body})
}

// SetSSEHeaders prepares the response for a text/event-stream body.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// WriteSSEData writes one `data:` line and flushes it immediately.
func WriteSSEData(w http.ResponseWriter, payload []byte) error {
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

// WriteSSEDone writes the terminating sentinel.
func WriteSSEDone(w http.ResponseWriter) error {
	return WriteSSEData(w, []byte("[DONE]"))
}
