package server

import (
	"context"
	"net/http"
	"time"

	"helios-hq/helios/pkg/api"
	"helios-hq/helios/pkg/telemetry/logging"
)

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	list, err := s.orchestrator.AvailableModels(r.Context())
	if err != nil {
		api.WriteError(w, logging.RequestID(r.Context()), err)
		return
	}
	api.WriteJSON(w, http.StatusOK, list)
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	requestID := logging.RequestID(r.Context())

	req, err := api.ParseChatRequest(r)
	if err != nil {
		api.WriteError(w, requestID, err)
		return
	}

	if req.Stream {
		// The translator owns the response from here; errors before the
		// first byte still go out as a regular JSON envelope.
		if err := s.orchestrator.HandleChatStream(r.Context(), w, req, requestID); err != nil {
			if r.Context().Err() == nil {
				api.WriteError(w, requestID, err)
			}
		}
		return
	}

	resp, err := s.orchestrator.HandleChatCompletion(r.Context(), req, requestID)
	if err != nil {
		api.WriteError(w, requestID, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	requestID := logging.RequestID(r.Context())

	req, err := api.ParseEmbeddingsRequest(r)
	if err != nil {
		api.WriteError(w, requestID, err)
		return
	}

	resp, err := s.orchestrator.HandleEmbeddings(r.Context(), req, requestID)
	if err != nil {
		api.WriteError(w, requestID, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

// handleReady reports ready once the provider store answers. A gateway
// with zero providers is still ready; it just serves model_not_found.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	providers, err := s.store.List(ctx)
	if err != nil {
		api.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"error":  "provider store is not responding",
		})
		return
	}

	enabled := 0
	for _, p := range providers {
		if p.Enabled {
			enabled++
		}
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"status":            "ready",
		"providers":         len(providers),
		"providers_enabled": enabled,
	})
}
