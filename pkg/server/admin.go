package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"helios-hq/helios/pkg/api"
	"helios-hq/helios/pkg/fallback"
	"helios-hq/helios/pkg/registry"
	"helios-hq/helios/pkg/telemetry/logging"
)

// registerAdminRoutes mounts the administrative surface. These operate on
// the same in-process state as live traffic, so changes are visible to
// in-flight requests immediately.
func (s *Server) registerAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /admin/breakers", s.handleListBreakers)
	mux.HandleFunc("GET /admin/breakers/{provider}", s.handleGetBreaker)
	mux.HandleFunc("POST /admin/breakers/{provider}/reset", s.handleResetBreaker)
	mux.HandleFunc("POST /admin/breakers/{provider}/open", s.handleForceOpenBreaker)

	mux.HandleFunc("GET /admin/policies", s.handleListPolicies)
	mux.HandleFunc("GET /admin/policies/{model}", s.handleGetPolicy)
	mux.HandleFunc("PUT /admin/policies/{model}", s.handlePutPolicy)
	mux.HandleFunc("DELETE /admin/policies/{model}", s.handleDeletePolicy)

	mux.HandleFunc("GET /admin/providers", s.handleListProviders)
	mux.HandleFunc("GET /admin/providers/{slug}", s.handleGetProvider)
	mux.HandleFunc("PUT /admin/providers/{slug}/priority", s.handleSetPriority)
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := s.store.List(r.Context())
	if err != nil {
		api.WriteError(w, logging.RequestID(r.Context()), err)
		return
	}
	for _, p := range providers {
		p.Credentials = nil
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"providers": providers})
}

func (s *Server) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	requestID := logging.RequestID(r.Context())
	slug := r.PathValue("slug")

	provider, err := s.store.Get(r.Context(), slug)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			api.WriteError(w, requestID, api.NewInvalidRequestError("provider "+slug+" does not exist"))
			return
		}
		api.WriteError(w, requestID, err)
		return
	}
	// Credentials never leave the process through the admin surface.
	provider.Credentials = nil
	api.WriteJSON(w, http.StatusOK, provider)
}

func (s *Server) handleListBreakers(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]any{"breakers": s.breakers.Snapshots()})
}

func (s *Server) handleGetBreaker(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	api.WriteJSON(w, http.StatusOK, s.breakers.Get(provider).Snapshot())
}

func (s *Server) handleResetBreaker(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	s.breakers.Get(provider).Reset()
	s.logger.InfoContext(r.Context(), "breaker reset via admin", "provider", provider)
	api.WriteJSON(w, http.StatusOK, s.breakers.Get(provider).Snapshot())
}

func (s *Server) handleForceOpenBreaker(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	s.breakers.Get(provider).ForceOpen()
	s.logger.InfoContext(r.Context(), "breaker forced open via admin", "provider", provider)
	api.WriteJSON(w, http.StatusOK, s.breakers.Get(provider).Snapshot())
}

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]any{"policies": s.fallback.Policies()})
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	model := r.PathValue("model")
	api.WriteJSON(w, http.StatusOK, s.fallback.Policy(model))
}

func (s *Server) handlePutPolicy(w http.ResponseWriter, r *http.Request) {
	requestID := logging.RequestID(r.Context())
	model := r.PathValue("model")

	var policy fallback.Policy
	if err := json.NewDecoder(r.Body).Decode(&policy); err != nil {
		api.WriteError(w, requestID, api.NewInvalidRequestError("policy body is not valid JSON: "+err.Error()))
		return
	}
	policy.Model = model

	if err := s.fallback.SetPolicy(policy); err != nil {
		api.WriteError(w, requestID, api.NewInvalidRequestError(err.Error()))
		return
	}
	s.logger.InfoContext(r.Context(), "fallback policy updated via admin",
		"model", model, "strategy", string(policy.Strategy))
	api.WriteJSON(w, http.StatusOK, s.fallback.Policy(model))
}

func (s *Server) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	model := r.PathValue("model")
	s.fallback.DeletePolicy(model)
	s.logger.InfoContext(r.Context(), "fallback policy deleted via admin", "model", model)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetPriority(w http.ResponseWriter, r *http.Request) {
	requestID := logging.RequestID(r.Context())
	slug := r.PathValue("slug")

	var body struct {
		Priority int `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.WriteError(w, requestID, api.NewInvalidRequestError("priority body is not valid JSON: "+err.Error()))
		return
	}

	provider, err := s.store.Get(r.Context(), slug)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			api.WriteError(w, requestID, api.NewInvalidRequestError("provider "+slug+" does not exist"))
			return
		}
		api.WriteError(w, requestID, err)
		return
	}

	provider.Priority = body.Priority
	if err := s.store.Put(r.Context(), provider); err != nil {
		api.WriteError(w, requestID, err)
		return
	}
	s.logger.InfoContext(r.Context(), "provider priority updated via admin",
		"provider", slug, "priority", body.Priority)
	provider.Credentials = nil
	api.WriteJSON(w, http.StatusOK, provider)
}
