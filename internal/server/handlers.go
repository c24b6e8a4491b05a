package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/nortal/cmz-chatbots/internal/analytics"
	"github.com/nortal/cmz-chatbots/internal/guardrails"
	"github.com/nortal/cmz-chatbots/internal/otel"
	"github.com/nortal/cmz-chatbots/internal/profile"
	"github.com/nortal/cmz-chatbots/internal/requestctx"
	"github.com/nortal/cmz-chatbots/internal/validator"
)

const internalMessage = "An internal error occurred. Please retry."

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	}
	if r.URL.Query().Get("detail") == "true" {
		components := map[string]string{
			"validator": "ok",
		}
		if s.resolver == nil {
			components["guardrails"] = "disabled"
		} else if _, err := s.resolver.Resolve(r.Context(), guardrails.Scope{}); err != nil {
			components["guardrails"] = "missing_default"
		} else {
			components["guardrails"] = "ok"
		}
		if s.analytics == nil {
			components["analytics"] = "disabled"
		} else {
			components["analytics"] = "ok"
		}
		if s.profiles == nil {
			components["context"] = "disabled"
		} else {
			components["context"] = "ok"
		}
		resp["components"] = components
	}
	writeJSON(w, http.StatusOK, resp)
}

type validateRequest struct {
	Content string            `json:"content"`
	Context validator.Context `json:"context"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "content is required")
		return
	}
	out, err := s.validator.Validate(r.Context(), req.Content, req.Context)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, out)
	case errors.Is(err, validator.ErrEmptyContent):
		writeError(w, http.StatusBadRequest, "invalid_request", "content is required")
	case errors.Is(err, guardrails.ErrConfigurationMissing):
		writeError(w, http.StatusServiceUnavailable, "configuration_missing", "No active guardrails configuration for this conversation")
	default:
		s.internalError(w, r, "validate_failed", err)
	}
}

func (s *Server) handleEffectiveness(w http.ResponseWriter, r *http.Request) {
	if s.analytics == nil {
		writeError(w, http.StatusServiceUnavailable, "analytics_disabled", "Analytics is not enabled")
		return
	}
	window, err := analytics.ParseWindow(r.URL.Query().Get("window"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_window", err.Error())
		return
	}
	detail := r.URL.Query().Get("detail") == "true"
	eff, err := s.analytics.Effectiveness(r.Context(), chi.URLParam(r, "rule_id"), window, detail)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, eff)
	case errors.Is(err, analytics.ErrRuleRequired):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		s.internalError(w, r, "effectiveness_failed", err)
	}
}

func (s *Server) handleGuardrailsCreate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "invalid_request", "request body too large")
		return
	}
	doc, err := guardrails.ParseDocument(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_document", err.Error())
		return
	}
	cfg, err := s.guardrails.Create(r.Context(), doc, requestctx.Actor(r.Context()))
	if err != nil {
		if errors.Is(err, guardrails.ErrInvalidDocument) {
			writeError(w, http.StatusBadRequest, "invalid_document", err.Error())
			return
		}
		s.internalError(w, r, "guardrails_create_failed", err)
		return
	}
	if s.resolver != nil {
		s.resolver.Invalidate()
	}
	writeJSON(w, http.StatusCreated, cfg)
}

func (s *Server) handleGuardrailsActive(w http.ResponseWriter, r *http.Request) {
	if s.resolver == nil {
		writeError(w, http.StatusServiceUnavailable, "guardrails_disabled", "Guardrails lookup is not enabled")
		return
	}
	scope := guardrails.Scope{
		AgeGroup: r.URL.Query().Get("age_group"),
		AnimalID: r.URL.Query().Get("animal_id"),
	}
	cfg, err := s.resolver.Resolve(r.Context(), scope)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, cfg)
	case errors.Is(err, guardrails.ErrConfigurationMissing):
		writeError(w, http.StatusNotFound, "configuration_missing", "No active guardrails configuration for this scope")
	default:
		s.internalError(w, r, "guardrails_active_failed", err)
	}
}

func (s *Server) handleGuardrailsVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.guardrails.Versions(r.Context(), chi.URLParam(r, "config_id"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]interface{}{"versions": versions})
	case errors.Is(err, guardrails.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "config not found")
	default:
		s.internalError(w, r, "guardrails_versions_failed", err)
	}
}

func (s *Server) handleContextGet(w http.ResponseWriter, r *http.Request) {
	if !s.profilesEnabled(w) {
		return
	}
	p, err := s.profiles.Get(r.Context(), chi.URLParam(r, "user_id"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, p)
	case errors.Is(err, profile.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "context not found")
	default:
		s.internalError(w, r, "context_get_failed", err)
	}
}

func (s *Server) handleContextArchives(w http.ResponseWriter, r *http.Request) {
	if !s.profilesEnabled(w) {
		return
	}
	archives, err := s.profiles.Archives(r.Context(), chi.URLParam(r, "user_id"))
	if err != nil {
		s.internalError(w, r, "context_archives_failed", err)
		return
	}
	if archives == nil {
		archives = []profile.Archive{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"archives": archives})
}

func (s *Server) handleContextDelete(w http.ResponseWriter, r *http.Request) {
	if !s.profilesEnabled(w) {
		return
	}
	userID := chi.URLParam(r, "user_id")
	n, err := s.profiles.Delete(r.Context(), userID)
	if err != nil {
		s.internalError(w, r, "context_delete_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user_id": userID, "deleted_rows": n})
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	if !s.profilesEnabled(w) {
		return
	}
	var turn profile.Turn
	if !decodeBody(w, r, &turn) {
		return
	}
	writeJSON(w, http.StatusAccepted, s.profiles.ProcessTurn(r.Context(), turn))
}

func (s *Server) profilesEnabled(w http.ResponseWriter) bool {
	if s.profiles == nil {
		writeError(w, http.StatusServiceUnavailable, "context_disabled", "Context personalization is not enabled")
		return false
	}
	return true
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, event string, err error) {
	log.Error().Err(err).
		Str("request_id", requestctx.RequestID(r.Context())).
		Str("tenant_id", requestctx.TenantID(r.Context())).
		Func(otel.LogTraceFields(r.Context())).
		Msg(event)
	writeError(w, http.StatusInternalServerError, "internal_error", internalMessage)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return false
	}
	return true
}
