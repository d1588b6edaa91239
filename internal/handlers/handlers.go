// Package handlers exposes the HTTP surface: the authorization flow, the
// admin API, and the provider proxy.
package handlers

import (
	"encoding/json"
	"net/http"

	"token-warden/internal/auth"
	"token-warden/internal/common/errors"
	"token-warden/internal/common/logging"
	"token-warden/internal/config"
	"token-warden/internal/notify"
	"token-warden/internal/provider"
	"token-warden/internal/store"
	"token-warden/internal/token"
)

type Handlers struct {
	config    *config.Config
	store     store.Store
	tokens    *token.Manager
	scheduler *notify.Scheduler
	provider  *provider.Client
	auth      *auth.Auth
	logger    logging.Logger
}

func New(cfg *config.Config, st store.Store, tokens *token.Manager, scheduler *notify.Scheduler, prov *provider.Client, authService *auth.Auth, logger logging.Logger) *Handlers {
	return &Handlers{
		config:    cfg,
		store:     st,
		tokens:    tokens,
		scheduler: scheduler,
		provider:  prov,
		auth:      authService,
		logger:    logger.WithFields(logging.Field{Key: "component", Value: "http"}),
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

type errorResponse struct {
	Error            string `json:"error"`
	Message          string `json:"message,omitempty"`
	AuthorizationURL string `json:"authorization_url,omitempty"`
}

// writeError maps the error taxonomy onto HTTP status codes.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal"

	switch errors.KindOf(err) {
	case errors.KindValidation:
		status, code = http.StatusBadRequest, "validation"
	case errors.KindNotFound:
		status, code = http.StatusNotFound, "not_found"
	case errors.KindAuth:
		status, code = http.StatusUnauthorized, "authentication"
	case errors.KindConfiguration:
		status, code = http.StatusServiceUnavailable, "configuration"
	case errors.KindStoreUnavailable:
		status, code = http.StatusServiceUnavailable, "store_unavailable"
	case errors.KindProviderRejected:
		status, code = http.StatusBadGateway, "provider_rejected"
	case errors.KindProviderTransient, errors.KindConnection:
		status, code = http.StatusBadGateway, "provider_unavailable"
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", err)
	}
	writeJSON(w, status, errorResponse{Error: code, Message: err.Error()})
}

func (h *Handlers) writeAuthorizationRequired(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, errorResponse{
		Error:            "authorization_required",
		AuthorizationURL: h.config.AuthorizeURL(),
	})
}
