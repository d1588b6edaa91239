package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"token-warden/internal/common/logging"
	"token-warden/internal/notify"
)

// HandleCallback completes the authorization-code flow: the provider
// redirects here with a code, which is exchanged and stored as the new
// active token.
func (h *Handlers) HandleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "validation",
			Message: "missing code query parameter",
		})
		return
	}

	payload, err := h.provider.Exchange(r.Context(), code)
	if err != nil {
		h.writeError(w, err)
		return
	}

	rec, err := h.tokens.Create(r.Context(), payload)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.Info("authorization completed",
		logging.Field{Key: "token_id", Value: rec.ID})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "authorized",
		"token_id": rec.ID,
	})
}

// HandleAuthorize hands the operator the provider URL that starts a new
// authorization flow.
func (h *Handlers) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	authURL, err := h.provider.AuthorizationURL(uuid.NewString())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"authorization_url": authURL})
}

// HealthCheck reports store and provider-circuit health.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	overall := "ok"
	storeStatus := "ok"
	if err := h.store.Health(); err != nil {
		status = http.StatusServiceUnavailable
		overall = "degraded"
		storeStatus = err.Error()
	}

	writeJSON(w, status, map[string]string{
		"status":           overall,
		"store":            storeStatus,
		"provider_circuit": h.provider.BreakerState(),
	})
}

// tokenInfo is the sanitized view of the active record. Token values
// never leave the service through this endpoint.
type tokenInfo struct {
	ID            string    `json:"id"`
	TokenType     string    `json:"token_type"`
	Scope         string    `json:"scope,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	LastUsed      time.Time `json:"last_used"`
	ExpiresIn     int       `json:"expires_in"`
	ExpiresAt     time.Time `json:"refresh_window_closes_at"`
	DaysRemaining int       `json:"days_remaining"`
	HasRefresh    bool      `json:"has_refresh_token"`
}

// HandleTokenInfo returns metadata about the active token.
func (h *Handlers) HandleTokenInfo(w http.ResponseWriter, r *http.Request) {
	rec, err := h.tokens.Active(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if rec == nil {
		h.writeAuthorizationRequired(w)
		return
	}

	writeJSON(w, http.StatusOK, tokenInfo{
		ID:            rec.ID,
		TokenType:     rec.TokenType,
		Scope:         rec.Scope,
		CreatedAt:     rec.CreatedAt,
		LastUsed:      rec.LastUsed,
		ExpiresIn:     rec.ExpiresIn,
		ExpiresAt:     rec.CreatedAt.UTC().Add(notify.RefreshTokenLifetime),
		DaysRemaining: notify.DaysRemaining(rec.CreatedAt, h.tokens.Now()),
		HasRefresh:    rec.RefreshToken != "",
	})
}

// HandleDeleteTokens purges every stored token record.
func (h *Handlers) HandleDeleteTokens(w http.ResponseWriter, r *http.Request) {
	n, err := h.tokens.DeleteAll(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

// HandleProxy forwards a request to the provider's resource API with the
// managed credential attached. A provider 401 invalidates the token and
// tells the caller to re-authorize.
func (h *Handlers) HandleProxy(w http.ResponseWriter, r *http.Request) {
	resource := mux.Vars(r)["resource"]

	rec, err := h.tokens.Active(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if rec == nil {
		h.writeAuthorizationRequired(w)
		return
	}

	resp, err := h.provider.CallAPI(r.Context(), http.MethodGet, resource, rec.AccessToken)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if resp.StatusCode == http.StatusUnauthorized {
		h.tokens.MarkInvalid(r.Context(), rec, "rejected_by_provider", string(resp.Body))
		h.writeAuthorizationRequired(w)
		return
	}

	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(resp.Body); err != nil && err != io.ErrShortWrite {
		h.logger.Warn("failed to write proxied response", logging.Err(err))
	}
}
