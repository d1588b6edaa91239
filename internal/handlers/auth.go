package handlers

import (
	"encoding/json"
	"net/http"

	"token-warden/internal/common/errors"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	Username  string `json:"username"`
	IsDefault bool   `json:"is_default"`
}

// HandleLogin exchanges operator credentials for an admin API token.
func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.Validation("invalid request body"))
		return
	}
	if req.Username == "" || req.Password == "" {
		h.writeError(w, errors.Validation("username and password are required"))
		return
	}

	tokenString, user, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     tokenString,
		Username:  user.Username,
		IsDefault: user.IsDefault,
	})
}
