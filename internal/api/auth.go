package api

import (
	"errors"
	"net/http"

	"github.com/folio-chat/folio/internal/auth"
	"github.com/folio-chat/folio/internal/log"
)

// authHandler serves registration and token issuance, the only routes
// reachable without a bearer token.
type authHandler struct {
	service *auth.Service
	logger  log.Logger
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	Token  string `json:"token"`
}

// register handles POST /api/v1/auth/register.
func (h *authHandler) register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body", h.logger)
		return
	}

	user, token, err := h.service.Register(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidEmail):
		WriteError(w, http.StatusBadRequest, "invalid_email", "a valid email address is required", h.logger)
	case errors.Is(err, auth.ErrWeakPassword):
		WriteError(w, http.StatusBadRequest, "weak_password", "password must be at least 8 characters", h.logger)
	case errors.Is(err, auth.ErrEmailTaken):
		WriteError(w, http.StatusConflict, "email_taken", "email is already registered", h.logger)
	case err != nil:
		h.logger.Error("registering user", "error", err)
		WriteError(w, http.StatusInternalServerError, "register_failed", "failed to register", h.logger)
	default:
		WriteJSON(w, http.StatusCreated, authResponse{UserID: user.ID, Email: user.Email, Token: token}, h.logger)
	}
}

// token handles POST /api/v1/auth/token.
func (h *authHandler) token(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body", h.logger)
		return
	}

	user, token, err := h.service.Login(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		WriteError(w, http.StatusUnauthorized, "invalid_credentials", "email or password is incorrect", h.logger)
	case err != nil:
		h.logger.Error("issuing token", "error", err)
		WriteError(w, http.StatusInternalServerError, "token_failed", "failed to issue token", h.logger)
	default:
		WriteJSON(w, http.StatusOK, authResponse{UserID: user.ID, Email: user.Email, Token: token}, h.logger)
	}
}
