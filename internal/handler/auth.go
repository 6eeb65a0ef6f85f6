package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/tracklist/internal/auth"
	"github.com/dukerupert/tracklist/internal/middleware"
	"github.com/dukerupert/tracklist/internal/model"
)

type AuthHandler struct {
	accounts *auth.Accounts
	issuer   *auth.TokenIssuer
	logger   *slog.Logger
}

func NewAuthHandler(accounts *auth.Accounts, issuer *auth.TokenIssuer, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{accounts: accounts, issuer: issuer, logger: logger}
}

type loginResponse struct {
	Success bool        `json:"success"`
	Token   string      `json:"token,omitempty"`
	User    *model.User `json:"user,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, loginResponse{Error: "invalid JSON"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, loginResponse{Error: "Username and password required"})
		return
	}

	acct, err := h.accounts.Authenticate(req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		h.logger.Info("login failed", "username", req.Username, "remote", middleware.RealIP(r))
		writeJSON(w, http.StatusUnauthorized, loginResponse{Error: "Invalid credentials"})
		return
	}
	if err != nil {
		h.logger.Error("login", "error", err)
		writeJSON(w, http.StatusInternalServerError, loginResponse{Error: "Server error during login"})
		return
	}

	token, err := h.issuer.Generate(acct)
	if err != nil {
		h.logger.Error("issue token", "error", err)
		writeJSON(w, http.StatusInternalServerError, loginResponse{Error: "Server error during login"})
		return
	}

	h.logger.Info("login", "username", acct.Username, "demo", acct.IsDemo)
	writeJSON(w, http.StatusOK, loginResponse{
		Success: true,
		Token:   token,
		User:    &model.User{Username: acct.Username, IsDemo: acct.IsDemo},
	})
}

// Verify reports whether the bearer token is still valid. It is public so
// clients can check a stored token without tripping the auth middleware.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	token := middleware.BearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]bool{"valid": false})
		return
	}

	ac, err := h.issuer.Verify(token)
	if err != nil {
		writeJSON(w, http.StatusForbidden, map[string]bool{"valid": false})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"valid": true,
		"user":  model.User{Username: ac.Username, IsDemo: ac.IsDemo},
	})
}
