package handler

import (
	"errors"
	"net/http"

	"github.com/calgate/calgate/internal/service"
)

// SessionHandler serves the login endpoint for the management API.
type SessionHandler struct {
	auth *service.AuthService
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(auth *service.AuthService) *SessionHandler {
	return &SessionHandler{auth: auth}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"session_token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	IsAdmin   bool   `json:"is_admin"`
}

// Login authenticates a user by email and password and returns a JWT
// session token.
// POST /api/v1/session
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	identity, token, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "Authentication error")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		TokenType: "bearer",
		ExpiresIn: int(h.auth.SessionTTL().Seconds()),
		UserID:    identity.UserID,
		Name:      identity.Display,
		IsAdmin:   identity.IsAdmin,
	})
}

// Logout invalidates the current session. Since JWTs are stateless, this is
// a no-op on the server side. Clients should discard their token.
// DELETE /api/v1/session
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Session invalidated",
	})
}
