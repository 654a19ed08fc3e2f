package handler

import (
	"errors"
	"net/http"

	"github.com/calgate/calgate/internal/model"
	"github.com/calgate/calgate/internal/server/middleware"
	"github.com/calgate/calgate/internal/service"
)

// CredentialHandler serves the calendar credential endpoints. Credentials are
// write-only through this API: the server never returns a stored secret.
type CredentialHandler struct {
	vault *service.Vault
}

// NewCredentialHandler creates a CredentialHandler.
func NewCredentialHandler(vault *service.Vault) *CredentialHandler {
	return &CredentialHandler{vault: vault}
}

// PutCredentials stores (or replaces) the caller's calendar OAuth client
// credentials.
// PUT /api/v1/credentials
func (h *CredentialHandler) PutCredentials(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	var descriptor model.CredentialDescriptor
	if err := readJSON(r, &descriptor); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if err := h.vault.Store(r.Context(), principal.UserID, descriptor); err != nil {
		if errors.Is(err, service.ErrValidation) {
			writeError(w, http.StatusBadRequest, "client_id and client_secret are required")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to store credentials")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
	})
}

// CredentialStatus reports whether the caller has credentials configured and
// when they were last updated. The credentials themselves are never returned.
// GET /api/v1/credentials/status
func (h *CredentialHandler) CredentialStatus(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	configured, updatedAt, err := h.vault.Status(r.Context(), principal.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read credential status")
		return
	}

	resp := map[string]interface{}{
		"configured": configured,
	}
	if configured {
		resp["updated_at"] = updatedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteCredentials removes the caller's stored credentials.
// DELETE /api/v1/credentials
func (h *CredentialHandler) DeleteCredentials(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	existed, err := h.vault.Delete(r.Context(), principal.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete credentials")
		return
	}
	if !existed {
		writeError(w, http.StatusNotFound, "No credentials configured")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
	})
}
