package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/calgate/calgate/internal/model"
	"github.com/calgate/calgate/internal/server/middleware"
	"github.com/calgate/calgate/internal/service"
)

// KeyHandler serves the self-service API key endpoints. Every operation is
// scoped to the authenticated caller; there is no cross-user key access.
type KeyHandler struct {
	keys *service.KeyService
}

// NewKeyHandler creates a KeyHandler.
func NewKeyHandler(keys *service.KeyService) *KeyHandler {
	return &KeyHandler{keys: keys}
}

// CreateKey generates a new API key for the caller. The response carries the
// plaintext key; this is the ONLY time it is visible.
// POST /api/v1/keys
func (h *KeyHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	gen, err := h.keys.Generate(r.Context(), principal.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to generate key")
		return
	}

	writeJSON(w, http.StatusCreated, gen)
}

// ListKeys returns the caller's API keys, newest first, previews only.
// GET /api/v1/keys
func (h *KeyHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	keys, err := h.keys.ListForUser(r.Context(), principal.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list keys")
		return
	}

	resources := make([]map[string]interface{}, 0, len(keys))
	for i := range keys {
		resources = append(resources, apiKeyToMap(&keys[i]))
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: resources,
		Meta: &model.ResponseMeta{
			Count: len(resources),
		},
	})
}

// RevokeKey deactivates one of the caller's API keys. Keys owned by other
// users are reported as not found, never as forbidden.
// DELETE /api/v1/keys/{keyId}
func (h *KeyHandler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	idStr := chi.URLParam(r, "keyId")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid key ID: "+idStr)
		return
	}

	ok, err := h.keys.Revoke(r.Context(), id, principal.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to revoke key")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "API key not found: "+idStr)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"id":      id,
	})
}

// apiKeyToMap flattens an APIKey for the list envelope. The key hash never
// leaves the server.
func apiKeyToMap(k *model.APIKey) map[string]interface{} {
	return map[string]interface{}{
		"id":          k.ID,
		"key_preview": k.KeyPreview,
		"is_active":   k.IsActive,
		"created_at":  k.CreatedAt,
		"last_used":   k.LastUsed,
		"usage_count": k.UsageCount,
	}
}
