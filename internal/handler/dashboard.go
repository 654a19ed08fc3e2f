package handler

import (
	"net/http"

	"github.com/calgate/calgate/internal/model"
	"github.com/calgate/calgate/internal/service"
)

// DashboardHandler serves the admin-only analytics endpoints.
type DashboardHandler struct {
	analytics *service.Analytics
}

// NewDashboardHandler creates a DashboardHandler.
func NewDashboardHandler(analytics *service.Analytics) *DashboardHandler {
	return &DashboardHandler{analytics: analytics}
}

// Stats returns entity counts across the whole deployment.
// GET /api/v1/dashboard/stats
func (h *DashboardHandler) Stats(w http.ResponseWriter, r *http.Request) {
	totals, err := h.analytics.DashboardTotals(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute dashboard stats")
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

// Analytics returns traffic aggregates over a trailing window.
// GET /api/v1/dashboard/analytics?days=N
func (h *DashboardHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 0)

	window, err := h.analytics.Window(r.Context(), days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute analytics")
		return
	}
	writeJSON(w, http.StatusOK, window)
}

// Requests returns the most recent gateway invocations, newest first.
// GET /api/v1/dashboard/requests?limit=N
func (h *DashboardHandler) Requests(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 0)

	entries, err := h.analytics.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list recent requests")
		return
	}

	resources := make([]map[string]interface{}, 0, len(entries))
	for i := range entries {
		resources = append(resources, recentRequestToMap(&entries[i]))
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: resources,
		Meta: &model.ResponseMeta{
			Count: len(resources),
		},
	})
}

func recentRequestToMap(e *model.RecentRequest) map[string]interface{} {
	return map[string]interface{}{
		"id":          e.ID,
		"user_id":     e.UserID,
		"user_name":   e.UserName,
		"user_email":  e.UserEmail,
		"method":      e.Method,
		"tool_name":   e.ToolName,
		"success":     e.Success,
		"duration_ms": e.DurationMs,
		"error":       e.Error,
		"origin":      e.Origin,
		"created_at":  e.CreatedAt,
	}
}
