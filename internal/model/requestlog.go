package model

import "time"

// RequestLogEntry is an immutable record of one gateway invocation. Exactly
// one entry is written per invocation, after completion, carrying the
// outcome and duration.
type RequestLogEntry struct {
	ID         int64     `json:"id" db:"id"`
	UserID     string    `json:"user_id" db:"user_id"`
	Method     string    `json:"method" db:"method"`
	ToolName   string    `json:"tool_name,omitempty" db:"tool_name"`
	Success    bool      `json:"success" db:"success"`
	DurationMs int64     `json:"duration_ms" db:"duration_ms"`
	Error      string    `json:"error,omitempty" db:"error"`
	Origin     string    `json:"origin,omitempty" db:"origin"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// RecentRequest is a RequestLogEntry joined with minimal user display info
// for the dashboard's activity feed.
type RecentRequest struct {
	RequestLogEntry
	UserName  string `json:"user_name" db:"user_name"`
	UserEmail string `json:"user_email" db:"user_email"`
}

// DashboardTotals are the simple entity counts shown on the admin dashboard.
type DashboardTotals struct {
	TotalUsers     int64 `json:"total_users"`
	ActiveAPIKeys  int64 `json:"active_api_keys"`
	ConnectedUsers int64 `json:"connected_users"` // users with credentials configured
	TotalRequests  int64 `json:"total_requests"`
}

// Analytics summarizes gateway traffic over a trailing time window.
// SuccessRate is defined as 0 when the window holds no requests.
type Analytics struct {
	WindowDays    int              `json:"window_days"`
	TotalRequests int64            `json:"total_requests"`
	SuccessRate   float64          `json:"success_rate"`
	ToolsUsage    map[string]int64 `json:"tools_usage"`
}
