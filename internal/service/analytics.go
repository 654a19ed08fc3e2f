package service

import (
	"context"
	"time"

	"github.com/calgate/calgate/internal/model"
	"github.com/calgate/calgate/internal/store"
)

const (
	defaultAnalyticsDays = 7
	maxAnalyticsDays     = 90
	defaultRecentLimit   = 20
	maxRecentLimit       = 200
)

// Analytics exposes the read-side aggregations consumed by the dashboard.
type Analytics struct {
	store *store.Store
}

// NewAnalytics creates an Analytics service.
func NewAnalytics(st *store.Store) *Analytics {
	return &Analytics{store: st}
}

// DashboardTotals returns the entity counts shown on the admin dashboard.
func (a *Analytics) DashboardTotals(ctx context.Context) (*model.DashboardTotals, error) {
	users, err := a.store.CountUsers(ctx)
	if err != nil {
		return nil, err
	}
	keys, err := a.store.CountActiveAPIKeys(ctx)
	if err != nil {
		return nil, err
	}
	creds, err := a.store.CountCredentials(ctx)
	if err != nil {
		return nil, err
	}
	requests, err := a.store.CountRequestLogs(ctx)
	if err != nil {
		return nil, err
	}

	return &model.DashboardTotals{
		TotalUsers:     users,
		ActiveAPIKeys:  keys,
		ConnectedUsers: creds,
		TotalRequests:  requests,
	}, nil
}

// Window summarizes gateway traffic over the trailing number of days.
// An empty window reports a success rate of 0, not an error.
func (a *Analytics) Window(ctx context.Context, days int) (*model.Analytics, error) {
	days = clamp(days, 1, maxAnalyticsDays, defaultAnalyticsDays)
	since := time.Now().UTC().AddDate(0, 0, -days)

	total, success, err := a.store.RequestTotalsSince(ctx, since)
	if err != nil {
		return nil, err
	}

	usage, err := a.store.ToolUsageSince(ctx, since)
	if err != nil {
		return nil, err
	}

	rate := 0.0
	if total > 0 {
		rate = float64(success) / float64(total)
	}

	return &model.Analytics{
		WindowDays:    days,
		TotalRequests: total,
		SuccessRate:   rate,
		ToolsUsage:    usage,
	}, nil
}

// Recent returns the n most recent gateway invocations, newest first, with
// user display info joined in.
func (a *Analytics) Recent(ctx context.Context, n int) ([]model.RecentRequest, error) {
	n = clamp(n, 1, maxRecentLimit, defaultRecentLimit)
	return a.store.RecentRequests(ctx, n)
}

// clamp constrains val to [min, max], substituting def when val is unset.
func clamp(val, min, max, def int) int {
	if val == 0 {
		return def
	}
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
