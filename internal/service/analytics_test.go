package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/calgate/calgate/internal/model"
)

func TestAnalyticsEmptyWindow(t *testing.T) {
	st := newTestStore(t)
	analytics := NewAnalytics(st)

	got, err := analytics.Window(context.Background(), 7)
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if got.TotalRequests != 0 {
		t.Errorf("TotalRequests = %d, want 0", got.TotalRequests)
	}
	if got.SuccessRate != 0 {
		t.Errorf("SuccessRate = %v, want 0 (not NaN) for empty window", got.SuccessRate)
	}
	if len(got.ToolsUsage) != 0 {
		t.Errorf("ToolsUsage = %v, want empty", got.ToolsUsage)
	}
}

func TestAnalyticsWindow(t *testing.T) {
	st := newTestStore(t)
	analytics := NewAnalytics(st)
	ctx := context.Background()
	alice := seedUser(t, st, "alice@example.com")

	now := time.Now().UTC()
	entries := []*model.RequestLogEntry{
		{UserID: alice.ID, Method: "tools/call", ToolName: "get_availability", Success: true, CreatedAt: now.Add(-time.Hour)},
		{UserID: alice.ID, Method: "tools/call", ToolName: "get_availability", Success: true, CreatedAt: now.Add(-2 * time.Hour)},
		{UserID: alice.ID, Method: "tools/call", ToolName: "create_booking", Success: false, CreatedAt: now.Add(-3 * time.Hour)},
		// Outside the 7-day window; must not count.
		{UserID: alice.ID, Method: "tools/call", ToolName: "create_booking", Success: true, CreatedAt: now.AddDate(0, 0, -10)},
	}
	for _, e := range entries {
		if err := st.InsertRequestLog(ctx, e); err != nil {
			t.Fatalf("InsertRequestLog: %v", err)
		}
	}

	got, err := analytics.Window(ctx, 7)
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if got.TotalRequests != 3 {
		t.Errorf("TotalRequests = %d, want 3", got.TotalRequests)
	}
	if want := 2.0 / 3.0; got.SuccessRate != want {
		t.Errorf("SuccessRate = %v, want %v", got.SuccessRate, want)
	}
	if got.ToolsUsage["get_availability"] != 2 || got.ToolsUsage["create_booking"] != 1 {
		t.Errorf("ToolsUsage = %v", got.ToolsUsage)
	}
}

func TestDashboardTotals(t *testing.T) {
	st := newTestStore(t)
	keys := NewKeyService(st, slog.New(slog.NewTextHandler(io.Discard, nil)))
	analytics := NewAnalytics(st)
	ctx := context.Background()

	alice := seedUser(t, st, "alice@example.com")
	bob := seedUser(t, st, "bob@example.com")

	gen, err := keys.Generate(ctx, alice.ID)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := keys.Generate(ctx, bob.ID); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := keys.Revoke(ctx, gen.ID, alice.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	if err := st.UpsertCredential(ctx, alice.ID, []byte("blob")); err != nil {
		t.Fatalf("UpsertCredential: %v", err)
	}
	if err := st.InsertRequestLog(ctx, &model.RequestLogEntry{UserID: alice.ID, Method: "tools/list", Success: true}); err != nil {
		t.Fatalf("InsertRequestLog: %v", err)
	}

	totals, err := analytics.DashboardTotals(ctx)
	if err != nil {
		t.Fatalf("DashboardTotals: %v", err)
	}
	want := model.DashboardTotals{TotalUsers: 2, ActiveAPIKeys: 1, ConnectedUsers: 1, TotalRequests: 1}
	if *totals != want {
		t.Errorf("totals = %+v, want %+v", *totals, want)
	}
}
