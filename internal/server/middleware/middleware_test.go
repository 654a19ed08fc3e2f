package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/calgate/calgate/internal/model"
	"github.com/calgate/calgate/internal/service"
	"github.com/calgate/calgate/internal/store"
)

func newAuthService(t *testing.T) (*service.AuthService, *model.User) {
	t.Helper()
	st, err := store.New("")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	keys := service.NewKeyService(st, logger)
	auth := service.NewAuthService(st, keys, "middleware-test-secret", time.Hour)

	u := &model.User{Email: "admin@example.com", Name: "Admin", IsActive: true, IsAdmin: true}
	if err := st.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return auth, u
}

func TestAuthenticate(t *testing.T) {
	auth, admin := newAuthService(t)
	token, err := auth.IssueSession(admin.ID, admin.Email)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	var seen *Principal
	handler := Authenticate(auth)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetPrincipal(r.Context())
	}))

	// No credentials.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/keys", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no credentials: status = %d, want 401", rec.Code)
	}

	// Garbage token.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/keys", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", rec.Code)
	}

	// Valid session.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/keys", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token: status = %d, want 200", rec.Code)
	}
	if seen == nil || seen.UserID != admin.ID || !seen.IsAdmin {
		t.Errorf("principal = %+v", seen)
	}
}

func TestRequireAdmin(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	handler := RequireAdmin()(next)

	// Non-admin principal.
	ctx := context.WithValue(context.Background(), AuthPrincipalKey, &Principal{UserID: "u1"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/dashboard/stats", nil).WithContext(ctx))
	if rec.Code != http.StatusForbidden {
		t.Errorf("non-admin: status = %d, want 403", rec.Code)
	}

	// Admin principal.
	ctx = context.WithValue(context.Background(), AuthPrincipalKey, &Principal{UserID: "u1", IsAdmin: true})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/dashboard/stats", nil).WithContext(ctx))
	if rec.Code != http.StatusOK {
		t.Errorf("admin: status = %d, want 200", rec.Code)
	}
}

func TestRequestID(t *testing.T) {
	var got string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = RequestIDFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if got == "" {
		t.Error("no request ID generated")
	}
	if rec.Header().Get("X-Request-ID") != got {
		t.Error("response header does not match context value")
	}

	// Client-provided IDs are preserved.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "client-id-1")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got != "client-id-1" {
		t.Errorf("request ID = %q, want client-id-1", got)
	}
}
