package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/calgate/calgate/internal/gateway"
	"github.com/calgate/calgate/internal/model"
	"github.com/calgate/calgate/internal/secrets"
	"github.com/calgate/calgate/internal/service"
	"github.com/calgate/calgate/internal/store"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

const (
	testJWTSecret = "test-secret-for-integration-tests"
	testPassword  = "supersecretpassword"
)

// stubExecutor stands in for the upstream calendar API.
type stubExecutor struct {
	calls     int
	lastCreds *model.CredentialDescriptor
	lastName  string
}

func (s *stubExecutor) Execute(
	ctx context.Context,
	creds *model.CredentialDescriptor,
	name string,
	args map[string]interface{},
) (*mcp.CallToolResult, error) {
	s.calls++
	s.lastCreds = creds
	s.lastName = name
	return mcp.NewToolResultText(`{"ok":true}`), nil
}

// testEnv holds all the shared state for integration tests.
type testEnv struct {
	server  *Server
	store   *store.Store
	authSvc *service.AuthService
	keySvc  *service.KeyService
	vault   *service.Vault
	exec    *stubExecutor
}

// newTestEnv creates a fresh test environment with an in-memory store and a
// fully wired Server.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.New("") // in-memory SQLite
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	keySvc := service.NewKeyService(st, logger)
	authSvc := service.NewAuthService(st, keySvc, testJWTSecret, time.Hour)
	box, err := secrets.New("test-encryption-secret")
	if err != nil {
		t.Fatalf("secrets.New: %v", err)
	}
	vault := service.NewVault(st, box)
	analytics := service.NewAnalytics(st)
	exec := &stubExecutor{}
	dispatcher := gateway.New(authSvc, vault, st, exec, logger, "", false)

	cfg := DefaultConfig()
	srv := New(cfg, st, authSvc, keySvc, vault, analytics, dispatcher, logger)

	return &testEnv{
		server:  srv,
		store:   st,
		authSvc: authSvc,
		keySvc:  keySvc,
		vault:   vault,
		exec:    exec,
	}
}

// seedUser creates an active user with the shared test password.
func (e *testEnv) seedUser(t *testing.T, email string, admin bool) *model.User {
	t.Helper()
	hash, err := service.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	u := &model.User{
		Email:        email,
		Name:         "Test User",
		PasswordHash: hash,
		IsActive:     true,
		IsAdmin:      admin,
	}
	if err := e.store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("seedUser: %v", err)
	}
	return u
}

// login authenticates a seeded user and returns the session token.
func (e *testEnv) login(t *testing.T, email string) string {
	t.Helper()
	body := jsonBody(t, map[string]string{
		"email":    email,
		"password": testPassword,
	})
	rr := e.do(t, "POST", "/api/v1/session", body, nil)
	assertStatus(t, rr, http.StatusOK)

	var resp struct {
		Token string `json:"session_token"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Token == "" {
		t.Fatal("login: got empty token")
	}
	return resp.Token
}

// do executes an HTTP request against the test server and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

// doAuth executes a session-authenticated request.
func (e *testEnv) doAuth(t *testing.T, method, path string, body io.Reader, token string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

func jsonBody(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("jsonBody: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Health and documentation
// ---------------------------------------------------------------------------

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/healthz", nil, nil)
	assertStatus(t, rr, http.StatusOK)

	var resp map[string]string
	decodeJSON(t, rr, &resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %q", resp["status"])
	}
}

func TestOpenAPIDocument(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/openapi.json", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), "/mcp") {
		t.Error("document does not describe the protocol endpoint")
	}
}

// ---------------------------------------------------------------------------
// Session
// ---------------------------------------------------------------------------

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice@example.com", false)

	token := env.login(t, "alice@example.com")
	if token == "" {
		t.Fatal("empty token")
	}

	// Wrong password.
	rr := env.do(t, "POST", "/api/v1/session", jsonBody(t, map[string]string{
		"email":    "alice@example.com",
		"password": "wrong",
	}), nil)
	assertStatus(t, rr, http.StatusUnauthorized)

	// Missing fields.
	rr = env.do(t, "POST", "/api/v1/session", jsonBody(t, map[string]string{}), nil)
	assertStatus(t, rr, http.StatusBadRequest)
}

func TestManagementRequiresSession(t *testing.T) {
	env := newTestEnv(t)

	for _, tc := range []struct{ method, path string }{
		{"GET", "/api/v1/keys"},
		{"POST", "/api/v1/keys"},
		{"PUT", "/api/v1/credentials"},
		{"GET", "/api/v1/dashboard/stats"},
	} {
		rr := env.do(t, tc.method, tc.path, nil, nil)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: status = %d, want 401", tc.method, tc.path, rr.Code)
		}
	}
}

// ---------------------------------------------------------------------------
// API key lifecycle
// ---------------------------------------------------------------------------

func TestKeyLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice@example.com", false)
	token := env.login(t, "alice@example.com")

	// Create: raw key visible exactly once.
	rr := env.doAuth(t, "POST", "/api/v1/keys", nil, token)
	assertStatus(t, rr, http.StatusCreated)
	var created struct {
		ID  int64  `json:"id"`
		Key string `json:"api_key"`
	}
	decodeJSON(t, rr, &created)
	if !strings.HasPrefix(created.Key, "cal_") {
		t.Fatalf("api_key = %q", created.Key)
	}

	// List: previews only, raw key never reappears.
	rr = env.doAuth(t, "GET", "/api/v1/keys", nil, token)
	assertStatus(t, rr, http.StatusOK)
	if strings.Contains(rr.Body.String(), created.Key) {
		t.Error("listing leaks the raw key")
	}
	var list struct {
		Resource []map[string]interface{} `json:"resource"`
		Meta     struct {
			Count int `json:"count"`
		} `json:"meta"`
	}
	decodeJSON(t, rr, &list)
	if list.Meta.Count != 1 || len(list.Resource) != 1 {
		t.Fatalf("list = %+v", list)
	}

	// Revoke.
	rr = env.doAuth(t, "DELETE", fmt.Sprintf("/api/v1/keys/%d", created.ID), nil, token)
	assertStatus(t, rr, http.StatusOK)

	// Second revoke reports not found.
	rr = env.doAuth(t, "DELETE", fmt.Sprintf("/api/v1/keys/%d", created.ID), nil, token)
	assertStatus(t, rr, http.StatusNotFound)

	// The revoked key no longer opens the gateway.
	rr = env.do(t, "POST", "/mcp", strings.NewReader(`{"method":"tools/list"}`),
		map[string]string{"X-API-Key": created.Key})
	assertStatus(t, rr, http.StatusForbidden)
}

func TestRevokeOtherUsersKey(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice@example.com", false)
	env.seedUser(t, "mallory@example.com", false)

	gen, err := env.keySvc.Generate(context.Background(), alice.ID)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	malloryToken := env.login(t, "mallory@example.com")
	rr := env.doAuth(t, "DELETE", fmt.Sprintf("/api/v1/keys/%d", gen.ID), nil, malloryToken)
	// Not-owned is indistinguishable from not-found.
	assertStatus(t, rr, http.StatusNotFound)
}

// ---------------------------------------------------------------------------
// Credentials
// ---------------------------------------------------------------------------

func TestCredentialEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice@example.com", false)
	token := env.login(t, "alice@example.com")

	// Missing client_secret rejected.
	rr := env.doAuth(t, "PUT", "/api/v1/credentials", jsonBody(t, map[string]string{
		"client_id": "client-123",
	}), token)
	assertStatus(t, rr, http.StatusBadRequest)

	// Status before configuration.
	rr = env.doAuth(t, "GET", "/api/v1/credentials/status", nil, token)
	assertStatus(t, rr, http.StatusOK)
	var status map[string]interface{}
	decodeJSON(t, rr, &status)
	if status["configured"] != false {
		t.Errorf("configured = %v before store", status["configured"])
	}

	// Store valid credentials.
	rr = env.doAuth(t, "PUT", "/api/v1/credentials", jsonBody(t, map[string]string{
		"client_id":     "client-123",
		"client_secret": "shhh",
	}), token)
	assertStatus(t, rr, http.StatusOK)

	rr = env.doAuth(t, "GET", "/api/v1/credentials/status", nil, token)
	assertStatus(t, rr, http.StatusOK)
	decodeJSON(t, rr, &status)
	if status["configured"] != true {
		t.Errorf("configured = %v after store", status["configured"])
	}
	// The secret itself never comes back.
	if strings.Contains(rr.Body.String(), "shhh") {
		t.Error("status response leaks the client secret")
	}

	// Delete, then a second delete is a 404.
	rr = env.doAuth(t, "DELETE", "/api/v1/credentials", nil, token)
	assertStatus(t, rr, http.StatusOK)
	rr = env.doAuth(t, "DELETE", "/api/v1/credentials", nil, token)
	assertStatus(t, rr, http.StatusNotFound)
}

// ---------------------------------------------------------------------------
// Gateway end to end
// ---------------------------------------------------------------------------

func TestGatewayEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice@example.com", false)
	token := env.login(t, "alice@example.com")

	// Create a key and connect a calendar over the management API.
	rr := env.doAuth(t, "POST", "/api/v1/keys", nil, token)
	assertStatus(t, rr, http.StatusCreated)
	var created struct {
		Key string `json:"api_key"`
	}
	decodeJSON(t, rr, &created)

	rr = env.doAuth(t, "PUT", "/api/v1/credentials", jsonBody(t, map[string]string{
		"client_id":     "client-123",
		"client_secret": "shhh",
	}), token)
	assertStatus(t, rr, http.StatusOK)

	// Invoke a tool through the protocol endpoint.
	rr = env.do(t, "POST", "/mcp",
		strings.NewReader(`{"method":"tools/call","params":{"name":"list_bookings"}}`),
		map[string]string{"X-API-Key": created.Key})
	assertStatus(t, rr, http.StatusOK)

	var resp map[string]interface{}
	decodeJSON(t, rr, &resp)
	meta, ok := resp["_meta"].(map[string]interface{})
	if !ok {
		t.Fatalf("response missing _meta: %v", resp)
	}
	if meta["userId"] != alice.ID || meta["version"] != "2.0" {
		t.Errorf("_meta = %v", meta)
	}

	if env.exec.calls != 1 || env.exec.lastName != "list_bookings" {
		t.Errorf("executor calls = %d, tool = %q", env.exec.calls, env.exec.lastName)
	}
	if env.exec.lastCreds == nil || env.exec.lastCreds.ClientSecret != "shhh" {
		t.Errorf("executor credentials = %+v", env.exec.lastCreds)
	}
}

// ---------------------------------------------------------------------------
// Dashboard
// ---------------------------------------------------------------------------

func TestDashboardRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice@example.com", false)
	env.seedUser(t, "admin@example.com", true)

	aliceToken := env.login(t, "alice@example.com")
	rr := env.doAuth(t, "GET", "/api/v1/dashboard/stats", nil, aliceToken)
	assertStatus(t, rr, http.StatusForbidden)

	adminToken := env.login(t, "admin@example.com")
	rr = env.doAuth(t, "GET", "/api/v1/dashboard/stats", nil, adminToken)
	assertStatus(t, rr, http.StatusOK)

	var totals model.DashboardTotals
	decodeJSON(t, rr, &totals)
	if totals.TotalUsers != 2 {
		t.Errorf("TotalUsers = %d, want 2", totals.TotalUsers)
	}
}

func TestDashboardAnalyticsAndRequests(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice@example.com", false)
	env.seedUser(t, "admin@example.com", true)
	adminToken := env.login(t, "admin@example.com")

	if err := env.store.InsertRequestLog(context.Background(), &model.RequestLogEntry{
		UserID: alice.ID, Method: "tools/call", ToolName: "list_bookings", Success: true,
	}); err != nil {
		t.Fatalf("InsertRequestLog: %v", err)
	}

	rr := env.doAuth(t, "GET", "/api/v1/dashboard/analytics?days=7", nil, adminToken)
	assertStatus(t, rr, http.StatusOK)
	var analytics model.Analytics
	decodeJSON(t, rr, &analytics)
	if analytics.TotalRequests != 1 || analytics.SuccessRate != 1.0 {
		t.Errorf("analytics = %+v", analytics)
	}

	rr = env.doAuth(t, "GET", "/api/v1/dashboard/requests?limit=10", nil, adminToken)
	assertStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), "alice@example.com") {
		t.Error("recent requests missing user join")
	}
}
