// Package gateway implements the protocol endpoint that tool-calling LLM
// clients speak to. Each invocation is an independent unit of work: resolve
// the caller's identity, load their calendar credentials, execute the
// requested tool, and record exactly one log entry with the outcome.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/calgate/calgate/internal/model"
	"github.com/calgate/calgate/internal/service"
	"github.com/calgate/calgate/internal/store"
	"github.com/calgate/calgate/internal/tools"
)

const (
	// ProtocolVersion is the version tag injected into every success
	// response's _meta block.
	ProtocolVersion = "2.0"

	// APIKeyHeader carries the caller's API key.
	APIKeyHeader = "X-API-Key"

	defaultSetupURL = "/setup"
	maxRequestBody  = 1 << 20
)

// envelope is the tagged request schema accepted on the protocol endpoint.
type envelope struct {
	Method string `json:"method"`
	Params *struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	} `json:"params"`
}

func (e *envelope) toolName() string {
	if e.Params == nil {
		return ""
	}
	return e.Params.Name
}

func (e *envelope) arguments() map[string]interface{} {
	if e.Params == nil {
		return nil
	}
	return e.Params.Arguments
}

// failure is an invocation outcome mapped to a wire-level error. code is the
// stable caller-facing error string; detail is the full server-side cause and
// reaches the caller only in dev mode.
type failure struct {
	status   int
	code     string
	message  string
	setupURL string
	detail   error
}

func (f *failure) logDetail() string {
	if f.detail != nil {
		return f.detail.Error()
	}
	if f.message != "" {
		return f.message
	}
	return f.code
}

// Dispatcher handles POST /mcp.
type Dispatcher struct {
	auth     *service.AuthService
	vault    *service.Vault
	store    *store.Store
	executor tools.Executor
	logger   *slog.Logger
	setupURL string
	dev      bool
}

// New creates a Dispatcher. setupURL is the remediation path returned to
// callers whose calendar account is not connected yet; empty selects the
// default. dev surfaces internal error detail in responses.
func New(
	auth *service.AuthService,
	vault *service.Vault,
	st *store.Store,
	executor tools.Executor,
	logger *slog.Logger,
	setupURL string,
	dev bool,
) *Dispatcher {
	if setupURL == "" {
		setupURL = defaultSetupURL
	}
	return &Dispatcher{
		auth:     auth,
		vault:    vault,
		store:    st,
		executor: executor,
		logger:   logger,
		setupURL: setupURL,
		dev:      dev,
	}
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	identity, err := d.auth.Resolve(r.Context(), r.Header.Get(APIKeyHeader), bearerToken(r))
	if err != nil {
		if errors.Is(err, service.ErrForbidden) {
			d.writeFailure(w, &failure{status: http.StatusForbidden, code: "Invalid API key"})
			return
		}
		d.writeFailure(w, &failure{status: http.StatusUnauthorized, code: "Authentication required"})
		return
	}

	var env envelope
	decodeErr := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&env)
	r.Body.Close()

	entry := &model.RequestLogEntry{
		UserID:    identity.UserID,
		Method:    env.Method,
		ToolName:  env.toolName(),
		Origin:    clientOrigin(r),
		CreatedAt: start.UTC(),
	}

	body, fail := d.invoke(r.Context(), identity, &env, decodeErr)

	entry.DurationMs = time.Since(start).Milliseconds()
	if fail != nil {
		entry.Error = fail.logDetail()
	} else {
		entry.Success = true
	}
	// Written against a fresh context so a client disconnect cannot leave
	// the invocation unlogged.
	if err := d.store.InsertRequestLog(context.Background(), entry); err != nil {
		d.logger.Error("request log write failed", "error", err, "user_id", identity.UserID)
	}

	if fail != nil {
		d.writeFailure(w, fail)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

// invoke runs the method dispatch for an authenticated caller and returns
// either a fully shaped success body or a failure.
func (d *Dispatcher) invoke(
	ctx context.Context,
	identity *service.Identity,
	env *envelope,
	decodeErr error,
) (map[string]interface{}, *failure) {

	if decodeErr != nil {
		return nil, &failure{
			status:  http.StatusBadRequest,
			code:    "Validation failed",
			message: "request body must be a JSON object with a method field",
			detail:  decodeErr,
		}
	}
	if env.Method == "" {
		return nil, &failure{
			status:  http.StatusBadRequest,
			code:    "Validation failed",
			message: "method is required",
		}
	}

	creds, err := d.vault.Fetch(ctx, identity.UserID)
	if err != nil {
		d.logger.Error("credential fetch failed", "error", err, "user_id", identity.UserID)
		return nil, &failure{status: http.StatusInternalServerError, code: "Credential storage error", detail: err}
	}
	if creds == nil {
		return nil, &failure{
			status:   http.StatusBadRequest,
			code:     "Calendar credentials not configured",
			message:  "connect a calendar account before using this integration",
			setupURL: d.setupURL,
		}
	}

	catalog := tools.Catalog()

	var result map[string]interface{}
	switch env.Method {
	case "initialize":
		result = map[string]interface{}{
			"protocolVersion": ProtocolVersion,
			"serverInfo": map[string]interface{}{
				"name": "calgate",
			},
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{},
			},
		}

	case "tools/list":
		result = map[string]interface{}{"tools": catalog}

	case "tools/call":
		name := env.toolName()
		if name == "" {
			return nil, &failure{
				status:  http.StatusBadRequest,
				code:    "Validation failed",
				message: "params.name is required for tools/call",
			}
		}
		if !tools.Known(name) {
			return nil, &failure{
				status:  http.StatusBadRequest,
				code:    "Validation failed",
				message: fmt.Sprintf("unknown tool %q", name),
			}
		}

		res, err := d.executor.Execute(ctx, creds, name, env.arguments())
		if err != nil {
			if errors.Is(err, tools.ErrBadArguments) {
				// Argument errors are caller mistakes and safe to relay.
				return nil, &failure{status: http.StatusBadRequest, code: "Validation failed", message: err.Error()}
			}
			d.logger.Error("tool execution failed", "tool", name, "user_id", identity.UserID, "error", err)
			return nil, &failure{status: http.StatusInternalServerError, code: "Tool execution failed", detail: err}
		}

		result, err = resultObject(res)
		if err != nil {
			d.logger.Error("tool result encoding failed", "tool", name, "error", err)
			return nil, &failure{status: http.StatusInternalServerError, code: "Tool execution failed", detail: err}
		}

	default:
		return nil, &failure{
			status:  http.StatusBadRequest,
			code:    "Validation failed",
			message: fmt.Sprintf("unsupported method %q", env.Method),
		}
	}

	result["_meta"] = map[string]interface{}{
		"userId":     identity.UserID,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"version":    ProtocolVersion,
		"toolsCount": len(catalog),
	}
	return result, nil
}

func (d *Dispatcher) writeFailure(w http.ResponseWriter, f *failure) {
	body := map[string]interface{}{
		"error":     f.code,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	msg := f.message
	if d.dev && f.detail != nil {
		msg = f.detail.Error()
	}
	if msg != "" {
		body["message"] = msg
	}
	if f.setupURL != "" {
		body["setupUrl"] = f.setupURL
	}
	writeJSON(w, f.status, body)
}

// resultObject flattens a tool result into a JSON object the _meta block can
// be injected into.
func resultObject(res *mcp.CallToolResult) (map[string]interface{}, error) {
	b, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(b, &obj); err != nil {
		return nil, fmt.Errorf("decode tool result: %w", err)
	}
	return obj, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// clientOrigin reports the caller's address, preferring the first
// X-Forwarded-For hop when the gateway sits behind a proxy.
func clientOrigin(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	return r.RemoteAddr
}
