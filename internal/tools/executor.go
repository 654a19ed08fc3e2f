package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/calgate/calgate/internal/model"
)

const (
	defaultUpstreamURL = "https://api.cal.com/v2"
	upstreamTimeout    = 30 * time.Second

	// Upstream responses larger than this are truncated before being
	// relayed to the client.
	maxUpstreamBody = 1 << 20
)

var (
	// ErrUnknownTool is returned for tool names outside the catalogue.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrBadArguments is returned when a required tool argument is
	// missing or has the wrong type.
	ErrBadArguments = errors.New("invalid tool arguments")

	// ErrUpstream is returned when the upstream calendar API rejects or
	// fails the request.
	ErrUpstream = errors.New("upstream calendar error")
)

// Executor performs a calendar operation on behalf of a user. Implementations
// receive the user's decrypted credentials and the parsed tool arguments.
type Executor interface {
	Execute(ctx context.Context, creds *model.CredentialDescriptor, name string, args map[string]interface{}) (*mcp.CallToolResult, error)
}

// CalendarExecutor executes catalogue tools against the upstream calendar
// API over HTTP. One instance is shared by all requests; per-user state is
// confined to the credentials passed into Execute.
type CalendarExecutor struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewCalendarExecutor creates an executor for the given upstream base URL.
// An empty baseURL selects the production calendar API.
func NewCalendarExecutor(baseURL string, logger *slog.Logger) *CalendarExecutor {
	if baseURL == "" {
		baseURL = defaultUpstreamURL
	}
	return &CalendarExecutor{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: upstreamTimeout},
		logger:  logger,
	}
}

// Execute dispatches a single tool invocation to the upstream API.
func (e *CalendarExecutor) Execute(
	ctx context.Context,
	creds *model.CredentialDescriptor,
	name string,
	args map[string]interface{},
) (*mcp.CallToolResult, error) {

	switch name {
	case "list_event_types":
		return e.get(ctx, creds, "/event-types", nil)

	case "get_availability":
		q, err := queryArgs(args, map[string]bool{
			"event_type_id": true,
			"start_date":    true,
			"end_date":      true,
			"timezone":      false,
		})
		if err != nil {
			return nil, err
		}
		return e.get(ctx, creds, "/slots", q)

	case "list_bookings":
		q, err := queryArgs(args, map[string]bool{
			"status": false,
			"limit":  false,
		})
		if err != nil {
			return nil, err
		}
		return e.get(ctx, creds, "/bookings", q)

	case "create_booking":
		if err := requireArgs(args, "event_type_id", "start", "attendee_name", "attendee_email"); err != nil {
			return nil, err
		}
		return e.post(ctx, creds, "/bookings", args)

	case "reschedule_booking":
		uid, err := stringArg(args, "booking_uid")
		if err != nil {
			return nil, err
		}
		if err := requireArgs(args, "start"); err != nil {
			return nil, err
		}
		body := withoutKey(args, "booking_uid")
		return e.post(ctx, creds, "/bookings/"+url.PathEscape(uid)+"/reschedule", body)

	case "cancel_booking":
		uid, err := stringArg(args, "booking_uid")
		if err != nil {
			return nil, err
		}
		body := withoutKey(args, "booking_uid")
		return e.post(ctx, creds, "/bookings/"+url.PathEscape(uid)+"/cancel", body)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
}

func (e *CalendarExecutor) get(
	ctx context.Context,
	creds *model.CredentialDescriptor,
	path string,
	query url.Values,
) (*mcp.CallToolResult, error) {

	u := e.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	return e.do(req, creds)
}

func (e *CalendarExecutor) post(
	ctx context.Context,
	creds *model.CredentialDescriptor,
	path string,
	body map[string]interface{},
) (*mcp.CallToolResult, error) {

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode upstream request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return e.do(req, creds)
}

// do sends the request with the user's credentials attached and converts the
// upstream response into a tool result. Non-2xx responses become ErrUpstream;
// the response body is relayed server-side only.
func (e *CalendarExecutor) do(req *http.Request, creds *model.CredentialDescriptor) (*mcp.CallToolResult, error) {
	req.Header.Set("x-cal-client-id", creds.ClientID)
	req.Header.Set("x-cal-secret-key", creds.ClientSecret)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrUpstream, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if e.logger != nil {
			e.logger.Warn("upstream calendar call failed",
				"path", req.URL.Path,
				"status", resp.StatusCode,
				"body", string(body))
		}
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	return mcp.NewToolResultText(string(body)), nil
}

// --------------------------------------------------------------------------
// Argument helpers
// --------------------------------------------------------------------------

// stringArg extracts a required string argument.
func stringArg(args map[string]interface{}, key string) (string, error) {
	raw, ok := args[key]
	if !ok {
		return "", fmt.Errorf("%w: missing required parameter %q", ErrBadArguments, key)
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: parameter %q must be a non-empty string", ErrBadArguments, key)
	}
	return s, nil
}

// requireArgs verifies that every named argument is present and non-empty.
func requireArgs(args map[string]interface{}, keys ...string) error {
	for _, key := range keys {
		if _, err := stringArg(args, key); err != nil {
			return err
		}
	}
	return nil
}

// queryArgs converts selected arguments into URL query parameters. Keys
// mapped to true are required.
func queryArgs(args map[string]interface{}, keys map[string]bool) (url.Values, error) {
	q := url.Values{}
	for key, required := range keys {
		raw, ok := args[key]
		if !ok {
			if required {
				return nil, fmt.Errorf("%w: missing required parameter %q", ErrBadArguments, key)
			}
			continue
		}
		switch v := raw.(type) {
		case string:
			if v == "" && required {
				return nil, fmt.Errorf("%w: parameter %q must be a non-empty string", ErrBadArguments, key)
			}
			if v != "" {
				q.Set(key, v)
			}
		case float64:
			q.Set(key, fmt.Sprintf("%v", v))
		default:
			return nil, fmt.Errorf("%w: parameter %q has unsupported type", ErrBadArguments, key)
		}
	}
	return q, nil
}

// withoutKey returns a shallow copy of args with one key removed.
func withoutKey(args map[string]interface{}, key string) map[string]interface{} {
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		if k != key {
			out[k] = v
		}
	}
	return out
}
