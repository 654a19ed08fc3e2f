package tools

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/calgate/calgate/internal/model"
)

var testCreds = &model.CredentialDescriptor{
	ClientID:     "client-123",
	ClientSecret: "shhh",
}

// upstream records the last request and serves a canned JSON response.
type upstream struct {
	*httptest.Server

	method string
	path   string
	query  string
	body   []byte
	header http.Header

	status   int
	response string
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{status: http.StatusOK, response: `{"data":[]}`}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.method = r.Method
		u.path = r.URL.Path
		u.query = r.URL.RawQuery
		u.header = r.Header.Clone()
		u.body, _ = io.ReadAll(r.Body)
		w.WriteHeader(u.status)
		io.WriteString(w, u.response)
	}))
	t.Cleanup(u.Close)
	return u
}

func resultText(t *testing.T, creds *model.CredentialDescriptor, e *CalendarExecutor, name string, args map[string]interface{}) string {
	t.Helper()
	res, err := e.Execute(context.Background(), creds, name, args)
	if err != nil {
		t.Fatalf("Execute(%s): %v", name, err)
	}
	b, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	return string(b)
}

func TestExecuteSendsCredentials(t *testing.T) {
	up := newUpstream(t)
	e := NewCalendarExecutor(up.URL, nil)

	resultText(t, testCreds, e, "list_event_types", nil)

	if up.method != http.MethodGet || up.path != "/event-types" {
		t.Errorf("upstream saw %s %s", up.method, up.path)
	}
	if got := up.header.Get("x-cal-client-id"); got != testCreds.ClientID {
		t.Errorf("x-cal-client-id = %q", got)
	}
	if got := up.header.Get("x-cal-secret-key"); got != testCreds.ClientSecret {
		t.Errorf("x-cal-secret-key = %q", got)
	}
}

func TestExecuteAvailabilityQuery(t *testing.T) {
	up := newUpstream(t)
	up.response = `{"slots":["2025-06-01T09:00:00Z"]}`
	e := NewCalendarExecutor(up.URL, nil)

	out := resultText(t, testCreds, e, "get_availability", map[string]interface{}{
		"event_type_id": "42",
		"start_date":    "2025-06-01",
		"end_date":      "2025-06-07",
		"timezone":      "Europe/Berlin",
	})

	if up.path != "/slots" {
		t.Errorf("path = %q, want /slots", up.path)
	}
	for _, want := range []string{"event_type_id=42", "start_date=2025-06-01", "end_date=2025-06-07", "timezone=Europe%2FBerlin"} {
		if !strings.Contains(up.query, want) {
			t.Errorf("query %q missing %q", up.query, want)
		}
	}
	if !strings.Contains(out, "2025-06-01T09:00:00Z") {
		t.Errorf("result does not relay upstream payload: %s", out)
	}
}

func TestExecuteMissingRequiredArgument(t *testing.T) {
	up := newUpstream(t)
	e := NewCalendarExecutor(up.URL, nil)

	_, err := e.Execute(context.Background(), testCreds, "get_availability", map[string]interface{}{
		"event_type_id": "42",
	})
	if !errors.Is(err, ErrBadArguments) {
		t.Errorf("err = %v, want ErrBadArguments", err)
	}
	if up.path != "" {
		t.Errorf("upstream was called at %q despite invalid arguments", up.path)
	}
}

func TestExecuteCreateBookingBody(t *testing.T) {
	up := newUpstream(t)
	e := NewCalendarExecutor(up.URL, nil)

	args := map[string]interface{}{
		"event_type_id":  "42",
		"start":          "2025-06-01T09:00:00+02:00",
		"attendee_name":  "Alice",
		"attendee_email": "alice@example.com",
	}
	resultText(t, testCreds, e, "create_booking", args)

	if up.method != http.MethodPost || up.path != "/bookings" {
		t.Errorf("upstream saw %s %s", up.method, up.path)
	}
	var sent map[string]interface{}
	if err := json.Unmarshal(up.body, &sent); err != nil {
		t.Fatalf("unmarshal sent body: %v", err)
	}
	if sent["attendee_email"] != "alice@example.com" {
		t.Errorf("sent body = %v", sent)
	}
}

func TestExecuteRescheduleUsesUIDInPath(t *testing.T) {
	up := newUpstream(t)
	e := NewCalendarExecutor(up.URL, nil)

	resultText(t, testCreds, e, "reschedule_booking", map[string]interface{}{
		"booking_uid": "bk_777",
		"start":       "2025-06-02T10:00:00Z",
	})

	if up.path != "/bookings/bk_777/reschedule" {
		t.Errorf("path = %q", up.path)
	}
	// The uid travels in the path, not the body.
	if strings.Contains(string(up.body), "booking_uid") {
		t.Errorf("body %s still carries booking_uid", up.body)
	}
}

func TestExecuteCancelBooking(t *testing.T) {
	up := newUpstream(t)
	e := NewCalendarExecutor(up.URL, nil)

	resultText(t, testCreds, e, "cancel_booking", map[string]interface{}{
		"booking_uid": "bk_777",
		"reason":      "conflict",
	})

	if up.method != http.MethodPost || up.path != "/bookings/bk_777/cancel" {
		t.Errorf("upstream saw %s %s", up.method, up.path)
	}
}

func TestExecuteUpstreamFailure(t *testing.T) {
	up := newUpstream(t)
	up.status = http.StatusBadGateway
	up.response = `{"error":"backend exploded with secret details"}`
	e := NewCalendarExecutor(up.URL, nil)

	_, err := e.Execute(context.Background(), testCreds, "list_bookings", nil)
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("err = %v, want ErrUpstream", err)
	}
	// The error surfaced to callers carries the status, not the upstream body.
	if strings.Contains(err.Error(), "secret details") {
		t.Errorf("error leaks upstream body: %v", err)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	up := newUpstream(t)
	e := NewCalendarExecutor(up.URL, nil)

	if _, err := e.Execute(context.Background(), testCreds, "drop_tables", nil); !errors.Is(err, ErrUnknownTool) {
		t.Errorf("err = %v, want ErrUnknownTool", err)
	}
}

func TestCatalogKnown(t *testing.T) {
	for _, tool := range Catalog() {
		if !Known(tool.Name) {
			t.Errorf("Known(%q) = false", tool.Name)
		}
	}
	if Known("drop_tables") {
		t.Error("Known accepted a name outside the catalogue")
	}
}
