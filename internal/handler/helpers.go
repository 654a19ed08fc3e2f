package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/calgate/calgate/internal/model"
)

// writeJSON writes v as a JSON response with the given status. Encoding
// errors are ignored; by that point the status line is already on the wire.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes the management API error envelope. An optional context
// map carries extra machine-readable fields alongside the message.
func writeError(w http.ResponseWriter, code int, message string, ctx ...map[string]interface{}) {
	detail := model.ErrorDetail{Code: code, Message: message}
	if len(ctx) > 0 {
		detail.Context = ctx[0]
	}
	writeJSON(w, code, model.ErrorResponse{Error: detail})
}

// readJSON decodes the request body into v, limited to 1 MiB, and closes it.
func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20)).Decode(v)
}

// queryInt parses an integer query parameter, falling back to def when the
// parameter is absent or malformed.
func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
