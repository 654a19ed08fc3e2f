package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// Logger logs one line per request after the handler returns: method, path,
// status, bytes written, elapsed time, request ID, and client address. Server
// errors log at Error, client errors at Warn, everything else at Info.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			var level slog.Level
			switch {
			case rec.status >= 500:
				level = slog.LevelError
			case rec.status >= 400:
				level = slog.LevelWarn
			default:
				level = slog.LevelInfo
			}

			logger.Log(r.Context(), level, "http request",
				"request_id", RequestIDFrom(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"bytes", rec.bytes,
				"elapsed_ms", float64(time.Since(start).Microseconds())/1000.0,
				"remote", r.RemoteAddr,
			)
		})
	}
}

// statusRecorder captures the status code and body size as the handler
// writes the response. The first WriteHeader wins, matching net/http.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (rec *statusRecorder) WriteHeader(code int) {
	if rec.written {
		return
	}
	rec.written = true
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	if !rec.written {
		rec.WriteHeader(http.StatusOK)
	}
	n, err := rec.ResponseWriter.Write(b)
	rec.bytes += n
	return n, err
}

// Unwrap lets http.ResponseController reach Flusher/Hijacker on the
// underlying writer.
func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}
