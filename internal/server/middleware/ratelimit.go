package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit caps requests per client IP per minute using a sliding window.
func RateLimit(perMinute int) func(http.Handler) http.Handler {
	return httprate.LimitByIP(perMinute, time.Minute)
}

// RateLimitByHeader buckets requests by a header value, so each API key gets
// its own allowance. Requests without the header (session-authenticated
// callers) fall back to per-IP bucketing rather than sharing one global
// bucket.
func RateLimitByHeader(header string, perMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		perMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if v := r.Header.Get(header); v != "" {
				return v, nil
			}
			return httprate.KeyByIP(r)
		}),
	)
}
