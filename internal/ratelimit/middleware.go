package ratelimit

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrWong99/parrot/internal/observe"
)

// KeyFunc derives the limiter key for a request.
type KeyFunc func(r *http.Request) string

// ClientIP keys requests by remote address. With trustForwardedFor the first
// address in X-Forwarded-For wins; enable it only behind a proxy that sets
// the header.
func ClientIP(trustForwardedFor bool) KeyFunc {
	return func(r *http.Request) string {
		if trustForwardedFor {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr
		}
		return host
	}
}

// Middleware rejects requests over budget with 429 and a generic JSON body.
// A limiter error lets the request through.
func Middleware(l Limiter, key KeyFunc, m *observe.Metrics) func(http.Handler) http.Handler {
	backend := "unknown"
	if b, ok := l.(interface{ Backend() string }); ok {
		backend = b.Backend()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			d, err := l.Allow(ctx, key(r))
			if err != nil {
				observe.Logger(ctx).Warn("ratelimit: limiter unavailable, allowing request",
					"backend", backend, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !d.Allowed {
				m.RecordRateLimited(ctx, backend)
				if secs := int(math.Ceil(d.RetryAfter.Seconds())); secs > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(secs))
				}
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "too many requests, please try again later"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
