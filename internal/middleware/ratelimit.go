package middleware

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"

	"github.com/sakif/civicfix/internal/auth"
	"github.com/sakif/civicfix/internal/ratelimit"
)

// KeyFunc picks the bucket a request is counted against.
type KeyFunc func(r *http.Request) string

// ByIP keys on the client address. Run RealIP first so trusted proxies
// are accounted for.
func ByIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}

// ByUser keys on the authenticated user and falls back to the client
// address for anonymous requests.
func ByUser(r *http.Request) string {
	if id, ok := auth.UserIDFromContext(r.Context()); ok {
		return "user:" + id
	}
	return ByIP(r)
}

// RateLimit rejects requests over the limiter's budget with 429. If the
// limiter itself fails (Redis down) the request is let through.
func RateLimit(limiter ratelimit.Limiter, key KeyFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			ok, err := limiter.Allow(r.Context(), k)
			if err != nil {
				logger.Warn("rate limiter unavailable, allowing request",
					slog.String("key", k),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				logger.Info("rate limited", slog.String("key", k), slog.String("path", r.URL.Path))
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "60")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{
					"error": "too many requests, try again later",
					"code":  "rate_limited",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
