package middleware

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"icauth/internal/domain"
	"icauth/internal/icauth"
	"icauth/internal/platform/telemetry"
)

// RateLimit returns middleware that enforces per-IP limits on the wrapped
// handler. layer names the limited surface in metrics, e.g. "login".
// The metrics parameter is optional; pass nil to skip metric recording.
func RateLimit(limiter icauth.RateLimiter, layer string, m *telemetry.Metrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := limiter.Allow(ClientIP(r))
			if m != nil {
				decision := "allowed"
				if !result.Allowed {
					decision = "denied"
				}
				m.RecordRateLimitDecision(r.Context(), layer, decision)
			}
			if !result.Allowed {
				writeRateLimitError(w, result.RetryAfter)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the host part of RemoteAddr. X-Forwarded-For is client
// controlled and is not consulted.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeRateLimitError(w http.ResponseWriter, retryAfter int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.WriteHeader(http.StatusTooManyRequests)
	if err := json.NewEncoder(w).Encode(domain.ErrorResponse{
		Error:      "rate_limited",
		Message:    domain.ErrRateLimited.Error(),
		RetryAfter: retryAfter,
	}); err != nil {
		slog.Error("encoding error response", "error", err)
	}
}
