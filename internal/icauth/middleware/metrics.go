package middleware

import (
	"context"
	"net/http"
	"time"

	"icauth/internal/icauth"
	"icauth/internal/platform/telemetry"
)

type routeKey struct{}

// Metrics returns middleware that records HTTP request metrics.
// Place as the outermost middleware to capture the full request lifecycle.
// Requests are labelled by their route pattern so unknown paths share
// one series.
func Metrics(m *telemetry.Metrics) Middleware {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &icauth.StatusWriter{ResponseWriter: w, Code: http.StatusOK}
			route := new(string)
			r = r.WithContext(context.WithValue(r.Context(), routeKey{}, route))

			next.ServeHTTP(sw, r)

			m.RecordHTTPRequest(r.Context(), r.Method, routeLabel(*route, r.Pattern), sw.Code, time.Since(start).Seconds())
		})
	}
}

// SetRoute records the pattern that matched the request. Muxes sitting
// behind other middleware call it because the pattern they set on their
// own copy of the request never reaches Metrics.
func SetRoute(ctx context.Context, pattern string) {
	if p, ok := ctx.Value(routeKey{}).(*string); ok {
		*p = pattern
	}
}

func routeLabel(recorded, pattern string) string {
	switch {
	case recorded != "":
		return recorded
	case pattern != "":
		return pattern
	default:
		return "unmatched"
	}
}
