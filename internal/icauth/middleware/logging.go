package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"icauth/internal/icauth"
)

// Logging returns a middleware that logs each request using slog.
// Requests to quietPaths are logged at debug level.
func Logging(logger *slog.Logger, quietPaths ...string) Middleware {
	quiet := make(map[string]struct{}, len(quietPaths))
	for _, p := range quietPaths {
		quiet[p] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &icauth.StatusWriter{ResponseWriter: w, Code: http.StatusOK}

			next.ServeHTTP(sw, r)

			level := slog.LevelInfo
			if _, ok := quiet[r.URL.Path]; ok {
				level = slog.LevelDebug
			}
			sess, _ := icauth.SessionFromContext(r.Context())

			logger.Log(r.Context(), level, "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.Code,
				"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
				"request_id", icauth.RequestIDFromContext(r.Context()),
				"principal", sess.Principal,
				"remote_addr", r.RemoteAddr,
			)
		})
	}
}
