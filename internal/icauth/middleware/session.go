package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"icauth/internal/domain"
	"icauth/internal/icauth"
)

// Session resolves the session cookie against store and attaches the live
// session to the request context. Requests without a valid session pass
// through unchanged; handlers decide whether a session is required.
func Session(store icauth.SessionStore, cookieName string, logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, err := r.Cookie(cookieName)
			if err != nil || c.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			sess, err := store.Get(r.Context(), c.Value)
			switch {
			case err == nil:
				r = r.WithContext(icauth.ContextWithSession(r.Context(), sess))
			case errors.Is(err, domain.ErrNotFound):
				logger.DebugContext(r.Context(), "session cookie does not match a live session")
			default:
				logger.WarnContext(r.Context(), "resolving session failed", "error", err)
			}
			next.ServeHTTP(w, r)
		})
	}
}
