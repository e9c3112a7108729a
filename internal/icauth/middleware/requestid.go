package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"icauth/internal/icauth"
)

const maxRequestIDLen = 64

// RequestID assigns a request ID to each request. A well-formed incoming
// X-Request-ID is kept so IDs can be followed across services.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(icauth.ContextWithRequestID(r.Context(), id)))
	})
}

// validRequestID accepts printable ASCII without spaces so IDs are safe to log.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] <= ' ' || id[i] > '~' {
			return false
		}
	}
	return true
}
