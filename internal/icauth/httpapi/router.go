// Package httpapi exposes login and logout over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"icauth/internal/domain"
	"icauth/internal/icauth"
	"icauth/internal/icauth/coordinator"
	"icauth/internal/icauth/middleware"
	"icauth/internal/platform/telemetry"
)

const (
	maxLoginBody = 4 << 10
	readyTimeout = 3 * time.Second

	// unavailableRetryAfter is the Retry-After, in seconds, sent when the
	// canister cannot be reached.
	unavailableRetryAfter = 5
)

// Sessions runs the login and logout flows.
type Sessions interface {
	Login(ctx context.Context, principal domain.Principal, secret domain.SessionSecret) (coordinator.LoginResult, error)
	Logout(ctx context.Context, sessionID string) coordinator.LogoutResult
}

// ReadinessCheck is one dependency probed by /readyz.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// CookieConfig describes the session cookie.
type CookieConfig struct {
	Name     string
	Path     string
	MaxAge   time.Duration
	SameSite http.SameSite
	Secure   bool
}

// Config wires a Router. LoginLimiter, Metrics and Ready are optional.
type Config struct {
	BasePath     string
	Cookie       CookieConfig
	Ready        []ReadinessCheck
	LoginLimiter icauth.RateLimiter
	Logger       *slog.Logger
	Metrics      *telemetry.Metrics
}

// Router serves the icauth HTTP surface under a base path.
type Router struct {
	mux      *http.ServeMux
	sessions Sessions
	cookie   CookieConfig
	ready    []ReadinessCheck
	limiter  icauth.RateLimiter
	logger   *slog.Logger
}

// NewRouter registers the routes under cfg.BasePath.
func NewRouter(sessions Sessions, cfg Config) *Router {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Cookie.Name == "" {
		cfg.Cookie.Name = "sessionid"
	}
	if cfg.Cookie.Path == "" {
		cfg.Cookie.Path = "/"
	}
	r := &Router{
		mux:      http.NewServeMux(),
		sessions: sessions,
		cookie:   cfg.Cookie,
		ready:    cfg.Ready,
		limiter:  cfg.LoginLimiter,
		logger:   cfg.Logger,
	}

	base := cfg.BasePath
	r.mux.HandleFunc("GET "+base+"/health", r.health)
	r.mux.HandleFunc("GET "+base+"/readyz", r.readyz)

	login := []middleware.Middleware{middleware.MaxBodySize(maxLoginBody)}
	if cfg.LoginLimiter != nil {
		login = append(login, middleware.RateLimit(cfg.LoginLimiter, "login", cfg.Metrics))
	}
	r.mux.Handle("POST "+base+"/login", middleware.Chain(http.HandlerFunc(r.login), login...))
	r.mux.HandleFunc("POST "+base+"/logout", r.logout)

	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if _, pattern := r.mux.Handler(req); pattern != "" {
		middleware.SetRoute(req.Context(), pattern)
	}
	r.mux.ServeHTTP(w, req)
}

// Handle mounts an extra handler, e.g. the metrics endpoint.
func (r *Router) Handle(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

type loginRequest struct {
	Principal       string `json:"principal"`
	SessionPassword string `json:"session_password"`
}

type loginResponse struct {
	JWT string `json:"jwt"`
}

func (r *Router) login(w http.ResponseWriter, req *http.Request) {
	// Unknown fields are ignored.
	var body loginRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, http.StatusRequestEntityTooLarge, domain.ErrorResponse{Error: "bad_request", Message: "request body too large"})
			return
		}
		r.logger.DebugContext(req.Context(), "malformed login body", "error", err)
		r.writeError(w, req, domain.ErrInvalidRequest)
		return
	}
	if body.Principal == "" || body.SessionPassword == "" {
		r.writeError(w, req, domain.ErrInvalidRequest)
		return
	}

	res, err := r.sessions.Login(req.Context(), domain.Principal(body.Principal), domain.SessionSecret(body.SessionPassword))
	if err != nil {
		r.writeError(w, req, err)
		return
	}

	// A session presented with the login is replaced, like a cycled key.
	if prev, ok := icauth.SessionFromContext(req.Context()); ok && prev.ID != res.Session.ID {
		r.sessions.Logout(req.Context(), prev.ID)
	}
	if resetter, ok := r.limiter.(interface{ Reset(string) }); ok {
		resetter.Reset(middleware.ClientIP(req))
	}

	http.SetCookie(w, r.sessionCookie(res.Session.ID, r.cookie.MaxAge))
	writeJSON(w, http.StatusOK, loginResponse{JWT: res.Token.Value})
}

func (r *Router) logout(w http.ResponseWriter, req *http.Request) {
	var id string
	if c, err := req.Cookie(r.cookie.Name); err == nil {
		id = c.Value
	}
	res := r.sessions.Logout(req.Context(), id)
	r.logger.DebugContext(req.Context(), "logout", "had_session", res.HadSession, "revoked", res.Revoked)

	http.SetCookie(w, r.sessionCookie("", -1))
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (r *Router) sessionCookie(value string, maxAge time.Duration) *http.Cookie {
	c := &http.Cookie{
		Name:     r.cookie.Name,
		Value:    value,
		Path:     r.cookie.Path,
		HttpOnly: true,
		Secure:   r.cookie.Secure,
		SameSite: r.cookie.SameSite,
	}
	if maxAge < 0 {
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
	} else {
		c.MaxAge = int(maxAge.Seconds())
	}
	return c
}

func (r *Router) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) readyz(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), readyTimeout)
	defer cancel()

	failed := map[string]string{}
	for _, c := range r.ready {
		if err := c.Check(ctx); err != nil {
			r.logger.WarnContext(ctx, "readiness check failed", "check", c.Name, "error", err)
			failed[c.Name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// writeError maps domain errors onto responses. Credential problems are
// all reported as one generic 400 so callers learn nothing about which
// check failed.
func (r *Router) writeError(w http.ResponseWriter, req *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrServiceUnavailable):
		w.Header().Set("Retry-After", strconv.Itoa(unavailableRetryAfter))
		writeJSON(w, http.StatusServiceUnavailable, domain.ErrorResponse{
			Error:      "service_unavailable",
			Message:    "identity service unavailable",
			RetryAfter: unavailableRetryAfter,
		})
	case errors.Is(err, domain.ErrUnauthenticated), errors.Is(err, domain.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, domain.ErrorResponse{Error: "unauthorized", Message: "Unauthorized"})
	case errors.Is(err, domain.ErrRateLimited):
		writeJSON(w, http.StatusTooManyRequests, domain.ErrorResponse{Error: "rate_limited", Message: err.Error()})
	default:
		r.logger.ErrorContext(req.Context(), "login failed", "error", err, "request_id", icauth.RequestIDFromContext(req.Context()))
		writeJSON(w, http.StatusInternalServerError, domain.ErrorResponse{Error: "internal_error", Message: "an unexpected error occurred"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}
