package icauth

import (
	"context"
	"net/http"
	"time"

	"icauth/internal/domain"
)

// IdentityService is the RPC surface of the identity canister.
type IdentityService interface {
	// CheckSecret verifies a session secret without side effects.
	CheckSecret(ctx context.Context, principal domain.Principal, secret domain.SessionSecret) (domain.Outcome, error)
	// BindSession links sessionID to principal in the canister. Re-binding overwrites.
	BindSession(ctx context.Context, sessionID string, principal domain.Principal, secret domain.SessionSecret) (domain.Outcome, error)
	// RevokeSession deletes the binding for sessionID. A missing binding is not an error.
	RevokeSession(ctx context.Context, sessionID string) error
}

// UserStore persists local users keyed by principal.
type UserStore interface {
	// FindOrCreate returns the user for principal, creating it atomically if
	// absent. created reports whether this call inserted the row.
	FindOrCreate(ctx context.Context, principal domain.Principal) (user domain.User, created bool, err error)
	// FindByPrincipal returns domain.ErrNotFound when no user exists.
	FindByPrincipal(ctx context.Context, principal domain.Principal) (domain.User, error)
	FindByID(ctx context.Context, id string) (domain.User, error)
	TouchLogin(ctx context.Context, id string, at time.Time) error
}

// SessionStore persists local sessions until their ExpiresAt.
type SessionStore interface {
	// Create stores a new session and fails if the ID is already taken.
	Create(ctx context.Context, s domain.LocalSession) error
	// Get returns domain.ErrNotFound for unknown or expired sessions.
	Get(ctx context.Context, id string) (domain.LocalSession, error)
	// Save overwrites an existing session, including its expiry.
	Save(ctx context.Context, s domain.LocalSession) error
	Delete(ctx context.Context, id string) error
}

// TokenIssuer signs bearer tokens for authenticated principals.
type TokenIssuer interface {
	Issue(principal domain.Principal) (domain.Token, error)
}

// Credentials are presented to an Authenticator. Session is nil during
// phase 1 and set to the session created by that phase during phase 2.
type Credentials struct {
	Principal domain.Principal
	Secret    domain.SessionSecret
	Session   *domain.LocalSession
}

// HasLocalSession reports whether these credentials are for phase 2.
func (c Credentials) HasLocalSession() bool {
	return c.Session != nil
}

// Authenticator verifies credentials and resolves users.
type Authenticator interface {
	Authenticate(ctx context.Context, creds Credentials) (domain.User, error)
	Lookup(ctx context.Context, userID string) (domain.User, error)
}

// RateLimiter decides whether a request identified by key should be allowed.
type RateLimiter interface {
	Allow(key string) RateLimitResult
}

// RateLimitResult holds the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed    bool
	RetryAfter int // seconds until next token available; 0 if allowed
}

// StatusWriter wraps http.ResponseWriter to capture the status code.
type StatusWriter struct {
	http.ResponseWriter
	Code int
}

func (sw *StatusWriter) WriteHeader(code int) {
	sw.Code = code
	sw.ResponseWriter.WriteHeader(code)
}

// SessionFromContext returns the local session resolved for this request.
func SessionFromContext(ctx context.Context) (domain.LocalSession, bool) {
	s, ok := ctx.Value(sessionKey{}).(domain.LocalSession)
	return s, ok
}

// ContextWithSession stores the resolved local session in the context.
func ContextWithSession(ctx context.Context, s domain.LocalSession) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

type sessionKey struct{}

// RequestIDFromContext extracts the request ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// ContextWithRequestID stores the request ID in the context.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

type requestIDKey struct{}
