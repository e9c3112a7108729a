// Package coordinator drives the login and logout flows: it runs both
// authentication phases around a local session and issues the token.
package coordinator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"icauth/internal/domain"
	"icauth/internal/icauth"
	"icauth/internal/platform/telemetry"
)

const (
	DefaultPendingTTL = 2 * time.Minute
	DefaultSessionTTL = 8 * time.Hour

	sessionIDAttempts = 3
)

// Config wires a Coordinator. Metrics and Logger are optional.
type Config struct {
	Auth     icauth.Authenticator
	Identity icauth.IdentityService
	Users    icauth.UserStore
	Sessions icauth.SessionStore
	Tokens   icauth.TokenIssuer

	PendingTTL time.Duration
	SessionTTL time.Duration
	Now        func() time.Time

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// Coordinator runs one login or logout per call; it has no mutable state.
type Coordinator struct {
	auth     icauth.Authenticator
	identity icauth.IdentityService
	users    icauth.UserStore
	sessions icauth.SessionStore
	tokens   icauth.TokenIssuer

	pendingTTL time.Duration
	sessionTTL time.Duration
	now        func() time.Time

	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token   domain.Token
	Session domain.LocalSession
	User    domain.User
}

// LogoutResult reports whether the canister binding was revoked.
type LogoutResult struct {
	HadSession bool
	Revoked    bool
}

// New validates cfg and returns a Coordinator.
func New(cfg Config) (*Coordinator, error) {
	switch {
	case cfg.Auth == nil:
		return nil, errors.New("coordinator: authenticator is required")
	case cfg.Identity == nil:
		return nil, errors.New("coordinator: identity service is required")
	case cfg.Users == nil:
		return nil, errors.New("coordinator: user store is required")
	case cfg.Sessions == nil:
		return nil, errors.New("coordinator: session store is required")
	case cfg.Tokens == nil:
		return nil, errors.New("coordinator: token issuer is required")
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = DefaultPendingTTL
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Coordinator{
		auth:       cfg.Auth,
		identity:   cfg.Identity,
		users:      cfg.Users,
		sessions:   cfg.Sessions,
		tokens:     cfg.Tokens,
		pendingTTL: cfg.PendingTTL,
		sessionTTL: cfg.SessionTTL,
		now:        cfg.Now,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}, nil
}

// Login authenticates principal with secret, binds a new local session in
// the canister and issues a token. Errors wrap the domain sentinels.
func (c *Coordinator) Login(ctx context.Context, principal domain.Principal, secret domain.SessionSecret) (LoginResult, error) {
	res, err := c.login(ctx, principal, secret)
	c.recordLogin(ctx, err)
	return res, err
}

func (c *Coordinator) login(ctx context.Context, principal domain.Principal, secret domain.SessionSecret) (LoginResult, error) {
	user, err := c.auth.Authenticate(ctx, icauth.Credentials{Principal: principal, Secret: secret})
	if err != nil {
		return LoginResult{}, err
	}

	sess, err := c.createPending(ctx, user)
	if err != nil {
		return LoginResult{}, err
	}

	bound, err := c.auth.Authenticate(ctx, icauth.Credentials{Principal: principal, Secret: secret, Session: &sess})
	if err != nil {
		// A refused bind leaves nothing in the canister. Other failures may
		// come after a bind that took effect.
		if !errors.Is(err, domain.ErrUnauthenticated) || errors.Is(err, domain.ErrResponseFormat) {
			c.revoke(ctx, sess)
		}
		c.discard(ctx, sess.ID)
		return LoginResult{}, err
	}

	now := c.now()
	sess.State = domain.SessionBound
	sess.ExpiresAt = now.Add(c.sessionTTL)
	if err := c.sessions.Save(ctx, sess); err != nil {
		c.abandon(ctx, sess)
		return LoginResult{}, fmt.Errorf("saving bound session: %w", err)
	}

	if err := c.users.TouchLogin(ctx, bound.ID, now); err != nil {
		c.logger.WarnContext(ctx, "recording last login failed", "user_id", bound.ID, "error", err)
	}

	token, err := c.tokens.Issue(bound.Principal)
	if err != nil {
		c.abandon(ctx, sess)
		return LoginResult{}, fmt.Errorf("issuing token: %w", err)
	}
	return LoginResult{Token: token, Session: sess, User: bound}, nil
}

func (c *Coordinator) createPending(ctx context.Context, user domain.User) (domain.LocalSession, error) {
	now := c.now()
	for range sessionIDAttempts {
		id, err := newSessionID()
		if err != nil {
			return domain.LocalSession{}, err
		}
		sess := domain.LocalSession{
			ID:        id,
			UserID:    user.ID,
			Principal: user.Principal,
			State:     domain.SessionPending,
			CreatedAt: now,
			ExpiresAt: now.Add(c.pendingTTL),
		}
		err = c.sessions.Create(ctx, sess)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return domain.LocalSession{}, fmt.Errorf("creating session: %w", err)
		}
	}
	return domain.LocalSession{}, fmt.Errorf("creating session: %w", domain.ErrConflict)
}

// abandon undoes a bound session whose login failed. The canister binding
// must not outlive the local session.
func (c *Coordinator) abandon(ctx context.Context, sess domain.LocalSession) {
	c.revoke(ctx, sess)
	c.discard(ctx, sess.ID)
}

// revoke is best effort and runs even if the request was cancelled.
func (c *Coordinator) revoke(ctx context.Context, sess domain.LocalSession) {
	if err := c.identity.RevokeSession(context.WithoutCancel(ctx), sess.ID); err != nil {
		c.logger.WarnContext(ctx, "revoking binding of failed login failed",
			"principal", sess.Principal,
			"unavailable", errors.Is(err, domain.ErrServiceUnavailable),
			"error", err,
		)
	}
}

// discard deletes a session that will never be used. It runs even if the
// request was cancelled.
func (c *Coordinator) discard(ctx context.Context, id string) {
	if err := c.sessions.Delete(context.WithoutCancel(ctx), id); err != nil {
		c.logger.WarnContext(ctx, "discarding pending session failed", "error", err)
	}
}

// Logout revokes the canister binding of sessionID, if the session exists,
// and always removes the local session. It never fails.
func (c *Coordinator) Logout(ctx context.Context, sessionID string) LogoutResult {
	if sessionID == "" {
		c.recordLogout(ctx, telemetry.ResultNoSession)
		return LogoutResult{}
	}

	sess, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			c.logger.WarnContext(ctx, "loading session for logout failed", "error", err)
		}
		c.discard(ctx, sessionID)
		c.recordLogout(ctx, telemetry.ResultNoSession)
		return LogoutResult{}
	}

	res := LogoutResult{HadSession: true}
	if err := c.identity.RevokeSession(ctx, sess.ID); err != nil {
		c.logger.WarnContext(ctx, "revoking canister session failed",
			"principal", sess.Principal,
			"unavailable", errors.Is(err, domain.ErrServiceUnavailable),
			"error", err,
		)
		c.recordLogout(ctx, telemetry.ResultRevokeFailed)
	} else {
		res.Revoked = true
		c.recordLogout(ctx, telemetry.ResultRevoked)
	}

	c.discard(ctx, sess.ID)
	return res
}

func (c *Coordinator) recordLogin(ctx context.Context, err error) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordLogin(ctx, loginResult(err))
}

func (c *Coordinator) recordLogout(ctx context.Context, result string) {
	if c.metrics != nil {
		c.metrics.RecordLogout(ctx, result)
	}
}

func loginResult(err error) string {
	switch {
	case err == nil:
		return telemetry.ResultSuccess
	case errors.Is(err, domain.ErrServiceUnavailable):
		return telemetry.ResultUnavailable
	case errors.Is(err, domain.ErrUnauthenticated):
		return telemetry.ResultUnauthenticated
	case errors.Is(err, domain.ErrProvisioning):
		return telemetry.ResultProvisioning
	default:
		return telemetry.ResultError
	}
}

// newSessionID returns 32 lowercase hex characters.
func newSessionID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}
