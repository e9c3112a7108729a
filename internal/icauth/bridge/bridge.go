// Package bridge authenticates principals against the identity canister
// and reconciles them with local users.
//
// Authentication runs in two phases. Phase 1 has no local session: the
// session secret is checked and the user is provisioned on first contact.
// Phase 2 runs after the caller created a pending session: the session is
// bound in the canister so logout can revoke it there.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"icauth/internal/domain"
	"icauth/internal/icauth"
	"icauth/internal/platform/telemetry"
)

// Bridge is the canister-backed icauth.Authenticator.
type Bridge struct {
	identity icauth.IdentityService
	users    icauth.UserStore
	logger   *slog.Logger
	metrics  *telemetry.Metrics
}

var _ icauth.Authenticator = (*Bridge)(nil)

// New creates a Bridge. The metrics parameter is optional; pass nil to skip metric recording.
func New(identity icauth.IdentityService, users icauth.UserStore, logger *slog.Logger, m *telemetry.Metrics) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{identity: identity, users: users, logger: logger, metrics: m}
}

// Authenticate runs phase 1 when creds carry no session and phase 2 otherwise.
// Errors wrap domain.ErrUnauthenticated, domain.ErrServiceUnavailable or
// domain.ErrProvisioning. Nothing is retried.
func (b *Bridge) Authenticate(ctx context.Context, creds icauth.Credentials) (domain.User, error) {
	if err := creds.Principal.Validate(); err != nil {
		return domain.User{}, fmt.Errorf("%w: %w", domain.ErrUnauthenticated, err)
	}
	if creds.Secret == "" {
		return domain.User{}, fmt.Errorf("%w: empty session password", domain.ErrUnauthenticated)
	}
	if !creds.HasLocalSession() {
		return b.checkSecret(ctx, creds)
	}
	return b.bindSession(ctx, creds)
}

// Lookup returns the user with the given ID.
func (b *Bridge) Lookup(ctx context.Context, userID string) (domain.User, error) {
	return b.users.FindByID(ctx, userID)
}

func (b *Bridge) checkSecret(ctx context.Context, creds icauth.Credentials) (domain.User, error) {
	out, err := b.identity.CheckSecret(ctx, creds.Principal, creds.Secret)
	if err := b.accepted(ctx, "check", out, err); err != nil {
		return domain.User{}, err
	}

	user, created, err := b.users.FindOrCreate(ctx, creds.Principal)
	if err != nil {
		return domain.User{}, fmt.Errorf("provisioning user %s: %w", creds.Principal, err)
	}
	if created {
		b.logger.InfoContext(ctx, "user provisioned", "principal", creds.Principal, "user_id", user.ID)
		if b.metrics != nil {
			b.metrics.RecordUserCreated(ctx)
		}
	}
	return user, nil
}

func (b *Bridge) bindSession(ctx context.Context, creds icauth.Credentials) (domain.User, error) {
	// Only a session that phase 1 just created for this principal may be
	// bound; a replayed or foreign session ID never reaches the canister.
	s := creds.Session
	if s.ID == "" || s.State != domain.SessionPending || s.Principal != creds.Principal {
		b.logger.WarnContext(ctx, "bind attempted without a pending session",
			"principal", creds.Principal,
			"session_state", s.State.String(),
		)
		return domain.User{}, fmt.Errorf("%w: session is not pending for this principal", domain.ErrUnauthenticated)
	}

	out, err := b.identity.BindSession(ctx, s.ID, creds.Principal, creds.Secret)
	if err := b.accepted(ctx, "bind", out, err); err != nil {
		return domain.User{}, err
	}

	user, err := b.users.FindByPrincipal(ctx, creds.Principal)
	if errors.Is(err, domain.ErrNotFound) {
		b.logger.ErrorContext(ctx, "bound principal has no local user", "principal", creds.Principal, "session_user_id", s.UserID)
		return domain.User{}, fmt.Errorf("%w: no user for %s", domain.ErrProvisioning, creds.Principal)
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("loading user %s: %w", creds.Principal, err)
	}
	if s.UserID != "" && user.ID != s.UserID {
		b.logger.ErrorContext(ctx, "session user does not match principal", "principal", creds.Principal, "user_id", user.ID, "session_user_id", s.UserID)
		return domain.User{}, fmt.Errorf("%w: session user %s is not %s", domain.ErrProvisioning, s.UserID, user.ID)
	}
	return user, nil
}

// accepted maps a canister reply onto the bridge's errors; nil means Ok.
func (b *Bridge) accepted(ctx context.Context, phase string, out domain.Outcome, err error) error {
	switch {
	case errors.Is(err, domain.ErrServiceUnavailable):
		return err
	case errors.Is(err, domain.ErrResponseFormat):
		b.logger.WarnContext(ctx, "unrecognized canister reply", "phase", phase, "error", err)
		return fmt.Errorf("%w: %w", domain.ErrUnauthenticated, err)
	case err != nil:
		return fmt.Errorf("canister %s: %w", phase, err)
	case out == nil || !out.IsOk():
		return domain.ErrUnauthenticated
	}
	return nil
}
