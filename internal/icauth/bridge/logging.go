package bridge

import (
	"context"
	"errors"
	"log/slog"

	"icauth/internal/domain"
	"icauth/internal/icauth"
)

type loggingAuthenticator struct {
	logger *slog.Logger
	next   icauth.Authenticator
}

// NewLogging wraps next so every authentication attempt is logged.
func NewLogging(logger *slog.Logger, next icauth.Authenticator) icauth.Authenticator {
	if logger == nil || next == nil {
		return next
	}
	return &loggingAuthenticator{logger: logger, next: next}
}

func (a *loggingAuthenticator) Authenticate(ctx context.Context, creds icauth.Credentials) (domain.User, error) {
	phase := "check"
	if creds.HasLocalSession() {
		phase = "bind"
	}

	user, err := a.next.Authenticate(ctx, creds)
	reqID := icauth.RequestIDFromContext(ctx)
	switch {
	case err == nil:
		a.logger.DebugContext(ctx, "authenticated", "phase", phase, "principal", creds.Principal, "user_id", user.ID, "request_id", reqID)
	case errors.Is(err, domain.ErrUnauthenticated):
		a.logger.InfoContext(ctx, "authentication refused", "phase", phase, "principal", creds.Principal, "request_id", reqID)
	case errors.Is(err, domain.ErrServiceUnavailable):
		a.logger.WarnContext(ctx, "identity service unavailable", "phase", phase, "principal", creds.Principal, "request_id", reqID, "err", err.Error())
	default:
		a.logger.ErrorContext(ctx, "authentication failed", "phase", phase, "principal", creds.Principal, "request_id", reqID, "err", err.Error())
	}
	return user, err
}

func (a *loggingAuthenticator) Lookup(ctx context.Context, userID string) (domain.User, error) {
	user, err := a.next.Lookup(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		a.logger.ErrorContext(ctx, "user lookup failed", "user_id", userID, "err", err.Error())
	}
	return user, err
}
