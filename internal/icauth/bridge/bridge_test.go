package bridge_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"icauth/internal/domain"
	"icauth/internal/icauth"
	"icauth/internal/icauth/adapter/inmem"
	"icauth/internal/icauth/bridge"
)

type stubIdentity struct {
	checkFn func() (domain.Outcome, error)
	bindFn  func(id string) (domain.Outcome, error)
	calls   int
}

func (s *stubIdentity) CheckSecret(context.Context, domain.Principal, domain.SessionSecret) (domain.Outcome, error) {
	s.calls++
	if s.checkFn != nil {
		return s.checkFn()
	}
	return domain.Ok{}, nil
}

func (s *stubIdentity) BindSession(_ context.Context, id string, _ domain.Principal, _ domain.SessionSecret) (domain.Outcome, error) {
	s.calls++
	if s.bindFn != nil {
		return s.bindFn(id)
	}
	return domain.Ok{}, nil
}

func (s *stubIdentity) RevokeSession(context.Context, string) error {
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPhaseOneProvisionsUser(t *testing.T) {
	users := inmem.NewUsers(time.Now)
	b := bridge.New(&stubIdentity{}, users, quietLogger(), nil)

	u, err := b.Authenticate(context.Background(), icauth.Credentials{Principal: "2vxsx-fae", Secret: "s"})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if u.Principal != "2vxsx-fae" || u.ID == "" {
		t.Errorf("unexpected user %+v", u)
	}

	again, err := b.Authenticate(context.Background(), icauth.Credentials{Principal: "2vxsx-fae", Secret: "s"})
	if err != nil {
		t.Fatalf("second Authenticate: %v", err)
	}
	if again.ID != u.ID || users.Count() != 1 {
		t.Errorf("phase 1 is not idempotent: %s vs %s, %d users", u.ID, again.ID, users.Count())
	}

	looked, err := b.Lookup(context.Background(), u.ID)
	if err != nil || looked.ID != u.ID {
		t.Errorf("Lookup: %+v, %v", looked, err)
	}
}

func TestPhaseOneFailures(t *testing.T) {
	tests := []struct {
		name    string
		creds   icauth.Credentials
		check   func() (domain.Outcome, error)
		wantErr error
		wantRPC bool
	}{
		{
			name:    "err outcome",
			creds:   icauth.Credentials{Principal: "2vxsx-fae", Secret: "s"},
			check:   func() (domain.Outcome, error) { return domain.Err{Reason: "err"}, nil },
			wantErr: domain.ErrUnauthenticated,
			wantRPC: true,
		},
		{
			name:    "unavailable",
			creds:   icauth.Credentials{Principal: "2vxsx-fae", Secret: "s"},
			check:   func() (domain.Outcome, error) { return nil, fmt.Errorf("dial: %w", domain.ErrServiceUnavailable) },
			wantErr: domain.ErrServiceUnavailable,
			wantRPC: true,
		},
		{
			name:    "unrecognized reply",
			creds:   icauth.Credentials{Principal: "2vxsx-fae", Secret: "s"},
			check:   func() (domain.Outcome, error) { return domain.Err{}, domain.ErrResponseFormat },
			wantErr: domain.ErrUnauthenticated,
			wantRPC: true,
		},
		{
			name:    "invalid principal",
			creds:   icauth.Credentials{Principal: "Not A Principal", Secret: "s"},
			wantErr: domain.ErrUnauthenticated,
		},
		{
			name:    "empty secret",
			creds:   icauth.Credentials{Principal: "2vxsx-fae"},
			wantErr: domain.ErrUnauthenticated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := &stubIdentity{checkFn: tt.check}
			users := inmem.NewUsers(time.Now)
			b := bridge.New(id, users, quietLogger(), nil)

			_, err := b.Authenticate(context.Background(), tt.creds)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if users.Count() != 0 {
				t.Error("failed check must not provision a user")
			}
			if (id.calls > 0) != tt.wantRPC {
				t.Errorf("expected rpc=%v, got %d calls", tt.wantRPC, id.calls)
			}
		})
	}
}

func TestPhaseTwoBindsPendingSession(t *testing.T) {
	ctx := context.Background()
	users := inmem.NewUsers(time.Now)
	u, _, _ := users.FindOrCreate(ctx, "2vxsx-fae")

	var bound string
	id := &stubIdentity{bindFn: func(sid string) (domain.Outcome, error) {
		bound = sid
		return domain.Ok{}, nil
	}}
	b := bridge.New(id, users, quietLogger(), nil)

	sess := &domain.LocalSession{ID: "s1", UserID: u.ID, Principal: "2vxsx-fae", State: domain.SessionPending}
	got, err := b.Authenticate(ctx, icauth.Credentials{Principal: "2vxsx-fae", Secret: "s", Session: sess})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("expected user %s, got %s", u.ID, got.ID)
	}
	if bound != "s1" {
		t.Errorf("expected bind of s1, got %q", bound)
	}
}

func TestPhaseTwoRequiresPendingSessionOfSamePrincipal(t *testing.T) {
	tests := []struct {
		name string
		sess domain.LocalSession
	}{
		{"already bound", domain.LocalSession{ID: "s1", Principal: "2vxsx-fae", State: domain.SessionBound}},
		{"other principal", domain.LocalSession{ID: "s1", Principal: "aaaaa-aa", State: domain.SessionPending}},
		{"no id", domain.LocalSession{Principal: "2vxsx-fae", State: domain.SessionPending}},
		{"unknown state", domain.LocalSession{ID: "s1", Principal: "2vxsx-fae"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := &stubIdentity{}
			b := bridge.New(id, inmem.NewUsers(time.Now), quietLogger(), nil)

			_, err := b.Authenticate(context.Background(), icauth.Credentials{Principal: "2vxsx-fae", Secret: "s", Session: &tt.sess})
			if !errors.Is(err, domain.ErrUnauthenticated) {
				t.Fatalf("expected ErrUnauthenticated, got %v", err)
			}
			if id.calls != 0 {
				t.Errorf("expected no canister call, got %d", id.calls)
			}
		})
	}
}

func TestPhaseTwoProvisioningFaults(t *testing.T) {
	ctx := context.Background()

	t.Run("no local user", func(t *testing.T) {
		b := bridge.New(&stubIdentity{}, inmem.NewUsers(time.Now), quietLogger(), nil)
		sess := &domain.LocalSession{ID: "s1", Principal: "2vxsx-fae", State: domain.SessionPending}

		_, err := b.Authenticate(ctx, icauth.Credentials{Principal: "2vxsx-fae", Secret: "s", Session: sess})
		if !errors.Is(err, domain.ErrProvisioning) {
			t.Fatalf("expected ErrProvisioning, got %v", err)
		}
	})

	t.Run("session of another user", func(t *testing.T) {
		users := inmem.NewUsers(time.Now)
		users.FindOrCreate(ctx, "2vxsx-fae")
		b := bridge.New(&stubIdentity{}, users, quietLogger(), nil)
		sess := &domain.LocalSession{ID: "s1", UserID: "someone-else", Principal: "2vxsx-fae", State: domain.SessionPending}

		_, err := b.Authenticate(ctx, icauth.Credentials{Principal: "2vxsx-fae", Secret: "s", Session: sess})
		if !errors.Is(err, domain.ErrProvisioning) {
			t.Fatalf("expected ErrProvisioning, got %v", err)
		}
	})
}

func TestPhaseTwoRejectedBind(t *testing.T) {
	ctx := context.Background()
	users := inmem.NewUsers(time.Now)
	users.FindOrCreate(ctx, "2vxsx-fae")
	id := &stubIdentity{bindFn: func(string) (domain.Outcome, error) {
		return domain.Err{Reason: "rejected"}, nil
	}}
	b := bridge.New(id, users, quietLogger(), nil)
	sess := &domain.LocalSession{ID: "s1", Principal: "2vxsx-fae", State: domain.SessionPending}

	_, err := b.Authenticate(ctx, icauth.Credentials{Principal: "2vxsx-fae", Secret: "s", Session: sess})
	if !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestLoggingDecorator(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	id := &stubIdentity{checkFn: func() (domain.Outcome, error) { return nil, domain.ErrServiceUnavailable }}
	auth := bridge.NewLogging(logger, bridge.New(id, inmem.NewUsers(time.Now), quietLogger(), nil))

	ctx := icauth.ContextWithRequestID(context.Background(), "req-42")
	_, err := auth.Authenticate(ctx, icauth.Credentials{Principal: "2vxsx-fae", Secret: "hunter2"})
	if !errors.Is(err, domain.ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}

	out := buf.String()
	for _, want := range []string{`"level":"WARN"`, `"phase":"check"`, `"request_id":"req-42"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s: %s", want, out)
		}
	}
	if strings.Contains(out, "hunter2") {
		t.Errorf("secret leaked: %s", out)
	}
}
