package canister_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"icauth/internal/domain"
	"icauth/internal/icauth/adapter/canister"
	"icauth/internal/mockcanister"
)

const testCanisterID = "rno2w-sqaaa-aaaaa-aaacq-cai"

func newTestClient(t *testing.T, url string, timeout time.Duration) (*canister.Client, *canister.Identity) {
	t.Helper()
	id, err := canister.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	c, err := canister.New(canister.Config{
		URL:        url,
		CanisterID: testCanisterID,
		Identity:   id,
		Timeout:    timeout,
	})
	if err != nil {
		t.Fatalf("canister.New: %v", err)
	}
	return c, id
}

func startMock(t *testing.T, enc mockcanister.Encoding) (*mockcanister.Canister, *httptest.Server) {
	t.Helper()
	mock := mockcanister.New(enc, testCanisterID)
	srv := httptest.NewServer(mock.Handler())
	t.Cleanup(srv.Close)
	return mock, srv
}

func TestClientFlow(t *testing.T) {
	for _, enc := range []mockcanister.Encoding{mockcanister.EncodingFlat, mockcanister.EncodingEnvelope} {
		t.Run(string(enc), func(t *testing.T) {
			mock, srv := startMock(t, enc)
			mock.SetSecret("2vxsx-fae", "s3cr3t")
			c, _ := newTestClient(t, srv.URL, time.Second)
			ctx := context.Background()

			out, err := c.CheckSecret(ctx, "2vxsx-fae", "s3cr3t")
			if err != nil {
				t.Fatalf("CheckSecret: %v", err)
			}
			if !out.IsOk() {
				t.Fatalf("expected Ok for valid secret, got %#v", out)
			}

			out, err = c.CheckSecret(ctx, "2vxsx-fae", "wrong")
			if err != nil {
				t.Fatalf("CheckSecret: %v", err)
			}
			if out.IsOk() {
				t.Error("expected Err for wrong secret")
			}

			out, err = c.BindSession(ctx, "session-1", "2vxsx-fae", "s3cr3t")
			if err != nil {
				t.Fatalf("BindSession: %v", err)
			}
			if !out.IsOk() {
				t.Fatalf("expected Ok binding, got %#v", out)
			}
			if p, ok := mock.Binding("session-1"); !ok || p != "2vxsx-fae" {
				t.Errorf("expected binding to 2vxsx-fae, got %q (%v)", p, ok)
			}

			if err := c.RevokeSession(ctx, "session-1"); err != nil {
				t.Fatalf("RevokeSession: %v", err)
			}
			if _, ok := mock.Binding("session-1"); ok {
				t.Error("expected binding removed")
			}

			// Revoking an absent binding is not an error.
			if err := c.RevokeSession(ctx, "session-1"); err != nil {
				t.Errorf("RevokeSession of absent binding: %v", err)
			}
		})
	}
}

func TestClientWhoami(t *testing.T) {
	for _, enc := range []mockcanister.Encoding{mockcanister.EncodingFlat, mockcanister.EncodingEnvelope} {
		t.Run(string(enc), func(t *testing.T) {
			_, srv := startMock(t, enc)
			c, id := newTestClient(t, srv.URL, time.Second)

			got, err := c.Whoami(context.Background())
			if err != nil {
				t.Fatalf("Whoami: %v", err)
			}
			if got != id.Principal() {
				t.Errorf("expected %q, got %q", id.Principal(), got)
			}
		})
	}
}

func TestClientWhoamiRejectsNonPrincipalReplies(t *testing.T) {
	tests := map[string]string{
		"object":     `{"status":"fine"}`,
		"empty list": `[]`,
		"not text":   `[42]`,
		"bad text":   `"Not A Principal"`,
	}
	for name, reply := range tests {
		t.Run(name, func(t *testing.T) {
			mock, srv := startMock(t, mockcanister.EncodingFlat)
			mock.SetReply(canister.MethodWhoami, reply)
			c, _ := newTestClient(t, srv.URL, time.Second)

			got, err := c.Whoami(context.Background())
			if !errors.Is(err, domain.ErrResponseFormat) {
				t.Fatalf("expected ErrResponseFormat, got %q, %v", got, err)
			}
		})
	}
}

func TestClientWhoamiRejectedByReplica(t *testing.T) {
	mock := mockcanister.New(mockcanister.EncodingFlat, "aaaaa-aa")
	srv := httptest.NewServer(mock.Handler())
	defer srv.Close()
	c, _ := newTestClient(t, srv.URL, time.Second)

	got, err := c.Whoami(context.Background())
	if err == nil {
		t.Fatalf("expected an error for a rejected whoami, got principal %q", got)
	}
	if errors.Is(err, domain.ErrServiceUnavailable) {
		t.Errorf("a reject is not an outage: %v", err)
	}
}

func TestClientUnavailable(t *testing.T) {
	mock, srv := startMock(t, mockcanister.EncodingFlat)
	mock.SetUnavailable(true)
	c, _ := newTestClient(t, srv.URL, time.Second)

	_, err := c.CheckSecret(context.Background(), "2vxsx-fae", "s3cr3t")
	if !errors.Is(err, domain.ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}
	if err := c.RevokeSession(context.Background(), "session-1"); !errors.Is(err, domain.ErrServiceUnavailable) {
		t.Errorf("expected ErrServiceUnavailable from revoke, got %v", err)
	}
}

func TestClientConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, _ := newTestClient(t, url, time.Second)
	_, err := c.CheckSecret(context.Background(), "2vxsx-fae", "s3cr3t")
	if !errors.Is(err, domain.ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}
}

func TestClientTimeout(t *testing.T) {
	mock, srv := startMock(t, mockcanister.EncodingFlat)
	mock.SetDelay(500 * time.Millisecond)
	c, _ := newTestClient(t, srv.URL, 50*time.Millisecond)

	start := time.Now()
	_, err := c.CheckSecret(context.Background(), "2vxsx-fae", "s3cr3t")
	if !errors.Is(err, domain.ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable on timeout, got %v", err)
	}
	if time.Since(start) > 400*time.Millisecond {
		t.Errorf("call was not bounded by the timeout: took %s", time.Since(start))
	}
}

func TestClientUnknownReplyFormat(t *testing.T) {
	mock, srv := startMock(t, mockcanister.EncodingFlat)
	mock.SetReply(canister.MethodCheckSecret, `{"status":"fine"}`)
	c, _ := newTestClient(t, srv.URL, time.Second)

	out, err := c.CheckSecret(context.Background(), "2vxsx-fae", "s3cr3t")
	if !errors.Is(err, domain.ErrResponseFormat) {
		t.Fatalf("expected ErrResponseFormat, got %v", err)
	}
	if out == nil || out.IsOk() {
		t.Errorf("unknown replies must fail closed, got %#v", out)
	}
}

func TestClientRejectedByReplica(t *testing.T) {
	// A mock bound to a different canister answers 404, which the client
	// reports as a reject rather than an outage.
	mock := mockcanister.New(mockcanister.EncodingFlat, "aaaaa-aa")
	srv := httptest.NewServer(mock.Handler())
	defer srv.Close()
	c, _ := newTestClient(t, srv.URL, time.Second)

	out, err := c.CheckSecret(context.Background(), "2vxsx-fae", "s3cr3t")
	if err != nil {
		t.Fatalf("expected no error for a reject, got %v", err)
	}
	if e, ok := out.(domain.Err); !ok || e.Reason != "rejected" {
		t.Errorf("expected Err{rejected}, got %#v", out)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	id, err := canister.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}

	tests := []struct {
		name string
		cfg  canister.Config
	}{
		{"missing identity", canister.Config{URL: "http://localhost:8000", CanisterID: testCanisterID}},
		{"missing canister", canister.Config{URL: "http://localhost:8000", Identity: id}},
		{"bad scheme", canister.Config{URL: "ftp://localhost", CanisterID: testCanisterID, Identity: id}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := canister.New(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}
