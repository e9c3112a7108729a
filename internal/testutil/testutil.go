package testutil

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"icauth/internal/domain"
	"icauth/internal/icauth/adapter/canister"
	"icauth/internal/mockcanister"
	"icauth/internal/platform/config"
)

// TestCanisterID is the canister every helper addresses.
const TestCanisterID = "rno2w-sqaaa-aaaaa-aaacq-cai"

// TestJWTKey signs tokens in configs built by Config.
const TestJWTKey = "test-signing-key-0123456789abcdef"

// StartCanister runs a mock canister answering in enc until the test ends.
func StartCanister(t *testing.T, enc mockcanister.Encoding) (*mockcanister.Canister, *httptest.Server) {
	t.Helper()
	mock := mockcanister.New(enc, TestCanisterID)
	srv := httptest.NewServer(mock.Handler())
	t.Cleanup(srv.Close)
	return mock, srv
}

// NewPrincipal returns a fresh self-authenticating principal.
func NewPrincipal(t *testing.T) domain.Principal {
	t.Helper()
	id, err := canister.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	return domain.Principal(id.Principal())
}

// Config returns a service configuration talking to canisterURL, with
// users in a throwaway SQLite file and sessions in memory.
func Config(t *testing.T, canisterURL string) config.Config {
	t.Helper()
	return config.Config{
		Addr:        "127.0.0.1:0",
		LogLevel:    "error",
		DatabaseURL: "file:" + filepath.Join(t.TempDir(), "icauth.db"),
		Canister: config.CanisterConfig{
			NetworkURL:  canisterURL,
			CanisterID:  TestCanisterID,
			CallTimeout: 2 * time.Second,
		},
		Token: config.TokenConfig{
			SecretKey: TestJWTKey,
			Method:    "HS256",
			Issuer:    "web3r.chat",
		},
		Session: config.SessionConfig{
			CookieName: "sessionid",
			Age:        8 * time.Hour,
			PendingTTL: 2 * time.Minute,
			SameSite:   "lax",
		},
		RateLimit: config.RateLimitConfig{Rate: 1000, Burst: 1000},
	}
}

// ParseToken verifies raw with key and returns its claims.
func ParseToken(t *testing.T, raw string, key []byte) jwt.MapClaims {
	t.Helper()
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		t.Fatalf("parsing token: %v", err)
	}
	return claims
}

// QuietLogger discards everything.
func QuietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// Listen opens a loopback listener closed when the test ends.
func Listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	return ln
}

// WaitForReady polls url until it answers or three seconds pass.
func WaitForReady(t *testing.T, url string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server did not become ready at %s", url)
}
