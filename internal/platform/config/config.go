package config

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all configuration for the icauth service.
type Config struct {
	Addr     string `env:"ICAUTH_ADDR" envDefault:":8001"`
	BasePath string `env:"ICAUTH_BASE_PATH"` // e.g. /api/v1/icauth
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	// UseSSL marks session cookies Secure.
	UseSSL             bool     `env:"USE_SSL"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	DatabaseURL        string   `env:"DATABASE_URL" envDefault:"file:icauth.db?cache=shared"`
	RedisURL           string   `env:"REDIS_URL"` // empty keeps sessions in memory
	OTLPEndpoint       string   `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	Canister  CanisterConfig
	Token     TokenConfig
	Session   SessionConfig
	RateLimit RateLimitConfig
}

// CanisterConfig locates the identity canister and the key the service
// signs its calls with.
type CanisterConfig struct {
	NetworkURL string `env:"IC_NETWORK_URL" envDefault:"http://localhost:8000"`
	CanisterID string `env:"CANISTER_MOTOKO_ID" envDefault:"rno2w-sqaaa-aaaaa-aaacq-cai"`
	// IdentityPEMEncoded is a base64-encoded PKCS#8 PEM Ed25519 key.
	IdentityPEMEncoded string        `env:"IC_IDENTITY_PEM_ENCODED"`
	CallTimeout        time.Duration `env:"IC_CALL_TIMEOUT" envDefault:"10s"`
}

// TokenConfig controls JWT issuance.
type TokenConfig struct {
	SecretKey string `env:"SECRET_JWT_KEY"`
	Method    string `env:"JWT_METHOD" envDefault:"HS256"`
	Issuer    string `env:"JWT_ISSUER" envDefault:"web3r.chat"`
}

// SessionConfig controls local sessions and their cookie.
type SessionConfig struct {
	CookieName string        `env:"SESSION_COOKIE_NAME" envDefault:"sessionid"`
	Age        time.Duration `env:"SESSION_COOKIE_AGE" envDefault:"8h"`
	PendingTTL time.Duration `env:"SESSION_PENDING_TTL" envDefault:"2m"`
	SameSite   string        `env:"SESSION_COOKIE_SAMESITE" envDefault:"lax"`
}

// RateLimitConfig holds token bucket parameters for per-IP login limiting.
type RateLimitConfig struct {
	Rate  float64 `env:"RATE_LIMIT_RATE" envDefault:"5"`
	Burst int     `env:"RATE_LIMIT_BURST" envDefault:"10"`
}

// Load reads configuration from environment variables, falling back to defaults.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.BasePath = strings.TrimRight(cfg.BasePath, "/")
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Token.Method {
	case "HS256", "HS384", "HS512":
	default:
		errs = append(errs, fmt.Errorf("JWT_METHOD %q is not an HMAC method", c.Token.Method))
	}
	if c.Session.Age <= 0 {
		errs = append(errs, errors.New("SESSION_COOKIE_AGE must be positive"))
	}
	if c.Session.PendingTTL <= 0 {
		errs = append(errs, errors.New("SESSION_PENDING_TTL must be positive"))
	}
	if c.Canister.CallTimeout <= 0 {
		errs = append(errs, errors.New("IC_CALL_TIMEOUT must be positive"))
	}
	if c.RateLimit.Rate <= 0 || math.IsNaN(c.RateLimit.Rate) || math.IsInf(c.RateLimit.Rate, 0) {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_RATE %v must be a positive number", c.RateLimit.Rate))
	}
	if c.RateLimit.Burst <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BURST %d must be positive", c.RateLimit.Burst))
	}
	if c.BasePath != "" && !strings.HasPrefix(c.BasePath, "/") {
		errs = append(errs, fmt.Errorf("ICAUTH_BASE_PATH %q must start with /", c.BasePath))
	}
	if _, err := c.Session.SameSiteMode(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SameSiteMode maps the configured SameSite name onto net/http.
func (s SessionConfig) SameSiteMode() (http.SameSite, error) {
	switch strings.ToLower(s.SameSite) {
	case "lax", "":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, fmt.Errorf("SESSION_COOKIE_SAMESITE %q must be lax, strict or none", s.SameSite)
	}
}
