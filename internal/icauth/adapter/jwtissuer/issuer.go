// Package jwtissuer signs the bearer tokens returned by a successful login.
package jwtissuer

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"icauth/internal/domain"
	"icauth/internal/icauth"
)

// Config defines how tokens are signed.
type Config struct {
	Key    []byte
	Method string // HS256, HS384 or HS512
	Issuer string
	TTL    time.Duration
	Now    func() time.Time
}

// Issuer is an HMAC icauth.TokenIssuer. It holds no state besides its
// configuration and is safe for concurrent use.
type Issuer struct {
	key    []byte
	method jwt.SigningMethod
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

var _ icauth.TokenIssuer = (*Issuer)(nil)

// New validates cfg and returns an Issuer.
func New(cfg Config) (*Issuer, error) {
	if len(cfg.Key) == 0 {
		return nil, errors.New("jwtissuer: signing key is required")
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("jwtissuer: ttl must be positive, got %s", cfg.TTL)
	}
	if cfg.Method == "" {
		cfg.Method = jwt.SigningMethodHS256.Alg()
	}
	method, ok := jwt.GetSigningMethod(cfg.Method).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("jwtissuer: unsupported signing method %q", cfg.Method)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Issuer{
		key:    cfg.Key,
		method: method,
		issuer: cfg.Issuer,
		ttl:    cfg.TTL,
		now:    cfg.Now,
	}, nil
}

// Issue signs {iss, sub, exp} for principal.
func (i *Issuer) Issue(principal domain.Principal) (domain.Token, error) {
	if principal == "" {
		return domain.Token{}, fmt.Errorf("%w: empty subject", domain.ErrInvalidRequest)
	}

	exp := i.now().Add(i.ttl).Truncate(time.Second)
	claims := jwt.RegisteredClaims{
		Issuer:    i.issuer,
		Subject:   principal.String(),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(i.method, claims).SignedString(i.key)
	if err != nil {
		return domain.Token{}, fmt.Errorf("signing token: %w", err)
	}
	return domain.Token{Value: signed, Subject: principal, ExpiresAt: exp}, nil
}
