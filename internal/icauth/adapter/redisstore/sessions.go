// Package redisstore keeps local sessions in Redis so several icauth
// processes can share them. Redis expires each key at the session's
// ExpiresAt.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"icauth/internal/domain"
	"icauth/internal/icauth"
)

// Config contains configuration options for the session store.
type Config struct {
	Client redis.UniversalClient

	// KeyPrefix is prepended to every session ID.
	// Default: "icauth:session:"
	KeyPrefix string

	Now func() time.Time
}

// Sessions implements icauth.SessionStore on Redis.
type Sessions struct {
	client    redis.UniversalClient
	keyPrefix string
	now       func() time.Time
}

var _ icauth.SessionStore = (*Sessions)(nil)

// New creates a Redis-backed session store.
func New(cfg Config) (*Sessions, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "icauth:session:"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Sessions{client: cfg.Client, keyPrefix: cfg.KeyPrefix, now: cfg.Now}, nil
}

func (s *Sessions) Create(ctx context.Context, sess domain.LocalSession) error {
	val, ttl, err := s.encode(sess)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.key(sess.ID), val, ttl).Result()
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	if !ok {
		return fmt.Errorf("session %s: %w", sess.ID, domain.ErrConflict)
	}
	return nil
}

func (s *Sessions) Get(ctx context.Context, id string) (domain.LocalSession, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.LocalSession{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.LocalSession{}, fmt.Errorf("loading session: %w", err)
	}

	var sess domain.LocalSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return domain.LocalSession{}, fmt.Errorf("decoding session %s: %w", id, err)
	}
	if sess.Expired(s.now()) {
		return domain.LocalSession{}, domain.ErrNotFound
	}
	return sess, nil
}

func (s *Sessions) Save(ctx context.Context, sess domain.LocalSession) error {
	val, ttl, err := s.encode(sess)
	if err != nil {
		return err
	}
	ok, err := s.client.SetXX(ctx, s.key(sess.ID), val, ttl).Result()
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	if !ok {
		return fmt.Errorf("session %s: %w", sess.ID, domain.ErrNotFound)
	}
	return nil
}

func (s *Sessions) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (s *Sessions) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Sessions) key(id string) string {
	return s.keyPrefix + id
}

// encode returns the stored value and its Redis TTL. Sessions always expire.
func (s *Sessions) encode(sess domain.LocalSession) ([]byte, time.Duration, error) {
	if sess.ID == "" {
		return nil, 0, fmt.Errorf("%w: empty session id", domain.ErrInvalidRequest)
	}
	ttl := sess.ExpiresAt.Sub(s.now())
	if sess.ExpiresAt.IsZero() || ttl <= 0 {
		return nil, 0, fmt.Errorf("%w: session %s has no future expiry", domain.ErrInvalidRequest, sess.ID)
	}
	val, err := json.Marshal(sess)
	if err != nil {
		return nil, 0, fmt.Errorf("encoding session: %w", err)
	}
	return val, ttl, nil
}
