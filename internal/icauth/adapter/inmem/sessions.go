package inmem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"icauth/internal/domain"
	"icauth/internal/icauth"
)

// Sessions is a SessionStore held in memory. Expired sessions are invisible
// to Get and removed by Cleanup.
type Sessions struct {
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]domain.LocalSession
}

var _ icauth.SessionStore = (*Sessions)(nil)

// NewSessions creates an empty store. clock is injectable for deterministic testing.
func NewSessions(clock func() time.Time) *Sessions {
	return &Sessions{
		now:      clock,
		sessions: make(map[string]domain.LocalSession),
	}
}

func (s *Sessions) Create(_ context.Context, sess domain.LocalSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[sess.ID]; ok && !existing.Expired(s.now()) {
		return fmt.Errorf("session %s: %w", sess.ID, domain.ErrConflict)
	}
	s.sessions[sess.ID] = sess
	return nil
}

func (s *Sessions) Get(_ context.Context, id string) (domain.LocalSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return domain.LocalSession{}, domain.ErrNotFound
	}
	if sess.Expired(s.now()) {
		delete(s.sessions, id)
		return domain.LocalSession{}, domain.ErrNotFound
	}
	return sess, nil
}

func (s *Sessions) Save(_ context.Context, sess domain.LocalSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sessions[sess.ID]
	if !ok || existing.Expired(s.now()) {
		return fmt.Errorf("session %s: %w", sess.ID, domain.ErrNotFound)
	}
	s.sessions[sess.ID] = sess
	return nil
}

func (s *Sessions) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Cleanup removes expired sessions.
func (s *Sessions) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, id)
		}
	}
}

// Len returns the number of stored sessions, expired or not (for testing).
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
