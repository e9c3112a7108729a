package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"icauth/internal/domain"
	"icauth/internal/icauth"
)

// Users is a UserStore held in memory. FindOrCreate is atomic per principal.
type Users struct {
	now func() time.Time

	mu          sync.Mutex
	byID        map[string]domain.User
	byPrincipal map[domain.Principal]string
}

var _ icauth.UserStore = (*Users)(nil)

// NewUsers creates an empty store. clock is injectable for deterministic testing.
func NewUsers(clock func() time.Time) *Users {
	return &Users{
		now:         clock,
		byID:        make(map[string]domain.User),
		byPrincipal: make(map[domain.Principal]string),
	}
}

func (s *Users) FindOrCreate(_ context.Context, principal domain.Principal) (domain.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byPrincipal[principal]; ok {
		return s.byID[id], false, nil
	}
	u := domain.User{
		ID:        uuid.NewString(),
		Principal: principal,
		CreatedAt: s.now(),
	}
	s.byID[u.ID] = u
	s.byPrincipal[principal] = u.ID
	return u, true, nil
}

func (s *Users) FindByPrincipal(_ context.Context, principal domain.Principal) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byPrincipal[principal]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return s.byID[id], nil
}

func (s *Users) FindByID(_ context.Context, id string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (s *Users) TouchLogin(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	u.LastLoginAt = &at
	s.byID[id] = u
	return nil
}

// Delete removes a user. The bridge never calls it.
func (s *Users) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.byID[id]; ok {
		delete(s.byPrincipal, u.Principal)
		delete(s.byID, id)
	}
}

// Count returns the number of stored users (for testing).
func (s *Users) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}
