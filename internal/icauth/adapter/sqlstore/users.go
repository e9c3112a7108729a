// Package sqlstore keeps local users in a SQL database through bun.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"icauth/internal/domain"
	"icauth/internal/icauth"
)

// Users implements icauth.UserStore. The unique index on principal makes
// FindOrCreate safe under concurrent first logins.
type Users struct {
	db  *bun.DB
	now func() time.Time
}

var _ icauth.UserStore = (*Users)(nil)

// NewUsers creates a store on db. clock is injectable for deterministic testing.
func NewUsers(db *bun.DB, clock func() time.Time) *Users {
	if clock == nil {
		clock = time.Now
	}
	return &Users{db: db, now: clock}
}

func (s *Users) FindOrCreate(ctx context.Context, principal domain.Principal) (domain.User, bool, error) {
	row := &userRow{
		ID:        uuid.NewString(),
		Principal: principal.String(),
		CreatedAt: s.now().UTC(),
	}
	res, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (principal) DO NOTHING").
		Returning("NULL").
		Exec(ctx)
	if err != nil {
		return domain.User{}, false, fmt.Errorf("insert user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.User{}, false, fmt.Errorf("insert user: %w", err)
	}

	u, err := s.FindByPrincipal(ctx, principal)
	if err != nil {
		return domain.User{}, false, err
	}
	return u, n == 1, nil
}

func (s *Users) FindByPrincipal(ctx context.Context, principal domain.Principal) (domain.User, error) {
	return s.findOne(ctx, "principal = ?", principal.String())
}

func (s *Users) FindByID(ctx context.Context, id string) (domain.User, error) {
	return s.findOne(ctx, "id = ?", id)
}

func (s *Users) findOne(ctx context.Context, where string, arg any) (domain.User, error) {
	row := new(userRow)
	err := s.db.NewSelect().
		Model(row).
		Where(where, arg).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("select user: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Users) TouchLogin(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.NewUpdate().
		Model((*userRow)(nil)).
		Set("last_login_at = ?", at.UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *Users) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
