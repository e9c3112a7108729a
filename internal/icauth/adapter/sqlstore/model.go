package sqlstore

import (
	"time"

	"github.com/uptrace/bun"

	"icauth/internal/domain"
)

type userRow struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID          string     `bun:"id,pk"`
	Principal   string     `bun:"principal,notnull,unique"`
	IsStaff     bool       `bun:"is_staff,notnull"`
	IsSuperuser bool       `bun:"is_superuser,notnull"`
	CreatedAt   time.Time  `bun:"created_at,notnull"`
	LastLoginAt *time.Time `bun:"last_login_at"`
}

func (r *userRow) toDomain() domain.User {
	u := domain.User{
		ID:          r.ID,
		Principal:   domain.Principal(r.Principal),
		IsStaff:     r.IsStaff,
		IsSuperuser: r.IsSuperuser,
		CreatedAt:   r.CreatedAt,
	}
	if r.LastLoginAt != nil {
		t := *r.LastLoginAt
		u.LastLoginAt = &t
	}
	return u
}
