package domain

import "time"

// User is the local record for a principal. Users created by the bridge
// are never staff and never superusers.
type User struct {
	ID          string
	Principal   Principal
	IsStaff     bool
	IsSuperuser bool
	CreatedAt   time.Time
	LastLoginAt *time.Time
}

// SessionState tracks whether a local session has been bound in the canister.
type SessionState int

const (
	SessionUnknown SessionState = iota
	SessionPending
	SessionBound
)

func (s SessionState) String() string {
	switch s {
	case SessionPending:
		return "pending"
	case SessionBound:
		return "bound"
	default:
		return "unknown"
	}
}

// LocalSession is the server-side session established after phase 1.
// A pending session has no ExternalBinding yet and expires quickly.
type LocalSession struct {
	ID        string       `json:"id"`
	UserID    string       `json:"user_id"`
	Principal Principal    `json:"principal"`
	State     SessionState `json:"state"`
	CreatedAt time.Time    `json:"created_at"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// Expired reports whether the session is past its expiry at now.
func (s LocalSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Token is a signed bearer credential. It is never persisted.
type Token struct {
	Value     string
	Subject   Principal
	ExpiresAt time.Time
}
