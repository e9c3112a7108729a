package domain

import (
	"fmt"
	"log/slog"
)

const maxPrincipalLen = 63

// Principal is the textual identity asserted by the canister, e.g.
// "2vxsx-fae". It is the lookup key for local users.
type Principal string

// Validate reports whether p looks like a textual principal.
func (p Principal) Validate() error {
	if p == "" {
		return fmt.Errorf("%w: empty principal", ErrInvalidRequest)
	}
	if len(p) > maxPrincipalLen {
		return fmt.Errorf("%w: principal longer than %d bytes", ErrInvalidRequest, maxPrincipalLen)
	}
	for _, c := range p {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '-' {
			return fmt.Errorf("%w: principal contains %q", ErrInvalidRequest, c)
		}
	}
	return nil
}

func (p Principal) String() string { return string(p) }

// SessionSecret is the short-lived password the dApp obtained from the
// canister. It is never stored and never logged.
type SessionSecret string

// LogValue keeps secrets out of structured logs.
func (SessionSecret) LogValue() slog.Value {
	return slog.StringValue("[redacted]")
}
