package domain

import "errors"

// Sentinel errors used across service boundaries.
var (
	// ErrUnauthenticated means the canister rejected the credential or the binding.
	ErrUnauthenticated    = errors.New("unauthenticated")
	// ErrServiceUnavailable means the canister could not be reached or timed out.
	// Callers may retry; it must never be reported as bad credentials.
	ErrServiceUnavailable = errors.New("identity service unavailable")
	// ErrProvisioning means phase 2 succeeded for a principal with no local user.
	ErrProvisioning       = errors.New("user provisioning inconsistency")
	ErrResponseFormat     = errors.New("unrecognized identity service response")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("already exists")
	ErrRateLimited        = errors.New("rate limited")
)

// ErrorResponse is the standard JSON error envelope returned to clients.
type ErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}
