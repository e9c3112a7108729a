package domain

import "encoding/json"

// Outcome is the result of a canister call. It has exactly two variants,
// Ok and Err.
type Outcome interface {
	// IsOk reports whether the canister accepted the call.
	IsOk() bool
	outcome()
}

// Ok is the accepted variant. Value holds the raw payload under "ok".
type Ok struct {
	Value json.RawMessage
}

// Err is the refused variant. Reason is "rejected" for canister rejects,
// "err" for an explicit err variant, or empty when nothing could be decoded.
type Err struct {
	Reason string
	Value  json.RawMessage
}

func (Ok) IsOk() bool  { return true }
func (Err) IsOk() bool { return false }

func (Ok) outcome()  {}
func (Err) outcome() {}
