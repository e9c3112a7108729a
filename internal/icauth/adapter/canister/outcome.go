package canister

import (
	"bytes"
	"encoding/json"
	"fmt"

	"icauth/internal/domain"
)

// rejected is the literal the agent reports when the canister refuses a call.
const rejected = "rejected"

// decoder maps one element of a variant response onto an Outcome.
// ok is false when the element does not use the decoder's encoding.
type decoder func(elem map[string]json.RawMessage) (out domain.Outcome, ok bool)

// Mainnet returns variants flat, e.g. [{"ok": null}]. Local replicas wrap
// them in a typed envelope, e.g. [{"type": "variant", "value": {"ok": null}}].
var decoders = []decoder{decodeFlat, decodeEnvelope}

// DecodeOutcome reports whether raw is an Ok variant under either wire
// encoding. Anything else, including unparseable input, is false.
func DecodeOutcome(raw []byte) bool {
	out, err := ParseOutcome(raw)
	return err == nil && out.IsOk()
}

// ParseOutcome decodes a variant response. Responses that match neither
// encoding return an Err outcome together with an error wrapping
// domain.ErrResponseFormat.
func ParseOutcome(raw []byte) (domain.Outcome, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return domain.Err{}, fmt.Errorf("%w: empty response", domain.ErrResponseFormat)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == rejected {
			return domain.Err{Reason: rejected}, nil
		}
		return domain.Err{}, fmt.Errorf("%w: unexpected string %q", domain.ErrResponseFormat, s)
	}

	var elems []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return domain.Err{}, fmt.Errorf("%w: %v", domain.ErrResponseFormat, err)
	}
	if len(elems) != 1 {
		return domain.Err{}, fmt.Errorf("%w: expected one element, got %d", domain.ErrResponseFormat, len(elems))
	}

	for _, decode := range decoders {
		if out, ok := decode(elems[0]); ok {
			return out, nil
		}
	}
	return domain.Err{}, fmt.Errorf("%w: no known variant encoding", domain.ErrResponseFormat)
}

func decodeFlat(elem map[string]json.RawMessage) (domain.Outcome, bool) {
	return variant(elem)
}

func decodeEnvelope(elem map[string]json.RawMessage) (domain.Outcome, bool) {
	var typ string
	if err := json.Unmarshal(elem["type"], &typ); err != nil || typ != "variant" {
		return nil, false
	}
	var value map[string]json.RawMessage
	if err := json.Unmarshal(elem["value"], &value); err != nil {
		return nil, false
	}
	return variant(value)
}

func variant(fields map[string]json.RawMessage) (domain.Outcome, bool) {
	if v, ok := fields["ok"]; ok {
		return domain.Ok{Value: v}, true
	}
	if v, ok := fields["err"]; ok {
		return domain.Err{Reason: "err", Value: v}, true
	}
	return nil, false
}
