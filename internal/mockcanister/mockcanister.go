// Package mockcanister is an in-memory stand-in for the identity canister.
// It speaks the same signed JSON call protocol as the real adapter and can
// answer in either variant encoding.
package mockcanister

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"icauth/internal/domain"
	"icauth/internal/icauth/adapter/canister"
)

// Encoding selects how variant replies are rendered.
type Encoding string

const (
	// EncodingFlat is what mainnet returns: [{"ok": null}].
	EncodingFlat Encoding = "flat"
	// EncodingEnvelope is what a local replica returns:
	// [{"type": "variant", "value": {"ok": null}}].
	EncodingEnvelope Encoding = "envelope"
)

const maxBodyBytes = 64 << 10

// Canister keeps session passwords and session bindings in memory.
type Canister struct {
	encoding   Encoding
	canisterID string
	now        func() time.Time

	mu          sync.Mutex
	secrets     map[string]string // principal -> session password
	bindings    map[string]string // session key -> principal
	calls       map[string]int
	replies     map[string]string // method -> raw reply override
	unavailable bool
	delay       time.Duration
}

// New creates a mock that answers in enc. An empty canisterID accepts
// calls addressed to any canister.
func New(enc Encoding, canisterID string) *Canister {
	if enc != EncodingEnvelope {
		enc = EncodingFlat
	}
	return &Canister{
		encoding:   enc,
		canisterID: canisterID,
		now:        time.Now,
		secrets:    make(map[string]string),
		bindings:   make(map[string]string),
		calls:      make(map[string]int),
		replies:    make(map[string]string),
	}
}

// SetSecret stores the session password the dApp would have saved for principal.
func (c *Canister) SetSecret(principal, secret string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.secrets[principal] = secret
}

// SetUnavailable makes every call fail with 503 until reset.
func (c *Canister) SetUnavailable(down bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unavailable = down
}

// SetDelay holds every call for d before answering.
func (c *Canister) SetDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay = d
}

// SetReply forces method to answer with raw, bypassing its logic.
func (c *Canister) SetReply(method, raw string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies[method] = raw
}

// Calls returns how many times method was invoked with a valid signature.
func (c *Canister) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// Binding returns the principal bound to sessionID, if any.
func (c *Canister) Binding(sessionID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.bindings[sessionID]
	return p, ok
}

// Handler exposes the call endpoint plus a small admin surface.
func (c *Canister) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v2/canister/{id}/call", c.handleCall)
	mux.HandleFunc("POST /admin/secrets", c.handleSetSecret)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "mock-canister"})
	})
	return mux
}

func (c *Canister) handleCall(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	down, delay := c.unavailable, c.delay
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if down {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "replica is not available")
		return
	}
	if c.canisterID != "" && r.PathValue("id") != c.canisterID {
		writeError(w, http.StatusNotFound, "not_found", "canister not found")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "reading body")
		return
	}
	sender, err := canister.VerifySignature(r.Header.Get(canister.HeaderSignature), body)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "bad_signature", err.Error())
		return
	}

	var req canister.CallRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.Sender != sender || r.Header.Get(canister.HeaderSender) != sender {
		writeError(w, http.StatusUnauthorized, "bad_sender", "sender does not match signing key")
		return
	}
	if c.now().UnixNano() > req.IngressExpiry {
		writeError(w, http.StatusBadRequest, "expired", "ingress expiry has passed")
		return
	}

	reply := c.dispatch(sender, req)
	slog.Debug("canister call", "method", req.Method, "sender", sender, "reply", reply)
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, reply)
}

func (c *Canister) dispatch(sender string, req canister.CallRequest) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls[req.Method]++
	if raw, ok := c.replies[req.Method]; ok {
		return raw
	}

	args := make([]string, len(req.Args))
	for i, a := range req.Args {
		s, ok := a.(string)
		if !ok {
			return `"rejected"`
		}
		args[i] = s
	}

	switch {
	case req.Method == canister.MethodWhoami:
		if c.encoding == EncodingEnvelope {
			return fmt.Sprintf(`[{"type":"principal","value":%q}]`, sender)
		}
		return fmt.Sprintf(`[%q]`, sender)

	case req.Method == canister.MethodCheckSecret && len(args) == 2:
		return c.variant(c.validSecret(args[0], args[1]), "session password mismatch")

	case req.Method == canister.MethodBindSession && len(args) == 3:
		if !c.validSecret(args[1], args[2]) {
			return c.variant(false, "session password mismatch")
		}
		c.bindings[args[0]] = args[1]
		return c.variant(true, "")

	case req.Method == canister.MethodRevokeSession && len(args) == 1:
		if _, ok := c.bindings[args[0]]; !ok {
			return c.variant(false, "session key not found")
		}
		delete(c.bindings, args[0])
		return c.variant(true, "")
	}
	return `"rejected"`
}

func (c *Canister) validSecret(principal, secret string) bool {
	want, ok := c.secrets[principal]
	return ok && secret != "" && want == secret
}

func (c *Canister) variant(ok bool, reason string) string {
	inner := `{"ok":null}`
	if !ok {
		inner = fmt.Sprintf(`{"err":%q}`, reason)
	}
	if c.encoding == EncodingEnvelope {
		return `[{"type":"variant","value":` + inner + `}]`
	}
	return `[` + inner + `]`
}

func (c *Canister) handleSetSecret(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Principal       string `json:"principal"`
		SessionPassword string `json:"session_password"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if err := domain.Principal(req.Principal).Validate(); err != nil || req.SessionPassword == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "principal and session_password are required")
		return
	}
	c.SetSecret(req.Principal, req.SessionPassword)
	writeJSON(w, http.StatusOK, map[string]string{"status": "stored"})
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, domain.ErrorResponse{Error: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}
