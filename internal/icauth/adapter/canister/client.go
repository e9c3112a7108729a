package canister

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"icauth/internal/domain"
	"icauth/internal/platform/telemetry"
)

// RPC method names exposed by the identity canister.
const (
	MethodWhoami        = "whoami"
	MethodCheckSecret   = "session_password_check"
	MethodBindSession   = "save_django_session_key"
	MethodRevokeSession = "session_password_delete"
)

// Headers carrying the caller's identity on every call.
const (
	HeaderSender    = "X-Ic-Sender"
	HeaderSignature = "X-Ic-Signature"
)

const (
	defaultTimeout   = 10 * time.Second
	ingressExpiry    = 5 * time.Minute
	maxResponseBytes = 1 << 20
)

// Config is the initialization contract for Client.
type Config struct {
	// URL is the replica or boundary node, e.g. https://ic0.app.
	URL        string
	CanisterID string
	Identity   *Identity
	// Timeout bounds every call. Zero means 10s.
	Timeout    time.Duration
	HTTPClient *http.Client       // optional
	Metrics    *telemetry.Metrics // optional
	Logger     *slog.Logger       // optional
}

// Client calls the identity canister. It holds no mutable state after
// construction and is safe for concurrent use.
type Client struct {
	callURL    string
	canisterID string
	identity   *Identity
	timeout    time.Duration
	httpClient *http.Client
	metrics    *telemetry.Metrics
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// CallRequest is the signed body of a canister call.
type CallRequest struct {
	Method        string `json:"method"`
	Args          []any  `json:"args"`
	Sender        string `json:"sender"`
	IngressExpiry int64  `json:"ingress_expiry"` // unix nanoseconds
}

// New builds a client from cfg.
func New(cfg Config) (*Client, error) {
	if cfg.Identity == nil {
		return nil, errors.New("canister identity is required")
	}
	if cfg.CanisterID == "" {
		return nil, errors.New("canister ID is required")
	}
	base, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse network URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("network URL %q must be http or https", cfg.URL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		callURL:    base.JoinPath("api", "v2", "canister", cfg.CanisterID, "call").String(),
		canisterID: cfg.CanisterID,
		identity:   cfg.Identity,
		timeout:    timeout,
		httpClient: httpClient,
		metrics:    cfg.Metrics,
		logger:     logger,
		tracer:     otel.Tracer("icauth/canister"),
		now:        time.Now,
	}, nil
}

// Whoami returns the principal the canister sees for this service.
func (c *Client) Whoami(ctx context.Context) (string, error) {
	start := time.Now()
	raw, err := c.call(ctx, MethodWhoami)
	if err != nil {
		c.record(ctx, MethodWhoami, "unavailable", start)
		return "", err
	}
	p, err := principalFromReply(raw)
	if err != nil {
		c.record(ctx, MethodWhoami, "format_error", start)
		return "", fmt.Errorf("%s: %w", MethodWhoami, err)
	}
	c.record(ctx, MethodWhoami, "ok", start)
	return p, nil
}

// CheckSecret verifies a session secret without side effects.
func (c *Client) CheckSecret(ctx context.Context, principal domain.Principal, secret domain.SessionSecret) (domain.Outcome, error) {
	return c.outcome(ctx, MethodCheckSecret, string(principal), string(secret))
}

// BindSession stores sessionID against principal in the canister.
func (c *Client) BindSession(ctx context.Context, sessionID string, principal domain.Principal, secret domain.SessionSecret) (domain.Outcome, error) {
	return c.outcome(ctx, MethodBindSession, sessionID, string(principal), string(secret))
}

// RevokeSession deletes the binding for sessionID. An Err reply means there
// was nothing to delete and is not reported.
func (c *Client) RevokeSession(ctx context.Context, sessionID string) error {
	out, err := c.outcome(ctx, MethodRevokeSession, sessionID)
	if err != nil {
		return err
	}
	if !out.IsOk() {
		c.logger.DebugContext(ctx, "no canister binding to revoke", "session_id", sessionID)
	}
	return nil
}

func (c *Client) outcome(ctx context.Context, method string, args ...any) (domain.Outcome, error) {
	start := time.Now()
	raw, err := c.call(ctx, method, args...)
	if err != nil {
		c.record(ctx, method, "unavailable", start)
		return nil, err
	}

	out, err := ParseOutcome(raw)
	if err != nil {
		c.record(ctx, method, "format_error", start)
		return out, fmt.Errorf("%s: %w", method, err)
	}
	result := "err"
	if out.IsOk() {
		result = "ok"
	}
	c.record(ctx, method, result, start)
	return out, nil
}

// call performs one signed round-trip and returns the raw reply. Transport
// failures, timeouts and 5xx replies wrap domain.ErrServiceUnavailable.
func (c *Client) call(ctx context.Context, method string, args ...any) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "canister."+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("rpc.method", method),
			attribute.String("canister.id", c.canisterID),
		),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if args == nil {
		args = []any{}
	}
	body, err := json.Marshal(CallRequest{
		Method:        method,
		Args:          args,
		Sender:        c.identity.Principal(),
		IngressExpiry: c.now().Add(ingressExpiry).UnixNano(),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding %s call: %w", method, err)
	}
	sig, err := c.identity.Sign(body)
	if err != nil {
		return nil, fmt.Errorf("signing %s call: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.callURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSender, c.identity.Principal())
	req.Header.Set(HeaderSignature, sig)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrServiceUnavailable, method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read")
		return nil, fmt.Errorf("%w: reading %s reply: %v", domain.ErrServiceUnavailable, method, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	switch {
	case resp.StatusCode >= http.StatusInternalServerError, resp.StatusCode == http.StatusTooManyRequests:
		span.SetStatus(codes.Error, resp.Status)
		return nil, fmt.Errorf("%w: %s returned %d", domain.ErrServiceUnavailable, method, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		// The replica refused the call itself, which the agent reports as a reject.
		c.logger.WarnContext(ctx, "canister rejected call",
			"method", method,
			"status", resp.StatusCode,
			"body", string(raw),
		)
		return []byte(`"` + rejected + `"`), nil
	}
	return raw, nil
}

func (c *Client) record(ctx context.Context, method, result string, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordCanisterCall(ctx, method, result, time.Since(start).Seconds())
	}
}

// principalFromReply accepts the shapes whoami is seen to return:
// "p", ["p"] and [{"type": "principal", "value": "p"}]. A reject or any
// other reply is an error wrapping domain.ErrResponseFormat.
func principalFromReply(raw []byte) (string, error) {
	var p, s string
	var list []string
	var typed []struct {
		Value string `json:"value"`
	}
	switch {
	case json.Unmarshal(raw, &s) == nil:
		if s == rejected {
			return "", fmt.Errorf("%w: call rejected by the replica", domain.ErrResponseFormat)
		}
		p = s
	case json.Unmarshal(raw, &list) == nil && len(list) == 1:
		p = list[0]
	case json.Unmarshal(raw, &typed) == nil && len(typed) == 1:
		p = typed[0].Value
	}
	if err := domain.Principal(p).Validate(); err != nil {
		return "", fmt.Errorf("%w: no principal in whoami reply %.64q", domain.ErrResponseFormat, raw)
	}
	return p, nil
}
