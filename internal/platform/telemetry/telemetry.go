package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// ShutdownFunc releases telemetry resources.
type ShutdownFunc func(ctx context.Context) error

// Setup initializes OpenTelemetry metrics with a Prometheus exporter.
// Returns a shutdown function that must be called on exit.
func Setup(ctx context.Context, serviceName string) (ShutdownFunc, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	return provider.Shutdown, nil
}

// MetricsHandler returns an http.Handler that serves Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// Login and logout results recorded by the coordinator.
const (
	ResultSuccess         = "success"
	ResultUnauthenticated = "unauthenticated"
	ResultUnavailable     = "unavailable"
	ResultProvisioning    = "provisioning_error"
	ResultError           = "error"

	ResultRevoked      = "revoked"
	ResultRevokeFailed = "revoke_failed"
	ResultNoSession    = "no_session"
)

// Metrics holds all OTel instruments for the auth service.
type Metrics struct {
	httpRequestsTotal       otelmetric.Int64Counter
	httpRequestDuration     otelmetric.Float64Histogram
	loginsTotal             otelmetric.Int64Counter
	logoutsTotal            otelmetric.Int64Counter
	usersCreatedTotal       otelmetric.Int64Counter
	canisterCallsTotal      otelmetric.Int64Counter
	canisterCallDuration    otelmetric.Float64Histogram
	rateLimitDecisionsTotal otelmetric.Int64Counter
}

// NewMetrics creates and registers all icauth metrics.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("icauth")
	m := &Metrics{}
	var err error

	latencyBuckets := otelmetric.WithExplicitBucketBoundaries(
		0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
	)

	if m.httpRequestsTotal, err = meter.Int64Counter("icauth_http_requests_total",
		otelmetric.WithDescription("Total HTTP requests")); err != nil {
		return nil, fmt.Errorf("creating http_requests_total: %w", err)
	}
	if m.httpRequestDuration, err = meter.Float64Histogram("icauth_http_request_duration_seconds",
		otelmetric.WithDescription("HTTP request duration"), latencyBuckets); err != nil {
		return nil, fmt.Errorf("creating http_request_duration: %w", err)
	}
	if m.loginsTotal, err = meter.Int64Counter("icauth_logins_total",
		otelmetric.WithDescription("Total login attempts by result")); err != nil {
		return nil, fmt.Errorf("creating logins_total: %w", err)
	}
	if m.logoutsTotal, err = meter.Int64Counter("icauth_logouts_total",
		otelmetric.WithDescription("Total logouts by revocation result")); err != nil {
		return nil, fmt.Errorf("creating logouts_total: %w", err)
	}
	if m.usersCreatedTotal, err = meter.Int64Counter("icauth_users_created_total",
		otelmetric.WithDescription("Users provisioned on first login")); err != nil {
		return nil, fmt.Errorf("creating users_created_total: %w", err)
	}
	if m.canisterCallsTotal, err = meter.Int64Counter("icauth_canister_calls_total",
		otelmetric.WithDescription("Total canister RPC calls")); err != nil {
		return nil, fmt.Errorf("creating canister_calls_total: %w", err)
	}
	if m.canisterCallDuration, err = meter.Float64Histogram("icauth_canister_call_duration_seconds",
		otelmetric.WithDescription("Canister RPC duration"), latencyBuckets); err != nil {
		return nil, fmt.Errorf("creating canister_call_duration: %w", err)
	}
	if m.rateLimitDecisionsTotal, err = meter.Int64Counter("icauth_ratelimit_decisions_total",
		otelmetric.WithDescription("Total rate limit decisions")); err != nil {
		return nil, fmt.Errorf("creating ratelimit_decisions_total: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request metric.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, durationSec float64) {
	attrs := otelmetric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(status),
	)
	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpRequestDuration.Record(ctx, durationSec, attrs)
}

// RecordLogin records the result of a login attempt.
func (m *Metrics) RecordLogin(ctx context.Context, result string) {
	m.loginsTotal.Add(ctx, 1, otelmetric.WithAttributes(resultAttr(result)))
}

// RecordLogout records whether a logout revoked its canister binding.
func (m *Metrics) RecordLogout(ctx context.Context, result string) {
	m.logoutsTotal.Add(ctx, 1, otelmetric.WithAttributes(resultAttr(result)))
}

// RecordUserCreated counts a user provisioned during phase 1.
func (m *Metrics) RecordUserCreated(ctx context.Context) {
	m.usersCreatedTotal.Add(ctx, 1)
}

// RecordCanisterCall records one RPC round-trip to the canister.
func (m *Metrics) RecordCanisterCall(ctx context.Context, method, result string, durationSec float64) {
	m.canisterCallsTotal.Add(ctx, 1, otelmetric.WithAttributes(
		rpcMethodAttr(method),
		resultAttr(result),
	))
	m.canisterCallDuration.Record(ctx, durationSec, otelmetric.WithAttributes(rpcMethodAttr(method)))
}

// RecordRateLimitDecision records a rate limit decision.
func (m *Metrics) RecordRateLimitDecision(ctx context.Context, layer, result string) {
	m.rateLimitDecisionsTotal.Add(ctx, 1, otelmetric.WithAttributes(
		layerAttr(layer),
		resultAttr(result),
	))
}
