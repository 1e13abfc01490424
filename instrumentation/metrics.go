package instrumentation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the gating core.
type Metrics struct {
	// Gate metrics
	GateRequestsTotal   metric.Int64Counter
	GateRequestDuration metric.Float64Histogram

	// Security metrics
	RateLimitExceeded   metric.Int64Counter
	AuthFailuresTotal   metric.Int64Counter
	SecurityEventsTotal metric.Int64Counter
	SecurityAlertsTotal metric.Int64Counter
	AlertsAcknowledged  metric.Int64Counter

	// Store size gauges (registered via RegisterStoreSizeCallbacks)
	StoreRateLimitKeys metric.Int64ObservableGauge
	StoreEvents        metric.Int64ObservableGauge
	StoreAlerts        metric.Int64ObservableGauge
	StoreRiskIDs       metric.Int64ObservableGauge
}

// newMetrics creates and registers all metric instruments.
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	gateMeter := inst.Meter("gate")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")

	var err error
	m.GateRequestsTotal, err = gateMeter.Int64Counter(
		"secgate.gate.requests.total",
		metric.WithDescription("Total number of gated requests by terminal outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gate.requests.total counter: %w", err)
	}

	m.GateRequestDuration, err = gateMeter.Float64Histogram(
		"secgate.gate.request.duration",
		metric.WithDescription("Gated request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gate.request.duration histogram: %w", err)
	}

	m.RateLimitExceeded, err = securityMeter.Int64Counter(
		"secgate.ratelimit.exceeded",
		metric.WithDescription("Number of requests denied by the rate limiter"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ratelimit.exceeded counter: %w", err)
	}

	m.AuthFailuresTotal, err = securityMeter.Int64Counter(
		"secgate.auth.failures.total",
		metric.WithDescription("Number of authentication failures by sub-kind"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth.failures.total counter: %w", err)
	}

	m.SecurityEventsTotal, err = securityMeter.Int64Counter(
		"secgate.security.events.total",
		metric.WithDescription("Number of security events recorded"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create security.events.total counter: %w", err)
	}

	m.SecurityAlertsTotal, err = securityMeter.Int64Counter(
		"secgate.security.alerts.total",
		metric.WithDescription("Number of security alerts created"),
		metric.WithUnit("{alert}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create security.alerts.total counter: %w", err)
	}

	m.AlertsAcknowledged, err = securityMeter.Int64Counter(
		"secgate.security.alerts.acknowledged",
		metric.WithDescription("Number of security alerts acknowledged"),
		metric.WithUnit("{alert}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create security.alerts.acknowledged counter: %w", err)
	}

	m.StoreRateLimitKeys, err = storageMeter.Int64ObservableGauge(
		"secgate.store.ratelimit.keys",
		metric.WithDescription("Current number of tracked rate-limit keys"),
		metric.WithUnit("{key}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store.ratelimit.keys gauge: %w", err)
	}

	m.StoreEvents, err = storageMeter.Int64ObservableGauge(
		"secgate.store.events",
		metric.WithDescription("Current number of events in the ledger"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store.events gauge: %w", err)
	}

	m.StoreAlerts, err = storageMeter.Int64ObservableGauge(
		"secgate.store.alerts",
		metric.WithDescription("Current number of alerts"),
		metric.WithUnit("{alert}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store.alerts gauge: %w", err)
	}

	m.StoreRiskIDs, err = storageMeter.Int64ObservableGauge(
		"secgate.store.risk.identifiers",
		metric.WithDescription("Current number of tracked risk identifiers"),
		metric.WithUnit("{identifier}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store.risk.identifiers gauge: %w", err)
	}

	return m, nil
}

// RecordGateRequest records one terminal gate outcome with its duration.
func (m *Metrics) RecordGateRequest(ctx context.Context, outcome, level string, start time.Time) {
	attrs := metric.WithAttributes(
		attribute.String("gate.outcome", outcome),
		attribute.String("gate.security_level", level),
	)
	m.GateRequestsTotal.Add(ctx, 1, attrs)
	m.GateRequestDuration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
}

// RecordRateLimitExceeded records a rate-limit denial for the given profile.
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, profile string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("ratelimit.profile", profile),
	))
}

// RecordAuthFailure records an authentication failure by sub-kind
// (expired, reauth_required, generic).
func (m *Metrics) RecordAuthFailure(ctx context.Context, kind string) {
	m.AuthFailuresTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("auth.failure_kind", kind),
	))
}

// RecordSecurityEvent records one security event by type and severity.
func (m *Metrics) RecordSecurityEvent(ctx context.Context, eventType, severity string) {
	m.SecurityEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("security.event_type", eventType),
		attribute.String("security.severity", severity),
	))
}

// RecordAlertCreated records one alert creation by type and severity.
func (m *Metrics) RecordAlertCreated(ctx context.Context, alertType, severity string) {
	m.SecurityAlertsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("security.alert_type", alertType),
		attribute.String("security.severity", severity),
	))
}

// RecordAlertAcknowledged records one alert acknowledgement.
func (m *Metrics) RecordAlertAcknowledged(ctx context.Context) {
	m.AlertsAcknowledged.Add(ctx, 1)
}
