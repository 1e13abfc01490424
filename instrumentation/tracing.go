package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys used across the gating core.
//
// SECURITY: never set credential values (bearer tokens, secrets) as span
// attributes; traces outlive requests and reach wider audiences than the
// serving path. Use booleans and metadata only.
const (
	AttrRequestID     = "gate.request_id"
	AttrSecurityLevel = "gate.security_level"
	AttrOutcome       = "gate.outcome"
	AttrClientIP      = "gate.client_ip"
	AttrUserID        = "gate.user_id"
	AttrRole          = "gate.role"
	AttrRateProfile   = "gate.ratelimit.profile"
	AttrEventType     = "security.event_type"
	AttrAlertType     = "security.alert_type"
	AttrHTTPMethod    = "http.method"
	AttrHTTPEndpoint  = "http.endpoint"
	AttrHTTPStatus    = "http.status_code"
)

// RecordError records an error on a span with proper status codes (nil-safe).
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanError marks a span as failed with the given message (nil-safe).
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanOK marks a span as successful (nil-safe).
func SetSpanOK(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe).
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}
