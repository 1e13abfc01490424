// Package storage defines the store interfaces for the request-gating core:
// rate-limit entries, the security event ledger, alerts, and risk scores.
// The default in-memory implementation lives in storage/memory; the interfaces
// allow swapping in a distributed cache for multi-instance deployments.
package storage

import (
	"context"
	"time"
)

// EventType identifies the kind of security-relevant decision an event records.
// The set is closed; unknown types carry no risk weight and trigger no alerts.
type EventType string

const (
	// EventLoginSuccess is recorded when authentication succeeds at the gate.
	EventLoginSuccess EventType = "LOGIN_SUCCESS"

	// EventLoginFailure is recorded when authentication fails for a generic reason.
	EventLoginFailure EventType = "LOGIN_FAILURE"

	// EventTokenExpired is recorded when a request carries an expired but refreshable token.
	EventTokenExpired EventType = "TOKEN_EXPIRED"

	// EventTokenRefreshed is recorded when a caller reports a successful token refresh.
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"

	// EventTokenRevoked is recorded when a token is revoked.
	EventTokenRevoked EventType = "TOKEN_REVOKED"

	// EventRateLimitExceeded is recorded when a rate-limit check blocks a request.
	EventRateLimitExceeded EventType = "RATE_LIMIT_EXCEEDED"

	// EventBruteForceAttempt is recorded when repeated credential failures look automated.
	EventBruteForceAttempt EventType = "BRUTE_FORCE_ATTEMPT"

	// EventIPChange is recorded when a session is observed from a new IP address.
	EventIPChange EventType = "IP_CHANGE"

	// EventDeviceChange is recorded when a session is observed from a new device.
	EventDeviceChange EventType = "DEVICE_CHANGE"

	// EventUnauthorizedAccess is recorded when an authenticated caller is denied by role.
	EventUnauthorizedAccess EventType = "UNAUTHORIZED_ACCESS"

	// EventSuspiciousActivity is recorded for elevated-risk signals such as
	// reauthentication demands from the token validator.
	EventSuspiciousActivity EventType = "SUSPICIOUS_ACTIVITY"

	// EventSecurityViolation is recorded for policy violations that fit no other type.
	EventSecurityViolation EventType = "SECURITY_VIOLATION"

	// EventAccessGranted is recorded when a gated request completes successfully.
	EventAccessGranted EventType = "ACCESS_GRANTED"
)

// Severity grades a security event or alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Factor returns the risk multiplier applied to type weights when scoring.
// Unknown severities score as low.
func (s Severity) Factor() float64 {
	switch s {
	case SeverityMedium:
		return 1.5
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 1
	}
}

// Valid reports whether s is one of the four known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// RateLimitEntry is the per-key counter state for the fixed-window rate limiter.
// A set BlockedUntil in the future puts the entry in the blocked state
// regardless of Count and WindowResetAt.
type RateLimitEntry struct {
	Count         int
	WindowResetAt time.Time
	BlockedUntil  time.Time // zero when not blocked
}

// Expired reports whether both the counting window and any block have passed,
// making the entry reclaimable by the background sweep.
func (e *RateLimitEntry) Expired(now time.Time) bool {
	return e.WindowResetAt.Before(now) && (e.BlockedUntil.IsZero() || e.BlockedUntil.Before(now))
}

// EventMetadata carries request-scoped context attached to a security event.
type EventMetadata struct {
	RequestID      string `json:"request_id,omitempty"`
	Endpoint       string `json:"endpoint,omitempty"`
	Method         string `json:"method,omitempty"`
	ResponseTimeMs int64  `json:"response_time_ms,omitempty"`
}

// SecurityEvent is an immutable audit record of one security-relevant decision.
// Events are appended once and never mutated or individually deleted; the event
// store drops the oldest entries past its capacity.
type SecurityEvent struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      EventType      `json:"type"`
	Severity  Severity       `json:"severity"`
	UserID    string         `json:"user_id,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Metadata  EventMetadata  `json:"metadata"`
}

// SecurityAlert is a mutable aggregate created when a threshold condition fires.
// Repeated triggers update the existing unacknowledged alert for the same
// (Type, UserID, IPAddress) scope instead of creating duplicates.
type SecurityAlert struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Severity     Severity       `json:"severity"`
	Message      string         `json:"message"`
	Count        int            `json:"count"`
	FirstSeen    time.Time      `json:"first_seen"`
	LastSeen     time.Time      `json:"last_seen"`
	Acknowledged bool           `json:"acknowledged"`
	UserID       string         `json:"user_id,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

// RiskScope selects which risk map an identifier belongs to.
type RiskScope string

const (
	RiskScopeUser RiskScope = "user"
	RiskScopeIP   RiskScope = "ip"
)

// RiskEntry is one identifier's current risk score within a scope.
type RiskEntry struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// EventFilter selects events for read queries. Zero fields match everything.
type EventFilter struct {
	Type      EventType
	Severity  Severity
	UserID    string
	IPAddress string
	StartTime time.Time
	EndTime   time.Time
	Limit     int // 0 means no limit
}

// Matches reports whether the event satisfies every set predicate of the filter.
func (f EventFilter) Matches(e *SecurityEvent) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.IPAddress != "" && e.IPAddress != f.IPAddress {
		return false
	}
	if !f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && e.Timestamp.After(f.EndTime) {
		return false
	}
	return true
}

// RateLimitStore persists fixed-window rate-limit entries.
//
// SECURITY: Mutate MUST apply the load-modify-store sequence atomically per key.
// Without per-key atomicity two concurrent requests can both observe a count
// below the limit and both proceed, defeating the limiter.
// All methods accept context.Context for tracing and cancellation.
type RateLimitStore interface {
	// Mutate atomically loads the entry for key, applies fn, and stores the
	// result. fn receives nil when no entry exists; returning nil deletes the
	// entry. The returned entry is the stored result.
	Mutate(ctx context.Context, key string, fn func(*RateLimitEntry) *RateLimitEntry) (*RateLimitEntry, error)

	// SweepRateLimits removes entries whose window and block have both expired,
	// bounding memory. Returns the number of entries removed.
	SweepRateLimits(ctx context.Context, now time.Time) (int, error)

	// RateLimitKeyCount returns the number of tracked keys.
	RateLimitKeyCount(ctx context.Context) (int, error)
}

// EventStore is the append-only bounded security event ledger.
// All methods accept context.Context for tracing and cancellation.
type EventStore interface {
	// AppendEvent appends an event, evicting the oldest past capacity.
	AppendEvent(ctx context.Context, event *SecurityEvent) error

	// ListEvents returns events matching the filter, sorted newest-first.
	ListEvents(ctx context.Context, filter EventFilter) ([]*SecurityEvent, error)

	// CountEvents returns the number of events matching the filter.
	CountEvents(ctx context.Context, filter EventFilter) (int, error)
}

// AlertStore manages the bounded alert list with unacknowledged-alert dedupe.
// All methods accept context.Context for tracing and cancellation.
type AlertStore interface {
	// UpsertAlert matches an existing unacknowledged alert with the same
	// (Type, UserID, IPAddress) scope. On a match it increments Count, sets
	// LastSeen, and merges Details; otherwise it inserts the alert with
	// Count=1, evicting the oldest past capacity. Returns the stored alert
	// and whether a new one was created.
	// SECURITY: The match-and-update MUST be atomic to keep the dedupe rule
	// correct under concurrent triggers.
	UpsertAlert(ctx context.Context, alert *SecurityAlert) (stored *SecurityAlert, created bool, err error)

	// AcknowledgeAlert marks the alert acknowledged. Returns false when the
	// alert does not exist or is already acknowledged.
	AcknowledgeAlert(ctx context.Context, alertID string) (bool, error)

	// ListAlerts returns alerts, newest LastSeen first. When unackedOnly is
	// true only unacknowledged alerts are returned.
	ListAlerts(ctx context.Context, unackedOnly bool) ([]*SecurityAlert, error)
}

// RiskStore maintains the decaying risk-score maps for users and IPs.
// Scores are clamped to [0,100].
// All methods accept context.Context for tracing and cancellation.
type RiskStore interface {
	// AddRisk adds delta to the identifier's score within scope, clamped to
	// 100, and returns the new score. Creates the entry when absent.
	AddRisk(ctx context.Context, scope RiskScope, id string, delta float64) (float64, error)

	// GetRisk returns the identifier's current score, zero when untracked.
	GetRisk(ctx context.Context, scope RiskScope, id string) (float64, error)

	// DecayRisk multiplies every score in both scopes by factor and prunes
	// entries that fall below floor. Returns the number pruned.
	DecayRisk(ctx context.Context, factor, floor float64) (int, error)

	// TopRisk returns the n highest-scored identifiers within scope,
	// highest first.
	TopRisk(ctx context.Context, scope RiskScope, n int) ([]RiskEntry, error)
}

// Store combines the four store interfaces for implementations that back the
// whole core with one structure, such as the in-memory default.
type Store interface {
	RateLimitStore
	EventStore
	AlertStore
	RiskStore
}
