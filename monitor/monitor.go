// Package monitor implements the event-sourced security monitoring core: an
// append-only bounded event ledger, decaying per-user and per-IP risk scores,
// and a threshold-based alert engine with unacknowledged-alert dedupe.
package monitor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edushield/secgate/auth"
	"github.com/edushield/secgate/instrumentation"
	"github.com/edushield/secgate/internal/util"
	"github.com/edushield/secgate/storage"
)

// loggedUserAgentLen caps the attacker-controlled User-Agent in log output.
const loggedUserAgentLen = 64

const (
	// DefaultDecayInterval is how often risk scores are decayed.
	DefaultDecayInterval = time.Hour

	// DefaultDecayFactor is the multiplicative decay applied each cycle.
	DefaultDecayFactor = 0.95

	// DefaultPruneFloor removes scores that have decayed into noise.
	DefaultPruneFloor = 1.0
)

// Alert types produced by the threshold engine.
const (
	AlertBruteForce = "BRUTE_FORCE_ATTACK"
	AlertAPIAbuse   = "API_ABUSE"
)

// riskWeights maps event types to their base risk contribution. The final
// delta is weight x severity factor, clamped to 100 by the store.
// Types absent here (successes, token refreshes) carry no weight.
var riskWeights = map[storage.EventType]float64{
	storage.EventLoginFailure:       5,
	storage.EventBruteForceAttempt:  20,
	storage.EventSuspiciousActivity: 10,
	storage.EventRateLimitExceeded:  8,
	storage.EventIPChange:           3,
	storage.EventDeviceChange:       5,
	storage.EventUnauthorizedAccess: 15,
	storage.EventSecurityViolation:  12,
}

// thresholdRule describes one sliding-window alert condition, evaluated on
// every matching event rather than polled.
type thresholdRule struct {
	eventType storage.EventType
	minCount  int
	window    time.Duration
	alertType string
	severity  storage.Severity
	message   string
}

var thresholdRules = []thresholdRule{
	{
		eventType: storage.EventLoginFailure,
		minCount:  5,
		window:    15 * time.Minute,
		alertType: AlertBruteForce,
		severity:  storage.SeverityHigh,
		message:   "Multiple failed login attempts from the same IP address",
	},
	{
		eventType: storage.EventRateLimitExceeded,
		minCount:  3,
		window:    5 * time.Minute,
		alertType: AlertAPIAbuse,
		severity:  storage.SeverityMedium,
		message:   "Repeated rate limit violations from the same IP address",
	},
}

// Event is the caller-facing input to RecordEvent. The monitor assigns the
// ID and timestamp; everything else is taken as given.
type Event struct {
	Type      storage.EventType
	Severity  storage.Severity
	UserID    string
	IPAddress string
	UserAgent string
	SessionID string
	Details   map[string]any
	Metadata  storage.EventMetadata
}

// Monitor records security events, maintains risk scores, and raises alerts.
// RecordEvent never fails from the caller's perspective: ledger, risk, and
// alert errors are logged and swallowed so the hot path is never blocked on
// monitoring internals.
type Monitor struct {
	events   storage.EventStore
	alerts   storage.AlertStore
	risk     storage.RiskStore
	sessions auth.SessionManager
	logger   *slog.Logger
	instr    *instrumentation.Instrumentation

	decayInterval time.Duration
	decayFactor   float64
	pruneFloor    float64
	stopDecay     chan struct{}
	stopOnce      sync.Once
	now           func() time.Time
}

// Options configures optional monitor collaborators and tuning.
// The zero value is usable: no sessions, default decay parameters.
type Options struct {
	// Sessions provides session inventory for user behavior analysis.
	// Nil disables session-derived signals.
	Sessions auth.SessionManager

	// Logger for structured logging. Nil uses slog.Default().
	Logger *slog.Logger

	// Instrumentation records metrics for events and alerts. Nil disables.
	Instrumentation *instrumentation.Instrumentation

	// DecayInterval is how often risk scores decay. Zero uses the default (1h).
	DecayInterval time.Duration

	// DecayFactor is the per-cycle multiplicative decay. Zero uses 0.95.
	DecayFactor float64

	// PruneFloor removes scores below this value after decay. Zero uses 1.0.
	PruneFloor float64
}

// New creates a monitor over the given stores and starts the background
// decay loop. Call Stop at shutdown to cancel it.
func New(events storage.EventStore, alerts storage.AlertStore, risk storage.RiskStore, opts Options) *Monitor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DecayInterval <= 0 {
		opts.DecayInterval = DefaultDecayInterval
	}
	if opts.DecayFactor <= 0 || opts.DecayFactor >= 1 {
		opts.DecayFactor = DefaultDecayFactor
	}
	if opts.PruneFloor <= 0 {
		opts.PruneFloor = DefaultPruneFloor
	}

	m := &Monitor{
		events:        events,
		alerts:        alerts,
		risk:          risk,
		sessions:      opts.Sessions,
		logger:        opts.Logger,
		instr:         opts.Instrumentation,
		decayInterval: opts.DecayInterval,
		decayFactor:   opts.DecayFactor,
		pruneFloor:    opts.PruneFloor,
		stopDecay:     make(chan struct{}),
		now:           time.Now,
	}
	go m.decayLoop()
	return m
}

// RecordEvent appends the event to the ledger, updates risk scores, runs the
// alert thresholds, and forwards a description to the logger. It always
// succeeds; internal failures are logged, never returned, and never block
// the calling request beyond the in-memory work itself.
func (m *Monitor) RecordEvent(ctx context.Context, e Event) {
	if !e.Severity.Valid() {
		e.Severity = storage.SeverityLow
	}

	event := &storage.SecurityEvent{
		ID:        uuid.NewString(),
		Timestamp: m.now(),
		Type:      e.Type,
		Severity:  e.Severity,
		UserID:    e.UserID,
		IPAddress: e.IPAddress,
		UserAgent: e.UserAgent,
		SessionID: e.SessionID,
		Details:   e.Details,
		Metadata:  e.Metadata,
	}

	if err := m.events.AppendEvent(ctx, event); err != nil {
		m.logger.Error("Failed to append security event", "event_type", event.Type, "error", err)
	}
	if m.instr != nil {
		m.instr.Metrics().RecordSecurityEvent(ctx, string(event.Type), string(event.Severity))
	}

	m.updateRiskScores(ctx, event)
	m.evaluateThresholds(ctx, event)
	m.logEvent(event)
}

// updateRiskScores applies the type x severity weight to the event's user
// and IP, clamped to 100 by the store.
func (m *Monitor) updateRiskScores(ctx context.Context, event *storage.SecurityEvent) {
	weight, ok := riskWeights[event.Type]
	if !ok {
		return
	}
	delta := weight * event.Severity.Factor()

	if event.UserID != "" {
		if _, err := m.risk.AddRisk(ctx, storage.RiskScopeUser, event.UserID, delta); err != nil {
			m.logger.Error("Failed to update user risk score", "error", err)
		}
	}
	if event.IPAddress != "" {
		if _, err := m.risk.AddRisk(ctx, storage.RiskScopeIP, event.IPAddress, delta); err != nil {
			m.logger.Error("Failed to update IP risk score", "error", err)
		}
	}
}

// evaluateThresholds runs every rule matching the event's type. Rules count
// same-IP events inside a sliding window, so evaluation happens exactly when
// the condition could newly hold.
func (m *Monitor) evaluateThresholds(ctx context.Context, event *storage.SecurityEvent) {
	if event.IPAddress == "" {
		return
	}

	for _, rule := range thresholdRules {
		if event.Type != rule.eventType {
			continue
		}

		count, err := m.events.CountEvents(ctx, storage.EventFilter{
			Type:      rule.eventType,
			IPAddress: event.IPAddress,
			StartTime: m.now().Add(-rule.window),
		})
		if err != nil {
			m.logger.Error("Failed to evaluate alert threshold", "alert_type", rule.alertType, "error", err)
			continue
		}
		if count < rule.minCount {
			continue
		}

		m.raiseAlert(ctx, rule, event, count)
	}
}

// raiseAlert upserts an alert for the rule's scope. An existing
// unacknowledged alert absorbs the trigger; otherwise a new one is created.
// Critical alerts are logged immediately and synchronously at creation.
func (m *Monitor) raiseAlert(ctx context.Context, rule thresholdRule, event *storage.SecurityEvent, observed int) {
	now := m.now()
	alert := &storage.SecurityAlert{
		ID:        uuid.NewString(),
		Type:      rule.alertType,
		Severity:  rule.severity,
		Message:   rule.message,
		FirstSeen: now,
		LastSeen:  now,
		IPAddress: event.IPAddress,
		Details: map[string]any{
			"observed_count": observed,
			"threshold":      rule.minCount,
			"window":         rule.window.String(),
		},
	}

	stored, created, err := m.alerts.UpsertAlert(ctx, alert)
	if err != nil {
		m.logger.Error("Failed to upsert security alert", "alert_type", rule.alertType, "error", err)
		return
	}

	if created {
		if m.instr != nil {
			m.instr.Metrics().RecordAlertCreated(ctx, rule.alertType, string(rule.severity))
		}
		if stored.Severity == storage.SeverityCritical {
			m.logger.Error("CRITICAL security alert",
				"alert_id", stored.ID,
				"alert_type", stored.Type,
				"ip_address", stored.IPAddress,
				"message", stored.Message)
			return
		}
		m.logger.Warn("Security alert raised",
			"alert_id", stored.ID,
			"alert_type", stored.Type,
			"severity", stored.Severity,
			"ip_address", stored.IPAddress,
			"message", stored.Message)
		return
	}

	m.logger.Debug("Security alert updated",
		"alert_id", stored.ID,
		"alert_type", stored.Type,
		"count", stored.Count)
}

// logEvent forwards a human-readable line to the logger. User IDs are hashed
// so log sinks never hold raw identity (teacher-rights data is sensitive).
func (m *Monitor) logEvent(event *storage.SecurityEvent) {
	attrs := []any{
		"event_id", event.ID,
		"event_type", event.Type,
		"severity", event.Severity,
		"user_id_hash", hashForLogging(event.UserID),
		"ip_address", event.IPAddress,
		"request_id", event.Metadata.RequestID,
		"endpoint", event.Metadata.Endpoint,
		"user_agent", util.SafeTruncate(event.UserAgent, loggedUserAgentLen),
	}

	switch event.Severity {
	case storage.SeverityCritical:
		m.logger.Error("security_event", attrs...)
	case storage.SeverityHigh:
		m.logger.Warn("security_event", attrs...)
	default:
		m.logger.Info("security_event", attrs...)
	}
}

// decayLoop periodically decays risk scores. This is the only mutation path
// not triggered by a request.
func (m *Monitor) decayLoop() {
	ticker := time.NewTicker(m.decayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Decay(context.Background())
		case <-m.stopDecay:
			return
		}
	}
}

// Decay runs one decay cycle: every score is multiplied by the decay factor
// and scores below the prune floor are removed.
func (m *Monitor) Decay(ctx context.Context) {
	pruned, err := m.risk.DecayRisk(ctx, m.decayFactor, m.pruneFloor)
	if err != nil {
		m.logger.Error("Risk decay failed", "error", err)
		return
	}
	if pruned > 0 {
		m.logger.Debug("Risk decay completed", "pruned", pruned, "factor", m.decayFactor)
	}
}

// Stop gracefully stops the decay goroutine.
// Safe to call multiple times concurrently.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopDecay)
	})
}

// hashForLogging creates a short SHA-256 hash of sensitive data for logging.
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
