package monitor

import (
	"context"
	"time"

	"github.com/edushield/secgate/storage"
)

// metricsWindow is the lookback for the dashboard aggregate.
const metricsWindow = 24 * time.Hour

// topRiskCount is how many risk entries the aggregate surfaces per scope.
const topRiskCount = 10

// SecurityMetrics is the 24-hour aggregate surfaced to dashboards.
type SecurityMetrics struct {
	GeneratedAt      time.Time                 `json:"generated_at"`
	TotalEvents      int                       `json:"total_events"`
	EventsByType     map[storage.EventType]int `json:"events_by_type"`
	EventsBySeverity map[storage.Severity]int  `json:"events_by_severity"`

	// ActiveThreats counts unacknowledged alerts of severity above low.
	ActiveThreats int `json:"active_threats"`

	TopRiskUsers []storage.RiskEntry `json:"top_risk_users"`
	TopRiskIPs   []storage.RiskEntry `json:"top_risk_ips"`

	// AuthFailureRate is failed logins over total logins, as a percentage.
	AuthFailureRate float64 `json:"auth_failure_rate"`

	// RateLimitViolations counts rate-limit events in the window.
	RateLimitViolations int `json:"rate_limit_violations"`

	// SuspiciousActivityScore is the proportion of suspicious, violation,
	// and brute-force events among all events, scaled to 0-100.
	SuspiciousActivityScore float64 `json:"suspicious_activity_score"`
}

// GetSecurityMetrics aggregates the last 24 hours of events, alerts, and
// risk scores. Pure read, no side effects.
func (m *Monitor) GetSecurityMetrics(ctx context.Context) (*SecurityMetrics, error) {
	now := m.now()
	events, err := m.events.ListEvents(ctx, storage.EventFilter{StartTime: now.Add(-metricsWindow)})
	if err != nil {
		return nil, err
	}

	metrics := &SecurityMetrics{
		GeneratedAt:      now,
		TotalEvents:      len(events),
		EventsByType:     make(map[storage.EventType]int),
		EventsBySeverity: make(map[storage.Severity]int),
	}

	var loginSuccesses, loginFailures, suspicious int
	for _, e := range events {
		metrics.EventsByType[e.Type]++
		metrics.EventsBySeverity[e.Severity]++
		switch e.Type {
		case storage.EventLoginSuccess:
			loginSuccesses++
		case storage.EventLoginFailure:
			loginFailures++
		case storage.EventRateLimitExceeded:
			metrics.RateLimitViolations++
		case storage.EventSuspiciousActivity, storage.EventSecurityViolation, storage.EventBruteForceAttempt:
			suspicious++
		}
	}

	if totalLogins := loginSuccesses + loginFailures; totalLogins > 0 {
		metrics.AuthFailureRate = float64(loginFailures) / float64(totalLogins) * 100
	}
	if len(events) > 0 {
		metrics.SuspiciousActivityScore = float64(suspicious) / float64(len(events)) * 100
	}

	alerts, err := m.alerts.ListAlerts(ctx, true)
	if err != nil {
		return nil, err
	}
	for _, a := range alerts {
		if a.Severity != storage.SeverityLow {
			metrics.ActiveThreats++
		}
	}

	if metrics.TopRiskUsers, err = m.risk.TopRisk(ctx, storage.RiskScopeUser, topRiskCount); err != nil {
		return nil, err
	}
	if metrics.TopRiskIPs, err = m.risk.TopRisk(ctx, storage.RiskScopeIP, topRiskCount); err != nil {
		return nil, err
	}

	return metrics, nil
}

// GetSecurityEvents returns events matching the filter, newest-first.
// Pure read, no side effects.
func (m *Monitor) GetSecurityEvents(ctx context.Context, filter storage.EventFilter) ([]*storage.SecurityEvent, error) {
	return m.events.ListEvents(ctx, filter)
}

// GetActiveAlerts returns unacknowledged alerts, newest activity first.
func (m *Monitor) GetActiveAlerts(ctx context.Context) ([]*storage.SecurityAlert, error) {
	return m.alerts.ListAlerts(ctx, true)
}

// AcknowledgeAlert marks an alert acknowledged. A later matching trigger
// creates a fresh alert instead of updating the acknowledged one.
func (m *Monitor) AcknowledgeAlert(ctx context.Context, alertID string) bool {
	ok, err := m.alerts.AcknowledgeAlert(ctx, alertID)
	if err != nil {
		m.logger.Error("Failed to acknowledge alert", "alert_id", alertID, "error", err)
		return false
	}
	if ok {
		m.logger.Info("Security alert acknowledged", "alert_id", alertID)
	}
	return ok
}
