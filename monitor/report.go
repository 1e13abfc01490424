package monitor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/edushield/secgate/storage"
)

// ReportRange is the closed set of report lookback windows.
type ReportRange string

const (
	Range1h  ReportRange = "1h"
	Range24h ReportRange = "24h"
	Range7d  ReportRange = "7d"
	Range30d ReportRange = "30d"
)

// Duration returns the lookback for the range, false for unknown ranges.
func (r ReportRange) Duration() (time.Duration, bool) {
	switch r {
	case Range1h:
		return time.Hour, true
	case Range24h:
		return 24 * time.Hour, true
	case Range7d:
		return 7 * 24 * time.Hour, true
	case Range30d:
		return 30 * 24 * time.Hour, true
	}
	return 0, false
}

// ThreatSummary is one event type's frequency within a report window.
type ThreatSummary struct {
	Type  storage.EventType `json:"type"`
	Count int               `json:"count"`
}

// RiskBuckets counts tracked identifiers per score band across both scopes.
type RiskBuckets struct {
	Low      int `json:"low"`      // score < 25
	Moderate int `json:"moderate"` // 25 <= score < 50
	Elevated int `json:"elevated"` // 50 <= score < 75
	High     int `json:"high"`     // score >= 75
}

// SecurityReport is the windowed summary produced by GenerateSecurityReport.
type SecurityReport struct {
	Range            ReportRange               `json:"range"`
	GeneratedAt      time.Time                 `json:"generated_at"`
	TotalEvents      int                       `json:"total_events"`
	EventsByType     map[storage.EventType]int `json:"events_by_type"`
	EventsBySeverity map[storage.Severity]int  `json:"events_by_severity"`
	TopThreats       []ThreatSummary           `json:"top_threats"`
	RiskBuckets      RiskBuckets               `json:"risk_buckets"`
	ActiveAlerts     int                       `json:"active_alerts"`
	HighRiskSessions int                       `json:"high_risk_sessions"`
	Recommendations  []string                  `json:"recommendations"`
}

// UserBehaviorAnalysis is the per-user heuristic produced by AnalyzeUserBehavior.
type UserBehaviorAnalysis struct {
	UserID           string   `json:"user_id"`
	RiskScore        float64  `json:"risk_score"`
	DistinctLoginIPs int      `json:"distinct_login_ips"`
	FailedLogins     int      `json:"failed_logins"`
	ActiveSessions   int      `json:"active_sessions"`
	Anomalies        []string `json:"anomalies"`
	Recommendations  []string `json:"recommendations"`
}

// Behavior analysis heuristics over the last 24 hours.
const (
	behaviorWindow      = 24 * time.Hour
	manyLoginIPs        = 3
	manyFailedLogins    = 3
	manyActiveSessions  = 5
	elevatedRiskScore   = 50.0
	highAuthFailureRate = 10.0
)

// AnalyzeUserBehavior runs simple heuristics over a user's recent events and
// sessions: distinct login IPs, failed logins, and active session count feed
// a textual anomaly and recommendation list next to the stored risk score.
func (m *Monitor) AnalyzeUserBehavior(ctx context.Context, userID string) (*UserBehaviorAnalysis, error) {
	events, err := m.events.ListEvents(ctx, storage.EventFilter{
		UserID:    userID,
		StartTime: m.now().Add(-behaviorWindow),
	})
	if err != nil {
		return nil, err
	}

	analysis := &UserBehaviorAnalysis{UserID: userID}

	loginIPs := make(map[string]struct{})
	for _, e := range events {
		switch e.Type {
		case storage.EventLoginSuccess:
			if e.IPAddress != "" {
				loginIPs[e.IPAddress] = struct{}{}
			}
		case storage.EventLoginFailure:
			analysis.FailedLogins++
			if e.IPAddress != "" {
				loginIPs[e.IPAddress] = struct{}{}
			}
		}
	}
	analysis.DistinctLoginIPs = len(loginIPs)

	if analysis.RiskScore, err = m.risk.GetRisk(ctx, storage.RiskScopeUser, userID); err != nil {
		return nil, err
	}

	if m.sessions != nil {
		sessions, err := m.sessions.GetUserSessions(ctx, userID)
		if err != nil {
			// Session inventory is advisory; analysis proceeds without it
			m.logger.Warn("Failed to fetch user sessions for analysis", "error", err)
		} else {
			analysis.ActiveSessions = len(sessions)
		}
	}

	if analysis.DistinctLoginIPs > manyLoginIPs {
		analysis.Anomalies = append(analysis.Anomalies,
			fmt.Sprintf("logins from %d distinct IP addresses in the last 24h", analysis.DistinctLoginIPs))
		analysis.Recommendations = append(analysis.Recommendations,
			"Verify recent login locations with the user")
	}
	if analysis.FailedLogins >= manyFailedLogins {
		analysis.Anomalies = append(analysis.Anomalies,
			fmt.Sprintf("%d failed login attempts in the last 24h", analysis.FailedLogins))
		analysis.Recommendations = append(analysis.Recommendations,
			"Consider requiring a password reset")
	}
	if analysis.ActiveSessions > manyActiveSessions {
		analysis.Anomalies = append(analysis.Anomalies,
			fmt.Sprintf("%d concurrent active sessions", analysis.ActiveSessions))
		analysis.Recommendations = append(analysis.Recommendations,
			"Review and revoke unfamiliar sessions")
	}
	if analysis.RiskScore >= elevatedRiskScore {
		analysis.Anomalies = append(analysis.Anomalies,
			fmt.Sprintf("risk score %.1f is elevated", analysis.RiskScore))
		analysis.Recommendations = append(analysis.Recommendations,
			"Require reauthentication for sensitive operations")
	}

	return analysis, nil
}

// GenerateSecurityReport produces a windowed summary: counts by type and
// severity, top threats by frequency, risk-bucket counts, and rule-derived
// recommendations. Returns an error for ranges outside the closed set.
func (m *Monitor) GenerateSecurityReport(ctx context.Context, rng ReportRange) (*SecurityReport, error) {
	lookback, ok := rng.Duration()
	if !ok {
		return nil, fmt.Errorf("monitor: unknown report range %q", rng)
	}

	now := m.now()
	events, err := m.events.ListEvents(ctx, storage.EventFilter{StartTime: now.Add(-lookback)})
	if err != nil {
		return nil, err
	}

	report := &SecurityReport{
		Range:            rng,
		GeneratedAt:      now,
		TotalEvents:      len(events),
		EventsByType:     make(map[storage.EventType]int),
		EventsBySeverity: make(map[storage.Severity]int),
	}

	var loginSuccesses, loginFailures, rateLimitViolations int
	for _, e := range events {
		report.EventsByType[e.Type]++
		report.EventsBySeverity[e.Severity]++
		switch e.Type {
		case storage.EventLoginSuccess:
			loginSuccesses++
		case storage.EventLoginFailure:
			loginFailures++
		case storage.EventRateLimitExceeded:
			rateLimitViolations++
		}
	}

	for eventType, count := range report.EventsByType {
		report.TopThreats = append(report.TopThreats, ThreatSummary{Type: eventType, Count: count})
	}
	sort.Slice(report.TopThreats, func(i, j int) bool {
		if report.TopThreats[i].Count != report.TopThreats[j].Count {
			return report.TopThreats[i].Count > report.TopThreats[j].Count
		}
		return report.TopThreats[i].Type < report.TopThreats[j].Type
	})

	if report.RiskBuckets, err = m.riskBuckets(ctx); err != nil {
		return nil, err
	}

	alerts, err := m.alerts.ListAlerts(ctx, true)
	if err != nil {
		return nil, err
	}
	report.ActiveAlerts = len(alerts)

	if m.sessions != nil {
		stats, err := m.sessions.GetSessionStats(ctx)
		if err != nil {
			// Session inventory is advisory; the report proceeds without it
			m.logger.Warn("Failed to fetch session stats for report", "error", err)
		} else {
			report.HighRiskSessions = stats.HighRiskSessions
		}
	}

	if report.ActiveAlerts > 0 {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("Review and acknowledge %d active alerts", report.ActiveAlerts))
	}
	if totalLogins := loginSuccesses + loginFailures; totalLogins > 0 {
		if rate := float64(loginFailures) / float64(totalLogins) * 100; rate > highAuthFailureRate {
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("Authentication failure rate is %.1f%%; consider enabling multi-factor authentication", rate))
		}
	}
	if rateLimitViolations > 0 {
		report.Recommendations = append(report.Recommendations,
			"Rate limit violations observed; review limiter profiles for abused endpoints")
	}
	if report.RiskBuckets.High > 0 {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("%d identifiers carry high risk scores; investigate before they act again", report.RiskBuckets.High))
	}
	if report.HighRiskSessions > 0 {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("%d active sessions are flagged high risk; review and revoke as needed", report.HighRiskSessions))
	}

	return report, nil
}

// riskBuckets counts tracked identifiers per score band across both scopes.
func (m *Monitor) riskBuckets(ctx context.Context) (RiskBuckets, error) {
	var buckets RiskBuckets
	for _, scope := range []storage.RiskScope{storage.RiskScopeUser, storage.RiskScopeIP} {
		entries, err := m.risk.TopRisk(ctx, scope, 0)
		if err != nil {
			return buckets, err
		}
		for _, e := range entries {
			switch {
			case e.Score >= 75:
				buckets.High++
			case e.Score >= 50:
				buckets.Elevated++
			case e.Score >= 25:
				buckets.Moderate++
			default:
				buckets.Low++
			}
		}
	}
	return buckets, nil
}
