package monitor

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/edushield/secgate/storage"
)

func TestMonitor_GetSecurityMetrics(t *testing.T) {
	m, _, _ := newTestMonitor(t, Options{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m.RecordEvent(ctx, Event{Type: storage.EventLoginSuccess, Severity: storage.SeverityLow, UserID: "u1", IPAddress: "1.1.1.1"})
	}
	m.RecordEvent(ctx, Event{Type: storage.EventLoginFailure, Severity: storage.SeverityMedium, UserID: "u2", IPAddress: "2.2.2.2"})
	m.RecordEvent(ctx, Event{Type: storage.EventRateLimitExceeded, Severity: storage.SeverityMedium, IPAddress: "2.2.2.2"})
	m.RecordEvent(ctx, Event{Type: storage.EventSuspiciousActivity, Severity: storage.SeverityHigh, UserID: "u2", IPAddress: "2.2.2.2"})

	metrics, err := m.GetSecurityMetrics(ctx)
	if err != nil {
		t.Fatalf("GetSecurityMetrics() error = %v", err)
	}

	if metrics.TotalEvents != 6 {
		t.Errorf("TotalEvents = %d, want 6", metrics.TotalEvents)
	}
	if metrics.EventsByType[storage.EventLoginSuccess] != 3 {
		t.Errorf("LoginSuccess count = %d, want 3", metrics.EventsByType[storage.EventLoginSuccess])
	}
	if metrics.EventsBySeverity[storage.SeverityMedium] != 2 {
		t.Errorf("medium count = %d, want 2", metrics.EventsBySeverity[storage.SeverityMedium])
	}

	// 1 failure out of 4 login outcomes
	if math.Abs(metrics.AuthFailureRate-25) > 1e-9 {
		t.Errorf("AuthFailureRate = %v, want 25", metrics.AuthFailureRate)
	}
	if metrics.RateLimitViolations != 1 {
		t.Errorf("RateLimitViolations = %d, want 1", metrics.RateLimitViolations)
	}

	// 1 suspicious event out of 6
	want := 100.0 / 6.0
	if math.Abs(metrics.SuspiciousActivityScore-want) > 1e-9 {
		t.Errorf("SuspiciousActivityScore = %v, want %v", metrics.SuspiciousActivityScore, want)
	}

	// u2 accumulated risk from failure and suspicious activity; u1 none
	if len(metrics.TopRiskUsers) == 0 || metrics.TopRiskUsers[0].ID != "u2" {
		t.Errorf("TopRiskUsers = %v, want u2 first", metrics.TopRiskUsers)
	}
	if len(metrics.TopRiskIPs) == 0 || metrics.TopRiskIPs[0].ID != "2.2.2.2" {
		t.Errorf("TopRiskIPs = %v, want 2.2.2.2 first", metrics.TopRiskIPs)
	}
}

func TestMonitor_GetSecurityMetrics_WindowExcludesOldEvents(t *testing.T) {
	m, _, mt := newTestMonitor(t, Options{})
	ctx := context.Background()

	m.RecordEvent(ctx, Event{Type: storage.EventLoginFailure, Severity: storage.SeverityMedium, IPAddress: "1.1.1.1"})
	mt.Advance(25 * time.Hour)
	m.RecordEvent(ctx, Event{Type: storage.EventLoginFailure, Severity: storage.SeverityMedium, IPAddress: "1.1.1.1"})

	metrics, err := m.GetSecurityMetrics(ctx)
	if err != nil {
		t.Fatalf("GetSecurityMetrics() error = %v", err)
	}
	if metrics.TotalEvents != 1 {
		t.Errorf("TotalEvents = %d, want 1 (day-old event excluded)", metrics.TotalEvents)
	}
}

func TestMonitor_GetSecurityMetrics_ActiveThreats(t *testing.T) {
	m, store, _ := newTestMonitor(t, Options{})
	ctx := context.Background()

	// One high-severity and one low-severity unacked alert, one acknowledged
	store.UpsertAlert(ctx, &storage.SecurityAlert{ID: "a", Type: "X", Severity: storage.SeverityHigh, IPAddress: "1.1.1.1"})
	store.UpsertAlert(ctx, &storage.SecurityAlert{ID: "b", Type: "Y", Severity: storage.SeverityLow, IPAddress: "2.2.2.2"})
	store.UpsertAlert(ctx, &storage.SecurityAlert{ID: "c", Type: "Z", Severity: storage.SeverityCritical, IPAddress: "3.3.3.3"})
	store.AcknowledgeAlert(ctx, "c")

	metrics, err := m.GetSecurityMetrics(ctx)
	if err != nil {
		t.Fatalf("GetSecurityMetrics() error = %v", err)
	}
	if metrics.ActiveThreats != 1 {
		t.Errorf("ActiveThreats = %d, want 1 (low severity and acknowledged excluded)", metrics.ActiveThreats)
	}
}

func TestMonitor_GetActiveAlerts(t *testing.T) {
	m, store, _ := newTestMonitor(t, Options{})
	ctx := context.Background()

	store.UpsertAlert(ctx, &storage.SecurityAlert{ID: "a", Type: "X", IPAddress: "1.1.1.1"})
	store.UpsertAlert(ctx, &storage.SecurityAlert{ID: "b", Type: "Y", IPAddress: "2.2.2.2"})
	m.AcknowledgeAlert(ctx, "a")

	alerts, err := m.GetActiveAlerts(ctx)
	if err != nil {
		t.Fatalf("GetActiveAlerts() error = %v", err)
	}
	if len(alerts) != 1 || alerts[0].ID != "b" {
		t.Errorf("GetActiveAlerts() = %d alerts, want only b", len(alerts))
	}
}

func TestMonitor_AcknowledgeAlert_Missing(t *testing.T) {
	m, _, _ := newTestMonitor(t, Options{})
	if m.AcknowledgeAlert(context.Background(), "nope") {
		t.Error("acknowledging a missing alert should return false")
	}
}
