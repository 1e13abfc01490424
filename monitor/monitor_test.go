package monitor

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/edushield/secgate/internal/testutil"
	"github.com/edushield/secgate/storage"
	"github.com/edushield/secgate/storage/memory"
)

func newTestMonitor(t *testing.T, opts Options) (*Monitor, *memory.Store, *testutil.MockTime) {
	t.Helper()
	mt := testutil.NewMockTime(time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC))
	store := memory.New()
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	m := New(store, store, store, opts)
	m.now = mt.Now
	t.Cleanup(m.Stop)
	return m, store, mt
}

func recordFailures(m *Monitor, ip string, n int) {
	for i := 0; i < n; i++ {
		m.RecordEvent(context.Background(), Event{
			Type:      storage.EventLoginFailure,
			Severity:  storage.SeverityMedium,
			IPAddress: ip,
		})
	}
}

func TestMonitor_RecordEvent_AppendsToLedger(t *testing.T) {
	m, store, mt := newTestMonitor(t, Options{})
	ctx := context.Background()

	m.RecordEvent(ctx, Event{
		Type:      storage.EventLoginFailure,
		Severity:  storage.SeverityMedium,
		UserID:    "u1",
		IPAddress: "1.2.3.4",
		Metadata:  storage.EventMetadata{RequestID: "req-1", Endpoint: "/login"},
	})

	events, err := store.ListEvents(ctx, storage.EventFilter{})
	testutil.AssertNoError(t, err)
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}

	e := events[0]
	if e.ID == "" {
		t.Error("event should get an ID assigned")
	}
	if !e.Timestamp.Equal(mt.Now()) {
		t.Errorf("Timestamp = %v, want %v", e.Timestamp, mt.Now())
	}
	if e.Metadata.RequestID != "req-1" {
		t.Errorf("RequestID = %s, want req-1", e.Metadata.RequestID)
	}
}

func TestMonitor_RecordEvent_UpdatesRiskScores(t *testing.T) {
	m, store, _ := newTestMonitor(t, Options{})
	ctx := context.Background()

	// LOGIN_FAILURE weighs 5; medium severity multiplies by 1.5
	m.RecordEvent(ctx, Event{
		Type:      storage.EventLoginFailure,
		Severity:  storage.SeverityMedium,
		UserID:    "u1",
		IPAddress: "1.2.3.4",
	})

	userScore, _ := store.GetRisk(ctx, storage.RiskScopeUser, "u1")
	if math.Abs(userScore-7.5) > 1e-9 {
		t.Errorf("user score = %v, want 7.5", userScore)
	}
	ipScore, _ := store.GetRisk(ctx, storage.RiskScopeIP, "1.2.3.4")
	if math.Abs(ipScore-7.5) > 1e-9 {
		t.Errorf("ip score = %v, want 7.5", ipScore)
	}
}

func TestMonitor_RecordEvent_SeverityFactors(t *testing.T) {
	tests := []struct {
		severity storage.Severity
		want     float64
	}{
		{storage.SeverityLow, 5},
		{storage.SeverityMedium, 7.5},
		{storage.SeverityHigh, 10},
		{storage.SeverityCritical, 15},
	}

	for _, tt := range tests {
		t.Run(string(tt.severity), func(t *testing.T) {
			m, store, _ := newTestMonitor(t, Options{})
			m.RecordEvent(context.Background(), Event{
				Type:     storage.EventLoginFailure,
				Severity: tt.severity,
				UserID:   "u1",
			})
			score, _ := store.GetRisk(context.Background(), storage.RiskScopeUser, "u1")
			if math.Abs(score-tt.want) > 1e-9 {
				t.Errorf("score = %v, want %v", score, tt.want)
			}
		})
	}
}

func TestMonitor_RecordEvent_BenignTypesCarryNoWeight(t *testing.T) {
	m, store, _ := newTestMonitor(t, Options{})
	ctx := context.Background()

	m.RecordEvent(ctx, Event{
		Type:     storage.EventAccessGranted,
		Severity: storage.SeverityLow,
		UserID:   "u1",
	})
	m.RecordEvent(ctx, Event{
		Type:     storage.EventTokenRefreshed,
		Severity: storage.SeverityLow,
		UserID:   "u1",
	})

	score, _ := store.GetRisk(ctx, storage.RiskScopeUser, "u1")
	if score != 0 {
		t.Errorf("score = %v, want 0", score)
	}
}

func TestMonitor_RecordEvent_InvalidSeverityDefaultsLow(t *testing.T) {
	m, store, _ := newTestMonitor(t, Options{})
	ctx := context.Background()

	m.RecordEvent(ctx, Event{
		Type:     storage.EventLoginFailure,
		Severity: storage.Severity("bogus"),
		UserID:   "u1",
	})

	events, _ := store.ListEvents(ctx, storage.EventFilter{})
	if events[0].Severity != storage.SeverityLow {
		t.Errorf("Severity = %s, want low", events[0].Severity)
	}
}

func TestMonitor_BruteForceAlert(t *testing.T) {
	m, store, _ := newTestMonitor(t, Options{})
	ctx := context.Background()

	// Four failures stay below the threshold
	recordFailures(m, "1.2.3.4", 4)
	alerts, _ := store.ListAlerts(ctx, true)
	if len(alerts) != 0 {
		t.Fatalf("len(alerts) = %d, want 0 before threshold", len(alerts))
	}

	// The fifth crosses it
	recordFailures(m, "1.2.3.4", 1)
	alerts, _ = store.ListAlerts(ctx, true)
	if len(alerts) != 1 {
		t.Fatalf("len(alerts) = %d, want 1", len(alerts))
	}

	a := alerts[0]
	if a.Type != AlertBruteForce {
		t.Errorf("Type = %s, want %s", a.Type, AlertBruteForce)
	}
	if a.Severity != storage.SeverityHigh {
		t.Errorf("Severity = %s, want high", a.Severity)
	}
	if a.IPAddress != "1.2.3.4" {
		t.Errorf("IPAddress = %s, want 1.2.3.4", a.IPAddress)
	}
	if a.Count != 1 {
		t.Errorf("Count = %d, want 1", a.Count)
	}
}

func TestMonitor_BruteForceAlert_SixthFailureAbsorbed(t *testing.T) {
	m, store, _ := newTestMonitor(t, Options{})
	ctx := context.Background()

	recordFailures(m, "1.2.3.4", 6)

	alerts, _ := store.ListAlerts(ctx, true)
	if len(alerts) != 1 {
		t.Fatalf("len(alerts) = %d, want exactly 1 (no duplicates)", len(alerts))
	}
	if alerts[0].Count < 2 {
		t.Errorf("Count = %d, want at least 2", alerts[0].Count)
	}
}

func TestMonitor_BruteForceAlert_PerIP(t *testing.T) {
	m, store, _ := newTestMonitor(t, Options{})
	ctx := context.Background()

	recordFailures(m, "1.1.1.1", 4)
	recordFailures(m, "2.2.2.2", 4)

	alerts, _ := store.ListAlerts(ctx, true)
	if len(alerts) != 0 {
		t.Errorf("len(alerts) = %d, want 0 (counts must not mix across IPs)", len(alerts))
	}
}

func TestMonitor_BruteForceAlert_WindowExcludesOldFailures(t *testing.T) {
	m, store, mt := newTestMonitor(t, Options{})
	ctx := context.Background()

	recordFailures(m, "1.2.3.4", 4)
	mt.Advance(16 * time.Minute)
	recordFailures(m, "1.2.3.4", 1)

	alerts, _ := store.ListAlerts(ctx, true)
	if len(alerts) != 0 {
		t.Errorf("len(alerts) = %d, want 0 (old failures are outside the window)", len(alerts))
	}
}

func TestMonitor_APIAbuseAlert(t *testing.T) {
	m, store, _ := newTestMonitor(t, Options{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m.RecordEvent(ctx, Event{
			Type:      storage.EventRateLimitExceeded,
			Severity:  storage.SeverityMedium,
			IPAddress: "9.9.9.9",
		})
	}

	alerts, _ := store.ListAlerts(ctx, true)
	if len(alerts) != 1 {
		t.Fatalf("len(alerts) = %d, want 1", len(alerts))
	}
	if alerts[0].Type != AlertAPIAbuse {
		t.Errorf("Type = %s, want %s", alerts[0].Type, AlertAPIAbuse)
	}
	if alerts[0].Severity != storage.SeverityMedium {
		t.Errorf("Severity = %s, want medium", alerts[0].Severity)
	}
}

func TestMonitor_AlertAfterAcknowledgementIsFresh(t *testing.T) {
	m, store, _ := newTestMonitor(t, Options{})
	ctx := context.Background()

	recordFailures(m, "1.2.3.4", 5)
	alerts, _ := store.ListAlerts(ctx, true)
	if len(alerts) != 1 {
		t.Fatalf("len(alerts) = %d, want 1", len(alerts))
	}
	firstID := alerts[0].ID

	if !m.AcknowledgeAlert(ctx, firstID) {
		t.Fatal("AcknowledgeAlert() should succeed")
	}

	// The ledger still holds 5+ recent failures, so the next one re-fires
	// the rule; the acknowledged alert must not absorb it.
	recordFailures(m, "1.2.3.4", 1)

	alerts, _ = store.ListAlerts(ctx, true)
	if len(alerts) != 1 {
		t.Fatalf("len(alerts) = %d unacked, want 1", len(alerts))
	}
	if alerts[0].ID == firstID {
		t.Error("new alert should have a fresh ID, not update the acknowledged one")
	}

	all, _ := store.ListAlerts(ctx, false)
	if len(all) != 2 {
		t.Errorf("total alerts = %d, want 2", len(all))
	}
}

func TestMonitor_NoThresholdsWithoutIP(t *testing.T) {
	m, store, _ := newTestMonitor(t, Options{})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		m.RecordEvent(ctx, Event{
			Type:     storage.EventLoginFailure,
			Severity: storage.SeverityMedium,
			UserID:   "u1",
		})
	}

	alerts, _ := store.ListAlerts(ctx, true)
	if len(alerts) != 0 {
		t.Errorf("len(alerts) = %d, want 0 (rules are IP-scoped)", len(alerts))
	}
}

func TestMonitor_Decay(t *testing.T) {
	m, store, _ := newTestMonitor(t, Options{})
	ctx := context.Background()

	store.AddRisk(ctx, storage.RiskScopeUser, "hot", 80)
	store.AddRisk(ctx, storage.RiskScopeIP, "cold", 1)

	m.Decay(ctx)

	score, _ := store.GetRisk(ctx, storage.RiskScopeUser, "hot")
	if math.Abs(score-76) > 1e-9 {
		t.Errorf("decayed score = %v, want 76", score)
	}
	score, _ = store.GetRisk(ctx, storage.RiskScopeIP, "cold")
	if score != 0 {
		t.Errorf("sub-floor score = %v, want pruned to 0", score)
	}
}

func TestMonitor_RiskScoreClamped(t *testing.T) {
	m, store, _ := newTestMonitor(t, Options{})
	ctx := context.Background()

	// BRUTE_FORCE_ATTEMPT at critical is 20 x 3 = 60 per event
	for i := 0; i < 5; i++ {
		m.RecordEvent(ctx, Event{
			Type:     storage.EventBruteForceAttempt,
			Severity: storage.SeverityCritical,
			UserID:   "u1",
		})
	}

	score, _ := store.GetRisk(ctx, storage.RiskScopeUser, "u1")
	if score != 100 {
		t.Errorf("score = %v, want clamped to 100", score)
	}
}

func TestMonitor_Stop_Idempotent(t *testing.T) {
	m, _, _ := newTestMonitor(t, Options{})
	m.Stop()
	m.Stop()
}
