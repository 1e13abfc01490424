// Package memory provides an in-memory implementation of all storage interfaces.
// It is suitable for development, testing, and single-instance deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edushield/secgate/storage"
)

const (
	// DefaultEventCapacity bounds the security event ledger. Past this the
	// oldest events are dropped, keeping memory bounded under event floods.
	DefaultEventCapacity = 10000

	// DefaultAlertCapacity bounds the alert list.
	DefaultAlertCapacity = 1000

	// maxRiskScore is the clamp ceiling for risk scores.
	maxRiskScore = 100.0
)

// Store is an in-memory implementation of all storage interfaces.
// It implements RateLimitStore, EventStore, AlertStore, and RiskStore.
//
// Each concern is guarded by its own mutex so a rate-limit check never
// contends with event reads, and no lock is ever held across more than a
// single pass over the relevant structure.
type Store struct {
	// Rate-limit entries, keyed by the caller's opaque key
	rlMu      sync.Mutex
	rlEntries map[string]*storage.RateLimitEntry

	// Event ledger: fixed-size circular buffer, eventNext is the slot the
	// next append writes to, eventLen <= cap(events)
	evMu      sync.RWMutex
	events    []*storage.SecurityEvent
	eventNext int
	eventLen  int

	// Alerts, ordered by creation time (index 0 oldest)
	alMu   sync.Mutex
	alerts []*storage.SecurityAlert

	// Risk maps
	riskMu   sync.Mutex
	userRisk map[string]float64
	ipRisk   map[string]float64

	// Atomic counters for metrics (lock-free access during metric collection)
	rlKeysAtomic  atomic.Int64
	eventsAtomic  atomic.Int64
	alertsAtomic  atomic.Int64
	riskIDsAtomic atomic.Int64
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.RateLimitStore = (*Store)(nil)
	_ storage.EventStore     = (*Store)(nil)
	_ storage.AlertStore     = (*Store)(nil)
	_ storage.RiskStore      = (*Store)(nil)
	_ storage.Store          = (*Store)(nil)
)

// New creates a new in-memory store with default capacities
// (10,000 events, 1,000 alerts).
func New() *Store {
	return NewWithCapacity(DefaultEventCapacity, DefaultAlertCapacity)
}

// NewWithCapacity creates a new in-memory store with custom ledger capacities.
// Non-positive capacities fall back to the defaults.
func NewWithCapacity(eventCapacity, alertCapacity int) *Store {
	if eventCapacity <= 0 {
		eventCapacity = DefaultEventCapacity
	}
	if alertCapacity <= 0 {
		alertCapacity = DefaultAlertCapacity
	}
	return &Store{
		rlEntries: make(map[string]*storage.RateLimitEntry),
		events:    make([]*storage.SecurityEvent, eventCapacity),
		alerts:    make([]*storage.SecurityAlert, 0, alertCapacity),
		userRisk:  make(map[string]float64),
		ipRisk:    make(map[string]float64),
	}
}

// ==================== RateLimitStore ====================

// Mutate atomically loads, transforms, and stores the entry for key.
// The per-key mutex discipline here is what makes the limiter's
// check-and-increment sequence safe under concurrent requests.
func (s *Store) Mutate(_ context.Context, key string, fn func(*storage.RateLimitEntry) *storage.RateLimitEntry) (*storage.RateLimitEntry, error) {
	s.rlMu.Lock()
	defer s.rlMu.Unlock()

	updated := fn(s.rlEntries[key])
	if updated == nil {
		if _, existed := s.rlEntries[key]; existed {
			delete(s.rlEntries, key)
			s.rlKeysAtomic.Add(-1)
		}
		return nil, nil
	}
	if _, existed := s.rlEntries[key]; !existed {
		s.rlKeysAtomic.Add(1)
	}
	s.rlEntries[key] = updated

	// Copy so callers never alias the stored entry outside the lock
	out := *updated
	return &out, nil
}

// SweepRateLimits removes entries whose window and block have both expired.
func (s *Store) SweepRateLimits(_ context.Context, now time.Time) (int, error) {
	s.rlMu.Lock()
	defer s.rlMu.Unlock()

	removed := 0
	for key, entry := range s.rlEntries {
		if entry.Expired(now) {
			delete(s.rlEntries, key)
			removed++
		}
	}
	s.rlKeysAtomic.Add(int64(-removed))
	return removed, nil
}

// RateLimitKeyCount returns the number of tracked keys.
func (s *Store) RateLimitKeyCount(_ context.Context) (int, error) {
	s.rlMu.Lock()
	defer s.rlMu.Unlock()
	return len(s.rlEntries), nil
}

// ==================== EventStore ====================

// AppendEvent appends an event to the circular ledger, overwriting the oldest
// slot once capacity is reached. Events are immutable after append.
func (s *Store) AppendEvent(_ context.Context, event *storage.SecurityEvent) error {
	s.evMu.Lock()
	defer s.evMu.Unlock()

	s.events[s.eventNext] = event
	s.eventNext = (s.eventNext + 1) % cap(s.events)
	if s.eventLen < cap(s.events) {
		s.eventLen++
		s.eventsAtomic.Add(1)
	}
	return nil
}

// ListEvents returns events matching the filter, newest-first.
func (s *Store) ListEvents(_ context.Context, filter storage.EventFilter) ([]*storage.SecurityEvent, error) {
	s.evMu.RLock()
	defer s.evMu.RUnlock()

	var out []*storage.SecurityEvent
	for i := 0; i < s.eventLen; i++ {
		// Walk backwards from the most recent slot
		idx := (s.eventNext - 1 - i + cap(s.events)*2) % cap(s.events)
		e := s.events[idx]
		if !filter.Matches(e) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// CountEvents returns the number of events matching the filter.
func (s *Store) CountEvents(_ context.Context, filter storage.EventFilter) (int, error) {
	s.evMu.RLock()
	defer s.evMu.RUnlock()

	count := 0
	for i := 0; i < s.eventLen; i++ {
		idx := (s.eventNext - 1 - i + cap(s.events)*2) % cap(s.events)
		if filter.Matches(s.events[idx]) {
			count++
		}
	}
	return count, nil
}

// ==================== AlertStore ====================

// UpsertAlert applies the dedupe rule: an unacknowledged alert with the same
// (Type, UserID, IPAddress) absorbs the trigger; otherwise a new alert is
// inserted, evicting the oldest past capacity.
func (s *Store) UpsertAlert(_ context.Context, alert *storage.SecurityAlert) (*storage.SecurityAlert, bool, error) {
	s.alMu.Lock()
	defer s.alMu.Unlock()

	for _, existing := range s.alerts {
		if existing.Acknowledged {
			continue
		}
		if existing.Type != alert.Type || existing.UserID != alert.UserID || existing.IPAddress != alert.IPAddress {
			continue
		}
		existing.Count++
		existing.LastSeen = alert.LastSeen
		if len(alert.Details) > 0 {
			if existing.Details == nil {
				existing.Details = make(map[string]any, len(alert.Details))
			}
			for k, v := range alert.Details {
				existing.Details[k] = v
			}
		}
		out := *existing
		return &out, false, nil
	}

	stored := *alert
	stored.Count = 1
	if len(s.alerts) >= cap(s.alerts) {
		// Evict oldest
		copy(s.alerts, s.alerts[1:])
		s.alerts = s.alerts[:len(s.alerts)-1]
		s.alertsAtomic.Add(-1)
	}
	s.alerts = append(s.alerts, &stored)
	s.alertsAtomic.Add(1)

	out := stored
	return &out, true, nil
}

// AcknowledgeAlert marks an alert acknowledged. Once acknowledged it stops
// absorbing triggers; a later matching trigger creates a fresh alert.
func (s *Store) AcknowledgeAlert(_ context.Context, alertID string) (bool, error) {
	s.alMu.Lock()
	defer s.alMu.Unlock()

	for _, a := range s.alerts {
		if a.ID == alertID {
			if a.Acknowledged {
				return false, nil
			}
			a.Acknowledged = true
			return true, nil
		}
	}
	return false, nil
}

// ListAlerts returns alerts newest LastSeen first.
func (s *Store) ListAlerts(_ context.Context, unackedOnly bool) ([]*storage.SecurityAlert, error) {
	s.alMu.Lock()
	defer s.alMu.Unlock()

	out := make([]*storage.SecurityAlert, 0, len(s.alerts))
	for _, a := range s.alerts {
		if unackedOnly && a.Acknowledged {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return out, nil
}

// ==================== RiskStore ====================

func (s *Store) riskMap(scope storage.RiskScope) map[string]float64 {
	if scope == storage.RiskScopeIP {
		return s.ipRisk
	}
	return s.userRisk
}

// AddRisk adds delta to the identifier's score, clamped to [0,100].
func (s *Store) AddRisk(_ context.Context, scope storage.RiskScope, id string, delta float64) (float64, error) {
	s.riskMu.Lock()
	defer s.riskMu.Unlock()

	m := s.riskMap(scope)
	if _, exists := m[id]; !exists {
		s.riskIDsAtomic.Add(1)
	}
	score := m[id] + delta
	if score > maxRiskScore {
		score = maxRiskScore
	}
	if score < 0 {
		score = 0
	}
	m[id] = score
	return score, nil
}

// GetRisk returns the identifier's current score, zero when untracked.
func (s *Store) GetRisk(_ context.Context, scope storage.RiskScope, id string) (float64, error) {
	s.riskMu.Lock()
	defer s.riskMu.Unlock()
	return s.riskMap(scope)[id], nil
}

// DecayRisk multiplies every score by factor and prunes entries below floor.
// Holds the risk lock for exactly one pass over both maps.
func (s *Store) DecayRisk(_ context.Context, factor, floor float64) (int, error) {
	s.riskMu.Lock()
	defer s.riskMu.Unlock()

	pruned := 0
	for _, m := range []map[string]float64{s.userRisk, s.ipRisk} {
		for id, score := range m {
			score *= factor
			if score < floor {
				delete(m, id)
				pruned++
				continue
			}
			m[id] = score
		}
	}
	s.riskIDsAtomic.Add(int64(-pruned))
	return pruned, nil
}

// TopRisk returns the n highest-scored identifiers within scope.
func (s *Store) TopRisk(_ context.Context, scope storage.RiskScope, n int) ([]storage.RiskEntry, error) {
	s.riskMu.Lock()
	m := s.riskMap(scope)
	entries := make([]storage.RiskEntry, 0, len(m))
	for id, score := range m {
		entries = append(entries, storage.RiskEntry{ID: id, Score: score})
	}
	s.riskMu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].ID < entries[j].ID
	})
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries, nil
}

// ==================== Gauges ====================

// Sizes reports current ledger sizes for observable gauges.
// Reads are lock-free so metric collection never contends with requests.
func (s *Store) Sizes() (rateLimitKeys, events, alerts, riskIDs int64) {
	return s.rlKeysAtomic.Load(), s.eventsAtomic.Load(), s.alertsAtomic.Load(), s.riskIDsAtomic.Load()
}
