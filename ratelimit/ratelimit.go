// Package ratelimit implements fixed-window rate limiting with escalating
// block periods, keyed by an arbitrary string (IP, profile:IP, user+IP).
//
// The algorithm is deliberately a fixed window, not a token bucket or sliding
// window: a key gets MaxAttempts checks per window, and exceeding the limit
// enters a block that overrides window counting until it expires. A burst of
// up to 2x MaxAttempts straddling a window edge is an accepted property of
// the fixed-window design.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/edushield/secgate/storage"
)

// DefaultSweepInterval is how often the background sweep reclaims entries
// whose window and block have both expired.
const DefaultSweepInterval = 5 * time.Minute

// Config holds one rate-limit profile. All fields are required.
type Config struct {
	// Window is the fixed counting window.
	Window time.Duration

	// MaxAttempts is the number of checks allowed per window.
	MaxAttempts int

	// BlockDuration is the lockout length once MaxAttempts is exceeded.
	BlockDuration time.Duration

	// Message is the human-readable denial reason returned to callers.
	Message string
}

// Validate rejects incomplete configs. Profiles are a closed, validated set;
// a zero field is always a caller bug, never a default.
func (c Config) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("ratelimit: window must be positive, got %v", c.Window)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("ratelimit: max attempts must be positive, got %d", c.MaxAttempts)
	}
	if c.BlockDuration <= 0 {
		return fmt.Errorf("ratelimit: block duration must be positive, got %v", c.BlockDuration)
	}
	if c.Message == "" {
		return fmt.Errorf("ratelimit: message is required")
	}
	return nil
}

// Named profiles. These are configuration data, not separate code paths.
const (
	ProfileAuth         = "auth"
	ProfileAPI          = "api"
	ProfileSensitive    = "sensitive"
	ProfileRegistration = "registration"
)

var profiles = map[string]Config{
	ProfileAuth: {
		Window:        15 * time.Minute,
		MaxAttempts:   5,
		BlockDuration: time.Hour,
		Message:       "Too many authentication attempts. Please try again later.",
	},
	ProfileAPI: {
		Window:        time.Minute,
		MaxAttempts:   60,
		BlockDuration: 5 * time.Minute,
		Message:       "API rate limit exceeded. Please slow down.",
	},
	ProfileSensitive: {
		Window:        time.Hour,
		MaxAttempts:   3,
		BlockDuration: 4 * time.Hour,
		Message:       "Too many attempts on a sensitive operation. Access temporarily blocked.",
	},
	ProfileRegistration: {
		Window:        time.Hour,
		MaxAttempts:   3,
		BlockDuration: 2 * time.Hour,
		Message:       "Too many registration attempts. Please try again later.",
	},
}

// Profile returns the named profile config. The bool is false for unknown
// names; callers must treat that as a configuration error, not a pass.
func Profile(name string) (Config, bool) {
	cfg, ok := profiles[name]
	return cfg, ok
}

// ProfileNames returns the closed set of profile names, for validation.
func ProfileNames() []string {
	return []string{ProfileAuth, ProfileAPI, ProfileSensitive, ProfileRegistration}
}

// Result is the outcome of one rate-limit check.
type Result struct {
	// Allowed is true when the request may proceed.
	Allowed bool

	// Blocked is true when the key is inside a block period.
	Blocked bool

	// RemainingAttempts is how many checks remain in the current window.
	// Only meaningful when Allowed.
	RemainingAttempts int

	// ResetInSeconds is how long until the current window resets.
	// Only meaningful when Allowed.
	ResetInSeconds int

	// RetryAfterSeconds is how long until the block expires.
	// Only meaningful when Blocked.
	RetryAfterSeconds int

	// Message is the profile's denial reason. Only set when Blocked.
	Message string
}

// Limiter evaluates fixed-window rate limits against a RateLimitStore.
// The check-and-increment sequence is atomic per key: the store's Mutate
// contract serializes it, so concurrent requests for one key are applied
// in arrival order.
type Limiter struct {
	store         storage.RateLimitStore
	logger        *slog.Logger
	sweepInterval time.Duration
	stopSweep     chan struct{}
	stopOnce      sync.Once
	now           func() time.Time

	// Statistics
	mu           sync.Mutex
	totalAllowed int64
	totalBlocked int64
	totalSweeps  int64
}

// New creates a limiter over the given store and starts the background sweep.
// Call Stop at shutdown to cancel the sweep goroutine.
func New(store storage.RateLimitStore, logger *slog.Logger) *Limiter {
	return newWithSweepInterval(store, DefaultSweepInterval, logger)
}

// newWithSweepInterval exists for tests that need a fast sweep cycle.
func newWithSweepInterval(store storage.RateLimitStore, sweepInterval time.Duration, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	l := &Limiter{
		store:         store,
		logger:        logger,
		sweepInterval: sweepInterval,
		stopSweep:     make(chan struct{}),
		now:           time.Now,
	}
	go l.sweepLoop()
	return l
}

// Check evaluates one attempt for key under cfg.
//
// A blocked key does not consume window budget: checking a blocked key is
// free and idempotent. The window reset instant is never extended by
// activity inside the window; it only moves on expiry-triggered reset.
func (l *Limiter) Check(ctx context.Context, key string, cfg Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}

	now := l.now()
	var res Result

	_, err := l.store.Mutate(ctx, key, func(entry *storage.RateLimitEntry) *storage.RateLimitEntry {
		if entry == nil {
			entry = &storage.RateLimitEntry{WindowResetAt: now.Add(cfg.Window)}
		}

		// An active block short-circuits without touching the counter
		if !entry.BlockedUntil.IsZero() && entry.BlockedUntil.After(now) {
			res = Result{
				Blocked:           true,
				RetryAfterSeconds: ceilSeconds(entry.BlockedUntil.Sub(now)),
				Message:           cfg.Message,
			}
			return entry
		}

		if entry.WindowResetAt.Before(now) {
			entry.Count = 0
			entry.WindowResetAt = now.Add(cfg.Window)
			entry.BlockedUntil = time.Time{}
		}

		entry.Count++

		if entry.Count > cfg.MaxAttempts {
			entry.BlockedUntil = now.Add(cfg.BlockDuration)
			res = Result{
				Blocked:           true,
				RetryAfterSeconds: int(cfg.BlockDuration / time.Second),
				Message:           cfg.Message,
			}
			return entry
		}

		res = Result{
			Allowed:           true,
			RemainingAttempts: cfg.MaxAttempts - entry.Count,
			ResetInSeconds:    ceilSeconds(entry.WindowResetAt.Sub(now)),
		}
		return entry
	})
	if err != nil {
		return Result{}, fmt.Errorf("rate limit store: %w", err)
	}

	l.mu.Lock()
	if res.Blocked {
		l.totalBlocked++
	} else {
		l.totalAllowed++
	}
	l.mu.Unlock()

	return res, nil
}

// ceilSeconds rounds a duration up to whole seconds, matching the
// Retry-After semantics of never promising an earlier retry than allowed.
func ceilSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

// sweepLoop periodically reclaims fully expired entries to bound memory.
func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Sweep(context.Background())
		case <-l.stopSweep:
			return
		}
	}
}

// Sweep removes entries whose window and block have both expired.
func (l *Limiter) Sweep(ctx context.Context) {
	removed, err := l.store.SweepRateLimits(ctx, l.now())
	if err != nil {
		l.logger.Error("Rate limit sweep failed", "error", err)
		return
	}
	if removed > 0 {
		l.mu.Lock()
		l.totalSweeps++
		sweeps := l.totalSweeps
		l.mu.Unlock()
		l.logger.Debug("Rate limit sweep completed",
			"removed", removed,
			"total_sweeps", sweeps)
	}
}

// Stop gracefully stops the sweep goroutine.
// Safe to call multiple times concurrently.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopSweep)
	})
}

// Stats holds limiter statistics for monitoring.
type Stats struct {
	CurrentKeys  int   // Current number of tracked keys
	TotalAllowed int64 // Total checks that passed
	TotalBlocked int64 // Total checks denied by a block or exhausted window
	TotalSweeps  int64 // Total sweep passes that removed entries
}

// GetStats returns current limiter statistics for monitoring and alerting.
func (l *Limiter) GetStats(ctx context.Context) Stats {
	keys, err := l.store.RateLimitKeyCount(ctx)
	if err != nil {
		l.logger.Error("Rate limit key count failed", "error", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		CurrentKeys:  keys,
		TotalAllowed: l.totalAllowed,
		TotalBlocked: l.totalBlocked,
		TotalSweeps:  l.totalSweeps,
	}
}
