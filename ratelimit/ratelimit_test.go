package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/edushield/secgate/internal/testutil"
	"github.com/edushield/secgate/storage/memory"
)

func newTestLimiter(t *testing.T) (*Limiter, *testutil.MockTime) {
	t.Helper()
	mt := testutil.NewMockTime(time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC))
	l := newWithSweepInterval(memory.New(), time.Hour, nil)
	l.now = mt.Now
	t.Cleanup(l.Stop)
	return l, mt
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{
		Window:        time.Minute,
		MaxAttempts:   3,
		BlockDuration: 5 * time.Minute,
		Message:       "slow down",
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"zero window", func(c *Config) { c.Window = 0 }, true},
		{"negative window", func(c *Config) { c.Window = -time.Second }, true},
		{"zero max attempts", func(c *Config) { c.MaxAttempts = 0 }, true},
		{"zero block duration", func(c *Config) { c.BlockDuration = 0 }, true},
		{"empty message", func(c *Config) { c.Message = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestProfile(t *testing.T) {
	for _, name := range ProfileNames() {
		cfg, ok := Profile(name)
		if !ok {
			t.Errorf("Profile(%q) not found", name)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Profile(%q) config invalid: %v", name, err)
		}
	}

	if _, ok := Profile("nonexistent"); ok {
		t.Error("Profile() should not find unknown profile")
	}
}

func TestProfile_AuthValues(t *testing.T) {
	cfg, ok := Profile(ProfileAuth)
	if !ok {
		t.Fatal("auth profile missing")
	}
	if cfg.Window != 15*time.Minute {
		t.Errorf("Window = %v, want 15m", cfg.Window)
	}
	if cfg.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.MaxAttempts)
	}
	if cfg.BlockDuration != time.Hour {
		t.Errorf("BlockDuration = %v, want 1h", cfg.BlockDuration)
	}
}

func TestLimiter_Check_AllowsUpToMax(t *testing.T) {
	l, _ := newTestLimiter(t)
	cfg := Config{Window: time.Minute, MaxAttempts: 3, BlockDuration: 5 * time.Minute, Message: "blocked"}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Check(ctx, "key", cfg)
		testutil.AssertNoError(t, err)
		if !res.Allowed {
			t.Fatalf("check %d should be allowed", i+1)
		}
		if res.RemainingAttempts != 2-i {
			t.Errorf("check %d: RemainingAttempts = %d, want %d", i+1, res.RemainingAttempts, 2-i)
		}
		if res.ResetInSeconds != 60 {
			t.Errorf("check %d: ResetInSeconds = %d, want 60", i+1, res.ResetInSeconds)
		}
	}

	res, err := l.Check(ctx, "key", cfg)
	testutil.AssertNoError(t, err)
	if res.Allowed || !res.Blocked {
		t.Fatal("fourth check should be blocked")
	}
	if res.RetryAfterSeconds != 300 {
		t.Errorf("RetryAfterSeconds = %d, want 300", res.RetryAfterSeconds)
	}
	if res.Message != "blocked" {
		t.Errorf("Message = %q, want %q", res.Message, "blocked")
	}
}

func TestLimiter_Check_BlockedChecksDoNotExtendBlock(t *testing.T) {
	l, mt := newTestLimiter(t)
	cfg := Config{Window: 5 * time.Second, MaxAttempts: 1, BlockDuration: 10 * time.Second, Message: "blocked"}
	ctx := context.Background()

	if res, _ := l.Check(ctx, "key", cfg); !res.Allowed {
		t.Fatal("first check should be allowed")
	}
	if res, _ := l.Check(ctx, "key", cfg); !res.Blocked {
		t.Fatal("second check should enter block")
	}

	// Hammering a blocked key must not move the block end
	mt.Advance(4 * time.Second)
	for i := 0; i < 10; i++ {
		res, err := l.Check(ctx, "key", cfg)
		testutil.AssertNoError(t, err)
		if !res.Blocked {
			t.Fatal("check during block should be blocked")
		}
		if res.RetryAfterSeconds != 6 {
			t.Errorf("RetryAfterSeconds = %d, want 6", res.RetryAfterSeconds)
		}
	}

	// Past the original block end the key recovers with a fresh window
	mt.Advance(7 * time.Second)
	res, err := l.Check(ctx, "key", cfg)
	testutil.AssertNoError(t, err)
	if !res.Allowed {
		t.Error("check after block expiry should be allowed")
	}
	if res.RemainingAttempts != 0 {
		t.Errorf("RemainingAttempts = %d, want 0", res.RemainingAttempts)
	}
}

func TestLimiter_Check_WindowReset(t *testing.T) {
	l, mt := newTestLimiter(t)
	cfg := Config{Window: time.Minute, MaxAttempts: 3, BlockDuration: 5 * time.Minute, Message: "blocked"}
	ctx := context.Background()

	l.Check(ctx, "key", cfg)
	l.Check(ctx, "key", cfg)

	mt.Advance(61 * time.Second)

	res, err := l.Check(ctx, "key", cfg)
	testutil.AssertNoError(t, err)
	if !res.Allowed {
		t.Fatal("check after window expiry should be allowed")
	}
	if res.RemainingAttempts != 2 {
		t.Errorf("RemainingAttempts = %d, want 2 (counter should reset)", res.RemainingAttempts)
	}
}

func TestLimiter_Check_ActivityDoesNotExtendWindow(t *testing.T) {
	l, mt := newTestLimiter(t)
	cfg := Config{Window: time.Minute, MaxAttempts: 10, BlockDuration: time.Minute, Message: "blocked"}
	ctx := context.Background()

	res, _ := l.Check(ctx, "key", cfg)
	if res.ResetInSeconds != 60 {
		t.Fatalf("ResetInSeconds = %d, want 60", res.ResetInSeconds)
	}

	mt.Advance(40 * time.Second)
	res, _ = l.Check(ctx, "key", cfg)
	if res.ResetInSeconds != 20 {
		t.Errorf("ResetInSeconds = %d, want 20 (reset instant must not move)", res.ResetInSeconds)
	}
}

func TestLimiter_Check_ShortWindowScenario(t *testing.T) {
	// Window 1s, 2 attempts, 5s block: two quick checks pass, the third
	// enters the block, and the key recovers only after the block ends.
	l, mt := newTestLimiter(t)
	cfg := Config{Window: time.Second, MaxAttempts: 2, BlockDuration: 5 * time.Second, Message: "blocked"}
	ctx := context.Background()

	if res, _ := l.Check(ctx, "key", cfg); !res.Allowed {
		t.Fatal("check 1 should be allowed")
	}
	mt.Advance(100 * time.Millisecond)
	if res, _ := l.Check(ctx, "key", cfg); !res.Allowed {
		t.Fatal("check 2 should be allowed")
	}

	mt.Advance(100 * time.Millisecond)
	res, _ := l.Check(ctx, "key", cfg)
	if !res.Blocked {
		t.Fatal("check 3 should be blocked")
	}
	if res.RetryAfterSeconds != 5 {
		t.Errorf("RetryAfterSeconds = %d, want 5", res.RetryAfterSeconds)
	}

	// 2s in: still blocked even though the 1s window has long expired
	mt.Advance(1800 * time.Millisecond)
	if res, _ := l.Check(ctx, "key", cfg); !res.Blocked {
		t.Error("check at t+2s should still be blocked")
	}

	// Past the 5s block: allowed again
	mt.Set(mt.Now().Add(3300 * time.Millisecond))
	if res, _ := l.Check(ctx, "key", cfg); !res.Allowed {
		t.Error("check after block expiry should be allowed")
	}
}

func TestLimiter_Check_SeparateKeys(t *testing.T) {
	l, _ := newTestLimiter(t)
	cfg := Config{Window: time.Minute, MaxAttempts: 1, BlockDuration: time.Minute, Message: "blocked"}
	ctx := context.Background()

	l.Check(ctx, "auth:10.0.0.1", cfg)
	if res, _ := l.Check(ctx, "auth:10.0.0.1", cfg); !res.Blocked {
		t.Fatal("exhausted key should be blocked")
	}

	if res, _ := l.Check(ctx, "auth:10.0.0.2", cfg); !res.Allowed {
		t.Error("different key should have its own budget")
	}
	if res, _ := l.Check(ctx, "api:10.0.0.1", cfg); !res.Allowed {
		t.Error("different profile prefix should have its own budget")
	}
}

func TestLimiter_Check_InvalidConfig(t *testing.T) {
	l, _ := newTestLimiter(t)

	_, err := l.Check(context.Background(), "key", Config{})
	if err == nil {
		t.Error("Check() with zero config should fail")
	}
}

func TestLimiter_Sweep(t *testing.T) {
	l, mt := newTestLimiter(t)
	cfg := Config{Window: time.Second, MaxAttempts: 5, BlockDuration: time.Second, Message: "blocked"}
	ctx := context.Background()

	l.Check(ctx, "a", cfg)
	l.Check(ctx, "b", cfg)

	stats := l.GetStats(ctx)
	if stats.CurrentKeys != 2 {
		t.Fatalf("CurrentKeys = %d, want 2", stats.CurrentKeys)
	}

	mt.Advance(5 * time.Second)
	l.Sweep(ctx)

	stats = l.GetStats(ctx)
	if stats.CurrentKeys != 0 {
		t.Errorf("CurrentKeys after sweep = %d, want 0", stats.CurrentKeys)
	}
	if stats.TotalSweeps != 1 {
		t.Errorf("TotalSweeps = %d, want 1", stats.TotalSweeps)
	}
}

func TestLimiter_Sweep_KeepsActiveBlocks(t *testing.T) {
	l, mt := newTestLimiter(t)
	cfg := Config{Window: time.Second, MaxAttempts: 1, BlockDuration: time.Hour, Message: "blocked"}
	ctx := context.Background()

	l.Check(ctx, "key", cfg)
	l.Check(ctx, "key", cfg) // enters a 1h block

	// Window expired, block has not: entry must survive the sweep
	mt.Advance(10 * time.Second)
	l.Sweep(ctx)

	if stats := l.GetStats(ctx); stats.CurrentKeys != 1 {
		t.Errorf("CurrentKeys = %d, want 1 (blocked entry must not be swept)", stats.CurrentKeys)
	}
	if res, _ := l.Check(ctx, "key", cfg); !res.Blocked {
		t.Error("key should still be blocked after sweep")
	}
}

func TestLimiter_GetStats(t *testing.T) {
	l, _ := newTestLimiter(t)
	cfg := Config{Window: time.Minute, MaxAttempts: 2, BlockDuration: time.Minute, Message: "blocked"}
	ctx := context.Background()

	l.Check(ctx, "key", cfg)
	l.Check(ctx, "key", cfg)
	l.Check(ctx, "key", cfg)
	l.Check(ctx, "key", cfg)

	stats := l.GetStats(ctx)
	if stats.TotalAllowed != 2 {
		t.Errorf("TotalAllowed = %d, want 2", stats.TotalAllowed)
	}
	if stats.TotalBlocked != 2 {
		t.Errorf("TotalBlocked = %d, want 2", stats.TotalBlocked)
	}
}

func TestLimiter_Stop_Idempotent(t *testing.T) {
	l := New(memory.New(), nil)
	l.Stop()
	l.Stop()
}

func TestCeilSeconds(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want int
	}{
		{0, 0},
		{time.Second, 1},
		{1001 * time.Millisecond, 2},
		{59*time.Second + time.Millisecond, 60},
	}

	for _, tt := range tests {
		if got := ceilSeconds(tt.d); got != tt.want {
			t.Errorf("ceilSeconds(%v) = %d, want %d", tt.d, got, tt.want)
		}
	}
}
