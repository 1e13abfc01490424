package secgate

import (
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/edushield/secgate/auth"
	"github.com/edushield/secgate/instrumentation"
	"github.com/edushield/secgate/monitor"
	"github.com/edushield/secgate/ratelimit"
)

// Config holds the gate configuration.
// Structured using composition for better organization and maintainability.
type Config struct {
	// Limiter evaluates per-key fixed-window rate limits (required).
	Limiter *ratelimit.Limiter

	// Monitor records security events and maintains risk state (required).
	Monitor *monitor.Monitor

	// Validator verifies bearer credentials. Required only when a wrapped
	// route sets RequiresAuth.
	Validator auth.Validator

	// Proxy controls client IP extraction behind reverse proxies.
	Proxy ProxyConfig

	// Global is an optional process-wide throughput limiter applied before
	// per-key limiting. Zero disables it.
	Global GlobalRateConfig

	// Telemetry configures the read-only dashboard surface.
	Telemetry TelemetryConfig

	// Logger for structured logging (optional, uses default if not provided).
	Logger *slog.Logger

	// Instrumentation records gate metrics and traces (optional).
	Instrumentation *instrumentation.Instrumentation
}

// ProxyConfig holds client IP trust settings.
type ProxyConfig struct {
	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is how many proxies to trust from the right of the
	// X-Forwarded-For chain. Zero is treated as one.
	TrustedProxyCount int
}

// GlobalRateConfig holds the optional process-wide token-bucket limiter.
// This is a coarse overload guard in front of the per-key fixed-window
// limiter, never a replacement for it.
type GlobalRateConfig struct {
	// Rate is requests per second allowed across all callers. Zero disables.
	Rate int

	// Burst is the maximum burst size.
	Burst int
}

// TelemetryConfig guards the read-only telemetry endpoints.
type TelemetryConfig struct {
	// AdminTokenHash is the bcrypt hash of the bearer token required by the
	// telemetry endpoints. Empty disables them. Generate with
	// HashAdminToken.
	AdminTokenHash []byte
}

// Validate rejects configs missing required collaborators.
func (c Config) Validate() error {
	if c.Limiter == nil {
		return fmt.Errorf("secgate: rate limiter is required")
	}
	if c.Monitor == nil {
		return fmt.Errorf("secgate: security monitor is required")
	}
	if c.Global.Rate > 0 && c.Global.Burst <= 0 {
		return fmt.Errorf("secgate: global burst must be positive when global rate is set")
	}
	return nil
}

// HashAdminToken produces a bcrypt hash of the telemetry admin token for
// TelemetryConfig.AdminTokenHash. The plaintext token is never stored.
func HashAdminToken(token string) ([]byte, error) {
	if token == "" {
		return nil, fmt.Errorf("secgate: admin token must not be empty")
	}
	return bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
}
