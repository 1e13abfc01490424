// Package security provides request-scoped security primitives for the gate:
// tiered response headers, request ID generation and propagation, and client
// IP extraction behind trusted proxies.
package security

import (
	"net/http"

	"github.com/edushield/secgate/auth"
)

// Cache-Control values per security tier. Tiers are monotonically stricter:
// public content may be cached freely, critical content never touches a cache.
const (
	cacheControlLow      = "private, max-age=3600"
	cacheControlMedium   = "private, max-age=300"
	cacheControlHigh     = "no-cache, must-revalidate, max-age=0"
	cacheControlCritical = "no-store, no-cache, must-revalidate, max-age=0"

	hstsValue = "max-age=31536000; includeSubDomains"
)

// SetSecurityHeaders sets the response headers for the endpoint's security
// tier. Every tier gets the base protection headers; caching strictness and
// the critical-tier extras scale with the level.
func SetSecurityHeaders(w http.ResponseWriter, level auth.Level) {
	h := w.Header()

	// Base headers, all tiers
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-XSS-Protection", "1; mode=block")
	h.Set("Referrer-Policy", "no-referrer")

	switch level {
	case auth.LevelLow:
		h.Set("Cache-Control", cacheControlLow)
	case auth.LevelMedium:
		h.Set("Cache-Control", cacheControlMedium)
	case auth.LevelHigh:
		h.Set("Cache-Control", cacheControlHigh)
	case auth.LevelCritical:
		h.Set("Cache-Control", cacheControlCritical)
		h.Set("Pragma", "no-cache")
		h.Set("Strict-Transport-Security", hstsValue)
		h.Set("X-Permitted-Cross-Domain-Policies", "none")
	}
}
