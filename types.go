package secgate

import (
	"github.com/edushield/secgate/auth"
)

// ErrorResponse is the JSON body of every gate denial. The Error field is
// the discriminator callers branch on; internal detail never appears here.
type ErrorResponse struct {
	// Error is the error code (e.g. "TOKEN_EXPIRED")
	Error string `json:"error"`

	// ErrorDescription provides additional caller-safe information
	ErrorDescription string `json:"error_description,omitempty"`

	// ShouldRefresh tells the caller a token refresh will succeed
	ShouldRefresh bool `json:"should_refresh,omitempty"`

	// Reason explains a reauthentication demand
	Reason string `json:"reason,omitempty"`

	// RequestID correlates 500 responses with server logs
	RequestID string `json:"request_id,omitempty"`
}

// RequestContext carries the gate's per-request facts into wrapped handlers.
type RequestContext struct {
	// Principal is the authenticated identity, nil on public routes.
	Principal *auth.Principal

	// ClientIP is the extracted client address.
	ClientIP string

	// UserAgent is the request's User-Agent header.
	UserAgent string

	// RequestID is the correlation ID echoed in X-Request-ID.
	RequestID string

	// SecurityFlags carries validator-observed signals (new device, new IP).
	SecurityFlags []string
}

// RouteMetadata declares a route's security posture to the gate.
type RouteMetadata struct {
	// SecurityLevel drives validator strictness and response cache headers.
	// Empty defaults to public.
	SecurityLevel auth.Level

	// RequiresAuth gates the route behind token validation.
	RequiresAuth bool

	// AllowedRoles restricts the route to these roles when non-empty.
	// Requires RequiresAuth.
	AllowedRoles []string

	// RateLimitProfile names one of the ratelimit profiles (auth, api,
	// sensitive, registration). Empty disables per-key limiting.
	RateLimitProfile string

	// RequiresFreshToken escalates validation to the critical level so
	// stale-but-valid tokens are rejected with REAUTH_REQUIRED.
	RequiresFreshToken bool
}
