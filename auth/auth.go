// Package auth defines the authentication seams consumed by the gate: the
// token Validator and the read-only SessionManager. Implementations live
// with the host application; an RFC 7662 introspection validator and a mock
// are provided for common cases and tests.
package auth

import (
	"context"
	"net/http"
	"time"
)

// Level is the security tier of an endpoint. It drives validator strictness
// and the response caching headers set by the gate.
type Level string

const (
	LevelPublic   Level = "public"
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Valid reports whether l is one of the five known levels.
func (l Level) Valid() bool {
	switch l {
	case LevelPublic, LevelLow, LevelMedium, LevelHigh, LevelCritical:
		return true
	}
	return false
}

// Principal is the authenticated identity attached to a request.
type Principal struct {
	ID        string
	Role      string
	SessionID string
	Email     string
}

// Result is the outcome of one token validation.
//
// Exactly one of three failure sub-kinds applies when Valid is false:
//   - ShouldRefresh: the token is expired but refreshable
//   - RequireReauth: elevated risk demands a fresh login (ReauthReason set)
//   - neither: a generic authentication failure
type Result struct {
	Valid         bool
	Principal     *Principal
	ShouldRefresh bool
	RequireReauth bool
	ReauthReason  string

	// SecurityFlags carries validator-observed signals (new device, new IP)
	// for the gate to forward to the wrapped handler.
	SecurityFlags []string
}

// Validator verifies the bearer credentials on a request at the given
// security level. A non-nil error means validation could not run (validator
// outage); a Result with Valid=false means it ran and the request failed.
type Validator interface {
	Validate(ctx context.Context, r *http.Request, level Level) (*Result, error)
}

// Session is one entry in a user's session inventory.
type Session struct {
	ID         string
	UserID     string
	IPAddress  string
	UserAgent  string
	CreatedAt  time.Time
	LastSeenAt time.Time
}

// SessionStats summarizes the session inventory for risk analysis.
type SessionStats struct {
	TotalSessions    int
	HighRiskSessions int
}

// SessionManager exposes the session inventory, consumed read-only by the
// monitor's behavior analysis.
type SessionManager interface {
	GetUserSessions(ctx context.Context, userID string) ([]Session, error)
	GetSessionStats(ctx context.Context) (*SessionStats, error)
}
