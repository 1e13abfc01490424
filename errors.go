package secgate

import (
	"fmt"
	"net/http"
)

// Gate error codes as constants. These are the body discriminators callers
// key on; they never carry internal detail.
const (
	ErrorCodeRateLimitExceeded       = "RATE_LIMIT_EXCEEDED"
	ErrorCodeTokenExpired            = "TOKEN_EXPIRED"
	ErrorCodeReauthRequired          = "REAUTH_REQUIRED"
	ErrorCodeAuthFailed              = "AUTH_FAILED"
	ErrorCodeInsufficientPermissions = "INSUFFICIENT_PERMISSIONS"
	ErrorCodeInternalError           = "INTERNAL_ERROR"
)

// GateError represents a terminal gate denial. Denials are values returned
// from gate stages and aggregated into the HTTP response, not exceptions;
// they are never retried by the gate itself.
type GateError struct {
	Code        string // body discriminator (e.g. "AUTH_FAILED")
	Description string // human-readable description, safe for callers
	Status      int    // HTTP status code
}

// Error implements the error interface.
func (e *GateError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewGateError creates a new gate error.
func NewGateError(code, description string, status int) *GateError {
	return &GateError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Common gate errors as reusable constructors
var (
	// ErrRateLimited indicates the request was denied by the rate limiter
	ErrRateLimited = func(desc string) *GateError {
		return NewGateError(ErrorCodeRateLimitExceeded, desc, http.StatusTooManyRequests)
	}

	// ErrTokenExpired indicates an expired but refreshable token
	ErrTokenExpired = func() *GateError {
		return NewGateError(ErrorCodeTokenExpired, "Access token has expired", http.StatusUnauthorized)
	}

	// ErrReauthRequired indicates elevated risk demands a fresh login
	ErrReauthRequired = func() *GateError {
		return NewGateError(ErrorCodeReauthRequired, "Reauthentication required", http.StatusUnauthorized)
	}

	// ErrAuthFailed indicates a generic authentication failure
	ErrAuthFailed = func() *GateError {
		return NewGateError(ErrorCodeAuthFailed, "Authentication failed", http.StatusUnauthorized)
	}

	// ErrForbidden indicates the authenticated role is not allowed
	ErrForbidden = func() *GateError {
		return NewGateError(ErrorCodeInsufficientPermissions, "Insufficient permissions for this resource", http.StatusForbidden)
	}

	// ErrInternal indicates an unexpected fault in the wrapped handler
	ErrInternal = func() *GateError {
		return NewGateError(ErrorCodeInternalError, "An internal error occurred", http.StatusInternalServerError)
	}
)
