package security

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"regexp"
)

// RequestIDHeader is the HTTP header for request IDs.
const RequestIDHeader = "X-Request-ID"

// requestIDContextKey is the context key for storing request IDs.
type requestIDContextKey struct{}

// requestIDPattern validates upstream request IDs before they are echoed
// into response headers and logs. Restricting to alphanumerics, hyphens, and
// underscores (1-128 chars) blocks CRLF header injection and oversized IDs
// while accepting the formats common load balancers emit.
var requestIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// NewRequestID generates a cryptographically random request ID: 16 bytes of
// entropy encoded as 22 base64url characters. Panics if the system RNG
// fails, which is a fatal platform condition.
func NewRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand.Read failed: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// RequestIDFromRequest returns the request's ID, preserving a valid upstream
// X-Request-ID for audit-trail continuity and generating a fresh one when
// the header is missing or fails validation.
func RequestIDFromRequest(r *http.Request) string {
	if id := r.Header.Get(RequestIDHeader); id != "" && requestIDPattern.MatchString(id) {
		return id
	}
	return NewRequestID()
}

// WithRequestID returns a context carrying the request ID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

// RequestID retrieves the request ID from the context, empty if absent.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDContextKey{}).(string); ok {
		return id
	}
	return ""
}
