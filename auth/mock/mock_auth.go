// Package mock provides mock implementations of the auth interfaces for
// unit testing gate and monitor behavior without a real authorization server.
package mock

import (
	"context"
	"net/http"
	"sync"

	"github.com/edushield/secgate/auth"
)

// Validator is a configurable mock auth.Validator. Set Result and Err to
// control the outcome; calls are counted for assertions.
type Validator struct {
	mu     sync.Mutex
	Result *auth.Result
	Err    error

	// ValidateFunc overrides the canned Result/Err when set.
	ValidateFunc func(ctx context.Context, r *http.Request, level auth.Level) (*auth.Result, error)

	calls      int
	lastLevel  auth.Level
	lastBearer string
}

var _ auth.Validator = (*Validator)(nil)

// Validate returns the canned result, recording the call.
func (v *Validator) Validate(ctx context.Context, r *http.Request, level auth.Level) (*auth.Result, error) {
	v.mu.Lock()
	v.calls++
	v.lastLevel = level
	v.lastBearer = r.Header.Get("Authorization")
	fn := v.ValidateFunc
	result, err := v.Result, v.Err
	v.mu.Unlock()

	if fn != nil {
		return fn(ctx, r, level)
	}
	if result == nil && err == nil {
		return &auth.Result{Valid: false}, nil
	}
	return result, err
}

// Calls returns how many times Validate was invoked.
func (v *Validator) Calls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

// LastLevel returns the security level of the most recent call.
func (v *Validator) LastLevel() auth.Level {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastLevel
}

// SessionManager is a canned mock auth.SessionManager.
type SessionManager struct {
	mu       sync.Mutex
	Sessions map[string][]auth.Session
	Stats    auth.SessionStats
	Err      error
}

var _ auth.SessionManager = (*SessionManager)(nil)

// GetUserSessions returns the canned sessions for userID.
func (s *SessionManager) GetUserSessions(_ context.Context, userID string) ([]auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Sessions[userID], nil
}

// GetSessionStats returns the canned stats.
func (s *SessionManager) GetSessionStats(_ context.Context) (*auth.SessionStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	stats := s.Stats
	return &stats, nil
}
