// Package session exposes session liveness state to clients and drives
// proactive token renewal.
package session

import (
	"errors"
	"time"

	"amexing.org/internal/auth"
)

// DefaultWarnThreshold is the time-to-expiry below which a session counts as
// near expiration.
const DefaultWarnThreshold = 5 * time.Minute

// Snapshot is the server-computed health of one session. ExpiresAt is a
// pointer so a dead session serializes an explicit null rather than dropping
// the field.
type Snapshot struct {
	SessionExists  bool       `json:"sessionExists"`
	Healthy        bool       `json:"healthy"`
	NearExpiration bool       `json:"nearExpiration"`
	ExpiresAt      *time.Time `json:"expiresAt"`
}

// TokenVerifier is the slice of the token service the checker needs.
type TokenVerifier interface {
	VerifyAccessToken(token string) (*auth.AccessClaims, error)
}

// Checker computes health snapshots from access tokens. Absent or invalid
// tokens degrade gracefully to sessionExists=false instead of failing.
type Checker struct {
	tokens        TokenVerifier
	warnThreshold time.Duration
	now           func() time.Time
}

// CheckerOption configures Checker behavior.
type CheckerOption func(*Checker)

// WithWarnThreshold overrides the near-expiration window.
func WithWarnThreshold(d time.Duration) CheckerOption {
	return func(c *Checker) {
		if d > 0 {
			c.warnThreshold = d
		}
	}
}

// WithCheckerClock overrides the time source (useful for tests).
func WithCheckerClock(fn func() time.Time) CheckerOption {
	return func(c *Checker) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewChecker constructs a Checker.
func NewChecker(tokens TokenVerifier, opts ...CheckerOption) (*Checker, error) {
	if tokens == nil {
		return nil, errors.New("session: token verifier is required")
	}
	c := &Checker{
		tokens:        tokens,
		warnThreshold: DefaultWarnThreshold,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Check returns the session health for a bearer token. Any verification
// failure reports a dead session; this endpoint never errors.
func (c *Checker) Check(token string) Snapshot {
	if token == "" {
		return Snapshot{}
	}
	claims, err := c.tokens.VerifyAccessToken(token)
	if err != nil || claims.ExpiresAt == nil {
		return Snapshot{}
	}
	expiresAt := claims.ExpiresAt.Time
	remaining := expiresAt.Sub(c.now())
	if remaining <= 0 {
		return Snapshot{}
	}
	return Snapshot{
		SessionExists:  true,
		Healthy:        true,
		NearExpiration: remaining <= c.warnThreshold,
		ExpiresAt:      &expiresAt,
	}
}
