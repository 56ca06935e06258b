package session

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"amexing.org/internal/auth"
)

type fakeVerifier struct {
	claims *auth.AccessClaims
	err    error
}

func (f fakeVerifier) VerifyAccessToken(string) (*auth.AccessClaims, error) {
	return f.claims, f.err
}

func claimsExpiringAt(t time.Time) *auth.AccessClaims {
	return &auth.AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(t),
		},
	}
}

func TestCheckerHealthySession(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	expiry := now.Add(time.Hour)
	c, err := NewChecker(
		fakeVerifier{claims: claimsExpiringAt(expiry)},
		WithWarnThreshold(5*time.Minute),
		WithCheckerClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatal(err)
	}

	snap := c.Check("token")
	if !snap.SessionExists || !snap.Healthy || snap.NearExpiration {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.ExpiresAt == nil || !snap.ExpiresAt.Equal(expiry) {
		t.Fatalf("unexpected expiry: %v", snap.ExpiresAt)
	}
}

func TestCheckerNearExpiration(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	c, _ := NewChecker(
		fakeVerifier{claims: claimsExpiringAt(now.Add(3 * time.Minute))},
		WithWarnThreshold(5*time.Minute),
		WithCheckerClock(func() time.Time { return now }),
	)

	snap := c.Check("token")
	if !snap.SessionExists || !snap.Healthy {
		t.Fatalf("session should still be healthy: %+v", snap)
	}
	if !snap.NearExpiration {
		t.Fatalf("expected near-expiration warning: %+v", snap)
	}
}

func TestCheckerDegradesOnVerifierError(t *testing.T) {
	c, _ := NewChecker(fakeVerifier{err: errors.New("boom")})

	snap := c.Check("token")
	if snap.SessionExists || snap.Healthy || snap.NearExpiration {
		t.Fatalf("verification failure must yield an empty snapshot: %+v", snap)
	}
	if snap.ExpiresAt != nil {
		t.Fatalf("no expiry should be reported: %v", snap.ExpiresAt)
	}
}

func TestCheckerExpiredToken(t *testing.T) {
	c, _ := NewChecker(fakeVerifier{err: auth.ErrExpiredToken})

	snap := c.Check("token")
	if snap.SessionExists {
		t.Fatalf("expired token is no session: %+v", snap)
	}
}

func TestCheckerEmptyToken(t *testing.T) {
	c, _ := NewChecker(fakeVerifier{err: auth.ErrInvalidToken})
	snap := c.Check("")
	if snap.SessionExists {
		t.Fatalf("empty token is no session: %+v", snap)
	}
}
