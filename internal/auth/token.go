package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"amexing.org/internal/obs"
)

const (
	defaultAccessTTL  = 8 * time.Hour
	defaultRefreshTTL = 7 * 24 * time.Hour

	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// AccessClaims is the JWT payload for both token types. The permission
// snapshot is embedded at issue time; access tokens are verified without a
// database lookup.
type AccessClaims struct {
	Email          string   `json:"email,omitempty"`
	Role           string   `json:"role,omitempty"`
	RoleID         string   `json:"role_id,omitempty"`
	Permissions    []string `json:"permissions,omitempty"`
	OrganizationID string   `json:"org,omitempty"`
	TokenType      string   `json:"type"`
	jwt.RegisteredClaims
}

// UserID returns the subject claim.
func (c *AccessClaims) UserID() string { return c.Subject }

// TokenService issues and verifies signed token pairs and enforces lifetime
// policy. Configuration is passed in explicitly; there is no process-wide
// signing state.
type TokenService struct {
	store    Store
	resolver *Resolver
	audit    *AuditLogger
	secret   []byte
	issuer   string

	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// TokenOption configures TokenService behavior.
type TokenOption func(*TokenService)

// WithAccessTTL overrides the access token lifetime (default 8h, the
// compliance ceiling).
func WithAccessTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithRefreshTTL overrides the refresh token lifetime (default 7 days).
func WithRefreshTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) { s.issuer = strings.TrimSpace(issuer) }
}

// WithTokenAudit wires refresh and revocation events into the audit ledger.
func WithTokenAudit(audit *AuditLogger) TokenOption {
	return func(s *TokenService) { s.audit = audit }
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) TokenOption {
	return func(s *TokenService) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewTokenService constructs a TokenService signing with HS256.
func NewTokenService(store Store, resolver *Resolver, secret string, opts ...TokenOption) (*TokenService, error) {
	if store == nil || resolver == nil {
		return nil, errors.New("auth: token service requires a store and a resolver")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	s := &TokenService{
		store:      store,
		resolver:   resolver,
		secret:     []byte(secret),
		issuer:     "amexing",
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// IssueTokenPair resolves the user's effective permissions and mints an
// access/refresh pair. The refresh token's jti is persisted so it can be
// revoked; the access token leaves no server-side record.
func (s *TokenService) IssueTokenPair(ctx context.Context, user *User) (TokenPair, error) {
	if user == nil {
		return TokenPair{}, ErrInvalidInput
	}
	perms, err := s.resolver.ResolveEffectivePermissions(ctx, user)
	if err != nil {
		return TokenPair{}, err
	}
	role, err := s.store.Roles(ctx).Find(ctx, user.RoleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, ErrRoleNotFound
		}
		return TokenPair{}, err
	}

	now := s.now().UTC()
	accessExp := now.Add(s.accessTTL)
	access, err := s.sign(&AccessClaims{
		Email:          user.Email,
		Role:           role.Name,
		RoleID:         role.ID,
		Permissions:    perms.Sorted(),
		OrganizationID: user.OrganizationID,
		TokenType:      tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExp),
			ID:        uuid.NewString(),
		},
	})
	if err != nil {
		return TokenPair{}, err
	}

	refreshExp := now.Add(s.refreshTTL)
	refreshJTI := uuid.NewString()
	refresh, err := s.sign(&AccessClaims{
		TokenType: tokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(refreshExp),
			ID:        refreshJTI,
		},
	})
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.store.RefreshTokens(ctx).Create(ctx, &RefreshToken{
		JTI:       refreshJTI,
		UserID:    user.ID,
		ExpiresAt: refreshExp,
		CreatedAt: now,
	}); err != nil {
		return TokenPair{}, err
	}

	obs.TokensIssued.Inc()
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// VerifyAccessToken checks signature, issuer, type and expiry. No database
// lookup: token validity is point-in-time and fails closed.
func (s *TokenService) VerifyAccessToken(token string) (*AccessClaims, error) {
	return s.verify(token, tokenTypeAccess)
}

// Refresh rotates a refresh token: the presented token's record is revoked
// and a fresh pair is issued, so a stolen refresh token replays at most once.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.verify(refreshToken, tokenTypeRefresh)
	if err != nil {
		return TokenPair{}, err
	}

	tokens := s.store.RefreshTokens(ctx)
	record, err := tokens.Find(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, ErrTokenNotFound
		}
		return TokenPair{}, err
	}
	now := s.now()
	if record.Revoked() {
		return TokenPair{}, ErrTokenRevoked
	}
	if now.After(record.ExpiresAt) {
		return TokenPair{}, ErrExpiredToken
	}

	user, err := s.store.Users(ctx).Find(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, ErrInvalidToken
		}
		return TokenPair{}, err
	}
	if user.Lifecycle != LifecycleActive {
		return TokenPair{}, ErrUnauthorized
	}

	// The conditional update is the rotation's serialization point: of two
	// concurrent refreshes with the same token, only the one that flips the
	// row gets a new pair.
	revoked, err := tokens.MarkRevoked(ctx, record.JTI, now.UTC())
	if err != nil {
		return TokenPair{}, err
	}
	if !revoked {
		return TokenPair{}, ErrTokenRevoked
	}
	pair, err := s.IssueTokenPair(ctx, user)
	if err != nil {
		return TokenPair{}, err
	}
	s.record(ctx, user.ID, ActionTokenRefreshed, map[string]string{
		"rotated_jti": record.JTI,
	})
	return pair, nil
}

// Revoke invalidates the presented refresh token. Idempotent: revoking an
// already-revoked token succeeds.
func (s *TokenService) Revoke(ctx context.Context, refreshToken string) error {
	claims, err := s.verify(refreshToken, tokenTypeRefresh)
	if err != nil {
		return err
	}
	if err := s.RevokeRefreshToken(ctx, claims.ID); err != nil {
		return err
	}
	s.record(ctx, claims.Subject, ActionTokenRevoked, map[string]string{
		"jti": claims.ID,
	})
	return nil
}

// RevokeRefreshToken revokes by jti. Idempotent.
func (s *TokenService) RevokeRefreshToken(ctx context.Context, jti string) error {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return ErrInvalidInput
	}
	_, err := s.store.RefreshTokens(ctx).MarkRevoked(ctx, jti, s.now().UTC())
	return err
}

// RevokeAllForUser revokes every outstanding refresh token of a user, used on
// logout-everywhere and account lock.
func (s *TokenService) RevokeAllForUser(ctx context.Context, userID string) error {
	if err := s.store.RefreshTokens(ctx).MarkRevokedByUser(ctx, userID, s.now().UTC()); err != nil {
		return err
	}
	s.record(ctx, userID, ActionTokenRevoked, map[string]string{
		"scope": "all",
	})
	return nil
}

func (s *TokenService) record(ctx context.Context, userID, action string, meta map[string]string) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, &AuditEntry{
		UserID:   userID,
		Action:   action,
		Result:   "allow",
		Metadata: meta,
	})
}

func (s *TokenService) sign(claims *AccessClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *TokenService) verify(token, wantType string) (*AccessClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &AccessClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Issuer != s.issuer || claims.TokenType != wantType {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
