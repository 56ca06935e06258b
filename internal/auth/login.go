package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"amexing.org/internal/ids"
)

const (
	defaultMaxLoginAttempts = 5
	defaultLockDuration     = 15 * time.Minute
)

// Authenticator handles credential and OAuth logins, account lockout and
// role changes.
type Authenticator struct {
	store  Store
	tokens *TokenService
	audit  *AuditLogger
	now    func() time.Time

	maxAttempts  int
	lockDuration time.Duration
}

// AuthenticatorOption configures Authenticator behavior.
type AuthenticatorOption func(*Authenticator)

// WithLockoutPolicy overrides the failed-attempt threshold and lock duration.
func WithLockoutPolicy(maxAttempts int, lockDuration time.Duration) AuthenticatorOption {
	return func(a *Authenticator) {
		if maxAttempts > 0 {
			a.maxAttempts = maxAttempts
		}
		if lockDuration > 0 {
			a.lockDuration = lockDuration
		}
	}
}

// WithAuthClock overrides the time source (useful for tests).
func WithAuthClock(fn func() time.Time) AuthenticatorOption {
	return func(a *Authenticator) {
		if fn != nil {
			a.now = fn
		}
	}
}

// NewAuthenticator constructs the authenticator. The audit logger may be nil.
func NewAuthenticator(store Store, tokens *TokenService, audit *AuditLogger, opts ...AuthenticatorOption) (*Authenticator, error) {
	if store == nil || tokens == nil {
		return nil, errors.New("auth: authenticator requires a store and a token service")
	}
	a := &Authenticator{
		store:        store,
		tokens:       tokens,
		audit:        audit,
		now:          time.Now,
		maxAttempts:  defaultMaxLoginAttempts,
		lockDuration: defaultLockDuration,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Login verifies credentials and issues a token pair. Failed attempts are
// counted; crossing the threshold locks the account for the configured
// duration. Lookup, lifecycle and password failures are indistinguishable to
// the caller.
func (a *Authenticator) Login(ctx context.Context, email, password string) (TokenPair, *User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return TokenPair{}, nil, ErrUnauthorized
	}
	user, err := a.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		return TokenPair{}, nil, ErrUnauthorized
	}
	if user.Lifecycle != LifecycleActive {
		return TokenPair{}, nil, ErrUnauthorized
	}
	now := a.now()
	if now.Before(user.LockedUntil) {
		return TokenPair{}, nil, ErrAccountLocked
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		a.registerFailure(ctx, user, now)
		return TokenPair{}, nil, ErrUnauthorized
	}
	if user.LoginAttempts > 0 {
		_ = a.store.Users(ctx).ResetLoginAttempts(ctx, user.ID)
	}
	pair, err := a.tokens.IssueTokenPair(ctx, user)
	if err != nil {
		return TokenPair{}, nil, err
	}
	a.record(ctx, user.ID, ActionTokenIssued, "allow", map[string]string{"method": "password"})
	return pair, user, nil
}

// OAuthLogin signs a user in via a linked provider account. On first login a
// guest user is created with the provider identity attached; the record is
// never physically deleted later, only archived.
func (a *Authenticator) OAuthLogin(ctx context.Context, account OAuthAccount) (TokenPair, *User, error) {
	if account.Provider == "" || account.ProviderID == "" {
		return TokenPair{}, nil, ErrInvalidInput
	}
	users := a.store.Users(ctx)
	user, err := users.FindByOAuthAccount(ctx, account.Provider, account.ProviderID)
	if errors.Is(err, ErrNotFound) {
		user, err = a.provisionOAuthUser(ctx, account)
	}
	if err != nil {
		return TokenPair{}, nil, err
	}
	if user.Lifecycle != LifecycleActive {
		return TokenPair{}, nil, ErrUnauthorized
	}
	pair, err := a.tokens.IssueTokenPair(ctx, user)
	if err != nil {
		return TokenPair{}, nil, err
	}
	a.record(ctx, user.ID, ActionTokenIssued, "allow", map[string]string{
		"method":   "oauth",
		"provider": account.Provider,
	})
	return pair, user, nil
}

// ChangeRole assigns a new role to target, gated by the strict level
// comparison: the actor must outrank both the target's current role and the
// role being assigned.
func (a *Authenticator) ChangeRole(ctx context.Context, resolver *Resolver, actor, target *User, roleID string) error {
	if actor == nil || target == nil || roleID == "" {
		return ErrInvalidInput
	}
	allowed, err := resolver.CanModifyRole(ctx, actor, target)
	if err != nil {
		return err
	}
	newRole, err := a.store.Roles(ctx).Find(ctx, roleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrRoleNotFound
		}
		return err
	}
	actorRole, err := a.store.Roles(ctx).Find(ctx, actor.RoleID)
	if err != nil {
		return err
	}
	if !allowed || actorRole.Level >= newRole.Level {
		a.record(ctx, actor.ID, ActionRoleChanged, "deny", map[string]string{
			"target_user_id": target.ID,
			"role_id":        roleID,
		})
		return ErrNotAuthorized
	}
	if err := a.store.Users(ctx).SetRole(ctx, target.ID, roleID); err != nil {
		return err
	}
	// Outstanding tokens carry the old permission snapshot; cut them off.
	_ = a.tokens.RevokeAllForUser(ctx, target.ID)
	a.record(ctx, actor.ID, ActionRoleChanged, "allow", map[string]string{
		"target_user_id": target.ID,
		"role_id":        roleID,
	})
	return nil
}

func (a *Authenticator) provisionOAuthUser(ctx context.Context, account OAuthAccount) (*User, error) {
	guest, err := a.store.Roles(ctx).FindByName(ctx, RoleGuest)
	if err != nil {
		return nil, ErrRoleNotFound
	}
	now := a.now().UTC()
	user := &User{
		ID:            ids.New(),
		Email:         strings.TrimSpace(strings.ToLower(account.Email)),
		Username:      account.Provider + ":" + account.ProviderID,
		RoleID:        guest.ID,
		OAuthAccounts: []OAuthAccount{account},
		Lifecycle:     LifecycleActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := a.store.Users(ctx).Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (a *Authenticator) registerFailure(ctx context.Context, user *User, now time.Time) {
	attempts := user.LoginAttempts + 1
	lockedUntil := user.LockedUntil
	if attempts >= a.maxAttempts {
		lockedUntil = now.Add(a.lockDuration)
	}
	if err := a.store.Users(ctx).RecordFailedLogin(ctx, user.ID, attempts, lockedUntil); err != nil {
		return
	}
	if attempts >= a.maxAttempts {
		a.record(ctx, user.ID, ActionAccountLocked, "deny", map[string]string{
			"locked_until": lockedUntil.UTC().Format(time.RFC3339),
		})
	}
}

func (a *Authenticator) record(ctx context.Context, userID, action, result string, meta map[string]string) {
	if a.audit == nil {
		return
	}
	a.audit.Record(ctx, &AuditEntry{
		UserID:   userID,
		Action:   action,
		Result:   result,
		Metadata: meta,
	})
}

// EnsureBuiltinRoles seeds the system role catalog, inserting only missing
// roles.
func EnsureBuiltinRoles(ctx context.Context, store Store) error {
	return store.Roles(ctx).Ensure(ctx, BuiltinRoles)
}
