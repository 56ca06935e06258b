package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"amexing.org/internal/ids"
)

// DelegationLedger creates, validates and revokes temporary permission
// grants. Delegations are single-hop: the subset check runs against the
// grantor's role-derived permissions only, so a delegated-in permission can
// never be passed on.
type DelegationLedger struct {
	store    Store
	resolver *Resolver
	audit    *AuditLogger
	cache    SnapshotCache
	now      func() time.Time

	// Serializes delegation creation per grantor so two concurrent requests
	// cannot both pass the subset check against a stale snapshot.
	grantMu sync.Map // userID -> *sync.Mutex

	maxTTL time.Duration
}

// LedgerOption configures DelegationLedger behavior.
type LedgerOption func(*DelegationLedger)

// WithMaxDelegationTTL caps the delegation lifetime (default 7 days).
func WithMaxDelegationTTL(ttl time.Duration) LedgerOption {
	return func(l *DelegationLedger) {
		if ttl > 0 {
			l.maxTTL = ttl
		}
	}
}

// WithLedgerClock overrides the time source (useful for tests).
func WithLedgerClock(fn func() time.Time) LedgerOption {
	return func(l *DelegationLedger) {
		if fn != nil {
			l.now = fn
		}
	}
}

// WithLedgerAudit wires the permission audit logger.
func WithLedgerAudit(audit *AuditLogger) LedgerOption {
	return func(l *DelegationLedger) { l.audit = audit }
}

// WithLedgerSnapshotCache wires the snapshot cache so grants and revocations
// invalidate the grantee's cached permission set.
func WithLedgerSnapshotCache(cache SnapshotCache) LedgerOption {
	return func(l *DelegationLedger) { l.cache = cache }
}

// NewDelegationLedger constructs the ledger.
func NewDelegationLedger(store Store, resolver *Resolver, opts ...LedgerOption) (*DelegationLedger, error) {
	if store == nil || resolver == nil {
		return nil, errors.New("auth: delegation ledger requires a store and a resolver")
	}
	l := &DelegationLedger{
		store:    store,
		resolver: resolver,
		now:      time.Now,
		maxTTL:   7 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Delegate grants a subset of fromUser's permissions to toUser until now+ttl.
// Fails with ErrNotDelegatable when the grantor's role forbids delegation and
// with ErrExceedsGrantorPermissions when the requested set is not covered by
// the grantor's own role-derived permissions at grant time.
func (l *DelegationLedger) Delegate(ctx context.Context, fromUser, toUser *User, permissions []string, ttl time.Duration) (*Delegation, error) {
	if fromUser == nil || toUser == nil {
		return nil, ErrInvalidInput
	}
	if fromUser.ID == toUser.ID {
		return nil, ErrInvalidInput
	}
	if ttl <= 0 || ttl > l.maxTTL {
		return nil, ErrInvalidInput
	}
	perms, err := ParsePermissions(permissions)
	if err != nil {
		return nil, err
	}
	if len(perms) == 0 {
		return nil, ErrInvalidInput
	}

	mu := l.lockFor(fromUser.ID)
	mu.Lock()
	defer mu.Unlock()

	role, err := l.resolver.loadRole(ctx, fromUser.RoleID)
	if err != nil {
		return nil, err
	}
	if !role.Delegatable {
		return nil, ErrNotDelegatable
	}

	grantable, err := l.resolver.GrantablePermissions(ctx, fromUser)
	if err != nil {
		return nil, err
	}
	if !grantable.ContainsAll(perms) {
		l.record(ctx, fromUser.ID, ActionDelegationGranted, "deny", map[string]string{
			"to_user_id": toUser.ID,
			"reason":     "exceeds grantor permissions",
		})
		return nil, ErrExceedsGrantorPermissions
	}

	now := l.now().UTC()
	delegation := &Delegation{
		ID:          ids.New(),
		FromUserID:  fromUser.ID,
		ToUserID:    toUser.ID,
		Permissions: perms,
		ExpiresAt:   now.Add(ttl),
		IsActive:    true,
		CreatedAt:   now,
	}
	if err := l.store.Delegations(ctx).Create(ctx, delegation); err != nil {
		return nil, err
	}
	if l.cache != nil {
		l.cache.Invalidate(ctx, toUser.ID)
	}
	l.record(ctx, fromUser.ID, ActionDelegationGranted, "allow", map[string]string{
		"delegation_id": delegation.ID,
		"to_user_id":    toUser.ID,
		"expires_at":    delegation.ExpiresAt.Format(time.RFC3339),
	})
	return delegation, nil
}

// Revoke deactivates a delegation. Only the original grantor or a strictly
// higher-ranked role may revoke.
func (l *DelegationLedger) Revoke(ctx context.Context, delegationID string, byUser *User) error {
	if byUser == nil || delegationID == "" {
		return ErrInvalidInput
	}
	delegation, err := l.store.Delegations(ctx).Find(ctx, delegationID)
	if err != nil {
		return err
	}
	if byUser.ID != delegation.FromUserID {
		grantor, err := l.store.Users(ctx).Find(ctx, delegation.FromUserID)
		if err != nil {
			return err
		}
		outranks, err := l.resolver.CanModifyRole(ctx, byUser, grantor)
		if err != nil {
			return err
		}
		if !outranks {
			return ErrNotAuthorized
		}
	}
	if err := l.store.Delegations(ctx).MarkRevoked(ctx, delegationID); err != nil {
		return err
	}
	if l.cache != nil {
		l.cache.Invalidate(ctx, delegation.ToUserID)
	}
	l.record(ctx, byUser.ID, ActionDelegationRevoked, "allow", map[string]string{
		"delegation_id": delegationID,
		"to_user_id":    delegation.ToUserID,
	})
	return nil
}

// SweepExpired marks lapsed delegations inactive. Purely a query-efficiency
// measure; resolution already ignores expired rows.
func (l *DelegationLedger) SweepExpired(ctx context.Context) (int64, error) {
	return l.store.Delegations(ctx).DeactivateExpired(ctx, l.now())
}

func (l *DelegationLedger) lockFor(userID string) *sync.Mutex {
	v, _ := l.grantMu.LoadOrStore(userID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (l *DelegationLedger) record(ctx context.Context, userID, action, result string, meta map[string]string) {
	if l.audit == nil {
		return
	}
	l.audit.Record(ctx, &AuditEntry{
		UserID:   userID,
		Action:   action,
		Result:   result,
		Metadata: meta,
	})
}
