package auth

import (
	"context"
	"errors"
	"time"
)

// Resolver computes a user's effective permission set at request time.
// Resolution is a pure read over persisted state and safe to run
// concurrently.
type Resolver struct {
	store Store
	cache SnapshotCache
	now   func() time.Time
}

// ResolverOption configures Resolver behavior.
type ResolverOption func(*Resolver)

// WithSnapshotCache enables a short-lived cache of resolved permission
// snapshots.
func WithSnapshotCache(cache SnapshotCache) ResolverOption {
	return func(r *Resolver) { r.cache = cache }
}

// WithResolverClock overrides the time source (useful for tests).
func WithResolverClock(fn func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewResolver constructs a Resolver over the given store.
func NewResolver(store Store, opts ...ResolverOption) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("auth: resolver store is required")
	}
	r := &Resolver{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// ResolveEffectivePermissions merges the role's base permissions (filtered by
// scope) with active, unexpired delegations to the user, then strips explicit
// denies. Denies always win, including over delegated grants.
func (r *Resolver) ResolveEffectivePermissions(ctx context.Context, user *User) (PermissionSet, error) {
	if user == nil {
		return nil, ErrInvalidInput
	}
	if r.cache != nil {
		if perms, ok := r.cache.GetSnapshot(ctx, user.ID); ok {
			return NewPermissionSet(perms...), nil
		}
	}

	role, set, err := r.grantable(ctx, user)
	if err != nil {
		return nil, err
	}

	delegations, err := r.store.Delegations(ctx).ActiveForGrantee(ctx, user.ID, r.now())
	if err != nil {
		return nil, err
	}
	for _, d := range delegations {
		set.Add(d.Permissions...)
	}

	// Re-apply denies after merging delegations.
	set.Remove(role.DeniedPermissions...)

	if r.cache != nil {
		r.cache.PutSnapshot(ctx, user.ID, set.Sorted())
	}
	return set, nil
}

// GrantablePermissions is the role-derived set only: base permissions after
// scope filtering and denies, with no delegated grants. Delegation subset
// checks run against this set so that a delegated permission can never be
// re-delegated.
func (r *Resolver) GrantablePermissions(ctx context.Context, user *User) (PermissionSet, error) {
	if user == nil {
		return nil, ErrInvalidInput
	}
	_, set, err := r.grantable(ctx, user)
	return set, err
}

func (r *Resolver) grantable(ctx context.Context, user *User) (*Role, PermissionSet, error) {
	role, err := r.loadRole(ctx, user.RoleID)
	if err != nil {
		return nil, nil, err
	}

	set := NewPermissionSet()
	if roleScopeSatisfied(role, user) {
		set.Add(role.BasePermissions...)
	}
	set.Remove(role.DeniedPermissions...)
	return role, set, nil
}

// roleScopeSatisfied reports whether the user carries the binding the role's
// scope requires. A scope-bound role without its binding yields no
// permissions (deny by default).
func roleScopeSatisfied(role *Role, user *User) bool {
	switch role.Scope {
	case ScopeOrganization:
		return user.OrganizationID != ""
	case ScopeDepartment:
		return user.DepartmentID != ""
	default:
		return true
	}
}

// HasPermission checks effective-set membership and evaluates role
// conditions. Any failed condition denies even when the permission string is
// present.
func (r *Resolver) HasPermission(ctx context.Context, user *User, permission string) (bool, error) {
	perm, err := ParsePermission(permission)
	if err != nil {
		return false, err
	}
	role, err := r.loadRole(ctx, user.RoleID)
	if err != nil {
		return false, err
	}
	now := r.now()
	for _, cond := range role.Conditions {
		if !cond.Evaluate(user, now) {
			return false, nil
		}
	}
	set, err := r.ResolveEffectivePermissions(ctx, user)
	if err != nil {
		return false, err
	}
	return set.Has(perm), nil
}

// CanModifyRole gates role changes: the actor must strictly outrank the
// target. Equal levels cannot modify each other, which also blocks
// self-modification.
func (r *Resolver) CanModifyRole(ctx context.Context, actor, target *User) (bool, error) {
	actorRole, err := r.loadRole(ctx, actor.RoleID)
	if err != nil {
		return false, err
	}
	targetRole, err := r.loadRole(ctx, target.RoleID)
	if err != nil {
		return false, err
	}
	return actorRole.Level < targetRole.Level, nil
}

func (r *Resolver) loadRole(ctx context.Context, roleID string) (*Role, error) {
	if roleID == "" {
		return nil, ErrRoleNotFound
	}
	role, err := r.store.Roles(ctx).Find(ctx, roleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrRoleNotFound
		}
		return nil, err
	}
	return role, nil
}
