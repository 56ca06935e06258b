package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the access core. The
// document store behind it is an external collaborator; only the fields the
// core reads and writes are modeled here.
type Store interface {
	Users(ctx context.Context) UserStore
	Roles(ctx context.Context) RoleStore
	Delegations(ctx context.Context) DelegationStore
	RefreshTokens(ctx context.Context) RefreshTokenStore
	Audit(ctx context.Context) AuditStore
}

// UserStore manages user records. Finders exclude Archived rows.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByOAuthAccount(ctx context.Context, provider, providerID string) (*User, error)
	SetRole(ctx context.Context, userID, roleID string) error
	SetLifecycle(ctx context.Context, userID string, lc Lifecycle) error
	RecordFailedLogin(ctx context.Context, userID string, attempts int, lockedUntil time.Time) error
	ResetLoginAttempts(ctx context.Context, userID string) error
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
}

// RoleStore manages the role catalog.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	FindByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context) ([]*Role, error)
	// Ensure inserts missing system roles without touching existing ones.
	Ensure(ctx context.Context, roles []Role) error
}

// DelegationStore manages the delegation ledger. Rows are never deleted.
type DelegationStore interface {
	Create(ctx context.Context, d *Delegation) error
	Find(ctx context.Context, id string) (*Delegation, error)
	// ActiveForGrantee returns delegations to the user that are active and
	// unexpired at the given instant.
	ActiveForGrantee(ctx context.Context, userID string, now time.Time) ([]*Delegation, error)
	// MarkRevoked flips is_active via a conditional update; revoking an
	// already-inactive delegation is a no-op.
	MarkRevoked(ctx context.Context, id string) error
	// DeactivateExpired marks expired rows inactive for query efficiency.
	// Correctness never depends on it.
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

// RefreshTokenStore manages refresh token records keyed by jti.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	Find(ctx context.Context, jti string) (*RefreshToken, error)
	// MarkRevoked is a conditional update touching only the unrevoked row.
	// It reports whether this call flipped it, so concurrent rotations of
	// the same token resolve to exactly one winner.
	MarkRevoked(ctx context.Context, jti string, at time.Time) (bool, error)
	MarkRevokedByUser(ctx context.Context, userID string, at time.Time) error
}

// AuditStore appends immutable entries. No update or delete is exposed.
type AuditStore interface {
	Append(ctx context.Context, entry *AuditEntry) error
}

// SnapshotCache is an optional cache of resolved permission snapshots. A nil
// cache is valid and means every resolution hits the store.
type SnapshotCache interface {
	GetSnapshot(ctx context.Context, userID string) ([]string, bool)
	PutSnapshot(ctx context.Context, userID string, perms []string)
	Invalidate(ctx context.Context, userID string)
}

// ContextStore keeps ephemeral permission contexts for live sessions.
type ContextStore interface {
	Save(ctx context.Context, pc *PermissionContext) error
	Find(ctx context.Context, sessionID string) (*PermissionContext, error)
	Delete(ctx context.Context, sessionID string) error
}
