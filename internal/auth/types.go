package auth

import "time"

// Lifecycle tracks the logical state of a record. Nothing is ever physically
// deleted; Archived rows are excluded from queries by default.
type Lifecycle string

const (
	LifecycleActive      Lifecycle = "active"
	LifecycleDeactivated Lifecycle = "deactivated"
	LifecycleArchived    Lifecycle = "archived"
)

// Valid reports whether the value is one of the known lifecycle states.
func (l Lifecycle) Valid() bool {
	switch l {
	case LifecycleActive, LifecycleDeactivated, LifecycleArchived:
		return true
	}
	return false
}

// OAuthAccount links a user to an external identity provider.
type OAuthAccount struct {
	Provider   string `json:"provider"`
	ProviderID string `json:"provider_id"`
	Email      string `json:"email"`
}

// User represents an operator, client or service account. A user always holds
// exactly one role.
type User struct {
	ID                string
	Email             string
	Username          string
	PasswordHash      string
	RoleID            string
	OrganizationID    string
	DepartmentID      string
	OAuthAccounts     []OAuthAccount
	Lifecycle         Lifecycle
	LoginAttempts     int
	LockedUntil       time.Time
	PasswordChangedAt time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// RoleScope bounds where a role's permissions apply.
type RoleScope string

const (
	ScopeGlobal       RoleScope = "global"
	ScopeOrganization RoleScope = "organization"
	ScopeDepartment   RoleScope = "department"
)

// Role groups permissions under an integer privilege level. Lower level means
// more privileged; level comparisons gate role modification.
type Role struct {
	ID                string
	Name              string
	Level             int
	Scope             RoleScope
	BasePermissions   []string
	DeniedPermissions []string
	Delegatable       bool
	IsSystemRole      bool
	Conditions        []Condition
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Delegation is a time-bounded grant of a subset of one user's permissions to
// another. Rows are kept forever for audit; revocation flips IsActive.
type Delegation struct {
	ID          string    `json:"id"`
	FromUserID  string    `json:"from_user_id"`
	ToUserID    string    `json:"to_user_id"`
	Permissions []string  `json:"permissions"`
	ExpiresAt   time.Time `json:"expires_at"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// InEffect reports whether the delegation contributes permissions at the
// given instant. Expiry is evaluated lazily; no sweep is required for
// correctness.
func (d Delegation) InEffect(now time.Time) bool {
	return d.IsActive && now.Before(d.ExpiresAt)
}

// Audit actions recorded by the permission audit logger.
const (
	ActionPermissionCheck   = "PERMISSION_CHECK"
	ActionDelegationGranted = "DELEGATION_GRANTED"
	ActionDelegationRevoked = "DELEGATION_REVOKED"
	ActionContextSwitch     = "CONTEXT_SWITCH"
	ActionTokenIssued       = "TOKEN_ISSUED"
	ActionTokenRefreshed    = "TOKEN_REFRESHED"
	ActionTokenRevoked      = "TOKEN_REVOKED"
	ActionRoleChanged       = "ROLE_CHANGED"
	ActionAccountLocked     = "ACCOUNT_LOCKED"
)

// AuditEntry is one immutable record of an authorization-relevant decision.
type AuditEntry struct {
	ID         string
	UserID     string
	Action     string
	Permission string
	Result     string // "allow" or "deny"
	OccurredAt time.Time
	Metadata   map[string]string
}

// RefreshToken is the server-side record backing a refresh JWT, keyed by jti.
// Access tokens are stateless; only refresh tokens are trackable and
// revocable.
type RefreshToken struct {
	JTI       string
	UserID    string
	ExpiresAt time.Time
	RevokedAt time.Time
	CreatedAt time.Time
}

// Revoked reports whether the token has been explicitly revoked.
func (t RefreshToken) Revoked() bool { return !t.RevokedAt.IsZero() }

// PermissionContext is the ephemeral per-session "acting as" state for users
// with access to more than one organization or department.
type PermissionContext struct {
	UserID            string    `json:"user_id"`
	SessionID         string    `json:"session_id"`
	ActiveContext     string    `json:"active_context"`
	AvailableContexts []string  `json:"available_contexts"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// TokenPair bundles a freshly minted access/refresh token set.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}
