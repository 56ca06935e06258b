package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"amexing.org/internal/ids"
)

// MemoryStore is an in-memory Store used by tests and by the API in
// storeless development mode. All maps are guarded by one mutex; the access
// pattern is tiny.
type MemoryStore struct {
	mu          sync.Mutex
	users       map[string]*User
	roles       map[string]*Role
	delegations map[string]*Delegation
	tokens      map[string]*RefreshToken
	audit       []*AuditEntry
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]*User),
		roles:       make(map[string]*Role),
		delegations: make(map[string]*Delegation),
		tokens:      make(map[string]*RefreshToken),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Users(context.Context) UserStore                 { return (*memUsers)(m) }
func (m *MemoryStore) Roles(context.Context) RoleStore                 { return (*memRoles)(m) }
func (m *MemoryStore) Delegations(context.Context) DelegationStore     { return (*memDelegations)(m) }
func (m *MemoryStore) RefreshTokens(context.Context) RefreshTokenStore { return (*memTokens)(m) }
func (m *MemoryStore) Audit(context.Context) AuditStore                { return (*memAudit)(m) }

// AuditEntries returns a copy of the appended entries, oldest first.
func (m *MemoryStore) AuditEntries() []*AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*AuditEntry, len(m.audit))
	copy(out, m.audit)
	return out
}

type memUsers MemoryStore

func (m *memUsers) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; ok {
		return ErrConflict
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUsers) Find(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || u.Lifecycle == LifecycleArchived {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) && u.Lifecycle != LifecycleArchived {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) FindByOAuthAccount(_ context.Context, provider, providerID string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Lifecycle == LifecycleArchived {
			continue
		}
		for _, acc := range u.OAuthAccounts {
			if acc.Provider == provider && acc.ProviderID == providerID {
				cp := *u
				return &cp, nil
			}
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) SetRole(_ context.Context, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.RoleID = roleID
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memUsers) SetLifecycle(_ context.Context, userID string, lc Lifecycle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Lifecycle = lc
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memUsers) RecordFailedLogin(_ context.Context, userID string, attempts int, lockedUntil time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.LoginAttempts = attempts
	u.LockedUntil = lockedUntil
	return nil
}

func (m *memUsers) ResetLoginAttempts(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.LoginAttempts = 0
	u.LockedUntil = time.Time{}
	return nil
}

func (m *memUsers) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.PasswordChangedAt = time.Now().UTC()
	return nil
}

type memRoles MemoryStore

func (m *memRoles) Create(_ context.Context, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles {
		if r.Name == role.Name {
			return ErrConflict
		}
	}
	if role.ID == "" {
		role.ID = ids.New()
	}
	cp := *role
	m.roles[role.ID] = &cp
	return nil
}

func (m *memRoles) Find(_ context.Context, id string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRoles) FindByName(_ context.Context, name string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles {
		if r.Name == name {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memRoles) List(_ context.Context) ([]*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Role, 0, len(m.roles))
	for _, r := range m.roles {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out, nil
}

func (m *memRoles) Ensure(ctx context.Context, roles []Role) error {
	for i := range roles {
		role := roles[i]
		if _, err := m.FindByName(ctx, role.Name); err == nil {
			continue
		}
		if err := m.Create(ctx, &role); err != nil {
			return err
		}
	}
	return nil
}

type memDelegations MemoryStore

func (m *memDelegations) Create(_ context.Context, d *Delegation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.delegations[d.ID]; ok {
		return ErrConflict
	}
	cp := *d
	m.delegations[d.ID] = &cp
	return nil
}

func (m *memDelegations) Find(_ context.Context, id string) (*Delegation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.delegations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memDelegations) ActiveForGrantee(_ context.Context, userID string, now time.Time) ([]*Delegation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Delegation
	for _, d := range m.delegations {
		if d.ToUserID == userID && d.InEffect(now) {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memDelegations) MarkRevoked(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.delegations[id]
	if !ok {
		return ErrNotFound
	}
	d.IsActive = false
	return nil
}

func (m *memDelegations) DeactivateExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, d := range m.delegations {
		if d.IsActive && !now.Before(d.ExpiresAt) {
			d.IsActive = false
			n++
		}
	}
	return n, nil
}

type memTokens MemoryStore

func (m *memTokens) Create(_ context.Context, tok *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[tok.JTI]; ok {
		return ErrConflict
	}
	cp := *tok
	m.tokens[tok.JTI] = &cp
	return nil
}

func (m *memTokens) Find(_ context.Context, jti string) (*RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[jti]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTokens) MarkRevoked(_ context.Context, jti string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[jti]
	if !ok || !t.RevokedAt.IsZero() {
		return false, nil
	}
	t.RevokedAt = at
	return true, nil
}

func (m *memTokens) MarkRevokedByUser(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.UserID == userID && t.RevokedAt.IsZero() {
			t.RevokedAt = at
		}
	}
	return nil
}

type memAudit MemoryStore

func (m *memAudit) Append(_ context.Context, entry *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	m.audit = append(m.audit, &cp)
	return nil
}

// MemoryContextStore is an in-memory ContextStore for tests and storeless
// development mode.
type MemoryContextStore struct {
	mu       sync.Mutex
	contexts map[string]*PermissionContext
}

func NewMemoryContextStore() *MemoryContextStore {
	return &MemoryContextStore{contexts: make(map[string]*PermissionContext)}
}

var _ ContextStore = (*MemoryContextStore)(nil)

func (m *MemoryContextStore) Save(_ context.Context, pc *PermissionContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *pc
	m.contexts[pc.SessionID] = &cp
	return nil
}

func (m *MemoryContextStore) Find(_ context.Context, sessionID string) (*PermissionContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pc, ok := m.contexts[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *pc
	return &cp, nil
}

func (m *MemoryContextStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.contexts, sessionID)
	return nil
}
