package auth

import (
	"fmt"
	"sort"
	"strings"
)

// Permission strings have the shape "resource:action". Both halves are drawn
// from a closed vocabulary; anything else is rejected at the boundary instead
// of being trusted from stored data.
var permissionVocabulary = map[string][]string{
	"booking":    {"read", "write", "approve", "cancel"},
	"fleet":      {"read", "write", "assign"},
	"client":     {"read", "write"},
	"user":       {"read", "write", "lock"},
	"role":       {"read", "write", "assign"},
	"delegation": {"read", "write", "revoke"},
	"report":     {"read", "export"},
	"audit":      {"read"},
}

// ParsePermission validates a permission string against the vocabulary and
// returns its normalized form.
func ParsePermission(raw string) (string, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	resource, action, ok := strings.Cut(raw, ":")
	if !ok || resource == "" || action == "" {
		return "", fmt.Errorf("%w: malformed permission %q", ErrInvalidInput, raw)
	}
	actions, ok := permissionVocabulary[resource]
	if !ok {
		return "", fmt.Errorf("%w: unknown resource %q", ErrInvalidInput, resource)
	}
	for _, a := range actions {
		if a == action {
			return resource + ":" + action, nil
		}
	}
	return "", fmt.Errorf("%w: unknown action %q for resource %q", ErrInvalidInput, action, resource)
}

// ParsePermissions validates and deduplicates a slice of permission strings.
func ParsePermissions(raw []string) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		p, err := ParsePermission(r)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// PermissionSet is the resolved effective permission set of a user.
type PermissionSet map[string]struct{}

func NewPermissionSet(perms ...string) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

func (s PermissionSet) Has(perm string) bool {
	_, ok := s[perm]
	return ok
}

func (s PermissionSet) Add(perms ...string) {
	for _, p := range perms {
		s[p] = struct{}{}
	}
}

func (s PermissionSet) Remove(perms ...string) {
	for _, p := range perms {
		delete(s, p)
	}
}

// ContainsAll reports whether every permission in perms is in the set.
func (s PermissionSet) ContainsAll(perms []string) bool {
	for _, p := range perms {
		if !s.Has(p) {
			return false
		}
	}
	return true
}

// Sorted returns the set as a sorted slice, the form embedded in token claims.
func (s PermissionSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// System role names. Roles are seeded and a role name is globally unique.
const (
	RoleSuperadmin        = "superadmin"
	RoleAdmin             = "admin"
	RoleClient            = "client"
	RoleDepartmentManager = "department_manager"
	RoleEmployee          = "employee"
	RoleDriver            = "driver"
	RoleGuest             = "guest"
)

// BuiltinRoles is the seeded role catalog. Lower level outranks higher.
var BuiltinRoles = []Role{
	{
		Name:  RoleSuperadmin,
		Level: 0,
		Scope: ScopeGlobal,
		BasePermissions: []string{
			"audit:read", "booking:approve", "booking:cancel", "booking:read", "booking:write",
			"client:read", "client:write", "delegation:read", "delegation:revoke", "delegation:write",
			"fleet:assign", "fleet:read", "fleet:write", "report:export", "report:read",
			"role:assign", "role:read", "role:write", "user:lock", "user:read", "user:write",
		},
		Delegatable:  true,
		IsSystemRole: true,
	},
	{
		Name:  RoleAdmin,
		Level: 10,
		Scope: ScopeOrganization,
		BasePermissions: []string{
			"booking:approve", "booking:cancel", "booking:read", "booking:write",
			"client:read", "client:write", "delegation:read", "delegation:write",
			"fleet:assign", "fleet:read", "fleet:write", "report:export", "report:read",
			"role:assign", "role:read", "user:lock", "user:read", "user:write",
		},
		Delegatable:  true,
		IsSystemRole: true,
	},
	{
		Name:  RoleClient,
		Level: 20,
		Scope: ScopeOrganization,
		BasePermissions: []string{
			"booking:read", "booking:write", "fleet:read", "report:read",
		},
		IsSystemRole: true,
	},
	{
		Name:  RoleDepartmentManager,
		Level: 30,
		Scope: ScopeDepartment,
		BasePermissions: []string{
			"booking:approve", "booking:read", "booking:write",
			"delegation:read", "delegation:write", "fleet:read", "report:read", "user:read",
		},
		Delegatable:  true,
		IsSystemRole: true,
	},
	{
		Name:  RoleEmployee,
		Level: 50,
		Scope: ScopeDepartment,
		BasePermissions: []string{
			"booking:read", "fleet:read",
		},
		IsSystemRole: true,
	},
	{
		Name:  RoleDriver,
		Level: 60,
		Scope: ScopeDepartment,
		BasePermissions: []string{
			"booking:read",
		},
		IsSystemRole: true,
	},
	{
		Name:            RoleGuest,
		Level:           90,
		Scope:           ScopeGlobal,
		BasePermissions: []string{"booking:read"},
		IsSystemRole:    true,
	},
}
