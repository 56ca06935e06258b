package auth

import (
	"context"
	"errors"
	"slices"
	"time"
)

// ContextService manages the per-session "acting as" context for users with
// access to more than one organization or department. Contexts are created at
// login, mutated on switch and destroyed at session end.
type ContextService struct {
	contexts ContextStore
	audit    *AuditLogger
	now      func() time.Time
}

// NewContextService constructs the service. The audit logger may be nil.
func NewContextService(contexts ContextStore, audit *AuditLogger) (*ContextService, error) {
	if contexts == nil {
		return nil, errors.New("auth: context store is required")
	}
	return &ContextService{contexts: contexts, audit: audit, now: time.Now}, nil
}

// Open creates the session's permission context from the user's memberships.
// The active context starts as the user's organization.
func (s *ContextService) Open(ctx context.Context, user *User, sessionID string) (*PermissionContext, error) {
	if user == nil || sessionID == "" {
		return nil, ErrInvalidInput
	}
	var available []string
	if user.OrganizationID != "" {
		available = append(available, user.OrganizationID)
	}
	if user.DepartmentID != "" && !slices.Contains(available, user.DepartmentID) {
		available = append(available, user.DepartmentID)
	}
	pc := &PermissionContext{
		UserID:            user.ID,
		SessionID:         sessionID,
		AvailableContexts: available,
		UpdatedAt:         s.now().UTC(),
	}
	if len(available) > 0 {
		pc.ActiveContext = available[0]
	}
	if err := s.contexts.Save(ctx, pc); err != nil {
		return nil, err
	}
	return pc, nil
}

// Current returns the session's permission context.
func (s *ContextService) Current(ctx context.Context, sessionID string) (*PermissionContext, error) {
	if sessionID == "" {
		return nil, ErrInvalidInput
	}
	return s.contexts.Find(ctx, sessionID)
}

// Switch changes the active context. The target must be one of the session's
// available contexts; anything else is ErrNotAuthorized and audited as a
// denied switch.
func (s *ContextService) Switch(ctx context.Context, sessionID, target string) (*PermissionContext, error) {
	if sessionID == "" || target == "" {
		return nil, ErrInvalidInput
	}
	pc, err := s.contexts.Find(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(pc.AvailableContexts, target) {
		s.record(ctx, pc.UserID, "deny", map[string]string{
			"session_id": sessionID,
			"target":     target,
		})
		return nil, ErrNotAuthorized
	}
	pc.ActiveContext = target
	pc.UpdatedAt = s.now().UTC()
	if err := s.contexts.Save(ctx, pc); err != nil {
		return nil, err
	}
	s.record(ctx, pc.UserID, "allow", map[string]string{
		"session_id": sessionID,
		"target":     target,
	})
	return pc, nil
}

// Close destroys the session's context.
func (s *ContextService) Close(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrInvalidInput
	}
	return s.contexts.Delete(ctx, sessionID)
}

func (s *ContextService) record(ctx context.Context, userID, result string, meta map[string]string) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, &AuditEntry{
		UserID:   userID,
		Action:   ActionContextSwitch,
		Result:   result,
		Metadata: meta,
	})
}
