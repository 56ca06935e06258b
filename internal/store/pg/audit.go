package pg

import (
	"context"
	"database/sql"
	"fmt"

	"amexing.org/internal/auth"
)

// auditStore only knows how to insert. The append-only invariant is enforced
// at this surface: no update or delete statement exists for the table.
type auditStore struct {
	db *sql.DB
}

func (s *auditStore) Append(ctx context.Context, entry *auth.AuditEntry) error {
	meta := []byte("{}")
	if len(entry.Metadata) > 0 {
		var err error
		meta, err = marshalJSON(entry.Metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_entries (id, user_id, action, permission, result, occurred_at, metadata)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.UserID, entry.Action, entry.Permission, entry.Result, entry.OccurredAt, meta)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}
