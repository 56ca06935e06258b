package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"amexing.org/internal/auth"
)

type delegationStore struct {
	db *sql.DB
}

func (s *delegationStore) Create(ctx context.Context, d *auth.Delegation) error {
	perms, err := marshalJSON(d.Permissions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into delegations (id, from_user_id, to_user_id, permissions, expires_at, is_active, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, d.ID, d.FromUserID, d.ToUserID, perms, d.ExpiresAt, d.IsActive, d.CreatedAt)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

func (s *delegationStore) Find(ctx context.Context, id string) (*auth.Delegation, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, from_user_id, to_user_id, permissions, expires_at, is_active, created_at
		from delegations
		where id = $1
	`, id)
	d, err := scanDelegation(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return d, err
}

func (s *delegationStore) ActiveForGrantee(ctx context.Context, userID string, now time.Time) ([]*auth.Delegation, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, from_user_id, to_user_id, permissions, expires_at, is_active, created_at
		from delegations
		where to_user_id = $1 and is_active and expires_at > $2
	`, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*auth.Delegation
	for rows.Next() {
		d, err := scanDelegation(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

// MarkRevoked is a conditional update: revoking an already-inactive
// delegation affects zero rows and is not an error.
func (s *delegationStore) MarkRevoked(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		update delegations set is_active = false where id = $1 and is_active
	`, id)
	return err
}

func (s *delegationStore) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		update delegations set is_active = false where is_active and expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanDelegation(scan func(...any) error) (*auth.Delegation, error) {
	var (
		d     auth.Delegation
		perms []byte
	)
	if err := scan(&d.ID, &d.FromUserID, &d.ToUserID, &perms, &d.ExpiresAt, &d.IsActive, &d.CreatedAt); err != nil {
		return nil, err
	}
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &d.Permissions); err != nil {
			return nil, fmt.Errorf("decode delegation permissions: %w", err)
		}
	}
	return &d, nil
}
