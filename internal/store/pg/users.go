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

type userStore struct {
	db *sql.DB
}

const userColumns = `id, email, username, password_hash, role_id,
	coalesce(organization_id, ''), coalesce(department_id, ''),
	oauth_accounts, lifecycle, login_attempts, locked_until,
	password_changed_at, created_at, updated_at`

func (s *userStore) Create(ctx context.Context, u *auth.User) error {
	accounts, err := marshalJSON(u.OAuthAccounts)
	if err != nil {
		return fmt.Errorf("marshal oauth accounts: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into users (id, email, username, password_hash, role_id,
			organization_id, department_id, oauth_accounts, lifecycle,
			login_attempts, locked_until, password_changed_at, created_at, updated_at)
		values ($1, $2, $3, $4, $5, nullif($6, ''), nullif($7, ''), $8, $9, $10, $11, $12, $13, $14)
	`, u.ID, u.Email, u.Username, u.PasswordHash, u.RoleID,
		u.OrganizationID, u.DepartmentID, accounts, string(u.Lifecycle),
		u.LoginAttempts, nullTime(u.LockedUntil), nullTime(u.PasswordChangedAt),
		u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

func (s *userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where id = $1 and lifecycle <> 'archived'
	`, id)
	return scanUser(row)
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where lower(email) = lower($1) and lifecycle <> 'archived'
	`, email)
	return scanUser(row)
}

func (s *userStore) FindByOAuthAccount(ctx context.Context, provider, providerID string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where lifecycle <> 'archived'
		  and oauth_accounts @> jsonb_build_array(jsonb_build_object('provider', $1::text, 'provider_id', $2::text))
	`, provider, providerID)
	return scanUser(row)
}

func (s *userStore) SetRole(ctx context.Context, userID, roleID string) error {
	res, err := s.db.ExecContext(ctx, `
		update users set role_id = $2, updated_at = now() where id = $1
	`, userID, roleID)
	if err != nil {
		return mapWriteError(err)
	}
	return requireRow(res)
}

func (s *userStore) SetLifecycle(ctx context.Context, userID string, lc auth.Lifecycle) error {
	if !lc.Valid() {
		return auth.ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `
		update users set lifecycle = $2, updated_at = now() where id = $1
	`, userID, string(lc))
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *userStore) RecordFailedLogin(ctx context.Context, userID string, attempts int, lockedUntil time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update users set login_attempts = $2, locked_until = $3, updated_at = now() where id = $1
	`, userID, attempts, nullTime(lockedUntil))
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *userStore) ResetLoginAttempts(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		update users set login_attempts = 0, locked_until = null, updated_at = now() where id = $1
	`, userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *userStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `
		update users set password_hash = $2, password_changed_at = now(), updated_at = now() where id = $1
	`, userID, passwordHash)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func scanUser(row *sql.Row) (*auth.User, error) {
	var (
		u           auth.User
		accounts    []byte
		lifecycle   string
		lockedUntil sql.NullTime
		pwChangedAt sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.RoleID,
		&u.OrganizationID, &u.DepartmentID, &accounts, &lifecycle,
		&u.LoginAttempts, &lockedUntil, &pwChangedAt, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(accounts) > 0 {
		if err := json.Unmarshal(accounts, &u.OAuthAccounts); err != nil {
			return nil, fmt.Errorf("decode oauth accounts: %w", err)
		}
	}
	u.Lifecycle = auth.Lifecycle(lifecycle)
	u.LockedUntil = fromNullTime(lockedUntil)
	u.PasswordChangedAt = fromNullTime(pwChangedAt)
	return &u, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}
