package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"amexing.org/internal/auth"
)

type tokenStore struct {
	db *sql.DB
}

func (s *tokenStore) Create(ctx context.Context, tok *auth.RefreshToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into refresh_tokens (jti, user_id, expires_at, revoked_at, created_at)
		values ($1, $2, $3, $4, $5)
	`, tok.JTI, tok.UserID, tok.ExpiresAt, nullTime(tok.RevokedAt), tok.CreatedAt)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

func (s *tokenStore) Find(ctx context.Context, jti string) (*auth.RefreshToken, error) {
	var (
		tok       auth.RefreshToken
		revokedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select jti, user_id, expires_at, revoked_at, created_at
		from refresh_tokens
		where jti = $1
	`, jti).Scan(&tok.JTI, &tok.UserID, &tok.ExpiresAt, &revokedAt, &tok.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	tok.RevokedAt = fromNullTime(revokedAt)
	return &tok, nil
}

// MarkRevoked only touches unrevoked rows so the first revocation timestamp
// survives repeats. The affected-row count decides which of two concurrent
// rotations wins.
func (s *tokenStore) MarkRevoked(ctx context.Context, jti string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update refresh_tokens set revoked_at = $2 where jti = $1 and revoked_at is null
	`, jti, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *tokenStore) MarkRevokedByUser(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		update refresh_tokens set revoked_at = $2 where user_id = $1 and revoked_at is null
	`, userID, at)
	return err
}
