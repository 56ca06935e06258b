package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"amexing.org/internal/auth"
	"amexing.org/internal/ids"
)

type roleStore struct {
	db *sql.DB
}

const roleColumns = `id, name, level, scope, base_permissions,
	denied_permissions, delegatable, is_system_role, conditions, created_at, updated_at`

func (s *roleStore) Create(ctx context.Context, role *auth.Role) error {
	if role.ID == "" {
		role.ID = ids.New()
	}
	base, err := marshalJSON(role.BasePermissions)
	if err != nil {
		return err
	}
	denied, err := marshalJSON(role.DeniedPermissions)
	if err != nil {
		return err
	}
	conditions, err := marshalJSON(role.Conditions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into roles (id, name, level, scope, base_permissions,
			denied_permissions, delegatable, is_system_role, conditions, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
	`, role.ID, role.Name, role.Level, string(role.Scope), base, denied,
		role.Delegatable, role.IsSystemRole, conditions)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

func (s *roleStore) Find(ctx context.Context, id string) (*auth.Role, error) {
	row := s.db.QueryRowContext(ctx, `select `+roleColumns+` from roles where id = $1`, id)
	return scanRole(row)
}

func (s *roleStore) FindByName(ctx context.Context, name string) (*auth.Role, error) {
	row := s.db.QueryRowContext(ctx, `select `+roleColumns+` from roles where name = $1`, name)
	return scanRole(row)
}

func (s *roleStore) List(ctx context.Context) ([]*auth.Role, error) {
	rows, err := s.db.QueryContext(ctx, `select `+roleColumns+` from roles order by level asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*auth.Role
	for rows.Next() {
		role, err := scanRoleRows(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, role)
	}
	return result, rows.Err()
}

func (s *roleStore) Ensure(ctx context.Context, roles []auth.Role) error {
	for i := range roles {
		role := roles[i]
		_, err := s.FindByName(ctx, role.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, auth.ErrNotFound) {
			return err
		}
		if err := s.Create(ctx, &role); err != nil && !errors.Is(err, auth.ErrConflict) {
			return err
		}
	}
	return nil
}

type roleScanner interface {
	Scan(dest ...any) error
}

func scanRole(row *sql.Row) (*auth.Role, error) {
	role, err := scanRoleFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return role, err
}

func scanRoleRows(rows *sql.Rows) (*auth.Role, error) {
	return scanRoleFrom(rows)
}

func scanRoleFrom(sc roleScanner) (*auth.Role, error) {
	var (
		role       auth.Role
		scope      string
		base       []byte
		denied     []byte
		conditions []byte
	)
	err := sc.Scan(&role.ID, &role.Name, &role.Level, &scope, &base, &denied,
		&role.Delegatable, &role.IsSystemRole, &conditions, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return nil, err
	}
	role.Scope = auth.RoleScope(scope)
	if len(base) > 0 {
		if err := json.Unmarshal(base, &role.BasePermissions); err != nil {
			return nil, fmt.Errorf("decode base permissions: %w", err)
		}
	}
	if len(denied) > 0 {
		if err := json.Unmarshal(denied, &role.DeniedPermissions); err != nil {
			return nil, fmt.Errorf("decode denied permissions: %w", err)
		}
	}
	if len(conditions) > 0 {
		if err := json.Unmarshal(conditions, &role.Conditions); err != nil {
			return nil, fmt.Errorf("decode conditions: %w", err)
		}
	}
	return &role, nil
}
