package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"amexing.org/internal/auth"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func TestUserFindByEmail(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	cols := []string{"id", "email", "username", "password_hash", "role_id",
		"organization_id", "department_id", "oauth_accounts", "lifecycle",
		"login_attempts", "locked_until", "password_changed_at", "created_at", "updated_at"}
	mock.ExpectQuery("select (.+) from users").
		WithArgs("ops@amexing.test").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"u-1", "ops@amexing.test", "ops", "$2a$10$hash", "r-1",
			"org-1", "", []byte(`[{"provider":"google","provider_id":"g-9"}]`), "active",
			0, nil, nil, created, created))

	u, err := store.Users(ctx).FindByEmail(ctx, "ops@amexing.test")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if u.ID != "u-1" || u.RoleID != "r-1" || u.OrganizationID != "org-1" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if u.Lifecycle != auth.LifecycleActive {
		t.Fatalf("unexpected lifecycle: %s", u.Lifecycle)
	}
	if len(u.OAuthAccounts) != 1 || u.OAuthAccounts[0].Provider != "google" {
		t.Fatalf("oauth accounts not decoded: %+v", u.OAuthAccounts)
	}
	if !u.LockedUntil.IsZero() {
		t.Fatalf("expected zero locked_until, got %v", u.LockedUntil)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserFindNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("select (.+) from users").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.Users(ctx).Find(ctx, "missing")
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserSetRoleMissingUser(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("update users set role_id").
		WithArgs("ghost", "r-2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Users(ctx).SetRole(ctx, "ghost", "r-2")
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for zero rows, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserCreateDuplicateEmail(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("insert into users").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	now := time.Now().UTC()
	err := store.Users(ctx).Create(ctx, &auth.User{
		ID: "u-dup", Email: "dup@amexing.test", Username: "dup",
		RoleID: "r-1", Lifecycle: auth.LifecycleActive,
		CreatedAt: now, UpdatedAt: now,
	})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDelegationActiveForGrantee(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	cols := []string{"id", "from_user_id", "to_user_id", "permissions", "expires_at", "is_active", "created_at"}
	mock.ExpectQuery("select (.+) from delegations").
		WithArgs("u-2", now).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("d-1", "u-1", "u-2", []byte(`["booking:approve"]`), now.Add(time.Hour), true, now.Add(-time.Hour)).
			AddRow("d-2", "u-3", "u-2", []byte(`["fleet:read","fleet:assign"]`), now.Add(2*time.Hour), true, now.Add(-time.Minute)))

	grants, err := store.Delegations(ctx).ActiveForGrantee(ctx, "u-2", now)
	if err != nil {
		t.Fatalf("ActiveForGrantee: %v", err)
	}
	if len(grants) != 2 {
		t.Fatalf("expected 2 delegations, got %d", len(grants))
	}
	if grants[0].Permissions[0] != "booking:approve" {
		t.Fatalf("permissions not decoded: %+v", grants[0].Permissions)
	}
	if len(grants[1].Permissions) != 2 {
		t.Fatalf("permissions not decoded: %+v", grants[1].Permissions)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDelegationMarkRevokedIsIdempotent(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	// Zero affected rows means the grant was already inactive; not an error.
	mock.ExpectExec("update delegations set is_active = false").
		WithArgs("d-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.Delegations(ctx).MarkRevoked(ctx, "d-1"); err != nil {
		t.Fatalf("MarkRevoked: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDelegationDeactivateExpired(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	mock.ExpectExec("update delegations set is_active = false").
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.Delegations(ctx).DeactivateExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeactivateExpired: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 rows, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("insert into refresh_tokens").
		WithArgs("jti-1", "u-1", now.Add(7*24*time.Hour), sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("select (.+) from refresh_tokens").
		WithArgs("jti-1").
		WillReturnRows(sqlmock.NewRows([]string{"jti", "user_id", "expires_at", "revoked_at", "created_at"}).
			AddRow("jti-1", "u-1", now.Add(7*24*time.Hour), nil, now))
	mock.ExpectExec("update refresh_tokens set revoked_at").
		WithArgs("jti-1", now.Add(time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update refresh_tokens set revoked_at").
		WithArgs("jti-1", now.Add(2*time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	tokens := store.RefreshTokens(ctx)
	err := tokens.Create(ctx, &auth.RefreshToken{
		JTI: "jti-1", UserID: "u-1",
		ExpiresAt: now.Add(7 * 24 * time.Hour), CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	tok, err := tokens.Find(ctx, "jti-1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !tok.RevokedAt.IsZero() {
		t.Fatalf("expected unrevoked token, got %v", tok.RevokedAt)
	}

	revoked, err := tokens.MarkRevoked(ctx, "jti-1", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("MarkRevoked: %v", err)
	}
	if !revoked {
		t.Fatal("first revocation should flip the row")
	}

	// The second revocation touches nothing and reports so.
	revoked, err = tokens.MarkRevoked(ctx, "jti-1", now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("repeat MarkRevoked: %v", err)
	}
	if revoked {
		t.Fatal("already-revoked row must not flip again")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRoleFindByNameDecodesJSON(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	cols := []string{"id", "name", "level", "scope", "base_permissions",
		"denied_permissions", "delegatable", "is_system_role", "conditions", "created_at", "updated_at"}
	mock.ExpectQuery("select (.+) from roles where name").
		WithArgs("department_manager").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"r-dm", "department_manager", 20, "department",
			[]byte(`["booking:read","booking:approve"]`), []byte(`[]`),
			true, true, []byte(`[{"kind":"business_hours","start_hour":8,"end_hour":18}]`), now, now))

	role, err := store.Roles(ctx).FindByName(ctx, "department_manager")
	if err != nil {
		t.Fatalf("FindByName: %v", err)
	}
	if role.Level != 20 || role.Scope != auth.ScopeDepartment {
		t.Fatalf("unexpected role: %+v", role)
	}
	if len(role.BasePermissions) != 2 || !role.Delegatable {
		t.Fatalf("permissions not decoded: %+v", role)
	}
	if len(role.Conditions) != 1 || role.Conditions[0].Kind != auth.ConditionBusinessHours {
		t.Fatalf("conditions not decoded: %+v", role.Conditions)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAuditAppend(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	mock.ExpectExec("insert into audit_entries").
		WithArgs("a-1", "u-1", auth.ActionPermissionCheck, "booking:approve", "allow", now, []byte(`{"path":"/v1/permissions/check"}`)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.Audit(ctx).Append(ctx, &auth.AuditEntry{
		ID: "a-1", UserID: "u-1", Action: auth.ActionPermissionCheck,
		Permission: "booking:approve", Result: "allow", OccurredAt: now,
		Metadata: map[string]string{"path": "/v1/permissions/check"},
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
