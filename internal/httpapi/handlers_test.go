package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"amexing.org/internal/auth"
	"amexing.org/internal/ids"
	"amexing.org/internal/session"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	store   *auth.MemoryStore
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()
	ctx := context.Background()

	store := auth.NewMemoryStore()
	if err := auth.EnsureBuiltinRoles(ctx, store); err != nil {
		t.Fatalf("ensure roles: %v", err)
	}

	resolver, err := auth.NewResolver(store)
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	audit := auth.NewAuditLogger(store.Audit(ctx))
	t.Cleanup(audit.Close)
	tokens, err := auth.NewTokenService(store, resolver, "test-secret", auth.WithTokenAudit(audit))
	if err != nil {
		t.Fatalf("token service: %v", err)
	}
	authn, err := auth.NewAuthenticator(store, tokens, audit)
	if err != nil {
		t.Fatalf("authenticator: %v", err)
	}
	ledger, err := auth.NewDelegationLedger(store, resolver)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	contexts, err := auth.NewContextService(auth.NewMemoryContextStore(), audit)
	if err != nil {
		t.Fatalf("context service: %v", err)
	}
	checker, err := session.NewChecker(tokens)
	if err != nil {
		t.Fatalf("checker: %v", err)
	}

	api := New(ReadyProbe{}, "test", Services{
		Store:          store,
		Tokens:         tokens,
		Auth:           authn,
		Resolver:       resolver,
		Delegations:    ledger,
		Contexts:       contexts,
		Checker:        checker,
		Audit:          audit,
		RateLimitBurst: 1000,
		RateLimitRPS:   1000,
	})

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		store:   store,
		t:       t,
	}
}

func (c *apiClient) seedUser(roleName, email, password, org, dept string) *auth.User {
	c.t.Helper()
	ctx := context.Background()
	role, err := c.store.Roles(ctx).FindByName(ctx, roleName)
	if err != nil {
		c.t.Fatalf("find role %s: %v", roleName, err)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		c.t.Fatalf("hash password: %v", err)
	}
	user := &auth.User{
		ID:             ids.New(),
		Email:          email,
		Username:       email,
		PasswordHash:   hash,
		RoleID:         role.ID,
		OrganizationID: org,
		DepartmentID:   dept,
		Lifecycle:      auth.LifecycleActive,
	}
	if err := c.store.Users(ctx).Create(ctx, user); err != nil {
		c.t.Fatalf("create user: %v", err)
	}
	return user
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	target := path
	if params != nil {
		target += "?" + params.Encode()
	}
	return c.do(http.MethodGet, target, nil, headers)
}

func (c *apiClient) login(email, password string) loginResponse {
	c.t.Helper()
	resp := c.post("/v1/auth/login", loginRequest{Email: email, Password: password}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected login status: %d", resp.StatusCode)
	}
	var payload loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.t.Fatalf("decode login response: %v", err)
	}
	if payload.AccessToken == "" || payload.RefreshToken == "" {
		c.t.Fatal("login returned empty tokens")
	}
	return payload
}

func bearerHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestLoginRefreshRevokeFlow(t *testing.T) {
	api := newTestAPI(t)
	api.seedUser(auth.RoleEmployee, "worker@amexing.test", "hunter2-long-enough", "org-1", "dept-1")

	first := api.login("worker@amexing.test", "hunter2-long-enough")
	if first.User.Email != "worker@amexing.test" {
		t.Fatalf("unexpected login user: %+v", first.User)
	}

	// Rotation: the refresh succeeds once and invalidates the old token.
	resp := api.post("/v1/auth/refresh", refreshRequest{RefreshToken: first.RefreshToken}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status: %d", resp.StatusCode)
	}
	second := decode[auth.TokenPair](t, resp)
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}

	resp = api.post("/v1/auth/refresh", refreshRequest{RefreshToken: first.RefreshToken}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("replayed refresh status: %d", resp.StatusCode)
	}

	resp = api.post("/v1/auth/revoke", refreshRequest{RefreshToken: second.RefreshToken}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke status: %d", resp.StatusCode)
	}
	resp = api.post("/v1/auth/refresh", refreshRequest{RefreshToken: second.RefreshToken}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked refresh status: %d", resp.StatusCode)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	api := newTestAPI(t)
	api.seedUser(auth.RoleEmployee, "worker@amexing.test", "hunter2-long-enough", "org-1", "dept-1")

	resp := api.post("/v1/auth/login", loginRequest{Email: "worker@amexing.test", Password: "wrong"}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password status: %d", resp.StatusCode)
	}

	resp = api.post("/v1/auth/login", loginRequest{Email: "nobody@amexing.test", Password: "whatever"}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unknown user status: %d", resp.StatusCode)
	}

	resp = api.post("/v1/auth/login", loginRequest{Email: "worker@amexing.test"}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing password status: %d", resp.StatusCode)
	}
}

func TestPermissionCheckEndpoint(t *testing.T) {
	api := newTestAPI(t)
	api.seedUser(auth.RoleAdmin, "admin@amexing.test", "hunter2-long-enough", "org-1", "")
	api.seedUser(auth.RoleEmployee, "worker@amexing.test", "hunter2-long-enough", "org-1", "dept-1")

	admin := api.login("admin@amexing.test", "hunter2-long-enough")
	worker := api.login("worker@amexing.test", "hunter2-long-enough")

	resp := api.get("/v1/permissions/check", url.Values{"permission": {"booking:approve"}}, bearerHeader(admin.AccessToken))
	check := decode[permissionCheckResponse](t, resp)
	if !check.Allowed {
		t.Fatal("admin should hold booking:approve")
	}

	resp = api.get("/v1/permissions/check", url.Values{"permission": {"role:assign"}}, bearerHeader(worker.AccessToken))
	check = decode[permissionCheckResponse](t, resp)
	if check.Allowed {
		t.Fatal("employee must not hold role:assign")
	}

	resp = api.get("/v1/permissions/check", nil, bearerHeader(admin.AccessToken))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing permission param status: %d", resp.StatusCode)
	}

	resp = api.get("/v1/permissions/check", url.Values{"permission": {"booking:approve"}}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated check status: %d", resp.StatusCode)
	}
}

func TestDelegationLifecycle(t *testing.T) {
	api := newTestAPI(t)
	api.seedUser(auth.RoleAdmin, "admin@amexing.test", "hunter2-long-enough", "org-1", "")
	grantee := api.seedUser(auth.RoleEmployee, "worker@amexing.test", "hunter2-long-enough", "org-1", "dept-1")
	api.seedUser(auth.RoleEmployee, "peer@amexing.test", "hunter2-long-enough", "org-1", "dept-1")

	admin := api.login("admin@amexing.test", "hunter2-long-enough")
	worker := api.login("worker@amexing.test", "hunter2-long-enough")
	peer := api.login("peer@amexing.test", "hunter2-long-enough")

	resp := api.post("/v1/delegations", createDelegationRequest{
		ToUserID:    grantee.ID,
		Permissions: []string{"booking:approve"},
		TTLSeconds:  3600,
	}, bearerHeader(admin.AccessToken))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create delegation status: %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc == "" {
		t.Fatal("expected Location header on created delegation")
	}
	grant := decode[auth.Delegation](t, resp)
	if grant.ToUserID != grantee.ID || !grant.IsActive {
		t.Fatalf("unexpected delegation: %+v", grant)
	}

	// The grantee now passes the delegated permission check.
	resp = api.get("/v1/permissions/check", url.Values{"permission": {"booking:approve"}}, bearerHeader(worker.AccessToken))
	if check := decode[permissionCheckResponse](t, resp); !check.Allowed {
		t.Fatal("delegated permission should be effective")
	}

	// A bystander cannot revoke someone else's grant.
	resp = api.do(http.MethodDelete, "/v1/delegations/"+grant.ID, nil, bearerHeader(peer.AccessToken))
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("bystander revoke status: %d", resp.StatusCode)
	}

	resp = api.do(http.MethodDelete, "/v1/delegations/"+grant.ID, nil, bearerHeader(admin.AccessToken))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("grantor revoke status: %d", resp.StatusCode)
	}

	resp = api.get("/v1/permissions/check", url.Values{"permission": {"booking:approve"}}, bearerHeader(worker.AccessToken))
	if check := decode[permissionCheckResponse](t, resp); check.Allowed {
		t.Fatal("revoked delegation must stop contributing")
	}
}

func TestDelegationValidation(t *testing.T) {
	api := newTestAPI(t)
	adminUser := api.seedUser(auth.RoleAdmin, "admin@amexing.test", "hunter2-long-enough", "org-1", "")
	grantee := api.seedUser(auth.RoleEmployee, "worker@amexing.test", "hunter2-long-enough", "org-1", "dept-1")
	admin := api.login("admin@amexing.test", "hunter2-long-enough")

	cases := []struct {
		name string
		req  createDelegationRequest
		want int
	}{
		{"missing grantee", createDelegationRequest{Permissions: []string{"booking:read"}, TTLSeconds: 60}, http.StatusBadRequest},
		{"empty permissions", createDelegationRequest{ToUserID: grantee.ID, TTLSeconds: 60}, http.StatusBadRequest},
		{"zero ttl", createDelegationRequest{ToUserID: grantee.ID, Permissions: []string{"booking:read"}}, http.StatusBadRequest},
		{"unknown permission", createDelegationRequest{ToUserID: grantee.ID, Permissions: []string{"rocket:launch"}, TTLSeconds: 60}, http.StatusBadRequest},
		{"unknown grantee", createDelegationRequest{ToUserID: "ghost", Permissions: []string{"booking:read"}, TTLSeconds: 60}, http.StatusNotFound},
		{"beyond grantor set", createDelegationRequest{ToUserID: grantee.ID, Permissions: []string{"role:write"}, TTLSeconds: 60}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		resp := api.post("/v1/delegations", tc.req, bearerHeader(admin.AccessToken))
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, resp.StatusCode)
		}
	}

	// A grantor whose role forbids delegation is likewise a 400-class
	// rejection, not a 403.
	worker := api.login("worker@amexing.test", "hunter2-long-enough")
	resp := api.post("/v1/delegations", createDelegationRequest{
		ToUserID:    adminUser.ID,
		Permissions: []string{"booking:read"},
		TTLSeconds:  60,
	}, bearerHeader(worker.AccessToken))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("non-delegatable grantor: expected 400, got %d", resp.StatusCode)
	}
}

func TestPermissionCheckWithDanglingRoleIsServerError(t *testing.T) {
	api := newTestAPI(t)
	user := api.seedUser(auth.RoleEmployee, "worker@amexing.test", "hunter2-long-enough", "org-1", "dept-1")
	worker := api.login("worker@amexing.test", "hunter2-long-enough")

	// Sever the role reference behind the live session. The dangling role is
	// a data problem and must read as a server error, not a missing resource.
	ctx := context.Background()
	if err := api.store.Users(ctx).SetRole(ctx, user.ID, "role-that-does-not-exist"); err != nil {
		t.Fatalf("sever role: %v", err)
	}

	resp := api.get("/v1/permissions/check", url.Values{"permission": {"booking:read"}}, bearerHeader(worker.AccessToken))
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("dangling role status: %d", resp.StatusCode)
	}
}

func TestSessionHealthEndpoint(t *testing.T) {
	api := newTestAPI(t)
	api.seedUser(auth.RoleEmployee, "worker@amexing.test", "hunter2-long-enough", "org-1", "dept-1")
	worker := api.login("worker@amexing.test", "hunter2-long-enough")

	// Anonymous polls degrade to an empty snapshot, never an error.
	resp := api.get("/api/session/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("anonymous health status: %d", resp.StatusCode)
	}
	snap := decode[session.Snapshot](t, resp)
	if snap.SessionExists {
		t.Fatalf("anonymous snapshot should be empty: %+v", snap)
	}

	resp = api.get("/api/session/health", nil, bearerHeader("garbage"))
	snap = decode[session.Snapshot](t, resp)
	if snap.SessionExists {
		t.Fatalf("bad token snapshot should be empty: %+v", snap)
	}

	resp = api.get("/api/session/health", nil, bearerHeader(worker.AccessToken))
	snap = decode[session.Snapshot](t, resp)
	if !snap.SessionExists || !snap.Healthy || snap.NearExpiration {
		t.Fatalf("unexpected snapshot for fresh token: %+v", snap)
	}
	if snap.ExpiresAt == nil {
		t.Fatal("expected an expiry timestamp")
	}
}

func TestSessionContextFlow(t *testing.T) {
	api := newTestAPI(t)
	api.seedUser(auth.RoleAdmin, "admin@amexing.test", "hunter2-long-enough", "org-1", "dept-9")
	admin := api.login("admin@amexing.test", "hunter2-long-enough")
	headers := bearerHeader(admin.AccessToken)

	resp := api.post("/v1/session/context", nil, headers)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("open context status: %d", resp.StatusCode)
	}
	pc := decode[auth.PermissionContext](t, resp)
	if pc.ActiveContext != "org-1" || len(pc.AvailableContexts) != 2 {
		t.Fatalf("unexpected context: %+v", pc)
	}

	resp = api.do(http.MethodPut, "/v1/session/context", switchContextRequest{Context: "dept-9"}, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("switch status: %d", resp.StatusCode)
	}
	pc = decode[auth.PermissionContext](t, resp)
	if pc.ActiveContext != "dept-9" {
		t.Fatalf("switch did not apply: %+v", pc)
	}

	resp = api.do(http.MethodPut, "/v1/session/context", switchContextRequest{Context: "org-elsewhere"}, headers)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("unavailable context status: %d", resp.StatusCode)
	}

	resp = api.get("/v1/session/context", nil, headers)
	pc = decode[auth.PermissionContext](t, resp)
	if pc.ActiveContext != "dept-9" {
		t.Fatalf("current context lost the switch: %+v", pc)
	}

	resp = api.do(http.MethodDelete, "/v1/session/context", nil, headers)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("close status: %d", resp.StatusCode)
	}
	resp = api.get("/v1/session/context", nil, headers)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("closed context status: %d", resp.StatusCode)
	}
}

func TestChangeRoleEndpoint(t *testing.T) {
	api := newTestAPI(t)
	api.seedUser(auth.RoleAdmin, "admin@amexing.test", "hunter2-long-enough", "org-1", "")
	target := api.seedUser(auth.RoleEmployee, "worker@amexing.test", "hunter2-long-enough", "org-1", "dept-1")
	api.seedUser(auth.RoleEmployee, "peer@amexing.test", "hunter2-long-enough", "org-1", "dept-1")

	admin := api.login("admin@amexing.test", "hunter2-long-enough")
	peer := api.login("peer@amexing.test", "hunter2-long-enough")

	ctx := context.Background()
	driver, err := api.store.Roles(ctx).FindByName(ctx, auth.RoleDriver)
	if err != nil {
		t.Fatalf("find driver role: %v", err)
	}

	// An employee lacks role:assign entirely.
	resp := api.post("/v1/users/"+target.ID+"/role", changeRoleRequest{RoleID: driver.ID}, bearerHeader(peer.AccessToken))
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("peer role change status: %d", resp.StatusCode)
	}

	resp = api.post("/v1/users/"+target.ID+"/role", changeRoleRequest{RoleID: driver.ID}, bearerHeader(admin.AccessToken))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("admin role change status: %d", resp.StatusCode)
	}

	moved, err := api.store.Users(ctx).Find(ctx, target.ID)
	if err != nil {
		t.Fatalf("reload target: %v", err)
	}
	if moved.RoleID != driver.ID {
		t.Fatalf("role change did not persist: %s", moved.RoleID)
	}
}

func TestProtectedEndpointsRequireToken(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/delegations", createDelegationRequest{ToUserID: "x", Permissions: []string{"booking:read"}, TTLSeconds: 60}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous delegation status: %d", resp.StatusCode)
	}

	resp = api.get("/v1/session/context", nil, bearerHeader("not-a-jwt"))
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status: %d", resp.StatusCode)
	}
}

func TestHealthAndInfoEndpoints(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/healthz", nil, nil)
	body := decode[map[string]any](t, resp)
	if body["status"] != "ok" {
		t.Fatalf("unexpected healthz body: %v", body)
	}

	resp = api.get("/readyz", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz status: %d", resp.StatusCode)
	}

	resp = api.get("/v1/info", nil, nil)
	body = decode[map[string]any](t, resp)
	if body["version"] != "test" {
		t.Fatalf("unexpected info body: %v", body)
	}

	resp = api.get("/openapi.yaml", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("openapi status: %d", resp.StatusCode)
	}
}
