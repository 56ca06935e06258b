package auth

import "context"

// Principal is an authenticated user with the permission snapshot carried by
// its access token. Handlers read it from the request context, so a request
// resolves permissions at most once.
type Principal struct {
	UserID         string
	Email          string
	Role           string
	RoleID         string
	OrganizationID string
	Permissions    PermissionSet
}

// PrincipalFromClaims builds a Principal from verified token claims.
func PrincipalFromClaims(claims *AccessClaims) Principal {
	return Principal{
		UserID:         claims.Subject,
		Email:          claims.Email,
		Role:           claims.Role,
		RoleID:         claims.RoleID,
		OrganizationID: claims.OrganizationID,
		Permissions:    NewPermissionSet(claims.Permissions...),
	}
}

// HasPermission checks the snapshot embedded at token issue time.
func (p Principal) HasPermission(key string) bool {
	return p.Permissions.Has(key)
}

type principalContextKey struct{}
type tokenContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
