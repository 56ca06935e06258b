package httpapi

import (
	"net/http"
	"strings"

	"amexing.org/internal/auth"
	"amexing.org/internal/obs"
)

type permissionCheckResponse struct {
	Permission string `json:"permission"`
	Allowed    bool   `json:"allowed"`
}

type changeRoleRequest struct {
	RoleID string `json:"role_id"`
}

func (a *API) handlePermissionCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	perm := strings.TrimSpace(r.URL.Query().Get("permission"))
	if perm == "" {
		writeError(w, r, http.StatusBadRequest, "permission query parameter is required")
		return
	}

	user, err := a.currentUser(r.Context())
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	allowed, err := a.resolver.HasPermission(r.Context(), user, perm)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	result := "deny"
	if allowed {
		result = "allow"
	}
	obs.PermissionChecks.WithLabelValues(result).Inc()
	if a.audit != nil {
		a.audit.Record(r.Context(), &auth.AuditEntry{
			UserID:     user.ID,
			Action:     auth.ActionPermissionCheck,
			Permission: perm,
			Result:     result,
		})
	}

	writeJSON(w, http.StatusOK, permissionCheckResponse{
		Permission: perm,
		Allowed:    allowed,
	})
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "role" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	userID := parts[0]
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, "role:assign") {
		return
	}

	var req changeRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.RoleID = strings.TrimSpace(req.RoleID)
	if req.RoleID == "" {
		writeError(w, r, http.StatusBadRequest, "role_id is required")
		return
	}

	actor, err := a.currentUser(r.Context())
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	target, err := a.store.Users(r.Context()).Find(r.Context(), userID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	if err := a.auth.ChangeRole(r.Context(), a.resolver, actor, target, req.RoleID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
