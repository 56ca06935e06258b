package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

type createDelegationRequest struct {
	ToUserID    string   `json:"to_user_id"`
	Permissions []string `json:"permissions"`
	TTLSeconds  int64    `json:"ttl_seconds"`
}

func (a *API) handleDelegations(w http.ResponseWriter, r *http.Request) {
	if a.delegations == nil {
		writeError(w, r, http.StatusServiceUnavailable, "delegation service unavailable")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req createDelegationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.ToUserID = strings.TrimSpace(req.ToUserID)
	if req.ToUserID == "" {
		writeError(w, r, http.StatusBadRequest, "to_user_id is required")
		return
	}
	if len(req.Permissions) == 0 {
		writeError(w, r, http.StatusBadRequest, "permissions are required")
		return
	}
	if req.TTLSeconds <= 0 {
		writeError(w, r, http.StatusBadRequest, "ttl_seconds must be positive")
		return
	}

	grantor, err := a.currentUser(r.Context())
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	grantee, err := a.store.Users(r.Context()).Find(r.Context(), req.ToUserID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	d, err := a.delegations.Delegate(r.Context(), grantor, grantee, req.Permissions, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/delegations/%s", d.ID))
	writeJSON(w, http.StatusCreated, d)
}

func (a *API) handleDelegationResource(w http.ResponseWriter, r *http.Request) {
	if a.delegations == nil {
		writeError(w, r, http.StatusServiceUnavailable, "delegation service unavailable")
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/delegations/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}

	actor, err := a.currentUser(r.Context())
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	if err := a.delegations.Revoke(r.Context(), id, actor); err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
