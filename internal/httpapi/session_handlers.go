package httpapi

import (
	"net/http"
	"strings"

	"amexing.org/internal/auth"
	"amexing.org/internal/session"
)

type switchContextRequest struct {
	Context string `json:"context"`
}

// handleSessionHealth reports access-token health without ever failing the
// request. No token, a bad token and an expired token all map onto a
// sessionExists/healthy shape the frontend can poll cheaply.
func (a *API) handleSessionHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.checker == nil {
		writeJSON(w, http.StatusOK, session.Snapshot{})
		return
	}

	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		writeJSON(w, http.StatusOK, session.Snapshot{})
		return
	}
	writeJSON(w, http.StatusOK, a.checker.Check(token))
}

func (a *API) handleSessionContext(w http.ResponseWriter, r *http.Request) {
	if a.contexts == nil {
		writeError(w, r, http.StatusServiceUnavailable, "session contexts unavailable")
		return
	}
	sessionID, ok := a.sessionID(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodPost:
		user, err := a.currentUser(r.Context())
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		pc, err := a.contexts.Open(r.Context(), user, sessionID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, pc)
	case http.MethodGet:
		pc, err := a.contexts.Current(r.Context(), sessionID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, pc)
	case http.MethodPut:
		var req switchContextRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if strings.TrimSpace(req.Context) == "" {
			writeError(w, r, http.StatusBadRequest, "context is required")
			return
		}
		pc, err := a.contexts.Switch(r.Context(), sessionID, req.Context)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, pc)
	case http.MethodDelete:
		if err := a.contexts.Close(r.Context(), sessionID); err != nil {
			handleAuthError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

// sessionID derives the session identifier from the access token's jti, so
// a context lives exactly as long as the token that opened it.
func (a *API) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	token, ok := auth.TokenFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	claims, err := a.tokens.VerifyAccessToken(token)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid token")
		return "", false
	}
	return claims.ID, true
}
