// Package httpapi is the HTTP surface of the auth service: token issuance,
// session health, delegation management and permission checks.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"amexing.org/api/spec"
	"amexing.org/internal/auth"
	"amexing.org/internal/obs"
	"amexing.org/internal/session"
)

// ReadyProbe checks downstream readiness (DB ping when configured).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Services bundles the domain services the HTTP layer exposes.
type Services struct {
	Store       auth.Store
	Tokens      *auth.TokenService
	Auth        *auth.Authenticator
	Resolver    *auth.Resolver
	Delegations *auth.DelegationLedger
	Contexts    *auth.ContextService
	Checker     *session.Checker
	Audit       *auth.AuditLogger

	// Rate limiting knobs; zero values fall back to defaults.
	RateLimitBurst int
	RateLimitRPS   float64
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	rlBurst    int
	rlRPS      float64

	store       auth.Store
	tokens      *auth.TokenService
	auth        *auth.Authenticator
	resolver    *auth.Resolver
	delegations *auth.DelegationLedger
	contexts    *auth.ContextService
	checker     *session.Checker
	audit       *auth.AuditLogger
}

func New(rp ReadyProbe, version string, svcs Services) *API {
	a := &API{
		mux:         http.NewServeMux(),
		readyProbe:  rp,
		version:     version,
		rlBurst:     svcs.RateLimitBurst,
		rlRPS:       svcs.RateLimitRPS,
		store:       svcs.Store,
		tokens:      svcs.Tokens,
		auth:        svcs.Auth,
		resolver:    svcs.Resolver,
		delegations: svcs.Delegations,
		contexts:    svcs.Contexts,
		checker:     svcs.Checker,
		audit:       svcs.Audit,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// OpenAPI YAML
	a.mux.HandleFunc("/openapi.yaml", a.OpenAPISpec)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// auth
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/revoke", a.handleRevoke)

	// session
	a.mux.HandleFunc("/api/session/health", a.handleSessionHealth)
	a.mux.HandleFunc("/v1/session/context", a.handleSessionContext)

	// delegation
	a.mux.HandleFunc("/v1/delegations", a.handleDelegations)
	a.mux.HandleFunc("/v1/delegations/", a.handleDelegationResource)

	// rbac
	a.mux.HandleFunc("/v1/permissions/check", a.handlePermissionCheck)
	a.mux.HandleFunc("/v1/users/", a.handleUserResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	burst, rps := a.rlBurst, a.rlRPS
	if burst <= 0 {
		burst = 40
	}
	if rps <= 0 {
		rps = 20
	}

	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, burst, rps)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "amexing-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "amexing-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	_, _ = w.Write(spec.OpenAPI)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
