package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"amexing.org/internal/auth"
	"amexing.org/internal/cache"
	"amexing.org/internal/config"
	"amexing.org/internal/httpapi"
	"amexing.org/internal/obs"
	"amexing.org/internal/queue"
	"amexing.org/internal/session"
	"amexing.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	// .env is optional; the environment always wins.
	_ = godotenv.Load()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()

	// Persistence: Postgres when configured, in-memory otherwise.
	var store auth.Store
	var readyProbe httpapi.ReadyProbe
	if cfg.PostgresDSN != "" {
		pgStore, err := pg.Open(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pgStore.Close()
		store = pgStore
		readyProbe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		log.Print("no AMEXING_PG_DSN set, using in-memory store")
		store = auth.NewMemoryStore()
	}

	if err := auth.EnsureBuiltinRoles(ctx, store); err != nil {
		log.Fatalf("ensure roles: %v", err)
	}

	// Optional Redis: permission snapshots and session contexts.
	redisClient := cache.NewClient(cache.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	var snapshots auth.SnapshotCache
	var contextStore auth.ContextStore
	if redisClient != nil {
		defer redisClient.Close()
		snapshots = cache.NewSnapshotCache(redisClient, cfg.SnapshotTTL)
		contextStore = cache.NewContextStore(redisClient, cfg.AccessTokenTTL)
	} else {
		contextStore = auth.NewMemoryContextStore()
	}

	resolverOpts := []auth.ResolverOption{}
	if snapshots != nil {
		resolverOpts = append(resolverOpts, auth.WithSnapshotCache(snapshots))
	}
	resolver, err := auth.NewResolver(store, resolverOpts...)
	if err != nil {
		log.Fatalf("resolver: %v", err)
	}

	// Optional broker: audit fan-out.
	auditOpts := []auth.AuditOption{}
	if cfg.AMQPURL != "" {
		publisher, err := queue.NewPublisher(cfg.AMQPURL)
		if err != nil {
			log.Printf("amqp unavailable, audit fan-out disabled: %v", err)
		} else {
			defer publisher.Close()
			auditOpts = append(auditOpts, auth.WithAuditPublisher(publisher))
		}
	}
	audit := auth.NewAuditLogger(store.Audit(ctx), auditOpts...)
	defer audit.Close()

	tokens, err := auth.NewTokenService(store, resolver, cfg.JWTSecret,
		auth.WithAccessTTL(cfg.AccessTokenTTL),
		auth.WithRefreshTTL(cfg.RefreshTokenTTL),
		auth.WithTokenAudit(audit),
	)
	if err != nil {
		log.Fatalf("tokens: %v", err)
	}

	authn, err := auth.NewAuthenticator(store, tokens, audit,
		auth.WithLockoutPolicy(cfg.MaxLoginAttempts, cfg.LockoutDuration),
	)
	if err != nil {
		log.Fatalf("authenticator: %v", err)
	}

	ledgerOpts := []auth.LedgerOption{
		auth.WithMaxDelegationTTL(cfg.MaxDelegationTTL),
		auth.WithLedgerAudit(audit),
	}
	if snapshots != nil {
		ledgerOpts = append(ledgerOpts, auth.WithLedgerSnapshotCache(snapshots))
	}
	delegations, err := auth.NewDelegationLedger(store, resolver, ledgerOpts...)
	if err != nil {
		log.Fatalf("delegations: %v", err)
	}

	contexts, err := auth.NewContextService(contextStore, audit)
	if err != nil {
		log.Fatalf("contexts: %v", err)
	}

	checker, err := session.NewChecker(tokens, session.WithWarnThreshold(cfg.WarnThreshold))
	if err != nil {
		log.Fatalf("session checker: %v", err)
	}

	// Background sweep keeps the delegations table tidy; expiry is already
	// enforced at read time.
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if _, err := delegations.SweepExpired(sweepCtx); err != nil {
					obs.LogEvent("delegation.sweep.failed", map[string]any{"error": err.Error()})
				}
			}
		}
	}()

	api := httpapi.New(readyProbe, version, httpapi.Services{
		Store:          store,
		Tokens:         tokens,
		Auth:           authn,
		Resolver:       resolver,
		Delegations:    delegations,
		Contexts:       contexts,
		Checker:        checker,
		Audit:          audit,
		RateLimitBurst: cfg.RateLimitBurst,
		RateLimitRPS:   cfg.RateLimitRPS,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting amexing-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	log.Println("Stopped")
}
