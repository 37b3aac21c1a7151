package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/audit"
	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/authz"
	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/geo"
	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/httpapi"
	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/lockout"
	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/loginsec"
	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/notify"
	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/obs"
	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/ratelimit"
	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/session"
	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	// Postgres is optional for local runs; without it the engine falls back
	// to in-memory stores and loses state on restart.
	var pgStore *pg.Store
	if dsn := os.Getenv("PAYRUN_PG_DSN"); dsn != "" {
		var err error
		pgStore, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
	}

	var geoResolver geo.Resolver
	if endpoint := os.Getenv("PAYRUN_GEO_ENDPOINT"); endpoint != "" {
		r, err := geo.NewHTTPResolver(endpoint)
		if err != nil {
			log.Fatalf("geo resolver: %v", err)
		}
		geoResolver = r
	} else {
		geoResolver = geo.Noop{}
	}

	var eventStore audit.EventStore
	if pgStore != nil {
		eventStore = pgStore
	} else {
		eventStore = audit.NewMemoryStore()
	}
	sink, err := audit.NewSink(eventStore, audit.WithResolver(geoResolver))
	if err != nil {
		log.Fatalf("audit sink: %v", err)
	}

	var guardOpts []lockout.GuardOption
	if url := os.Getenv("PAYRUN_LOCKOUT_WEBHOOK"); url != "" {
		hook, err := notify.NewWebhook(url)
		if err != nil {
			log.Fatalf("lockout webhook: %v", err)
		}
		guardOpts = append(guardOpts, lockout.WithNotifier(hook))
	}
	var lockStore lockout.Store
	if pgStore != nil {
		lockStore = pgStore
	} else {
		lockStore = lockout.NewMemoryStore()
	}
	guard, err := lockout.NewGuard(lockStore, sink, guardOpts...)
	if err != nil {
		log.Fatalf("lockout guard: %v", err)
	}

	var limiter ratelimit.Limiter
	var memLimiter *ratelimit.MemoryLimiter
	if addr := os.Getenv("PAYRUN_REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv("PAYRUN_REDIS_PASSWORD"),
		})
		rl, err := ratelimit.NewRedisLimiter(client)
		if err != nil {
			log.Fatalf("redis limiter: %v", err)
		}
		limiter = rl
	} else {
		memLimiter = ratelimit.NewMemoryLimiter()
		limiter = memLimiter
	}

	sessionOpts := []session.Option{}
	if raw := os.Getenv("PAYRUN_SESSION_CAP"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			log.Fatalf("invalid PAYRUN_SESSION_CAP %q", raw)
		}
		sessionOpts = append(sessionOpts, session.WithCap(n))
	}
	if os.Getenv("PAYRUN_REVOKE_ON_ORIGIN_MISMATCH") == "true" {
		sessionOpts = append(sessionOpts, session.WithRevokeOnOriginMismatch(true))
	}
	sessions, err := session.NewRegistry(sink, sessionOpts...)
	if err != nil {
		log.Fatalf("session registry: %v", err)
	}

	// Login needs identities: seed the local provider from PAYRUN_USERS_FILE
	// (JSON array of identifier/secret/principal_id/tenant_id records).
	// Deployments with an external directory replace the provider here.
	provider := loginsec.NewLocalProvider()
	if path := os.Getenv("PAYRUN_USERS_FILE"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			log.Fatalf("open users file: %v", err)
		}
		n, err := provider.LoadUsers(f)
		f.Close()
		if err != nil {
			log.Fatalf("load users: %v", err)
		}
		log.Printf("Loaded %d local identities from %s", n, path)
	} else {
		log.Printf("PAYRUN_USERS_FILE not set; login surface has no identities")
	}
	login, err := loginsec.NewService(provider, limiter, guard, sessions, sink)
	if err != nil {
		log.Fatalf("login service: %v", err)
	}

	var authzStore authz.Store
	var adminStore authz.AdminStore
	if pgStore != nil {
		authzStore = pgStore
		adminStore = pgStore
	} else {
		mem := authz.NewMemoryStore()
		authzStore = mem
		adminStore = mem
	}
	authorizer, err := authz.NewService(authzStore)
	if err != nil {
		log.Fatalf("authz service: %v", err)
	}
	admin, err := authz.NewAdmin(adminStore)
	if err != nil {
		log.Fatalf("authz admin: %v", err)
	}

	probe := httpapi.ReadyProbe{}
	if pgStore != nil {
		probe.DB = pgStore.DB()
	}
	api := httpapi.New(httpapi.Config{
		ReadyProbe: probe,
		Version:    version,
		Authorizer: authorizer,
		Admin:      admin,
		Login:      login,
		Guard:      guard,
		Sink:       sink,
	})

	handler := api.Handler()
	handler = httpapi.RateLimit(handler, 50, 25)
	handler = httpapi.MaxBodyBytes(handler, 1<<20)
	handler = httpapi.CORS(handler)
	handler = httpapi.SecurityHeaders(handler)
	handler = httpapi.LoggingJSON(handler)
	handler = httpapi.RequestID(handler)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// periodic maintenance: drop idle sessions and stale limiter windows
	maintenanceCtx, stopMaintenance := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-maintenanceCtx.Done():
				return
			case <-ticker.C:
				sessions.Sweep(maintenanceCtx)
				if memLimiter != nil {
					memLimiter.Sweep()
				}
			}
		}
	}()

	log.Printf("Starting payrun-authz %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	stopMaintenance()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}
