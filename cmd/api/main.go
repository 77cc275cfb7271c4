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

	"github.com/foliohq/folio/internal/audit"
	"github.com/foliohq/folio/internal/auth"
	"github.com/foliohq/folio/internal/httpapi"
	"github.com/foliohq/folio/internal/obs"
	"github.com/foliohq/folio/internal/store/pg"
	"github.com/foliohq/folio/internal/stream"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	secret := os.Getenv("FOLIO_AUTH_SECRET")
	if secret == "" {
		log.Fatal("FOLIO_AUTH_SECRET is required")
	}
	dsn := os.Getenv("FOLIO_PG_DSN")
	if dsn == "" {
		log.Fatal("FOLIO_PG_DSN is required")
	}

	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	{
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := store.EnsureBuiltinRoles(ctx, auth.BuiltinRoles)
		cancel()
		if err != nil {
			log.Fatalf("ensure builtin roles: %v", err)
		}
	}

	hub := stream.New()
	recorder := audit.NewRecorder(store, audit.WithBroadcaster(hub))

	svc, err := auth.NewService(store, secret,
		auth.WithIssuer(envStr("FOLIO_TOKEN_ISSUER", "folio")),
		auth.WithSessionTTL(envDuration("FOLIO_SESSION_TTL", time.Hour)),
		auth.WithLockoutPolicy(
			envInt("FOLIO_LOCKOUT_THRESHOLD", 5),
			envDuration("FOLIO_LOCKOUT_DURATION", 30*time.Minute),
		),
		auth.WithRecorder(recorder),
	)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	api := httpapi.New(httpapi.Config{
		Auth:       svc,
		Events:     store,
		Live:       hub,
		ReadyProbe: httpapi.ReadyProbe{Store: store},
		Version:    version,
	})

	srv := &http.Server{
		Addr:              envStr("FOLIO_HTTP_ADDR", ":8080"),
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting folio-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Fatalf("%s: not an integer: %q", key, os.Getenv(key))
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Fatalf("%s: not a duration: %q", key, os.Getenv(key))
	}
	return fallback
}
