// Command bootstrap provisions a tenant site and its first administrator.
// It is meant to run once against a migrated database, before the API
// serves traffic.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"time"

	"github.com/foliohq/folio/internal/auth"
	"github.com/foliohq/folio/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	var (
		dsn      = flag.String("dsn", os.Getenv("FOLIO_PG_DSN"), "PostgreSQL DSN")
		siteID   = flag.String("site", "default", "Site id to create")
		siteName = flag.String("site-name", "", "Human-readable site name (defaults to the id)")
		domain   = flag.String("domain", "", "Site domain")
		email    = flag.String("email", "", "Administrator email")
		password = flag.String("password", os.Getenv("FOLIO_BOOTSTRAP_PASSWORD"), "Administrator password")
		roleName = flag.String("role", "admin", "Role to assign")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or FOLIO_PG_DSN")
	}
	if *email == "" || *password == "" {
		log.Fatal("both -email and a password (via -password or FOLIO_BOOTSTRAP_PASSWORD) are required")
	}
	if *siteName == "" {
		*siteName = *siteID
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := pg.Open(*dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	if err := store.EnsureBuiltinRoles(ctx, auth.BuiltinRoles); err != nil {
		log.Fatalf("ensure builtin roles: %v", err)
	}

	site := &auth.Site{ID: *siteID, Name: *siteName, Domain: *domain}
	switch err := store.CreateSite(ctx, site); {
	case err == nil:
		log.Printf("created site %s", site.ID)
	case errors.Is(err, pg.ErrConflict):
		log.Printf("site %s already exists", site.ID)
	default:
		log.Fatalf("create site: %v", err)
	}

	hash, err := auth.HashPassword(*password)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}
	user := &auth.User{
		Email:        *email,
		PasswordHash: hash,
		Active:       true,
	}
	switch err := store.CreateUser(ctx, user); {
	case err == nil:
		log.Printf("created user %s (%s)", user.Email, user.ID)
	case errors.Is(err, pg.ErrConflict):
		log.Fatalf("user %s already exists", user.Email)
	default:
		log.Fatalf("create user: %v", err)
	}

	role, err := store.RoleByName(ctx, *roleName)
	if err != nil {
		log.Fatalf("lookup role %q: %v", *roleName, err)
	}
	if err := store.AssignRole(ctx, user.ID, site.ID, role.ID); err != nil {
		log.Fatalf("assign role: %v", err)
	}
	log.Printf("assigned %s on %s to %s", role.Name, site.ID, user.Email)
}
