package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndVerifyToken(t *testing.T) {
	store := newFakeStore()
	seedUser(t, store, "u1", "ada@example.com")
	seedEditor(t, store, "u1", "site-1")
	svc := newTestService(t, store, WithSessionTTL(time.Hour))

	session, err := svc.Issue(context.Background(), "u1", "site-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if got := session.ExpiresAt.Sub(session.IssuedAt); got != time.Hour {
		t.Fatalf("expected 1h lifetime, got %v", got)
	}

	claims, err := svc.VerifyToken(session.Token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if claims.Subject != "u1" || claims.SiteID != "site-1" || claims.Role != "editor" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if len(claims.Permissions) != 2 {
		t.Fatalf("expected permissions in claims, got %v", claims.Permissions)
	}
	if claims.ID == "" {
		t.Fatal("expected jti claim")
	}
}

func TestIssueFailsWithoutAssignment(t *testing.T) {
	store := newFakeStore()
	seedUser(t, store, "u1", "ada@example.com")
	svc := newTestService(t, store)

	if _, err := svc.Issue(context.Background(), "u1", "site-1"); !errors.Is(err, ErrNotAssigned) {
		t.Fatalf("expected ErrNotAssigned, got %v", err)
	}
}

func TestVerifyTokenExpired(t *testing.T) {
	store := newFakeStore()
	seedUser(t, store, "u1", "ada@example.com")
	seedEditor(t, store, "u1", "site-1")

	issued := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	clock := issued
	svc := newTestService(t, store, WithClock(func() time.Time { return clock }), WithSessionTTL(time.Hour))

	session, err := svc.Issue(context.Background(), "u1", "site-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	clock = issued.Add(2 * time.Hour)
	if _, err := svc.VerifyToken(session.Token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyTokenRejectsTampering(t *testing.T) {
	store := newFakeStore()
	seedUser(t, store, "u1", "ada@example.com")
	seedEditor(t, store, "u1", "site-1")
	svc := newTestService(t, store)

	session, err := svc.Issue(context.Background(), "u1", "site-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	parts := strings.Split(session.Token, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]
	if _, err := svc.VerifyToken(tampered); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for tampered payload, got %v", err)
	}
	if _, err := svc.VerifyToken(""); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for empty token, got %v", err)
	}
}

func TestVerifyTokenRejectsForeignSignature(t *testing.T) {
	store := newFakeStore()
	seedUser(t, store, "u1", "ada@example.com")
	seedEditor(t, store, "u1", "site-1")
	svc := newTestService(t, store)

	other, err := NewService(store, "some-other-secret")
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	session, err := other.Issue(context.Background(), "u1", "site-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := svc.VerifyToken(session.Token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for foreign signature, got %v", err)
	}
}

func TestVerifyTokenRejectsMissingRequiredFields(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	now := time.Now().UTC()

	// Signed with the right key but missing the site claim: must be
	// rejected, never defaulted.
	claims := Claims{
		Role: "editor",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    defaultIssuer,
			Subject:   "u1",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svc.VerifyToken(raw); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for missing site claim, got %v", err)
	}

	// Missing subject.
	claims = Claims{
		SiteID: "site-1",
		Role:   "editor",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    defaultIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	raw, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svc.VerifyToken(raw); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for missing subject, got %v", err)
	}
}

func TestRefreshPicksUpRoleEdits(t *testing.T) {
	store := newFakeStore()
	seedUser(t, store, "u1", "ada@example.com")
	store.addRole(Role{ID: "role-editor", Name: "editor", Permissions: []string{PermContentRead, PermContentWrite}})
	store.assign("u1", "site-1", "role-editor")
	rec := &captureRecorder{}
	svc := newTestService(t, store, WithRecorder(rec))

	session, err := svc.Issue(context.Background(), "u1", "site-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Role definition changes after issuance; a refresh must re-resolve
	// rather than copy the old claim.
	store.addRole(Role{ID: "role-editor", Name: "editor", Permissions: []string{PermContentRead}})

	refreshed, err := svc.Refresh(context.Background(), session.Token)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(refreshed.Permissions) != 1 || refreshed.Permissions[0] != PermContentRead {
		t.Fatalf("refresh did not re-resolve permissions: %v", refreshed.Permissions)
	}

	events := rec.all()
	if len(events) != 1 || events[0].Type != EventTokenRefreshed {
		t.Fatalf("expected token.refreshed event, got %+v", events)
	}
}

func TestRefreshFailsWhenAssignmentRevoked(t *testing.T) {
	store := newFakeStore()
	seedUser(t, store, "u1", "ada@example.com")
	seedEditor(t, store, "u1", "site-1")
	svc := newTestService(t, store)

	session, err := svc.Issue(context.Background(), "u1", "site-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	store.mu.Lock()
	delete(store.assignments["u1"], "site-1")
	store.mu.Unlock()

	if _, err := svc.Refresh(context.Background(), session.Token); !errors.Is(err, ErrNotAssigned) {
		t.Fatalf("expected ErrNotAssigned after revocation, got %v", err)
	}
}
