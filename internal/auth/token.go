package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the session claim embedded in a signed token: identity plus
// the permission set resolved at issuance. Verified offline; required
// fields missing from a token make it invalid rather than defaulting.
type Claims struct {
	SiteID      string   `json:"site"`
	Role        string   `json:"role"`
	Permissions []string `json:"perms"`
	jwt.RegisteredClaims
}

// Issue resolves the user's grant for the site and mints a signed,
// time-bounded session token. Fails with ErrNotAssigned when the user
// holds no role on the site.
func (s *Service) Issue(ctx context.Context, userID, siteID string) (*Session, error) {
	grant, err := s.Resolve(ctx, userID, siteID)
	if err != nil {
		return nil, err
	}
	return s.issueSession(userID, siteID, grant)
}

// Refresh re-resolves permissions from current state and issues a fresh
// token. The old claim's permission set is never copied forward; this is
// how role edits reach already-signed-in users within one token lifetime.
func (s *Service) Refresh(ctx context.Context, rawToken string) (*Session, error) {
	claims, err := s.VerifyToken(rawToken)
	if err != nil {
		return nil, err
	}
	grant, err := s.Resolve(ctx, claims.Subject, claims.SiteID)
	if err != nil {
		return nil, err
	}
	session, err := s.issueSession(claims.Subject, claims.SiteID, grant)
	if err != nil {
		return nil, err
	}
	s.record(ctx, EventTokenRefreshed, claims.Subject, claims.SiteID, nil)
	return session, nil
}

// VerifyToken validates the signature and required claims. Expired
// tokens report ErrTokenExpired; every other defect is ErrTokenInvalid.
func (s *Service) VerifyToken(rawToken string) (*Claims, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, ErrTokenInvalid
	}

	parsed, err := jwt.ParseWithClaims(rawToken, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrTokenInvalid
		}
		return s.secret, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return s.now().UTC() }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	if strings.TrimSpace(claims.Subject) == "" ||
		strings.TrimSpace(claims.SiteID) == "" ||
		strings.TrimSpace(claims.Role) == "" {
		return nil, ErrTokenInvalid
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (s *Service) issueSession(userID, siteID string, grant Grant) (*Session, error) {
	now := s.now().UTC()
	expiresAt := now.Add(s.sessionTTL)
	claims := Claims{
		SiteID:      siteID,
		Role:        grant.Role,
		Permissions: grant.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, err
	}
	return &Session{
		Token:       signed,
		UserID:      userID,
		SiteID:      siteID,
		Role:        grant.Role,
		Permissions: grant.Permissions,
		IssuedAt:    now,
		ExpiresAt:   expiresAt,
	}, nil
}
