package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/foliohq/folio/internal/auth"
	"github.com/foliohq/folio/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "

	// SiteHeader carries the tenant the request targets. Falls back to
	// the "site" query parameter, then to the default tenant.
	SiteHeader = "X-Folio-Site"

	// DefaultSite is the tenant exempt from the claim/request site match.
	DefaultSite = "default"
)

// Routes that bypass enforcement entirely. Refresh is listed because its
// authentication is the token verification it performs itself.
var publicPaths = []string{
	"/v1/auth/login",
	"/v1/auth/refresh",
	"/v1/info",
	"/metrics",
	"/healthz",
	"/readyz",
	"/",
}
var publicPrefixes = []string{
	"/assets/",
}

// RouteRule maps a path prefix and verb to the permissions that allow
// it. An empty Method matches every verb. An empty Permissions slice
// means any authenticated identity may pass; the request still needs a
// valid token and a matching site. Routes without a rule are denied.
type RouteRule struct {
	Prefix      string
	Method      string
	Permissions []string
}

// The static route→permission table. Handlers never re-check
// permissions themselves; this is the single enforcement point.
var routeRules = []RouteRule{
	{Prefix: "/v1/auth/logout", Method: http.MethodPost},
	{Prefix: "/v1/auth/mfa/", Method: http.MethodPost},

	{Prefix: "/v1/content/publish", Method: http.MethodPost, Permissions: []string{auth.PermContentPublish}},
	{Prefix: "/v1/content", Method: http.MethodGet, Permissions: []string{auth.PermContentRead}},
	{Prefix: "/v1/content", Method: http.MethodPost, Permissions: []string{auth.PermContentWrite}},
	{Prefix: "/v1/content", Method: http.MethodPut, Permissions: []string{auth.PermContentWrite}},
	{Prefix: "/v1/content", Method: http.MethodDelete, Permissions: []string{auth.PermContentWrite}},

	{Prefix: "/v1/media", Method: http.MethodGet, Permissions: []string{auth.PermContentRead}},
	{Prefix: "/v1/media", Method: http.MethodPost, Permissions: []string{auth.PermMediaUpload}},

	{Prefix: "/v1/sites/settings", Permissions: []string{auth.PermSiteSettings}},
	{Prefix: "/v1/users", Permissions: []string{auth.PermUsersManage}},
	{Prefix: "/v1/roles", Permissions: []string{auth.PermRolesManage}},
	{Prefix: "/v1/events", Method: http.MethodGet, Permissions: []string{auth.PermEventsRead}},
}

// withAuth is the enforcement middleware. Checks run in a fixed order
// and the first failure determines the response; downstream handlers are
// never invoked on a denial.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			obs.ObserveDenied("unauthorized")
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := a.auth.VerifyToken(token)
		if err != nil {
			obs.ObserveDenied("unauthorized")
			writeError(w, r, http.StatusUnauthorized, auth.Reason(err))
			return
		}

		rule, ok := findRouteRule(r.URL.Path, r.Method)
		if !ok {
			// Unmapped and not public: default deny.
			obs.ObserveDenied("forbidden")
			writeError(w, r, http.StatusForbidden, auth.ReasonForbidden)
			return
		}

		site := siteFromRequest(r)
		if site != DefaultSite && site != claims.SiteID {
			obs.ObserveDenied("forbidden")
			writeError(w, r, http.StatusForbidden, auth.ReasonForbidden)
			return
		}

		if len(rule.Permissions) > 0 && !anyPermission(claims.Permissions, rule.Permissions) {
			obs.ObserveDenied("forbidden")
			writeError(w, r, http.StatusForbidden, auth.ReasonForbidden)
			return
		}

		ctx := auth.ContextWithIdentity(r.Context(), auth.Identity{
			UserID:      claims.Subject,
			SiteID:      claims.SiteID,
			Role:        claims.Role,
			Permissions: claims.Permissions,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withClientInfo attaches source IP and user agent to the context so
// security events can carry them.
func (a *API) withClientInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := auth.ContextWithClient(r.Context(), auth.ClientInfo{
			SourceIP:  clientIP(r),
			UserAgent: r.UserAgent(),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// findRouteRule returns the longest-prefix rule matching path and verb.
func findRouteRule(path, method string) (RouteRule, bool) {
	var (
		best  RouteRule
		found bool
	)
	for _, rule := range routeRules {
		if !strings.HasPrefix(path, rule.Prefix) {
			continue
		}
		if rule.Method != "" && rule.Method != method {
			continue
		}
		if !found || len(rule.Prefix) > len(best.Prefix) {
			best = rule
			found = true
		}
	}
	return best, found
}

func siteFromRequest(r *http.Request) string {
	if site := strings.TrimSpace(r.Header.Get(SiteHeader)); site != "" {
		return site
	}
	if site := strings.TrimSpace(r.URL.Query().Get("site")); site != "" {
		return site
	}
	return DefaultSite
}

func anyPermission(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}
