package auth

import "context"

// Identity is the verified per-request identity attached downstream by
// the enforcement middleware.
type Identity struct {
	UserID      string
	SiteID      string
	Role        string
	Permissions []string
}

// HasPermission reports whether the identity carries the permission key.
func (id Identity) HasPermission(perm string) bool {
	for _, p := range id.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// ClientInfo is request metadata carried into security events.
type ClientInfo struct {
	SourceIP  string
	UserAgent string
}

type identityContextKey struct{}
type clientContextKey struct{}

// ContextWithClient attaches client metadata to the context.
func ContextWithClient(ctx context.Context, client ClientInfo) context.Context {
	return context.WithValue(ctx, clientContextKey{}, client)
}

// ClientFromContext extracts client metadata from the context.
func ClientFromContext(ctx context.Context) ClientInfo {
	if ctx == nil {
		return ClientInfo{}
	}
	v, _ := ctx.Value(clientContextKey{}).(ClientInfo)
	return v
}

// ContextWithIdentity attaches the verified identity to the context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, &id)
}

// IdentityFromContext extracts the verified identity from the context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	v, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || v == nil {
		return Identity{}, false
	}
	return *v, true
}
