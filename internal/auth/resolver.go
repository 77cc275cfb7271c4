package auth

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// Resolve loads the unique role assignment for (user, site) and expands
// it into a flat permission set. No cache sits in front of the store:
// the result is a pure function of current persisted state, so session
// claims are never staler than their token lifetime.
func (s *Service) Resolve(ctx context.Context, userID, siteID string) (Grant, error) {
	userID = strings.TrimSpace(userID)
	siteID = strings.TrimSpace(siteID)
	if userID == "" || siteID == "" {
		return Grant{}, ErrNotAssigned
	}

	assignment, err := s.store.GetUserSiteRole(ctx, userID, siteID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Distinct from "authenticated with zero permissions":
			// without an assignment the site is off-limits entirely.
			return Grant{}, ErrNotAssigned
		}
		return Grant{}, err
	}

	role, err := s.store.GetRole(ctx, assignment.RoleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Grant{}, ErrNotAssigned
		}
		return Grant{}, err
	}

	return Grant{Role: role.Name, Permissions: normalizePermissions(role.Permissions)}, nil
}

func normalizePermissions(perms []string) []string {
	seen := make(map[string]struct{}, len(perms))
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
