package auth

import "time"

// User is an account on the platform. MFA and lockout fields are owned by
// this package; nothing else mutates them.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	Active       bool

	MFAEnabled       bool
	MFASecret        string
	PendingMFASecret string
	PendingMFASetAt  *time.Time

	FailedLogins int
	LockedUntil  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Locked reports whether the account is currently locked out.
func (u *User) Locked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// MFAState is the enrollment state derived from the stored secrets.
type MFAState string

const (
	MFADisabled          MFAState = "disabled"
	MFAPendingEnrollment MFAState = "pending_enrollment"
	MFAEnabledState      MFAState = "enabled"
)

// MFAState returns the current enrollment state.
func (u User) MFAState() MFAState {
	switch {
	case u.MFAEnabled:
		return MFAEnabledState
	case u.PendingMFASecret != "":
		return MFAPendingEnrollment
	default:
		return MFADisabled
	}
}

// Site is a tenant boundary. Immutable from this package's perspective.
type Site struct {
	ID        string
	Name      string
	Domain    string
	CreatedAt time.Time
}

// Role is a global named bundle of permission keys. Sites do not own
// distinct role definitions, only assignments.
type Role struct {
	ID          string
	Name        string
	Description string
	Permissions []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UserSiteRole assigns a role to a user within one site. At most one
// active assignment per (user, site).
type UserSiteRole struct {
	UserID    string
	SiteID    string
	RoleID    string
	CreatedAt time.Time
}

// Grant is the resolved authorization for a user on a site.
type Grant struct {
	Role        string
	Permissions []string
}

// Has reports whether the grant includes the permission key.
func (g Grant) Has(perm string) bool {
	for _, p := range g.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// Session is the result of a successful authentication or refresh.
type Session struct {
	Token       string
	UserID      string
	SiteID      string
	Role        string
	Permissions []string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Enrollment is returned once from BeginEnrollment. The secret and the
// plaintext backup codes are never retrievable again.
type Enrollment struct {
	Secret      string
	URI         string
	BackupCodes []string
}

// Credentials is the inbound authentication request. Client metadata
// for security events travels in the context (ContextWithClient).
type Credentials struct {
	Email    string
	Password string
	SiteID   string
	MFACode  string
}
