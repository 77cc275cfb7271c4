package auth

import (
	"context"
	"time"
)

// Store describes the persistence operations required by the auth core.
// The core never issues raw queries; it depends only on this interface.
type Store interface {
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// RecordAuthFailure increments the failure counter for the user as a
	// single atomic operation. When the incremented counter reaches
	// threshold the implementation must set the lockout to now+lockout
	// and reset the counter to zero, all in the same statement, so that
	// concurrent failed attempts never under-count. It returns the
	// counter value and lockout deadline after the update.
	RecordAuthFailure(ctx context.Context, userID string, threshold int, lockout time.Duration) (int, *time.Time, error)

	// ResetAuthFailures zeroes the counter and clears any lockout.
	ResetAuthFailures(ctx context.Context, userID string) error

	// SetPendingMFASecret stores an unconfirmed TOTP secret.
	SetPendingMFASecret(ctx context.Context, userID, secret string, setAt time.Time) error

	// ConfirmMFA promotes the pending secret and marks MFA enabled.
	ConfirmMFA(ctx context.Context, userID, secret string) error

	// DisableMFA clears the confirmed and pending secrets and all backup
	// codes.
	DisableMFA(ctx context.Context, userID string) error

	// ReplaceBackupCodes replaces the stored backup-code hashes.
	ReplaceBackupCodes(ctx context.Context, userID string, hashes []string) error

	// ConsumeBackupCode removes the hash from the user's set and reports
	// whether it was present. Check-and-remove must be atomic: a code is
	// usable exactly once.
	ConsumeBackupCode(ctx context.Context, userID, hash string) (bool, error)

	GetSite(ctx context.Context, id string) (*Site, error)
	GetUserSiteRole(ctx context.Context, userID, siteID string) (*UserSiteRole, error)
	GetRole(ctx context.Context, id string) (*Role, error)
}
