package auth

import (
	"context"
	"time"
)

// Security event types. Every authentication outcome emits exactly one.
const (
	EventLoginSuccess   = "login.success"
	EventLoginFailure   = "login.failure"
	EventLoginLocked    = "login.locked"
	EventMFAEnrolled    = "mfa.enrolled"
	EventMFAConfirmed   = "mfa.confirmed"
	EventMFAFailure     = "mfa.failure"
	EventMFADisabled    = "mfa.disabled"
	EventTokenRefreshed = "token.refreshed"
	EventLogout         = "logout"
)

// Event is an immutable security event. Append-only; never mutated or
// deleted by this package.
type Event struct {
	ID         string
	Type       string
	UserID     string
	SiteID     string
	OccurredAt time.Time
	SourceIP   string
	UserAgent  string
	Metadata   map[string]string
}

// Recorder receives security events. Implementations must treat the log
// as append-only.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// NopRecorder discards events. Test helper and safe default.
type NopRecorder struct{}

func (NopRecorder) Record(ctx context.Context, event Event) error { return nil }
