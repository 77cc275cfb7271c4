package auth

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/foliohq/folio/internal/ids"
)

const (
	defaultIssuer           = "folio"
	defaultSessionTTL       = time.Hour
	defaultLockoutThreshold = 5
	defaultLockoutDuration  = 30 * time.Minute
	defaultPendingMFATTL    = 10 * time.Minute
	defaultBackupCodeCount  = 10
)

// Service implements credential verification, MFA, site-scoped
// authorization resolution and session token issuance. It holds no
// mutable state of its own; the only shared mutable resource is the
// persisted lockout state, updated atomically through the Store.
type Service struct {
	store  Store
	events Recorder
	now    func() time.Time

	secret []byte
	issuer string

	sessionTTL       time.Duration
	lockoutThreshold int
	lockoutDuration  time.Duration
	pendingMFATTL    time.Duration
	backupCodeCount  int
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithIssuer overrides the token issuer claim and the TOTP issuer label.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		issuer = strings.TrimSpace(issuer)
		if issuer != "" {
			s.issuer = issuer
		}
		return nil
	}
}

// WithSessionTTL configures session token lifetime.
func WithSessionTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
		return nil
	}
}

// WithLockoutPolicy configures the failure threshold and lockout window.
func WithLockoutPolicy(threshold int, lockout time.Duration) ServiceOption {
	return func(s *Service) error {
		if threshold > 0 {
			s.lockoutThreshold = threshold
		}
		if lockout > 0 {
			s.lockoutDuration = lockout
		}
		return nil
	}
}

// WithPendingMFATTL bounds how long an unconfirmed TOTP secret stays valid.
func WithPendingMFATTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.pendingMFATTL = ttl
		}
		return nil
	}
}

// WithBackupCodeCount configures how many backup codes an enrollment issues.
func WithBackupCodeCount(n int) ServiceOption {
	return func(s *Service) error {
		if n > 0 {
			s.backupCodeCount = n
		}
		return nil
	}
}

// WithRecorder sets the security event sink.
func WithRecorder(r Recorder) ServiceOption {
	return func(s *Service) error {
		if r != nil {
			s.events = r
		}
		return nil
	}
}

// NewService constructs the auth core. The signing secret is required;
// tokens must be verifiable offline by the enforcement layer.
func NewService(store Store, secret string, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth store is required")
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth signing secret is required")
	}
	svc := &Service{
		store:            store,
		events:           NopRecorder{},
		now:              time.Now,
		secret:           []byte(secret),
		issuer:           defaultIssuer,
		sessionTTL:       defaultSessionTTL,
		lockoutThreshold: defaultLockoutThreshold,
		lockoutDuration:  defaultLockoutDuration,
		pendingMFATTL:    defaultPendingMFATTL,
		backupCodeCount:  defaultBackupCodeCount,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Authenticate runs the full sign-in flow: lockout check, password
// verification, MFA challenge when enrolled, role resolution for the
// requested site, and token issuance. Exactly one security event is
// recorded per call. Account-existence and wrong-password failures are
// indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (*Session, error) {
	email := strings.TrimSpace(strings.ToLower(creds.Email))
	siteID := strings.TrimSpace(creds.SiteID)
	if email == "" || creds.Password == "" || siteID == "" {
		s.record(ctx, EventLoginFailure, "", siteID, map[string]string{"reason": "missing_fields"})
		return nil, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.record(ctx, EventLoginFailure, "", siteID, map[string]string{"reason": "unknown_account"})
			return nil, ErrInvalidCredentials
		}
		// Store unavailable: fail closed.
		return nil, err
	}

	if err := s.checkPassword(ctx, user, creds.Password, siteID); err != nil {
		return nil, err
	}

	if user.MFAEnabled {
		code := strings.TrimSpace(creds.MFACode)
		if code == "" {
			s.record(ctx, EventLoginFailure, user.ID, siteID, map[string]string{"reason": "mfa_required"})
			return nil, ErrMFARequired
		}
		if err := s.VerifyChallenge(ctx, user.ID, code); err != nil {
			if errors.Is(err, ErrMFAInvalid) {
				s.record(ctx, EventMFAFailure, user.ID, siteID, nil)
				return nil, ErrMFAInvalid
			}
			return nil, err
		}
	}

	grant, err := s.Resolve(ctx, user.ID, siteID)
	if err != nil {
		if errors.Is(err, ErrNotAssigned) {
			s.record(ctx, EventLoginFailure, user.ID, siteID, map[string]string{"reason": "not_assigned"})
			return nil, ErrNotAssigned
		}
		return nil, err
	}

	session, err := s.issueSession(user.ID, siteID, grant)
	if err != nil {
		return nil, err
	}
	s.record(ctx, EventLoginSuccess, user.ID, siteID, map[string]string{
		"role": grant.Role,
		"mfa":  strconv.FormatBool(user.MFAEnabled),
	})
	return session, nil
}

// checkPassword is the credential-verification state machine. A locked
// account fails before the hash comparison and never touches the
// counter. A mismatch increments the counter atomically in the store;
// the store trips the lockout when the threshold is reached. A match
// resets the counter and clears any lockout.
func (s *Service) checkPassword(ctx context.Context, user *User, password, siteID string) error {
	now := s.now().UTC()

	if !user.Active {
		s.record(ctx, EventLoginFailure, user.ID, siteID, map[string]string{"reason": "inactive_account"})
		return ErrInvalidCredentials
	}
	if user.Locked(now) {
		s.record(ctx, EventLoginLocked, user.ID, siteID, map[string]string{
			"locked_until": user.LockedUntil.UTC().Format(time.RFC3339),
		})
		return ErrLocked
	}

	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		count, lockedUntil, ferr := s.store.RecordAuthFailure(ctx, user.ID, s.lockoutThreshold, s.lockoutDuration)
		if ferr != nil {
			return ferr
		}
		if lockedUntil != nil && now.Before(*lockedUntil) {
			// This attempt tripped the lockout.
			s.record(ctx, EventLoginLocked, user.ID, siteID, map[string]string{
				"locked_until": lockedUntil.UTC().Format(time.RFC3339),
			})
		} else {
			s.record(ctx, EventLoginFailure, user.ID, siteID, map[string]string{
				"reason":        "password_mismatch",
				"failed_logins": strconv.Itoa(count),
			})
		}
		return ErrInvalidCredentials
	}

	if user.FailedLogins > 0 || user.LockedUntil != nil {
		if err := s.store.ResetAuthFailures(ctx, user.ID); err != nil {
			return err
		}
	}
	return nil
}

// VerifyUserPassword re-verifies a password for an already-identified
// user, applying the same lockout machinery as sign-in. Used before
// sensitive operations such as disabling MFA. It does not emit login
// events; the surrounding operation records its own.
func (s *Service) VerifyUserPassword(ctx context.Context, userID, password string) error {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidCredentials
		}
		return err
	}
	now := s.now().UTC()
	if !user.Active {
		return ErrInvalidCredentials
	}
	if user.Locked(now) {
		return ErrLocked
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		if _, _, ferr := s.store.RecordAuthFailure(ctx, user.ID, s.lockoutThreshold, s.lockoutDuration); ferr != nil {
			return ferr
		}
		return ErrInvalidCredentials
	}
	if user.FailedLogins > 0 || user.LockedUntil != nil {
		if err := s.store.ResetAuthFailures(ctx, user.ID); err != nil {
			return err
		}
	}
	return nil
}

// RecordLogout emits the logout security event. Tokens are stateless and
// remain valid until expiry; the event is the audit trail.
func (s *Service) RecordLogout(ctx context.Context, userID, siteID string) {
	s.record(ctx, EventLogout, userID, siteID, nil)
}

// record emits one security event. Recording is best-effort: a sink
// failure must not change an authentication outcome.
func (s *Service) record(ctx context.Context, typ, userID, siteID string, metadata map[string]string) {
	client := ClientFromContext(ctx)
	_ = s.events.Record(ctx, Event{
		ID:         ids.New(),
		Type:       typ,
		UserID:     userID,
		SiteID:     siteID,
		OccurredAt: s.now().UTC(),
		SourceIP:   client.SourceIP,
		UserAgent:  client.UserAgent,
		Metadata:   metadata,
	})
}
