package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// MFA state machine per user: disabled -> pending_enrollment -> enabled,
// with enabled -> disabled as the only reverse transition (requires a
// password re-verification by the caller).

// ErrMFAAlreadyEnabled rejects re-enrollment while MFA is enabled.
var ErrMFAAlreadyEnabled = errors.New("auth: mfa already enabled")

const totpPeriod = 30

// Backup codes avoid characters that read ambiguously when printed.
const backupCodeAlphabet = "ABCDEFGHJKMNPQRSTVWXYZ23456789"
const backupCodeLength = 10

// BeginEnrollment generates a TOTP secret and a fresh set of single-use
// backup codes. The secret stays unconfirmed until ConfirmEnrollment;
// the plaintext codes are returned exactly once.
func (s *Service) BeginEnrollment(ctx context.Context, userID string) (*Enrollment, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: user.Email,
	})
	if err != nil {
		return nil, err
	}

	codes, hashes, err := newBackupCodes(s.backupCodeCount)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := s.store.SetPendingMFASecret(ctx, userID, key.Secret(), now); err != nil {
		return nil, err
	}
	if err := s.store.ReplaceBackupCodes(ctx, userID, hashes); err != nil {
		return nil, err
	}

	s.record(ctx, EventMFAEnrolled, userID, "", nil)
	return &Enrollment{
		Secret:      key.Secret(),
		URI:         key.String(),
		BackupCodes: codes,
	}, nil
}

// ConfirmEnrollment verifies the submitted code against the pending
// secret and, on success, enables MFA. A failed code leaves the state
// pending; enrollment attempts never count toward lockout. A pending
// secret older than the configured TTL is treated as invalid.
func (s *Service) ConfirmEnrollment(ctx context.Context, userID, code string) error {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.MFAState() != MFAPendingEnrollment {
		return ErrMFANotPending
	}
	now := s.now().UTC()
	if user.PendingMFASetAt == nil || now.Sub(*user.PendingMFASetAt) > s.pendingMFATTL {
		return ErrMFANotPending
	}
	if !s.validTOTP(code, user.PendingMFASecret) {
		s.record(ctx, EventMFAFailure, userID, "", map[string]string{"stage": "enrollment"})
		return ErrMFAInvalid
	}
	if err := s.store.ConfirmMFA(ctx, userID, user.PendingMFASecret); err != nil {
		return err
	}
	s.record(ctx, EventMFAConfirmed, userID, "", nil)
	return nil
}

// VerifyChallenge checks a second factor during sign-in: a TOTP code for
// the current or adjacent time step, or an unused backup code. Backup
// codes are consumed atomically and never usable twice. Fails closed
// when MFA is not enabled.
func (s *Service) VerifyChallenge(ctx context.Context, userID, code string) error {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrMFAInvalid
		}
		return err
	}
	if !user.MFAEnabled || user.MFASecret == "" {
		return ErrMFAInvalid
	}

	code = strings.TrimSpace(code)
	if isTOTPCandidate(code) && s.validTOTP(code, user.MFASecret) {
		return nil
	}

	consumed, err := s.store.ConsumeBackupCode(ctx, userID, backupCodeHash(code))
	if err != nil {
		return err
	}
	if consumed {
		return nil
	}
	return ErrMFAInvalid
}

// DisableMFA clears the secret and all backup codes after re-verifying
// the account password. A failed re-verification leaves the same audit
// trail as any other credential probe.
func (s *Service) DisableMFA(ctx context.Context, userID, password string) error {
	if err := s.VerifyUserPassword(ctx, userID, password); err != nil {
		if errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrLocked) {
			reason := "password_mismatch"
			if errors.Is(err, ErrLocked) {
				reason = "locked"
			}
			s.record(ctx, EventMFAFailure, userID, "", map[string]string{
				"stage":  "disable",
				"reason": reason,
			})
		}
		return err
	}
	if err := s.store.DisableMFA(ctx, userID); err != nil {
		return err
	}
	s.record(ctx, EventMFADisabled, userID, "", nil)
	return nil
}

func (s *Service) validTOTP(code, secret string) bool {
	ok, err := totp.ValidateCustom(code, secret, s.now().UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

func isTOTPCandidate(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func newBackupCodes(n int) (codes []string, hashes []string, err error) {
	codes = make([]string, 0, n)
	hashes = make([]string, 0, n)
	for i := 0; i < n; i++ {
		code, err := newBackupCode(backupCodeLength)
		if err != nil {
			return nil, nil, err
		}
		codes = append(codes, formatBackupCode(code))
		hashes = append(hashes, backupCodeHash(code))
	}
	return codes, hashes, nil
}

func newBackupCode(length int) (string, error) {
	var b strings.Builder
	max := big.NewInt(int64(len(backupCodeAlphabet)))
	for i := 0; i < length; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(backupCodeAlphabet[idx.Int64()])
	}
	return b.String(), nil
}

// formatBackupCode groups a code for display (XXXXX-XXXXX).
func formatBackupCode(code string) string {
	if len(code) != backupCodeLength {
		return code
	}
	return code[:5] + "-" + code[5:]
}

// canonicalBackupCode folds case and strips separators so a printed code
// matches regardless of how the user types it back.
func canonicalBackupCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, "-", "")
	return strings.ReplaceAll(code, " ", "")
}

func backupCodeHash(code string) string {
	sum := sha256.Sum256([]byte(canonicalBackupCode(code)))
	return hex.EncodeToString(sum[:])
}
