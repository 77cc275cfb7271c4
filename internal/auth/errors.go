package auth

import "errors"

// Taxonomy of user-safe failures. Internal detail (store errors, hash
// errors) never crosses the authentication boundary: everything is
// recovered into one of these before it reaches a caller.
var (
	// ErrNotFound is internal to the package; at the authentication
	// boundary it is collapsed into ErrInvalidCredentials so that the
	// response does not reveal whether the account exists.
	ErrNotFound = errors.New("auth: not found")

	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrLocked             = errors.New("auth: account locked")
	ErrMFARequired        = errors.New("auth: mfa code required")
	ErrMFAInvalid         = errors.New("auth: mfa code invalid")
	ErrMFANotPending      = errors.New("auth: no pending mfa enrollment")
	ErrNotAssigned        = errors.New("auth: no role assigned for site")
	ErrTokenInvalid       = errors.New("auth: invalid token")
	ErrTokenExpired       = errors.New("auth: token expired")
	ErrForbidden          = errors.New("auth: insufficient permission")
)

// Reason codes exposed on the wire.
const (
	ReasonInvalidCredentials = "INVALID_CREDENTIALS"
	ReasonLocked             = "LOCKED"
	ReasonMFARequired        = "MFA_REQUIRED"
	ReasonMFAInvalid         = "MFA_INVALID"
	ReasonNotAssigned        = "NOT_ASSIGNED"
	ReasonTokenInvalid       = "TOKEN_INVALID"
	ReasonTokenExpired       = "TOKEN_EXPIRED"
	ReasonForbidden          = "FORBIDDEN"
)

// Reason maps a failure to its wire reason code. Unknown errors map to
// INVALID_CREDENTIALS: the generic answer leaks the least.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrLocked):
		return ReasonLocked
	case errors.Is(err, ErrMFARequired):
		return ReasonMFARequired
	case errors.Is(err, ErrMFAInvalid):
		return ReasonMFAInvalid
	case errors.Is(err, ErrNotAssigned):
		return ReasonNotAssigned
	case errors.Is(err, ErrTokenExpired):
		return ReasonTokenExpired
	case errors.Is(err, ErrTokenInvalid):
		return ReasonTokenInvalid
	case errors.Is(err, ErrForbidden):
		return ReasonForbidden
	default:
		return ReasonInvalidCredentials
	}
}
