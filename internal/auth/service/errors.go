package service

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidCredentials covers unknown username and wrong password alike.
	ErrInvalidCredentials = errors.New("invalid_credentials")

	// ErrAccountLocked is returned while lock_until is in the future (423).
	ErrAccountLocked = errors.New("account_locked")

	// ErrAccountDisabled is returned for is_active=false accounts, checked
	// after the password so a disabled account behaves like a live one up to
	// that point (403).
	ErrAccountDisabled = errors.New("account_disabled")

	// ErrInvalidRefresh uniformly covers every refresh denial: wrong session,
	// wrong token, inactive, expired. Callers must not distinguish.
	ErrInvalidRefresh = errors.New("invalid_refresh_token")

	// ErrInvalidSession means no usable session and one could not be created.
	ErrInvalidSession = errors.New("invalid_session")

	// ErrWrongTokenScope is returned when a token's scope claim does not
	// match the endpoint (first-login token on a normal endpoint and vice
	// versa).
	ErrWrongTokenScope = errors.New("wrong_token_scope")

	// ErrUserExists signals a username/email collision on signup.
	ErrUserExists = errors.New("user_already_exists")

	// ErrInvalidRole rejects signup with an unrecognized role.
	ErrInvalidRole = errors.New("invalid_role")

	// ErrRoleNotAllowed rejects self-registration with a privileged role;
	// admin accounts are provisioned, never self-assigned.
	ErrRoleNotAllowed = errors.New("role_not_allowed")

	// ErrPasswordAlreadySet rejects a first-password token presented after the
	// account already completed the first-login flow.
	ErrPasswordAlreadySet = errors.New("password_already_set")

	// ErrUserNotFound is surfaced for admin operations referencing a missing
	// user.
	ErrUserNotFound = errors.New("user_not_found")

	// ErrPasswordReused rejects a new password matching recent history.
	ErrPasswordReused = errors.New("password_recently_used")

	// ErrResetTokenInvalid covers unknown and expired password-reset tokens.
	ErrResetTokenInvalid = errors.New("reset_token_invalid")
)

// PolicyViolationError carries the human-readable rule failures for a
// rejected candidate password. It is a 400-class input error, not an
// infrastructure failure.
type PolicyViolationError struct {
	Violations []string
}

func (e *PolicyViolationError) Error() string {
	return "password policy violation: " + strings.Join(e.Violations, "; ")
}
