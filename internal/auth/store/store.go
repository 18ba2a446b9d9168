// Package store defines the data access interfaces for the auth service.
// Concrete drivers (sqlite today) implement Store.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/campusgrid/schoolauth/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrProtectedUser is returned when deleting a super_admin account.
	ErrProtectedUser = errors.New("store: protected user cannot be deleted")
)

// Store is the root data access interface, exposing sub-repositories to keep
// concerns tidy and testable.
type Store interface {
	Users() Users
	Sessions() Sessions
	Policies() Policies
	Audit() Audit

	ApplyMigrations() error

	// WithTx executes fn within a transaction, rolling back on error and
	// committing otherwise. Use it for multi-step operations that must be
	// atomic (refresh rotation, password change with history push).
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Tx starts a transaction; the caller MUST Commit or Rollback. Prefer
	// WithTx.
	Tx(ctx context.Context) (Tx, error)

	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transaction-scoped Store.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Users interface {
	GetUserByID(ctx context.Context, id string) (domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)

	// GetUserByResetTokenHash returns the user holding an unexpired reset
	// token with this fingerprint.
	GetUserByResetTokenHash(ctx context.Context, hash string, now time.Time) (domain.User, error)

	// CreateUser inserts a new user (id is provided by the app via ULID).
	CreateUser(ctx context.Context, u domain.User) error

	// UpdateLockState persists login_attempts and lock_until in one
	// statement.
	UpdateLockState(ctx context.Context, userID string, lock domain.LockState) error

	// UpdateLastLogin sets last_login.
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error

	// UpdatePassword sets the password hash, bumps password_changed_at and
	// clears must_change_password plus any pending reset token.
	UpdatePassword(ctx context.Context, userID, newHash string, changedAt time.Time) error

	// SetResetToken stores the fingerprint and expiry of an issued password
	// reset token, replacing any previous one.
	SetResetToken(ctx context.Context, userID, hash string, expires time.Time) error

	// ClearResetToken removes a pending reset token.
	ClearResetToken(ctx context.Context, userID string) error

	// ClearExpiredResetTokens wipes every reset token past its expiry;
	// housekeeping sweep, returns the number cleared.
	ClearExpiredResetTokens(ctx context.Context, now time.Time) (int64, error)

	// SetMustChangePassword flips the first-login flag.
	SetMustChangePassword(ctx context.Context, userID string, must bool) error

	// SetUserActive enables or disables an account.
	SetUserActive(ctx context.Context, userID string, active bool) error

	// DeleteUser removes a user; refuses super_admin rows with
	// ErrProtectedUser.
	DeleteUser(ctx context.Context, userID string) error

	// PushPasswordHistory prepends a hash to the user's history and trims it
	// to depth entries.
	PushPasswordHistory(ctx context.Context, userID, hash string, depth int) error

	// ListPasswordHistory returns up to limit entries, most recent first.
	ListPasswordHistory(ctx context.Context, userID string, limit int) ([]domain.PasswordHistoryEntry, error)
}

type Sessions interface {
	CreateSession(ctx context.Context, s domain.Session) error

	GetSessionByID(ctx context.Context, id string) (domain.Session, error)

	// GetActiveSessionByToken locates a usable session by its current access
	// token. Inactive or expired rows map to ErrNotFound even if present.
	GetActiveSessionByToken(ctx context.Context, token string, now time.Time) (domain.Session, error)

	// ListActiveSessions returns the user's usable sessions ordered by
	// last_activity descending.
	ListActiveSessions(ctx context.Context, userID string, now time.Time) ([]domain.Session, error)

	// UpdateActivity bumps last_activity only, as a single-column UPDATE so
	// concurrent requests from one browser session never conflict.
	UpdateActivity(ctx context.Context, sessionID string, at time.Time) error

	// SetRefreshTokenHash replaces the stored refresh-token fingerprint
	// (rotation).
	SetRefreshTokenHash(ctx context.Context, sessionID, hash string) error

	// SetAccessToken re-points the session at a newly issued access token.
	SetAccessToken(ctx context.Context, sessionID, token string) error

	// InvalidateSession atomically sets is_active=false and logout_time.
	// Already-inactive sessions are left untouched (idempotent).
	InvalidateSession(ctx context.Context, sessionID string, at time.Time) error

	// InvalidateUserSessions deactivates all active sessions for a user,
	// optionally sparing one; returns the number invalidated.
	InvalidateUserSessions(ctx context.Context, userID, exceptSessionID string, at time.Time) (int64, error)

	// CleanExpiredSessions deactivates sessions past expires_at that are
	// still marked active; idempotent sweep, returns the number touched.
	CleanExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

type Policies interface {
	CreatePolicy(ctx context.Context, p domain.PasswordPolicy) error
	GetPolicyByID(ctx context.Context, id string) (domain.PasswordPolicy, error)
	ListPolicies(ctx context.Context) ([]domain.PasswordPolicy, error)
	UpdatePolicy(ctx context.Context, p domain.PasswordPolicy) error
	DeletePolicy(ctx context.Context, id string) error

	// GetApplicablePolicy returns the most recently created policy whose
	// applicable_roles is empty or includes role; ErrNotFound when none.
	GetApplicablePolicy(ctx context.Context, role domain.Role) (domain.PasswordPolicy, error)
}

type Audit interface {
	// InsertEvent records one security event.
	InsertEvent(ctx context.Context, e domain.AuditEvent) error

	// ListEventsByUser returns recent events for a user, newest first.
	ListEventsByUser(ctx context.Context, userID string, limit int) ([]domain.AuditEvent, error)

	// DeleteEventsBefore trims the audit trail (housekeeping).
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
