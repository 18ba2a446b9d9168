package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/campusgrid/schoolauth/internal/auth/domain"
	"github.com/campusgrid/schoolauth/internal/auth/store"
	"github.com/campusgrid/schoolauth/pkg/idx"
)

type usersRepo struct {
	db dbtx
}

const userColumns = `id, username, email, first_name, last_name, phone, role,
	password_hash, password_changed_at, login_attempts, lock_until,
	is_active, must_change_password, last_login,
	reset_token_hash, reset_token_expires, created_at, updated_at`

func (r *usersRepo) scanUser(row *sql.Row) (domain.User, error) {
	var u domain.User
	var lockUntil, lastLogin, resetExpires sql.NullTime

	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.Phone, &u.Role,
		&u.PasswordHash, &u.PasswordChangedAt, &u.Lock.Attempts, &lockUntil,
		&u.IsActive, &u.MustChangePassword, &lastLogin,
		&u.ResetTokenHash, &resetExpires, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}

	u.Lock.LockUntil = mapNullTimePtr(lockUntil)
	u.LastLogin = mapNullTimePtr(lastLogin)
	u.ResetTokenExpires = mapNullTimePtr(resetExpires)
	return u, nil
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (r *usersRepo) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username))
}

func (r *usersRepo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, strings.ToLower(email)))
}

func (r *usersRepo) GetUserByResetTokenHash(ctx context.Context, hash string, now time.Time) (domain.User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE reset_token_hash = ? AND reset_token_hash != '' AND reset_token_expires > ?`,
		hash, now))
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (
			id, username, email, first_name, last_name, phone, role,
			password_hash, password_changed_at, login_attempts, lock_until,
			is_active, must_change_password, last_login,
			reset_token_hash, reset_token_expires, created_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, strings.ToLower(u.Email), u.FirstName, u.LastName, u.Phone, u.Role,
		u.PasswordHash, u.PasswordChangedAt, u.Lock.Attempts, mapOptionalTime(u.Lock.LockUntil),
		u.IsActive, u.MustChangePassword, mapOptionalTime(u.LastLogin),
		u.ResetTokenHash, mapOptionalTime(u.ResetTokenExpires), u.CreatedAt, u.UpdatedAt,
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *usersRepo) UpdateLockState(ctx context.Context, userID string, lock domain.LockState) error {
	return r.exec(ctx,
		`UPDATE users SET login_attempts = ?, lock_until = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		lock.Attempts, mapOptionalTime(lock.LockUntil), userID)
}

func (r *usersRepo) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	return r.exec(ctx,
		`UPDATE users SET last_login = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		at, userID)
}

func (r *usersRepo) UpdatePassword(ctx context.Context, userID, newHash string, changedAt time.Time) error {
	return r.exec(ctx,
		`UPDATE users SET password_hash = ?, password_changed_at = ?,
			must_change_password = FALSE, reset_token_hash = '', reset_token_expires = NULL,
			updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		newHash, changedAt, userID)
}

func (r *usersRepo) SetResetToken(ctx context.Context, userID, hash string, expires time.Time) error {
	return r.exec(ctx,
		`UPDATE users SET reset_token_hash = ?, reset_token_expires = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		hash, expires, userID)
}

func (r *usersRepo) ClearResetToken(ctx context.Context, userID string) error {
	return r.exec(ctx,
		`UPDATE users SET reset_token_hash = '', reset_token_expires = NULL, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		userID)
}

func (r *usersRepo) ClearExpiredResetTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET reset_token_hash = '', reset_token_expires = NULL, updated_at = CURRENT_TIMESTAMP
		 WHERE reset_token_hash != '' AND reset_token_expires <= ?`,
		now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *usersRepo) SetMustChangePassword(ctx context.Context, userID string, must bool) error {
	return r.exec(ctx,
		`UPDATE users SET must_change_password = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		must, userID)
}

func (r *usersRepo) SetUserActive(ctx context.Context, userID string, active bool) error {
	return r.exec(ctx,
		`UPDATE users SET is_active = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		active, userID)
}

func (r *usersRepo) DeleteUser(ctx context.Context, userID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM users WHERE id = ? AND role != ?`, userID, domain.RoleSuperAdmin)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// Either absent or protected; disambiguate for the caller.
		var role string
		err := r.db.QueryRowContext(ctx, `SELECT role FROM users WHERE id = ?`, userID).Scan(&role)
		if err != nil {
			return mapNotFound(err)
		}
		return store.ErrProtectedUser
	}
	return nil
}

func (r *usersRepo) PushPasswordHistory(ctx context.Context, userID, hash string, depth int) error {
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO password_history (id, user_id, password_hash) VALUES (?, ?, ?)`,
		idx.New().String(), userID, hash); err != nil {
		return err
	}

	// Trim beyond the retained depth, oldest first.
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM password_history WHERE user_id = ? AND id NOT IN (
			SELECT id FROM password_history WHERE user_id = ?
			ORDER BY created_at DESC, id DESC LIMIT ?
		 )`,
		userID, userID, depth)
	return err
}

func (r *usersRepo) ListPasswordHistory(ctx context.Context, userID string, limit int) ([]domain.PasswordHistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, password_hash, created_at FROM password_history
		 WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.PasswordHistoryEntry
	for rows.Next() {
		var e domain.PasswordHistoryEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.PasswordHash, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *usersRepo) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}
