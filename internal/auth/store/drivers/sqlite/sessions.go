package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/campusgrid/schoolauth/internal/auth/domain"
	"github.com/campusgrid/schoolauth/internal/auth/store"
)

type sessionsRepo struct {
	db dbtx
}

const sessionColumns = `id, user_id, token, refresh_token_hash, is_active,
	expires_at, login_time, last_activity, logout_time,
	ip_address, user_agent, device_info, department, role`

func scanSession(scan func(dest ...any) error) (domain.Session, error) {
	var s domain.Session
	var logoutTime sql.NullTime

	err := scan(
		&s.ID, &s.UserID, &s.Token, &s.RefreshTokenHash, &s.IsActive,
		&s.ExpiresAt, &s.LoginTime, &s.LastActivity, &logoutTime,
		&s.IPAddress, &s.UserAgent, &s.DeviceInfo, &s.Department, &s.Role,
	)
	if err != nil {
		return domain.Session{}, mapNotFound(err)
	}

	s.LogoutTime = mapNullTimePtr(logoutTime)
	return s, nil
}

func (r *sessionsRepo) CreateSession(ctx context.Context, s domain.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (
			id, user_id, token, refresh_token_hash, is_active,
			expires_at, login_time, last_activity, logout_time,
			ip_address, user_agent, device_info, department, role
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.Token, s.RefreshTokenHash, s.IsActive,
		s.ExpiresAt, s.LoginTime, s.LastActivity, mapOptionalTime(s.LogoutTime),
		s.IPAddress, s.UserAgent, s.DeviceInfo, s.Department, s.Role,
	)
	return err
}

func (r *sessionsRepo) GetSessionByID(ctx context.Context, id string) (domain.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	return scanSession(row.Scan)
}

func (r *sessionsRepo) GetActiveSessionByToken(ctx context.Context, token string, now time.Time) (domain.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE token = ? AND is_active = TRUE AND expires_at > ?`,
		token, now)
	return scanSession(row.Scan)
}

func (r *sessionsRepo) ListActiveSessions(ctx context.Context, userID string, now time.Time) ([]domain.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE user_id = ? AND is_active = TRUE AND expires_at > ?
		 ORDER BY last_activity DESC`,
		userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		s, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// UpdateActivity is a single-column atomic UPDATE on purpose: concurrent
// requests from the same browser session must not conflict or lose writes.
func (r *sessionsRepo) UpdateActivity(ctx context.Context, sessionID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity = ? WHERE id = ?`, at, sessionID)
	return err
}

func (r *sessionsRepo) SetRefreshTokenHash(ctx context.Context, sessionID, hash string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET refresh_token_hash = ? WHERE id = ?`, hash, sessionID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *sessionsRepo) SetAccessToken(ctx context.Context, sessionID, token string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET token = ? WHERE id = ?`, token, sessionID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *sessionsRepo) InvalidateSession(ctx context.Context, sessionID string, at time.Time) error {
	// Filtering on is_active makes re-invalidation a no-op rather than
	// moving logout_time.
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET is_active = FALSE, logout_time = ?
		 WHERE id = ? AND is_active = TRUE`,
		at, sessionID)
	return err
}

func (r *sessionsRepo) InvalidateUserSessions(ctx context.Context, userID, exceptSessionID string, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET is_active = FALSE, logout_time = ?
		 WHERE user_id = ? AND is_active = TRUE AND id != ?`,
		at, userID, exceptSessionID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *sessionsRepo) CleanExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET is_active = FALSE, logout_time = ?
		 WHERE is_active = TRUE AND expires_at <= ?`,
		now, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
