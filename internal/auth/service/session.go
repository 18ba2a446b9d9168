package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/campusgrid/schoolauth/internal/auth/domain"
	"github.com/campusgrid/schoolauth/internal/auth/store"
	"github.com/campusgrid/schoolauth/pkg/cryptox"
	"github.com/campusgrid/schoolauth/pkg/slogx"
)

// SessionManager owns the server-side session lifecycle: creation under the
// concurrent-session cap, refresh-token verification, activity tracking, and
// invalidation.
type SessionManager struct {
	Store store.Store

	Lifetime    time.Duration
	MaxSessions int
}

func (m *SessionManager) lifetime() time.Duration {
	if m.Lifetime > 0 {
		return m.Lifetime
	}
	return domain.DefaultSessionLifetime
}

func (m *SessionManager) maxSessions() int {
	if m.MaxSessions > 0 {
		return m.MaxSessions
	}
	return domain.DefaultMaxSessionsPerUser
}

// Create inserts a new session for the user, evicting the least recently
// active sessions first if the user is at the concurrency cap. The session id
// is an opaque random token, distinct from the access token.
func (m *SessionManager) Create(ctx context.Context, user domain.User, accessToken, refreshHash string, reqCtx domain.RequestContext, now time.Time) (domain.Session, error) {
	if err := m.enforceLimit(ctx, user.ID, now); err != nil {
		return domain.Session{}, err
	}

	id, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return domain.Session{}, err
	}

	s := domain.Session{
		ID:               id,
		UserID:           user.ID,
		Token:            accessToken,
		RefreshTokenHash: refreshHash,
		IsActive:         true,
		ExpiresAt:        now.Add(m.lifetime()),
		LoginTime:        now,
		LastActivity:     now,
		IPAddress:        reqCtx.IPAddress,
		UserAgent:        reqCtx.UserAgent,
		DeviceInfo:       domain.ClassifyDevice(reqCtx.UserAgent),
		Department:       reqCtx.Department,
		Role:             user.Role,
	}

	if err := m.Store.Sessions().CreateSession(ctx, s); err != nil {
		return domain.Session{}, err
	}
	return s, nil
}

// enforceLimit invalidates the oldest active sessions so that after one more
// create the user holds at most maxSessions. Eviction order is by
// last_activity ascending.
func (m *SessionManager) enforceLimit(ctx context.Context, userID string, now time.Time) error {
	active, err := m.Store.Sessions().ListActiveSessions(ctx, userID, now)
	if err != nil {
		return err
	}

	excess := len(active) - m.maxSessions() + 1
	if excess <= 0 {
		return nil
	}

	// ListActiveSessions orders most recent first; evict from the tail.
	for i := len(active) - excess; i < len(active); i++ {
		if err := m.Store.Sessions().InvalidateSession(ctx, active[i].ID, now); err != nil {
			return err
		}
		slogx.FromContext(ctx).Info("session evicted at concurrency cap",
			slog.String("user_id", userID),
			slog.String("session_id", active[i].ID),
		)
	}
	return nil
}

// VerifyRefresh loads the session and checks the presented refresh token
// against the stored fingerprint. Every failure mode collapses to
// ErrInvalidRefresh so a caller cannot tell which part was wrong. The
// sessions repo is a parameter so rotation can run the check against its own
// transaction.
func (m *SessionManager) VerifyRefresh(ctx context.Context, sessions store.Sessions, sessionID, rawRefresh string, now time.Time) (domain.Session, error) {
	if sessionID == "" || rawRefresh == "" {
		return domain.Session{}, ErrInvalidRefresh
	}

	s, err := sessions.GetSessionByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Session{}, ErrInvalidRefresh
		}
		return domain.Session{}, err
	}

	if !s.Usable(now) || s.RefreshTokenHash == "" {
		return domain.Session{}, ErrInvalidRefresh
	}
	if !cryptox.ConstantTimeEquals(cryptox.FingerprintToken(rawRefresh), s.RefreshTokenHash) {
		return domain.Session{}, ErrInvalidRefresh
	}
	return s, nil
}

// FindByAccessToken locates the usable session currently bound to the token.
func (m *SessionManager) FindByAccessToken(ctx context.Context, token string, now time.Time) (domain.Session, error) {
	s, err := m.Store.Sessions().GetActiveSessionByToken(ctx, token, now)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Session{}, ErrInvalidSession
		}
		return domain.Session{}, err
	}
	return s, nil
}

// Touch bumps last_activity. Failures are logged, not surfaced: activity
// tracking must never fail a request that already authenticated.
func (m *SessionManager) Touch(ctx context.Context, sessionID string, now time.Time) {
	if err := m.Store.Sessions().UpdateActivity(ctx, sessionID, now); err != nil {
		slogx.FromContext(ctx).Warn("session activity update failed",
			slog.String("session_id", sessionID),
			slog.Any("error", err),
		)
	}
}

// Invalidate deactivates one session. Idempotent.
func (m *SessionManager) Invalidate(ctx context.Context, sessionID string, now time.Time) error {
	return m.Store.Sessions().InvalidateSession(ctx, sessionID, now)
}

// InvalidateAll deactivates every active session for the user except the one
// named (pass "" to spare none). Returns the count invalidated.
func (m *SessionManager) InvalidateAll(ctx context.Context, userID, exceptSessionID string, now time.Time) (int64, error) {
	return m.Store.Sessions().InvalidateUserSessions(ctx, userID, exceptSessionID, now)
}

// CleanExpired sweeps active sessions past their expiry.
func (m *SessionManager) CleanExpired(ctx context.Context, now time.Time) (int64, error) {
	return m.Store.Sessions().CleanExpiredSessions(ctx, now)
}
