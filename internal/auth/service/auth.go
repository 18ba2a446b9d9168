package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/campusgrid/schoolauth/internal/auth/domain"
	"github.com/campusgrid/schoolauth/internal/auth/obs"
	"github.com/campusgrid/schoolauth/internal/auth/store"
	"github.com/campusgrid/schoolauth/pkg/cryptox"
	"github.com/campusgrid/schoolauth/pkg/idx"
	"github.com/campusgrid/schoolauth/pkg/jwtx"
	"github.com/campusgrid/schoolauth/pkg/slogx"
)

// DefaultResetTokenTTL bounds emailed password-reset tokens.
const DefaultResetTokenTTL = 10 * time.Minute

// FailureMirror mirrors login failures into a shared cache so sibling
// instances see lockout pressure early. It is advisory only: implementations
// must swallow their own errors, and the store-backed counters stay the
// source of truth.
type FailureMirror interface {
	RecordFailure(ctx context.Context, username string, at time.Time)
	Clear(ctx context.Context, username string)
}

// TokenBundle is the full credential set issued on a successful login,
// signup, first-password completion, or refresh. The HTTP layer splits it
// across the JSON body and cookies.
type TokenBundle struct {
	AccessToken  string
	RefreshToken string
	CSRFToken    string
	ExpiresIn    int64 // access token lifetime in seconds

	// Session may be the zero value if persistence degraded; in that case
	// RefreshToken is empty too and the client holds a stateless login.
	Session domain.Session
}

// LoginResult is the outcome of a successful authentication. Exactly one of
// Bundle or FirstLoginToken is set: accounts that must still choose a
// password get the restricted token instead of a session.
type LoginResult struct {
	User                   domain.User
	PasswordChangeRequired bool
	FirstLoginToken        string
	Bundle                 *TokenBundle
}

// SignupInput is the self-registration payload.
type SignupInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	Phone     string
	Role      domain.Role
}

// AuthService is the façade the HTTP layer drives: login and lockout,
// token issuance and rotation, logout, and password management.
type AuthService struct {
	Store    store.Store
	Sessions *SessionManager
	Tokens   *TokenIssuer
	Policy   *PolicyEngine
	Audit    *Auditor
	Mailer   Mailer

	// Mirror is optional; nil disables failure mirroring.
	Mirror FailureMirror

	ResetTokenTTL time.Duration
}

// dummyHash is verified against when the username does not exist, so the
// response time does not reveal which usernames are registered.
var dummyHash = sync.OnceValue(func() string {
	h, err := cryptox.HashPassword("timing-equalizer")
	if err != nil {
		return ""
	}
	return h
})

// Login runs the credential state machine. The lock check happens before the
// password compare: a locked account answers 423 regardless of the password,
// trading a little disclosure for not burning argon2 work on locked targets.
func (s *AuthService) Login(ctx context.Context, username, password string, reqCtx domain.RequestContext) (*LoginResult, error) {
	l := slogx.FromContext(ctx)
	now := time.Now().UTC()

	user, err := s.Store.Users().GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = cryptox.VerifyPassword(password, dummyHash())
			s.Audit.Record(ctx, domain.AuditFailedLogin, "", username, "unknown username", reqCtx)
			obs.FailedLoginsTotal.WithLabelValues("bad_credentials").Inc()
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if user.Lock.IsLocked(now) {
		s.Audit.Record(ctx, domain.AuditFailedLogin, user.ID, user.Username, "account locked", reqCtx)
		obs.FailedLoginsTotal.WithLabelValues("locked").Inc()
		return nil, ErrAccountLocked
	}

	if err := cryptox.VerifyPassword(password, user.PasswordHash); err != nil {
		if !errors.Is(err, cryptox.ErrPasswordMismatch) {
			return nil, err
		}
		return nil, s.recordFailedPassword(ctx, user, reqCtx, now)
	}

	// Checked after the password so a disabled account is indistinguishable
	// from a live one until the caller proves they hold the credential.
	if !user.IsActive {
		s.Audit.Record(ctx, domain.AuditFailedLogin, user.ID, user.Username, "account disabled", reqCtx)
		obs.FailedLoginsTotal.WithLabelValues("disabled").Inc()
		return nil, ErrAccountDisabled
	}

	if user.Lock.Attempts > 0 || user.Lock.LockUntil != nil {
		if err := s.Store.Users().UpdateLockState(ctx, user.ID, user.Lock.RecordSuccess()); err != nil {
			l.Warn("lock state reset failed", slog.String("user_id", user.ID), slog.Any("error", err))
		}
	}
	if s.Mirror != nil {
		s.Mirror.Clear(ctx, user.Username)
	}
	if err := s.Store.Users().UpdateLastLogin(ctx, user.ID, now); err != nil {
		l.Warn("last_login update failed", slog.String("user_id", user.ID), slog.Any("error", err))
	}

	// Re-fetch so the returned record reflects the resets above.
	user, err = s.Store.Users().GetUserByID(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	if user.MustChangePassword {
		token, err := s.Tokens.FirstLoginToken(user.ID, now)
		if err != nil {
			return nil, err
		}
		s.Audit.Record(ctx, domain.AuditLogin, user.ID, user.Username, "password change required", reqCtx)
		obs.LoginsTotal.Inc()
		return &LoginResult{
			User:                   user,
			PasswordChangeRequired: true,
			FirstLoginToken:        token,
		}, nil
	}

	bundle, err := s.issueBundle(ctx, user, reqCtx, now)
	if err != nil {
		return nil, err
	}
	s.Audit.Record(ctx, domain.AuditLogin, user.ID, user.Username, "", reqCtx)
	obs.LoginsTotal.Inc()
	return &LoginResult{User: user, Bundle: bundle}, nil
}

// recordFailedPassword advances the lockout state for a wrong password and
// returns the error the caller should surface.
func (s *AuthService) recordFailedPassword(ctx context.Context, user domain.User, reqCtx domain.RequestContext, now time.Time) error {
	l := slogx.FromContext(ctx)

	lock := user.Lock.RecordFailure(now)
	if err := s.Store.Users().UpdateLockState(ctx, user.ID, lock); err != nil {
		// The attempt still fails; only the counter is lost.
		l.Error("lock state update failed", slog.String("user_id", user.ID), slog.Any("error", err))
	}
	if s.Mirror != nil {
		s.Mirror.RecordFailure(ctx, user.Username, now)
	}

	if lock.IsLocked(now) {
		s.Audit.Record(ctx, domain.AuditFailedLogin, user.ID, user.Username, "account locked after repeated failures", reqCtx)
		obs.FailedLoginsTotal.WithLabelValues("locked").Inc()
		obs.LockoutsTotal.Inc()
		l.Info("account locked",
			slog.String("user_id", user.ID),
			slog.Int("attempts", lock.Attempts),
		)
		return ErrAccountLocked
	}

	s.Audit.Record(ctx, domain.AuditFailedLogin, user.ID, user.Username, "wrong password", reqCtx)
	obs.FailedLoginsTotal.WithLabelValues("bad_credentials").Inc()
	return ErrInvalidCredentials
}

// issueBundle mints the full credential set and persists the session. Session
// persistence failure degrades rather than failing the login: the client gets
// a stateless access token and no refresh capability.
func (s *AuthService) issueBundle(ctx context.Context, user domain.User, reqCtx domain.RequestContext, now time.Time) (*TokenBundle, error) {
	access, err := s.Tokens.AccessToken(user.ID, now)
	if err != nil {
		return nil, err
	}
	rawRefresh, refreshHash, err := s.Tokens.RefreshToken()
	if err != nil {
		return nil, err
	}
	csrf, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return nil, err
	}

	bundle := &TokenBundle{
		AccessToken:  access,
		RefreshToken: rawRefresh,
		CSRFToken:    csrf,
		ExpiresIn:    int64(s.Tokens.accessTTL().Seconds()),
	}

	sess, err := s.Sessions.Create(ctx, user, access, refreshHash, reqCtx, now)
	if err != nil {
		slogx.FromContext(ctx).Error("session persistence failed, issuing tokens without session",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
		bundle.RefreshToken = ""
		return bundle, nil
	}

	bundle.Session = sess
	return bundle, nil
}

// Signup registers a new account with a self-chosen password and logs it in.
func (s *AuthService) Signup(ctx context.Context, in SignupInput, reqCtx domain.RequestContext) (*LoginResult, error) {
	now := time.Now().UTC()

	role := in.Role
	if role == "" {
		role = domain.RoleStudent
	}
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	// Signup is unauthenticated; privileged roles come from provisioning, not
	// self-registration.
	if role == domain.RoleAdmin || role == domain.RoleSuperAdmin {
		return nil, ErrRoleNotAllowed
	}

	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.Username == "" || in.Email == "" {
		return nil, fmt.Errorf("%w: username and email are required", ErrInvalidCredentials)
	}

	policy, err := s.Policy.PolicyFor(ctx, role)
	if err != nil {
		return nil, err
	}
	info := PersonalInfo{
		Username:  in.Username,
		Email:     in.Email,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Phone:     in.Phone,
	}
	if err := s.Policy.Validate(in.Password, policy, info); err != nil {
		return nil, err
	}

	hash, err := cryptox.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	user := domain.User{
		ID:                idx.New().String(),
		Username:          in.Username,
		Email:             in.Email,
		FirstName:         in.FirstName,
		LastName:          in.LastName,
		Phone:             in.Phone,
		Role:              role,
		PasswordHash:      hash,
		PasswordChangedAt: now,
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.Store.Users().CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, ErrUserExists
		}
		return nil, err
	}

	s.Audit.Record(ctx, domain.AuditSignup, user.ID, user.Username, "", reqCtx)

	bundle, err := s.issueBundle(ctx, user, reqCtx, now)
	if err != nil {
		return nil, err
	}
	obs.LoginsTotal.Inc()
	return &LoginResult{User: user, Bundle: bundle}, nil
}

// Refresh rotates the session's credentials. Verification and rotation run in
// one transaction so a replayed old token cannot race the rotation. Every
// denial is ErrInvalidRefresh; callers learn nothing about which check failed.
func (s *AuthService) Refresh(ctx context.Context, sessionID, rawRefresh string, reqCtx domain.RequestContext) (*TokenBundle, domain.User, error) {
	now := time.Now().UTC()

	if sessionID == "" || rawRefresh == "" {
		return nil, domain.User{}, ErrInvalidRefresh
	}

	var (
		user   domain.User
		bundle *TokenBundle
	)

	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		sess, err := s.Sessions.VerifyRefresh(ctx, tx.Sessions(), sessionID, rawRefresh, now)
		if err != nil {
			return err
		}

		user, err = tx.Users().GetUserByID(ctx, sess.UserID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvalidRefresh
			}
			return err
		}
		if !user.IsActive {
			return ErrAccountDisabled
		}

		access, err := s.Tokens.AccessToken(user.ID, now)
		if err != nil {
			return err
		}
		newRaw, newHash, err := s.Tokens.RefreshToken()
		if err != nil {
			return err
		}
		csrf, err := cryptox.GenerateToken(cryptox.TokenSize128)
		if err != nil {
			return err
		}

		if err := tx.Sessions().SetAccessToken(ctx, sess.ID, access); err != nil {
			return err
		}
		if err := tx.Sessions().SetRefreshTokenHash(ctx, sess.ID, newHash); err != nil {
			return err
		}
		if err := tx.Sessions().UpdateActivity(ctx, sess.ID, now); err != nil {
			return err
		}

		sess.Token = access
		sess.RefreshTokenHash = newHash
		sess.LastActivity = now

		bundle = &TokenBundle{
			AccessToken:  access,
			RefreshToken: newRaw,
			CSRFToken:    csrf,
			ExpiresIn:    int64(s.Tokens.accessTTL().Seconds()),
			Session:      sess,
		}
		return nil
	})
	if err != nil {
		return nil, domain.User{}, err
	}

	obs.RefreshRotationsTotal.Inc()
	return bundle, user, nil
}

// ValidateAccess authenticates a bearer token and resolves its session. A
// valid unexpired access token whose session row has vanished gets a fresh
// session created on the fly: the signed token is the authority.
func (s *AuthService) ValidateAccess(ctx context.Context, token string, reqCtx domain.RequestContext) (domain.User, domain.Session, error) {
	now := time.Now().UTC()

	claims, err := s.Tokens.Signer.Verify(token)
	if err != nil {
		return domain.User{}, domain.Session{}, err
	}
	if err := claims.ValidateScope(jwtx.ScopeAccess); err != nil {
		return domain.User{}, domain.Session{}, ErrWrongTokenScope
	}

	user, err := s.Store.Users().GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, domain.Session{}, ErrInvalidSession
		}
		return domain.User{}, domain.Session{}, err
	}
	if !user.IsActive {
		return domain.User{}, domain.Session{}, ErrAccountDisabled
	}

	// Tokens minted before the last password change are dead regardless of
	// their expiry. iat carries second granularity, so the comparison
	// truncates to avoid rejecting the bundle issued by the change itself.
	if claims.IssuedAt == nil ||
		claims.IssuedAt.Time.Before(user.PasswordChangedAt.Truncate(time.Second)) {
		return domain.User{}, domain.Session{}, ErrInvalidSession
	}

	sess, err := s.Sessions.FindByAccessToken(ctx, token, now)
	if err != nil {
		if !errors.Is(err, ErrInvalidSession) {
			return domain.User{}, domain.Session{}, err
		}
		// Recreation is held to the strict comparison: a password change
		// invalidates every session, and a token that cannot prove it was
		// minted after the change must not resurrect one.
		if !claims.IssuedAt.Time.After(user.PasswordChangedAt) {
			return domain.User{}, domain.Session{}, ErrInvalidSession
		}
		// Recreate without refresh capability; the client refreshes by
		// logging in again.
		sess, err = s.Sessions.Create(ctx, user, token, "", reqCtx, now)
		if err != nil {
			return domain.User{}, domain.Session{}, ErrInvalidSession
		}
		slogx.FromContext(ctx).Info("session recreated from valid access token",
			slog.String("user_id", user.ID),
			slog.String("session_id", sess.ID),
		)
	}

	return user, sess, nil
}

// Logout invalidates the session. Idempotent: logging out an already-dead
// session succeeds.
func (s *AuthService) Logout(ctx context.Context, user domain.User, sessionID string, reqCtx domain.RequestContext) error {
	now := time.Now().UTC()

	if sessionID != "" {
		if err := s.Sessions.Invalidate(ctx, sessionID, now); err != nil {
			return err
		}
		obs.SessionsInvalidatedTotal.WithLabelValues("logout").Inc()
	}
	s.Audit.Record(ctx, domain.AuditLogout, user.ID, user.Username, "", reqCtx)
	return nil
}

// LogoutAll invalidates every active session for the user. exceptSessionID
// spares one for internal callers that need it; the logout-all endpoint
// passes "" so the caller's own session dies with the rest. Returns the count.
func (s *AuthService) LogoutAll(ctx context.Context, user domain.User, exceptSessionID string, reqCtx domain.RequestContext) (int64, error) {
	now := time.Now().UTC()

	n, err := s.Sessions.InvalidateAll(ctx, user.ID, exceptSessionID, now)
	if err != nil {
		return 0, err
	}
	obs.SessionsInvalidatedTotal.WithLabelValues("logout_all").Add(float64(n))
	s.Audit.Record(ctx, domain.AuditLogoutAll, user.ID, user.Username, fmt.Sprintf("%d sessions", n), reqCtx)
	return n, nil
}

// FirstPassword completes the first-login flow: a token scoped to
// first_password plus a policy-passing password yields the account's first
// real credential bundle.
func (s *AuthService) FirstPassword(ctx context.Context, token, newPassword string, reqCtx domain.RequestContext) (*LoginResult, error) {
	now := time.Now().UTC()

	claims, err := s.Tokens.Signer.Verify(token)
	if err != nil {
		return nil, err
	}
	if err := claims.ValidateScope(jwtx.ScopeFirstPassword); err != nil {
		return nil, ErrWrongTokenScope
	}

	user, err := s.Store.Users().GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}
	if !user.MustChangePassword {
		return nil, ErrPasswordAlreadySet
	}
	if !user.IsActive {
		return nil, ErrAccountDisabled
	}

	if err := s.setPassword(ctx, user, newPassword, now); err != nil {
		return nil, err
	}

	user, err = s.Store.Users().GetUserByID(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	s.Audit.Record(ctx, domain.AuditFirstPasswordSet, user.ID, user.Username, "", reqCtx)

	bundle, err := s.issueBundle(ctx, user, reqCtx, now)
	if err != nil {
		return nil, err
	}
	obs.LoginsTotal.Inc()
	return &LoginResult{User: user, Bundle: bundle}, nil
}

// ChangePassword is the authenticated flow: the caller proves the current
// password and the new one passes policy and history. Every existing session
// is invalidated and a fresh bundle issued, so a password change behaves like
// a new login.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string, reqCtx domain.RequestContext) (*LoginResult, error) {
	now := time.Now().UTC()

	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	if err := cryptox.VerifyPassword(currentPassword, user.PasswordHash); err != nil {
		if errors.Is(err, cryptox.ErrPasswordMismatch) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := s.setPassword(ctx, user, newPassword, now); err != nil {
		return nil, err
	}

	n, err := s.Sessions.InvalidateAll(ctx, user.ID, "", now)
	if err != nil {
		return nil, err
	}
	obs.SessionsInvalidatedTotal.WithLabelValues("password_change").Add(float64(n))
	s.Audit.Record(ctx, domain.AuditPasswordChanged, user.ID, user.Username, "", reqCtx)

	user, err = s.Store.Users().GetUserByID(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	bundle, err := s.issueBundle(ctx, user, reqCtx, now)
	if err != nil {
		return nil, err
	}
	return &LoginResult{User: user, Bundle: bundle}, nil
}

// ForgotPassword issues an emailed reset token. It deliberately gives the
// caller no signal about whether the email is registered: unknown addresses,
// disabled accounts, and delivery failures all return success.
func (s *AuthService) ForgotPassword(ctx context.Context, email string, reqCtx domain.RequestContext) error {
	l := slogx.FromContext(ctx)
	now := time.Now().UTC()

	user, err := s.Store.Users().GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			l.Info("forgot-password for unknown email")
			return nil
		}
		return err
	}
	if !user.IsActive {
		return nil
	}

	raw, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return err
	}
	expires := now.Add(s.resetTokenTTL())

	if err := s.Store.Users().SetResetToken(ctx, user.ID, cryptox.FingerprintToken(raw), expires); err != nil {
		return err
	}

	if err := s.Mailer.SendPasswordReset(ctx, user.Email, user.FirstName, raw, expires); err != nil {
		// The stored token is harmless; it expires on its own.
		l.Error("password reset email failed", slog.String("user_id", user.ID), slog.Any("error", err))
	}
	return nil
}

// ResetPassword redeems an emailed token and issues a fresh bundle. The token
// is single-use: the password update clears it.
func (s *AuthService) ResetPassword(ctx context.Context, rawToken, newPassword string, reqCtx domain.RequestContext) (*LoginResult, error) {
	now := time.Now().UTC()

	user, err := s.Store.Users().GetUserByResetTokenHash(ctx, cryptox.FingerprintToken(rawToken), now)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrResetTokenInvalid
		}
		return nil, err
	}

	if err := s.setPassword(ctx, user, newPassword, now); err != nil {
		return nil, err
	}

	n, err := s.Sessions.InvalidateAll(ctx, user.ID, "", now)
	if err != nil {
		return nil, err
	}
	obs.SessionsInvalidatedTotal.WithLabelValues("password_change").Add(float64(n))
	s.Audit.Record(ctx, domain.AuditPasswordReset, user.ID, user.Username, "", reqCtx)

	user, err = s.Store.Users().GetUserByID(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	bundle, err := s.issueBundle(ctx, user, reqCtx, now)
	if err != nil {
		return nil, err
	}
	return &LoginResult{User: user, Bundle: bundle}, nil
}

// IssueFirstPasswordToken is the admin operation that (re)issues a first-login
// token for an account, forcing it back into the must-change-password state
// and dropping its sessions.
func (s *AuthService) IssueFirstPasswordToken(ctx context.Context, userID string, reqCtx domain.RequestContext) (string, error) {
	now := time.Now().UTC()

	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrUserNotFound
		}
		return "", err
	}

	if err := s.Store.Users().SetMustChangePassword(ctx, user.ID, true); err != nil {
		return "", err
	}
	n, err := s.Sessions.InvalidateAll(ctx, user.ID, "", now)
	if err != nil {
		return "", err
	}
	obs.SessionsInvalidatedTotal.WithLabelValues("evicted").Add(float64(n))
	s.Audit.Record(ctx, domain.AuditSessionInvalidated, user.ID, user.Username, "first-password token issued", reqCtx)

	return s.Tokens.FirstLoginToken(user.ID, now)
}

// setPassword validates the candidate against policy and history, then
// atomically pushes the old hash into history and persists the new one.
func (s *AuthService) setPassword(ctx context.Context, user domain.User, newPassword string, now time.Time) error {
	policy, err := s.Policy.PolicyFor(ctx, user.Role)
	if err != nil {
		return err
	}
	info := PersonalInfo{
		Username:  user.Username,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Phone:     user.Phone,
	}
	if err := s.Policy.Validate(newPassword, policy, info); err != nil {
		return err
	}

	depth := policy.HistoryDepth
	if depth <= 0 {
		depth = domain.PasswordHistoryDepth
	}
	if err := s.Policy.CheckHistory(ctx, s.Store.Users(), user, newPassword, depth); err != nil {
		return err
	}

	newHash, err := cryptox.HashPassword(newPassword)
	if err != nil {
		return err
	}

	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().PushPasswordHistory(ctx, user.ID, user.PasswordHash, depth); err != nil {
			return err
		}
		return tx.Users().UpdatePassword(ctx, user.ID, newHash, now)
	})
}

func (s *AuthService) resetTokenTTL() time.Duration {
	if s.ResetTokenTTL > 0 {
		return s.ResetTokenTTL
	}
	return DefaultResetTokenTTL
}
