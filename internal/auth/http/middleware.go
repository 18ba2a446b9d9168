package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/campusgrid/schoolauth/internal/auth/domain"
	"github.com/campusgrid/schoolauth/internal/auth/obs"
	"github.com/campusgrid/schoolauth/internal/auth/service"
	"github.com/campusgrid/schoolauth/pkg/cryptox"
	"github.com/campusgrid/schoolauth/pkg/httpx"
)

// csrfExemptPaths are the bootstrap endpoints a first-contact client hits
// before any CSRF cookie can exist.
var csrfExemptPaths = map[string]struct{}{
	"/v1/auth/login":           {},
	"/v1/auth/signup":          {},
	"/v1/auth/refresh":         {},
	"/v1/auth/first-password":  {},
	"/v1/auth/forgot-password": {},
}

func csrfExempt(path string) bool {
	if _, ok := csrfExemptPaths[path]; ok {
		return true
	}
	// The emailed-token reset carries its token in the path.
	return strings.HasPrefix(path, "/v1/auth/reset-password/")
}

// CSRFGuard enforces the double-submit check on mutating requests: the
// csrfToken cookie and the x-csrf-token header must both be present and
// byte-equal. It only ever verifies; issuance happens on the bootstrap
// endpoints.
func CSRFGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
			next.ServeHTTP(w, r)
			return
		}
		if csrfExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(cookieCSRF)
		header := r.Header.Get(headerCSRF)
		if err != nil || header == "" || !cryptox.ConstantTimeEquals(cookie.Value, header) {
			obs.CSRFRejectionsTotal.Inc()
			writeFail(w, http.StatusForbidden, "CSRF token missing or invalid")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the Authorization bearer credential, "" when absent.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return ""
}

// Protect authenticates the bearer token, resolves (or recreates) its
// session, and places both on the request context. 401 on any failure.
func Protect(auth *service.AuthService) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeFail(w, http.StatusUnauthorized, "You are not logged in")
				return
			}

			user, sess, err := auth.ValidateAccess(r.Context(), token, requestContext(r))
			if err != nil {
				writeServiceError(w, r, err)
				return
			}

			ctx := withUser(r.Context(), user)
			ctx = withSession(ctx, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UpdateSessionActivity bumps last_activity for the resolved session. It runs
// after Protect and never fails the request.
func UpdateSessionActivity(auth *service.AuthService) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sess, ok := SessionFromContext(r.Context()); ok {
				auth.Sessions.Touch(r.Context(), sess.ID, time.Now().UTC())
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RestrictTo allows only the listed roles. No bypass: super_admin must be
// listed explicitly.
func RestrictTo(roles ...domain.Role) httpx.Middleware {
	return restrict(roles, false)
}

// RestrictToEnhanced allows the listed roles plus super_admin, which bypasses
// the check entirely.
func RestrictToEnhanced(roles ...domain.Role) httpx.Middleware {
	return restrict(roles, true)
}

func restrict(roles []domain.Role, superAdminBypass bool) httpx.Middleware {
	allowed := make(map[domain.Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFromContext(r.Context())
			if !ok {
				writeFail(w, http.StatusUnauthorized, "You are not logged in")
				return
			}
			if superAdminBypass && user.Role == domain.RoleSuperAdmin {
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := allowed[user.Role]; !ok {
				writeFail(w, http.StatusForbidden, "You do not have permission to perform this action")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CheckPermission requires a single capability from the role table.
func CheckPermission(perm domain.Permission) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFromContext(r.Context())
			if !ok {
				writeFail(w, http.StatusUnauthorized, "You are not logged in")
				return
			}
			if !user.Role.HasPermission(perm) {
				writeFail(w, http.StatusForbidden, "You do not have permission to perform this action")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CheckAnyPermission requires at least one of the listed capabilities.
func CheckAnyPermission(perms ...domain.Permission) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFromContext(r.Context())
			if !ok {
				writeFail(w, http.StatusUnauthorized, "You are not logged in")
				return
			}
			if !user.Role.HasAnyPermission(perms...) {
				writeFail(w, http.StatusForbidden, "You do not have permission to perform this action")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestContext snapshots the client context for session creation and audit.
func requestContext(r *http.Request) domain.RequestContext {
	return domain.RequestContext{
		IPAddress:  clientIP(r),
		UserAgent:  r.UserAgent(),
		Department: r.Header.Get("X-Department"),
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if rip := r.Header.Get("X-Real-IP"); rip != "" {
		return rip
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i > 0 {
		return host[:i]
	}
	return host
}
