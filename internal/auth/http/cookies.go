package http

import (
	"net/http"
	"time"

	"github.com/campusgrid/schoolauth/internal/auth/domain"
	"github.com/campusgrid/schoolauth/internal/auth/service"
)

// Cookie names. refreshToken and sid are the store-backed revocable handles;
// csrfToken is deliberately readable by same-origin JavaScript so it can be
// echoed in the x-csrf-token header. jwt is a legacy cookie some old clients
// still hold; it is only ever cleared.
const (
	cookieRefresh = "refreshToken"
	cookieSession = "sid"
	cookieCSRF    = "csrfToken"
	cookieLegacy  = "jwt"

	headerCSRF = "x-csrf-token"

	// apiCookiePath scopes the auth cookies to the API.
	apiCookiePath = "/v1"
)

// cookieWriter centralizes cookie issuance so every bootstrap endpoint sets
// exactly the same attributes. Secure is off only in local development.
type cookieWriter struct {
	secure   bool
	lifetime time.Duration
}

func (c cookieWriter) maxAge() int {
	lifetime := c.lifetime
	if lifetime <= 0 {
		lifetime = domain.DefaultSessionLifetime
	}
	return int(lifetime.Seconds())
}

// setAuthCookies writes the cookies for a freshly issued bundle. When session
// persistence degraded (no refresh token) only the CSRF cookie is set; the
// client holds a stateless login.
func (c cookieWriter) setAuthCookies(w http.ResponseWriter, bundle *service.TokenBundle) {
	if bundle.RefreshToken != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     cookieRefresh,
			Value:    bundle.RefreshToken,
			Path:     apiCookiePath,
			MaxAge:   c.maxAge(),
			HttpOnly: true,
			Secure:   c.secure,
			SameSite: http.SameSiteStrictMode,
		})
		http.SetCookie(w, &http.Cookie{
			Name:     cookieSession,
			Value:    bundle.Session.ID,
			Path:     apiCookiePath,
			MaxAge:   c.maxAge(),
			HttpOnly: true,
			Secure:   c.secure,
			SameSite: http.SameSiteStrictMode,
		})
	}

	// Readable on purpose: the double-submit check needs the client to echo
	// this value in a header.
	http.SetCookie(w, &http.Cookie{
		Name:     cookieCSRF,
		Value:    bundle.CSRFToken,
		Path:     "/",
		MaxAge:   c.maxAge(),
		Secure:   c.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// clearAuthCookies overwrites every auth cookie with a short-lived sentinel
// value. Logout is client-state-first: these are written even when the store
// update failed.
func (c cookieWriter) clearAuthCookies(w http.ResponseWriter) {
	expires := time.Now().Add(10 * time.Second)

	for _, name := range []string{cookieRefresh, cookieSession} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "loggedout",
			Path:     apiCookiePath,
			Expires:  expires,
			HttpOnly: true,
			Secure:   c.secure,
			SameSite: http.SameSiteStrictMode,
		})
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieCSRF,
		Value:    "loggedout",
		Path:     "/",
		Expires:  expires,
		Secure:   c.secure,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     cookieLegacy,
		Value:    "loggedout",
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteStrictMode,
	})
}
