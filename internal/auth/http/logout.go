package http

import (
	"net/http"

	"github.com/campusgrid/schoolauth/internal/auth/service"
	"github.com/campusgrid/schoolauth/pkg/httpx"
	"github.com/campusgrid/schoolauth/pkg/slogx"
)

type LogoutHandler struct {
	Auth    *service.AuthService
	Cookies cookieWriter
}

// ServeHTTP invalidates the current session. Logout is client-state-first:
// cookies are cleared and success returned even when the store update fails.
func (h *LogoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	sess, _ := SessionFromContext(r.Context())

	if err := h.Auth.Logout(r.Context(), user, sess.ID, requestContext(r)); err != nil {
		slogx.FromContext(r.Context()).Error("logout store update failed", "err", err)
	}

	h.Cookies.clearAuthCookies(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Logged out",
	})
}

type LogoutAllHandler struct {
	Auth    *service.AuthService
	Cookies cookieWriter
}

// ServeHTTP invalidates every active session for the caller, the current one
// included, and clears the auth cookies.
func (h *LogoutAllHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeFail(w, http.StatusUnauthorized, "You are not logged in")
		return
	}

	n, err := h.Auth.LogoutAll(r.Context(), user, "", requestContext(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	h.Cookies.clearAuthCookies(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":              "success",
		"message":             "All sessions logged out",
		"sessionsInvalidated": n,
	})
}
