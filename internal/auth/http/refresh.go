package http

import (
	"net/http"

	"github.com/campusgrid/schoolauth/internal/auth/service"
)

type RefreshHandler struct {
	Auth    *service.AuthService
	Cookies cookieWriter
}

// ServeHTTP rotates a session's credentials. Both the refreshToken and sid
// cookies must be present together; either missing is an immediate 401.
func (h *RefreshHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	refreshCookie, err := r.Cookie(cookieRefresh)
	if err != nil {
		writeFail(w, http.StatusUnauthorized, "Invalid or expired session")
		return
	}
	sidCookie, err := r.Cookie(cookieSession)
	if err != nil {
		writeFail(w, http.StatusUnauthorized, "Invalid or expired session")
		return
	}

	bundle, user, err := h.Auth.Refresh(r.Context(), sidCookie.Value, refreshCookie.Value, requestContext(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeAuthSuccess(w, h.Cookies, http.StatusOK, &service.LoginResult{User: user, Bundle: bundle})
}
