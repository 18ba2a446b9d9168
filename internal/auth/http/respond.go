// Package http contains the HTTP surface of the auth service: handlers, the
// CSRF guard, session middleware, and the router.
package http

import (
	"errors"
	"net/http"

	"github.com/campusgrid/schoolauth/internal/auth/service"
	"github.com/campusgrid/schoolauth/pkg/httpx"
	"github.com/campusgrid/schoolauth/pkg/jwtx"
	"github.com/campusgrid/schoolauth/pkg/slogx"
)

// envelope is the stable error shape: status "fail" for client errors,
// "error" for server errors. No stack traces or internals ever leak through
// message.
type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func writeFail(w http.ResponseWriter, status int, message string) {
	httpx.WriteJSON(w, status, envelope{Status: "fail", Message: message})
}

func writeServerError(w http.ResponseWriter, message string) {
	httpx.WriteJSON(w, http.StatusInternalServerError, envelope{Status: "error", Message: message})
}

// writeServiceError maps service sentinels onto the status taxonomy:
// 400 malformed input, 401 authentication failure, 403 authorization/disabled,
// 404 missing resource, 423 locked, 500 everything else.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var pv *service.PolicyViolationError

	switch {
	case errors.As(err, &pv):
		writeFail(w, http.StatusBadRequest, pv.Error())
	case errors.Is(err, service.ErrPasswordReused):
		writeFail(w, http.StatusBadRequest, "Password was used recently, choose a different one")
	case errors.Is(err, service.ErrUserExists):
		writeFail(w, http.StatusBadRequest, "Username or email is already registered")
	case errors.Is(err, service.ErrInvalidRole):
		writeFail(w, http.StatusBadRequest, "Unknown role")
	case errors.Is(err, service.ErrRoleNotAllowed):
		writeFail(w, http.StatusBadRequest, "This role cannot be self-assigned")
	case errors.Is(err, service.ErrPasswordAlreadySet):
		writeFail(w, http.StatusBadRequest, "Password has already been set for this account")
	case errors.Is(err, service.ErrResetTokenInvalid):
		writeFail(w, http.StatusBadRequest, "Token is invalid or has expired")

	case errors.Is(err, service.ErrInvalidCredentials):
		writeFail(w, http.StatusUnauthorized, "Incorrect username or password")
	case errors.Is(err, service.ErrInvalidRefresh):
		writeFail(w, http.StatusUnauthorized, "Invalid or expired session")
	case errors.Is(err, service.ErrInvalidSession):
		writeFail(w, http.StatusUnauthorized, "Invalid or expired session")
	case errors.Is(err, service.ErrWrongTokenScope):
		writeFail(w, http.StatusUnauthorized, "Token is not valid for this operation")
	case isTokenError(err):
		writeFail(w, http.StatusUnauthorized, "Invalid or expired token")

	case errors.Is(err, service.ErrAccountDisabled):
		writeFail(w, http.StatusForbidden, "Your account has been deactivated")

	case errors.Is(err, service.ErrUserNotFound):
		writeFail(w, http.StatusNotFound, "User not found")

	case errors.Is(err, service.ErrAccountLocked):
		writeFail(w, http.StatusLocked, "Account locked due to too many failed login attempts, try again later")

	default:
		slogx.FromContext(r.Context()).Error("request failed", "err", err)
		writeServerError(w, "Something went wrong")
	}
}

// authResponse is the bundle-issuing success shape: access token in the body
// (the client attaches it as a bearer header), user projection under data,
// refresh/sid/csrf delivered as cookies alongside.
type authResponse struct {
	Status    string `json:"status"`
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"`
	Data      struct {
		User any `json:"user"`
	} `json:"data"`
}

func writeAuthSuccess(w http.ResponseWriter, cookies cookieWriter, status int, result *service.LoginResult) {
	cookies.setAuthCookies(w, result.Bundle)

	resp := authResponse{
		Status:    "success",
		Token:     result.Bundle.AccessToken,
		ExpiresIn: result.Bundle.ExpiresIn,
	}
	resp.Data.User = result.User.Public()
	httpx.WriteJSON(w, status, resp)
}

func isTokenError(err error) bool {
	return errors.Is(err, jwtx.ErrMalformed) ||
		errors.Is(err, jwtx.ErrAlgMismatch) ||
		errors.Is(err, jwtx.ErrInvalidSig) ||
		errors.Is(err, jwtx.ErrIssuer) ||
		errors.Is(err, jwtx.ErrExpired) ||
		errors.Is(err, jwtx.ErrNotYetValid) ||
		errors.Is(err, jwtx.ErrScope)
}
