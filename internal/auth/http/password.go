package http

import (
	"encoding/json"
	"net/http"

	"github.com/campusgrid/schoolauth/internal/auth/service"
	"github.com/campusgrid/schoolauth/pkg/httpx"
)

type FirstPasswordHandler struct {
	Auth    *service.AuthService
	Cookies cookieWriter
}

type firstPasswordRequest struct {
	Password string `json:"password"`
}

// ServeHTTP completes the first-login flow. The bearer token must carry the
// first_password scope; a normal access token is rejected here.
func (h *FirstPasswordHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeFail(w, http.StatusUnauthorized, "You are not logged in")
		return
	}

	var req firstPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Password == "" {
		writeFail(w, http.StatusBadRequest, "Password is required")
		return
	}

	result, err := h.Auth.FirstPassword(r.Context(), token, req.Password, requestContext(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeAuthSuccess(w, h.Cookies, http.StatusOK, result)
}

type ForgotPasswordHandler struct {
	Auth *service.AuthService
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// ServeHTTP issues an emailed reset token. The response is identical whether
// or not the email is registered.
func (h *ForgotPasswordHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeFail(w, http.StatusBadRequest, "Email is required")
		return
	}

	if err := h.Auth.ForgotPassword(r.Context(), req.Email, requestContext(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "If that email is registered, a reset link has been sent",
	})
}

type ResetPasswordHandler struct {
	Auth    *service.AuthService
	Cookies cookieWriter
}

type resetPasswordRequest struct {
	Password string `json:"password"`
}

// ServeHTTP redeems an emailed reset token carried in the path.
func (h *ResetPasswordHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	if token == "" {
		writeFail(w, http.StatusBadRequest, "Reset token is required")
		return
	}

	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Password == "" {
		writeFail(w, http.StatusBadRequest, "Password is required")
		return
	}

	result, err := h.Auth.ResetPassword(r.Context(), token, req.Password, requestContext(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeAuthSuccess(w, h.Cookies, http.StatusOK, result)
}

type UpdatePasswordHandler struct {
	Auth    *service.AuthService
	Cookies cookieWriter
}

type updatePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// ServeHTTP is the authenticated password change. A successful change drops
// every existing session and behaves like a fresh login.
func (h *UpdatePasswordHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeFail(w, http.StatusUnauthorized, "You are not logged in")
		return
	}

	var req updatePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeFail(w, http.StatusBadRequest, "Current and new password are required")
		return
	}

	result, err := h.Auth.ChangePassword(r.Context(), user.ID, req.CurrentPassword, req.NewPassword, requestContext(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeAuthSuccess(w, h.Cookies, http.StatusOK, result)
}
