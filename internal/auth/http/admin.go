package http

import (
	"net/http"

	"github.com/campusgrid/schoolauth/internal/auth/service"
	"github.com/campusgrid/schoolauth/pkg/httpx"
)

type FirstPasswordTokenHandler struct {
	Auth *service.AuthService
}

// ServeHTTP regenerates a first-login token for an account that lost its
// original one. Admin-only; the target drops back into the
// must-change-password state and loses its sessions.
func (h *FirstPasswordTokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	if userID == "" {
		writeFail(w, http.StatusBadRequest, "User id is required")
		return
	}

	token, err := h.Auth.IssueFirstPasswordToken(r.Context(), userID, requestContext(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"status":          "success",
		"firstLoginToken": token,
	})
}
