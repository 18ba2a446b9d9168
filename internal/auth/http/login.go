package http

import (
	"encoding/json"
	"net/http"

	"github.com/campusgrid/schoolauth/internal/auth/service"
	"github.com/campusgrid/schoolauth/pkg/httpx"
)

type LoginHandler struct {
	Auth    *service.AuthService
	Cookies cookieWriter
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// firstLoginResponse is the distinct shape for accounts that must still set a
// password: a scoped token, no session, no cookies.
type firstLoginResponse struct {
	Status          string `json:"status"`
	Message         string `json:"message"`
	FirstLoginToken string `json:"firstLoginToken"`
	Data            struct {
		User any `json:"user"`
	} `json:"data"`
}

func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeFail(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	result, err := h.Auth.Login(r.Context(), req.Username, req.Password, requestContext(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if result.PasswordChangeRequired {
		resp := firstLoginResponse{
			Status:          "password_change_required",
			Message:         "You must set a new password before continuing",
			FirstLoginToken: result.FirstLoginToken,
		}
		resp.Data.User = result.User.Public()
		httpx.WriteJSON(w, http.StatusOK, resp)
		return
	}

	writeAuthSuccess(w, h.Cookies, http.StatusOK, result)
}
