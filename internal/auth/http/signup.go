package http

import (
	"encoding/json"
	"net/http"

	"github.com/campusgrid/schoolauth/internal/auth/domain"
	"github.com/campusgrid/schoolauth/internal/auth/service"
)

type SignupHandler struct {
	Auth    *service.AuthService
	Cookies cookieWriter
}

type signupRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone"`
	Role      string `json:"role"`
}

func (h *SignupHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Username == "" || req.Email == "" || req.Password == "" {
		writeFail(w, http.StatusBadRequest, "Username, email and password are required")
		return
	}

	result, err := h.Auth.Signup(r.Context(), service.SignupInput{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		Role:      domain.Role(req.Role),
	}, requestContext(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeAuthSuccess(w, h.Cookies, http.StatusCreated, result)
}
