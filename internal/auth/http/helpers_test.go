package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campusgrid/schoolauth/internal/auth/domain"
	"github.com/campusgrid/schoolauth/internal/auth/service"
	"github.com/campusgrid/schoolauth/internal/auth/store"
	"github.com/campusgrid/schoolauth/internal/auth/store/drivers/sqlite"
	"github.com/campusgrid/schoolauth/pkg/cryptox"
	"github.com/campusgrid/schoolauth/pkg/idx"
	"github.com/campusgrid/schoolauth/pkg/jwtx"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "schoolauth-http-test")
	if err != nil {
		panic(err)
	}
	cryptox.SetPepperPath(filepath.Join(dir, "pepper"))

	code := m.Run()
	_ = os.RemoveAll(dir)
	os.Exit(code)
}

const testPassword = "Kz8!mQv2#w"

// newTestRouter builds a fully wired router against an in-memory store. Each
// call gets fresh rate limit buckets because the middleware is constructed per
// router.
func newTestRouter(t *testing.T) (*Router, store.Store) {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	signer, err := jwtx.NewHS256([]byte("0123456789abcdef0123456789abcdef"), "schoolauth-test")
	require.NoError(t, err)

	auth := &service.AuthService{
		Store:    st,
		Sessions: &service.SessionManager{Store: st},
		Tokens:   &service.TokenIssuer{Signer: signer, Issuer: "schoolauth-test"},
		Policy:   &service.PolicyEngine{Store: st},
		Audit:    &service.Auditor{Store: st},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewRouter("test", false, st, auth, logger)
	r.ApplyRoutes()
	return r, st
}

func seedUser(t *testing.T, st store.Store, username string, mutate func(*domain.User)) domain.User {
	t.Helper()

	hash, err := cryptox.HashPassword(testPassword)
	require.NoError(t, err)

	now := time.Now().UTC()
	u := domain.User{
		ID:                idx.New().String(),
		Username:          username,
		Email:             username + "@school.example",
		FirstName:         "Test",
		LastName:          "Account",
		Role:              domain.RoleTeacher,
		PasswordHash:      hash,
		PasswordChangedAt: now,
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if mutate != nil {
		mutate(&u)
	}

	require.NoError(t, st.Users().CreateUser(context.Background(), u))
	return u
}

// doJSON runs a JSON request through the full router, global middleware
// included. mutate adjusts headers and cookies before dispatch.
func doJSON(t *testing.T, r *Router, method, path string, body any, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if mutate != nil {
		mutate(req)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func cookieByName(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// loginSession is everything a client holds after a successful login.
type loginSession struct {
	accessToken  string
	refreshToken *http.Cookie
	sid          *http.Cookie
	csrf         *http.Cookie
}

// attach decorates a request the way a browser would: bearer header, auth
// cookies, and the echoed CSRF header.
func (s loginSession) attach(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.accessToken)
	req.AddCookie(s.refreshToken)
	req.AddCookie(s.sid)
	req.AddCookie(s.csrf)
	req.Header.Set(headerCSRF, s.csrf.Value)
}

func login(t *testing.T, r *Router, username, password string) loginSession {
	t.Helper()

	rec := doJSON(t, r, http.MethodPost, "/v1/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, "login failed: %s", rec.Body.String())

	body := decodeBody(t, rec)
	cookies := rec.Result().Cookies()

	s := loginSession{
		accessToken:  body["token"].(string),
		refreshToken: cookieByName(cookies, cookieRefresh),
		sid:          cookieByName(cookies, cookieSession),
		csrf:         cookieByName(cookies, cookieCSRF),
	}
	require.NotEmpty(t, s.accessToken)
	require.NotNil(t, s.refreshToken)
	require.NotNil(t, s.sid)
	require.NotNil(t, s.csrf)
	return s
}
