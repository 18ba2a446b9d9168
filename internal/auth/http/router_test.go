package http

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campusgrid/schoolauth/internal/auth/domain"
)

func TestLoginEndpoint(t *testing.T) {
	t.Run("success sets cookies and returns the user", func(t *testing.T) {
		r, st := newTestRouter(t)
		seedUser(t, st, "alice", nil)

		rec := doJSON(t, r, http.MethodPost, "/v1/auth/login", map[string]string{
			"username": "alice",
			"password": testPassword,
		}, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		require.Equal(t, "success", body["status"])
		require.NotEmpty(t, body["token"])
		require.Greater(t, body["expiresIn"], float64(0))

		user := body["data"].(map[string]any)["user"].(map[string]any)
		require.Equal(t, "alice", user["username"])
		require.NotContains(t, user, "passwordHash")
		require.NotContains(t, rec.Body.String(), "argon2id")

		cookies := rec.Result().Cookies()
		refresh := cookieByName(cookies, cookieRefresh)
		require.NotNil(t, refresh)
		require.True(t, refresh.HttpOnly)
		require.Equal(t, apiCookiePath, refresh.Path)
		require.Equal(t, http.SameSiteStrictMode, refresh.SameSite)

		sid := cookieByName(cookies, cookieSession)
		require.NotNil(t, sid)
		require.True(t, sid.HttpOnly)

		csrf := cookieByName(cookies, cookieCSRF)
		require.NotNil(t, csrf)
		require.False(t, csrf.HttpOnly, "csrf cookie must stay readable for the double-submit echo")
	})

	t.Run("wrong password and unknown user share one message", func(t *testing.T) {
		r, st := newTestRouter(t)
		seedUser(t, st, "alice", nil)

		for _, creds := range []map[string]string{
			{"username": "alice", "password": "not-the-password"},
			{"username": "nobody", "password": testPassword},
		} {
			rec := doJSON(t, r, http.MethodPost, "/v1/auth/login", creds, nil)
			require.Equal(t, http.StatusUnauthorized, rec.Code)
			require.Equal(t, "Incorrect username or password", decodeBody(t, rec)["message"])
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		r, _ := newTestRouter(t)

		rec := doJSON(t, r, http.MethodPost, "/v1/auth/login", map[string]string{"username": "alice"}, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("lockout answers 423", func(t *testing.T) {
		r, st := newTestRouter(t)
		seedUser(t, st, "alice", nil)

		// Spread attempts over distinct forwarded addresses so the per-IP
		// limiter stays out of the way; the lock is tracked per account.
		for i := 0; i < domain.LockoutThreshold; i++ {
			rec := doJSON(t, r, http.MethodPost, "/v1/auth/login", map[string]string{
				"username": "alice",
				"password": "not-the-password",
			}, func(req *http.Request) {
				req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i+1))
			})
			require.Equal(t, http.StatusUnauthorized, rec.Code)
		}

		// Even the correct password bounces off the lock.
		rec := doJSON(t, r, http.MethodPost, "/v1/auth/login", map[string]string{
			"username": "alice",
			"password": testPassword,
		}, func(req *http.Request) {
			req.Header.Set("X-Forwarded-For", "198.51.100.250")
		})
		require.Equal(t, http.StatusLocked, rec.Code)
		require.Equal(t, "fail", decodeBody(t, rec)["status"])
	})

	t.Run("must-change-password returns a scoped token and no cookies", func(t *testing.T) {
		r, st := newTestRouter(t)
		seedUser(t, st, "newhire", func(u *domain.User) { u.MustChangePassword = true })

		rec := doJSON(t, r, http.MethodPost, "/v1/auth/login", map[string]string{
			"username": "newhire",
			"password": testPassword,
		}, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		require.Equal(t, "password_change_required", body["status"])
		require.NotEmpty(t, body["firstLoginToken"])
		require.NotContains(t, body, "token")

		cookies := rec.Result().Cookies()
		require.Nil(t, cookieByName(cookies, cookieRefresh))
		require.Nil(t, cookieByName(cookies, cookieSession))
	})

	t.Run("disabled account answers 403", func(t *testing.T) {
		r, st := newTestRouter(t)
		seedUser(t, st, "gone", func(u *domain.User) { u.IsActive = false })

		rec := doJSON(t, r, http.MethodPost, "/v1/auth/login", map[string]string{
			"username": "gone",
			"password": testPassword,
		}, nil)
		require.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestSignupEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/v1/auth/signup", map[string]string{
		"username":  "bob",
		"email":     "Bob@School.Example",
		"password":  "Xp4$nRt8@z",
		"firstName": "Bob",
		"lastName":  "Builder",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decodeBody(t, rec)
	require.Equal(t, "success", body["status"])
	user := body["data"].(map[string]any)["user"].(map[string]any)
	require.Equal(t, "bob@school.example", user["email"])
	require.Equal(t, string(domain.RoleStudent), user["role"])

	require.NotNil(t, cookieByName(rec.Result().Cookies(), cookieRefresh))

	t.Run("privileged role rejected", func(t *testing.T) {
		rec := doJSON(t, r, http.MethodPost, "/v1/auth/signup", map[string]string{
			"username": "eve",
			"email":    "eve@school.example",
			"password": "Xp4$nRt8@z",
			"role":     string(domain.RoleSuperAdmin),
		}, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Equal(t, "This role cannot be self-assigned", decodeBody(t, rec)["message"])
	})

	t.Run("weak password lists the violations", func(t *testing.T) {
		rec := doJSON(t, r, http.MethodPost, "/v1/auth/signup", map[string]string{
			"username": "carol",
			"email":    "carol@school.example",
			"password": "password",
		}, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Equal(t, "fail", decodeBody(t, rec)["status"])
	})
}

func TestCSRFGuard(t *testing.T) {
	r, st := newTestRouter(t)
	seedUser(t, st, "alice", nil)
	sess := login(t, r, "alice", testPassword)

	t.Run("missing header rejected", func(t *testing.T) {
		rec := doJSON(t, r, http.MethodPost, "/v1/auth/logout", nil, func(req *http.Request) {
			sess.attach(req)
			req.Header.Del(headerCSRF)
		})
		require.Equal(t, http.StatusForbidden, rec.Code)
		require.Equal(t, "CSRF token missing or invalid", decodeBody(t, rec)["message"])
	})

	t.Run("mismatched header rejected", func(t *testing.T) {
		rec := doJSON(t, r, http.MethodPost, "/v1/auth/logout", nil, func(req *http.Request) {
			sess.attach(req)
			req.Header.Set(headerCSRF, "forged-value")
		})
		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("bootstrap endpoints stay exempt", func(t *testing.T) {
		rec := doJSON(t, r, http.MethodPost, "/v1/auth/login", map[string]string{
			"username": "alice",
			"password": "wrong-on-purpose",
		}, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code, "login must not demand a CSRF header")
	})

	t.Run("matching pair passes through", func(t *testing.T) {
		rec := doJSON(t, r, http.MethodPost, "/v1/auth/logout", nil, func(req *http.Request) {
			sess.attach(req)
		})
		require.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestRefreshEndpoint(t *testing.T) {
	r, st := newTestRouter(t)
	seedUser(t, st, "alice", nil)
	sess := login(t, r, "alice", testPassword)

	t.Run("missing cookies", func(t *testing.T) {
		rec := doJSON(t, r, http.MethodPost, "/v1/auth/refresh", nil, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = doJSON(t, r, http.MethodPost, "/v1/auth/refresh", nil, func(req *http.Request) {
			req.AddCookie(sess.refreshToken)
		})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	var rotated *http.Cookie
	t.Run("rotation issues a new credential pair", func(t *testing.T) {
		rec := doJSON(t, r, http.MethodPost, "/v1/auth/refresh", nil, func(req *http.Request) {
			req.AddCookie(sess.refreshToken)
			req.AddCookie(sess.sid)
		})
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		require.NotEmpty(t, body["token"])
		require.NotEqual(t, sess.accessToken, body["token"])

		rotated = cookieByName(rec.Result().Cookies(), cookieRefresh)
		require.NotNil(t, rotated)
		require.NotEqual(t, sess.refreshToken.Value, rotated.Value)
	})

	t.Run("replaying the superseded token fails", func(t *testing.T) {
		rec := doJSON(t, r, http.MethodPost, "/v1/auth/refresh", nil, func(req *http.Request) {
			req.AddCookie(sess.refreshToken)
			req.AddCookie(sess.sid)
		})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, "Invalid or expired session", decodeBody(t, rec)["message"])
	})

	t.Run("the rotated token still works", func(t *testing.T) {
		rec := doJSON(t, r, http.MethodPost, "/v1/auth/refresh", nil, func(req *http.Request) {
			req.AddCookie(rotated)
			req.AddCookie(sess.sid)
		})
		require.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestLogoutEndpoint(t *testing.T) {
	r, st := newTestRouter(t)
	seedUser(t, st, "alice", nil)
	sess := login(t, r, "alice", testPassword)

	rec := doJSON(t, r, http.MethodPost, "/v1/auth/logout", nil, func(req *http.Request) {
		sess.attach(req)
	})
	require.Equal(t, http.StatusOK, rec.Code)

	cleared := cookieByName(rec.Result().Cookies(), cookieRefresh)
	require.NotNil(t, cleared)
	require.Equal(t, "loggedout", cleared.Value)
	require.WithinDuration(t, time.Now(), cleared.Expires, time.Minute)

	// Legacy jwt cookie is swept too.
	require.NotNil(t, cookieByName(rec.Result().Cookies(), cookieLegacy))

	t.Run("session refresh is dead afterwards", func(t *testing.T) {
		rec := doJSON(t, r, http.MethodPost, "/v1/auth/refresh", nil, func(req *http.Request) {
			req.AddCookie(sess.refreshToken)
			req.AddCookie(sess.sid)
		})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestLogoutAllEndpoint(t *testing.T) {
	r, st := newTestRouter(t)
	seedUser(t, st, "alice", nil)

	first := login(t, r, "alice", testPassword)
	second := login(t, r, "alice", testPassword)

	rec := doJSON(t, r, http.MethodPost, "/v1/auth/logout-all", nil, func(req *http.Request) {
		second.attach(req)
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	require.Equal(t, float64(2), body["sessionsInvalidated"])

	// The caller's cookies are cleared along with everyone else's sessions.
	cleared := cookieByName(rec.Result().Cookies(), cookieRefresh)
	require.NotNil(t, cleared)
	require.Equal(t, "loggedout", cleared.Value)

	// Neither session refreshes afterwards, the caller's included.
	for _, sess := range []loginSession{first, second} {
		rec = doJSON(t, r, http.MethodPost, "/v1/auth/refresh", nil, func(req *http.Request) {
			req.AddCookie(sess.refreshToken)
			req.AddCookie(sess.sid)
		})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}

func TestProtectMiddleware(t *testing.T) {
	r, st := newTestRouter(t)
	seedUser(t, st, "alice", nil)
	sess := login(t, r, "alice", testPassword)

	t.Run("no bearer", func(t *testing.T) {
		rec := doJSON(t, r, http.MethodPost, "/v1/auth/logout-all", nil, func(req *http.Request) {
			sess.attach(req)
			req.Header.Del("Authorization")
		})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, "You are not logged in", decodeBody(t, rec)["message"])
	})

	t.Run("garbage bearer", func(t *testing.T) {
		rec := doJSON(t, r, http.MethodPost, "/v1/auth/logout-all", nil, func(req *http.Request) {
			sess.attach(req)
			req.Header.Set("Authorization", "Bearer not.a.jwt")
		})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("first-login token is not an access token", func(t *testing.T) {
		r2, st2 := newTestRouter(t)
		seedUser(t, st2, "newhire", func(u *domain.User) { u.MustChangePassword = true })

		rec := doJSON(t, r2, http.MethodPost, "/v1/auth/login", map[string]string{
			"username": "newhire",
			"password": testPassword,
		}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		scoped := decodeBody(t, rec)["firstLoginToken"].(string)

		rec = doJSON(t, r2, http.MethodPost, "/v1/auth/logout-all", nil, func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+scoped)
		})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestUpdatePasswordEndpoint(t *testing.T) {
	r, st := newTestRouter(t)
	seedUser(t, st, "alice", nil)
	sess := login(t, r, "alice", testPassword)

	rec := doJSON(t, r, http.MethodPatch, "/v1/auth/update-my-password", map[string]string{
		"currentPassword": testPassword,
		"newPassword":     "Vw7&hLs3@k",
	}, func(req *http.Request) {
		sess.attach(req)
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// A change behaves like a fresh login: new bundle in the response, the
	// pre-change session no longer refreshes.
	body := decodeBody(t, rec)
	require.NotEmpty(t, body["token"])
	require.NotEqual(t, sess.accessToken, body["token"])
	require.NotNil(t, cookieByName(rec.Result().Cookies(), cookieRefresh))

	rec = doJSON(t, r, http.MethodPost, "/v1/auth/refresh", nil, func(req *http.Request) {
		req.AddCookie(sess.refreshToken)
		req.AddCookie(sess.sid)
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	t.Run("wrong current password", func(t *testing.T) {
		fresh := login(t, r, "alice", "Vw7&hLs3@k")
		rec := doJSON(t, r, http.MethodPatch, "/v1/auth/update-my-password", map[string]string{
			"currentPassword": "not-it",
			"newPassword":     "Qm9#tWx5&b",
		}, func(req *http.Request) {
			fresh.attach(req)
		})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestFirstPasswordEndpoint(t *testing.T) {
	r, st := newTestRouter(t)
	seedUser(t, st, "newhire", func(u *domain.User) { u.MustChangePassword = true })

	rec := doJSON(t, r, http.MethodPost, "/v1/auth/login", map[string]string{
		"username": "newhire",
		"password": testPassword,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	scoped := decodeBody(t, rec)["firstLoginToken"].(string)

	rec = doJSON(t, r, http.MethodPost, "/v1/auth/first-password", map[string]string{
		"password": "Vw7&hLs3@k",
	}, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+scoped)
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	require.Equal(t, "success", body["status"])
	require.NotEmpty(t, body["token"])
	user := body["data"].(map[string]any)["user"].(map[string]any)
	require.Equal(t, false, user["mustChangePassword"])
	require.NotNil(t, cookieByName(rec.Result().Cookies(), cookieRefresh))

	t.Run("token replay rejected", func(t *testing.T) {
		rec := doJSON(t, r, http.MethodPost, "/v1/auth/first-password", map[string]string{
			"password": "Qm9#tWx5&b",
		}, func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+scoped)
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAdminFirstPasswordToken(t *testing.T) {
	r, st := newTestRouter(t)
	seedUser(t, st, "admin", func(u *domain.User) { u.Role = domain.RoleAdmin })
	teacher := seedUser(t, st, "teacher", nil)

	adminSess := login(t, r, "admin", testPassword)
	teacherSess := login(t, r, "teacher", testPassword)

	path := "/v1/auth/users/" + teacher.ID + "/first-password-token"

	t.Run("teacher forbidden", func(t *testing.T) {
		rec := doJSON(t, r, http.MethodPost, path, nil, func(req *http.Request) {
			teacherSess.attach(req)
		})
		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("admin succeeds and target sessions drop", func(t *testing.T) {
		rec := doJSON(t, r, http.MethodPost, path, nil, func(req *http.Request) {
			adminSess.attach(req)
		})
		require.Equal(t, http.StatusOK, rec.Code)
		require.NotEmpty(t, decodeBody(t, rec)["firstLoginToken"])

		rec = doJSON(t, r, http.MethodPost, "/v1/auth/refresh", nil, func(req *http.Request) {
			req.AddCookie(teacherSess.refreshToken)
			req.AddCookie(teacherSess.sid)
		})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown user answers 404", func(t *testing.T) {
		rec := doJSON(t, r, http.MethodPost, "/v1/auth/users/does-not-exist/first-password-token", nil, func(req *http.Request) {
			adminSess.attach(req)
		})
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHealthEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodGet, "/livez", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", decodeBody(t, rec)["status"])

	rec = doJSON(t, r, http.MethodGet, "/readyz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitTripsOnLoginFlood(t *testing.T) {
	r, st := newTestRouter(t)
	seedUser(t, st, "alice", nil)

	var last int
	for i := 0; i < 10; i++ {
		rec := doJSON(t, r, http.MethodPost, "/v1/auth/login", map[string]string{
			"username": "alice",
			"password": "not-the-password",
		}, nil)
		last = rec.Code
		if last == http.StatusTooManyRequests {
			require.NotEmpty(t, rec.Header().Get("Retry-After"))
			return
		}
	}
	t.Fatalf("limiter never tripped, last status %d", last)
}
