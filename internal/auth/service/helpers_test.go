package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campusgrid/schoolauth/internal/auth/domain"
	"github.com/campusgrid/schoolauth/internal/auth/store"
	"github.com/campusgrid/schoolauth/internal/auth/store/drivers/sqlite"
	"github.com/campusgrid/schoolauth/pkg/cryptox"
	"github.com/campusgrid/schoolauth/pkg/idx"
	"github.com/campusgrid/schoolauth/pkg/jwtx"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "schoolauth-test")
	if err != nil {
		panic(err)
	}
	cryptox.SetPepperPath(filepath.Join(dir, "pepper"))

	code := m.Run()
	_ = os.RemoveAll(dir)
	os.Exit(code)
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.ApplyMigrations())
	return st
}

// recordMailer captures the last reset email instead of sending it.
type recordMailer struct {
	to      string
	token   string
	expires time.Time
}

func (m *recordMailer) SendPasswordReset(_ context.Context, to, _, token string, expires time.Time) error {
	m.to = to
	m.token = token
	m.expires = expires
	return nil
}

func newTestAuth(t *testing.T) (*AuthService, store.Store, *recordMailer) {
	t.Helper()

	st := newTestStore(t)

	signer, err := jwtx.NewHS256([]byte("0123456789abcdef0123456789abcdef"), "schoolauth-test")
	require.NoError(t, err)

	mailer := &recordMailer{}
	svc := &AuthService{
		Store:    st,
		Sessions: &SessionManager{Store: st},
		Tokens:   &TokenIssuer{Signer: signer, Issuer: "schoolauth-test"},
		Policy:   &PolicyEngine{Store: st},
		Audit:    &Auditor{Store: st},
		Mailer:   mailer,
	}
	return svc, st, mailer
}

var testReqCtx = domain.RequestContext{
	IPAddress:  "203.0.113.10",
	UserAgent:  "Mozilla/5.0 (Macintosh)",
	Department: "science",
}

const (
	testPassword = "Kz8!mQv2#w"
	newPassword  = "Vw7&hLs3@k"
)

// seedUser inserts a user directly, bypassing Signup so no session exists
// yet. mutate adjusts the record before insertion (disabled accounts,
// must-change-password state).
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
