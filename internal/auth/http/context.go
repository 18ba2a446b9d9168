package http

import (
	"context"

	"github.com/campusgrid/schoolauth/internal/auth/domain"
)

type ctxKey int

const (
	userCtxKey ctxKey = iota
	sessionCtxKey
)

// UserFromContext returns the authenticated user placed there by Protect.
func UserFromContext(ctx context.Context) (domain.User, bool) {
	u, ok := ctx.Value(userCtxKey).(domain.User)
	return u, ok
}

// SessionFromContext returns the resolved session placed there by Protect.
func SessionFromContext(ctx context.Context) (domain.Session, bool) {
	s, ok := ctx.Value(sessionCtxKey).(domain.Session)
	return s, ok
}

func withUser(ctx context.Context, u domain.User) context.Context {
	return context.WithValue(ctx, userCtxKey, u)
}

func withSession(ctx context.Context, s domain.Session) context.Context {
	return context.WithValue(ctx, sessionCtxKey, s)
}
