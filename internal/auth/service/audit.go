package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/campusgrid/schoolauth/internal/auth/domain"
	"github.com/campusgrid/schoolauth/internal/auth/store"
	"github.com/campusgrid/schoolauth/pkg/idx"
	"github.com/campusgrid/schoolauth/pkg/slogx"
)

// Auditor records security events. Writes are strictly best-effort: a failed
// audit insert is logged and swallowed so it can never abort a login or
// logout that already happened.
type Auditor struct {
	Store store.Store
}

// Record writes one audit event. userID and username may be empty when the
// event concerns an unknown principal (failed login for a missing account).
func (a *Auditor) Record(ctx context.Context, event domain.AuditEventType, userID, username, reason string, reqCtx domain.RequestContext) {
	e := domain.AuditEvent{
		ID:        idx.New().String(),
		UserID:    userID,
		Username:  username,
		Event:     event,
		Reason:    reason,
		IPAddress: reqCtx.IPAddress,
		UserAgent: reqCtx.UserAgent,
		CreatedAt: time.Now().UTC(),
	}

	if err := a.Store.Audit().InsertEvent(ctx, e); err != nil {
		slogx.FromContext(ctx).Warn("audit event insert failed",
			slog.String("event", string(event)),
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
	}
}
