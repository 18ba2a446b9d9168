package domain

import "time"

// AuditEventType enumerates the security events the auth subsystem records.
type AuditEventType string

const (
	AuditLogin              AuditEventType = "LOGIN"
	AuditFailedLogin        AuditEventType = "FAILED_LOGIN"
	AuditLogout             AuditEventType = "LOGOUT"
	AuditLogoutAll          AuditEventType = "LOGOUT_ALL"
	AuditSignup             AuditEventType = "SIGNUP"
	AuditPasswordChanged    AuditEventType = "PASSWORD_CHANGED"
	AuditPasswordReset      AuditEventType = "PASSWORD_RESET"
	AuditFirstPasswordSet   AuditEventType = "FIRST_PASSWORD_SET"
	AuditSessionInvalidated AuditEventType = "SESSION_INVALIDATED"
)

// AuditEvent is one best-effort security log row. Audit writes must never
// abort the primary flow they describe.
type AuditEvent struct {
	ID        string
	UserID    string
	Username  string
	Event     AuditEventType
	Reason    string
	IPAddress string
	UserAgent string
	CreatedAt time.Time
}
