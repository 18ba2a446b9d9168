package domain

import (
	"strings"
	"time"
)

// DefaultSessionLifetime is how long a session row stays valid absent an
// explicit logout or invalidation.
const DefaultSessionLifetime = 7 * 24 * time.Hour

// DefaultMaxSessionsPerUser bounds concurrent sessions; the oldest past the
// bound are force-invalidated at login time.
const DefaultMaxSessionsPerUser = 5

// Session is the server-side record binding a user to a refresh-token hash
// and activity metadata. The session id is an opaque random token and is the
// external handle, distinct from the access token.
type Session struct {
	ID     string
	UserID string

	// Token is the access token currently associated with this session, kept
	// so request-time validation can locate the session by presented bearer
	// token. The refresh token itself is stored only as a fingerprint.
	Token            string
	RefreshTokenHash string

	IsActive     bool
	ExpiresAt    time.Time
	LoginTime    time.Time
	LastActivity time.Time
	LogoutTime   *time.Time

	// Context snapshot captured at creation for audit/display; never
	// re-derived afterwards.
	IPAddress  string
	UserAgent  string
	DeviceInfo string
	Department string
	Role       Role
}

// Usable reports whether the session authorizes traffic at now.
func (s Session) Usable(now time.Time) bool {
	return s.IsActive && now.Before(s.ExpiresAt)
}

// RequestContext is the per-request client context snapshotted onto a new
// session.
type RequestContext struct {
	IPAddress  string
	UserAgent  string
	Department string
}

// ClassifyDevice maps a User-Agent string onto a coarse device label for
// session listings. Display-only; nothing authorizes off this value.
func ClassifyDevice(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case ua == "":
		return "unknown"
	case strings.Contains(ua, "mobile"), strings.Contains(ua, "android"), strings.Contains(ua, "iphone"):
		return "mobile"
	case strings.Contains(ua, "ipad"), strings.Contains(ua, "tablet"):
		return "tablet"
	case strings.Contains(ua, "curl"), strings.Contains(ua, "postman"),
		strings.Contains(ua, "python"), strings.Contains(ua, "go-http-client"):
		return "api-client"
	default:
		return "desktop"
	}
}
