// Package limiter mirrors login failures into Redis so sibling instances see
// lockout pressure before their own database reads catch up. The mirror is
// advisory: the store-backed counters remain the source of truth, and every
// Redis failure degrades to doing nothing.
package limiter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/campusgrid/schoolauth/internal/auth/domain"
	"github.com/campusgrid/schoolauth/pkg/slogx"
)

const keyPrefix = "schoolauth:loginfail:"

// FailureCache counts recent login failures per username in Redis.
type FailureCache struct {
	Client *redis.Client

	// Window is the counter TTL; defaults to the account lockout duration.
	Window time.Duration
}

// NewFailureCache builds the cache around an existing client.
func NewFailureCache(client *redis.Client) *FailureCache {
	return &FailureCache{Client: client, Window: domain.LockoutDuration}
}

func (c *FailureCache) key(username string) string {
	return keyPrefix + username
}

func (c *FailureCache) window() time.Duration {
	if c.Window > 0 {
		return c.Window
	}
	return domain.LockoutDuration
}

// RecordFailure bumps the failure counter, starting the expiry window on the
// first failure. Errors are logged and swallowed: an unreachable Redis must
// never change login behaviour.
func (c *FailureCache) RecordFailure(ctx context.Context, username string, _ time.Time) {
	count, err := c.Client.Incr(ctx, c.key(username)).Result()
	if err != nil {
		slogx.FromContext(ctx).Warn("failure mirror unavailable", slog.Any("error", err))
		return
	}
	if count == 1 {
		if err := c.Client.Expire(ctx, c.key(username), c.window()).Err(); err != nil {
			slogx.FromContext(ctx).Warn("failure mirror expire failed", slog.Any("error", err))
		}
	}
}

// Clear drops the counter after a successful login.
func (c *FailureCache) Clear(ctx context.Context, username string) {
	if err := c.Client.Del(ctx, c.key(username)).Err(); err != nil {
		slogx.FromContext(ctx).Warn("failure mirror clear failed", slog.Any("error", err))
	}
}

// Failures reports the mirrored count; 0 with nil error when no counter
// exists. Dashboards and sibling instances read this, never the login path.
func (c *FailureCache) Failures(ctx context.Context, username string) (int64, error) {
	count, err := c.Client.Get(ctx, c.key(username)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return count, nil
}
