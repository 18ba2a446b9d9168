package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*FailureCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewFailureCache(client), mr
}

func TestFailureCacheCountsAndClears(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	now := time.Now()

	n, err := cache.Failures(ctx, "jsmith")
	require.NoError(t, err)
	require.Zero(t, n)

	cache.RecordFailure(ctx, "jsmith", now)
	cache.RecordFailure(ctx, "jsmith", now)
	cache.RecordFailure(ctx, "jsmith", now)

	n, err = cache.Failures(ctx, "jsmith")
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	// Other usernames are isolated.
	n, err = cache.Failures(ctx, "mjones")
	require.NoError(t, err)
	require.Zero(t, n)

	cache.Clear(ctx, "jsmith")

	n, err = cache.Failures(ctx, "jsmith")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestFailureCacheWindowExpiry(t *testing.T) {
	cache, mr := newTestCache(t)
	cache.Window = time.Minute
	ctx := context.Background()

	cache.RecordFailure(ctx, "jsmith", time.Now())

	mr.FastForward(2 * time.Minute)

	n, err := cache.Failures(ctx, "jsmith")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestFailureCacheDegradesWhenRedisDown(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	mr.Close()

	// Must not panic or block the caller.
	cache.RecordFailure(ctx, "jsmith", time.Now())
	cache.Clear(ctx, "jsmith")

	_, err := cache.Failures(ctx, "jsmith")
	require.Error(t, err)
}
