package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campusgrid/schoolauth/pkg/cryptox"
)

func TestVerifyRefreshUniformDenial(t *testing.T) {
	st := newTestStore(t)
	mgr := &SessionManager{Store: st}
	ctx := context.Background()
	now := time.Now().UTC()

	user := seedUser(t, st, "jsmith", nil)

	raw, hash, err := (&TokenIssuer{}).RefreshToken()
	require.NoError(t, err)

	sess, err := mgr.Create(ctx, user, "access-token", hash, testReqCtx, now)
	require.NoError(t, err)

	// The happy path works.
	got, err := mgr.VerifyRefresh(ctx, st.Sessions(), sess.ID, raw, now)
	require.NoError(t, err)
	require.Equal(t, sess.ID, got.ID)

	// Every denial collapses to the same error.
	cases := map[string]func() (string, string, time.Time){
		"unknown session": func() (string, string, time.Time) {
			return "missing", raw, now
		},
		"wrong token": func() (string, string, time.Time) {
			other := cryptox.MustGenerateToken(cryptox.TokenSize256)
			return sess.ID, other, now
		},
		"empty inputs": func() (string, string, time.Time) {
			return "", "", now
		},
		"expired session": func() (string, string, time.Time) {
			return sess.ID, raw, now.Add(8 * 24 * time.Hour)
		},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			id, token, at := args()
			_, err := mgr.VerifyRefresh(ctx, st.Sessions(), id, token, at)
			require.ErrorIs(t, err, ErrInvalidRefresh)
		})
	}

	// Inactive session.
	require.NoError(t, mgr.Invalidate(ctx, sess.ID, now))
	_, err = mgr.VerifyRefresh(ctx, st.Sessions(), sess.ID, raw, now)
	require.ErrorIs(t, err, ErrInvalidRefresh)
}

func TestVerifyRefreshRejectsSessionWithoutRefreshCapability(t *testing.T) {
	st := newTestStore(t)
	mgr := &SessionManager{Store: st}
	ctx := context.Background()
	now := time.Now().UTC()

	user := seedUser(t, st, "jsmith", nil)

	// Recreated-on-the-fly sessions store no fingerprint; even an empty
	// presented token must not match the empty stored hash.
	sess, err := mgr.Create(ctx, user, "access-token", "", testReqCtx, now)
	require.NoError(t, err)

	_, err = mgr.VerifyRefresh(ctx, st.Sessions(), sess.ID, "", now)
	require.ErrorIs(t, err, ErrInvalidRefresh)
}

func TestCleanExpiredSweep(t *testing.T) {
	st := newTestStore(t)
	mgr := &SessionManager{Store: st, Lifetime: time.Hour}
	ctx := context.Background()
	now := time.Now().UTC()

	user := seedUser(t, st, "jsmith", nil)

	_, err := mgr.Create(ctx, user, "t1", "h1", testReqCtx, now)
	require.NoError(t, err)
	_, err = mgr.Create(ctx, user, "t2", "h2", testReqCtx, now)
	require.NoError(t, err)

	later := now.Add(2 * time.Hour)

	n, err := mgr.CleanExpired(ctx, later)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	// Idempotent.
	n, err = mgr.CleanExpired(ctx, later)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestTouchUpdatesLastActivity(t *testing.T) {
	st := newTestStore(t)
	mgr := &SessionManager{Store: st}
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	user := seedUser(t, st, "jsmith", nil)

	sess, err := mgr.Create(ctx, user, "t1", "h1", testReqCtx, now)
	require.NoError(t, err)

	later := now.Add(10 * time.Minute)
	mgr.Touch(ctx, sess.ID, later)

	stored, err := st.Sessions().GetSessionByID(ctx, sess.ID)
	require.NoError(t, err)
	require.WithinDuration(t, later, stored.LastActivity, time.Second)
}
