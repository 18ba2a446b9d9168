package jwtx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestNewHS256RejectsShortSecret(t *testing.T) {
	t.Parallel()

	_, err := NewHS256([]byte("too-short"), "schoolauth")
	require.Error(t, err)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	t.Parallel()

	codec, err := NewHS256(testSecret, "schoolauth")
	require.NoError(t, err)

	claims := NewClaims("user-1", ScopeAccess, "schoolauth", DefaultAccessTokenTTL, time.Now())
	token, err := codec.Sign(claims)
	require.NoError(t, err)

	got, err := codec.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", got.Subject)
	require.Equal(t, ScopeAccess, got.Scope)
	require.NoError(t, got.ValidateExpiry())
	require.NoError(t, got.ValidateScope(ScopeAccess))
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	t.Parallel()

	signer, err := NewHS256(testSecret, "schoolauth")
	require.NoError(t, err)
	other, err := NewHS256([]byte("ffffffffffffffffffffffffffffffff"), "schoolauth")
	require.NoError(t, err)

	token, err := signer.Sign(NewClaims("user-1", ScopeAccess, "schoolauth", time.Minute, time.Now()))
	require.NoError(t, err)

	_, err = other.Verify(token)
	require.ErrorIs(t, err, ErrInvalidSig)
}

func TestVerifyRejectsExpired(t *testing.T) {
	t.Parallel()

	codec, err := NewHS256(testSecret, "schoolauth")
	require.NoError(t, err)

	token, err := codec.Sign(NewClaims("user-1", ScopeAccess, "schoolauth", time.Minute, time.Now().Add(-time.Hour)))
	require.NoError(t, err)

	_, err = codec.Verify(token)
	require.ErrorIs(t, err, ErrExpired)
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	t.Parallel()

	signer, err := NewHS256(testSecret, "some-other-issuer")
	require.NoError(t, err)
	verifier, err := NewHS256(testSecret, "schoolauth")
	require.NoError(t, err)

	token, err := signer.Sign(NewClaims("user-1", ScopeAccess, "some-other-issuer", time.Minute, time.Now()))
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	require.ErrorIs(t, err, ErrIssuer)
}

func TestScopeIsolation(t *testing.T) {
	t.Parallel()

	codec, err := NewHS256(testSecret, "schoolauth")
	require.NoError(t, err)

	first, err := codec.Sign(NewClaims("user-1", ScopeFirstPassword, "schoolauth", time.Minute, time.Now()))
	require.NoError(t, err)

	claims, err := codec.Verify(first)
	require.NoError(t, err)
	require.ErrorIs(t, claims.ValidateScope(ScopeAccess), ErrScope)
	require.NoError(t, claims.ValidateScope(ScopeFirstPassword))

	_, err = codec.Verify("not.a.jwt")
	require.Error(t, err)
}
