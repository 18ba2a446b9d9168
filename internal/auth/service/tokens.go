package service

import (
	"time"

	"github.com/campusgrid/schoolauth/pkg/cryptox"
	"github.com/campusgrid/schoolauth/pkg/jwtx"
)

// TokenIssuer mints the three credential kinds: stateless access JWTs,
// restricted first-login JWTs, and opaque refresh tokens (returned with the
// fingerprint that gets stored).
type TokenIssuer struct {
	Signer *jwtx.HS256
	Issuer string

	AccessTTL     time.Duration
	FirstLoginTTL time.Duration
}

func (t *TokenIssuer) accessTTL() time.Duration {
	if t.AccessTTL > 0 {
		return t.AccessTTL
	}
	return jwtx.DefaultAccessTokenTTL
}

func (t *TokenIssuer) firstLoginTTL() time.Duration {
	if t.FirstLoginTTL > 0 {
		return t.FirstLoginTTL
	}
	return jwtx.DefaultFirstLoginTokenTTL
}

// AccessToken signs a normal access token for the user.
func (t *TokenIssuer) AccessToken(userID string, now time.Time) (string, error) {
	claims := jwtx.NewClaims(userID, jwtx.ScopeAccess, t.Issuer, t.accessTTL(), now)
	return t.Signer.Sign(claims)
}

// FirstLoginToken signs the restricted token an account in the
// must-change-password state gets instead of a session. It is honoured only
// by the first-password endpoint.
func (t *TokenIssuer) FirstLoginToken(userID string, now time.Time) (string, error) {
	claims := jwtx.NewClaims(userID, jwtx.ScopeFirstPassword, t.Issuer, t.firstLoginTTL(), now)
	return t.Signer.Sign(claims)
}

// RefreshToken generates an opaque refresh token. The raw value goes to the
// client once; only the fingerprint is ever persisted.
func (t *TokenIssuer) RefreshToken() (raw, fingerprint string, err error) {
	raw, err = cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", "", err
	}
	return raw, cryptox.FingerprintToken(raw), nil
}
