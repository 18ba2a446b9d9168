// Package jwtx wraps golang-jwt with the claim set and HS256 codec used by
// the auth service.
package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default token TTL constants.
const (
	// DefaultAccessTokenTTL is the lifetime for access tokens. Short-lived
	// so revocation lag is bounded without server-side checks.
	DefaultAccessTokenTTL = 15 * time.Minute

	// DefaultFirstLoginTokenTTL bounds the restricted first-password token.
	DefaultFirstLoginTokenTTL = 15 * time.Minute
)

// Token scopes. A token is good for exactly one of these; endpoints must
// check the scope claim before honouring a token.
const (
	// ScopeAccess marks a normal access token.
	ScopeAccess = "access"

	// ScopeFirstPassword marks the narrow token issued to accounts that must
	// set a password before their first real session exists. It is not valid
	// anywhere except the first-password endpoint.
	ScopeFirstPassword = "first_password"
)

// Claims are the access-token claims. The payload is deliberately minimal:
// the subject (user id) plus the scope discriminator.
type Claims struct {
	jwt.RegisteredClaims

	// Scope discriminates normal access tokens from restricted ones.
	Scope string `json:"scope,omitempty"`
}

// NewClaims builds minimally-correct claims for the given subject and scope.
func NewClaims(subject, scope, issuer string, ttl time.Duration, now time.Time) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		Scope: scope,
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// ValidateExpiry ensures the token hasn't expired (exp) and isn't used
// before it is valid (nbf).
func (c *Claims) ValidateExpiry() error {
	now := time.Now().UTC()

	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Time) {
		return ErrExpired
	}
	if c.NotBefore != nil && now.Before(c.NotBefore.Time) {
		return ErrNotYetValid
	}
	return nil
}

// ValidateIssuer checks the issuer claim against the expected value. An empty
// expected value enforces nothing.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil
	}
	if c.Issuer != expected {
		return ErrIssuer
	}
	return nil
}

// ValidateScope checks the scope claim. Scope mismatch is an authentication
// failure, not an authorization one: a first-login token is not a weaker
// access token, it is not an access token at all.
func (c *Claims) ValidateScope(expected string) error {
	if c.Scope != expected {
		return ErrScope
	}
	return nil
}
