// Package service implements the auth business logic on top of the store
// interfaces: login and lockout, session lifecycle, token issuance and
// rotation, and password management.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/campusgrid/schoolauth/internal/auth/domain"
	"github.com/campusgrid/schoolauth/internal/auth/store"
	"github.com/campusgrid/schoolauth/pkg/cryptox"
)

// commonPasswords is a small denylist of passwords that pass the structural
// rules but are still trivially guessable. Matching is case-insensitive.
var commonPasswords = map[string]struct{}{
	"password":    {},
	"password1":   {},
	"password123": {},
	"p@ssw0rd":    {},
	"qwerty123":   {},
	"letmein":     {},
	"welcome1":    {},
	"admin123":    {},
	"abc12345":    {},
	"iloveyou":    {},
	"sunshine1":   {},
	"changeme":    {},
	"student123":  {},
	"teacher123":  {},
	"school123":   {},
}

// sequentialRuns are keyboard and alphabet runs; three or more consecutive
// characters from any of them reject the candidate.
var sequentialRuns = []string{
	"abcdefghijklmnopqrstuvwxyz",
	"0123456789",
	"qwertyuiop",
	"asdfghjkl",
	"zxcvbnm",
}

// PersonalInfo is the identity data a candidate password is checked against:
// passwords containing the holder's own name or username are rejected.
type PersonalInfo struct {
	Username  string
	Email     string
	FirstName string
	LastName  string
	Phone     string
}

// PolicyEngine evaluates candidate passwords against the applicable stored
// policy (or the built-in default) plus the non-configurable hygiene rules.
type PolicyEngine struct {
	Store store.Store
}

// PolicyFor returns the password policy applicable to the role, falling back
// to the default policy when none is stored.
func (e *PolicyEngine) PolicyFor(ctx context.Context, role domain.Role) (domain.PasswordPolicy, error) {
	p, err := e.Store.Policies().GetApplicablePolicy(ctx, role)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.DefaultPasswordPolicy(), nil
		}
		return domain.PasswordPolicy{}, err
	}
	return p, nil
}

// Validate checks the candidate against the policy's structural rules, the
// common-password denylist, sequential and repeated runs, and the holder's
// personal info. It collects every failure so the client can show them all at
// once, returning a *PolicyViolationError when any rule fails.
func (e *PolicyEngine) Validate(candidate string, policy domain.PasswordPolicy, info PersonalInfo) error {
	var violations []string

	if len(candidate) < policy.MinLength {
		violations = append(violations,
			fmt.Sprintf("must be at least %d characters", policy.MinLength))
	}
	if policy.MaxLength > 0 && len(candidate) > policy.MaxLength {
		violations = append(violations,
			fmt.Sprintf("must be at most %d characters", policy.MaxLength))
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range candidate {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSpecial = true
		}
	}
	if policy.RequireUppercase && !hasUpper {
		violations = append(violations, "must contain an uppercase letter")
	}
	if policy.RequireLowercase && !hasLower {
		violations = append(violations, "must contain a lowercase letter")
	}
	if policy.RequireDigit && !hasDigit {
		violations = append(violations, "must contain a digit")
	}
	if policy.RequireSpecial && !hasSpecial {
		violations = append(violations, "must contain a special character")
	}

	lower := strings.ToLower(candidate)

	if _, ok := commonPasswords[lower]; ok {
		violations = append(violations, "is too common")
	}
	if policy.MaxRepeatedChars > 0 && maxRepeatedRun(candidate) > policy.MaxRepeatedChars {
		violations = append(violations,
			fmt.Sprintf("must not repeat a character more than %d times in a row", policy.MaxRepeatedChars))
	}
	if hasSequentialRun(lower) {
		violations = append(violations, "must not contain sequential characters (abc, 123)")
	}
	if v := personalInfoViolation(lower, info); v != "" {
		violations = append(violations, v)
	}

	if len(violations) > 0 {
		return &PolicyViolationError{Violations: violations}
	}
	return nil
}

// CheckHistory rejects a candidate matching the current password or any of
// the retained previous hashes. Runs full argon2 verification per entry, so
// depth stays small.
func (e *PolicyEngine) CheckHistory(ctx context.Context, users store.Users, user domain.User, candidate string, depth int) error {
	if cryptox.VerifyPassword(candidate, user.PasswordHash) == nil {
		return ErrPasswordReused
	}

	if depth <= 0 {
		return nil
	}
	entries, err := users.ListPasswordHistory(ctx, user.ID, depth)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if cryptox.VerifyPassword(candidate, entry.PasswordHash) == nil {
			return ErrPasswordReused
		}
	}
	return nil
}

func maxRepeatedRun(s string) int {
	var longest, run int
	var prev rune
	for i, r := range s {
		if i > 0 && r == prev {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
		prev = r
	}
	return longest
}

func hasSequentialRun(lower string) bool {
	for _, seq := range sequentialRuns {
		for i := 0; i+3 <= len(seq); i++ {
			if strings.Contains(lower, seq[i:i+3]) {
				return true
			}
		}
	}
	return false
}

func personalInfoViolation(lower string, info PersonalInfo) string {
	fragments := []struct {
		value string
		label string
	}{
		{info.Username, "username"},
		{emailLocalPart(info.Email), "email"},
		{info.FirstName, "first name"},
		{info.LastName, "last name"},
		{info.Phone, "phone number"},
	}

	for _, f := range fragments {
		v := strings.ToLower(strings.TrimSpace(f.value))
		// Fragments shorter than 3 characters would reject too aggressively.
		if len(v) >= 3 && strings.Contains(lower, v) {
			return "must not contain your " + f.label
		}
	}
	return ""
}

func emailLocalPart(email string) string {
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return email
}
