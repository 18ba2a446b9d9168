package domain

import "time"

// PasswordPolicy is a named, versioned rule set for candidate passwords.
// Multiple policies may exist; the applicable one for a user is the most
// recently created whose ApplicableRoles is empty (global) or includes the
// user's role.
type PasswordPolicy struct {
	ID   string
	Name string

	MinLength int
	MaxLength int

	RequireUppercase bool
	RequireLowercase bool
	RequireDigit     bool
	RequireSpecial   bool

	// MaxRepeatedChars is the longest allowed run of one character.
	MaxRepeatedChars int

	// HistoryDepth is how many previous passwords are rejected on reuse.
	HistoryDepth int

	// ExpiryDays forces a change after this many days; 0 disables expiry.
	ExpiryDays int

	// ApplicableRoles scopes the policy; empty means global.
	ApplicableRoles []Role

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DefaultPasswordPolicy is used when no stored policy applies to a user.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		Name:             "default",
		MinLength:        8,
		MaxLength:        128,
		RequireUppercase: true,
		RequireLowercase: true,
		RequireDigit:     true,
		RequireSpecial:   true,
		MaxRepeatedChars: 3,
		HistoryDepth:     PasswordHistoryDepth,
	}
}

// AppliesTo reports whether the policy scopes to the given role.
func (p PasswordPolicy) AppliesTo(role Role) bool {
	if len(p.ApplicableRoles) == 0 {
		return true
	}
	for _, r := range p.ApplicableRoles {
		if r == role {
			return true
		}
	}
	return false
}
