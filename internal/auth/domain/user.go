package domain

import "time"

// User is a credential-store record. PasswordHash is an argon2id PHC string
// and must never be serialized into an API response.
type User struct {
	ID        string
	Username  string
	Email     string
	FirstName string
	LastName  string
	Phone     string
	Role      Role

	PasswordHash      string // argon2id encoded, peppered
	PasswordChangedAt time.Time

	Lock LockState // login_attempts + lock_until

	IsActive           bool
	MustChangePassword bool
	LastLogin          *time.Time

	// Password-reset token, stored only as a fingerprint.
	ResetTokenHash    string
	ResetTokenExpires *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PublicUser is the client-visible projection of a User. Constructing the
// response through this type is what guarantees the password hash and reset
// token never leak into a payload.
type PublicUser struct {
	ID                 string     `json:"id"`
	Username           string     `json:"username"`
	Email              string     `json:"email"`
	FirstName          string     `json:"firstName,omitempty"`
	LastName           string     `json:"lastName,omitempty"`
	Role               Role       `json:"role"`
	IsActive           bool       `json:"isActive"`
	MustChangePassword bool       `json:"mustChangePassword"`
	LastLogin          *time.Time `json:"lastLogin,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
}

// Public returns the serializable projection of u.
func (u User) Public() PublicUser {
	return PublicUser{
		ID:                 u.ID,
		Username:           u.Username,
		Email:              u.Email,
		FirstName:          u.FirstName,
		LastName:           u.LastName,
		Role:               u.Role,
		IsActive:           u.IsActive,
		MustChangePassword: u.MustChangePassword,
		LastLogin:          u.LastLogin,
		CreatedAt:          u.CreatedAt,
	}
}

// PasswordHistoryEntry is one retained historical hash, most-recent-first.
type PasswordHistoryEntry struct {
	ID           string
	UserID       string
	PasswordHash string
	CreatedAt    time.Time
}

// PasswordHistoryDepth is how many previous hashes are retained per user.
const PasswordHistoryDepth = 5
