package auth

import "time"

// User represents an authenticated user account. The role is a proper
// reference to the role catalog, not a free-form string.
type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string
	RoleID       int64
	RoleCode     string
	IsActive     bool
	TOTPSecret   string
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TwoFactorEnabled reports whether the account has a confirmed TOTP secret.
func (u *User) TwoFactorEnabled() bool {
	return u.TOTPSecret != ""
}
