package model

import "time"

// User is an account that owns API keys and at most one stored calendar
// credential set. Accounts are provisioned out of band (CLI or an external
// identity provider); the gateway only ever reads them.
type User struct {
	ID           string     `json:"id" db:"id"`
	Email        string     `json:"email" db:"email"`
	Name         string     `json:"name" db:"name"`
	PasswordHash string     `json:"-" db:"password_hash"`
	IsAdmin      bool       `json:"is_admin" db:"is_admin"`
	IsActive     bool       `json:"is_active" db:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// DisplayName returns the user's name, falling back to the email address
// when no name was set.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}
