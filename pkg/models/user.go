package models

import "time"

// UserRole controls what a user may see and administer.
type UserRole string

const (
	RolePublic UserRole = "public"
	RoleMember UserRole = "member"
	RoleAdmin  UserRole = "admin"
)

// Valid reports whether the role is one of the known values.
func (r UserRole) Valid() bool {
	switch r {
	case RolePublic, RoleMember, RoleAdmin:
		return true
	}
	return false
}

// User is an account. Accounts are soft-deactivated, never deleted.
type User struct {
	ID           string    `json:"user_id" db:"user_id"`
	Username     string    `json:"username" db:"username"`
	Email        string    `json:"email" db:"email"`
	Role         UserRole  `json:"role" db:"role"`
	PasswordHash string    `json:"-" db:"password_hash"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}
