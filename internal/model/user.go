// Package model defines the data structures used throughout the application.
package model

import "time"

// Role is the closed set of user roles.
//
// WHY A NAMED TYPE AND NOT PLAIN STRINGS?
// Roles gate every write operation in the session layer. A plain string
// invites ad-hoc comparisons like `if role == "Admin"` scattered across
// call sites, each one a chance to typo the casing. A named type with two
// exported constants and a Valid() check keeps the set closed: the only
// place a role string is inspected is here.
type Role string

const (
	// RoleAdmin may manage users and perform all write operations.
	RoleAdmin Role = "admin"
	// RoleReadOnly may view its own data but performs no writes.
	RoleReadOnly Role = "readonly"
)

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleReadOnly
}

// User represents a registered dashboard account.
//
// The password is never stored or carried in this struct, only its bcrypt
// hash, which embeds its own salt and cost. LastLoginAt is a pointer
// because a freshly created user has never logged in (NULL in the DB).
//
// IsActive mirrors an account-disable switch: an inactive user fails
// authentication exactly like a wrong password, with no distinct message.
type User struct {
	ID           string     `json:"id"           db:"id"`
	Username     string     `json:"username"     db:"username"`
	PasswordHash string     `json:"-"            db:"password_hash"` // never serialized
	Role         Role       `json:"role"         db:"role"`
	IsActive     bool       `json:"isActive"     db:"is_active"`
	CreatedAt    time.Time  `json:"createdAt"    db:"created_at"`
	LastLoginAt  *time.Time `json:"lastLoginAt"  db:"last_login_at"` // nil until first login
}

// IsAdmin is a convenience for the session layer's role gates.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
