package models

import "time"

// Roles, in descending order of privilege. Viewers can read records and the
// audit trail; editors can additionally create and edit records; admins can
// also delete records and manage users.
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

// User represents a registry user account. Authentication is local
// (bcrypt-hashed passwords); logins and password changes are audited.
type User struct {
	ID           string
	Username     string
	Name         string
	Email        string
	PasswordHash string
	Role         string
	Active       bool
	// ForcePasswordChange requires a password change on next login,
	// set for newly provisioned accounts.
	ForcePasswordChange bool
	CreatedAt           time.Time
}

// CanEdit reports whether the role may create or modify permission records.
func (u *User) CanEdit() bool {
	return u.Role == RoleAdmin || u.Role == RoleEditor
}
