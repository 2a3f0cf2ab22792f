// Package model defines the data structures used throughout the application.
package model

import "time"

// Role is the authorization level of an account.
type Role string

const (
	RoleConsumer      Role = "consumer"
	RoleModerator     Role = "moderator"
	RoleAdministrator Role = "administrator"
)

// Roles lists every valid role, lowest privilege first.
var Roles = []Role{RoleConsumer, RoleModerator, RoleAdministrator}

// Valid reports whether r is one of the enumerated roles.
func (r Role) Valid() bool {
	switch r {
	case RoleConsumer, RoleModerator, RoleAdministrator:
		return true
	}
	return false
}

// User represents a registered account.
//
// Email and UserName are stored lowercase. UserName is empty for accounts
// created through Google sign-in, and PasswordHash is empty for accounts
// that have never set a local password. GoogleID is the provider subject
// recorded on first OAuth login and is never overwritten afterwards.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	UserName     string    `json:"userName"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	GoogleID     string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// HasPassword reports whether the account can use password login.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// PublicUser is the projection of a User that is safe to return to clients.
type PublicUser struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	UserName string `json:"userName"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
}

// Public returns the client-facing projection of u.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:       u.ID,
		Name:     u.Name,
		UserName: u.UserName,
		Email:    u.Email,
		Role:     u.Role,
	}
}

// DisplayName is the name used to greet the user in emails.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.UserName
}
