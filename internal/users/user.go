// Package users manages student and administrator accounts.
package users

import "time"

// User is an account. PasswordHash and MagicHash never leave the server.
type User struct {
	ID            int64     `json:"id"`
	Username      string    `json:"username"`
	PasswordHash  string    `json:"-"`
	Admin         bool      `json:"admin"`
	Disabled      bool      `json:"disabled"`
	MagicHash     string    `json:"-"`
	MagicProvider string    `json:"magic_provider,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// HasMagic reports whether a sealed LMS credential is stored.
func (u *User) HasMagic() bool { return u.MagicHash != "" }

// CanAccess reports whether u may act on a resource owned by ownerID.
func (u *User) CanAccess(ownerID int64) bool {
	return u.Admin || u.ID == ownerID
}

// CreateRequest is the body of POST /users.
type CreateRequest struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	Magic         string `json:"magic,omitempty"`
	MagicProvider string `json:"magic_provider,omitempty"`
}

// UpdateRequest is the body of PATCH /users/self. Nil fields are left
// unchanged.
type UpdateRequest struct {
	Password      *string `json:"password,omitempty"`
	Magic         *string `json:"magic,omitempty"`
	MagicProvider *string `json:"magic_provider,omitempty"`
}
