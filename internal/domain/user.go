package domain

import "time"

// User is the identity record returned by the Identity API.
type User struct {
	ID       int64   `json:"id"`
	Email    string  `json:"email"`
	Username string  `json:"username"`
	Bio      *string `json:"bio"`
	Image    *string `json:"image"`
}

// UserUpdate carries the profile fields to change. Nil fields are left untouched
// and are not sent to the server.
type UserUpdate struct {
	Email    *string `json:"email,omitempty"`
	Username *string `json:"username,omitempty"`
	Bio      *string `json:"bio,omitempty"`
	Image    *string `json:"image,omitempty"`
	Password *string `json:"password,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u UserUpdate) Empty() bool {
	return u.Email == nil && u.Username == nil && u.Bio == nil && u.Image == nil && u.Password == nil
}

// Session is the client-side view of who is signed in.
// Authenticated is true iff Token is present and not expired.
type Session struct {
	User          *User
	Token         string
	Authenticated bool
}

// TokenPayload holds the claims decoded from a session token's payload segment.
// It is derived on demand and never persisted.
type TokenPayload struct {
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Email     string
	Username  string
}
