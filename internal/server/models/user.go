package models

import "time"

// User is an account that can authenticate against the gateway.
type User struct {
	ID                  string
	Username            string
	Email               string
	PasswordHash        string
	Role                string
	Active              bool
	FailedLoginAttempts int
	LockedUntil         *time.Time
	LastLogin           *time.Time
	CreatedAt           time.Time
}

// Profile is the public view of a user returned by /me.
type Profile struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	Role      string     `json:"role"`
	CreatedAt time.Time  `json:"createdAt"`
	LastLogin *time.Time `json:"lastLogin"`
}

// Identity is the authenticated principal attached to a request.
type Identity struct {
	UserID    string
	Username  string
	Email     string
	Role      string
	SessionID string
}
