package models

import "time"

// Session is a persisted login. Owner fields (Username, Email, Role,
// UserActive) are filled from the users table by lookups that join it.
type Session struct {
	ID               string
	UserID           string
	AccessToken      string
	RefreshToken     *string
	ExpiresAt        time.Time
	RefreshExpiresAt *time.Time
	IPAddress        string
	UserAgent        string
	CreatedAt        time.Time
	LastActivity     time.Time

	Username   string
	Email      string
	Role       string
	UserActive bool
}

// SessionInfo is the listing view of a session; tokens are never exposed.
type SessionInfo struct {
	ID           string    `json:"id"`
	IPAddress    string    `json:"ipAddress"`
	UserAgent    string    `json:"userAgent"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Info strips the tokens from s.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:           s.ID,
		IPAddress:    s.IPAddress,
		UserAgent:    s.UserAgent,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
		ExpiresAt:    s.ExpiresAt,
	}
}
