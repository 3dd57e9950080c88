package storage

import "time"

// User is a locally registered portal account.
type User struct {
	ID              string    `json:"id"`
	Username        string    `json:"username"`
	Email           string    `json:"email"`
	EmailVisibility bool      `json:"email_visibility"`
	PasswordHash    string    `json:"password_hash"`
	Created         time.Time `json:"created"`
	Updated         time.Time `json:"updated"`
}

// Session is a persisted browser session. It snapshots the identity record
// so remote identity providers do not need to be queried on every request.
type Session struct {
	ID           string    `json:"id"`
	Token        string    `json:"token"`
	UserID       string    `json:"user_id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	UserCreated  time.Time `json:"user_created"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the session has passed its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}
