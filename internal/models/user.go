package models

import (
	"strings"
	"time"
)

// User captures the identity derived from a session.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"full_name,omitempty"`
}

// FirstName returns the first word of the display name, or a generic
// greeting when none is set.
func (u User) FirstName() string {
	if fields := strings.Fields(u.DisplayName); len(fields) > 0 {
		return fields[0]
	}
	return "Parceiro"
}

// Session is a signed token with bounded validity.
type Session struct {
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
}

// Expired reports whether the session is no longer valid at now.
func (s *Session) Expired(now time.Time) bool {
	return s == nil || !now.Before(s.ExpiresAt)
}

// Credential is a stored login record.
type Credential struct {
	User         User
	PasswordHash string
	CreatedAt    time.Time
}
