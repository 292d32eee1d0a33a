package store

import (
	"time"

	"bookclub-collab/internal/chat"
)

// User is an account as stored, without its password hash
type User struct {
	ID        string
	Email     string
	Username  string
	AvatarURL string
	CreatedAt time.Time
}

// Profile returns the public part of u
func (u User) Profile() chat.Profile {
	return chat.Profile{ID: u.ID, Username: u.Username, AvatarURL: u.AvatarURL}
}
