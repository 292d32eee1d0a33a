package ws

import (
	"context"

	"bookclub-collab/internal/chat"
	"bookclub-collab/pkg/auth"
)

// Memberships answers who belongs to a club and with which role
type Memberships interface {
	Membership(ctx context.Context, clubID, userID string) (chat.Membership, error)
	Members(ctx context.Context, clubID string) ([]chat.Membership, error)
}

// Directory batch-resolves user profiles
type Directory interface {
	Profiles(ctx context.Context, ids []string) ([]chat.Profile, error)
}

// MessageStore persists clubs' rooms, messages and DMs
type MessageStore interface {
	Club(ctx context.Context, clubID string) (chat.BookClub, error)
	Room(ctx context.Context, roomID string) (chat.Room, error)
	RecentMessages(ctx context.Context, roomID string, limit int) ([]chat.Message, error)
	CreateMessage(ctx context.Context, m chat.Message) (chat.Message, error)
	Message(ctx context.Context, id string) (chat.Message, error)
	DeleteMessage(ctx context.Context, id, deletedBy string) (chat.Message, error)
	PinMessage(ctx context.Context, id string, pinned bool) (chat.Message, error)
	CreateDirectMessage(ctx context.Context, dm chat.DirectMessage) (chat.DirectMessage, error)
}

// Store is everything the hub needs from persistence
type Store interface {
	Memberships
	Directory
	MessageStore
	chat.ReactionStore
}

// TokenVerifier validates join tokens
type TokenVerifier interface {
	Verify(token string) (auth.Claims, error)
}
