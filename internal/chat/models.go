// Package chat holds the book club chat domain: persisted shapes, the role
// hierarchy, moderation rules and reaction aggregation.
package chat

import "time"

// MembershipStatus is the state of a user's membership in a book club
type MembershipStatus string

const (
	StatusActive  MembershipStatus = "ACTIVE"
	StatusBanned  MembershipStatus = "BANNED"
	StatusPending MembershipStatus = "PENDING"
)

// Membership links a user to a book club with a role
type Membership struct {
	ClubID   string           `json:"clubId"`
	UserID   string           `json:"userId"`
	Role     Role             `json:"role"`
	Status   MembershipStatus `json:"status"`
	JoinedAt time.Time        `json:"joinedAt"`
}

// Profile is the public face of a user as returned by the directory
type Profile struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// BookClub is the chat surface of one club: its rooms in display order
type BookClub struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Rooms []Room `json:"rooms"`
}

// Room is a sub-channel of a book club
type Room struct {
	ID        string    `json:"id"`
	ClubID    string    `json:"clubId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Attachment references an uploaded file; uploads themselves happen elsewhere
type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Message is a persisted room message.
// A deleted message always has the placeholder content and IsPinned=false.
type Message struct {
	ID          string       `json:"id"`
	RoomID      string       `json:"roomId"`
	UserID      string       `json:"userId"`
	Username    string       `json:"username"`
	Content     *string      `json:"content"`
	Attachments []Attachment `json:"attachments"`
	IsPinned    bool         `json:"isPinned"`
	IsSystem    bool         `json:"isSystem"`
	DeletedAt   *time.Time   `json:"deletedAt"`
	DeletedBy   *string      `json:"deletedBy"`
	EditedAt    *time.Time   `json:"editedAt"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// Deleted reports whether the message was soft deleted
func (m Message) Deleted() bool { return m.DeletedAt != nil }

// Reaction is one user's emoji on one message
type Reaction struct {
	ID        string    `json:"id"`
	MessageID string    `json:"messageId"`
	UserID    string    `json:"userId"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"createdAt"`
}

// ReactionGroup is the grouped view of one emoji on a message
type ReactionGroup struct {
	Emoji   string   `json:"emoji"`
	Count   int      `json:"count"`
	UserIDs []string `json:"userIds"`
}

// DirectMessage is a persisted message between two friends
type DirectMessage struct {
	ID          string       `json:"id"`
	SenderID    string       `json:"senderId"`
	ReceiverID  string       `json:"receiverId"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments"`
	CreatedAt   time.Time    `json:"createdAt"`
}
