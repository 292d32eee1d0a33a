package ws

import (
	"encoding/json"
	"errors"
	"fmt"

	"bookclub-collab/internal/chat"
)

// Inbound event types (client -> hub)
const (
	TypeJoin           = "join"
	TypeJoinDM         = "join-dm"
	TypeSwitchRoom     = "switch-room"
	TypeChatMessage    = "chat-message"
	TypeDMMessage      = "dm-message"
	TypeDeleteMessage  = "delete-message"
	TypePinMessage     = "pin-message"
	TypeAddReaction    = "add-reaction"
	TypeRemoveReaction = "remove-reaction"
)

// Outbound event types (hub -> client). chat-message is shared with inbound.
const (
	TypeInit            = "init"
	TypeAuthError       = "auth-error"
	TypeAccessDenied    = "access-denied"
	TypeUserJoined      = "user-joined"
	TypeUserLeft        = "user-left"
	TypeRoomSwitched    = "room-switched"
	TypeRoomActivity    = "room-activity"
	TypeMessageDeleted  = "message-deleted"
	TypeMessagePinned   = "message-pinned"
	TypeReactionUpdated = "reaction-updated"
	TypeDMJoined        = "dm-joined"
	TypeDMSent          = "dm-sent"
	TypeDMReceived      = "dm-received"
	TypeError           = "error"
)

var (
	ErrUnknownEvent = errors.New("unknown event type")
	ErrBadPayload   = errors.New("invalid payload")
)

// Event is one decoded inbound frame
type Event interface {
	EventType() string
}

type JoinEvent struct {
	GroupID  string `json:"groupId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	RoomID   string `json:"roomId,omitempty"`
	Token    string `json:"token"`
}

type JoinDMEvent struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

type SwitchRoomEvent struct {
	RoomID string `json:"roomId"`
}

type ChatMessageEvent struct {
	Message     *string           `json:"message,omitempty"`
	Attachments []chat.Attachment `json:"attachments,omitempty"`
}

type DMMessageEvent struct {
	ReceiverID  string            `json:"receiverId"`
	Content     string            `json:"content"`
	Attachments []chat.Attachment `json:"attachments,omitempty"`
}

type DeleteMessageEvent struct {
	MessageID string `json:"messageId"`
}

type PinMessageEvent struct {
	MessageID string `json:"messageId"`
	IsPinned  bool   `json:"isPinned"`
}

type AddReactionEvent struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

type RemoveReactionEvent struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

func (*JoinEvent) EventType() string           { return TypeJoin }
func (*JoinDMEvent) EventType() string         { return TypeJoinDM }
func (*SwitchRoomEvent) EventType() string     { return TypeSwitchRoom }
func (*ChatMessageEvent) EventType() string    { return TypeChatMessage }
func (*DMMessageEvent) EventType() string      { return TypeDMMessage }
func (*DeleteMessageEvent) EventType() string  { return TypeDeleteMessage }
func (*PinMessageEvent) EventType() string     { return TypePinMessage }
func (*AddReactionEvent) EventType() string    { return TypeAddReaction }
func (*RemoveReactionEvent) EventType() string { return TypeRemoveReaction }

// PeekType returns the type tag of a frame, or "" when it has none
func PeekType(raw []byte) string {
	var head struct {
		Type string `json:"type"`
	}
	if json.Unmarshal(raw, &head) != nil {
		return ""
	}
	return head.Type
}

// DecodeEvent reads the type discriminator of a frame and decodes the rest
// of it into the matching event struct.
func DecodeEvent(raw []byte) (Event, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	var ev Event
	switch head.Type {
	case TypeJoin:
		ev = &JoinEvent{}
	case TypeJoinDM:
		ev = &JoinDMEvent{}
	case TypeSwitchRoom:
		ev = &SwitchRoomEvent{}
	case TypeChatMessage:
		ev = &ChatMessageEvent{}
	case TypeDMMessage:
		ev = &DMMessageEvent{}
	case TypeDeleteMessage:
		ev = &DeleteMessageEvent{}
	case TypePinMessage:
		ev = &PinMessageEvent{}
	case TypeAddReaction:
		ev = &AddReactionEvent{}
	case TypeRemoveReaction:
		ev = &RemoveReactionEvent{}
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownEvent, head.Type)
	}
	if err := json.Unmarshal(raw, ev); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadPayload, head.Type, err)
	}
	return ev, nil
}

// Outbound payloads

// MessageView is a room message with its reaction summary
type MessageView struct {
	chat.Message
	Reactions []chat.ReactionGroup `json:"reactions"`
}

// MemberView is a club member hydrated from the user directory
type MemberView struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	Role      chat.Role `json:"role"`
}

// OnlineUser is one live connection in a group
type OnlineUser struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	AvatarURL    string `json:"avatarUrl,omitempty"`
	RoomID       string `json:"roomId"`
}

type InitEvent struct {
	Type           string        `json:"type"`
	ClientID       string        `json:"clientId"`
	GroupSnapshot  chat.BookClub `json:"groupSnapshot"`
	CurrentRoomID  string        `json:"currentRoomId"`
	RecentMessages []MessageView `json:"recentMessages"`
	Members        []MemberView  `json:"members"`
	OnlineUsers    []OnlineUser  `json:"onlineUsers"`
}

type AuthErrorEvent struct {
	Type            string `json:"type"`
	Message         string `json:"message"`
	ShouldReconnect bool   `json:"shouldReconnect"`
}

type AccessDeniedEvent struct {
	Type            string `json:"type"`
	Message         string `json:"message"`
	ShouldReconnect bool   `json:"shouldReconnect"`
}

type UserJoinedEvent struct {
	Type string     `json:"type"`
	User OnlineUser `json:"user"`
}

type UserLeftEvent struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
	Username     string `json:"username"`
}

type RoomSwitchedEvent struct {
	Type     string        `json:"type"`
	RoomID   string        `json:"roomId"`
	Messages []MessageView `json:"messages"`
}

type ChatMessageOut struct {
	Type    string      `json:"type"`
	Message MessageView `json:"message"`
}

type RoomActivityEvent struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

type MessageDeletedEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	DeletedBy string `json:"deletedBy"`
}

type MessagePinnedEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	IsPinned  bool   `json:"isPinned"`
	PinnedBy  string `json:"pinnedBy"`
}

type ReactionUpdatedEvent struct {
	Type      string               `json:"type"`
	MessageID string               `json:"messageId"`
	Reactions []chat.ReactionGroup `json:"reactions"`
}

type DMJoinedEvent struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type DMEvent struct {
	Type    string             `json:"type"`
	Message chat.DirectMessage `json:"message"`
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func errorEvent(msg string) ErrorEvent { return ErrorEvent{Type: TypeError, Message: msg} }
