package ws

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"bookclub-collab/internal/chat"
)

const (
	maxMessageLen  = 4000
	maxAttachments = 10
)

func (h *Hub) switchRoom(ctx context.Context, s *session, e *SwitchRoomEvent) error {
	room, err := h.groupRoom(ctx, s, e.RoomID)
	if err != nil {
		return err
	}
	msgs, err := h.RoomHistory(ctx, room.ID, h.opts.HistoryLimit)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if !h.reg.SwitchRoom(s.client.ID, room.ID) {
		return errIgnored
	}
	h.send(s.client, RoomSwitchedEvent{Type: TypeRoomSwitched, RoomID: room.ID, Messages: msgs})
	return nil
}

func (h *Hub) chatMessage(ctx context.Context, s *session, e *ChatMessageEvent) error {
	c := s.client
	var text string
	if e.Message != nil {
		text = strings.TrimSpace(*e.Message)
	}
	if text == "" && len(e.Attachments) == 0 {
		return chat.Validation("Message cannot be empty")
	}
	if utf8.RuneCountInString(text) > maxMessageLen {
		return chat.Validation("Message is too long")
	}
	if err := checkAttachments(e.Attachments); err != nil {
		return err
	}

	_, roomID, ok := h.reg.Placement(c.ID)
	if !ok {
		return errIgnored
	}
	var content *string
	if text != "" {
		content = &text
	}
	msg, err := h.st.CreateMessage(ctx, chat.Message{
		RoomID:      roomID,
		UserID:      c.UserID,
		Username:    c.Username,
		Content:     content,
		Attachments: e.Attachments,
	})
	if errors.Is(err, chat.ErrNotFound) {
		return chat.NotFound("Room not found")
	}
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}

	h.bc.ToRoomWithActivity(ctx, s.groupID, roomID, ChatMessageOut{
		Type:    TypeChatMessage,
		Message: MessageView{Message: msg, Reactions: []chat.ReactionGroup{}},
	})
	return nil
}

func (h *Hub) deleteMessage(ctx context.Context, s *session, e *DeleteMessageEvent) error {
	c := s.client
	msg, room, err := h.groupMessage(ctx, s, e.MessageID)
	if err != nil {
		return err
	}
	if msg.Deleted() {
		return chat.Validation("Message already deleted")
	}
	role, err := h.role(ctx, s)
	if err != nil {
		return err
	}
	if err := chat.AuthorizeDelete(msg, c.UserID, role); err != nil {
		return err
	}

	if _, err := h.st.DeleteMessage(ctx, msg.ID, c.UserID); err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			return chat.Validation("Message already deleted")
		}
		return fmt.Errorf("delete message: %w", err)
	}
	h.bc.ToRoom(ctx, s.groupID, room.ID, MessageDeletedEvent{
		Type:      TypeMessageDeleted,
		MessageID: msg.ID,
		DeletedBy: c.UserID,
	}, "")
	h.log.Info("ws.message.deleted", "msg", msg.ID, "by", c.UserID, "author", msg.UserID, "group", s.groupID)
	return nil
}

func (h *Hub) pinMessage(ctx context.Context, s *session, e *PinMessageEvent) error {
	c := s.client
	msg, room, err := h.groupMessage(ctx, s, e.MessageID)
	if err != nil {
		return err
	}
	role, err := h.role(ctx, s)
	if err != nil {
		return err
	}
	if err := chat.AuthorizePin(role); err != nil {
		return err
	}
	if msg.Deleted() {
		return chat.Validation("Deleted messages cannot be pinned")
	}

	updated, err := h.st.PinMessage(ctx, msg.ID, e.IsPinned)
	if errors.Is(err, chat.ErrNotFound) {
		return chat.Validation("Deleted messages cannot be pinned")
	}
	if err != nil {
		return fmt.Errorf("pin message: %w", err)
	}
	h.bc.ToRoom(ctx, s.groupID, room.ID, MessagePinnedEvent{
		Type:      TypeMessagePinned,
		MessageID: updated.ID,
		IsPinned:  updated.IsPinned,
		PinnedBy:  c.UserID,
	}, "")
	return nil
}

func (h *Hub) addReaction(ctx context.Context, s *session, e *AddReactionEvent) error {
	_, room, err := h.groupMessage(ctx, s, e.MessageID)
	if err != nil {
		return err
	}
	groups, err := h.reactions.Add(ctx, e.MessageID, s.client.UserID, e.Emoji)
	if err != nil {
		return err
	}
	h.bc.ToRoom(ctx, s.groupID, room.ID, ReactionUpdatedEvent{
		Type:      TypeReactionUpdated,
		MessageID: e.MessageID,
		Reactions: groups,
	}, "")
	return nil
}

func (h *Hub) removeReaction(ctx context.Context, s *session, e *RemoveReactionEvent) error {
	_, room, err := h.groupMessage(ctx, s, e.MessageID)
	if err != nil {
		return err
	}
	groups, err := h.reactions.Remove(ctx, e.MessageID, s.client.UserID, e.Emoji)
	if err != nil {
		return err
	}
	h.bc.ToRoom(ctx, s.groupID, room.ID, ReactionUpdatedEvent{
		Type:      TypeReactionUpdated,
		MessageID: e.MessageID,
		Reactions: groups,
	}, "")
	return nil
}

// groupRoom loads a room that must belong to the session's group
func (h *Hub) groupRoom(ctx context.Context, s *session, roomID string) (chat.Room, error) {
	if roomID == "" {
		return chat.Room{}, chat.Validation("Room ID is required")
	}
	room, err := h.st.Room(ctx, roomID)
	if errors.Is(err, chat.ErrNotFound) || (err == nil && room.ClubID != s.groupID) {
		return chat.Room{}, chat.NotFound("Room not found")
	}
	if err != nil {
		return chat.Room{}, fmt.Errorf("load room: %w", err)
	}
	return room, nil
}

// groupMessage loads a message and its room; messages of other groups are
// reported as not found
func (h *Hub) groupMessage(ctx context.Context, s *session, id string) (chat.Message, chat.Room, error) {
	if id == "" {
		return chat.Message{}, chat.Room{}, chat.Validation("Message ID is required")
	}
	msg, err := h.st.Message(ctx, id)
	if errors.Is(err, chat.ErrNotFound) {
		return chat.Message{}, chat.Room{}, chat.NotFound("Message not found")
	}
	if err != nil {
		return chat.Message{}, chat.Room{}, fmt.Errorf("load message: %w", err)
	}
	room, err := h.st.Room(ctx, msg.RoomID)
	if errors.Is(err, chat.ErrNotFound) || (err == nil && room.ClubID != s.groupID) {
		return chat.Message{}, chat.Room{}, chat.NotFound("Message not found")
	}
	if err != nil {
		return chat.Message{}, chat.Room{}, fmt.Errorf("load room: %w", err)
	}
	return msg, room, nil
}

// role reads the actor's current role. Inactive memberships carry no role.
func (h *Hub) role(ctx context.Context, s *session) (chat.Role, error) {
	ms, err := h.st.Membership(ctx, s.groupID, s.client.UserID)
	if errors.Is(err, chat.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load membership: %w", err)
	}
	if ms.Status != chat.StatusActive {
		return "", nil
	}
	return ms.Role, nil
}

func checkAttachments(as []chat.Attachment) error {
	if len(as) > maxAttachments {
		return chat.Validation("Too many attachments")
	}
	for _, a := range as {
		if strings.TrimSpace(a.URL) == "" {
			return chat.Validation("Invalid attachment")
		}
	}
	return nil
}
