package ws

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"bookclub-collab/internal/chat"
)

// sendDirect persists a DM, echoes it to the sender as dm-sent and pushes
// dm-received to the receiver's DM socket if one is live. Offline receivers
// pick it up from history.
func (h *Hub) sendDirect(ctx context.Context, s *session, e *DMMessageEvent) error {
	c := s.client
	receiver := strings.TrimSpace(e.ReceiverID)
	if receiver == "" {
		return chat.Validation("Receiver is required")
	}
	if receiver == c.UserID {
		return chat.Validation("You cannot message yourself")
	}
	content := strings.TrimSpace(e.Content)
	if content == "" && len(e.Attachments) == 0 {
		return chat.Validation("Message cannot be empty")
	}
	if utf8.RuneCountInString(content) > maxMessageLen {
		return chat.Validation("Message is too long")
	}
	if err := checkAttachments(e.Attachments); err != nil {
		return err
	}

	dm, err := h.st.CreateDirectMessage(ctx, chat.DirectMessage{
		SenderID:    c.UserID,
		ReceiverID:  receiver,
		Content:     content,
		Attachments: e.Attachments,
	})
	if errors.Is(err, chat.ErrNotFriends) {
		return chat.Forbidden("You can only message friends")
	}
	if err != nil {
		return fmt.Errorf("create dm: %w", err)
	}

	h.send(c, DMEvent{Type: TypeDMSent, Message: dm})
	h.bc.ToUser(ctx, receiver, DMEvent{Type: TypeDMReceived, Message: dm})
	return nil
}
