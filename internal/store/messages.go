package store

import (
	"context"
	"fmt"

	"bookclub-collab/internal/chat"
)

const messageCols = `id, room_id, user_id, username, content, attachments,
	is_pinned, is_system, deleted_at, deleted_by, edited_at, created_at`

func scanMessage(s scanner) (chat.Message, error) {
	var m chat.Message
	err := s.Scan(&m.ID, &m.RoomID, &m.UserID, &m.Username, &m.Content, &m.Attachments,
		&m.IsPinned, &m.IsSystem, &m.DeletedAt, &m.DeletedBy, &m.EditedAt, &m.CreatedAt)
	if m.Attachments == nil {
		m.Attachments = []chat.Attachment{}
	}
	return m, err
}

// CreateMessage inserts a room message; id and created_at come from the database
func (p *Postgres) CreateMessage(ctx context.Context, m chat.Message) (chat.Message, error) {
	if m.Attachments == nil {
		m.Attachments = []chat.Attachment{}
	}
	row := p.pool.QueryRow(ctx, `
		INSERT INTO messages (room_id, user_id, username, content, attachments, is_system)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+messageCols,
		m.RoomID, m.UserID, m.Username, m.Content, m.Attachments, m.IsSystem)
	return scanMessage(row)
}

// Message fetches one message by ID
func (p *Postgres) Message(ctx context.Context, id string) (chat.Message, error) {
	m, err := scanMessage(p.pool.QueryRow(ctx, `SELECT `+messageCols+` FROM messages WHERE id = $1`, id))
	if err != nil {
		return chat.Message{}, notFound(err)
	}
	return m, nil
}

// RecentMessages returns the newest limit messages of a room, oldest first
func (p *Postgres) RecentMessages(ctx context.Context, roomID string, limit int) ([]chat.Message, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+messageCols+` FROM (
			SELECT `+messageCols+`
			FROM messages
			WHERE room_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at, id
	`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []chat.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteMessage soft deletes a message: placeholder content, no attachments,
// unpinned. Deleting an already deleted message is ErrNotFound.
func (p *Postgres) DeleteMessage(ctx context.Context, id, deletedBy string) (chat.Message, error) {
	row := p.pool.QueryRow(ctx, `
		UPDATE messages
		SET content = $2, attachments = '[]'::jsonb, is_pinned = FALSE,
		    deleted_at = NOW(), deleted_by = $3
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING `+messageCols,
		id, chat.DeletedPlaceholder, deletedBy)
	m, err := scanMessage(row)
	if err != nil {
		return chat.Message{}, notFound(err)
	}
	p.log.Info("message.deleted", "id", id, "by", deletedBy)
	return m, nil
}

// PinMessage sets the pinned flag of a live message. Deleted messages cannot
// be pinned and report ErrNotFound.
func (p *Postgres) PinMessage(ctx context.Context, id string, pinned bool) (chat.Message, error) {
	row := p.pool.QueryRow(ctx, `
		UPDATE messages SET is_pinned = $2
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING `+messageCols, id, pinned)
	m, err := scanMessage(row)
	if err != nil {
		return chat.Message{}, notFound(err)
	}
	return m, nil
}

// ReplaceReaction swaps userID's reaction on a message inside one transaction.
// The message row is locked so concurrent reactors cannot overshoot the limit.
func (p *Postgres) ReplaceReaction(ctx context.Context, r chat.Reaction, limit int) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id string
	err = tx.QueryRow(ctx, `
		SELECT id FROM messages WHERE id = $1 AND deleted_at IS NULL FOR UPDATE
	`, r.MessageID).Scan(&id)
	if err != nil {
		return notFound(err)
	}

	var others int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM reactions WHERE message_id = $1 AND user_id <> $2
	`, r.MessageID, r.UserID).Scan(&others)
	if err != nil {
		return err
	}
	if others >= limit {
		return chat.ErrReactionLimit
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM reactions WHERE message_id = $1 AND user_id = $2
	`, r.MessageID, r.UserID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO reactions (message_id, user_id, emoji) VALUES ($1, $2, $3)
	`, r.MessageID, r.UserID, r.Emoji); err != nil {
		return fmt.Errorf("insert reaction: %w", err)
	}
	return tx.Commit(ctx)
}

// DeleteReaction removes one reaction; a missing row is not an error
func (p *Postgres) DeleteReaction(ctx context.Context, messageID, userID, emoji string) error {
	_, err := p.pool.Exec(ctx, `
		DELETE FROM reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3
	`, messageID, userID, emoji)
	return err
}

// Reactions lists reactions of the given messages in creation order
func (p *Postgres) Reactions(ctx context.Context, messageIDs []string) ([]chat.Reaction, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, message_id, user_id, emoji, created_at
		FROM reactions
		WHERE message_id = ANY($1)
		ORDER BY created_at, id
	`, messageIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []chat.Reaction
	for rows.Next() {
		var r chat.Reaction
		if err := rows.Scan(&r.ID, &r.MessageID, &r.UserID, &r.Emoji, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreateDirectMessage stores a DM between two friends.
// Returns ErrNotFriends when no accepted friendship links them.
func (p *Postgres) CreateDirectMessage(ctx context.Context, dm chat.DirectMessage) (chat.DirectMessage, error) {
	var friends bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM friendships
			WHERE status = 'ACCEPTED'
			  AND ((user_id = $1 AND friend_id = $2) OR (user_id = $2 AND friend_id = $1))
		)
	`, dm.SenderID, dm.ReceiverID).Scan(&friends)
	if err != nil {
		return chat.DirectMessage{}, err
	}
	if !friends {
		return chat.DirectMessage{}, chat.ErrNotFriends
	}

	if dm.Attachments == nil {
		dm.Attachments = []chat.Attachment{}
	}
	var out chat.DirectMessage
	err = p.pool.QueryRow(ctx, `
		INSERT INTO direct_messages (sender_id, receiver_id, content, attachments)
		VALUES ($1, $2, $3, $4)
		RETURNING id, sender_id, receiver_id, content, attachments, created_at
	`, dm.SenderID, dm.ReceiverID, dm.Content, dm.Attachments).
		Scan(&out.ID, &out.SenderID, &out.ReceiverID, &out.Content, &out.Attachments, &out.CreatedAt)
	if err != nil {
		return chat.DirectMessage{}, err
	}
	return out, nil
}

// DirectMessages returns the newest limit DMs between two users, oldest first
func (p *Postgres) DirectMessages(ctx context.Context, userA, userB string, limit int) ([]chat.DirectMessage, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, sender_id, receiver_id, content, attachments, created_at FROM (
			SELECT id, sender_id, receiver_id, content, attachments, created_at
			FROM direct_messages
			WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
			ORDER BY created_at DESC, id DESC
			LIMIT $3
		) recent
		ORDER BY created_at, id
	`, userA, userB, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []chat.DirectMessage{}
	for rows.Next() {
		var dm chat.DirectMessage
		if err := rows.Scan(&dm.ID, &dm.SenderID, &dm.ReceiverID, &dm.Content, &dm.Attachments, &dm.CreatedAt); err != nil {
			return nil, err
		}
		if dm.Attachments == nil {
			dm.Attachments = []chat.Attachment{}
		}
		out = append(out, dm)
	}
	return out, rows.Err()
}
