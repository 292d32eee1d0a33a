package chat

import "time"

// DeletedPlaceholder replaces the content of a soft-deleted message
const DeletedPlaceholder = "This message was deleted"

const (
	msgDeleteOthers = "You can only delete your own messages"
	msgPinDenied    = "Only moderators can pin messages"
)

// CanDelete reports whether actor may delete msg: authors always may,
// others need MODERATOR or above.
func CanDelete(msg Message, actorID string, role Role) bool {
	return msg.UserID == actorID || role.AtLeast(RoleModerator)
}

// CanPin reports whether role may pin or unpin; authorship does not matter
func CanPin(role Role) bool { return role.AtLeast(RoleModerator) }

// AuthorizeDelete returns a Forbidden error when CanDelete is false
func AuthorizeDelete(msg Message, actorID string, role Role) error {
	if !CanDelete(msg, actorID, role) {
		return Forbidden(msgDeleteOthers)
	}
	return nil
}

// AuthorizePin returns a Forbidden error when CanPin is false
func AuthorizePin(role Role) error {
	if !CanPin(role) {
		return Forbidden(msgPinDenied)
	}
	return nil
}

// SoftDelete applies the deletion end state to m: placeholder content, no
// attachments, unpinned, with the deletion marker set.
func SoftDelete(m Message, by string, at time.Time) Message {
	content := DeletedPlaceholder
	m.Content = &content
	m.Attachments = []Attachment{}
	m.IsPinned = false
	m.DeletedAt = &at
	m.DeletedBy = &by
	return m
}
