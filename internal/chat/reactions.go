package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// MaxReactionsPerMessage caps the total number of reactions on one message
const MaxReactionsPerMessage = 50

// AllowedEmoji is the reaction allow-list
var AllowedEmoji = map[string]struct{}{
	"👍": {}, "👎": {}, "❤️": {}, "😂": {}, "😮": {}, "😢": {}, "😡": {},
	"🎉": {}, "🔥": {}, "👏": {}, "📚": {}, "🤔": {}, "👀": {}, "💯": {},
}

// ReactionStore persists reactions.
//
// ReplaceReaction removes any reaction r.UserID already holds on r.MessageID
// and inserts r, atomically. It returns ErrReactionLimit, writing nothing, when
// the message already carries limit reactions from other users.
type ReactionStore interface {
	ReplaceReaction(ctx context.Context, r Reaction, limit int) error
	DeleteReaction(ctx context.Context, messageID, userID, emoji string) error
	Reactions(ctx context.Context, messageIDs []string) ([]Reaction, error)
}

// Aggregator enforces one reaction per user per message and builds summaries
type Aggregator struct {
	store ReactionStore
	limit int
}

// NewAggregator returns an Aggregator capped at MaxReactionsPerMessage
func NewAggregator(store ReactionStore) *Aggregator {
	return &Aggregator{store: store, limit: MaxReactionsPerMessage}
}

// Add sets userID's reaction on messageID to emoji, replacing any previous one,
// and returns the message's updated summary.
func (a *Aggregator) Add(ctx context.Context, messageID, userID, emoji string) ([]ReactionGroup, error) {
	emoji = strings.TrimSpace(emoji)
	if messageID == "" {
		return nil, Validation("Message ID is required")
	}
	if _, ok := AllowedEmoji[emoji]; !ok {
		return nil, Validation("Invalid emoji")
	}

	err := a.store.ReplaceReaction(ctx, Reaction{MessageID: messageID, UserID: userID, Emoji: emoji}, a.limit)
	switch {
	case errors.Is(err, ErrReactionLimit):
		return nil, Validation("Maximum reactions reached for this message")
	case errors.Is(err, ErrNotFound):
		return nil, NotFound("Message not found")
	case err != nil:
		return nil, fmt.Errorf("replace reaction: %w", err)
	}
	return a.Summary(ctx, messageID)
}

// Remove deletes userID's emoji reaction on messageID. Removing a reaction
// that does not exist is not an error.
func (a *Aggregator) Remove(ctx context.Context, messageID, userID, emoji string) ([]ReactionGroup, error) {
	emoji = strings.TrimSpace(emoji)
	if messageID == "" {
		return nil, Validation("Message ID is required")
	}
	if emoji == "" {
		return nil, Validation("Emoji is required")
	}
	if err := a.store.DeleteReaction(ctx, messageID, userID, emoji); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("delete reaction: %w", err)
	}
	return a.Summary(ctx, messageID)
}

// Summary returns the grouped reactions of one message
func (a *Aggregator) Summary(ctx context.Context, messageID string) ([]ReactionGroup, error) {
	rs, err := a.store.Reactions(ctx, []string{messageID})
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	groups := Summarize(rs)[messageID]
	if groups == nil {
		groups = []ReactionGroup{}
	}
	return groups, nil
}

// Summaries returns grouped reactions for many messages, keyed by message id
func (a *Aggregator) Summaries(ctx context.Context, messageIDs []string) (map[string][]ReactionGroup, error) {
	if len(messageIDs) == 0 {
		return map[string][]ReactionGroup{}, nil
	}
	rs, err := a.store.Reactions(ctx, messageIDs)
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	return Summarize(rs), nil
}

// Summarize groups reactions per message and emoji. Emoji keep the order of
// their first reaction, users the order they reacted in.
func Summarize(rs []Reaction) map[string][]ReactionGroup {
	out := map[string][]ReactionGroup{}
	idx := map[string]map[string]int{} // message -> emoji -> position in out
	for _, r := range rs {
		pos, ok := idx[r.MessageID]
		if !ok {
			pos = map[string]int{}
			idx[r.MessageID] = pos
		}
		i, ok := pos[r.Emoji]
		if !ok {
			i = len(out[r.MessageID])
			pos[r.Emoji] = i
			out[r.MessageID] = append(out[r.MessageID], ReactionGroup{Emoji: r.Emoji, UserIDs: []string{}})
		}
		g := &out[r.MessageID][i]
		g.Count++
		g.UserIDs = append(g.UserIDs, r.UserID)
	}
	return out
}
