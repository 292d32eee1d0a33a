package httpx

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"log/slog"

	"bookclub-collab/internal/chat"
	"bookclub-collab/internal/ws"
	"bookclub-collab/pkg/auth"
)

// HistoryStore is what the history endpoints read from persistence
type HistoryStore interface {
	Room(ctx context.Context, roomID string) (chat.Room, error)
	Membership(ctx context.Context, clubID, userID string) (chat.Membership, error)
	DirectMessages(ctx context.Context, userA, userB string, limit int) ([]chat.DirectMessage, error)
}

// HistoryAPI serves message history outside the socket: room backlog and
// the DMs a user missed while offline
type HistoryAPI struct {
	DB    HistoryStore
	Hub   *ws.Hub
	Limit int
	Log   *slog.Logger
}

// Room returns the latest messages of a room with reaction summaries.
// Only active members of the room's club may read it.
func (a *HistoryAPI) Room(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid := auth.UserID(ctx)

	room, err := a.DB.Room(ctx, r.PathValue("id"))
	if errors.Is(err, chat.ErrNotFound) {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	if err != nil {
		a.fail(w, "history.room", err)
		return
	}

	ms, err := a.DB.Membership(ctx, room.ClubID, uid)
	if errors.Is(err, chat.ErrNotFound) || (err == nil && ms.Status != chat.StatusActive) {
		http.Error(w, "not a member of this book club", http.StatusForbidden)
		return
	}
	if err != nil {
		a.fail(w, "history.room", err)
		return
	}

	msgs, err := a.Hub.RoomHistory(ctx, room.ID, a.limit(r))
	if err != nil {
		a.fail(w, "history.room", err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// Direct returns the conversation between the caller and another user
func (a *HistoryAPI) Direct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid := auth.UserID(ctx)
	other := r.PathValue("userId")
	if other == "" || other == uid {
		http.Error(w, "invalid user", http.StatusBadRequest)
		return
	}

	dms, err := a.DB.DirectMessages(ctx, uid, other, a.limit(r))
	if err != nil {
		a.fail(w, "history.dm", err)
		return
	}
	writeJSON(w, http.StatusOK, dms)
}

// limit reads ?limit=, clamped to the configured history size
func (a *HistoryAPI) limit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 || n > a.Limit {
		return a.Limit
	}
	return n
}

func (a *HistoryAPI) fail(w http.ResponseWriter, event string, err error) {
	a.Log.Error(event, "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
