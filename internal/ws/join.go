package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"nhooyr.io/websocket"

	"bookclub-collab/internal/chat"
	"bookclub-collab/pkg/auth"
)

// Join-phase denials from the membership gate
var (
	ErrNotMember = errors.New("not a member of this book club")
	ErrBanned    = errors.New("banned from this book club")
)

// authError is a failed token check carried to the client as auth-error
type authError struct {
	msg       string
	reconnect bool
}

func (e *authError) Error() string { return e.msg }

// authenticate checks the join token. When the payload names a user it
// must be the token's subject.
func (h *Hub) authenticate(token, userID string) (auth.Claims, error) {
	if strings.TrimSpace(token) == "" {
		return auth.Claims{}, &authError{msg: "Authentication required"}
	}
	claims, err := h.tokens.Verify(token)
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return auth.Claims{}, &authError{msg: "Token expired", reconnect: true}
	case err != nil:
		return auth.Claims{}, &authError{msg: "Invalid token"}
	}
	if userID != "" && userID != claims.UserID {
		return auth.Claims{}, &authError{msg: "Invalid token"}
	}
	return claims, nil
}

// gate admits only ACTIVE memberships. PENDING counts as not a member.
func gate(ctx context.Context, m Memberships, groupID, userID string) (chat.Membership, error) {
	ms, err := m.Membership(ctx, groupID, userID)
	if errors.Is(err, chat.ErrNotFound) {
		return chat.Membership{}, ErrNotMember
	}
	if err != nil {
		return chat.Membership{}, fmt.Errorf("load membership: %w", err)
	}
	switch ms.Status {
	case chat.StatusActive:
		return ms, nil
	case chat.StatusBanned:
		return chat.Membership{}, ErrBanned
	}
	return chat.Membership{}, ErrNotMember
}

// join admits the socket into a book club group. Every failure here is fatal
// to the connection.
func (h *Hub) join(ctx context.Context, s *session, e *JoinEvent) error {
	if s.mode != modeNone {
		return chat.Validation("Already joined")
	}
	c := s.client

	claims, err := h.authenticate(e.Token, e.UserID)
	if err != nil {
		h.rejectJoin(ctx, s, err)
		return errRejected
	}
	if e.GroupID == "" {
		h.rejectJoin(ctx, s, chat.Validation("Group ID is required"))
		return errRejected
	}
	if _, err := gate(ctx, h.st, e.GroupID, claims.UserID); err != nil {
		h.rejectJoin(ctx, s, err)
		return errRejected
	}

	club, err := h.st.Club(ctx, e.GroupID)
	if err != nil {
		h.rejectJoin(ctx, s, fmt.Errorf("load club: %w", err))
		return errRejected
	}
	roomID := pickRoom(club, e.RoomID)
	if roomID == "" {
		h.rejectJoin(ctx, s, chat.NotFound("Room not found"))
		return errRejected
	}

	username, avatar, err := h.profile(ctx, claims.UserID, e.Username)
	if err != nil {
		h.rejectJoin(ctx, s, err)
		return errRejected
	}
	history, err := h.RoomHistory(ctx, roomID, h.opts.HistoryLimit)
	if err != nil {
		h.rejectJoin(ctx, s, fmt.Errorf("load history: %w", err))
		return errRejected
	}
	members, err := h.Members(ctx, club.ID)
	if err != nil {
		h.rejectJoin(ctx, s, fmt.Errorf("load members: %w", err))
		return errRejected
	}

	c.identify(claims.UserID, username, avatar)

	// init is queued inside the admission so it is the first frame the client
	// sees and its online list matches the peers that will announce themselves
	err = h.reg.AdmitWith(club.ID, roomID, c, func(peers []Member) {
		online := []OnlineUser{c.online(roomID)}
		for _, m := range peers {
			online = append(online, m.Client.online(m.RoomID))
		}
		sortOnline(online)
		h.send(c, InitEvent{
			Type:           TypeInit,
			ClientID:       c.ID,
			GroupSnapshot:  club,
			CurrentRoomID:  roomID,
			RecentMessages: history,
			Members:        members,
			OnlineUsers:    online,
		})
	})
	if err != nil {
		return chat.Validation("Already joined")
	}
	s.mode, s.groupID = modeGroup, club.ID

	h.bc.ToGroup(ctx, club.ID, UserJoinedEvent{Type: TypeUserJoined, User: c.online(roomID)}, c.ID)
	h.log.Info("ws.join", "conn", c.ID, "user", c.UserID, "group", club.ID, "room", roomID)
	return nil
}

// joinDM registers the socket as the user's direct-message connection
func (h *Hub) joinDM(ctx context.Context, s *session, e *JoinDMEvent) error {
	if s.mode != modeNone {
		return chat.Validation("Already joined")
	}
	c := s.client

	claims, err := h.authenticate(e.Token, e.UserID)
	if err != nil {
		h.rejectJoin(ctx, s, err)
		return errRejected
	}
	username, avatar, err := h.profile(ctx, claims.UserID, e.Username)
	if err != nil {
		h.rejectJoin(ctx, s, err)
		return errRejected
	}
	c.identify(claims.UserID, username, avatar)

	prev, err := h.reg.RegisterDM(c.UserID, c)
	if err != nil {
		return chat.Validation("Already joined")
	}
	s.mode = modeDM
	if prev != nil {
		h.log.Info("ws.dm.replaced", "user", c.UserID, "old", prev.ID, "new", c.ID)
	}

	h.send(c, DMJoinedEvent{Type: TypeDMJoined, UserID: c.UserID})
	h.log.Info("ws.dm.join", "conn", c.ID, "user", c.UserID)
	return nil
}

// rejectJoin writes the failure notice and closes the socket: policy
// violation for auth and access, internal error for anything unexpected
func (h *Hub) rejectJoin(ctx context.Context, s *session, err error) {
	c := s.client
	var (
		ev   any
		code = websocket.StatusPolicyViolation
		ae   *authError
		ce   *chat.Error
	)
	switch {
	case errors.As(err, &ae):
		ev = AuthErrorEvent{Type: TypeAuthError, Message: ae.msg, ShouldReconnect: ae.reconnect}
	case errors.Is(err, ErrBanned):
		ev = AccessDeniedEvent{Type: TypeAccessDenied, Message: "You have been banned from this book club"}
	case errors.Is(err, ErrNotMember):
		ev = AccessDeniedEvent{Type: TypeAccessDenied, Message: "You are not a member of this book club"}
	case errors.As(err, &ce):
		ev = errorEvent(ce.Msg)
	default:
		h.log.Error("ws.join", "conn", c.ID, "err", err)
		ev = errorEvent(msgUnexpected)
		code = websocket.StatusInternalError
	}
	h.log.Info("ws.join.rejected", "conn", c.ID, "reason", err.Error())

	b, _ := json.Marshal(ev)
	if err := c.WriteNow(ctx, b); err != nil {
		h.log.Debug("ws.join.notify", "conn", c.ID, "err", err)
	}
	c.Close(code, "join rejected")
}

// profile resolves display name and avatar from the directory, falling back
// to the name the client sent
func (h *Hub) profile(ctx context.Context, userID, fallback string) (string, string, error) {
	ps, err := h.st.Profiles(ctx, []string{userID})
	if err != nil {
		return "", "", fmt.Errorf("load profile: %w", err)
	}
	name := strings.TrimSpace(fallback)
	avatar := ""
	if len(ps) > 0 {
		if ps[0].Username != "" {
			name = ps[0].Username
		}
		avatar = ps[0].AvatarURL
	}
	if name == "" {
		name = "anonymous"
	}
	return name, avatar, nil
}

// Members lists a club's active members hydrated from the directory
func (h *Hub) Members(ctx context.Context, clubID string) ([]MemberView, error) {
	ms, err := h.st.Members(ctx, clubID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(ms))
	for i, m := range ms {
		ids[i] = m.UserID
	}
	ps, err := h.st.Profiles(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]chat.Profile, len(ps))
	for _, p := range ps {
		byID[p.ID] = p
	}

	out := make([]MemberView, 0, len(ms))
	for _, m := range ms {
		p := byID[m.UserID]
		out = append(out, MemberView{UserID: m.UserID, Username: p.Username, AvatarURL: p.AvatarURL, Role: m.Role})
	}
	return out, nil
}

// pickRoom returns want when it belongs to the club, else the club's first room
func pickRoom(club chat.BookClub, want string) string {
	for _, r := range club.Rooms {
		if r.ID == want {
			return r.ID
		}
	}
	if len(club.Rooms) == 0 {
		return ""
	}
	return club.Rooms[0].ID
}

func sortOnline(us []OnlineUser) {
	sort.Slice(us, func(i, j int) bool {
		if us[i].Username != us[j].Username {
			return us[i].Username < us[j].Username
		}
		return us[i].ConnectionID < us[j].ConnectionID
	})
}
