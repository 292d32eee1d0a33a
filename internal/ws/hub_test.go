package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"bookclub-collab/internal/chat"
	"bookclub-collab/internal/store"
	"bookclub-collab/pkg/auth"
)

type testEnv struct {
	hub  *Hub
	st   *store.Memory
	jwt  *auth.JWT
	url  string
	club chat.BookClub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	st := store.NewMemory()
	club, err := st.CreateClub(ctx, "Dune readers", "general", "spoilers")
	if err != nil {
		t.Fatal(err)
	}
	j := auth.New("test-secret")
	hub := NewHub(discardLogger(), nil, st, j, Options{HistoryLimit: 50})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	runCtx, cancel := context.WithCancel(context.Background())
	go hub.Run(runCtx)
	t.Cleanup(cancel)

	return &testEnv{
		hub:  hub,
		st:   st,
		jwt:  j,
		url:  "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		club: club,
	}
}

// user creates a profile with a membership in clubID and returns its id and token
func (e *testEnv) user(t *testing.T, name, clubID string, role chat.Role, status chat.MembershipStatus) (string, string) {
	t.Helper()
	id := uuid.NewString()
	e.st.AddProfile(chat.Profile{ID: id, Username: name})
	if clubID != "" {
		if err := e.st.AddMember(context.Background(), clubID, id, role, status); err != nil {
			t.Fatal(err)
		}
	}
	tok, err := e.jwt.Sign(id, name+"@example.com", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return id, tok
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, e.url, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func (e *testEnv) join(t *testing.T, groupID, userID, token, roomID string) (*websocket.Conn, InitEvent) {
	t.Helper()
	conn := e.dial(t)
	writeMsg(t, conn, map[string]any{
		"type": TypeJoin, "groupId": groupID, "userId": userID, "username": "ignored", "roomId": roomID, "token": token,
	})
	f := next(t, conn)
	if f.Type != TypeInit {
		t.Fatalf("first frame = %s: %s", f.Type, f.Raw)
	}
	var init InitEvent
	f.decode(t, &init)
	return conn, init
}

type frame struct {
	Type string
	Raw  []byte
}

func (f frame) decode(t *testing.T, v any) {
	t.Helper()
	if err := json.Unmarshal(f.Raw, v); err != nil {
		t.Fatalf("decode %s: %v", f.Type, err)
	}
}

func (f frame) message(t *testing.T) string {
	t.Helper()
	var ev ErrorEvent
	f.decode(t, &ev)
	return ev.Message
}

func writeMsg(t *testing.T, conn *websocket.Conn, msg any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		t.Fatalf("write json: %v", err)
	}
}

func writeRaw(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// next reads one frame, skipping the given types
func next(t *testing.T, conn *websocket.Conn, skip ...string) frame {
	t.Helper()
	return readUntil(t, conn, func(f frame) bool {
		for _, s := range skip {
			if f.Type == s {
				return false
			}
		}
		return true
	})
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(frame) bool) frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		f := frame{Type: head.Type, Raw: data}
		if match(f) {
			return f
		}
	}
}

// closedWith reads until the server closes the socket and returns the status
func closedWith(t *testing.T, conn *websocket.Conn) websocket.StatusCode {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return websocket.CloseStatus(err)
		}
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(4 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestModerationWorkedExample(t *testing.T) {
	env := newTestEnv(t)
	general := env.club.Rooms[0].ID
	aID, aTok := env.user(t, "ann", env.club.ID, chat.RoleMember, chat.StatusActive)
	bID, bTok := env.user(t, "ben", env.club.ID, chat.RoleModerator, chat.StatusActive)

	a, initA := env.join(t, env.club.ID, aID, aTok, general)
	if initA.CurrentRoomID != general || len(initA.OnlineUsers) != 1 || len(initA.Members) != 2 {
		t.Fatalf("init = %+v", initA)
	}
	b, initB := env.join(t, env.club.ID, bID, bTok, general)
	if len(initB.OnlineUsers) != 2 {
		t.Fatalf("online users = %+v", initB.OnlineUsers)
	}
	if f := next(t, a); f.Type != TypeUserJoined {
		t.Fatalf("a got %s", f.Type)
	}

	// B posts, both see it
	writeMsg(t, b, map[string]any{"type": TypeChatMessage, "message": "spice must flow"})
	var posted ChatMessageOut
	next(t, a).decode(t, &posted)
	if posted.Type != TypeChatMessage || posted.Message.Content == nil || *posted.Message.Content != "spice must flow" {
		t.Fatalf("a got %+v", posted)
	}
	if f := next(t, b); f.Type != TypeChatMessage {
		t.Fatalf("b got %s", f.Type)
	}
	msgID := posted.Message.ID

	// B pins, both see it
	writeMsg(t, b, map[string]any{"type": TypePinMessage, "messageId": msgID, "isPinned": true})
	for _, c := range []*websocket.Conn{a, b} {
		var pin MessagePinnedEvent
		next(t, c).decode(t, &pin)
		if pin.Type != TypeMessagePinned || !pin.IsPinned || pin.PinnedBy != bID {
			t.Fatalf("pin = %+v", pin)
		}
	}

	// A cannot delete B's message; only A hears about it
	writeMsg(t, a, map[string]any{"type": TypeDeleteMessage, "messageId": msgID})
	if f := next(t, a); f.Type != TypeError || f.message(t) != "You can only delete your own messages" {
		t.Fatalf("a got %s: %s", f.Type, f.Raw)
	}

	// A cannot pin either
	writeMsg(t, a, map[string]any{"type": TypePinMessage, "messageId": msgID, "isPinned": false})
	if f := next(t, a); f.Type != TypeError || f.message(t) != "Only moderators can pin messages" {
		t.Fatalf("a got %s: %s", f.Type, f.Raw)
	}

	// B deletes; the next frame on both sockets is the deletion
	writeMsg(t, b, map[string]any{"type": TypeDeleteMessage, "messageId": msgID})
	for _, c := range []*websocket.Conn{a, b} {
		var del MessageDeletedEvent
		f := next(t, c)
		f.decode(t, &del)
		if del.Type != TypeMessageDeleted || del.MessageID != msgID || del.DeletedBy != bID {
			t.Fatalf("got %s: %s", f.Type, f.Raw)
		}
	}

	stored, err := env.st.Message(context.Background(), msgID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Content == nil || *stored.Content != chat.DeletedPlaceholder || stored.IsPinned || !stored.Deleted() {
		t.Fatalf("stored = %+v", stored)
	}

	// a deleted message cannot be pinned again
	writeMsg(t, b, map[string]any{"type": TypePinMessage, "messageId": msgID, "isPinned": true})
	if f := next(t, b); f.Type != TypeError {
		t.Fatalf("b got %s", f.Type)
	}
}

func TestMemberDeletesOwnMessage(t *testing.T) {
	env := newTestEnv(t)
	aID, aTok := env.user(t, "ann", env.club.ID, chat.RoleMember, chat.StatusActive)
	a, _ := env.join(t, env.club.ID, aID, aTok, "")

	writeMsg(t, a, map[string]any{"type": TypeChatMessage, "message": "oops"})
	var posted ChatMessageOut
	next(t, a).decode(t, &posted)

	writeMsg(t, a, map[string]any{"type": TypeDeleteMessage, "messageId": posted.Message.ID})
	if f := next(t, a); f.Type != TypeMessageDeleted {
		t.Fatalf("got %s: %s", f.Type, f.Raw)
	}
}

func TestChatMessageScopedToRoom(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	general, spoilers := env.club.Rooms[0].ID, env.club.Rooms[1].ID

	other, err := env.st.CreateClub(ctx, "Other club", "lobby")
	if err != nil {
		t.Fatal(err)
	}

	cID, cTok := env.user(t, "cal", env.club.ID, chat.RoleMember, chat.StatusActive)
	bID, bTok := env.user(t, "ben", env.club.ID, chat.RoleMember, chat.StatusActive)
	aID, aTok := env.user(t, "ann", env.club.ID, chat.RoleMember, chat.StatusActive)
	dID, dTok := env.user(t, "dee", other.ID, chat.RoleMember, chat.StatusActive)

	d, _ := env.join(t, other.ID, dID, dTok, "")
	c, _ := env.join(t, env.club.ID, cID, cTok, spoilers)
	b, _ := env.join(t, env.club.ID, bID, bTok, general)
	a, _ := env.join(t, env.club.ID, aID, aTok, general)

	writeMsg(t, a, map[string]any{"type": TypeChatMessage, "message": "chapter one"})

	if f := next(t, b, TypeUserJoined); f.Type != TypeChatMessage {
		t.Fatalf("same room got %s", f.Type)
	}
	var act RoomActivityEvent
	f := next(t, c, TypeUserJoined)
	f.decode(t, &act)
	if act.Type != TypeRoomActivity || act.RoomID != general {
		t.Fatalf("other room got %s: %s", f.Type, f.Raw)
	}

	// the room fanout completed before the activity ping, so anything for
	// d would already be queued ahead of d's own message
	writeMsg(t, d, map[string]any{"type": TypeChatMessage, "message": "hello lobby"})
	var own ChatMessageOut
	f = next(t, d)
	f.decode(t, &own)
	if own.Message.UserID != dID {
		t.Fatalf("other group got %s", f.Raw)
	}
}

func TestSwitchRoom(t *testing.T) {
	env := newTestEnv(t)
	general, spoilers := env.club.Rooms[0].ID, env.club.Rooms[1].ID
	aID, aTok := env.user(t, "ann", env.club.ID, chat.RoleMember, chat.StatusActive)
	a, init := env.join(t, env.club.ID, aID, aTok, "")
	if init.CurrentRoomID != general {
		t.Fatalf("default room = %s", init.CurrentRoomID)
	}

	writeMsg(t, a, map[string]any{"type": TypeSwitchRoom, "roomId": spoilers})
	var sw RoomSwitchedEvent
	next(t, a).decode(t, &sw)
	if sw.Type != TypeRoomSwitched || sw.RoomID != spoilers || sw.Messages == nil {
		t.Fatalf("switch = %+v", sw)
	}
	if _, room, _ := env.hub.Registry().Placement(init.ClientID); room != spoilers {
		t.Fatalf("registry room = %s", room)
	}

	writeMsg(t, a, map[string]any{"type": TypeSwitchRoom, "roomId": "no-such-room"})
	if f := next(t, a); f.Type != TypeError || f.message(t) != "Room not found" {
		t.Fatalf("got %s: %s", f.Type, f.Raw)
	}
}

func TestReactionsOverSocket(t *testing.T) {
	env := newTestEnv(t)
	aID, aTok := env.user(t, "ann", env.club.ID, chat.RoleMember, chat.StatusActive)
	a, _ := env.join(t, env.club.ID, aID, aTok, "")

	writeMsg(t, a, map[string]any{"type": TypeChatMessage, "message": "react to me"})
	var posted ChatMessageOut
	next(t, a).decode(t, &posted)
	id := posted.Message.ID

	writeMsg(t, a, map[string]any{"type": TypeAddReaction, "messageId": id, "emoji": "👍"})
	writeMsg(t, a, map[string]any{"type": TypeAddReaction, "messageId": id, "emoji": "🔥"})
	next(t, a)
	var upd ReactionUpdatedEvent
	next(t, a).decode(t, &upd)
	if len(upd.Reactions) != 1 || upd.Reactions[0].Emoji != "🔥" || upd.Reactions[0].Count != 1 {
		t.Fatalf("reactions = %+v", upd.Reactions)
	}

	writeMsg(t, a, map[string]any{"type": TypeAddReaction, "messageId": id, "emoji": "🦄"})
	if f := next(t, a); f.Type != TypeError || f.message(t) != "Invalid emoji" {
		t.Fatalf("got %s: %s", f.Type, f.Raw)
	}

	writeMsg(t, a, map[string]any{"type": TypeRemoveReaction, "messageId": id, "emoji": "🔥"})
	next(t, a).decode(t, &upd)
	if len(upd.Reactions) != 0 {
		t.Fatalf("after remove = %+v", upd.Reactions)
	}

	writeMsg(t, a, map[string]any{"type": TypeAddReaction, "messageId": "missing", "emoji": "👍"})
	if f := next(t, a); f.Type != TypeError || f.message(t) != "Message not found" {
		t.Fatalf("got %s: %s", f.Type, f.Raw)
	}
}

func TestJoinAuthFailures(t *testing.T) {
	env := newTestEnv(t)
	uID, _ := env.user(t, "ann", env.club.ID, chat.RoleMember, chat.StatusActive)
	expired, err := env.jwt.Sign(uID, "ann@example.com", -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	forged, err := auth.New("other-secret").Sign(uID, "ann@example.com", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	_, otherTok := env.user(t, "eve", env.club.ID, chat.RoleMember, chat.StatusActive)

	tests := []struct {
		name      string
		token     string
		msg       string
		reconnect bool
	}{
		{"missing", "", "Authentication required", false},
		{"expired", expired, "Token expired", true},
		{"forged", forged, "Invalid token", false},
		{"someone else's", otherTok, "Invalid token", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := env.dial(t)
			writeMsg(t, conn, map[string]any{"type": TypeJoin, "groupId": env.club.ID, "userId": uID, "token": tt.token})
			var ev AuthErrorEvent
			f := next(t, conn)
			f.decode(t, &ev)
			if ev.Type != TypeAuthError || ev.Message != tt.msg || ev.ShouldReconnect != tt.reconnect {
				t.Fatalf("got %s", f.Raw)
			}
			if code := closedWith(t, conn); code != websocket.StatusPolicyViolation {
				t.Fatalf("close code = %v", code)
			}
		})
	}
	if env.hub.Registry().HasGroup(env.club.ID) {
		t.Fatal("rejected join left state behind")
	}
}

func TestJoinAccessDenied(t *testing.T) {
	env := newTestEnv(t)
	bannedID, bannedTok := env.user(t, "bob", env.club.ID, chat.RoleMember, chat.StatusBanned)
	pendingID, pendingTok := env.user(t, "pat", env.club.ID, chat.RoleMember, chat.StatusPending)
	strangerID, strangerTok := env.user(t, "sam", "", "", "")

	tests := []struct {
		name, id, tok, msg string
	}{
		{"banned", bannedID, bannedTok, "You have been banned from this book club"},
		{"pending", pendingID, pendingTok, "You are not a member of this book club"},
		{"stranger", strangerID, strangerTok, "You are not a member of this book club"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := env.dial(t)
			writeMsg(t, conn, map[string]any{"type": TypeJoin, "groupId": env.club.ID, "userId": tt.id, "token": tt.tok})
			var ev AccessDeniedEvent
			f := next(t, conn)
			f.decode(t, &ev)
			if ev.Type != TypeAccessDenied || ev.Message != tt.msg || ev.ShouldReconnect {
				t.Fatalf("got %s", f.Raw)
			}
			if code := closedWith(t, conn); code != websocket.StatusPolicyViolation {
				t.Fatalf("close code = %v", code)
			}
		})
	}
}

func TestEventsBeforeJoinIgnored(t *testing.T) {
	env := newTestEnv(t)
	aID, aTok := env.user(t, "ann", env.club.ID, chat.RoleMember, chat.StatusActive)
	conn := env.dial(t)

	writeMsg(t, conn, map[string]any{"type": TypeChatMessage, "message": "too early"})
	writeMsg(t, conn, map[string]any{"type": "dance"})
	writeRaw(t, conn, `not json`)
	writeRaw(t, conn, `{"type":"chat-message","message":5}`)
	writeMsg(t, conn, map[string]any{"type": TypeJoin, "groupId": env.club.ID, "userId": aID, "token": aTok})

	var init InitEvent
	f := next(t, conn)
	f.decode(t, &init)
	if f.Type != TypeInit || len(init.RecentMessages) != 0 {
		t.Fatalf("first frame %s", f.Raw)
	}

	writeMsg(t, conn, map[string]any{"type": TypeJoin, "groupId": env.club.ID, "userId": aID, "token": aTok})
	if f := next(t, conn); f.Type != TypeError || f.message(t) != "Already joined" {
		t.Fatalf("rejoin got %s", f.Raw)
	}
	writeMsg(t, conn, map[string]any{"type": "dance"})
	if f := next(t, conn); f.Type != TypeError || f.message(t) != "Unknown event type" {
		t.Fatalf("unknown got %s", f.Raw)
	}
}

func TestMalformedJoinCloses(t *testing.T) {
	env := newTestEnv(t)
	for _, raw := range []string{
		`{"type":"join","groupId":42}`,
		`{"type":"join-dm","token":["x"]}`,
	} {
		conn := env.dial(t)
		writeRaw(t, conn, raw)
		if f := next(t, conn); f.Type != TypeError || f.message(t) != "Invalid payload" {
			t.Fatalf("%s: got %s", raw, f.Raw)
		}
		if code := closedWith(t, conn); code != websocket.StatusPolicyViolation {
			t.Fatalf("%s: close code = %v", raw, code)
		}
	}
}

func TestGroupRemovedAfterAllLeave(t *testing.T) {
	env := newTestEnv(t)
	aID, aTok := env.user(t, "ann", env.club.ID, chat.RoleMember, chat.StatusActive)
	bID, bTok := env.user(t, "ben", env.club.ID, chat.RoleMember, chat.StatusActive)

	a, initA := env.join(t, env.club.ID, aID, aTok, "")
	b, _ := env.join(t, env.club.ID, bID, bTok, "")
	if !env.hub.Registry().HasGroup(env.club.ID) {
		t.Fatal("group missing after joins")
	}

	_ = a.Close(websocket.StatusNormalClosure, "")
	var left UserLeftEvent
	next(t, b).decode(t, &left)
	if left.Type != TypeUserLeft || left.ConnectionID != initA.ClientID || left.Username != "ann" {
		t.Fatalf("left = %+v", left)
	}

	_ = b.Close(websocket.StatusNormalClosure, "")
	eventually(t, func() bool { return !env.hub.Registry().HasGroup(env.club.ID) })
}

func TestDirectMessages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	xID, xTok := env.user(t, "xan", "", "", "")
	yID, yTok := env.user(t, "yan", "", "", "")
	zID, _ := env.user(t, "zed", "", "", "")
	if err := env.st.AddFriendship(ctx, xID, yID); err != nil {
		t.Fatal(err)
	}

	x := env.dial(t)
	writeMsg(t, x, map[string]any{"type": TypeJoinDM, "userId": xID, "token": xTok})
	var joined DMJoinedEvent
	next(t, x).decode(t, &joined)
	if joined.Type != TypeDMJoined || joined.UserID != xID {
		t.Fatalf("dm join = %+v", joined)
	}
	if env.hub.Registry().GroupCount() != 0 {
		t.Fatal("dm socket landed in a group")
	}

	// y is offline: persisted, echoed to x only
	writeMsg(t, x, map[string]any{"type": TypeDMMessage, "receiverId": yID, "content": "you there?"})
	if f := next(t, x); f.Type != TypeDMSent {
		t.Fatalf("x got %s", f.Raw)
	}
	hist, err := env.st.DirectMessages(ctx, xID, yID, 10)
	if err != nil || len(hist) != 1 {
		t.Fatalf("history = %v, %v", hist, err)
	}

	y := env.dial(t)
	writeMsg(t, y, map[string]any{"type": TypeJoinDM, "userId": yID, "token": yTok})
	next(t, y)

	writeMsg(t, x, map[string]any{"type": TypeDMMessage, "receiverId": yID, "content": "now?"})
	var got DMEvent
	next(t, y).decode(t, &got)
	if got.Type != TypeDMReceived || got.Message.Content != "now?" || got.Message.SenderID != xID {
		t.Fatalf("y got %+v", got)
	}
	if f := next(t, x); f.Type != TypeDMSent {
		t.Fatalf("x got %s", f.Raw)
	}

	writeMsg(t, x, map[string]any{"type": TypeDMMessage, "receiverId": zID, "content": "hi stranger"})
	if f := next(t, x); f.Type != TypeError || f.message(t) != "You can only message friends" {
		t.Fatalf("x got %s", f.Raw)
	}

	// group-only events are ignored on a DM socket
	writeMsg(t, x, map[string]any{"type": TypeChatMessage, "message": "wrong socket"})
	writeMsg(t, x, map[string]any{"type": TypeDMMessage, "receiverId": xID, "content": "me"})
	if f := next(t, x); f.Type != TypeError || f.message(t) != "You cannot message yourself" {
		t.Fatalf("x got %s", f.Raw)
	}
}

func TestThrottledEvents(t *testing.T) {
	env := newTestEnv(t)
	aID, _ := env.user(t, "ann", env.club.ID, chat.RoleMember, chat.StatusActive)

	c := NewClient(nil, 8, rate.NewLimiter(rate.Every(time.Hour), 1))
	c.identify(aID, "ann", "")
	s := &session{client: c, mode: modeGroup, groupID: env.club.ID}
	_ = env.hub.reg.Admit(env.club.ID, env.club.Rooms[0].ID, c)

	env.hub.handleFrame(context.Background(), s, []byte(`{"type":"chat-message","message":"one"}`))
	env.hub.handleFrame(context.Background(), s, []byte(`{"type":"chat-message","message":"two"}`))

	if got := drain(c); len(got) != 2 || got[0] != TypeChatMessage || got[1] != TypeError {
		t.Fatalf("frames = %v", got)
	}
}

// knows reports whether c learned about peerConn, either from its init
// snapshot or from a later user-joined
func knows(t *testing.T, c *Client, peerConn string) bool {
	t.Helper()
	for {
		select {
		case b := <-c.out:
			var head struct {
				Type        string       `json:"type"`
				OnlineUsers []OnlineUser `json:"onlineUsers"`
				User        OnlineUser   `json:"user"`
			}
			if err := json.Unmarshal(b, &head); err != nil {
				t.Fatal(err)
			}
			switch head.Type {
			case TypeInit:
				for _, u := range head.OnlineUsers {
					if u.ConnectionID == peerConn {
						return true
					}
				}
			case TypeUserJoined:
				if head.User.ConnectionID == peerConn {
					return true
				}
			}
		default:
			return false
		}
	}
}

func TestConcurrentJoinsSeeEachOther(t *testing.T) {
	env := newTestEnv(t)
	aID, aTok := env.user(t, "ann", env.club.ID, chat.RoleMember, chat.StatusActive)
	bID, bTok := env.user(t, "ben", env.club.ID, chat.RoleMember, chat.StatusActive)
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		sa := &session{client: NewClient(nil, 16, nil)}
		sb := &session{client: NewClient(nil, 16, nil)}

		var wg sync.WaitGroup
		errs := make([]error, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs[0] = env.hub.join(ctx, sa, &JoinEvent{GroupID: env.club.ID, UserID: aID, Token: aTok})
		}()
		go func() {
			defer wg.Done()
			errs[1] = env.hub.join(ctx, sb, &JoinEvent{GroupID: env.club.ID, UserID: bID, Token: bTok})
		}()
		wg.Wait()
		if errs[0] != nil || errs[1] != nil {
			t.Fatalf("round %d: join errors %v", i, errs)
		}

		if !knows(t, sa.client, sb.client.ID) || !knows(t, sb.client, sa.client.ID) {
			t.Fatalf("round %d: a peer never learned of the other", i)
		}
		env.hub.reg.Evict(sa.client.ID)
		env.hub.reg.Evict(sb.client.ID)
	}
}
