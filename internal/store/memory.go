package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"bookclub-collab/internal/chat"
)

// Memory is an in-process implementation of every store contract.
// It backs STORE=memory for local development and the test suites.
type Memory struct {
	mu sync.RWMutex

	users   map[string]memUser // by id
	byEmail map[string]string  // email -> id

	clubs   map[string]chat.BookClub
	rooms   map[string]chat.Room
	members map[string][]chat.Membership // club -> memberships in join order

	messages  map[string]chat.Message
	order     []string        // message ids in insertion order
	reactions []chat.Reaction // insertion order
	friends   map[[2]string]bool
	dms       []chat.DirectMessage

	demoClub string // when set, new users join this club and befriend everyone
	now      func() time.Time
}

type memUser struct {
	User
	hash string
}

// NewMemory returns an empty store
func NewMemory() *Memory {
	return &Memory{
		users:    map[string]memUser{},
		byEmail:  map[string]string{},
		clubs:    map[string]chat.BookClub{},
		rooms:    map[string]chat.Room{},
		members:  map[string][]chat.Membership{},
		messages: map[string]chat.Message{},
		friends:  map[[2]string]bool{},
		now:      time.Now,
	}
}

func pair(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}

// Ping always succeeds
func (m *Memory) Ping(context.Context) error { return nil }

// CreateClub adds a club with the named rooms, in order
func (m *Memory) CreateClub(_ context.Context, name string, rooms ...string) (chat.BookClub, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := chat.BookClub{ID: uuid.NewString(), Name: name, Rooms: []chat.Room{}}
	for _, rn := range rooms {
		r := chat.Room{ID: uuid.NewString(), ClubID: c.ID, Name: rn, CreatedAt: m.now()}
		m.rooms[r.ID] = r
		c.Rooms = append(c.Rooms, r)
	}
	m.clubs[c.ID] = c
	return c, nil
}

// SeedDemo creates a demo club that every new user joins automatically
func (m *Memory) SeedDemo(ctx context.Context) (chat.BookClub, error) {
	c, err := m.CreateClub(ctx, "Demo Book Club", "general", "spoilers")
	if err != nil {
		return chat.BookClub{}, err
	}
	m.mu.Lock()
	m.demoClub = c.ID
	m.mu.Unlock()
	return c, nil
}

// AddMember creates or replaces a membership
func (m *Memory) AddMember(_ context.Context, clubID, userID string, role chat.Role, status chat.MembershipStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clubs[clubID]; !ok {
		return chat.ErrNotFound
	}
	m.addMemberLocked(clubID, userID, role, status)
	return nil
}

func (m *Memory) addMemberLocked(clubID, userID string, role chat.Role, status chat.MembershipStatus) {
	ms := m.members[clubID]
	for i := range ms {
		if ms[i].UserID == userID {
			ms[i].Role, ms[i].Status = role, status
			return
		}
	}
	m.members[clubID] = append(ms, chat.Membership{
		ClubID: clubID, UserID: userID, Role: role, Status: status, JoinedAt: m.now(),
	})
}

// AddFriendship records an accepted friendship between a and b
func (m *Memory) AddFriendship(_ context.Context, a, b string) error {
	m.mu.Lock()
	m.friends[pair(a, b)] = true
	m.mu.Unlock()
	return nil
}

// AddProfile registers a user that has no password, for seeding
func (m *Memory) AddProfile(p chat.Profile) {
	m.mu.Lock()
	m.users[p.ID] = memUser{User: User{ID: p.ID, Username: p.Username, AvatarURL: p.AvatarURL, CreatedAt: m.now()}}
	m.mu.Unlock()
}

// CreateUser registers an account
func (m *Memory) CreateUser(_ context.Context, email, password, username string) (User, error) {
	email = normEmail(email)
	hash, err := hashPassword(email, password, username)
	if err != nil {
		return User{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[email]; ok {
		return User{}, ErrEmailTaken
	}
	u := User{ID: uuid.NewString(), Email: email, Username: strings.TrimSpace(username), CreatedAt: m.now()}
	m.users[u.ID] = memUser{User: u, hash: hash}
	m.byEmail[email] = u.ID

	if m.demoClub != "" {
		role := chat.RoleMember
		if len(m.members[m.demoClub]) == 0 {
			role = chat.RoleOwner
		}
		m.addMemberLocked(m.demoClub, u.ID, role, chat.StatusActive)
		for id := range m.users {
			if id != u.ID {
				m.friends[pair(id, u.ID)] = true
			}
		}
	}
	return u, nil
}

// VerifyUser checks email + password match
func (m *Memory) VerifyUser(_ context.Context, email, password string) (User, error) {
	m.mu.RLock()
	u, ok := m.users[m.byEmail[normEmail(email)]]
	m.mu.RUnlock()
	if !ok || u.hash == "" {
		return User{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.hash), []byte(password)) != nil {
		return User{}, ErrInvalidCredentials
	}
	return u.User, nil
}

func (m *Memory) Club(_ context.Context, clubID string) (chat.BookClub, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clubs[clubID]
	if !ok {
		return chat.BookClub{}, chat.ErrNotFound
	}
	c.Rooms = append([]chat.Room{}, c.Rooms...)
	return c, nil
}

func (m *Memory) Room(_ context.Context, roomID string) (chat.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return chat.Room{}, chat.ErrNotFound
	}
	return r, nil
}

func (m *Memory) Membership(_ context.Context, clubID, userID string) (chat.Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ms := range m.members[clubID] {
		if ms.UserID == userID {
			return ms, nil
		}
	}
	return chat.Membership{}, chat.ErrNotFound
}

func (m *Memory) Members(_ context.Context, clubID string) ([]chat.Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []chat.Membership
	for _, ms := range m.members[clubID] {
		if ms.Status == chat.StatusActive {
			out = append(out, ms)
		}
	}
	return out, nil
}

func (m *Memory) Profiles(_ context.Context, ids []string) ([]chat.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []chat.Profile
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out = append(out, u.Profile())
		}
	}
	return out, nil
}

func (m *Memory) CreateMessage(_ context.Context, msg chat.Message) (chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[msg.RoomID]; !ok {
		return chat.Message{}, chat.ErrNotFound
	}
	msg.ID = uuid.NewString()
	msg.CreatedAt = m.now()
	msg.IsPinned = false
	msg.DeletedAt, msg.DeletedBy, msg.EditedAt = nil, nil, nil
	if msg.Attachments == nil {
		msg.Attachments = []chat.Attachment{}
	}
	m.messages[msg.ID] = msg
	m.order = append(m.order, msg.ID)
	return msg, nil
}

func (m *Memory) Message(_ context.Context, id string) (chat.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	if !ok {
		return chat.Message{}, chat.ErrNotFound
	}
	return msg, nil
}

// RecentMessages returns the newest limit messages of a room, oldest first
func (m *Memory) RecentMessages(_ context.Context, roomID string, limit int) ([]chat.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []chat.Message{}
	for _, id := range m.order {
		if msg := m.messages[id]; msg.RoomID == roomID {
			out = append(out, msg)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *Memory) DeleteMessage(_ context.Context, id, deletedBy string) (chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok || msg.Deleted() {
		return chat.Message{}, chat.ErrNotFound
	}
	msg = chat.SoftDelete(msg, deletedBy, m.now())
	m.messages[id] = msg
	return msg, nil
}

func (m *Memory) PinMessage(_ context.Context, id string, pinned bool) (chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok || msg.Deleted() {
		return chat.Message{}, chat.ErrNotFound
	}
	msg.IsPinned = pinned
	m.messages[id] = msg
	return msg, nil
}

func (m *Memory) ReplaceReaction(_ context.Context, r chat.Reaction, limit int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[r.MessageID]
	if !ok || msg.Deleted() {
		return chat.ErrNotFound
	}

	others := 0
	kept := m.reactions[:0:0]
	for _, x := range m.reactions {
		if x.MessageID == r.MessageID {
			if x.UserID == r.UserID {
				continue
			}
			others++
		}
		kept = append(kept, x)
	}
	if others >= limit {
		return chat.ErrReactionLimit
	}

	r.ID = uuid.NewString()
	r.CreatedAt = m.now()
	m.reactions = append(kept, r)
	return nil
}

func (m *Memory) DeleteReaction(_ context.Context, messageID, userID, emoji string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.reactions[:0:0]
	for _, x := range m.reactions {
		if x.MessageID == messageID && x.UserID == userID && x.Emoji == emoji {
			continue
		}
		kept = append(kept, x)
	}
	m.reactions = kept
	return nil
}

func (m *Memory) Reactions(_ context.Context, messageIDs []string) ([]chat.Reaction, error) {
	want := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		want[id] = struct{}{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []chat.Reaction
	for _, x := range m.reactions {
		if _, ok := want[x.MessageID]; ok {
			out = append(out, x)
		}
	}
	return out, nil
}

func (m *Memory) CreateDirectMessage(_ context.Context, dm chat.DirectMessage) (chat.DirectMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.friends[pair(dm.SenderID, dm.ReceiverID)] {
		return chat.DirectMessage{}, chat.ErrNotFriends
	}
	dm.ID = uuid.NewString()
	dm.CreatedAt = m.now()
	if dm.Attachments == nil {
		dm.Attachments = []chat.Attachment{}
	}
	m.dms = append(m.dms, dm)
	return dm, nil
}

// DirectMessages returns the newest limit DMs between two users, oldest first
func (m *Memory) DirectMessages(_ context.Context, userA, userB string, limit int) ([]chat.DirectMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []chat.DirectMessage{}
	for _, dm := range m.dms {
		if pair(dm.SenderID, dm.ReceiverID) == pair(userA, userB) {
			out = append(out, dm)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
