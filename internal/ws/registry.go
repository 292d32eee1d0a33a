package ws

import (
	"errors"
	"sync"

	"bookclub-collab/pkg/metrics"
)

var ErrAlreadyJoined = errors.New("connection already joined")

// Member is a connection together with its placement in a group
type Member struct {
	Client  *Client
	GroupID string
	RoomID  string
}

type placement struct {
	group string
	room  string
}

// Registry tracks live connections: per book club (group) and per user for
// DM-only sockets. All maps are guarded by one mutex; callers get snapshots.
type Registry struct {
	mu sync.RWMutex

	groups map[string]map[string]*Client // group -> conn id -> client
	placed map[string]placement          // conn id -> where it sits
	dms    map[string]*Client            // user id -> DM connection
}

func NewRegistry() *Registry {
	return &Registry{
		groups: map[string]map[string]*Client{},
		placed: map[string]placement{},
		dms:    map[string]*Client{},
	}
}

// Admit places c in groupID at roomID. A connection joins at most once and
// never sits in a group and the DM index at the same time.
func (r *Registry) Admit(groupID, roomID string, c *Client) error {
	return r.AdmitWith(groupID, roomID, c, nil)
}

// AdmitWith is Admit with a greeting: greet sees the group's members as they
// were just before c is placed, and runs under the registry lock so no other
// join can slip between the snapshot and the placement. greet must not block
// or call back into the Registry.
func (r *Registry) AdmitWith(groupID, roomID string, c *Client, greet func(peers []Member)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.placed[c.ID]; ok || r.isDMLocked(c) {
		return ErrAlreadyJoined
	}
	if greet != nil {
		greet(r.connectionsLocked(groupID))
	}
	g := r.groups[groupID]
	if g == nil {
		g = map[string]*Client{}
		r.groups[groupID] = g
		metrics.Groups.Inc()
	}
	g[c.ID] = c
	r.placed[c.ID] = placement{group: groupID, room: roomID}
	metrics.GroupConnections.Inc()
	return nil
}

// Evict removes a group connection. Emptied groups are dropped.
func (r *Registry) Evict(connID string) (Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.placed[connID]
	if !ok {
		return Member{}, false
	}
	delete(r.placed, connID)
	g := r.groups[p.group]
	c := g[connID]
	delete(g, connID)
	metrics.GroupConnections.Dec()
	if len(g) == 0 {
		delete(r.groups, p.group)
		metrics.Groups.Dec()
	}
	return Member{Client: c, GroupID: p.group, RoomID: p.room}, true
}

// SwitchRoom moves a placed connection to another room of its group
func (r *Registry) SwitchRoom(connID, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.placed[connID]
	if !ok {
		return false
	}
	p.room = roomID
	r.placed[connID] = p
	return true
}

// Placement returns the group and room of a connection
func (r *Registry) Placement(connID string) (groupID, roomID string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.placed[connID]
	return p.group, p.room, ok
}

// Connections snapshots the members of a group
func (r *Registry) Connections(groupID string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connectionsLocked(groupID)
}

func (r *Registry) connectionsLocked(groupID string) []Member {
	g := r.groups[groupID]
	out := make([]Member, 0, len(g))
	for id, c := range g {
		out = append(out, Member{Client: c, GroupID: groupID, RoomID: r.placed[id].room})
	}
	return out
}

func (r *Registry) HasGroup(groupID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.groups[groupID]
	return ok
}

// GroupCount is the number of groups with at least one connection
func (r *Registry) GroupCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups)
}

// FindDM returns the live DM connection of a user
func (r *Registry) FindDM(userID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.dms[userID]
	return c, ok
}

// RegisterDM indexes c as userID's DM connection. The last connection wins;
// the replaced one, if any, is returned.
func (r *Registry) RegisterDM(userID string, c *Client) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.placed[c.ID]; ok || r.isDMLocked(c) {
		return nil, ErrAlreadyJoined
	}
	prev := r.dms[userID]
	r.dms[userID] = c
	if prev == nil {
		metrics.DMConnections.Inc()
	}
	return prev, nil
}

// UnregisterDM drops userID's entry if it still points at c. A stale
// connection closing must not remove its replacement.
func (r *Registry) UnregisterDM(userID string, c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.dms[userID]; !ok || cur != c {
		return false
	}
	delete(r.dms, userID)
	metrics.DMConnections.Dec()
	return true
}

func (r *Registry) isDMLocked(c *Client) bool {
	return c.UserID != "" && r.dms[c.UserID] == c
}

// Clients snapshots every connection, grouped and DM
func (r *Registry) Clients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.placed)+len(r.dms))
	for _, g := range r.groups {
		for _, c := range g {
			out = append(out, c)
		}
	}
	for _, c := range r.dms {
		out = append(out, c)
	}
	return out
}
