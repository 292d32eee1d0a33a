package ws

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"log/slog"
)

// Broadcaster fans events out to registered connections. Every fanout is
// delivered locally first and then published on the bus (when configured)
// so other hub instances can deliver to their own connections.
type Broadcaster struct {
	reg    *Registry
	bus    Bus
	origin string
	log    *slog.Logger
}

// NewBroadcaster wires a broadcaster; bus may be nil for a single instance
func NewBroadcaster(reg *Registry, bus Bus, log *slog.Logger) *Broadcaster {
	return &Broadcaster{reg: reg, bus: bus, origin: uuid.NewString(), log: log}
}

// ToGroup sends ev to every connection of a group except exclude
func (b *Broadcaster) ToGroup(ctx context.Context, groupID string, ev any, exclude string) {
	b.fanout(ctx, BusMessage{Scope: scopeGroup, GroupID: groupID, Exclude: exclude}, ev)
}

// ToRoom sends ev to the connections of one room of a group
func (b *Broadcaster) ToRoom(ctx context.Context, groupID, roomID string, ev any, exclude string) {
	b.fanout(ctx, BusMessage{Scope: scopeRoom, GroupID: groupID, RoomID: roomID, Exclude: exclude}, ev)
}

// ToRoomWithActivity sends ev to one room and a content-free room-activity
// ping to the rest of the group
func (b *Broadcaster) ToRoomWithActivity(ctx context.Context, groupID, roomID string, ev any) {
	b.ToRoom(ctx, groupID, roomID, ev, "")
	b.fanout(ctx, BusMessage{Scope: scopeActivity, GroupID: groupID, RoomID: roomID},
		RoomActivityEvent{Type: TypeRoomActivity, RoomID: roomID})
}

// ToUser sends ev to userID's DM connection, wherever it lives
func (b *Broadcaster) ToUser(ctx context.Context, userID string, ev any) {
	b.fanout(ctx, BusMessage{Scope: scopeUser, UserID: userID}, ev)
}

// Receive delivers a fanout published by another instance
func (b *Broadcaster) Receive(m BusMessage) {
	if m.Origin == b.origin {
		return
	}
	b.deliver(m)
}

func (b *Broadcaster) fanout(ctx context.Context, m BusMessage, ev any) {
	raw, err := json.Marshal(ev)
	if err != nil {
		b.log.Error("broadcast.encode", "scope", m.Scope, "err", err)
		return
	}
	m.Origin = b.origin
	m.Payload = raw
	b.deliver(m)

	if b.bus == nil {
		return
	}
	if err := b.bus.Publish(ctx, m); err != nil {
		b.log.Warn("bus.publish", "scope", m.Scope, "group", m.GroupID, "err", err)
	}
}

// deliver sends to local connections. The registry lock is only held while
// taking the snapshot.
func (b *Broadcaster) deliver(m BusMessage) {
	if m.Scope == scopeUser {
		if c, ok := b.reg.FindDM(m.UserID); ok {
			c.Send(m.Payload)
		}
		return
	}

	for _, mem := range b.reg.Connections(m.GroupID) {
		if mem.Client.ID == m.Exclude || mem.Client.Closed() {
			continue
		}
		switch m.Scope {
		case scopeRoom:
			if mem.RoomID != m.RoomID {
				continue
			}
		case scopeActivity:
			if mem.RoomID == m.RoomID {
				continue
			}
		}
		mem.Client.Send(m.Payload)
	}
}
