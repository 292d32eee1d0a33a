package ws

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"log/slog"

	"bookclub-collab/internal/app"
	"bookclub-collab/pkg/metrics"
)

// Delivery scopes carried on the bus
const (
	scopeGroup    = "group"
	scopeRoom     = "room"
	scopeActivity = "room-activity"
	scopeUser     = "user"
)

// BusMessage is one fanout, replayed by every hub instance against its own
// local connections
type BusMessage struct {
	Origin  string          `json:"origin"`
	Scope   string          `json:"scope"`
	GroupID string          `json:"groupId,omitempty"`
	RoomID  string          `json:"roomId,omitempty"`
	UserID  string          `json:"userId,omitempty"`
	Exclude string          `json:"exclude,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Bus carries fanouts between hub instances
type Bus interface {
	Publish(ctx context.Context, m BusMessage) error
	Subscribe(ctx context.Context, fn func(BusMessage))
}

type RedisBus struct {
	rdb *redis.Client
	log *slog.Logger
}

// NewRedisBus connects to redis and verifies connectivity
func NewRedisBus(ctx context.Context, cfg app.Config, log *slog.Logger) (*RedisBus, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	log.Info("bus.connected", "addr", cfg.RedisAddr)
	return &RedisBus{rdb: rdb, log: log}, nil
}

// Publish sends a message on the club or user channel it targets
func (b *RedisBus) Publish(ctx context.Context, m BusMessage) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	metrics.BusMessages.WithLabelValues("out").Inc()
	return b.rdb.Publish(ctx, channelFor(m), raw).Err()
}

// Subscribe listens to all club and user channels and invokes fn for each
// message until ctx is done
func (b *RedisBus) Subscribe(ctx context.Context, fn func(BusMessage)) {
	pubsub := b.rdb.PSubscribe(ctx, clubChannel("*"), userChannel("*"))
	defer func() { _ = pubsub.Close() }()
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var bm BusMessage
			if err := json.Unmarshal([]byte(msg.Payload), &bm); err != nil {
				b.log.Warn("bus.decode", "channel", msg.Channel, "err", err)
				continue
			}
			metrics.BusMessages.WithLabelValues("in").Inc()
			fn(bm)
		}
	}
}

// Close shuts down the redis connection
func (b *RedisBus) Close() { _ = b.rdb.Close() }

func channelFor(m BusMessage) string {
	if m.Scope == scopeUser {
		return userChannel(m.UserID)
	}
	return clubChannel(m.GroupID)
}

// channel namespacing for club and DM pub/sub
func clubChannel(groupID string) string { return "club:" + groupID }
func userChannel(userID string) string  { return "user:" + userID }
