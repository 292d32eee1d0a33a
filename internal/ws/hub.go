package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"golang.org/x/time/rate"
	"log/slog"
	"nhooyr.io/websocket"

	"bookclub-collab/internal/chat"
	"bookclub-collab/pkg/metrics"
)

const (
	eventTimeout  = 10 * time.Second
	msgUnexpected = "Something went wrong"
)

var (
	// errIgnored marks an event dropped on purpose (before join, wrong mode)
	errIgnored = errors.New("event ignored")
	// errRejected marks a join that was refused and its socket closed
	errRejected = errors.New("join rejected")
)

// Options tunes the hub; zero values fall back to defaults
type Options struct {
	HistoryLimit   int
	EventsPerSec   int
	EventBurst     int
	SendBuffer     int
	OriginPatterns []string
}

type Hub struct {
	log *slog.Logger
	reg *Registry
	bc  *Broadcaster
	bus Bus

	st        Store
	tokens    TokenVerifier
	reactions *chat.Aggregator
	opts      Options
}

type mode int

const (
	modeNone mode = iota
	modeGroup
	modeDM
)

// session is the per-socket join state, owned by the socket's read loop
type session struct {
	client  *Client
	mode    mode
	groupID string
}

// NewHub sets up the hub with store + token verifier + logger. bus may be nil
// when running a single instance.
func NewHub(logger *slog.Logger, bus Bus, st Store, tokens TokenVerifier, opts Options) *Hub {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 50
	}
	reg := NewRegistry()
	return &Hub{
		log:       logger,
		reg:       reg,
		bc:        NewBroadcaster(reg, bus, logger),
		bus:       bus,
		st:        st,
		tokens:    tokens,
		reactions: chat.NewAggregator(st),
		opts:      opts,
	}
}

// Registry exposes the presence registry, mostly for readiness and tests
func (h *Hub) Registry() *Registry { return h.reg }

// Run forwards bus deliveries to local connections until ctx is done, then
// closes every live socket
func (h *Hub) Run(ctx context.Context) {
	if h.bus != nil {
		go h.bus.Subscribe(ctx, h.bc.Receive)
	}
	<-ctx.Done()
	for _, c := range h.reg.Clients() {
		c.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

// ServeWS upgrades the request and runs the socket's read loop. Events of
// one socket are handled in order on this goroutine.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conn, err := Accept(w, r, h.opts.OriginPatterns)
	if err != nil {
		h.log.Error("ws.accept", "err", err)
		return
	}

	var lim *rate.Limiter
	if h.opts.EventsPerSec > 0 {
		burst := h.opts.EventBurst
		if burst <= 0 {
			burst = h.opts.EventsPerSec
		}
		lim = rate.NewLimiter(rate.Limit(h.opts.EventsPerSec), burst)
	}
	c := NewClient(conn, h.opts.SendBuffer, lim)
	s := &session{client: c}
	h.log.Debug("ws.open", "conn", c.ID, "remote", r.RemoteAddr)

	go c.WriteLoop(ctx)
	defer h.leave(ctx, s)

	for {
		raw, ok := c.Read(ctx)
		if !ok {
			return
		}
		h.handleFrame(ctx, s, raw)
		if c.Closed() {
			return
		}
	}
}

// leave evicts the socket and tells the group's remaining peers
func (h *Hub) leave(ctx context.Context, s *session) {
	c := s.client
	switch s.mode {
	case modeGroup:
		if m, ok := h.reg.Evict(c.ID); ok {
			bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventTimeout)
			h.bc.ToGroup(bctx, m.GroupID, UserLeftEvent{
				Type:         TypeUserLeft,
				ConnectionID: c.ID,
				Username:     c.Username,
			}, c.ID)
			cancel()
			h.log.Info("ws.leave", "conn", c.ID, "user", c.UserID, "group", m.GroupID)
		}
	case modeDM:
		h.reg.UnregisterDM(c.UserID, c)
		h.log.Info("ws.dm.leave", "conn", c.ID, "user", c.UserID)
	}
	c.Close(websocket.StatusNormalClosure, "")
}

func (h *Hub) handleFrame(ctx context.Context, s *session, raw []byte) {
	c := s.client
	if !c.Allow() {
		metrics.Events.WithLabelValues("unknown", "throttled").Inc()
		h.send(c, errorEvent("Too many events, slow down"))
		return
	}

	ev, err := DecodeEvent(raw)
	if err != nil {
		if errors.Is(err, ErrUnknownEvent) {
			metrics.Events.WithLabelValues("unknown", "ignored").Inc()
			if s.mode != modeNone {
				h.send(c, errorEvent("Unknown event type"))
			}
			return
		}
		if s.mode == modeNone {
			// a garbled handshake is fatal; any other garbage before join is dropped
			if typ := PeekType(raw); typ == TypeJoin || typ == TypeJoinDM {
				metrics.Events.WithLabelValues(typ, "rejected").Inc()
				h.rejectJoin(ctx, s, chat.Validation("Invalid payload"))
				return
			}
			metrics.Events.WithLabelValues("unknown", "ignored").Inc()
			return
		}
		metrics.Events.WithLabelValues("unknown", "invalid").Inc()
		h.send(c, errorEvent("Invalid payload"))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, eventTimeout)
	defer cancel()

	typ := ev.EventType()
	switch e := ev.(type) {
	case *JoinEvent:
		err = h.join(ctx, s, e)
	case *JoinDMEvent:
		err = h.joinDM(ctx, s, e)
	default:
		err = h.dispatch(ctx, s, ev)
	}

	switch {
	case err == nil:
		metrics.Events.WithLabelValues(typ, "ok").Inc()
	case errors.Is(err, errIgnored):
		metrics.Events.WithLabelValues(typ, "ignored").Inc()
	case errors.Is(err, errRejected):
		metrics.Events.WithLabelValues(typ, "rejected").Inc()
	default:
		metrics.Events.WithLabelValues(typ, "error").Inc()
		h.report(s, typ, err)
	}
}

// dispatch runs a post-join event. DMs may be sent from any joined socket;
// everything else needs group mode.
func (h *Hub) dispatch(ctx context.Context, s *session, ev Event) error {
	if s.mode == modeNone {
		return errIgnored
	}
	if e, ok := ev.(*DMMessageEvent); ok {
		return h.sendDirect(ctx, s, e)
	}
	if s.mode != modeGroup {
		return errIgnored
	}

	switch e := ev.(type) {
	case *SwitchRoomEvent:
		return h.switchRoom(ctx, s, e)
	case *ChatMessageEvent:
		return h.chatMessage(ctx, s, e)
	case *DeleteMessageEvent:
		return h.deleteMessage(ctx, s, e)
	case *PinMessageEvent:
		return h.pinMessage(ctx, s, e)
	case *AddReactionEvent:
		return h.addReaction(ctx, s, e)
	case *RemoveReactionEvent:
		return h.removeReaction(ctx, s, e)
	}
	return errIgnored
}

// report turns a post-join failure into an error event. Unexpected errors
// are logged and replaced by a generic message.
func (h *Hub) report(s *session, typ string, err error) {
	c := s.client
	var ce *chat.Error
	if errors.As(err, &ce) {
		h.log.Debug("ws.event.rejected", "type", typ, "conn", c.ID, "kind", ce.Kind.String(), "msg", ce.Msg)
		h.send(c, errorEvent(ce.Msg))
		return
	}
	h.log.Error("ws.event", "type", typ, "conn", c.ID, "user", c.UserID, "group", s.groupID, "err", err)
	h.send(c, errorEvent(msgUnexpected))
}

// send queues ev for one client
func (h *Hub) send(c *Client, ev any) {
	b, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("ws.encode", "conn", c.ID, "err", err)
		return
	}
	c.Send(b)
}

// RoomHistory returns the latest messages of a room, oldest first, each with
// its reaction summary
func (h *Hub) RoomHistory(ctx context.Context, roomID string, limit int) ([]MessageView, error) {
	if limit <= 0 || limit > h.opts.HistoryLimit {
		limit = h.opts.HistoryLimit
	}
	msgs, err := h.st.RecentMessages(ctx, roomID, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	sums, err := h.reactions.Summaries(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		rs := sums[m.ID]
		if rs == nil {
			rs = []chat.ReactionGroup{}
		}
		out = append(out, MessageView{Message: m, Reactions: rs})
	}
	return out, nil
}
