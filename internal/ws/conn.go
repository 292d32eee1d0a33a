package ws

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"

	"bookclub-collab/pkg/metrics"
)

const (
	pingPeriod   = 20 * time.Second
	writeTimeout = 10 * time.Second
	readLimit    = 1 << 16
)

// Client is one live socket. Identity fields are set once by the join,
// before the client becomes reachable through the Registry; placement
// (group, room, DM) lives in the Registry.
type Client struct {
	ID string

	UserID    string
	Username  string
	AvatarURL string

	ws      *websocket.Conn
	out     chan []byte
	limiter *rate.Limiter

	done      chan struct{}
	closeOnce sync.Once
}

// Accept upgrades HTTP to websocket, allowing the given origin host patterns
// (all origins when empty)
func Accept(w http.ResponseWriter, r *http.Request, origins []string) (*websocket.Conn, error) {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  origins,
		CompressionMode: websocket.CompressionDisabled,
	})
}

// OriginPatterns turns CORS origins (scheme://host:port) into the host
// patterns websocket.Accept matches against
func OriginPatterns(allow []string) []string {
	var out []string
	for _, a := range allow {
		if a == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(a); err == nil && u.Host != "" {
			out = append(out, u.Host)
		}
	}
	return out
}

// NewClient wraps a WS connection. ws may be nil in tests, in which case
// frames only accumulate in the send buffer.
func NewClient(ws *websocket.Conn, sendBuf int, limiter *rate.Limiter) *Client {
	if sendBuf <= 0 {
		sendBuf = 256
	}
	if ws != nil {
		ws.SetReadLimit(readLimit)
	}
	return &Client{
		ID:      uuid.NewString(),
		ws:      ws,
		out:     make(chan []byte, sendBuf),
		limiter: limiter,
		done:    make(chan struct{}),
	}
}

func (c *Client) identify(userID, username, avatarURL string) {
	c.UserID, c.Username, c.AvatarURL = userID, username, avatarURL
}

func (c *Client) online(roomID string) OnlineUser {
	return OnlineUser{
		ConnectionID: c.ID,
		UserID:       c.UserID,
		Username:     c.Username,
		AvatarURL:    c.AvatarURL,
		RoomID:       roomID,
	}
}

// Send queues a frame without blocking. Frames for closed clients or full
// buffers are dropped; the close path performs eviction.
func (c *Client) Send(b []byte) bool {
	select {
	case <-c.done:
		metrics.DroppedFrames.Inc()
		return false
	default:
	}
	select {
	case c.out <- b:
		return true
	default:
		metrics.DroppedFrames.Inc()
		return false
	}
}

// Allow reports whether the per-connection event budget permits another event
func (c *Client) Allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

// Closed reports whether Close has been called
func (c *Client) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Read blocks until it receives a text/binary message
// Returns false if connection is closed
func (c *Client) Read(ctx context.Context) ([]byte, bool) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return nil, false
		}
		if typ == websocket.MessageText || typ == websocket.MessageBinary {
			return data, true
		}
	}
}

// WriteNow writes a frame synchronously, bypassing the send buffer.
// Used for the last words before a forced close.
func (c *Client) WriteNow(ctx context.Context, b []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.ws.Write(ctx, websocket.MessageText, b)
}

// WriteLoop sends outbound messages + periodic pings
// Exits when ctx is cancelled, the client is closed or a write fails.
// A failed write or unanswered ping closes the socket, which ends the read side.
func (c *Client) WriteLoop(ctx context.Context) {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	defer c.Close(websocket.StatusGoingAway, "write failed")

	for {
		select {
		case b := <-c.out:
			if err := c.WriteNow(ctx, b); err != nil {
				return
			}
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Close closes the WS connection with the given status; later calls are no-ops
func (c *Client) Close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.ws != nil {
			_ = c.ws.Close(code, reason)
		}
	})
}
