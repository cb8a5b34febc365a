package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"liveroom/pkg/types"
)

// feedURL builds ws(s)://host/ws?room=...&user_id=...
func (c *Client) feedURL() string {
	u := *c.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	q := url.Values{}
	q.Set("room", c.room)
	q.Set("user_id", c.userID)
	u.RawQuery = q.Encode()
	return u.String()
}

// Watch follows the room's change feed and calls onEvent for every event
// until ctx ends, reconnecting with exponential backoff when the socket drops.
// onEvent runs on the watch goroutine and should return quickly.
// FUNCTIONAL DISCOVERY: events only say "something changed"; the caller is
// expected to re-poll, so a missed event costs latency, never correctness
func (c *Client) Watch(ctx context.Context, onEvent func(types.ChangeEvent)) error {
	backoff := c.minBackoff
	for {
		connected, err := c.watchOnce(ctx, onEvent)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = c.minBackoff
		}
		c.log.Warn("change feed disconnected", "error", err, "retry_in", backoff)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

// watchOnce runs a single connection; connected reports whether the dial succeeded.
func (c *Client) watchOnce(ctx context.Context, onEvent func(types.ChangeEvent)) (connected bool, err error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.feedURL(), nil)
	if err != nil {
		return false, fmt.Errorf("failed to connect: %w", err)
	}
	c.log.Debug("change feed connected")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
			_ = conn.Close()
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		var evt types.ChangeEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			c.log.Warn("ignoring malformed change event", "error", err)
			continue
		}
		if evt.Room != c.room {
			continue
		}
		onEvent(evt)
	}
}
