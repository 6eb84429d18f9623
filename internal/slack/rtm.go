package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// RTM is one realtime duplex connection. Inbound events are decoded and
// delivered on Events; the channel closes when the connection closes.
type RTM struct {
	conn   *websocket.Conn
	events chan Event
	logger *slog.Logger
	msgID  int32
	mu     sync.Mutex
	closed bool
}

// dialRTM connects to the websocket URL returned by rtm.start and begins
// reading events.
func dialRTM(ctx context.Context, url string, logger *slog.Logger) (*RTM, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RTM websocket: %w", err)
	}

	r := &RTM{
		conn:   conn,
		events: make(chan Event, 16),
		logger: logger,
	}

	go r.readLoop()

	logger.Info("opened RTM connection", "url", url)
	return r, nil
}

// Events returns the inbound event stream. The channel is closed once the
// underlying connection is gone.
func (r *RTM) Events() <-chan Event {
	return r.events
}

// Send writes a plain chat message frame over the realtime connection.
func (r *RTM) Send(channel, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("RTM connection is closed")
	}

	frame := map[string]any{
		"id":      atomic.AddInt32(&r.msgID, 1),
		"type":    "message",
		"channel": channel,
		"text":    text,
	}
	if err := r.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("failed to write message frame: %w", err)
	}
	return nil
}

// Close shuts down the realtime connection.
func (r *RTM) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	r.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return r.conn.Close()
}

// readLoop decodes inbound frames until the connection fails. Frames that are
// not valid JSON objects are logged and dropped.
func (r *RTM) readLoop() {
	defer close(r.events)

	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			r.mu.Lock()
			closed := r.closed
			r.mu.Unlock()
			if !closed {
				r.logger.Warn("RTM connection lost", "error", err)
			}
			return
		}

		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			r.logger.Warn("dropping malformed RTM frame", "error", err)
			continue
		}
		evt.Raw = data

		r.events <- evt
	}
}
