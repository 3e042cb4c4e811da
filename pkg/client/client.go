// Package client speaks the relay's websocket protocol from the other side:
// dial, join a session, send messages and read typed events.
package client

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/go-go-golems/chat-relay/pkg/chat"
)

// Event is one decoded inbound frame. Exactly one of the typed fields is set,
// according to Name; unknown events only carry Raw.
type Event struct {
	Name string
	Raw  json.RawMessage

	Connected *chat.ConnectedPayload
	History   *chat.HistoryPayload
	Message   *chat.Message
	Typing    *chat.TypingPayload
}

type Client struct {
	conn *websocket.Conn

	writeMu      sync.Mutex
	writeTimeout time.Duration
}

// Dial connects to a relay websocket endpoint such as ws://localhost:5000/ws.
func Dial(ctx context.Context, url string, header http.Header) (*Client, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "dial %s: status %d", url, resp.StatusCode)
		}
		return nil, errors.Wrapf(err, "dial %s", url)
	}
	return &Client{conn: conn, writeTimeout: 10 * time.Second}, nil
}

// Join sends join_chat. Empty values let the relay pick its defaults.
func (c *Client) Join(sessionID, userName string) error {
	return c.write(chat.EventJoinChat, chat.JoinRequest{SessionID: sessionID, UserName: userName})
}

func (c *Client) Send(text string) error {
	return c.write(chat.EventSendMessage, chat.SendRequest{Message: text})
}

// ReadEvent blocks for the next frame. A zero timeout waits forever.
func (c *Client) ReadEvent(timeout time.Duration) (Event, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return Event{}, err
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return Event{}, err
	}
	return DecodeEvent(data)
}

// WaitFor reads until an event named name arrives, discarding others.
func (c *Client) WaitFor(name string, timeout time.Duration) (Event, error) {
	deadline := time.Now().Add(timeout)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return Event{}, errors.Errorf("timed out waiting for %s", name)
		}
		ev, err := c.ReadEvent(left)
		if err != nil {
			return Event{}, errors.Wrapf(err, "waiting for %s", name)
		}
		if ev.Name == name {
			return ev, nil
		}
	}
}

func (c *Client) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}

func (c *Client) write(event string, payload any) error {
	frame, err := chat.Frame(event, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return errors.Wrapf(c.conn.WriteMessage(websocket.TextMessage, frame), "write %s", event)
}

// DecodeEvent parses a frame into an Event.
func DecodeEvent(data []byte) (Event, error) {
	var env chat.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, errors.Wrap(err, "decode frame")
	}
	ev := Event{Name: env.Event, Raw: env.Data}
	var target any
	switch env.Event {
	case chat.EventConnected:
		ev.Connected = &chat.ConnectedPayload{}
		target = ev.Connected
	case chat.EventChatHistory:
		ev.History = &chat.HistoryPayload{}
		target = ev.History
	case chat.EventNewMessage:
		ev.Message = &chat.Message{}
		target = ev.Message
	case chat.EventTyping, chat.EventStopTyping:
		ev.Typing = &chat.TypingPayload{}
		target = ev.Typing
	default:
		return ev, nil
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, target); err != nil {
			return Event{}, errors.Wrapf(err, "decode %s payload", env.Event)
		}
	}
	return ev, nil
}
