// Package chat holds the wire and storage types shared by the relay: stored
// messages, inbound requests and outbound event payloads.
package chat

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role tags who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const (
	// DefaultSessionID is used when a connection sends before joining.
	DefaultSessionID = "default"
	// DefaultDisplayName is used when a join omits the user name.
	DefaultDisplayName = "Guest"
)

// Action is an opaque descriptor returned by the response engine.
type Action struct {
	Type   string         `json:"type"`
	Label  string         `json:"label,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

// Message is one immutable entry of a session history.
type Message struct {
	ID         string    `json:"id"`
	Seq        uint64    `json:"seq,omitempty"`
	User       string    `json:"user"`
	Text       string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
	Role       Role      `json:"type"`
	Confidence *float64  `json:"confidence,omitempty"`
	Actions    []Action  `json:"actions,omitempty"`
	Error      bool      `json:"error,omitempty"`
}

// MarshalJSON always writes an actions array on assistant messages, empty
// when the engine returned none.
func (m Message) MarshalJSON() ([]byte, error) {
	type wire Message
	if m.Role != RoleAssistant {
		return json.Marshal(wire(m))
	}
	actions := m.Actions
	if actions == nil {
		actions = []Action{}
	}
	return json.Marshal(struct {
		wire
		Actions []Action `json:"actions"`
	}{wire: wire(m), Actions: actions})
}

// NewMessage builds a message with a fresh id and the current time.
func NewMessage(role Role, user, text string) Message {
	return Message{
		ID:        uuid.NewString(),
		User:      user,
		Text:      text,
		Timestamp: time.Now().UTC(),
		Role:      role,
	}
}

// Clone returns a copy that shares no mutable state with m.
func (m Message) Clone() Message {
	out := m
	if m.Confidence != nil {
		c := *m.Confidence
		out.Confidence = &c
	}
	if m.Actions != nil {
		out.Actions = make([]Action, len(m.Actions))
		for i, a := range m.Actions {
			out.Actions[i] = a
			if a.Params != nil {
				params := make(map[string]any, len(a.Params))
				for k, v := range a.Params {
					params[k] = v
				}
				out.Actions[i].Params = params
			}
		}
	}
	return out
}

// JoinRequest is the payload of join_chat. Both fields are optional.
type JoinRequest struct {
	SessionID string `json:"session_id,omitempty"`
	UserName  string `json:"user_name,omitempty"`
}

// Normalize fills defaults: a fresh session id and the guest name.
func (r JoinRequest) Normalize() JoinRequest {
	r.SessionID = strings.TrimSpace(r.SessionID)
	if r.SessionID == "" {
		r.SessionID = uuid.NewString()
	}
	r.UserName = strings.TrimSpace(r.UserName)
	if r.UserName == "" {
		r.UserName = DefaultDisplayName
	}
	return r
}

// SendRequest is the payload of send_message.
type SendRequest struct {
	Message string `json:"message"`
}

// Event names used on the wire.
const (
	EventJoinChat    = "join_chat"
	EventSendMessage = "send_message"

	EventConnected   = "connected"
	EventChatHistory = "chat_history"
	EventNewMessage  = "new_message"
	EventTyping      = "typing"
	EventStopTyping  = "stop_typing"
)

// Envelope is the frame format exchanged over the websocket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ConnectedPayload is sent once to a freshly attached connection.
type ConnectedPayload struct {
	Status string `json:"status"`
}

// HistoryPayload carries the newest messages of a session to a joiner.
type HistoryPayload struct {
	Messages []Message `json:"messages"`
}

// TypingPayload is used by both typing and stop_typing.
type TypingPayload struct {
	User string `json:"user"`
}

// NewEnvelope marshals data into an envelope for event.
func NewEnvelope(event string, data any) (Envelope, error) {
	if data == nil {
		return Envelope{Event: event}, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: b}, nil
}

// Frame marshals an envelope to the bytes written on the websocket.
func Frame(event string, data any) ([]byte, error) {
	env, err := NewEnvelope(event, data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}
