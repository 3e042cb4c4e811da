// Package responder defines the boundary to the external response engine and
// ships the engine clients the relay can talk to.
package responder

import (
	"context"

	"github.com/go-go-golems/chat-relay/pkg/chat"
)

// SourceWebChat identifies this relay as the origin of engine requests.
const SourceWebChat = "web_chat"

const (
	// DefaultConfidence is reported when the engine omits a confidence score.
	DefaultConfidence = 0.8
	// FallbackText is used when the engine returns an empty response.
	FallbackText = "I need to think about that..."
	// ApologyText replaces the response when the engine call fails.
	ApologyText = "I encountered an error. Please try again."
)

// Request is what the relay hands to the engine for one user message.
type Request struct {
	From      string         `json:"from"`
	Text      string         `json:"text"`
	Source    string         `json:"source"`
	SessionID string         `json:"session_id"`
	History   []chat.Message `json:"history"`
}

// Result is the engine's answer. A nil Confidence means the engine did not
// report one.
type Result struct {
	Response   string        `json:"response"`
	Confidence *float64      `json:"confidence,omitempty"`
	Actions    []chat.Action `json:"actions,omitempty"`
	Error      bool          `json:"error,omitempty"`
}

// Client produces a response for a user message.
type Client interface {
	Respond(ctx context.Context, req Request) (Result, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (Result, error)

func (f ClientFunc) Respond(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}
