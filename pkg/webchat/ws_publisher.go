package webchat

import (
	"context"
	"errors"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

var (
	ErrSessionIDEmpty    = errors.New("session id is empty")
	ErrPublisherAbsent   = errors.New("event publisher not available")
	ErrConnectionUnknown = errors.New("connection not found")
)

// topicForSession computes the bus topic carrying a session's frames.
func topicForSession(sessionID string) string { return "chat:" + sessionID }

// WSPublisher publishes encoded websocket frames to everyone in a session.
type WSPublisher interface {
	PublishFrame(ctx context.Context, sessionID string, frame []byte) error
}

type busWSPublisher struct {
	pub message.Publisher
}

func NewWSPublisher(pub message.Publisher) WSPublisher {
	return &busWSPublisher{pub: pub}
}

func (p *busWSPublisher) PublishFrame(ctx context.Context, sessionID string, frame []byte) error {
	if p == nil || p.pub == nil {
		return ErrPublisherAbsent
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrSessionIDEmpty
	}
	msg := message.NewMessage(watermill.NewUUID(), frame)
	if ctx != nil {
		msg.SetContext(ctx)
	}
	return p.pub.Publish(topicForSession(sessionID), msg)
}
