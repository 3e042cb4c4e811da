package webchat

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chat-relay/pkg/redisstream"
)

// SubscriberFactory returns a bus subscriber for a topic and whether the
// caller owns (and must close) it.
type SubscriberFactory interface {
	BuildSubscriber(ctx context.Context, topic string) (message.Subscriber, bool, error)
}

// StreamBackend is the event bus session frames travel over.
type StreamBackend interface {
	SubscriberFactory
	Publisher() message.Publisher
	RedisEnabled() bool
	Close() error
}

// NewStreamBackend builds the in-memory bus, or the Redis Streams bus when
// settings enable it.
func NewStreamBackend(s redisstream.Settings) (StreamBackend, error) {
	bus, err := redisstream.BuildBus(s, redisstream.NewWatermillLogger(log.Logger))
	if err != nil {
		return nil, errors.Wrap(err, "build event bus")
	}
	return bus, nil
}
