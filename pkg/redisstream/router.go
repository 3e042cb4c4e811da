package redisstream

import (
	"context"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Bus is the publish/subscribe transport carrying session events between the
// router and the websocket readers.
type Bus struct {
	publisher message.Publisher
	memory    *gochannel.GoChannel
	client    *redis.Client
	settings  Settings
	instance  string
	logger    watermill.LoggerAdapter
}

// BuildBus constructs a Bus backed by Redis Streams when enabled and by an
// in-memory go channel otherwise.
//
// The in-memory publisher blocks until every subscriber acked the message, so
// events published in sequence are delivered in that sequence.
func BuildBus(s Settings, logger watermill.LoggerAdapter) (*Bus, error) {
	if logger == nil {
		logger = NewWatermillLogger(log.Logger)
	}
	if !s.Enabled {
		ch := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            64,
			BlockPublishUntilSubscriberAck: true,
		}, logger)
		return &Bus{publisher: ch, memory: ch, settings: s, logger: logger}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: rstream.DefaultMarshallerUnmarshaller{},
	}, logger)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "build redis publisher")
	}
	return &Bus{
		publisher: pub,
		client:    client,
		settings:  s,
		instance:  uuid.NewString(),
		logger:    logger,
	}, nil
}

func (b *Bus) Publisher() message.Publisher {
	if b == nil {
		return nil
	}
	return b.publisher
}

// RedisEnabled reports whether the bus crosses process boundaries.
func (b *Bus) RedisEnabled() bool {
	return b != nil && b.client != nil
}

// BuildSubscriber returns a subscriber for topic. The boolean tells the caller
// whether it owns the subscriber and must close it when done.
func (b *Bus) BuildSubscriber(ctx context.Context, topic string) (message.Subscriber, bool, error) {
	if b == nil {
		return nil, false, errors.New("bus is not initialized")
	}
	if topic == "" {
		return nil, false, errors.New("topic is empty")
	}
	if b.memory != nil {
		return b.memory, false, nil
	}
	// Every reader gets a fresh group created at the tail, so it sees what is
	// published from now on and nothing that was published while no reader
	// was running. The group is destroyed again when the reader closes.
	group := b.settings.Group + ":" + b.instance + ":" + uuid.NewString()[:8]
	if err := EnsureGroupAtTail(ctx, b.client, topic, group); err != nil {
		return nil, false, err
	}
	// the subscriber closes its client on Close
	client := redis.NewClient(&redis.Options{Addr: b.settings.Addr})
	sub, err := BuildGroupSubscriber(client, group, b.settings.Consumer, b.logger)
	if err != nil {
		_ = client.Close()
		_ = b.client.XGroupDestroy(context.WithoutCancel(ctx), topic, group).Err()
		return nil, false, err
	}
	return &groupSubscriber{Subscriber: sub, admin: b.client, stream: topic, group: group}, true, nil
}

// groupSubscriber owns a reader's consumer group and removes it on Close.
type groupSubscriber struct {
	message.Subscriber
	admin  *redis.Client
	stream string
	group  string
}

func (g *groupSubscriber) Close() error {
	err := g.Subscriber.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if derr := g.admin.XGroupDestroy(ctx, g.stream, g.group).Err(); derr != nil {
		log.Debug().Err(derr).Str("stream", g.stream).Str("group", g.group).Msg("destroy redis consumer group")
	}
	return err
}

func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	var firstErr error
	if b.publisher != nil {
		if err := b.publisher.Close(); err != nil {
			firstErr = err
		}
	}
	if b.client != nil {
		if err := b.client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// BuildGroupSubscriber returns a Redis Streams subscriber bound to the given consumer group/name.
func BuildGroupSubscriber(client *redis.Client, group, consumer string, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  rstream.DefaultMarshallerUnmarshaller{},
		ConsumerGroup: group,
		Consumer:      consumer,
	}, logger)
}

// EnsureGroupAtTail creates the consumer group for a given stream at the tail ($) if it doesn't exist.
// This prevents full historical replay on first subscribe.
func EnsureGroupAtTail(ctx context.Context, client *redis.Client, stream, group string) error {
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		// Ignore BUSYGROUP errors (group already exists)
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrap(err, "create redis consumer group")
	}
	log.Debug().Str("stream", stream).Str("group", group).Msg("created redis consumer group at $ (tail)")
	return nil
}
