package webchat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/require"
)

func TestWSPublisher_PublishFrame_NoPublisher(t *testing.T) {
	publisher := NewWSPublisher(nil)
	err := publisher.PublishFrame(context.Background(), "S1", []byte("x"))
	require.True(t, errors.Is(err, ErrPublisherAbsent))
}

func TestWSPublisher_PublishFrame_EmptySession(t *testing.T) {
	ch := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer func() { _ = ch.Close() }()

	err := NewWSPublisher(ch).PublishFrame(context.Background(), "  ", []byte("x"))
	require.True(t, errors.Is(err, ErrSessionIDEmpty))
}

func TestWSPublisher_PublishFrame_UsesSessionTopic(t *testing.T) {
	ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 4}, watermill.NopLogger{})
	defer func() { _ = ch.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := ch.Subscribe(ctx, "chat:S1")
	require.NoError(t, err)

	require.NoError(t, NewWSPublisher(ch).PublishFrame(context.Background(), "S1", []byte(`{"event":"typing"}`)))

	select {
	case msg := <-msgs:
		require.Equal(t, `{"event":"typing"}`, string(msg.Payload))
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for frame")
	}
}
