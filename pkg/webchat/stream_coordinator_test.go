package webchat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/require"
)

type stubSubscriber struct {
	ch     chan *message.Message
	topics []string
	closed bool
}

func (s *stubSubscriber) Subscribe(_ context.Context, topic string) (<-chan *message.Message, error) {
	s.topics = append(s.topics, topic)
	return s.ch, nil
}

func (s *stubSubscriber) Close() error {
	s.closed = true
	close(s.ch)
	return nil
}

func TestStreamCoordinator_DeliversFramesInOrder(t *testing.T) {
	ch := make(chan *message.Message, 3)
	sub := &stubSubscriber{ch: ch}

	var mu sync.Mutex
	var got []string
	sc := NewStreamCoordinator("S1", sub, true, func(frame []byte) {
		mu.Lock()
		got = append(got, string(frame))
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, sc.Start(ctx))
	require.True(t, sc.IsRunning())
	require.Equal(t, []string{"chat:S1"}, sub.topics)

	for _, p := range []string{"a", "b", "c"} {
		ch <- message.NewMessage(p, []byte(p))
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"a", "b", "c"}, got)

	sc.Close()
	require.True(t, sub.closed)
	require.Eventually(t, func() bool { return !sc.IsRunning() }, 2*time.Second, 5*time.Millisecond)
}

func TestStreamCoordinator_SharedSubscriberIsNotClosed(t *testing.T) {
	sub := &stubSubscriber{ch: make(chan *message.Message)}
	sc := NewStreamCoordinator("S1", sub, false, nil)
	require.NoError(t, sc.Start(context.Background()))
	sc.Close()
	require.False(t, sub.closed)
	close(sub.ch)
}
