package webchat

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// StreamCoordinator owns the bus subscription for one session and hands every
// frame, in order, to onFrame.
type StreamCoordinator struct {
	sessionID  string
	subscriber message.Subscriber
	owned      bool

	onFrame func([]byte)

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

// NewStreamCoordinator builds a coordinator. When owned is true the
// coordinator closes the subscriber on Close.
func NewStreamCoordinator(sessionID string, subscriber message.Subscriber, owned bool, onFrame func([]byte)) *StreamCoordinator {
	return &StreamCoordinator{
		sessionID:  sessionID,
		subscriber: subscriber,
		owned:      owned,
		onFrame:    onFrame,
	}
}

// Start subscribes synchronously and consumes in the background, so frames
// published after Start returns are not missed.
func (sc *StreamCoordinator) Start(ctx context.Context) error {
	if sc == nil || sc.subscriber == nil {
		return nil
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.running {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	ch, err := sc.subscriber.Subscribe(runCtx, topicForSession(sc.sessionID))
	if err != nil {
		cancel()
		return errors.Wrapf(err, "subscribe to session %s", sc.sessionID)
	}
	sc.cancel = cancel
	sc.running = true

	go sc.consume(ch)
	return nil
}

func (sc *StreamCoordinator) Stop() {
	if sc == nil {
		return
	}
	sc.mu.Lock()
	if sc.cancel != nil {
		sc.cancel()
	}
	sc.cancel = nil
	sc.mu.Unlock()
}

func (sc *StreamCoordinator) Close() {
	if sc == nil {
		return
	}
	sc.Stop()
	if sc.owned && sc.subscriber != nil {
		if err := sc.subscriber.Close(); err != nil {
			log.Warn().Err(err).Str("component", "webchat").Str("session_id", sc.sessionID).Msg("stream coordinator: subscriber close failed")
		}
	}
}

func (sc *StreamCoordinator) IsRunning() bool {
	if sc == nil {
		return false
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.running
}

func (sc *StreamCoordinator) consume(ch <-chan *message.Message) {
	log.Debug().Str("component", "webchat").Str("session_id", sc.sessionID).Msg("stream coordinator: started")
	for msg := range ch {
		if sc.onFrame != nil && len(msg.Payload) > 0 {
			sc.onFrame(msg.Payload)
		}
		msg.Ack()
	}
	log.Debug().Str("component", "webchat").Str("session_id", sc.sessionID).Msg("stream coordinator: stopped")
	sc.mu.Lock()
	sc.running = false
	sc.cancel = nil
	sc.mu.Unlock()
}
