package webchat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chat-relay/pkg/chat"
)

// Transport is what the Router needs from the connection layer: direct
// delivery to one connection, session-wide broadcast and session membership.
type Transport interface {
	SendTo(connID string, event string, payload any) error
	Publish(ctx context.Context, sessionID string, event string, payload any) error
	JoinSession(ctx context.Context, connID string, sessionID string) error
	LeaveSession(connID string, sessionID string)
}

type StreamHubConfig struct {
	BaseCtx     context.Context
	Publisher   WSPublisher
	Subscribers SubscriberFactory

	IdleTimeout  time.Duration
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
}

type sessionStream struct {
	id     string
	pool   *ConnectionPool
	reader *StreamCoordinator
}

// StreamHub owns live websocket peers and the per-session fan-out: one
// connection pool plus one bus reader for every session with members.
type StreamHub struct {
	baseCtx context.Context
	pub     WSPublisher
	subs    SubscriberFactory
	cfg     StreamHubConfig

	mu       sync.Mutex
	peers    map[string]*Peer
	sessions map[string]*sessionStream
}

var _ Transport = (*StreamHub)(nil)

func NewStreamHub(cfg StreamHubConfig) (*StreamHub, error) {
	if cfg.BaseCtx == nil {
		return nil, errors.New("stream hub base context is nil")
	}
	if cfg.Publisher == nil {
		return nil, errors.New("stream hub publisher is nil")
	}
	if cfg.Subscribers == nil {
		return nil, errors.New("stream hub subscriber factory is nil")
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	return &StreamHub{
		baseCtx:  cfg.BaseCtx,
		pub:      cfg.Publisher,
		subs:     cfg.Subscribers,
		cfg:      cfg,
		peers:    map[string]*Peer{},
		sessions: map[string]*sessionStream{},
	}, nil
}

// AddPeer wraps conn into a Peer with a fresh connection id.
func (h *StreamHub) AddPeer(conn wsConn) *Peer {
	p := newPeer(uuid.NewString(), conn, h.cfg.SendBuffer, h.cfg.WriteTimeout, h.cfg.PingInterval)
	h.mu.Lock()
	h.peers[p.ID] = p
	h.mu.Unlock()
	go func() {
		<-p.Done()
		h.forgetPeer(p)
	}()
	return p
}

// forgetPeer drops a closed peer from the hub and from every session pool,
// whoever closed it.
func (h *StreamHub) forgetPeer(p *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.peers[p.ID] == p {
		delete(h.peers, p.ID)
	}
	for _, ss := range h.sessions {
		if ss.pool.Remove(p) && h.cfg.IdleTimeout <= 0 && ss.pool.IsEmpty() {
			h.stopSessionLocked(ss)
		}
	}
}

// RemovePeer closes and forgets a peer. Its session memberships are released
// by forgetPeer once the peer is done.
func (h *StreamHub) RemovePeer(connID string) {
	h.mu.Lock()
	p := h.peers[connID]
	delete(h.peers, connID)
	h.mu.Unlock()
	if p != nil {
		p.Close()
	}
}

func (h *StreamHub) SendTo(connID string, event string, payload any) error {
	h.mu.Lock()
	p := h.peers[connID]
	h.mu.Unlock()
	if p == nil {
		return ErrConnectionUnknown
	}
	frame, err := chat.Frame(event, payload)
	if err != nil {
		return err
	}
	if !p.Send(frame) {
		log.Warn().Str("component", "webchat").Str("conn_id", connID).Str("event", event).Msg("ws send queue full or closed, dropping connection")
		p.Close()
		return errors.Errorf("connection %s not writable", connID)
	}
	return nil
}

func (h *StreamHub) Publish(ctx context.Context, sessionID string, event string, payload any) error {
	frame, err := chat.Frame(event, payload)
	if err != nil {
		return err
	}
	return h.pub.PublishFrame(ctx, sessionID, frame)
}

// JoinSession moves a connection into the session's pool, starting the
// session's bus reader when it is the first member.
func (h *StreamHub) JoinSession(ctx context.Context, connID string, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrSessionIDEmpty
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	p := h.peers[connID]
	if p == nil {
		return ErrConnectionUnknown
	}
	ss, err := h.ensureSessionLocked(ctx, sessionID)
	if err != nil {
		return err
	}
	ss.pool.Add(p)
	log.Debug().Str("component", "webchat").Str("session_id", sessionID).Str("conn_id", connID).Int("members", ss.pool.Count()).Msg("connection joined session")
	return nil
}

func (h *StreamHub) LeaveSession(connID string, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ss := h.sessions[sessionID]
	p := h.peers[connID]
	if ss == nil || p == nil {
		return
	}
	ss.pool.Remove(p)
	if h.cfg.IdleTimeout <= 0 && ss.pool.IsEmpty() {
		h.stopSessionLocked(ss)
	}
}

// ActiveStreams reports the number of sessions with a running bus reader.
func (h *StreamHub) ActiveStreams() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Close stops every session reader and closes every peer.
func (h *StreamHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ss := range h.sessions {
		ss.pool.CloseAll()
		h.stopSessionLocked(ss)
	}
	for id, p := range h.peers {
		p.Close()
		delete(h.peers, id)
	}
}

func (h *StreamHub) ensureSessionLocked(ctx context.Context, sessionID string) (*sessionStream, error) {
	if ss := h.sessions[sessionID]; ss != nil {
		return ss, nil
	}
	if ctx == nil {
		ctx = h.baseCtx
	}
	sub, owned, err := h.subs.BuildSubscriber(ctx, topicForSession(sessionID))
	if err != nil {
		return nil, errors.Wrap(err, "build session subscriber")
	}
	ss := &sessionStream{id: sessionID}
	ss.pool = NewConnectionPool(sessionID, h.cfg.IdleTimeout, func() { h.onSessionIdle(ss) })
	ss.reader = NewStreamCoordinator(sessionID, sub, owned, func(frame []byte) {
		ss.pool.Broadcast(frame)
	})
	// readers live as long as the hub, not the request that created them
	if err := ss.reader.Start(h.baseCtx); err != nil {
		ss.reader.Close()
		return nil, err
	}
	h.sessions[sessionID] = ss
	return ss, nil
}

func (h *StreamHub) onSessionIdle(ss *sessionStream) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[ss.id] != ss || !ss.pool.IsEmpty() {
		return
	}
	log.Debug().Str("component", "webchat").Str("session_id", ss.id).Msg("session idle, stopping stream reader")
	h.stopSessionLocked(ss)
}

func (h *StreamHub) stopSessionLocked(ss *sessionStream) {
	ss.pool.CancelIdleTimer()
	ss.reader.Close()
	if h.sessions[ss.id] == ss {
		delete(h.sessions, ss.id)
	}
}
