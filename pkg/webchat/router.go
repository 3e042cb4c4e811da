package webchat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/chat-relay/pkg/chat"
	"github.com/go-go-golems/chat-relay/pkg/persistence/chatstore"
	"github.com/go-go-golems/chat-relay/pkg/responder"
)

const (
	DefaultAssistantName   = "Nicki (TC)"
	DefaultConnectedStatus = "Connected to TC Chat"
	// DefaultWelcomeTemplate is rendered with the joining user's name.
	DefaultWelcomeTemplate = "👋 Hi {{user}}! I'm Nicki, your Transaction Coordinator. How can I help you today?"
)

type RouterSettings struct {
	AssistantName   string
	WelcomeTemplate string
	ConnectedStatus string
	ThinkingDelay   time.Duration
	// HistoryLimit caps the chat_history sent to a joining connection.
	HistoryLimit int
	// ContextLimit caps the history handed to the response engine.
	ContextLimit int
}

func DefaultRouterSettings() RouterSettings {
	return RouterSettings{
		AssistantName:   DefaultAssistantName,
		WelcomeTemplate: DefaultWelcomeTemplate,
		ConnectedStatus: DefaultConnectedStatus,
		ThinkingDelay:   time.Second,
		HistoryLimit:    50,
		ContextLimit:    10,
	}
}

func (s RouterSettings) withDefaults() RouterSettings {
	d := DefaultRouterSettings()
	if strings.TrimSpace(s.AssistantName) == "" {
		s.AssistantName = d.AssistantName
	}
	if strings.TrimSpace(s.WelcomeTemplate) == "" {
		s.WelcomeTemplate = d.WelcomeTemplate
	}
	if strings.TrimSpace(s.ConnectedStatus) == "" {
		s.ConnectedStatus = d.ConnectedStatus
	}
	if s.ThinkingDelay < 0 {
		s.ThinkingDelay = 0
	}
	if s.HistoryLimit <= 0 {
		s.HistoryLimit = d.HistoryLimit
	}
	if s.ContextLimit <= 0 {
		s.ContextLimit = d.ContextLimit
	}
	return s
}

type RouterConfig struct {
	BaseCtx   context.Context
	Store     chatstore.SessionStore
	Registry  *ConnectionRegistry
	Responder responder.Client
	Transport Transport
	Settings  RouterSettings
}

// Router turns connection events into store appends and session broadcasts,
// and runs one response task per accepted user message.
type Router struct {
	baseCtx   context.Context
	store     chatstore.SessionStore
	registry  *ConnectionRegistry
	responder responder.Client
	transport Transport
	settings  RouterSettings

	// per-session lock: append and publish happen under it so broadcast
	// order matches history order
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	tasks errgroup.Group
}

// Stats is the snapshot reported by the status endpoint.
type Stats struct {
	Sessions    int `json:"active_sessions"`
	Connections int `json:"active_users"`
}

func NewRouter(cfg RouterConfig) (*Router, error) {
	if cfg.BaseCtx == nil {
		return nil, errors.New("router base context is nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("router session store is nil")
	}
	if cfg.Transport == nil {
		return nil, errors.New("router transport is nil")
	}
	if cfg.Responder == nil {
		return nil, errors.New("router responder is nil")
	}
	reg := cfg.Registry
	if reg == nil {
		reg = NewConnectionRegistry()
	}
	return &Router{
		baseCtx:   cfg.BaseCtx,
		store:     cfg.Store,
		registry:  reg,
		responder: responder.NewSafeClient(cfg.Responder),
		transport: cfg.Transport,
		settings:  cfg.Settings.withDefaults(),
		locks:     map[string]*sync.Mutex{},
	}, nil
}

func (r *Router) Registry() *ConnectionRegistry { return r.registry }

// Connect greets a freshly attached connection. It has no session yet.
func (r *Router) Connect(connID string) error {
	return r.transport.SendTo(connID, chat.EventConnected, chat.ConnectedPayload{Status: r.settings.ConnectedStatus})
}

// Join associates the connection with a session, seeds the welcome message
// on an empty session and sends the newest history to this connection only.
// It returns the session id actually joined.
func (r *Router) Join(ctx context.Context, connID string, req chat.JoinRequest) (string, error) {
	req = req.Normalize()
	sessionID := req.SessionID
	logger := log.With().Str("component", "webchat").Str("session_id", sessionID).Str("conn_id", connID).Logger()

	lock := r.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	// a failed join leaves the previous association untouched
	if err := r.transport.JoinSession(ctx, connID, sessionID); err != nil {
		return sessionID, errors.Wrap(err, "join session")
	}
	prev, had := r.registry.Register(connID, sessionID, req.UserName)
	if had && prev.SessionID != sessionID {
		r.transport.LeaveSession(connID, prev.SessionID)
	}

	welcome := chat.NewMessage(chat.RoleAssistant, r.settings.AssistantName, r.welcomeText(req.UserName))
	if _, added, err := r.store.AppendIfEmpty(ctx, sessionID, welcome); err != nil {
		return sessionID, errors.Wrap(err, "append welcome message")
	} else if added {
		logger.Debug().Msg("new session, welcome message appended")
	}

	history, err := r.store.History(ctx, sessionID, r.settings.HistoryLimit)
	if err != nil {
		return sessionID, errors.Wrap(err, "read session history")
	}
	logger.Info().Str("user", req.UserName).Int("history", len(history)).Msg("connection joined chat")
	return sessionID, r.transport.SendTo(connID, chat.EventChatHistory, chat.HistoryPayload{Messages: history})
}

// Send handles one inbound user message. Blank text is ignored and reported
// as not accepted. An accepted message is stored and broadcast before its
// response task is scheduled.
func (r *Router) Send(ctx context.Context, connID string, req chat.SendRequest) (bool, error) {
	text := strings.TrimSpace(req.Message)
	if text == "" {
		log.Debug().Str("component", "webchat").Str("conn_id", connID).Msg("ignoring empty message")
		return false, nil
	}
	who := r.registry.Lookup(connID)

	lock := r.sessionLock(who.SessionID)
	lock.Lock()
	stored, err := r.store.Append(ctx, who.SessionID, chat.NewMessage(chat.RoleUser, who.DisplayName, text))
	if err != nil {
		lock.Unlock()
		return false, errors.Wrap(err, "append user message")
	}
	r.publish(ctx, who.SessionID, chat.EventNewMessage, stored)
	r.publish(ctx, who.SessionID, chat.EventTyping, chat.TypingPayload{User: r.settings.AssistantName})
	lock.Unlock()

	r.tasks.Go(func() error {
		r.respond(who, text)
		return nil
	})
	return true, nil
}

// Disconnect forgets the connection. Session history is untouched and
// pending responses still go out to the remaining members.
func (r *Router) Disconnect(connID string) {
	prev, had := r.registry.Unregister(connID)
	if !had {
		return
	}
	r.transport.LeaveSession(connID, prev.SessionID)
	log.Debug().Str("component", "webchat").Str("session_id", prev.SessionID).Str("conn_id", connID).Msg("connection left chat")
}

// Wait blocks until every scheduled response task has finished.
func (r *Router) Wait() {
	_ = r.tasks.Wait()
}

func (r *Router) Stats() Stats {
	return Stats{
		Sessions:    r.store.SessionCount(),
		Connections: r.registry.Count(),
	}
}

// respond runs detached from any connection: it is never cancelled, and its
// only output is the broadcast.
func (r *Router) respond(who Participant, text string) {
	ctx := context.WithoutCancel(r.baseCtx)
	logger := log.With().Str("component", "webchat").Str("session_id", who.SessionID).Logger()

	if r.settings.ThinkingDelay > 0 {
		time.Sleep(r.settings.ThinkingDelay)
	}

	history, err := r.store.History(ctx, who.SessionID, r.settings.ContextLimit)
	if err != nil {
		logger.Warn().Err(err).Msg("could not read context history")
	}
	started := time.Now()
	res, _ := r.responder.Respond(ctx, responder.Request{
		From:      who.DisplayName,
		Text:      text,
		Source:    responder.SourceWebChat,
		SessionID: who.SessionID,
		History:   history,
	})
	logger.Debug().Dur("took", time.Since(started)).Bool("error", res.Error).Msg("response engine returned")

	reply := chat.NewMessage(chat.RoleAssistant, r.settings.AssistantName, res.Response)
	reply.Confidence = res.Confidence
	reply.Actions = res.Actions
	reply.Error = res.Error

	lock := r.sessionLock(who.SessionID)
	lock.Lock()
	defer lock.Unlock()
	stored, err := r.store.Append(ctx, who.SessionID, reply)
	if err != nil {
		logger.Error().Err(err).Msg("could not store assistant message")
		return
	}
	r.publish(ctx, who.SessionID, chat.EventStopTyping, chat.TypingPayload{User: r.settings.AssistantName})
	r.publish(ctx, who.SessionID, chat.EventNewMessage, stored)
}

func (r *Router) publish(ctx context.Context, sessionID, event string, payload any) {
	if err := r.transport.Publish(ctx, sessionID, event, payload); err != nil {
		log.Warn().Err(err).Str("component", "webchat").Str("session_id", sessionID).Str("event", event).Msg("publish failed")
	}
}

func (r *Router) welcomeText(userName string) string {
	return strings.ReplaceAll(r.settings.WelcomeTemplate, "{{user}}", userName)
}

func (r *Router) sessionLock(sessionID string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	l := r.locks[sessionID]
	if l == nil {
		l = &sync.Mutex{}
		r.locks[sessionID] = l
	}
	return l
}
