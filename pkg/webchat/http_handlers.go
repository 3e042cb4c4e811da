package webchat

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chat-relay/pkg/chat"
	"github.com/go-go-golems/chat-relay/pkg/persistence/chatstore"
)

// NewUpgrader returns the websocket upgrader used by /ws. Any origin is
// accepted.
func NewUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
}

// WSHandlerOptions tunes the read side of a websocket connection.
type WSHandlerOptions struct {
	// ReadLimit caps the size of one inbound frame.
	ReadLimit int64
	// PongWait is how long a connection may stay silent before it is
	// considered dead. Zero disables the read deadline.
	PongWait time.Duration
}

// NewWSHandler upgrades the request, attaches the connection to the hub and
// runs its read loop until the client goes away.
func NewWSHandler(hub *StreamHub, router *Router, upgrader websocket.Upgrader, opts WSHandlerOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if hub == nil || router == nil {
			http.Error(w, "chat service not initialized", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			log.Debug().Err(err).Str("component", "webchat").Msg("ws upgrade failed")
			return
		}
		peer := hub.AddPeer(conn)
		wsLog := log.With().
			Str("component", "webchat").
			Str("remote", conn.RemoteAddr().String()).
			Str("conn_id", peer.ID).
			Logger()
		wsLog.Info().Msg("ws connected")

		defer func() {
			router.Disconnect(peer.ID)
			hub.RemovePeer(peer.ID)
			wsLog.Info().Msg("ws disconnected")
		}()

		if opts.ReadLimit > 0 {
			conn.SetReadLimit(opts.ReadLimit)
		}
		if opts.PongWait > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(opts.PongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(opts.PongWait))
			})
		}

		if err := router.Connect(peer.ID); err != nil {
			wsLog.Warn().Err(err).Msg("ws greeting failed")
			return
		}

		// the request context ends with the handler; joins and sends only
		// need it for store and bus calls
		ctx := context.WithoutCancel(req.Context())
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				wsLog.Debug().Err(err).Msg("ws read loop end")
				return
			}
			if opts.PongWait > 0 {
				_ = conn.SetReadDeadline(time.Now().Add(opts.PongWait))
			}
			if msgType != websocket.TextMessage || len(data) == 0 {
				continue
			}
			dispatchFrame(ctx, router, peer.ID, data)
		}
	}
}

// dispatchFrame routes one inbound frame. Malformed frames and unknown
// events are dropped.
func dispatchFrame(ctx context.Context, router *Router, connID string, data []byte) {
	var env chat.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Debug().Err(err).Str("component", "webchat").Str("conn_id", connID).Msg("ignoring malformed frame")
		return
	}
	switch env.Event {
	case chat.EventJoinChat:
		var jr chat.JoinRequest
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &jr); err != nil {
				log.Debug().Err(err).Str("component", "webchat").Str("conn_id", connID).Msg("ignoring malformed join_chat")
				return
			}
		}
		if _, err := router.Join(ctx, connID, jr); err != nil {
			log.Warn().Err(err).Str("component", "webchat").Str("conn_id", connID).Msg("join failed")
		}
	case chat.EventSendMessage:
		var sr chat.SendRequest
		if err := json.Unmarshal(env.Data, &sr); err != nil {
			log.Debug().Err(err).Str("component", "webchat").Str("conn_id", connID).Msg("ignoring malformed send_message")
			return
		}
		if _, err := router.Send(ctx, connID, sr); err != nil {
			log.Warn().Err(err).Str("component", "webchat").Str("conn_id", connID).Msg("send failed")
		}
	default:
		log.Debug().Str("component", "webchat").Str("conn_id", connID).Str("event", env.Event).Msg("ignoring unknown event")
	}
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Stats
}

func NewHealthHandler(router *Router) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC(),
			Stats:     router.Stats(),
		})
	}
}

type debugMessagesResponse struct {
	SessionID string                   `json:"session_id"`
	Session   *chatstore.SessionRecord `json:"session,omitempty"`
	Messages  []chat.Message           `json:"messages"`
}

type debugConnectionsResponse struct {
	SessionID   string   `json:"session_id"`
	Connections []string `json:"connections"`
}

type debugSessionsResponse struct {
	Sessions []chatstore.SessionRecord `json:"sessions"`
}

// NewDebugSessionsHandler lists known sessions, most recently active first.
func NewDebugSessionsHandler(store chatstore.SessionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		sessions, err := store.ListSessions(req.Context(), queryLimit(req, 0))
		if err != nil {
			log.Error().Err(err).Str("component", "webchat").Msg("debug: list sessions failed")
			http.Error(w, "list sessions failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, debugSessionsResponse{Sessions: sessions})
	}
}

// NewDebugMessagesHandler returns a session's stored history. It never
// creates the session.
func NewDebugMessagesHandler(store chatstore.SessionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		sessionID := strings.TrimSpace(chi.URLParam(req, "sessionID"))
		if sessionID == "" {
			http.Error(w, "missing session id", http.StatusBadRequest)
			return
		}
		rec, ok, err := store.GetSession(req.Context(), sessionID)
		if err != nil {
			log.Error().Err(err).Str("component", "webchat").Str("session_id", sessionID).Msg("debug: get session failed")
			http.Error(w, "get session failed", http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		msgs, err := store.History(req.Context(), sessionID, queryLimit(req, 0))
		if err != nil {
			log.Error().Err(err).Str("component", "webchat").Str("session_id", sessionID).Msg("debug: history failed")
			http.Error(w, "history failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, debugMessagesResponse{SessionID: sessionID, Session: &rec, Messages: msgs})
	}
}

// NewDebugConnectionsHandler lists the connections currently joined to a
// session.
func NewDebugConnectionsHandler(router *Router) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		sessionID := strings.TrimSpace(chi.URLParam(req, "sessionID"))
		if sessionID == "" {
			http.Error(w, "missing session id", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, debugConnectionsResponse{
			SessionID:   sessionID,
			Connections: router.Registry().Connections(sessionID),
		})
	}
}

// HandlerOptions selects the optional routes of NewHTTPHandler.
type HandlerOptions struct {
	EnableDebugRoutes bool
	WS                WSHandlerOptions
}

// NewHTTPHandler mounts /ws, /api/health and, when enabled, /api/debug/*.
func NewHTTPHandler(hub *StreamHub, router *Router, store chatstore.SessionStore, opts HandlerOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/ws", NewWSHandler(hub, router, NewUpgrader(), opts.WS))
	r.Get("/api/health", NewHealthHandler(router))

	if opts.EnableDebugRoutes && store != nil {
		r.Route("/api/debug", func(r chi.Router) {
			r.Get("/sessions", NewDebugSessionsHandler(store))
			r.Get("/sessions/{sessionID}/messages", NewDebugMessagesHandler(store))
			r.Get("/sessions/{sessionID}/connections", NewDebugConnectionsHandler(router))
		})
	}
	return r
}

func queryLimit(req *http.Request, def int) int {
	s := strings.TrimSpace(req.URL.Query().Get("limit"))
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Str("component", "webchat").Msg("response write failed")
	}
}
