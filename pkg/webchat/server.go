package webchat

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/chat-relay/pkg/config"
	"github.com/go-go-golems/chat-relay/pkg/persistence/chatstore"
	"github.com/go-go-golems/chat-relay/pkg/responder"
)

// Server drives the HTTP server, the event bus and the router lifecycle.
type Server struct {
	baseCtx context.Context
	cancel  context.CancelFunc

	store   chatstore.SessionStore
	bus     StreamBackend
	hub     *StreamHub
	router  *Router
	httpSrv *http.Server
}

// ServerOption overrides a component NewServer would otherwise build from
// settings.
type ServerOption func(*serverDeps)

type serverDeps struct {
	store     chatstore.SessionStore
	responder responder.Client
}

func WithSessionStore(s chatstore.SessionStore) ServerOption {
	return func(d *serverDeps) { d.store = s }
}

func WithResponder(c responder.Client) ServerOption {
	return func(d *serverDeps) { d.responder = c }
}

// NewServer wires store, bus, hub, router and HTTP handler from settings.
func NewServer(ctx context.Context, s config.Settings, opts ...ServerOption) (*Server, error) {
	if ctx == nil {
		return nil, errors.New("ctx is nil")
	}
	deps := &serverDeps{}
	for _, o := range opts {
		o(deps)
	}
	if deps.store == nil {
		deps.store = chatstore.NewInMemorySessionStore()
	}
	if deps.responder == nil {
		c, err := NewResponderFromSettings(s)
		if err != nil {
			return nil, err
		}
		deps.responder = c
	}

	bus, err := NewStreamBackend(s.Redis)
	if err != nil {
		return nil, err
	}

	baseCtx, cancel := context.WithCancel(ctx)
	hub, err := NewStreamHub(StreamHubConfig{
		BaseCtx:      baseCtx,
		Publisher:    NewWSPublisher(bus.Publisher()),
		Subscribers:  bus,
		IdleTimeout:  s.IdleTimeout,
		SendBuffer:   s.SendBuffer,
		WriteTimeout: s.WriteTimeout,
		PingInterval: s.PingInterval,
	})
	if err != nil {
		cancel()
		_ = bus.Close()
		return nil, err
	}
	router, err := NewRouter(RouterConfig{
		BaseCtx:   baseCtx,
		Store:     deps.store,
		Responder: deps.responder,
		Transport: hub,
		Settings: RouterSettings{
			AssistantName:   s.AssistantName,
			WelcomeTemplate: s.WelcomeTemplate,
			ThinkingDelay:   s.ThinkingDelay,
		},
	})
	if err != nil {
		cancel()
		_ = bus.Close()
		return nil, err
	}

	wsOpts := WSHandlerOptions{ReadLimit: 64 << 10}
	if s.PingInterval > 0 {
		wsOpts.PongWait = 2 * s.PingInterval
	}
	handler := NewHTTPHandler(hub, router, deps.store, HandlerOptions{
		EnableDebugRoutes: s.EnableDebugRoutes,
		WS:                wsOpts,
	})
	httpSrv := &http.Server{
		Addr:              s.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info().
		Str("component", "webchat").
		Bool("redis", bus.RedisEnabled()).
		Bool("debug_routes", s.EnableDebugRoutes).
		Msg("chat relay configured")
	return &Server{
		baseCtx: baseCtx,
		cancel:  cancel,
		store:   deps.store,
		bus:     bus,
		hub:     hub,
		router:  router,
		httpSrv: httpSrv,
	}, nil
}

// NewResponderFromSettings picks the engine client: the HTTP engine when an
// engine URL is set, otherwise the scripted engine (from the script file when
// one is given).
func NewResponderFromSettings(s config.Settings) (responder.Client, error) {
	if s.EngineURL != "" {
		return responder.NewHTTPClient(s.EngineURL, s.SecretKey, responder.WithHTTPTimeout(s.EngineTimeout))
	}
	var script *responder.Script
	if s.ScriptFile != "" {
		var err error
		script, err = responder.LoadScriptFile(s.ScriptFile)
		if err != nil {
			return nil, err
		}
	}
	return responder.NewScriptedClient(script)
}

func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// Run serves until ctx is done or the process receives SIGINT/SIGTERM, then
// shuts down: stop accepting, let pending responses finish, release the bus.
func (s *Server) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("ctx is nil")
	}
	if s == nil || s.router == nil || s.httpSrv == nil {
		return errors.New("server is not initialized")
	}
	eg := errgroup.Group{}
	srvCtx, srvCancel := context.WithCancel(ctx)
	defer srvCancel()

	eg.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			log.Info().Msg("received interrupt signal, shutting down gracefully...")
		case <-srvCtx.Done():
		}
		srvCancel()
		return s.shutdown(context.WithoutCancel(ctx))
	})

	eg.Go(func() error {
		log.Info().Str("addr", s.httpSrv.Addr).Msg("starting chat relay server")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server listen error")
			srvCancel()
			return err
		}
		return nil
	})

	return eg.Wait()
}

func (s *Server) shutdown(base context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(base, 30*time.Second)
	defer cancel()
	var firstErr error
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
		firstErr = err
	}
	// hijacked websocket connections are not covered by Shutdown
	s.hub.Close()
	s.router.Wait()
	s.cancel()
	if err := s.bus.Close(); err != nil {
		log.Error().Err(err).Msg("event bus close error")
		if firstErr == nil {
			firstErr = err
		}
	}
	if err := s.store.Close(); err != nil {
		log.Error().Err(err).Msg("session store close error")
	}
	log.Info().Msg("server shutdown complete")
	return firstErr
}
