package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

// ServerConfig configures a Server.
type ServerConfig struct {
	Router RouterConfig
	// Notifier feeds the websocket hub. It is usually the same host as
	// Router.Viewer.
	Notifier       Notifier
	StatusInterval time.Duration
}

// Server is the HTTP API with websocket notifications.
type Server struct {
	viewer      Viewer
	notifier    Notifier
	router      *chi.Mux
	wsHub       *WebSocketHub
	rateLimiter *IPRateLimiter
	interval    time.Duration
	log         logrus.FieldLogger

	mu          sync.Mutex
	http        *http.Server
	unsubscribe func()
}

// NewServer builds the server. Background workers start in Start, so the
// result can be used with Router() in tests.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Router.Logger == nil {
		cfg.Router.Logger = logrus.StandardLogger()
	}
	if cfg.Router.RateLimiter == nil {
		rlCfg := DefaultRateLimitConfig
		if cfg.Router.RateLimitConfig != nil {
			rlCfg = *cfg.Router.RateLimitConfig
		}
		cfg.Router.RateLimiter = NewIPRateLimiter(rlCfg)
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 250 * time.Millisecond
	}

	s := &Server{
		viewer:      cfg.Router.Viewer,
		notifier:    cfg.Notifier,
		rateLimiter: cfg.Router.RateLimiter,
		wsHub:       NewWebSocketHub(cfg.Router.Logger),
		interval:    cfg.StatusInterval,
		log:         cfg.Router.Logger,
	}
	s.router = NewRouter(cfg.Router)
	s.router.Get("/ws", s.wsHub.HandleWebSocket)
	return s
}

// Router returns the HTTP handler for use with httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// Hub returns the websocket hub.
func (s *Server) Hub() *WebSocketHub {
	return s.wsHub
}

// StartWorkers starts the websocket hub, notification forwarding and the
// status loop without opening a listener.
func (s *Server) StartWorkers() {
	go s.wsHub.Run()
	if s.notifier != nil {
		s.mu.Lock()
		s.unsubscribe = s.wsHub.Forward(s.notifier)
		s.mu.Unlock()
	}
	s.wsHub.StartStatusLoop(s.viewer, s.interval)
}

// Start starts the workers and serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.StartWorkers()
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	s.log.Infof("🌐 API server starting on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the listener and background workers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	unsubscribe, srv := s.unsubscribe, s.http
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	s.wsHub.Stop()
	s.rateLimiter.Stop()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
