// Package server exposes the live editing subsystem over HTTP: the JSON
// document API, the presence event stream, the room websocket channel,
// health and metrics.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/conneroisu/livedoc/internal/config"
	"github.com/conneroisu/livedoc/internal/content"
	"github.com/conneroisu/livedoc/internal/logging"
	"github.com/conneroisu/livedoc/internal/metrics"
	"github.com/conneroisu/livedoc/internal/middleware"
	"github.com/conneroisu/livedoc/internal/presence"
	"github.com/conneroisu/livedoc/internal/room"
)

// ErrProductionDisabled is returned by New in a production environment.
var ErrProductionDisabled = fmt.Errorf("live editing is disabled in production")

// Services are the long-lived components the handlers delegate to.
type Services struct {
	Store    *content.Store
	Presence *presence.Directory
	Rooms    *room.Manager
	Metrics  *metrics.Metrics
	Logger   logging.Logger
}

// Server is the HTTP front of the live subsystem.
type Server struct {
	config    *config.Config
	store     *content.Store
	presence  *presence.Directory
	rooms     *room.Manager
	metrics   *metrics.Metrics
	logger    logging.Logger
	startedAt time.Time

	handler http.Handler

	serverMutex sync.RWMutex
	httpServer  *http.Server
}

// New wires the routes and middleware. It also subscribes the room manager
// to store evictions and disk reloads so rooms follow their documents.
func New(cfg *config.Config, svc Services) (*Server, error) {
	if cfg.IsProduction() {
		return nil, ErrProductionDisabled
	}
	if svc.Store == nil || svc.Presence == nil || svc.Rooms == nil {
		return nil, fmt.Errorf("server: store, presence and rooms are required")
	}
	logger := svc.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	s := &Server{
		config:    cfg,
		store:     svc.Store,
		presence:  svc.Presence,
		rooms:     svc.Rooms,
		metrics:   svc.Metrics,
		logger:    logger.WithComponent("server"),
		startedAt: time.Now(),
	}

	s.store.OnClose(func(path string) { s.rooms.Close(path) })
	s.store.OnReload(func(path, _ string) { s.rooms.Reset(path) })

	chain := middleware.NewChain(middleware.Dependencies{Config: cfg, Logger: logger})
	s.handler = chain.Apply(s.routes())
	return s, nil
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/live/open", s.handleOpen)
	mux.HandleFunc("POST /api/live/update", s.handleUpdate)
	mux.HandleFunc("POST /api/live/render", s.handleRender)
	mux.HandleFunc("POST /api/live/save", s.handleSave)
	mux.HandleFunc("POST /api/live/close", s.handleClose)
	mux.HandleFunc("GET /api/live/documents", s.handleDocuments)

	mux.HandleFunc("GET /api/live/presence", s.handlePresenceList)
	mux.HandleFunc("POST /api/live/presence", s.handlePresenceAction)
	mux.HandleFunc("GET /api/live/presence/stream", s.handlePresenceStream)

	mux.HandleFunc("GET /ws/room", s.rooms.ServeWS)

	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Server.Host, fmt.Sprint(s.config.Server.Port))
}

// Start listens and serves until Shutdown is called or ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	s.serverMutex.Lock()
	s.httpServer = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	srv := s.httpServer
	s.serverMutex.Unlock()

	s.logger.Info(ctx, "Live server listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, closes every room and waits for
// in-flight requests. Long-lived streams end when their request contexts
// are canceled.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.rooms.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, err, "Rooms did not drain before deadline")
	}
	s.presence.Stop()

	s.serverMutex.RLock()
	srv := s.httpServer
	s.serverMutex.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
