package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bobmcallan/patentforge/internal/app"
	"github.com/bobmcallan/patentforge/internal/common"
)

// Server is the HTTP front of the generation service.
type Server struct {
	app    *app.App
	server *http.Server
	logger *common.Logger

	shutdownChan chan struct{}
}

// NewServer builds the HTTP server around an initialized App.
func NewServer(a *app.App) *Server {
	s := &Server{
		app:          a,
		logger:       a.Logger,
		shutdownChan: make(chan struct{}),
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	addr := fmt.Sprintf("%s:%d", a.Config.Server.Host, a.Config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           applyMiddleware(mux, s.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler exposes the middleware-wrapped handler for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start runs the server until it is shut down.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.shutdownChan)
	return s.server.Shutdown(ctx)
}
