// Package observe continued: Server wires the handlers and wsHub into a
// runnable http.Server.
package observe

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"bookhub/internal/config"
	"bookhub/pkg/booktypes"
)

// Server runs the read-only HTTP/WebSocket status surface.
type Server struct {
	provider Provider
	wsHub    *wsHub
	handlers *handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer builds a Server listening on cfg.Addr. It does not start
// listening until Start is called.
func NewServer(cfg config.ObserveConfig, provider Provider, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	wsHub := newWSHub(logger)
	h := newHandlers(provider, cfg.AllowedOrigins, wsHub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/api/books", h.handleBooks)
	mux.HandleFunc("/api/hub", h.handleHubState)
	mux.HandleFunc("/ws", h.handleWebSocket)

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		provider: provider,
		wsHub:    wsHub,
		handlers: h,
		server:   httpServer,
		logger:   logger.With("component", "observe-server"),
	}
}

// Start runs the WebSocket hub loop and blocks serving HTTP until Stop
// is called (or the server fails to bind).
func (s *Server) Start() error {
	go s.wsHub.run()

	s.logger.Info("observe server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("observe: server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.logger.Info("observe server stopping")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// BroadcastBookUpdated pushes a book_updated event to every connected
// viewer. The app orchestrator calls this from the Reconciler callback.
func (s *Server) BroadcastBookUpdated(book booktypes.OrderBook) {
	s.wsHub.broadcastEvent(NewBookUpdatedEvent(book))
}

// BroadcastHubConnected pushes a hub_connected event.
func (s *Server) BroadcastHubConnected() {
	s.wsHub.broadcastEvent(NewHubConnectedEvent())
}

// BroadcastHubDisconnected pushes a hub_disconnected event.
func (s *Server) BroadcastHubDisconnected() {
	s.wsHub.broadcastEvent(NewHubDisconnectedEvent())
}
