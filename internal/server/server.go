package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/opsloop/saiban/internal/storage"
)

// Server is saiban's HTTP server: one process answering for every component
// (Ingest, Decision, Explain, Execute, Learner).
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies needed to construct a Server.
type ServerConfig struct {
	DB           *storage.DB
	Handlers     HandlersDeps
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
	Logger       *slog.Logger
}

// New builds the route table and wraps it in the standard middleware chain.
func New(cfg ServerConfig) *Server {
	handlers := NewHandlers(cfg.Handlers)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", handlers.healthz)

	mux.HandleFunc("POST /workitems", handlers.createWorkItem)
	mux.HandleFunc("GET /workitems", handlers.listWorkItems)
	mux.HandleFunc("GET /workitems/{id}", handlers.getWorkItem)
	mux.HandleFunc("POST /workitems/{id}/outcome", handlers.recordOutcome)
	mux.HandleFunc("POST /webhooks/incoming", handlers.ingestWebhook)

	mux.HandleFunc("POST /decide", handlers.decide)
	mux.HandleFunc("GET /decisions/{work_item_id}", handlers.getDecision)
	mux.HandleFunc("GET /audit/{work_item_id}", handlers.getAudit)

	mux.HandleFunc("POST /explain", handlers.explainDecision)

	mux.HandleFunc("POST /execute", handlers.executeDecision)
	mux.HandleFunc("GET /executed_actions", handlers.listExecutedActions)

	mux.HandleFunc("GET /profiles", handlers.getProfiles)
	mux.HandleFunc("GET /stats", handlers.getStats)
	mux.HandleFunc("POST /outcomes", handlers.postOutcome)
	mux.HandleFunc("POST /sync/closed", handlers.syncClosed)

	var root http.Handler = mux
	root = recoveryMiddleware(cfg.Logger, root)
	root = securityHeadersMiddleware(root)
	root = corsMiddleware(cfg.CORSOrigins, root)
	root = baggageMiddleware(root)
	root = tracingMiddleware(root)
	root = loggingMiddleware(cfg.Logger, root)
	root = requestIDMiddleware(root)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      root,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return &Server{
		httpServer: httpServer,
		handler:    root,
		handlers:   handlers,
		logger:     cfg.Logger,
	}
}

// Start begins serving HTTP, blocking until Shutdown is called or the
// listener fails for a reason other than a clean close.
func (s *Server) Start() error {
	s.logger.Info("server: listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen and serve: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	return s.httpServer.Shutdown(ctx)
}
