package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/opinioncore/internal/domain"
	"github.com/alanyoungcy/opinioncore/internal/server/handler"
	"github.com/alanyoungcy/opinioncore/internal/server/middleware"
	"github.com/alanyoungcy/opinioncore/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// Per-client request limit across all endpoints. Zero disables the
	// HTTP-level limiter (the per-question trade limits still apply).
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Questions *handler.QuestionHandler
	Pools     *handler.PoolHandler
	Accounts  *handler.AccountHandler
	Events    *handler.EventsHandler
}

// Server is the HTTP + WebSocket API server for the opinion market.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, rate limiting, auth) and attaches
// the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Question endpoints.
	mux.HandleFunc("POST /api/questions", handlers.Questions.CreateQuestion)
	mux.HandleFunc("GET /api/questions", handlers.Questions.ListQuestions)
	mux.HandleFunc("GET /api/questions/{id}", handlers.Questions.GetQuestion)
	mux.HandleFunc("POST /api/questions/{id}/trades", handlers.Questions.SubmitTrade)
	mux.HandleFunc("GET /api/questions/{id}/trades", handlers.Questions.ListTrades)
	mux.HandleFunc("PATCH /api/questions/{id}/active", handlers.Questions.SetActive)
	mux.HandleFunc("GET /api/questions/{id}/pools", handlers.Pools.ListPools)

	// Pool endpoints.
	mux.HandleFunc("POST /api/pools", handlers.Pools.CreatePool)
	mux.HandleFunc("GET /api/pools/{id}", handlers.Pools.GetPool)
	mux.HandleFunc("POST /api/pools/{id}/contributions", handlers.Pools.Contribute)
	mux.HandleFunc("POST /api/pools/{id}/complete", handlers.Pools.Complete)
	mux.HandleFunc("POST /api/pools/{id}/withdraw", handlers.Pools.Withdraw)
	mux.HandleFunc("POST /api/pools/{id}/refund", handlers.Pools.Refund)
	mux.HandleFunc("POST /api/pools/{id}/expire", handlers.Pools.Expire)

	// Account endpoints.
	mux.HandleFunc("GET /api/accounts/{id}", handlers.Accounts.GetAccount)
	mux.HandleFunc("POST /api/accounts/{id}/deposit", handlers.Accounts.Deposit)
	mux.HandleFunc("POST /api/accounts/{id}/claim", handlers.Accounts.Claim)

	// Event replay endpoint.
	mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply the per-client rate limiter when configured.
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateLimitWindow)(h)
	}

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
