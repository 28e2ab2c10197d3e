package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scorepeers/settlement/internal/domain"
	"github.com/scorepeers/settlement/internal/server/handler"
	"github.com/scorepeers/settlement/internal/server/middleware"
	"github.com/scorepeers/settlement/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKeys maps API key to actor ID.
	APIKeys map[string]string
	// Mutations per actor (or client IP) per RateWindow. Zero disables.
	RateLimit  int
	RateWindow time.Duration
	// Authorizer turns away callers without the route's capability before
	// the body is read. Nil leaves the check to the services alone.
	Authorizer domain.Authorizer
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Contests   *handler.ContestHandler
	Settlement *handler.SettlementHandler
	Props      *handler.PropHandler
	Audit      *handler.AuditHandler
}

// Server is the HTTP + WebSocket API of the settlement service.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and builds the middleware chain. limiter
// and wsHub may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewHandler(cfg, handlers, wsHub, limiter, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler returns the routed and wrapped http.Handler.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	gate := middleware.NewGate(cfg.Authorizer, logger)

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Contests and entries.
	mux.HandleFunc("POST /api/contests", gate.Require(domain.CapabilityManageContests, handlers.Contests.CreateContest))
	mux.HandleFunc("GET /api/contests/{id}", handlers.Contests.GetContest)
	mux.HandleFunc("GET /api/contests/{id}/standings", handlers.Contests.Standings)
	mux.HandleFunc("GET /api/contests/{id}/receipt", handlers.Contests.Receipt)
	mux.HandleFunc("POST /api/contests/{id}/entries", handlers.Contests.Join)
	mux.HandleFunc("GET /api/users/{id}/balances", handlers.Contests.Balances)

	// Closing a contest.
	mux.HandleFunc("POST /api/contests/{id}/settle", gate.Require(domain.CapabilitySettle, handlers.Settlement.Settle))
	mux.HandleFunc("POST /api/contests/{id}/refund", gate.Require(domain.CapabilityRefund, handlers.Settlement.Refund))

	// Props.
	mux.HandleFunc("POST /api/props", gate.Require(domain.CapabilityManageContests, handlers.Props.CreateProp))
	mux.HandleFunc("PUT /api/props/{id}/outcome", gate.Require(domain.CapabilityRecordOutcome, handlers.Props.RecordOutcome))

	mux.HandleFunc("GET /api/audit", gate.Require(domain.CapabilityReadAudit, handlers.Audit.List))

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = middleware.Route(mux)
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	h = middleware.Auth(cfg.APIKeys)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
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
