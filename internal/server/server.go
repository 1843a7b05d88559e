// Package server exposes the scalper control and status API over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/densityscalper/internal/domain"
	"github.com/alanyoungcy/densityscalper/internal/server/handler"
	"github.com/alanyoungcy/densityscalper/internal/server/middleware"
	"github.com/alanyoungcy/densityscalper/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port               int
	CORSOrigins        []string
	APIKey             string // if empty, authentication is disabled
	RateLimitPerMinute int    // applied to control routes when a limiter is set
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Book, Audit, Metrics and Hub are optional.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	Control *handler.ControlHandler
	Book    *handler.BookHandler
	Audit   *handler.AuditHandler
	Metrics http.Handler
	Hub     *ws.Hub
}

// Server is the headless HTTP + WebSocket API server for the scalper.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. limiter may be nil,
// in which case control routes are not rate limited.
func NewServer(cfg Config, h Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", h.Status.GetStatus)
	if h.Book != nil {
		mux.HandleFunc("GET /api/book/{symbol}", h.Book.GetBook)
	}
	if h.Audit != nil {
		mux.HandleFunc("GET /api/audit", h.Audit.List)
	}

	control := func(fn http.HandlerFunc) http.Handler {
		if limiter == nil || cfg.RateLimitPerMinute <= 0 {
			return fn
		}
		return middleware.RateLimit(limiter, cfg.RateLimitPerMinute, time.Minute, logger)(fn)
	}
	mux.Handle("POST /api/scalper/start", control(h.Control.Start))
	mux.Handle("POST /api/scalper/stop", control(h.Control.Stop))
	mux.Handle("POST /api/scalper/panic", control(h.Control.Panic))
	mux.Handle("POST /api/scalper/manual", control(h.Control.Manual))

	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}
	if h.Hub != nil {
		mux.HandleFunc("GET /ws", h.Hub.HandleWS)
	}

	var chain http.Handler = mux
	chain = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(chain)
	chain = middleware.Logging(logger, "/api/health", "/metrics")(chain)
	chain = middleware.CORS(cfg.CORSOrigins)(chain)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      chain,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		handler: chain,
		logger:  logger,
	}
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves until ctx is cancelled, then shuts down gracefully within
// five seconds.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.logger.Info("server: starting", slog.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
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
