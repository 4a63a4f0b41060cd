// Package server exposes the position API over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/positionbot/internal/domain"
	"github.com/alanyoungcy/positionbot/internal/server/handler"
	"github.com/alanyoungcy/positionbot/internal/server/middleware"
	"github.com/alanyoungcy/positionbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port         int
	APIKey       string // empty disables authentication
	CORSOrigins  []string
	RateLimit    int
	RateWindow   time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Handlers groups the route handlers. Trades, Prices and Audit are optional.
type Handlers struct {
	Health    *handler.HealthHandler
	Signals   *handler.SignalHandler
	Trades    *handler.TradeHandler
	Positions *handler.PositionHandler
	Prices    *handler.PriceHandler
	Audit     *handler.AuditHandler
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in CORS, logging, auth
// and rate limiting, outermost first.
func NewServer(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      Routes(cfg, h, hub, limiter, logger),
		ReadTimeout:  orDefault(cfg.ReadTimeout, 15*time.Second),
		WriteTimeout: orDefault(cfg.WriteTimeout, 30*time.Second),
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger.With(slog.String("component", "server"))}
}

// Routes builds the handler tree.
func Routes(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", h.Health.GetStatus)

	mux.HandleFunc("POST /api/signals", h.Signals.Track)

	if h.Trades != nil {
		mux.HandleFunc("POST /api/trades/open", h.Trades.Open)
		mux.HandleFunc("POST /api/trades/close", h.Trades.Close)
	}

	mux.HandleFunc("GET /api/positions", h.Positions.ListPositions)
	mux.HandleFunc("GET /api/positions/history", h.Positions.History)
	mux.HandleFunc("GET /api/positions/{id}", h.Positions.GetPosition)
	mux.HandleFunc("PATCH /api/positions/{id}", h.Positions.UpdatePosition)
	mux.HandleFunc("GET /api/report", h.Positions.Report)

	if h.Prices != nil {
		mux.HandleFunc("GET /api/prices/{symbol}", h.Prices.GetPrice)
		mux.HandleFunc("PUT /api/prices/{symbol}", h.Prices.SetPrice)
	}
	if h.Audit != nil {
		mux.HandleFunc("GET /api/audit", h.Audit.ListAudit)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var out http.Handler = mux
	out = middleware.RateLimit(limiter, cfg.RateLimit, orDefault(cfg.RateWindow, time.Minute), logger)(out)
	out = middleware.Auth(cfg.APIKey, "/api/health")(out)
	out = middleware.Logging(logger)(out)
	out = middleware.CORS(cfg.CORSOrigins)(out)
	return out
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server: listen: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("server: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
