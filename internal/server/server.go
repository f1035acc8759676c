// Package server assembles the devserver HTTP handler: a reference remote
// store that offsync clients replay their queued actions against.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/iudanet/offsync/internal/server/handlers"
	"github.com/iudanet/offsync/internal/server/middleware"
	"github.com/iudanet/offsync/internal/server/storage"
)

const healthPath = "/api/v1/health"

// Storage is what the server needs from the record store
type Storage interface {
	storage.RecordStorage
	handlers.Pinger
}

// Config configures the server.
type Config struct {
	Storage Storage
	Logger  *slog.Logger
	JWT     handlers.JWTConfig
	// RateLimit запросов в минуту на tenant; 0 отключает ограничение
	RateLimit int
}

// Server is the devserver HTTP handler.
type Server struct {
	handler http.Handler
	limiter *middleware.RateLimiter
	logger  *slog.Logger
}

// New builds the routes and the middleware chain
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{logger: cfg.Logger}

	health := handlers.NewHealthHandler(cfg.Logger, cfg.Storage)
	records := handlers.NewRecordsHandler(cfg.Logger, cfg.Storage)

	tenants := http.NewServeMux()
	tenants.HandleFunc("POST /api/v1/tenants/{tenant}/{resource}", records.Create)
	tenants.HandleFunc("GET /api/v1/tenants/{tenant}/{resource}", records.List)
	tenants.HandleFunc("PUT /api/v1/tenants/{tenant}/{resource}/{id}", records.Update)
	tenants.HandleFunc("DELETE /api/v1/tenants/{tenant}/{resource}/{id}", records.Delete)

	protected := []func(http.Handler) http.Handler{middleware.AuthMiddleware(cfg.Logger, cfg.JWT)}
	if cfg.RateLimit > 0 {
		s.limiter = middleware.NewRateLimiter(cfg.RateLimit, time.Minute, cfg.Logger)
		protected = append(protected, s.limiter.Middleware)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+healthPath, health.Health)
	mux.Handle("/api/v1/tenants/", middleware.Chain(tenants, protected...))

	s.handler = middleware.Chain(mux,
		middleware.RecoveryMiddleware(cfg.Logger),
		middleware.LoggingWithSkip(cfg.Logger, []string{healthPath}),
	)

	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Close releases background resources
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Devserver listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down devserver")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
