package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"mediaminer/internal/dispatch"
	"mediaminer/internal/logging"
)

const shutdownTimeout = 5 * time.Second

// Server serves the HTTP API for one dispatcher.
type Server struct {
	dispatcher         *dispatch.Dispatcher
	token              string
	defaultMaxTokens   int
	defaultTemperature float64
	logger             *slog.Logger
	http               *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithToken requires a bearer token on /v1 routes. Empty disables auth.
func WithToken(token string) Option {
	return func(s *Server) {
		s.token = token
	}
}

// WithDefaults sets the values used when a generate request omits them.
func WithDefaults(maxTokens int, temperature float64) Option {
	return func(s *Server) {
		if maxTokens > 0 {
			s.defaultMaxTokens = maxTokens
		}
		if temperature >= 0 {
			s.defaultTemperature = temperature
		}
	}
}

// New builds a server around d.
func New(d *dispatch.Dispatcher, opts ...Option) (*Server, error) {
	if d == nil {
		return nil, errors.New("server requires a dispatcher")
	}
	s := &Server{
		dispatcher:         d,
		defaultMaxTokens:   4096,
		defaultTemperature: 0.7,
		logger:             logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.NewComponentLogger(s.logger, "api-server")
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Generate may wait through several backoff pauses.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Use(s.requireToken)
		r.Post("/generate", s.handleGenerate)
		r.Get("/workers", s.handleWorkers)
		r.Post("/workers/reset", s.handleWorkersReset)
		r.Get("/providers", s.handleProviders)
	})
	return r
}

// ListenAndServe listens on bind and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, bind string) error {
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api serve: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api shutdown: %w", err)
		}
		s.logger.Info("api server stopped")
		return nil
	}
}
