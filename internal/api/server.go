// Package api serves the zika ops HTTP API: health checks, metrics, the
// event stream, action history and manual triggers.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/mattjoyce/zika/internal/auth"
	"github.com/mattjoyce/zika/internal/dispatch"
	"github.com/mattjoyce/zika/internal/events"
	"github.com/mattjoyce/zika/internal/history"
	"github.com/mattjoyce/zika/internal/queue"
	"github.com/mattjoyce/zika/internal/registry"
)

// StateSource reports dispatcher state; *dispatch.Dispatcher implements it.
type StateSource interface {
	Snapshot() dispatch.State
}

// Triggerer enqueues a configured action by alias; *trigger.Adapter implements it.
type Triggerer interface {
	Trigger(alias string) (queue.Request, error)
}

// HistoryReader lists executed actions; *history.Store implements it.
type HistoryReader interface {
	Recent(ctx context.Context, limit int, alias string) ([]history.Entry, error)
}

// Readiness reports broker connectivity; *broker.Client implements it.
type Readiness interface {
	Connected() bool
	Server() string
}

// Config holds API server configuration
type Config struct {
	Address string
	Port    int

	TLSEnabled bool
	CertFile   string
	KeyFile    string

	// APIKey is a single bearer token with full access.
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
}

// Listen returns the host:port the server binds.
func (c Config) Listen() string {
	return net.JoinHostPort(c.Address, strconv.Itoa(c.Port))
}

// Deps are the components the API reads from. History and Metrics may be nil.
type Deps struct {
	State     StateSource
	Trigger   Triggerer
	Registry  *registry.Registry
	Readiness Readiness
	Events    *events.Hub
	History   HistoryReader
	Metrics   http.Handler
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	deps      Deps
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance
func New(config Config, deps Deps, logger *slog.Logger) *Server {
	if deps.Events == nil {
		deps.Events = events.NewHub(0)
	}
	return &Server{
		config:    config,
		deps:      deps,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Last-Event-ID"},
	}).Handler(s.setupRoutes())
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: /events streams for as long as the client stays.
	}

	scheme := "http"
	if s.config.TLSEnabled {
		scheme = "https"
	}
	s.logger.Info("API server starting", "listen", s.config.Listen(), "url", fmt.Sprintf("%s://%s", scheme, s.config.Listen()))

	// Run server in a goroutine
	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.config.TLSEnabled {
			err = s.server.ListenAndServeTLS(s.config.CertFile, s.config.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/livez", s.handleLivez)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}

	// Protected API.
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes(auth.ScopeEventsRO)).Get("/events", s.handleEvents)
		r.With(s.requireScopes(auth.ScopeHistoryRO)).Get("/history", s.handleHistory)
		r.With(s.requireScopes(auth.ScopeCommandsRO)).Get("/commands", s.handleCommands)
		r.With(s.requireScopes(auth.ScopeCommandsRO)).Get("/openapi.json", s.handleOpenAPI)
		r.With(s.requireScopes(auth.ScopeActionsRW)).Post("/trigger/{alias}", s.handleTrigger)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
