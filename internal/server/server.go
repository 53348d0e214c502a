// Package server implements the operations HTTP API: connector and
// channel management, queue controls, sweep triggering, and health
// surfaces. Auth is API-key based; keys are stored hashed and looked up
// by prefix.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/engels74/comradarr-sub001/internal/indexer"
	"github.com/engels74/comradarr-sub001/internal/notify"
	"github.com/engels74/comradarr-sub001/internal/queue"
	"github.com/engels74/comradarr-sub001/internal/ratelimit"
	"github.com/engels74/comradarr-sub001/internal/secrets"
	"github.com/engels74/comradarr-sub001/internal/storage"
	"github.com/engels74/comradarr-sub001/internal/sweep"
)

// Server is the comradarr ops HTTP server.
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

// Handlers returns the underlying Handlers for access to SeedAdminKey.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// ServerConfig holds all dependencies and configuration for creating a
// Server. Limiter, Sweeper, Notifier, and IndexerMon are nil-safe.
type ServerConfig struct {
	DB       *storage.DB
	Cipher   *secrets.Cipher
	QueueSvc *queue.Service
	Logger   *slog.Logger

	Sweeper    *sweep.Sweeper
	Notifier   *notify.Dispatcher
	IndexerMon *indexer.Monitor
	Limiter    ratelimit.Limiter

	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Version      string

	// DefaultRateLimit applies to keys without their own limit.
	// <= 0 disables inbound rate limiting.
	DefaultRateLimit int

	// ExtraRoutes are called after the built-in routes are registered,
	// sharing the mux and therefore the auth and rate-limit chain.
	ExtraRoutes []func(mux *http.ServeMux)

	// Middlewares wrap the root handler outermost-first.
	Middlewares []func(http.Handler) http.Handler
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:         cfg.DB,
		Cipher:     cfg.Cipher,
		QueueSvc:   cfg.QueueSvc,
		Sweeper:    cfg.Sweeper,
		Notifier:   cfg.Notifier,
		IndexerMon: cfg.IndexerMon,
		Logger:     cfg.Logger,
		Version:    cfg.Version,
	})

	mux := http.NewServeMux()

	// Health surfaces (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /ready", h.HandleReady)

	// Sweep control.
	mux.HandleFunc("POST /v1/sweep", h.HandleTriggerSweep)

	// Queue controls.
	mux.HandleFunc("GET /v1/queue", h.HandleQueueDepths)
	mux.HandleFunc("DELETE /v1/queue", h.HandleClearQueue)
	mux.HandleFunc("POST /v1/connectors/{id}/queue/pause", h.HandlePauseQueue)
	mux.HandleFunc("POST /v1/connectors/{id}/queue/resume", h.HandleResumeQueue)

	// Connector management.
	mux.HandleFunc("POST /v1/connectors", h.HandleCreateConnector)
	mux.HandleFunc("GET /v1/connectors", h.HandleListConnectors)
	mux.HandleFunc("GET /v1/connectors/{id}", h.HandleGetConnector)
	mux.HandleFunc("DELETE /v1/connectors/{id}", h.HandleDeleteConnector)

	// Notification channel management.
	mux.HandleFunc("POST /v1/channels", h.HandleCreateChannel)
	mux.HandleFunc("GET /v1/channels", h.HandleListChannels)
	mux.HandleFunc("GET /v1/channels/{id}", h.HandleGetChannel)
	mux.HandleFunc("PUT /v1/channels/{id}", h.HandleUpdateChannel)
	mux.HandleFunc("DELETE /v1/channels/{id}", h.HandleDeleteChannel)
	mux.HandleFunc("POST /v1/channels/{id}/test", h.HandleTestChannel)
	mux.HandleFunc("GET /v1/notifications/history", h.HandleNotificationHistory)

	// Indexer-manager instances and the cached health snapshot.
	mux.HandleFunc("POST /v1/indexers", h.HandleCreateIndexerInstance)
	mux.HandleFunc("GET /v1/indexers", h.HandleListIndexerInstances)
	mux.HandleFunc("GET /v1/indexers/health", h.HandleIndexerHealth)

	// Registry introspection.
	mux.HandleFunc("GET /v1/registry/stats", h.HandleRegistryStats)

	// Ops-API key management.
	mux.HandleFunc("POST /v1/keys", h.HandleCreateAPIKey)
	mux.HandleFunc("DELETE /v1/keys/{id}", h.HandleRevokeAPIKey)

	for _, register := range cfg.ExtraRoutes {
		register(mux)
	}

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → auth → rate limit → handler.
	rl := ratelimit.Middleware(cfg.Limiter, keyRateLimitFunc(cfg.DefaultRateLimit))

	var handler http.Handler = rl(mux)
	handler = authMiddleware(cfg.DB, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	// First-registered extra middleware is outermost.
	for i := len(cfg.Middlewares) - 1; i >= 0; i-- {
		handler = cfg.Middlewares[i](handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// keyRateLimitFunc buckets requests by the authenticated key's prefix.
// Unauthenticated paths (health) carry no key and bypass the limiter.
func keyRateLimitFunc(defaultLimit int) ratelimit.KeyFunc {
	return func(r *http.Request) (string, *int) {
		key := apiKeyFromContext(r.Context())
		if key == nil {
			return "", nil
		}
		limit := defaultLimit
		if key.RateLimit != nil {
			limit = *key.RateLimit
		}
		if limit <= 0 {
			return "", nil
		}
		return key.Prefix, &limit
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
