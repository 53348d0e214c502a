// Package comradarr is the public API for embedding the search
// orchestrator.
//
// Consumers import this package to construct and extend the server
// without forking it:
//
//	app, err := comradarr.New(
//	    comradarr.WithVersion(version),
//	    comradarr.WithLogger(logger),
//	    comradarr.WithEventHook(myHook{}),
//	    comradarr.WithExtraRoutes(myRoutes),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: comradarr (root)
// imports internal/*, but internal/* never imports the root package.
package comradarr

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"github.com/engels74/comradarr-sub001/internal/config"
	"github.com/engels74/comradarr-sub001/internal/dispatch"
	"github.com/engels74/comradarr-sub001/internal/health"
	"github.com/engels74/comradarr-sub001/internal/indexer"
	"github.com/engels74/comradarr-sub001/internal/model"
	"github.com/engels74/comradarr-sub001/internal/notify"
	"github.com/engels74/comradarr-sub001/internal/queue"
	"github.com/engels74/comradarr-sub001/internal/ratelimit"
	"github.com/engels74/comradarr-sub001/internal/registry"
	"github.com/engels74/comradarr-sub001/internal/secrets"
	"github.com/engels74/comradarr-sub001/internal/server"
	"github.com/engels74/comradarr-sub001/internal/storage"
	"github.com/engels74/comradarr-sub001/internal/sweep"
	"github.com/engels74/comradarr-sub001/internal/telemetry"
	"github.com/engels74/comradarr-sub001/internal/throttle"
	"github.com/engels74/comradarr-sub001/migrations"
)

// App is the orchestrator lifecycle. Construct with New(), run with
// Run(). App has no public fields; use New() options to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB
	srv          *server.Server
	sweeper      *sweep.Sweeper
	pinger       *health.Pinger
	indexerMon   *indexer.Monitor
	notifier     *notify.Dispatcher
	flusher      *notify.Flusher
	limiter      ratelimit.Limiter
	otelShutdown func(context.Context) error
	logger       *slog.Logger
	version      string
}

// New initialises the orchestrator. It connects to the database, runs
// migrations, and wires all subsystems. It does NOT start any
// goroutines or accept HTTP connections; call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("comradarr starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	db, err := storage.New(context.Background(), cfg.DatabaseURL, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}
	db.RegisterPoolMetrics()
	db.RegisterOrchestratorMetrics()

	if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("migrations: %w", err)
	}
	for i, extraFS := range o.extraMigrations {
		if err := db.RunMigrations(context.Background(), extraFS); err != nil {
			db.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("extra migrations[%d]: %w", i, err)
		}
	}

	cipher, err := secrets.New(hex.EncodeToString(cfg.SecretKey))
	if err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("secrets: %w", err)
	}

	senders := notify.Senders(&http.Client{Timeout: cfg.SenderTimeout}, notify.SenderOptions{
		UserAgent: cfg.SenderUserAgent,
		Retry:     cfg.SenderRetry,
	})
	notifier := notify.NewDispatcher(db, cipher, senders, logger)
	for _, hook := range o.eventHooks {
		notifier.AddHook(func(ctx context.Context, eventType model.EventType, data map[string]any) error {
			return hook.OnEvent(ctx, Event{
				Type:      string(eventType),
				Data:      data,
				Timestamp: time.Now().UTC(),
			})
		})
	}
	flusher := notify.NewFlusher(db, notifier, cfg.NotifyFlushInterval, logger)

	reg := registry.New(db, cfg.BackoffPolicy(), cfg.BacklogPolicy(), logger)
	queueSvc := queue.New(db, cfg.Weights, cfg.Constants, queue.Options{
		EnqueueBatchSize: cfg.EnqueueBatchSize,
		MaxDequeueLimit:  cfg.MaxDequeueLimit,
	}, logger)
	throttleSvc := throttle.New(db, logger)
	indexerMon := indexer.NewMonitor(db, cipher, cfg.IndexerPollInterval, cfg.IndexerStaleAfter, logger)
	dispatcher := dispatch.New(db, throttleSvc, cipher, indexerMon, logger)

	sweeper := sweep.New(db, queueSvc, reg, dispatcher, notifier, sweep.Config{
		Interval:          cfg.SweepInterval,
		ReenqueueInterval: cfg.ReenqueueInterval,
		OrphanInterval:    cfg.OrphanInterval,
		OrphanMaxAge:      cfg.OrphanMaxAge,
		DequeueLimit:      cfg.DefaultDequeueLimit,
		Thresholds:        cfg.Batching,
	}, logger)

	pinger := health.NewPinger(db, cipher, notifier, cfg.HealthProbeInterval, logger)

	limiter := ratelimit.NewMemoryLimiter()

	extraRoutes := make([]func(mux *http.ServeMux), 0, len(o.routeRegistrars))
	for _, fn := range o.routeRegistrars {
		extraRoutes = append(extraRoutes, fn)
	}
	middlewares := make([]func(http.Handler) http.Handler, 0, len(o.middlewares))
	for _, mw := range o.middlewares {
		middlewares = append(middlewares, mw)
	}

	srv := server.New(server.ServerConfig{
		DB:               db,
		Cipher:           cipher,
		QueueSvc:         queueSvc,
		Sweeper:          sweeper,
		Notifier:         notifier,
		IndexerMon:       indexerMon,
		Limiter:          limiter,
		Logger:           logger,
		Port:             cfg.Port,
		ReadTimeout:      cfg.ReadTimeout,
		WriteTimeout:     cfg.WriteTimeout,
		Version:          version,
		DefaultRateLimit: cfg.APIRateLimit,
		ExtraRoutes:      extraRoutes,
		Middlewares:      middlewares,
	})

	return &App{
		cfg:          cfg,
		db:           db,
		srv:          srv,
		sweeper:      sweeper,
		pinger:       pinger,
		indexerMon:   indexerMon,
		notifier:     notifier,
		flusher:      flusher,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the background loops and the HTTP server, then blocks
// until ctx is canceled or the server fails. It shuts everything down
// gracefully before returning.
func (a *App) Run(ctx context.Context) error {
	if err := a.srv.Handlers().SeedAdminKey(ctx, a.cfg.AdminAPIKey); err != nil {
		a.logger.Warn("admin key seed failed", "error", err)
	}

	// loopCtx is canceled first during shutdown so sweeps stop
	// dequeuing while HTTP drains.
	loopCtx, stopLoops := context.WithCancel(ctx)
	defer stopLoops()

	go a.sweeper.Run(loopCtx)
	go a.sweeper.RunReenqueue(loopCtx)
	go a.sweeper.RunOrphanCleanup(loopCtx)
	go a.indexerMon.Run(loopCtx)
	go a.pinger.Run(loopCtx)
	go a.flusher.Run(loopCtx)

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if _, err := a.notifier.Dispatch(ctx, model.EventAppStarted, map[string]any{
		"version": a.version,
	}); err != nil {
		a.logger.Warn("app started notification failed", "error", err)
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		a.close()
		return err
	}

	// Graceful shutdown. Stop the background loops first so no new
	// dispatches start, then drain HTTP, then flush pending
	// notifications. Items still in searching are recovered by orphan
	// cleanup on next start.
	a.logger.Info("comradarr shutting down")
	stopLoops()

	httpCtx, httpCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownDrainTimeout)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
	a.flusher.FlushAll(flushCtx)
	flushCancel()

	a.close()
	a.logger.Info("comradarr stopped")
	return nil
}

// Handler exposes the root HTTP handler for tests and embedding.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

func (a *App) close() {
	_ = a.limiter.Close()
	a.db.Close()
	_ = a.otelShutdown(context.Background())
}
