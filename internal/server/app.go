// Package server собирает HTTP сервер синхронизации из хранилища, движка и handlers.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/iudanet/gophsync/internal/server/config"
	"github.com/iudanet/gophsync/internal/server/engine"
	"github.com/iudanet/gophsync/internal/server/handlers"
	"github.com/iudanet/gophsync/internal/server/jwt"
	"github.com/iudanet/gophsync/internal/server/middleware"
	"github.com/iudanet/gophsync/internal/server/notify"
	"github.com/iudanet/gophsync/internal/server/observability"
	"github.com/iudanet/gophsync/internal/server/storage"
	"github.com/iudanet/gophsync/internal/server/storage/postgres"
	"github.com/iudanet/gophsync/internal/server/storage/sqlite"
)

const (
	shutdownTimeout = 30 * time.Second
	// буфер событий на одного подписчика WebSocket
	notifyBuffer = 16
)

// App сервер синхронизации со всеми зависимостями
type App struct {
	cfg         *config.Config
	logger      *slog.Logger
	store       storage.Store
	telemetry   *observability.Telemetry
	engine      *engine.Engine
	sweeper     *engine.Sweeper
	handler     http.Handler
	stopLimiter func()
	version     string
}

// New открывает хранилище, настраивает телеметрию и собирает маршруты
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, version string) (*App, error) {
	telemetry, err := observability.Initialize(ctx, observability.Config{
		ServiceName:    "gophsync",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.Endpoint,
		Enabled:        cfg.Telemetry.Enabled,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	store, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		_ = telemetry.Shutdown(ctx)
		return nil, err
	}

	app := &App{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		telemetry: telemetry,
		version:   version,
	}

	if err := app.build(); err != nil {
		_ = app.Close(ctx)
		return nil, err
	}
	return app, nil
}

// openStore выбирает хранилище по database.driver
func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := sqlite.New(ctx, cfg.DSN, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite storage: %w", err)
		}
		return s, nil
	case "postgres":
		s, err := postgres.New(ctx, cfg.DSN, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres storage: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func (a *App) build() error {
	classifier, err := a.cfg.Sync.LongTextClassifier()
	if err != nil {
		return err
	}

	opts := []engine.Option{
		engine.WithResolver(engine.NewResolver(classifier)),
		engine.WithQuota(engine.EntityLimit{Max: a.cfg.Sync.MaxEntities}),
	}
	if a.cfg.Telemetry.Enabled {
		metrics, err := observability.NewSyncMetrics()
		if err != nil {
			return fmt.Errorf("failed to create sync metrics: %w", err)
		}
		opts = append(opts, engine.WithMetrics(metrics))
	}

	broker := notify.NewBroker(notifyBuffer, a.logger)
	opts = append(opts, engine.WithPublisher(broker))

	registry := engine.NewRegistry(a.store, a.logger)
	a.engine = engine.New(a.store, registry, a.cfg.Sync.Engine(), a.logger, opts...)
	a.sweeper = engine.NewSweeper(a.store, a.cfg.Sync.ConflictTTL, a.cfg.Sync.ConflictSweepInterval, a.logger)

	tokens := jwt.NewService(a.cfg.JWT.Secret, a.cfg.JWT.AccessTTL, a.cfg.JWT.RefreshTTL)

	authHandler := handlers.NewAuthHandler(a.logger, a.store, a.store, registry, tokens)
	syncHandler := handlers.NewSyncHandler(a.logger, a.engine)
	eventsHandler := handlers.NewEventsHandler(a.logger, broker)
	devicesHandler := handlers.NewDevicesHandler(a.logger, registry)
	conflictsHandler := handlers.NewConflictsHandler(a.logger, a.store)
	healthHandler := handlers.NewHealthHandler(a.logger, a.store, a.version)

	authLimit, stop := middleware.RateLimitMiddleware(a.cfg.RateLimit.AuthPerMinute, time.Minute, a.logger)
	a.stopLimiter = stop

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.RecoveryMiddleware(a.logger))
	r.Use(middleware.LoggingWithSkip(a.logger, []string{"/health"}))

	r.Get("/health", healthHandler.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(authLimit)
			r.Post("/auth/register", authHandler.Register)
			r.Post("/auth/login", authHandler.Login)
			r.Post("/auth/refresh", authHandler.Refresh)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(a.logger, tokens, registry))

			r.Post("/auth/logout", authHandler.Logout)

			r.Get("/sync/pull", syncHandler.Pull)
			r.Post("/sync/push", syncHandler.Push)
			r.Get("/sync/events", eventsHandler.Events)

			r.Get("/devices", devicesHandler.List)
			r.Post("/devices/{device_id}/revoke", devicesHandler.Revoke)

			r.Get("/conflicts", conflictsHandler.List)
			r.Delete("/conflicts/{id}", conflictsHandler.Delete)
		})
	})

	a.handler = r
	return nil
}

// Handler возвращает корневой HTTP handler
func (a *App) Handler() http.Handler {
	return a.handler
}

// Run обслуживает запросы, пока ctx не отменён, затем останавливает сервер
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Address,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go a.sweeper.Run(sweepCtx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server starting", slog.String("address", a.cfg.Address), slog.String("version", a.version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	a.logger.Info("server stopped")
	return nil
}

// Close освобождает хранилище и сбрасывает телеметрию
func (a *App) Close(ctx context.Context) error {
	if a.stopLimiter != nil {
		a.stopLimiter()
	}

	var errs []error
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
	}
	return errors.Join(errs...)
}
