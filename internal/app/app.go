// Package app builds the long-lived services of the batch crawler and runs the
// HTTP server. It is the only place that knows about concrete implementations.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/batchcrawl/internal/api"
	"github.com/JakeFAU/batchcrawl/internal/config"
	"github.com/JakeFAU/batchcrawl/internal/export"
	headlessfetcher "github.com/JakeFAU/batchcrawl/internal/fetcher/headless"
	"github.com/JakeFAU/batchcrawl/internal/logging"
	"github.com/JakeFAU/batchcrawl/internal/metrics"
	"github.com/JakeFAU/batchcrawl/internal/progress"
	"github.com/JakeFAU/batchcrawl/internal/scheduler"
	"github.com/JakeFAU/batchcrawl/internal/store"
	"github.com/JakeFAU/batchcrawl/internal/telemetry"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Option customizes Build.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
}

// WithLogger replaces the logger built from the logging config.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithRegisterer sets where progress collectors are registered. The default
// is prometheus.DefaultRegisterer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	store     store.BatchStore
	scheduler *scheduler.Scheduler
	exporter  *export.Exporter
	apiServer *api.Server

	progressHub     *progress.Hub
	browser         *headlessfetcher.Fetcher
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	storage         *storage.Client
	tracerShutdown  telemetry.Shutdown

	closeOnce sync.Once
	closeErr  error
}

// Build creates the application's dependencies and recovers batches left
// running by a previous process. On error everything built so far is closed.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (_ *App, err error) {
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := o.logger
	if logger == nil {
		logger, err = logging.New(cfg.Logging.Development)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = a.Close(closeCtx)
		}
	}()

	a.tracerShutdown, err = telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	metrics.Init()

	logger.Info("building application dependencies",
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("headless", cfg.Headless.Enabled),
	)

	if a.store, err = a.setupStore(ctx); err != nil {
		return nil, err
	}
	blobs, err := a.setupBlobs(ctx)
	if err != nil {
		return nil, err
	}
	emitter, err := a.setupProgress(ctx, o.registerer)
	if err != nil {
		return nil, err
	}
	writer, proc, err := a.setupWorker(blobs)
	if err != nil {
		return nil, err
	}
	if a.scheduler, err = a.setupScheduler(proc, emitter); err != nil {
		return nil, err
	}
	if a.exporter, err = export.New(a.store, writer, logger.Named("export")); err != nil {
		return nil, fmt.Errorf("exporter init failed: %w", err)
	}

	recovered, err := a.scheduler.Recover(ctx)
	if err != nil {
		return nil, fmt.Errorf("recover batches: %w", err)
	}
	if recovered > 0 {
		logger.Warn("paused batches interrupted by a previous process", zap.Int("count", recovered))
	}

	a.apiServer = api.NewServer(a.scheduler, a.store, a.exporter, cfg, logger.Named("api"))
	return a, nil
}

// Scheduler returns the batch scheduler.
func (a *App) Scheduler() *scheduler.Scheduler {
	return a.scheduler
}

// Store returns the batch store.
func (a *App) Store() store.BatchStore {
	return a.store
}

// Exporter returns the batch exporter.
func (a *App) Exporter() *export.Exporter {
	return a.exporter
}

// Handler returns the HTTP handler of the API server.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run serves the API until ctx is canceled or a termination signal arrives,
// then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	select {
	case err := <-serveErr:
		errs = append(errs, fmt.Errorf("http server: %w", err))
	default:
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	errs = append(errs, a.Close(shutdownCtx))
	return errors.Join(errs...)
}

// Close stops running batches and releases every resource. Batches whose items
// are still in flight when ctx ends are left resumable. Later calls return the
// first call's result.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		if a.scheduler != nil {
			a.closeErr = a.scheduler.Close(ctx)
		}
		a.closeInfrastructure(ctx)
		a.closeObservability(ctx)
		a.logger.Info("shutdown complete")
	})
	return a.closeErr
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.browser != nil {
		a.browser.Close()
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("batch store close failed", zap.Error(err))
		}
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
