package app

import (
	"context"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/batchcrawl/internal/clock/system"
	"github.com/JakeFAU/batchcrawl/internal/config"
	"github.com/JakeFAU/batchcrawl/internal/crawler"
	"github.com/JakeFAU/batchcrawl/internal/extract"
	collyfetcher "github.com/JakeFAU/batchcrawl/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/batchcrawl/internal/fetcher/headless"
	"github.com/JakeFAU/batchcrawl/internal/hash/sha256"
	"github.com/JakeFAU/batchcrawl/internal/id/uuid"
	"github.com/JakeFAU/batchcrawl/internal/output"
	"github.com/JakeFAU/batchcrawl/internal/policy/ratelimit"
	"github.com/JakeFAU/batchcrawl/internal/progress"
	progresssinks "github.com/JakeFAU/batchcrawl/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/batchcrawl/internal/publisher/pubsub"
	"github.com/JakeFAU/batchcrawl/internal/scheduler"
	gcsstorage "github.com/JakeFAU/batchcrawl/internal/storage/gcs"
	localstorage "github.com/JakeFAU/batchcrawl/internal/storage/local"
	memorystorage "github.com/JakeFAU/batchcrawl/internal/storage/memory"
	pgstore "github.com/JakeFAU/batchcrawl/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/batchcrawl/internal/storage/sqlite"
	"github.com/JakeFAU/batchcrawl/internal/store"
	"github.com/JakeFAU/batchcrawl/internal/worker"
)

func (a *App) setupStore(ctx context.Context) (store.BatchStore, error) {
	cfg := a.cfg.Store
	switch cfg.Driver {
	case config.DriverPostgres:
		st, err := pgstore.New(ctx, pgstore.Config{
			DSN:             cfg.DSN,
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		a.logger.Info("using postgres batch store")
		return st, nil
	case config.DriverSQLite:
		st, err := sqlitestore.New(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite store init failed: %w", err)
		}
		a.logger.Info("using sqlite batch store", zap.String("path", cfg.SQLitePath))
		return st, nil
	default:
		a.logger.Warn("using in-memory batch store; batches are lost on exit")
		return memorystorage.NewBatchStore(), nil
	}
}

func (a *App) setupBlobs(ctx context.Context) (crawler.BlobStore, error) {
	cfg := a.cfg.Storage
	switch cfg.Backend {
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS storage backend", zap.String("bucket", cfg.Bucket))
		return blobs, nil
	default:
		blobs, err := localstorage.New(localstorage.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local storage backend", zap.String("path", cfg.BaseDir))
		return blobs, nil
	}
}

func (a *App) setupProgress(ctx context.Context, reg prometheus.Registerer) (progress.Emitter, error) {
	cfg := a.cfg.Progress
	if !cfg.Enabled {
		a.logger.Info("progress tracking disabled")
		return progress.Nop{}, nil
	}
	var sinkList []progress.Sink
	if cfg.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)

	if topic := a.cfg.PubSub.Topic; topic != "" {
		a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.pubsubPublisher = a.pubsubClient.Publisher(topic)
		publishSink, err := progresssinks.NewPublishSink(
			gcppublisher.New(a.pubsubPublisher, topic),
			topic,
			a.logger.Named("progress_publish"),
		)
		if err != nil {
			return nil, fmt.Errorf("progress publish sink init failed: %w", err)
		}
		sinkList = append(sinkList, publishSink)
		a.logger.Info("batch notifications enabled",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", topic),
		)
	}

	hubCfg := progress.Config{
		BufferSize:     cfg.BufferSize,
		MaxBatchEvents: cfg.MaxBatchEvents,
		MaxBatchWait:   a.cfg.MaxBatchWait(),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return a.progressHub, nil
}

func (a *App) setupWorker(blobs crawler.BlobStore) (*output.Writer, *worker.Worker, error) {
	clock := system.New()
	plain := collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Crawler.UserAgent,
		RespectRobots: a.cfg.Crawler.RespectRobots,
		Timeout:       a.cfg.FetchTimeout(),
		MaxBodySize:   a.cfg.Crawler.MaxBodyBytes,
	})
	opts := []extract.Option{extract.WithLogger(a.logger.Named("extract"))}
	if a.cfg.Headless.Enabled {
		browser, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.Crawler.UserAgent,
			NavigationTimeout: a.cfg.NavTimeout(),
			ExecPath:          a.cfg.Headless.ExecPath,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		a.browser = browser
		opts = append(opts, extract.WithBrowser(browser))
		if a.cfg.Headless.AutoPromote {
			opts = append(opts, extract.WithPromotion(extract.NewShellDetector(a.cfg.Headless.MaxShellBytes)))
		}
		a.logger.Info("using headless fetcher",
			zap.Int("max_parallel", a.cfg.Headless.MaxParallel),
			zap.Bool("auto_promote", a.cfg.Headless.AutoPromote),
		)
	} else {
		opts = append(opts, extract.WithBrowser(headlessfetcher.NewNoop()))
	}
	extractor, err := extract.New(plain, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("extractor init failed: %w", err)
	}
	writer, err := output.New(blobs, clock)
	if err != nil {
		return nil, nil, fmt.Errorf("output writer init failed: %w", err)
	}
	w := worker.New(extractor, writer, sha256.New(), clock, uuid.New(), a.logger.Named("worker"))
	return writer, w, nil
}

func (a *App) setupScheduler(proc scheduler.Processor, emitter progress.Emitter) (*scheduler.Scheduler, error) {
	opts := []scheduler.Option{
		scheduler.WithEmitter(emitter),
		scheduler.WithLogger(a.logger.Named("scheduler")),
	}
	if hosts := ratelimit.NewHostLimiter(ratelimit.HostConfig{
		RPS:   a.cfg.Crawler.HostRPS,
		Burst: a.cfg.Crawler.HostBurst,
	}); hosts != nil {
		opts = append(opts, scheduler.WithHostLimiter(hosts))
		a.logger.Info("host rate limiter enabled",
			zap.Float64("rps", a.cfg.Crawler.HostRPS),
			zap.Int("burst", a.cfg.Crawler.HostBurst),
		)
	}
	sched, err := scheduler.New(a.store, proc, system.New(), uuid.New(), opts...)
	if err != nil {
		return nil, fmt.Errorf("scheduler init failed: %w", err)
	}
	return sched, nil
}
