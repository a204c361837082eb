// Package app builds the long-lived harvester services from configuration and
// hands them to the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"

	gcpstorage "cloud.google.com/go/storage"
	gpubsub "cloud.google.com/go/pubsub"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-harvester/internal/clock/system"
	"github.com/JakeFAU/crawl-harvester/internal/config"
	"github.com/JakeFAU/crawl-harvester/internal/controller"
	"github.com/JakeFAU/crawl-harvester/internal/crawljob"
	"github.com/JakeFAU/crawl-harvester/internal/downloader"
	"github.com/JakeFAU/crawl-harvester/internal/extract"
	"github.com/JakeFAU/crawl-harvester/internal/metrics"
	"github.com/JakeFAU/crawl-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/crawl-harvester/internal/progress"
	"github.com/JakeFAU/crawl-harvester/internal/progress/sinks"
	"github.com/JakeFAU/crawl-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/crawl-harvester/internal/remote/firecrawl"
	"github.com/JakeFAU/crawl-harvester/internal/storage/gcs"
	"github.com/JakeFAU/crawl-harvester/internal/storage/local"
	"github.com/JakeFAU/crawl-harvester/internal/storage/postgres"
	"github.com/JakeFAU/crawl-harvester/internal/storage/redis"
	"github.com/JakeFAU/crawl-harvester/internal/store"
	"github.com/JakeFAU/crawl-harvester/internal/visited"
)

// App holds the services shared by every command. It is built once per
// process and closed by the CLI after the command returns.
type App struct {
	Config     config.Config
	Logger     *zap.Logger
	Reports    crawljob.ReportStore
	Content    crawljob.ContentStore
	Visited    crawljob.VisitedStore
	Remote     *firecrawl.Client
	Controller *controller.Controller
	Collector  *visited.Collector
	Downloader *downloader.Downloader
	Events     *progress.Hub
	// Runs is nil unless db.dsn is configured.
	Runs store.ProgressRepository

	closers []func(context.Context) error
}

// New wires every service described by cfg. reg receives the progress
// collectors; nil selects the default Prometheus registerer.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, reg prometheus.Registerer) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}
	if err := a.init(ctx, reg); err != nil {
		if cerr := a.Close(ctx); cerr != nil {
			logger.Warn("cleanup after failed init", zap.Error(cerr))
		}
		return nil, err
	}
	logger.Debug("application services initialized",
		zap.String("content_backend", cfg.Content.Backend),
		zap.String("visited_backend", cfg.Visited.Backend),
		zap.Bool("run_tracking", a.Runs != nil),
		zap.Bool("notifications", cfg.PubSub.TopicName != ""),
	)
	return a, nil
}

func (a *App) init(ctx context.Context, reg prometheus.Registerer) error {
	cfg := a.Config
	clock := system.New()

	reports, err := local.NewReportStore(cfg.Paths.ReportsDir, clock)
	if err != nil {
		return fmt.Errorf("init report store: %w", err)
	}
	a.Reports = reports

	if a.Content, err = a.contentStore(ctx); err != nil {
		return err
	}
	if a.Visited, err = a.visitedStore(); err != nil {
		return err
	}

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Remote.RequestsPerSecond,
		DefaultBurst: cfg.Remote.Burst,
		OnDelay:      metrics.ObserveRateLimitDelay,
	})
	a.Remote, err = firecrawl.New(firecrawl.Config{
		APIURL:    cfg.Remote.APIURL,
		APIKey:    cfg.Remote.APIKey,
		Timeout:   cfg.RemoteTimeout(),
		UserAgent: cfg.Remote.UserAgent,
	}, limiter, a.Logger)
	if err != nil {
		return fmt.Errorf("init remote client: %w", err)
	}

	a.Controller, err = controller.New(controller.Config{ExclusionCap: cfg.Visited.ExclusionCap},
		a.Remote, a.Reports, a.Visited, a.Logger)
	if err != nil {
		return fmt.Errorf("init controller: %w", err)
	}
	a.Collector, err = visited.NewCollector(a.Reports, a.Content, a.Visited, a.Logger)
	if err != nil {
		return fmt.Errorf("init visited collector: %w", err)
	}

	if err := a.progressHub(ctx, reg); err != nil {
		return err
	}
	publisher, err := a.publisher(ctx)
	if err != nil {
		return err
	}

	a.Downloader, err = downloader.New(downloader.Config{Topic: cfg.PubSub.TopicName}, downloader.Deps{
		Remote:    a.Remote,
		Refresher: a.Controller,
		Reports:   a.Reports,
		Content:   a.Content,
		Extractor: extract.New(cfg.Extract.Source, cfg.Extract.SourceType),
		Events:    a.Events,
		Publisher: publisher,
		Clock:     clock,
		Logger:    a.Logger,
	})
	if err != nil {
		return fmt.Errorf("init downloader: %w", err)
	}
	return nil
}

func (a *App) contentStore(ctx context.Context) (crawljob.ContentStore, error) {
	cfg := a.Config
	switch cfg.Content.Backend {
	case "gcs":
		client, err := gcpstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.onClose(func(context.Context) error { return client.Close() })
		s, err := gcs.New(client, gcs.Config{Bucket: cfg.Content.GCSBucket, Prefix: cfg.Content.Prefix})
		if err != nil {
			return nil, fmt.Errorf("init gcs content store: %w", err)
		}
		a.Logger.Info("using gcs content store", zap.String("bucket", cfg.Content.GCSBucket))
		return s, nil
	default:
		s, err := local.NewContentStore(local.Config{BaseDir: cfg.Paths.ContentsDir})
		if err != nil {
			return nil, fmt.Errorf("init content store: %w", err)
		}
		return s, nil
	}
}

func (a *App) visitedStore() (crawljob.VisitedStore, error) {
	cfg := a.Config
	switch cfg.Visited.Backend {
	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Visited.RedisAddr,
			Password: cfg.Visited.RedisPassword,
			DB:       cfg.Visited.RedisDB,
		})
		a.onClose(func(context.Context) error { return client.Close() })
		s, err := redis.NewVisitedStore(client, cfg.Visited.KeyPrefix)
		if err != nil {
			return nil, fmt.Errorf("init redis visited store: %w", err)
		}
		a.Logger.Info("using redis visited store", zap.String("addr", cfg.Visited.RedisAddr))
		return s, nil
	default:
		s, err := local.NewVisitedStore(cfg.Paths.VisitedPagesDir)
		if err != nil {
			return nil, fmt.Errorf("init visited store: %w", err)
		}
		return s, nil
	}
}

func (a *App) progressHub(ctx context.Context, reg prometheus.Registerer) error {
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("init prometheus sink: %w", err)
	}
	a.Events = progress.NewHub(progress.Config{Logger: a.Logger}, sinks.NewLogSink(a.Logger), promSink)
	a.onClose(a.Events.Close)

	if a.Config.DB.DSN == "" {
		return nil
	}
	pg, err := postgres.NewProgressStore(ctx, postgres.Config{
		DSN:      a.Config.DB.DSN,
		Table:    a.Config.DB.ProgressTable,
		MaxConns: a.Config.DB.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("init progress store: %w", err)
	}
	a.onClose(func(context.Context) error { pg.Close(); return nil })
	if err := pg.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure progress schema: %w", err)
	}
	a.Runs = pg
	a.Events.Add(sinks.NewStoreSink(pg, a.Logger))
	return nil
}

func (a *App) publisher(ctx context.Context) (crawljob.Publisher, error) {
	cfg := a.Config.PubSub
	if cfg.TopicName == "" {
		return nil, nil
	}
	client, err := gpubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	pub := pubsub.New(client)
	a.onClose(func(context.Context) error {
		pub.Stop()
		return client.Close()
	})
	a.Logger.Info("publishing completions", zap.String("project", cfg.ProjectID), zap.String("topic", cfg.TopicName))
	return pub, nil
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Ready reports whether the report store is readable.
func (a *App) Ready(ctx context.Context) error {
	if a.Reports == nil {
		return errors.New("report store is not initialized")
	}
	if _, err := a.Reports.ListIDs(ctx); err != nil {
		return fmt.Errorf("report store: %w", err)
	}
	return nil
}

// Close releases every service in reverse construction order and flushes the logger.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	// Sync on a terminal logger returns EINVAL; nothing useful to do with it.
	_ = a.Logger.Sync()
	return errors.Join(errs...)
}
