// Package server builds the scraper's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/media-scraper/internal/api"
	"github.com/JakeFAU/media-scraper/internal/clock/system"
	"github.com/JakeFAU/media-scraper/internal/config"
	"github.com/JakeFAU/media-scraper/internal/dispatcher"
	"github.com/JakeFAU/media-scraper/internal/extract"
	collyfetcher "github.com/JakeFAU/media-scraper/internal/fetcher/colly"
	"github.com/JakeFAU/media-scraper/internal/hash/sha256"
	"github.com/JakeFAU/media-scraper/internal/id/uuid"
	"github.com/JakeFAU/media-scraper/internal/orchestrator"
	"github.com/JakeFAU/media-scraper/internal/policy/ratelimit"
	pubmemory "github.com/JakeFAU/media-scraper/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/media-scraper/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/media-scraper/internal/queue/memory"
	"github.com/JakeFAU/media-scraper/internal/registry"
	"github.com/JakeFAU/media-scraper/internal/scraper"
	gcsstorage "github.com/JakeFAU/media-scraper/internal/storage/gcs"
	localstorage "github.com/JakeFAU/media-scraper/internal/storage/local"
	memoryStorage "github.com/JakeFAU/media-scraper/internal/storage/memory"
	pgstore "github.com/JakeFAU/media-scraper/internal/storage/postgres"
	"github.com/JakeFAU/media-scraper/internal/worker"
)

const shutdownTimeout = 15 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	apiServer *api.Server
	dispatch  *dispatcher.Dispatcher
	queue     *queueMemory.Queue
	registry  *registry.Registry
	store     scraper.PageStore
	archive   scraper.BlobStore
	publisher scraper.Publisher

	pgStore     *pgstore.PageStore
	gcsClient   *storage.Client
	pubsubTopic *gcppublisher.Publisher
}

// Build creates the application's dependencies. On error everything opened
// so far is released.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}

	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("environment", cfg.Server.Environment),
	)

	for _, setup := range []func(context.Context) error{
		app.setupStore,
		app.setupArchive,
		app.setupPublisher,
	} {
		if err := setup(ctx); err != nil {
			app.closeInfrastructure()
			return nil, err
		}
	}

	clock := system.New()
	orch := app.setupOrchestrator(clock)

	app.queue = queueMemory.NewQueue(cfg.Queue.Depth)
	app.registry = registry.New()
	app.dispatch = app.setupDispatcher(orch, clock)
	app.apiServer = api.NewServer(orch, app.dispatch, app.store, clock, cfg, logger.Named("api"))
	return app, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP and processes jobs until ctx ends or a signal arrives, then
// drains and releases every dependency.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Queue.Concurrency))
		a.dispatch.Run(gctx)
		return nil
	})
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	runErr := g.Wait()
	a.Close()
	return runErr
}

// Close stops intake, forgets tracked jobs, and releases clients.
func (a *App) Close() {
	if a.queue != nil {
		a.queue.Close()
	}
	if a.registry != nil {
		a.registry.Clear()
	}
	a.closeInfrastructure()
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure() {
	if a.pubsubTopic != nil {
		if err := a.pubsubTopic.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsubTopic = nil
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.gcsClient = nil
	}
	if a.pgStore != nil {
		a.pgStore.Close()
		a.pgStore = nil
	}
}

func (a *App) setupStore(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no database DSN configured, using in-memory page store")
		a.store = memoryStorage.NewPageStore()
		return nil
	}
	pg, err := pgstore.New(ctx, pgstore.Config{
		DSN:      a.cfg.DB.DSN,
		MaxConns: a.cfg.DB.MaxConns,
		MinConns: a.cfg.DB.MinConns,
	})
	if err != nil {
		return fmt.Errorf("page store init failed: %w", err)
	}
	a.pgStore = pg
	a.store = pg
	a.logger.Info("postgres page store initialized", zap.Int32("max_conns", a.cfg.DB.MaxConns))
	return nil
}

func (a *App) setupArchive(ctx context.Context) error {
	switch a.cfg.Storage.Archive {
	case config.ArchiveGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.archive = blobs
		a.logger.Info("archiving pages to GCS", zap.String("bucket", a.cfg.Storage.GCSBucket))
	case config.ArchiveLocal:
		blobs, err := localstorage.New(localstorage.Config{Dir: a.cfg.Storage.LocalDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.archive = blobs
		a.logger.Info("archiving pages to local disk", zap.String("dir", a.cfg.Storage.LocalDir))
	case config.ArchiveMemory:
		a.archive = memoryStorage.NewBlobStore()
		a.logger.Info("archiving pages in memory")
	default:
		a.logger.Debug("page archive disabled")
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.Publisher == config.PublisherMemory {
		a.publisher = pubmemory.New()
		a.logger.Info("job events kept in memory", zap.String("topic", a.cfg.PubSub.TopicName))
		return nil
	}
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("no Pub/Sub topic configured, job events are not published")
		return nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	pub, err := gcppublisher.New(client)
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.pubsubTopic = pub
	a.publisher = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

func (a *App) setupOrchestrator(clock scraper.Clock) *orchestrator.Orchestrator {
	limiter := ratelimit.New(ratelimit.Config{
		RatePerHost:  a.cfg.Fetch.RatePerHost,
		BurstPerHost: a.cfg.Fetch.BurstPerHost,
	})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: a.cfg.Fetch.UserAgent,
		Timeout:   a.cfg.FetchTimeout(),
		Limiter:   limiter,
	})
	a.logger.Info("colly fetcher ready",
		zap.String("user_agent", a.cfg.Fetch.UserAgent),
		zap.Duration("timeout", a.cfg.FetchTimeout()),
		zap.Float64("rate_per_host", a.cfg.Fetch.RatePerHost),
	)

	var opts []orchestrator.Option
	if a.archive != nil {
		opts = append(opts, orchestrator.WithArchive(a.archive, sha256.New()))
	}
	return orchestrator.New(
		orchestrator.Config{
			CacheValidity: a.cfg.CacheValidity(),
			ArchivePrefix: a.cfg.Storage.Prefix,
		},
		a.store,
		a.store,
		fetcher,
		extract.New(),
		clock,
		a.logger.Named("orchestrator"),
		opts...,
	)
}

func (a *App) setupDispatcher(batch scraper.BatchScraper, clock scraper.Clock) *dispatcher.Dispatcher {
	tracker := &worker.Tracker{}
	workerCfg := worker.Config{
		Attempts: a.cfg.Queue.Attempts,
		Backoff:  a.cfg.Backoff(),
		Topic:    a.cfg.PubSub.TopicName,
	}
	a.logger.Info("worker config",
		zap.Int("concurrency", a.cfg.Queue.Concurrency),
		zap.Int("attempts", workerCfg.Attempts),
		zap.Duration("backoff", workerCfg.Backoff),
		zap.String("topic", workerCfg.Topic),
	)

	workers := make([]*worker.Worker, 0, a.cfg.Queue.Concurrency)
	for i := 0; i < a.cfg.Queue.Concurrency; i++ {
		workers = append(workers, worker.New(
			a.queue,
			batch,
			a.registry,
			a.publisher,
			clock,
			tracker,
			workerCfg,
			a.logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	return dispatcher.New(a.queue, workers, a.registry, uuid.New(), clock, tracker, dispatcher.Config{
		MaxURLs: a.cfg.Scrape.MaxURLs,
		Sweep: registry.SweepPolicy{
			CompletedMaxAge: a.cfg.Queue.CompletedRetention,
			FailedMaxAge:    a.cfg.Queue.FailedRetention,
			KeepCompleted:   a.cfg.Queue.RemoveOnComplete,
			KeepFailed:      a.cfg.Queue.RemoveOnFail,
		},
		CleanupInterval: a.cfg.Queue.CleanupInterval,
	}, a.logger.Named("dispatcher"))
}
