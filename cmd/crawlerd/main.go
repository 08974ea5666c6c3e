// Package main wires together the crawler service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/newsloom/crawler/internal/api"
	"github.com/newsloom/crawler/internal/clock/system"
	"github.com/newsloom/crawler/internal/config"
	"github.com/newsloom/crawler/internal/crawler"
	"github.com/newsloom/crawler/internal/dispatcher"
	"github.com/newsloom/crawler/internal/extractor"
	collyfetcher "github.com/newsloom/crawler/internal/fetcher/colly"
	"github.com/newsloom/crawler/internal/hash/sha256"
	"github.com/newsloom/crawler/internal/id/uuid"
	"github.com/newsloom/crawler/internal/logging"
	"github.com/newsloom/crawler/internal/metrics"
	"github.com/newsloom/crawler/internal/nlp"
	"github.com/newsloom/crawler/internal/pipeline"
	pubsubpublisher "github.com/newsloom/crawler/internal/publisher/pubsub"
	queuememory "github.com/newsloom/crawler/internal/queue/memory"
	"github.com/newsloom/crawler/internal/scheduler"
	"github.com/newsloom/crawler/internal/storage/gcs"
	memorystorage "github.com/newsloom/crawler/internal/storage/memory"
	"github.com/newsloom/crawler/internal/storage/postgres"
	"github.com/newsloom/crawler/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	articleStore, sourceStore, closeStores, err := buildStores(ctx, cfg)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer closeStores()

	blobStore, err := buildBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal("archive init failed", zap.Error(err))
	}

	publisher, stopPublisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}
	defer stopPublisher()

	seedSources(ctx, sourceStore, cfg, logger)

	queue := queuememory.NewQueue(cfg.Crawler.QueueDepth)
	limiter := crawler.NewDomainLimiter(cfg.Crawler.PerDomainMax, cfg.DownloadDelay())
	tracker := crawler.NewVisitTracker()
	clock := system.New()
	idGen := uuid.New()
	hasher := sha256.New()
	retryPolicy := crawler.NewExponentialRetryPolicy(cfg.Crawler.MaxRetries)

	fetcher, err := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.Crawler.UserAgent,
		Timeout:      cfg.FetchTimeout(),
		MaxRedirects: cfg.Crawler.MaxRedirects,
		ProxyURLs:    cfg.Crawler.ProxyURLs,
	})
	if err != nil {
		logger.Fatal("fetcher init failed", zap.Error(err))
	}
	extract := extractor.New(extractor.Config{
		FallbackMinChars: cfg.Extract.FallbackMinChars,
		MaxLinksPerPage:  cfg.Extract.MaxLinksPerPage,
	})
	analyzer := nlp.NewProcessor(logger.Named("nlp"))
	session := pipeline.NewSession()

	sched := scheduler.New(
		sourceStore,
		queue,
		tracker,
		session,
		clock,
		idGen,
		scheduler.Config{
			TickInterval: time.Duration(cfg.Scheduler.TickSeconds) * time.Second,
			MaxDepth:     cfg.Crawler.MaxDepth,
		},
		logger.Named("scheduler"),
	)

	var workers []*worker.Worker
	for i := 0; i < cfg.Crawler.Concurrency; i++ {
		workerLogger := logger.Named("worker").With(zap.Int("index", i))
		persist := pipeline.NewPersistStage(
			articleStore, blobStore, publisher, hasher, cfg.PubSub.TopicName, workerLogger,
		)
		runner := pipeline.NewRunner(workerLogger,
			pipeline.NewValidateStage(cfg.Extract.MinContentLength, clock),
			pipeline.NewDedupStage(session, hasher),
			pipeline.NewEnrichStage(analyzer, cfg.FetchTimeout(), workerLogger),
			persist,
		)
		workers = append(workers, worker.New(
			queue,
			limiter,
			fetcher,
			extract,
			runner,
			persist,
			retryPolicy,
			clock,
			sched.HandleOutcome,
			sched.Canceled,
			workerLogger,
		))
	}
	dispatch := dispatcher.New(queue, workers)

	apiServer := api.NewServer(sched, articleStore, sourceStore, clock, cfg, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started", zap.Int("workers", cfg.Crawler.Concurrency))
		dispatch.Run(ctx)
	}()

	go func() {
		logger.Info("scheduler started", zap.Int("tick_seconds", cfg.Scheduler.TickSeconds))
		if err := sched.Run(ctx); err != nil {
			logger.Error("scheduler error", zap.Error(err))
			stop()
		}
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
}

func buildStores(ctx context.Context, cfg config.Config) (crawler.ArticleStore, crawler.SourceStore, func(), error) {
	if cfg.DB.DSN == "" {
		return memorystorage.NewArticleStore(), memorystorage.NewSourceStore(), func() {}, nil
	}

	articleStore, err := postgres.NewArticleStore(ctx, postgres.ArticleStoreConfig{
		DSN:             cfg.DB.DSN,
		Table:           cfg.DB.ArticleTable,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetime) * time.Minute,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("article store: %w", err)
	}
	sourceStore, err := postgres.NewSourceStore(ctx, postgres.SourceStoreConfig{
		DSN:             cfg.DB.DSN,
		Table:           cfg.DB.SourceTable,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetime) * time.Minute,
	})
	if err != nil {
		articleStore.Close()
		return nil, nil, nil, fmt.Errorf("source store: %w", err)
	}
	closeStores := func() {
		articleStore.Close()
		sourceStore.Close()
	}
	return articleStore, sourceStore, closeStores, nil
}

func buildBlobStore(ctx context.Context, cfg config.Config) (crawler.BlobStore, error) {
	switch cfg.Archive.Provider {
	case "none", "":
		return nil, nil
	case "memory":
		return memorystorage.NewBlobStore(), nil
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return gcs.New(client, gcs.Config{Bucket: cfg.Archive.GCSBucket})
	default:
		return nil, fmt.Errorf("unknown archive provider %q", cfg.Archive.Provider)
	}
}

func buildPublisher(ctx context.Context, cfg config.Config) (crawler.Publisher, func(), error) {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicName == "" {
		return nil, func() {}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	pub := pubsubpublisher.New(client)
	return pub, pub.Stop, nil
}

func seedSources(ctx context.Context, store crawler.SourceStore, cfg config.Config, logger *zap.Logger) {
	for _, src := range cfg.Sources {
		normalized, err := crawler.NormalizeURL(src.URL)
		if err != nil {
			logger.Error("skipping source with bad url",
				zap.String("source", src.Name),
				zap.Error(err),
			)
			continue
		}
		if _, err := store.Create(ctx, crawler.CrawlSource{
			Name:     src.Name,
			URL:      normalized,
			Enabled:  src.Enabled,
			Interval: src.Interval,
			Selector: src.Selector,
			Category: src.Category,
		}); err != nil {
			logger.Error("seed source failed",
				zap.String("source", src.Name),
				zap.Error(err),
			)
		}
	}
}
