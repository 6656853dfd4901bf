// Package app wires configuration into the long-lived services: fetcher,
// source adapters, orchestrator, stores, exporter, publisher and HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/content-crawler/internal/api"
	"github.com/JakeFAU/content-crawler/internal/clock/system"
	"github.com/JakeFAU/content-crawler/internal/config"
	"github.com/JakeFAU/content-crawler/internal/crawler"
	"github.com/JakeFAU/content-crawler/internal/export"
	collyfetcher "github.com/JakeFAU/content-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/content-crawler/internal/id/uuid"
	"github.com/JakeFAU/content-crawler/internal/orchestrator"
	"github.com/JakeFAU/content-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/content-crawler/internal/source/qiita"
	"github.com/JakeFAU/content-crawler/internal/source/twitter"
	"github.com/JakeFAU/content-crawler/internal/source/youtube"
	"github.com/JakeFAU/content-crawler/internal/storage/gcs"
	"github.com/JakeFAU/content-crawler/internal/storage/local"
	"github.com/JakeFAU/content-crawler/internal/storage/memory"
	"github.com/JakeFAU/content-crawler/internal/storage/postgres"
	"github.com/JakeFAU/content-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/content-crawler/internal/syncer"
	"github.com/JakeFAU/content-crawler/internal/telemetry"
	"github.com/JakeFAU/content-crawler/internal/timestamp"
)

const serviceName = "content-crawler"

// App holds the services built from one Config.
type App struct {
	Config       config.Config
	Logger       *zap.Logger
	Orchestrator *orchestrator.Orchestrator
	Records      crawler.RecordStore
	Service      *syncer.Service
	Server       *api.Server

	closers []func() error
}

// New builds an App that fetches over colly.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:   cfg.HTTP.UserAgent,
		Timeout:     cfg.FetchTimeout(),
		MaxBodySize: cfg.HTTP.MaxBodyBytes,
	})
	return NewWithFetcher(ctx, cfg, fetcher, logger)
}

// NewWithFetcher builds an App over the given fetcher. Everything opened
// before a failure is closed again.
func NewWithFetcher(ctx context.Context, cfg config.Config, fetcher crawler.Fetcher, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			if closeErr := a.Close(); closeErr != nil {
				logger.Warn("cleanup after failed init", zap.Error(closeErr))
			}
		}
	}()

	tp, err := telemetry.InitTracerProvider(ctx, serviceName)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { return tp.Shutdown(context.Background()) })

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	normalizer := timestamp.New(loc)

	adapters, err := buildAdapters(cfg, fetcher, normalizer, logger)
	if err != nil {
		return nil, err
	}
	ids := uuid.New()
	a.Orchestrator = orchestrator.New(adapters, system.New(), ids, normalizer,
		orchestrator.Config{IncrementalMaxScan: cfg.Crawl.IncrementalMaxScan}, logger.Named("orchestrator"))

	if a.Records, err = a.openRecordStore(ctx); err != nil {
		return nil, err
	}
	blobs, err := a.openBlobStore(ctx)
	if err != nil {
		return nil, err
	}

	svcCfg := syncer.Config{
		Exporter: export.NewExporter(blobs, cfg.Export.Prefix, logger.Named("export")),
		IDs:      ids,
		Topic:    cfg.PubSub.TopicName,
	}
	if cfg.PubSub.Enabled {
		pub, err := pubsub.Dial(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			return nil, fmt.Errorf("%w: pubsub: %w", crawler.ErrConfig, err)
		}
		a.closers = append(a.closers, pub.Close)
		svcCfg.Publisher = pub
	}
	a.Service = syncer.New(a.Orchestrator, a.Records, svcCfg, logger.Named("syncer"))
	a.Server = api.NewServer(a.Service, cfg, logger.Named("api"))

	logger.Info("application initialized",
		zap.Any("sources", a.Orchestrator.Configured()),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("blob", cfg.Blob.Driver),
		zap.Bool("pubsub", cfg.PubSub.Enabled),
	)
	return a, nil
}

// buildAdapters creates an adapter for every source whose account is set.
func buildAdapters(
	cfg config.Config,
	fetcher crawler.Fetcher,
	normalizer timestamp.Normalizer,
	logger *zap.Logger,
) ([]orchestrator.Adapter, error) {
	var adapters []orchestrator.Adapter
	src := cfg.Sources

	if strings.TrimSpace(src.Qiita.UserID) != "" {
		q, err := qiita.New(qiita.Config{
			BaseURL:       src.Qiita.BaseURL,
			UserID:        src.Qiita.UserID,
			AccessToken:   src.Qiita.AccessToken,
			PageSize:      src.Qiita.PageSize,
			SummaryLength: src.Qiita.SummaryLength,
		}, fetcher, normalizer, logger.Named("qiita"))
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, q)
	}
	if strings.TrimSpace(src.YouTube.ChannelID) != "" {
		y, err := youtube.New(youtube.Config{
			BaseURL:   src.YouTube.BaseURL,
			APIKey:    src.YouTube.APIKey,
			ChannelID: src.YouTube.ChannelID,
			PageSize:  src.YouTube.PageSize,
		}, fetcher, normalizer, logger.Named("youtube"))
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, y)
	}
	if strings.TrimSpace(src.Twitter.UserID) != "" {
		t, err := twitter.New(twitter.Config{
			BaseURL:     src.Twitter.BaseURL,
			UserID:      src.Twitter.UserID,
			BearerToken: src.Twitter.BearerToken,
			PageSize:    src.Twitter.PageSize,
		}, fetcher, normalizer, logger.Named("twitter"))
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, t)
	}
	if len(adapters) == 0 {
		logger.Warn("no sources configured")
	}
	return adapters, nil
}

func (a *App) openRecordStore(ctx context.Context) (crawler.RecordStore, error) {
	cfg := a.Config
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		return memory.NewRecordStore(), nil
	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite record store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	case config.DriverPostgres:
		store, err := postgres.NewRecordStore(ctx, postgres.Config{
			DSN:             cfg.DB.DSN,
			Table:           cfg.DB.Table,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetimeSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres record store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		if cfg.DB.Migrate {
			if err := store.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("migrate postgres record store: %w", err)
			}
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: unknown storage.driver %q", crawler.ErrConfig, cfg.Storage.Driver)
	}
}

func (a *App) openBlobStore(ctx context.Context) (crawler.BlobStore, error) {
	cfg := a.Config.Blob
	switch cfg.Driver {
	case config.DriverMemory:
		return memory.NewBlobStore(), nil
	case config.DriverLocal:
		store, err := local.New(local.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("open local blob store: %w", err)
		}
		return store, nil
	case config.DriverGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		store, err := gcs.New(client, gcs.Config{
			Bucket:       cfg.GCSBucket,
			Prefix:       cfg.GCSPrefix,
			CacheControl: cfg.CacheControl,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", crawler.ErrConfig, err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: unknown blob.driver %q", crawler.ErrConfig, cfg.Driver)
	}
}

// Close releases stores and clients in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
