// Package syncer runs crawls end to end: it reads the stored watermark, crawls,
// persists the new records, optionally exports them and announces the sync.
package syncer

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/content-crawler/internal/crawler"
	"github.com/JakeFAU/content-crawler/internal/export"
	"github.com/JakeFAU/content-crawler/internal/metrics"
)

// EventSyncCompleted is the type of the message published after a sync.
const EventSyncCompleted = "sync.completed"

const tracerName = "github.com/JakeFAU/content-crawler/internal/syncer"

// Crawler is the subset of the orchestrator the service drives.
type Crawler interface {
	Configured() []crawler.Source
	FullCrawl(ctx context.Context, src crawler.Source) (crawler.Result, error)
	IncrementalCrawl(ctx context.Context, src crawler.Source, watermark crawler.Record) (crawler.Result, error)
	LatestRecord(ctx context.Context, src crawler.Source) (crawler.Record, error)
}

// Exporter writes record artifacts.
type Exporter interface {
	Export(ctx context.Context, format export.Format, source crawler.Source, name string, records []crawler.Record) (export.Artifact, error)
}

// Options select how one sync runs.
type Options struct {
	Mode crawler.Mode
	// Export, when set, writes the crawled batch as an artifact.
	Export export.Format
}

// Report describes a finished sync.
type Report struct {
	crawler.Result
	Stored    int              `json:"stored"`
	Artifact  *export.Artifact `json:"artifact,omitempty"`
	MessageID string           `json:"message_id,omitempty"`
	// FellBack is set when an incremental sync found nothing stored and
	// crawled the full history instead.
	FellBack bool `json:"fell_back"`
}

// Event is the payload published after each sync.
type Event struct {
	Type           string         `json:"type"`
	CrawlID        string         `json:"crawl_id"`
	Source         crawler.Source `json:"source"`
	Mode           crawler.Mode   `json:"mode"`
	CrawledAt      string         `json:"crawled_at"`
	Records        int            `json:"records"`
	Pages          int            `json:"pages"`
	WatermarkFound bool           `json:"watermark_found"`
	ExportURI      string         `json:"export_uri,omitempty"`
}

// Service wires the orchestrator to storage, export and notification.
type Service struct {
	crawler   Crawler
	store     crawler.RecordStore
	exporter  Exporter
	publisher crawler.Publisher
	ids       crawler.IDGenerator
	topic     string
	logger    *zap.Logger
}

// Config holds optional collaborators. Nil Exporter disables exports and nil
// Publisher disables notifications.
type Config struct {
	Exporter  Exporter
	Publisher crawler.Publisher
	IDs       crawler.IDGenerator
	Topic     string
}

// New builds a Service.
func New(c Crawler, store crawler.RecordStore, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		crawler:   c,
		store:     store,
		exporter:  cfg.Exporter,
		publisher: cfg.Publisher,
		ids:       cfg.IDs,
		topic:     cfg.Topic,
		logger:    logger,
	}
}

// Configured lists the sources that can be synced.
func (s *Service) Configured() []crawler.Source {
	return s.crawler.Configured()
}

// Watermark returns the stored record an incremental crawl of src stops at.
// ok is false when nothing has been stored for src yet.
func (s *Service) Watermark(ctx context.Context, src crawler.Source) (crawler.Record, bool, error) {
	rec, err := s.store.LatestRecord(ctx, src)
	if errors.Is(err, crawler.ErrNotFound) {
		return crawler.Record{}, false, nil
	}
	if err != nil {
		return crawler.Record{}, false, fmt.Errorf("read watermark for %s: %w", src, err)
	}
	return rec, true, nil
}

// Crawl runs a crawl without storing it. Incremental crawls use the stored
// watermark and fall back to a full crawl when there is none.
func (s *Service) Crawl(ctx context.Context, src crawler.Source, mode crawler.Mode) (crawler.Result, bool, error) {
	switch mode {
	case crawler.ModeFull, "":
		res, err := s.crawler.FullCrawl(ctx, src)
		return res, false, err
	case crawler.ModeIncremental:
		watermark, ok, err := s.Watermark(ctx, src)
		if err != nil {
			return crawler.Result{}, false, err
		}
		if !ok {
			s.logger.Info("no stored watermark, crawling full history", zap.String("source", src.String()))
			res, err := s.crawler.FullCrawl(ctx, src)
			return res, true, err
		}
		res, err := s.crawler.IncrementalCrawl(ctx, src, watermark)
		return res, false, err
	default:
		return crawler.Result{}, false, fmt.Errorf("mode %q cannot be synced", mode)
	}
}

// Sync crawls src, stores the records and, when asked, exports them. A
// notification is published after the batch is stored; a failed publish is
// logged and does not fail the sync.
func (s *Service) Sync(ctx context.Context, src crawler.Source, opts Options) (report Report, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "sync", trace.WithAttributes(
		attribute.String("crawl.source", src.String()),
		attribute.String("crawl.mode", string(opts.Mode)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, crawler.FaultLabel(err))
		} else {
			span.SetAttributes(attribute.Int("sync.stored", report.Stored))
		}
		span.End()
	}()

	res, fellBack, err := s.Crawl(ctx, src, opts.Mode)
	if err != nil {
		return Report{}, err
	}
	report = Report{Result: res, FellBack: fellBack}

	if err := s.store.StoreBatch(ctx, res.Records); err != nil {
		return Report{}, fmt.Errorf("store %d records for %s: %w", len(res.Records), src, err)
	}
	report.Stored = len(res.Records)
	metrics.ObserveStored(src.String(), report.Stored)

	if opts.Export != "" {
		if s.exporter == nil {
			return Report{}, fmt.Errorf("%w: export requested but no exporter configured", crawler.ErrConfig)
		}
		artifact, err := s.exporter.Export(ctx, opts.Export, src, res.CrawlID, res.Records)
		if err != nil {
			return Report{}, fmt.Errorf("export crawl %s: %w", res.CrawlID, err)
		}
		report.Artifact = &artifact
	}

	report.MessageID = s.announce(ctx, report)
	s.logger.Info("sync finished",
		zap.String("source", src.String()),
		zap.String("mode", string(res.Mode)),
		zap.String("crawl_id", res.CrawlID),
		zap.Int("records", report.Stored),
		zap.Bool("fell_back", fellBack),
	)
	return report, nil
}

// SyncAll syncs sources concurrently. An empty list means every configured
// source. The first failure cancels the rest.
func (s *Service) SyncAll(ctx context.Context, sources []crawler.Source, opts Options) ([]Report, error) {
	if len(sources) == 0 {
		sources = s.crawler.Configured()
	}
	reports := make([]Report, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			r, err := s.Sync(gctx, src, opts)
			if err != nil {
				return err
			}
			reports[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

// Latest fetches the newest record src serves now, without storing it.
func (s *Service) Latest(ctx context.Context, src crawler.Source) (crawler.Record, error) {
	return s.crawler.LatestRecord(ctx, src)
}

// IsLatest reports whether the newest stored record of src matches the
// newest record the source serves now. Nothing stored yields false.
func (s *Service) IsLatest(ctx context.Context, src crawler.Source) (bool, error) {
	stored, ok, err := s.Watermark(ctx, src)
	if err != nil || !ok {
		return false, err
	}
	crawled, err := s.crawler.LatestRecord(ctx, src)
	if err != nil {
		return false, err
	}
	return stored.SameContent(crawled), nil
}

// Records returns stored records; an empty source means all sources.
func (s *Service) Records(ctx context.Context, src crawler.Source) ([]crawler.Record, error) {
	recs, err := s.store.Scan(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return recs, nil
}

// Export writes every stored record of src (all sources when empty) as one
// artifact.
func (s *Service) Export(ctx context.Context, format export.Format, src crawler.Source) (export.Artifact, error) {
	if s.exporter == nil {
		return export.Artifact{}, fmt.Errorf("%w: no exporter configured", crawler.ErrConfig)
	}
	if s.ids == nil {
		return export.Artifact{}, fmt.Errorf("%w: no id generator configured", crawler.ErrConfig)
	}
	recs, err := s.Records(ctx, src)
	if err != nil {
		return export.Artifact{}, err
	}
	name, err := s.ids.NewID()
	if err != nil {
		return export.Artifact{}, fmt.Errorf("export id: %w", err)
	}
	return s.exporter.Export(ctx, format, src, name, recs)
}

func (s *Service) announce(ctx context.Context, report Report) string {
	if s.publisher == nil {
		return ""
	}
	event := Event{
		Type:           EventSyncCompleted,
		CrawlID:        report.CrawlID,
		Source:         report.Source,
		Mode:           report.Mode,
		CrawledAt:      report.CrawledAt,
		Records:        report.Stored,
		Pages:          report.Pages,
		WatermarkFound: report.WatermarkFound,
	}
	if report.Artifact != nil {
		event.ExportURI = report.Artifact.URI
	}
	id, err := s.publisher.Publish(ctx, s.topic, event)
	if err != nil {
		s.logger.Warn("sync notification failed",
			zap.String("source", report.Source.String()),
			zap.String("crawl_id", report.CrawlID),
			zap.Error(err),
		)
		return ""
	}
	return id
}
