// Package orchestrator exposes the crawl entry points. It picks the adapter for
// a source, stamps one crawl timestamp on every record, drives the pager and,
// for incremental crawls, cuts the stream at the stored watermark.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/content-crawler/internal/crawler"
	"github.com/JakeFAU/content-crawler/internal/differ"
	"github.com/JakeFAU/content-crawler/internal/metrics"
	"github.com/JakeFAU/content-crawler/internal/pager"
	"github.com/JakeFAU/content-crawler/internal/timestamp"
)

// Adapter is implemented by every source adapter.
type Adapter interface {
	Source() crawler.Source
	DefaultPageSize() int
	Records(ctx context.Context, pageSize int, crawledAt string) iter.Seq2[crawler.Record, error]
}

// Ordering is implemented by adapters whose stream is not newest-first
// across the whole source. Such sources are read to exhaustion and ordered by
// CreatedAt, newest first, so that every crawl result begins with the record
// a later incremental crawl must stop at.
type Ordering interface {
	NewestFirst() bool
}

func newestFirst(a Adapter) bool {
	o, ok := a.(Ordering)
	return !ok || o.NewestFirst()
}

// Config tunes crawl behavior.
type Config struct {
	// IncrementalMaxScan bounds incremental crawls that cannot find their
	// watermark. Zero scans the whole source.
	IncrementalMaxScan int
	// TracerProvider records one span per crawl. Nil uses the global provider.
	TracerProvider trace.TracerProvider
}

const tracerName = "github.com/JakeFAU/content-crawler/internal/orchestrator"

// Orchestrator runs crawls against the configured adapters.
type Orchestrator struct {
	adapters   map[crawler.Source]Adapter
	clock      crawler.Clock
	ids        crawler.IDGenerator
	normalizer timestamp.Normalizer
	cfg        Config
	tracer     trace.Tracer
	logger     *zap.Logger
}

// New builds an Orchestrator over adapters. Sources without an adapter are
// treated as unconfigured.
func New(
	adapters []Adapter,
	clock crawler.Clock,
	ids crawler.IDGenerator,
	normalizer timestamp.Normalizer,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	table := make(map[crawler.Source]Adapter, len(adapters))
	for _, a := range adapters {
		table[a.Source()] = a
	}
	return &Orchestrator{
		adapters:   table,
		clock:      clock,
		ids:        ids,
		normalizer: normalizer,
		cfg:        cfg,
		tracer:     tp.Tracer(tracerName),
		logger:     logger,
	}
}

// Configured lists the sources that have an adapter, in canonical order.
func (o *Orchestrator) Configured() []crawler.Source {
	var out []crawler.Source
	for _, src := range crawler.Sources() {
		if _, ok := o.adapters[src]; ok {
			out = append(out, src)
		}
	}
	return out
}

// FullCrawl pages src to exhaustion.
func (o *Orchestrator) FullCrawl(ctx context.Context, src crawler.Source) (crawler.Result, error) {
	run, err := o.begin(ctx, src, crawler.ModeFull)
	if err != nil {
		return crawler.Result{}, err
	}
	records, err := pager.Collect(run.records(0))
	if err != nil {
		return crawler.Result{}, run.fail(err)
	}
	run.result.Records = records
	return run.finish(), nil
}

// IncrementalCrawl returns the records newer than watermark. When the
// watermark is never met the whole source is returned and
// Result.WatermarkFound is false.
func (o *Orchestrator) IncrementalCrawl(ctx context.Context, src crawler.Source, watermark crawler.Record) (crawler.Result, error) {
	run, err := o.begin(ctx, src, crawler.ModeIncremental)
	if err != nil {
		return crawler.Result{}, err
	}
	out, err := differ.Diff(
		run.records(0),
		watermark,
		differ.Options{MaxScan: o.cfg.IncrementalMaxScan},
	)
	if err != nil {
		return crawler.Result{}, run.fail(err)
	}
	run.result.Records = out.Records
	run.result.WatermarkFound = out.WatermarkFound
	if !out.WatermarkFound {
		metrics.ObserveWatermarkMiss(src.String())
		o.logger.Warn("watermark not found, returning full history",
			zap.String("source", src.String()),
			zap.String("crawl_id", run.result.CrawlID),
			zap.String("watermark", watermark.Key()),
			zap.Int("scanned", out.Scanned),
		)
	}
	return run.finish(), nil
}

// LatestRecord fetches a single page of size one and returns its first record.
// Sources that are not newest-first are read in full and the newest record is
// returned.
func (o *Orchestrator) LatestRecord(ctx context.Context, src crawler.Source) (crawler.Record, error) {
	run, err := o.begin(ctx, src, crawler.ModeLatest)
	if err != nil {
		return crawler.Record{}, err
	}
	pageSize := 1
	if !newestFirst(run.adapter) {
		pageSize = 0
	}
	rec, ok, err := pager.First(run.records(pageSize))
	if err != nil {
		return crawler.Record{}, run.fail(err)
	}
	if !ok {
		return crawler.Record{}, run.fail(crawler.NewFault(crawler.ErrEmptySource, src, "latest record",
			errors.New("source returned no items")))
	}
	run.result.Records = []crawler.Record{rec}
	run.finish()
	return rec, nil
}

// CrawlAll crawls several sources concurrently, one goroutine each. In
// incremental mode a source without a watermark is crawled in full. The first
// failure cancels the remaining crawls and is returned.
func (o *Orchestrator) CrawlAll(
	ctx context.Context,
	sources []crawler.Source,
	mode crawler.Mode,
	watermarks map[crawler.Source]crawler.Record,
) ([]crawler.Result, error) {
	if len(sources) == 0 {
		sources = o.Configured()
	}
	for _, src := range sources {
		if _, err := o.adapter(src); err != nil {
			return nil, err
		}
	}

	results := make([]crawler.Result, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			var (
				res crawler.Result
				err error
			)
			watermark, ok := watermarks[src]
			if mode == crawler.ModeIncremental && ok {
				res, err = o.IncrementalCrawl(gctx, src, watermark)
			} else {
				res, err = o.FullCrawl(gctx, src)
			}
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (o *Orchestrator) adapter(src crawler.Source) (Adapter, error) {
	if !slices.Contains(crawler.Sources(), src) {
		return nil, crawler.NewFault(crawler.ErrUnknownSource, src, "dispatch", fmt.Errorf("no adapter kind for %q", src))
	}
	a, ok := o.adapters[src]
	if !ok {
		return nil, crawler.NewFault(crawler.ErrConfig, src, "dispatch", fmt.Errorf("source %s is not configured", src))
	}
	return a, nil
}

// invocation tracks one crawl.
type invocation struct {
	o       *Orchestrator
	ctx     context.Context
	adapter Adapter
	result  crawler.Result
	started time.Time
	counter *atomic.Int64
	span    trace.Span
}

func (o *Orchestrator) begin(ctx context.Context, src crawler.Source, mode crawler.Mode) (*invocation, error) {
	a, err := o.adapter(src)
	if err != nil {
		if errors.Is(err, crawler.ErrConfig) {
			metrics.ObserveFault(src.String(), crawler.FaultLabel(err))
		}
		return nil, err
	}
	crawlID, err := o.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("crawl id: %w", err)
	}
	now := o.clock.Now()
	ctx, span := o.tracer.Start(ctx, "crawl."+string(mode), trace.WithAttributes(
		attribute.String("crawl.source", src.String()),
		attribute.String("crawl.mode", string(mode)),
		attribute.String("crawl.id", crawlID),
	))
	ctx, counter := crawler.WithRequestCounter(ctx)
	o.logger.Debug("crawl started",
		zap.String("source", src.String()),
		zap.String("mode", string(mode)),
		zap.String("crawl_id", crawlID),
	)
	return &invocation{
		o:       o,
		ctx:     ctx,
		adapter: a,
		started: now,
		counter: counter,
		span:    span,
		result: crawler.Result{
			CrawlID:   crawlID,
			Source:    src,
			Mode:      mode,
			CrawledAt: o.normalizer.Canonical(now),
		},
	}, nil
}

// records streams the adapter newest first. Canonical timestamps share one
// layout and zone, so they order lexically; ties keep stream order.
func (r *invocation) records(pageSize int) iter.Seq2[crawler.Record, error] {
	seq := r.adapter.Records(r.ctx, pageSize, r.result.CrawledAt)
	if newestFirst(r.adapter) {
		return seq
	}
	return func(yield func(crawler.Record, error) bool) {
		recs, err := pager.Collect(seq)
		if err != nil {
			yield(crawler.Record{}, err)
			return
		}
		slices.SortStableFunc(recs, func(a, b crawler.Record) int {
			return strings.Compare(b.CreatedAt, a.CreatedAt)
		})
		for _, rec := range recs {
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func (r *invocation) finish() crawler.Result {
	r.result.Pages = int(r.counter.Load())
	if r.result.Records == nil {
		r.result.Records = []crawler.Record{}
	}
	elapsed := r.o.clock.Now().Sub(r.started)
	r.span.SetAttributes(
		attribute.Int("crawl.records", len(r.result.Records)),
		attribute.Int("crawl.pages", r.result.Pages),
		attribute.Bool("crawl.watermark_found", r.result.WatermarkFound),
	)
	r.span.End()
	metrics.ObserveCrawl(r.result.Source.String(), string(r.result.Mode), r.result.Pages, len(r.result.Records), elapsed)
	r.o.logger.Info("crawl finished",
		zap.String("source", r.result.Source.String()),
		zap.String("mode", string(r.result.Mode)),
		zap.String("crawl_id", r.result.CrawlID),
		zap.Int("records", len(r.result.Records)),
		zap.Int("pages", r.result.Pages),
		zap.Duration("elapsed", elapsed),
	)
	return r.result
}

func (r *invocation) fail(err error) error {
	r.span.RecordError(err)
	r.span.SetStatus(codes.Error, crawler.FaultLabel(err))
	r.span.End()
	metrics.ObserveFault(r.result.Source.String(), crawler.FaultLabel(err))
	r.o.logger.Error("crawl failed",
		zap.String("source", r.result.Source.String()),
		zap.String("mode", string(r.result.Mode)),
		zap.String("crawl_id", r.result.CrawlID),
		zap.Int64("pages", r.counter.Load()),
		zap.Error(err),
	)
	return err
}
