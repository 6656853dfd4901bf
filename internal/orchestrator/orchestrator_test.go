package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"

	"github.com/JakeFAU/content-crawler/internal/crawler"
	"github.com/JakeFAU/content-crawler/internal/source/qiita"
	"github.com/JakeFAU/content-crawler/internal/timestamp"
)

// tickingClock advances one minute on every call so two crawls never share a stamp.
type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Minute)
	return c.now
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("crawl-%d", s.n), nil
}

// stockServer serves total Qiita stocks, newest first.
type stockServer struct {
	mu       sync.Mutex
	total    int
	requests int
}

func (s *stockServer) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	s.mu.Lock()
	s.requests++
	s.mu.Unlock()
	u, err := url.Parse(req.URL)
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	page, _ := strconv.Atoi(u.Query().Get("page"))
	size, _ := strconv.Atoi(u.Query().Get("per_page"))
	items := []qiita.Item{}
	for i := (page - 1) * size; i < page*size && i < s.total; i++ {
		items = append(items, qiita.Item{
			ID:        fmt.Sprintf("item-%d", i+1),
			Title:     fmt.Sprintf("title %d", i+1),
			URL:       fmt.Sprintf("https://qiita.com/u/items/%d", i+1),
			CreatedAt: time.Date(2024, 1, 31-i, 9, 0, 0, 0, time.FixedZone("JST", 9*3600)).Format(timestamp.LayoutOffset),
			User:      qiita.User{ID: "u", Name: "User"},
		})
	}
	body, err := json.Marshal(items)
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	return crawler.FetchResponse{StatusCode: http.StatusOK, Body: body}, nil
}

func (s *stockServer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func newOrchestrator(t *testing.T, server *stockServer, cfg Config) *Orchestrator {
	t.Helper()
	adapter, err := qiita.New(qiita.Config{
		BaseURL:     "https://qiita.test",
		UserID:      "alice",
		AccessToken: "tok",
		PageSize:    2,
	}, server, timestamp.UTC(), nil)
	require.NoError(t, err)
	clock := &tickingClock{now: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)}
	return New([]Adapter{adapter}, clock, &seqIDs{}, timestamp.UTC(), cfg, zap.NewNop())
}

// TestFullCrawlStampsOneCrawlTime checks every record shares the invocation's crawl stamp.
func TestFullCrawlStampsOneCrawlTime(t *testing.T) {
	t.Parallel()

	server := &stockServer{total: 5}
	o := newOrchestrator(t, server, Config{})

	res, err := o.FullCrawl(context.Background(), crawler.SourceQiita)
	require.NoError(t, err)
	require.Len(t, res.Records, 5)
	assert.Equal(t, "crawl-1", res.CrawlID)
	assert.Equal(t, crawler.ModeFull, res.Mode)
	assert.Equal(t, "2024-02-01 00:01:00", res.CrawledAt)
	assert.Equal(t, 3, res.Pages)
	for _, rec := range res.Records {
		assert.Equal(t, res.CrawledAt, rec.CrawledAt)
	}
}

// TestIncrementalAfterFullIsEmpty runs an incremental crawl seeded with the newest record of a full crawl.
func TestIncrementalAfterFullIsEmpty(t *testing.T) {
	t.Parallel()

	server := &stockServer{total: 5}
	o := newOrchestrator(t, server, Config{})

	full, err := o.FullCrawl(context.Background(), crawler.SourceQiita)
	require.NoError(t, err)

	inc, err := o.IncrementalCrawl(context.Background(), crawler.SourceQiita, full.Records[0])
	require.NoError(t, err)
	assert.Empty(t, inc.Records)
	assert.True(t, inc.WatermarkFound)
	assert.Equal(t, 1, inc.Pages)
	assert.NotEqual(t, full.CrawledAt, inc.CrawledAt)
}

func TestIncrementalReturnsNewerRecords(t *testing.T) {
	t.Parallel()

	server := &stockServer{total: 5}
	o := newOrchestrator(t, server, Config{})
	full, err := o.FullCrawl(context.Background(), crawler.SourceQiita)
	require.NoError(t, err)

	inc, err := o.IncrementalCrawl(context.Background(), crawler.SourceQiita, full.Records[2])
	require.NoError(t, err)
	require.Len(t, inc.Records, 2)
	assert.Equal(t, "item-1", inc.Records[0].ID)
	assert.Equal(t, "item-2", inc.Records[1].ID)
	assert.Equal(t, 2, inc.Pages, "pages after the watermark are never requested")
}

func TestIncrementalMissingWatermark(t *testing.T) {
	t.Parallel()

	server := &stockServer{total: 3}
	o := newOrchestrator(t, server, Config{})

	res, err := o.IncrementalCrawl(context.Background(), crawler.SourceQiita, crawler.Record{ID: "gone", Source: crawler.SourceQiita})
	require.NoError(t, err)
	assert.False(t, res.WatermarkFound)
	assert.Len(t, res.Records, 3)

	bounded := newOrchestrator(t, &stockServer{total: 10}, Config{IncrementalMaxScan: 4})
	_, err = bounded.IncrementalCrawl(context.Background(), crawler.SourceQiita, crawler.Record{ID: "gone"})
	require.ErrorIs(t, err, crawler.ErrWatermarkLost)
}

func TestLatestRecord(t *testing.T) {
	t.Parallel()

	server := &stockServer{total: 5}
	o := newOrchestrator(t, server, Config{})

	rec, err := o.LatestRecord(context.Background(), crawler.SourceQiita)
	require.NoError(t, err)
	assert.Equal(t, "item-1", rec.ID)
	assert.Equal(t, 1, server.count())

	empty := newOrchestrator(t, &stockServer{}, Config{})
	_, err = empty.LatestRecord(context.Background(), crawler.SourceQiita)
	require.ErrorIs(t, err, crawler.ErrEmptySource)
}

// TestDispatchFaultsBeforeRequests covers unknown and unconfigured sources.
func TestDispatchFaultsBeforeRequests(t *testing.T) {
	t.Parallel()

	server := &stockServer{total: 5}
	o := newOrchestrator(t, server, Config{})

	_, err := o.FullCrawl(context.Background(), crawler.SourceTwitter)
	require.ErrorIs(t, err, crawler.ErrConfig)

	_, err = o.FullCrawl(context.Background(), crawler.Source("myspace"))
	require.ErrorIs(t, err, crawler.ErrUnknownSource)

	_, err = o.CrawlAll(context.Background(), []crawler.Source{crawler.SourceQiita, crawler.SourceYouTube}, crawler.ModeFull, nil)
	require.ErrorIs(t, err, crawler.ErrConfig)
	assert.Zero(t, server.count())
}

// fakeAdapter emits canned records or fails.
type fakeAdapter struct {
	src     crawler.Source
	records []crawler.Record
	err     error
}

func (f *fakeAdapter) Source() crawler.Source { return f.src }
func (f *fakeAdapter) DefaultPageSize() int   { return 10 }

func (f *fakeAdapter) Records(ctx context.Context, _ int, crawledAt string) iter.Seq2[crawler.Record, error] {
	return func(yield func(crawler.Record, error) bool) {
		if f.err != nil {
			yield(crawler.Record{}, f.err)
			return
		}
		for _, rec := range f.records {
			if ctx.Err() != nil {
				yield(crawler.Record{}, ctx.Err())
				return
			}
			rec.CrawledAt = crawledAt
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// shelfAdapter is a fakeAdapter whose stream is grouped rather than newest-first.
type shelfAdapter struct {
	fakeAdapter
}

func (*shelfAdapter) NewestFirst() bool { return false }

func TestUnorderedSourcesAreCrawledNewestFirst(t *testing.T) {
	t.Parallel()

	shelf := &shelfAdapter{fakeAdapter{src: crawler.SourceYouTube, records: []crawler.Record{
		{ID: "a1", Source: crawler.SourceYouTube, Author: "first", CreatedAt: "2024-01-05 00:00:00"},
		{ID: "a0", Source: crawler.SourceYouTube, Author: "first", CreatedAt: "2024-01-01 00:00:00"},
		{ID: "b2", Source: crawler.SourceYouTube, Author: "second", CreatedAt: "2024-01-09 00:00:00"},
		{ID: "b1", Source: crawler.SourceYouTube, Author: "second", CreatedAt: "2024-01-05 00:00:00"},
	}}}
	clock := &tickingClock{now: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)}
	o := New([]Adapter{shelf}, clock, &seqIDs{}, timestamp.UTC(), Config{}, nil)
	ctx := context.Background()

	full, err := o.FullCrawl(ctx, crawler.SourceYouTube)
	require.NoError(t, err)
	ids := make([]string, 0, len(full.Records))
	for _, rec := range full.Records {
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []string{"b2", "a1", "b1", "a0"}, ids, "ties keep stream order")

	latest, err := o.LatestRecord(ctx, crawler.SourceYouTube)
	require.NoError(t, err)
	assert.Equal(t, "b2", latest.ID)

	inc, err := o.IncrementalCrawl(ctx, crawler.SourceYouTube, crawler.Record{
		ID: "a1", Source: crawler.SourceYouTube, Author: "first", CreatedAt: "2024-01-05 00:00:00",
	})
	require.NoError(t, err)
	assert.True(t, inc.WatermarkFound)
	require.Len(t, inc.Records, 1)
	assert.Equal(t, "b2", inc.Records[0].ID)

	shelf.err = crawler.NewFault(crawler.ErrDecode, crawler.SourceYouTube, "playlists", errors.New("bad json"))
	_, err = o.FullCrawl(ctx, crawler.SourceYouTube)
	require.ErrorIs(t, err, crawler.ErrDecode)
}

func TestCrawlAll(t *testing.T) {
	t.Parallel()

	q := &fakeAdapter{src: crawler.SourceQiita, records: []crawler.Record{{ID: "q1", Source: crawler.SourceQiita}, {ID: "q2", Source: crawler.SourceQiita}}}
	y := &fakeAdapter{src: crawler.SourceYouTube, records: []crawler.Record{{ID: "y1", Source: crawler.SourceYouTube}}}
	clock := &tickingClock{now: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)}
	o := New([]Adapter{q, y}, clock, &seqIDs{}, timestamp.UTC(), Config{}, nil)

	results, err := o.CrawlAll(context.Background(), nil, crawler.ModeIncremental, map[crawler.Source]crawler.Record{
		crawler.SourceQiita: {ID: "q2", Source: crawler.SourceQiita},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, crawler.SourceQiita, results[0].Source)
	assert.Equal(t, crawler.ModeIncremental, results[0].Mode)
	assert.Len(t, results[0].Records, 1)
	assert.Equal(t, crawler.ModeFull, results[1].Mode)
	assert.Len(t, results[1].Records, 1)
}

func TestCrawlAllReturnsFirstFault(t *testing.T) {
	t.Parallel()

	boom := crawler.NewFault(crawler.ErrLookup, crawler.SourceTwitter, "liked tweets", errors.New("missing author"))
	ok := &fakeAdapter{src: crawler.SourceQiita}
	bad := &fakeAdapter{src: crawler.SourceTwitter, err: boom}
	clock := &tickingClock{now: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)}
	o := New([]Adapter{ok, bad}, clock, &seqIDs{}, timestamp.UTC(), Config{}, nil)

	results, err := o.CrawlAll(context.Background(), nil, crawler.ModeFull, nil)
	require.ErrorIs(t, err, crawler.ErrLookup)
	assert.Nil(t, results)
	assert.Equal(t, []crawler.Source{crawler.SourceQiita, crawler.SourceTwitter}, o.Configured())
}

func TestCrawlSpans(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	good := &fakeAdapter{src: crawler.SourceQiita, records: []crawler.Record{{ID: "q1", Source: crawler.SourceQiita}}}
	bad := &fakeAdapter{src: crawler.SourceTwitter, err: crawler.NewFault(crawler.ErrDecode, crawler.SourceTwitter, "liked tweets", nil)}
	clock := &tickingClock{now: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)}
	o := New([]Adapter{good, bad}, clock, &seqIDs{}, timestamp.UTC(), Config{TracerProvider: tp}, nil)

	_, err := o.FullCrawl(context.Background(), crawler.SourceQiita)
	require.NoError(t, err)
	_, err = o.FullCrawl(context.Background(), crawler.SourceTwitter)
	require.ErrorIs(t, err, crawler.ErrDecode)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "crawl.full", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.Int("crawl.records", 1))
	assert.Contains(t, spans[0].Attributes(), attribute.String("crawl.id", "crawl-1"))
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "decode", spans[1].Status().Description)
}
