package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/content-crawler/internal/clock/system"
	"github.com/JakeFAU/content-crawler/internal/crawler"
	"github.com/JakeFAU/content-crawler/internal/orchestrator"
	"github.com/JakeFAU/content-crawler/internal/source/youtube"
	"github.com/JakeFAU/content-crawler/internal/storage/memory"
	"github.com/JakeFAU/content-crawler/internal/timestamp"
)

// channel serves a YouTube channel whose playlists gain videos between syncs.
type channel struct {
	mu        sync.Mutex
	order     []string
	playlists map[string][]youtube.PlaylistItem
}

func newChannel() *channel {
	return &channel{playlists: make(map[string][]youtube.PlaylistItem)}
}

// add puts a video at the top of playlist, creating the playlist when new.
func (c *channel) add(playlist, id, published string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.playlists[playlist]; !ok {
		c.order = append(c.order, playlist)
	}
	var item youtube.PlaylistItem
	item.ID = id
	item.Snippet.PublishedAt = published
	item.Snippet.Title = "video " + id
	item.ContentDetails.VideoID = "v-" + id
	c.playlists[playlist] = append([]youtube.PlaylistItem{item}, c.playlists[playlist]...)
}

func (c *channel) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var body any
	switch path.Base(u.Path) {
	case "playlists":
		lists := make([]youtube.Playlist, 0, len(c.order))
		for _, id := range c.order {
			var pl youtube.Playlist
			pl.ID = id
			pl.Snippet.Title = "list " + id
			lists = append(lists, pl)
		}
		body = map[string]any{"items": lists}
	case "playlistItems":
		items := c.playlists[u.Query().Get("playlistId")]
		if items == nil {
			items = []youtube.PlaylistItem{}
		}
		body = map[string]any{"items": items}
	default:
		return crawler.FetchResponse{}, errors.New("unexpected path " + u.Path)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: data}, nil
}

func newChannelService(t *testing.T, ch *channel) (*Service, *memory.RecordStore) {
	t.Helper()
	adapter, err := youtube.New(youtube.Config{
		BaseURL:   "https://yt.test",
		APIKey:    "k",
		ChannelID: "UC1",
		PageSize:  50,
	}, ch, timestamp.UTC(), nil)
	require.NoError(t, err)

	ids := &seqIDs{}
	orch := orchestrator.New([]orchestrator.Adapter{adapter},
		system.Fixed{At: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
		ids, timestamp.UTC(), orchestrator.Config{}, nil)
	store := memory.NewRecordStore()
	return New(orch, store, Config{IDs: ids}, nil), store
}

func storedIDs(t *testing.T, store *memory.RecordStore) []string {
	t.Helper()
	recs, err := store.Scan(context.Background(), crawler.SourceYouTube)
	require.NoError(t, err)
	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.ID)
	}
	return ids
}

func TestIncrementalYouTubeSyncFindsVideoInLaterPlaylist(t *testing.T) {
	t.Parallel()

	ch := newChannel()
	ch.add("PL1", "a1", "2024-01-05T00:00:00Z")
	ch.add("PL2", "b1", "2024-01-02T00:00:00Z")
	svc, store := newChannelService(t, ch)
	ctx := context.Background()

	full, err := svc.Sync(ctx, crawler.SourceYouTube, Options{Mode: crawler.ModeFull})
	require.NoError(t, err)
	assert.Equal(t, 2, full.Stored)

	ch.add("PL2", "b2", "2024-01-09T00:00:00Z")
	report, err := svc.Sync(ctx, crawler.SourceYouTube, Options{Mode: crawler.ModeIncremental})
	require.NoError(t, err)
	assert.True(t, report.WatermarkFound)
	require.Len(t, report.Records, 1)
	assert.Equal(t, "b2", report.Records[0].ID)
	assert.Equal(t, "list PL2", report.Records[0].Author)
	assert.ElementsMatch(t, []string{"a1", "b1", "b2"}, storedIDs(t, store))

	again, err := svc.Sync(ctx, crawler.SourceYouTube, Options{Mode: crawler.ModeIncremental})
	require.NoError(t, err)
	assert.True(t, again.WatermarkFound)
	assert.Empty(t, again.Records)
}

func TestIsLatestRightAfterFullYouTubeSync(t *testing.T) {
	t.Parallel()

	ch := newChannel()
	ch.add("PL1", "a1", "2024-01-05T00:00:00Z")
	ch.add("PL1", "a0", "2024-01-01T00:00:00Z")
	ch.add("PL2", "b1", "2024-01-03T00:00:00Z")
	svc, _ := newChannelService(t, ch)
	ctx := context.Background()

	_, err := svc.Sync(ctx, crawler.SourceYouTube, Options{Mode: crawler.ModeFull})
	require.NoError(t, err)

	latest, err := svc.IsLatest(ctx, crawler.SourceYouTube)
	require.NoError(t, err)
	assert.True(t, latest)

	ch.add("PL2", "b2", "2024-01-10T00:00:00Z")
	latest, err = svc.IsLatest(ctx, crawler.SourceYouTube)
	require.NoError(t, err)
	assert.False(t, latest)
}

// TestIsLatestWhenCrawlOrderIsNotCreationOrder covers sources such as Qiita
// stocks, listed by when an item was stocked rather than when it was written.
func TestIsLatestWhenCrawlOrderIsNotCreationOrder(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, crawler.SourceQiita)
	f := fx.feeds[crawler.SourceQiita]
	f.items = []crawler.Record{
		{ID: "stocked-today", Source: crawler.SourceQiita, CreatedAt: "2019-03-01 00:00:00"},
		{ID: "stocked-last-week", Source: crawler.SourceQiita, CreatedAt: "2024-05-01 00:00:00"},
	}
	ctx := context.Background()

	_, err := fx.svc.Sync(ctx, crawler.SourceQiita, Options{Mode: crawler.ModeFull})
	require.NoError(t, err)

	latest, err := fx.svc.IsLatest(ctx, crawler.SourceQiita)
	require.NoError(t, err)
	assert.True(t, latest)

	watermark, ok, err := fx.svc.Watermark(ctx, crawler.SourceQiita)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "stocked-today", watermark.ID)
}
