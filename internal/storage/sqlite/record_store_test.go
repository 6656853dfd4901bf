package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/content-crawler/internal/crawler"
)

func openMemory(t *testing.T) *RecordStore {
	t.Helper()
	store, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func rec(src crawler.Source, id, created string) crawler.Record {
	return crawler.Record{
		ID:        id,
		Title:     "title " + id,
		Author:    "author",
		Source:    src,
		URL:       "https://example.com/" + id,
		CreatedAt: created,
		CrawledAt: "2024-06-01 00:00:00",
	}
}

func TestLatestRecordIsHeadOfLastBatch(t *testing.T) {
	t.Parallel()

	store := openMemory(t)
	ctx := context.Background()
	require.NoError(t, store.StoreBatch(ctx, []crawler.Record{
		rec(crawler.SourceQiita, "stocked-last", "2024-01-01 00:00:00"),
		rec(crawler.SourceQiita, "stocked-first", "2024-05-01 00:00:00"),
		rec(crawler.SourceYouTube, "other", "2025-01-01 00:00:00"),
	}))

	got, err := store.LatestRecord(ctx, crawler.SourceQiita)
	require.NoError(t, err)
	assert.Equal(t, "stocked-last", got.ID, "crawl order wins over created_at")

	require.NoError(t, store.StoreBatch(ctx, []crawler.Record{
		rec(crawler.SourceQiita, "fresh", "2023-06-01 00:00:00"),
	}))
	got, err = store.LatestRecord(ctx, crawler.SourceQiita)
	require.NoError(t, err)
	assert.Equal(t, "fresh", got.ID)

	// Re-storing an older record moves it into the newest batch.
	require.NoError(t, store.StoreBatch(ctx, []crawler.Record{
		rec(crawler.SourceQiita, "stocked-first", "2024-05-01 00:00:00"),
		rec(crawler.SourceQiita, "fresh", "2023-06-01 00:00:00"),
	}))
	got, err = store.LatestRecord(ctx, crawler.SourceQiita)
	require.NoError(t, err)
	assert.Equal(t, "stocked-first", got.ID)

	got, err = store.LatestRecord(ctx, crawler.SourceYouTube)
	require.NoError(t, err)
	assert.Equal(t, "other", got.ID)

	_, err = store.LatestRecord(ctx, crawler.SourceTwitter)
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestStoreBatchUpserts(t *testing.T) {
	t.Parallel()

	store := openMemory(t)
	ctx := context.Background()
	first := rec(crawler.SourceTwitter, "1", "2024-01-01 00:00:00")
	require.NoError(t, store.StoreBatch(ctx, []crawler.Record{first}))

	edited := first
	edited.Title = "edited"
	edited.CrawledAt = "2024-07-01 00:00:00"
	require.NoError(t, store.StoreBatch(ctx, []crawler.Record{edited}))

	all, err := store.Scan(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, edited, all[0])
}

func TestScanFiltersBySource(t *testing.T) {
	t.Parallel()

	store := openMemory(t)
	ctx := context.Background()
	require.NoError(t, store.StoreBatch(ctx, []crawler.Record{
		rec(crawler.SourceQiita, "q1", "2024-01-01 00:00:00"),
		rec(crawler.SourceQiita, "q2", "2024-02-01 00:00:00"),
		rec(crawler.SourceYouTube, "y1", "2024-03-01 00:00:00"),
	}))

	qiita, err := store.Scan(ctx, crawler.SourceQiita)
	require.NoError(t, err)
	require.Len(t, qiita, 2)
	assert.Equal(t, "q2", qiita[0].ID)

	all, err := store.Scan(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStoreBatchRejectsAnonymousRecords(t *testing.T) {
	t.Parallel()

	store := openMemory(t)
	ctx := context.Background()
	err := store.StoreBatch(ctx, []crawler.Record{
		rec(crawler.SourceQiita, "ok", "2024-01-01 00:00:00"),
		{Source: crawler.SourceQiita},
	})
	require.Error(t, err)

	all, err := store.Scan(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, all, "failed batch must not be partially applied")
}

func TestOpenFileDatabasePersists(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "records.db")
	ctx := context.Background()

	store, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, store.StoreBatch(ctx, []crawler.Record{rec(crawler.SourceQiita, "q1", "2024-01-01 00:00:00")}))
	require.NoError(t, store.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	got, err := reopened.LatestRecord(ctx, crawler.SourceQiita)
	require.NoError(t, err)
	assert.Equal(t, "q1", got.ID)
}
