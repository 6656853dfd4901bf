package differ

import (
	"errors"
	"fmt"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/content-crawler/internal/crawler"
)

func records(n int) []crawler.Record {
	out := make([]crawler.Record, n)
	for i := range out {
		out[i] = crawler.Record{
			ID:        fmt.Sprintf("r%d", i+1),
			Title:     fmt.Sprintf("title %d", i+1),
			Source:    crawler.SourceQiita,
			CreatedAt: fmt.Sprintf("2024-01-%02d 00:00:00", 30-i),
			CrawledAt: "2024-02-01 00:00:00",
		}
	}
	return out
}

// stream yields recs and counts how many were pulled.
func stream(recs []crawler.Record, pulled *int) iter.Seq2[crawler.Record, error] {
	return func(yield func(crawler.Record, error) bool) {
		for _, r := range recs {
			*pulled++
			if !yield(r, nil) {
				return
			}
		}
	}
}

// TestDiffStopsAtWatermark takes the five-record case with the third as watermark.
func TestDiffStopsAtWatermark(t *testing.T) {
	t.Parallel()

	recs := records(5)
	watermark := recs[2]
	watermark.CrawledAt = "2024-01-15 00:00:00"

	pulled := 0
	out, err := Diff(stream(recs, &pulled), watermark, Options{})
	require.NoError(t, err)
	assert.True(t, out.WatermarkFound)
	assert.Equal(t, recs[:2], out.Records)
	assert.Equal(t, 3, out.Scanned)
	assert.Equal(t, 3, pulled, "nothing after the watermark is read")
}

func TestDiffWatermarkFirstIsEmpty(t *testing.T) {
	t.Parallel()

	recs := records(4)
	pulled := 0
	out, err := Diff(stream(recs, &pulled), recs[0], Options{})
	require.NoError(t, err)
	assert.True(t, out.WatermarkFound)
	assert.Empty(t, out.Records)
	assert.Equal(t, 1, pulled)
}

// TestDiffWatermarkMissing returns everything and reports the miss.
func TestDiffWatermarkMissing(t *testing.T) {
	t.Parallel()

	recs := records(3)
	gone := crawler.Record{ID: "deleted", Source: crawler.SourceQiita}
	pulled := 0
	out, err := Diff(stream(recs, &pulled), gone, Options{})
	require.NoError(t, err)
	assert.False(t, out.WatermarkFound)
	assert.Equal(t, recs, out.Records)
}

// TestDiffEditedWatermarkDoesNotMatch shows matching needs every content field.
func TestDiffEditedWatermarkDoesNotMatch(t *testing.T) {
	t.Parallel()

	recs := records(3)
	edited := recs[1]
	edited.Title = "renamed upstream"
	pulled := 0
	out, err := Diff(stream(recs, &pulled), edited, Options{})
	require.NoError(t, err)
	assert.False(t, out.WatermarkFound)
	assert.Len(t, out.Records, 3)
}

func TestDiffMaxScan(t *testing.T) {
	t.Parallel()

	recs := records(10)
	pulled := 0
	_, err := Diff(stream(recs, &pulled), crawler.Record{ID: "gone", Source: crawler.SourceQiita}, Options{MaxScan: 4})
	require.ErrorIs(t, err, crawler.ErrWatermarkLost)
	assert.Equal(t, 4, pulled)

	pulled = 0
	out, err := Diff(stream(recs, &pulled), recs[3], Options{MaxScan: 4})
	require.NoError(t, err)
	assert.Len(t, out.Records, 3)
}

func TestDiffPropagatesStreamError(t *testing.T) {
	t.Parallel()

	boom := crawler.NewFault(crawler.ErrTransport, crawler.SourceTwitter, "liked tweets", errors.New("reset"))
	failing := func(yield func(crawler.Record, error) bool) {
		if !yield(records(1)[0], nil) {
			return
		}
		yield(crawler.Record{}, boom)
	}
	out, err := Diff(failing, crawler.Record{ID: "x"}, Options{})
	require.ErrorIs(t, err, crawler.ErrTransport)
	assert.Empty(t, out.Records)
}
