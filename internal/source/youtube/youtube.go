// Package youtube reads every video in every playlist of a channel. Both
// levels page by continuation token: playlists are listed first, then each
// playlist's items are paged to exhaustion in playlist order.
package youtube

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/content-crawler/internal/crawler"
	"github.com/JakeFAU/content-crawler/internal/pager"
	"github.com/JakeFAU/content-crawler/internal/timestamp"
)

const (
	// DefaultBaseURL is the Data API host.
	DefaultBaseURL = "https://www.googleapis.com"
	// MaxPageSize is the largest maxResults the API accepts.
	MaxPageSize = 50

	watchURL = "https://www.youtube.com/watch?v="
)

// Config holds the settings for one channel.
type Config struct {
	BaseURL   string
	APIKey    string
	ChannelID string
	PageSize  int
}

// Validate reports missing settings as a config fault.
func (c Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.APIKey) == "" {
		missing = append(missing, "api_key")
	}
	if strings.TrimSpace(c.ChannelID) == "" {
		missing = append(missing, "channel_id")
	}
	if c.PageSize <= 0 {
		missing = append(missing, "page_size")
	}
	if len(missing) > 0 {
		return crawler.NewFault(crawler.ErrConfig, crawler.SourceYouTube, "validate",
			fmt.Errorf("missing %s", strings.Join(missing, ", ")))
	}
	return nil
}

// Playlist is an outer collection.
type Playlist struct {
	ID      string `json:"id"`
	Snippet struct {
		Title string `json:"title"`
	} `json:"snippet"`
}

// PlaylistItem is one video entry of a playlist.
type PlaylistItem struct {
	ID      string `json:"id"`
	Snippet struct {
		PublishedAt  string `json:"publishedAt"`
		Title        string `json:"title"`
		Description  string `json:"description"`
		ChannelTitle string `json:"channelTitle"`
	} `json:"snippet"`
	ContentDetails struct {
		VideoID string `json:"videoId"`
	} `json:"contentDetails"`
}

type listResponse[T any] struct {
	NextPageToken *string `json:"nextPageToken"`
	Items         []T     `json:"items"`
}

// Adapter implements the two-level token-paged source.
type Adapter struct {
	cfg        Config
	fetcher    crawler.Fetcher
	normalizer timestamp.Normalizer
	logger     *zap.Logger
}

// New builds an Adapter; cfg must already be valid.
func New(cfg Config, fetcher crawler.Fetcher, normalizer timestamp.Normalizer, logger *zap.Logger) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.PageSize = clampPageSize(cfg.PageSize)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{cfg: cfg, fetcher: fetcher, normalizer: normalizer, logger: logger}, nil
}

// Source returns the media tag.
func (a *Adapter) Source() crawler.Source { return crawler.SourceYouTube }

// NewestFirst reports false: items come playlist by playlist, so a newer
// video in a later playlist follows older ones in an earlier playlist.
func (a *Adapter) NewestFirst() bool { return false }

// DefaultPageSize is the configured playlist item page size.
func (a *Adapter) DefaultPageSize() int { return a.cfg.PageSize }

// FetchPlaylists requests one page of the channel's playlists.
func (a *Adapter) FetchPlaylists(ctx context.Context, cursor pager.Cursor) (pager.Page[Playlist], error) {
	query := url.Values{}
	query.Set("key", a.cfg.APIKey)
	query.Set("channelId", a.cfg.ChannelID)
	query.Set("part", "id,snippet")
	query.Set("maxResults", strconv.Itoa(MaxPageSize))
	return fetchList[Playlist](ctx, a, "playlists", query, cursor)
}

// FetchItems requests one page of a playlist's items.
func (a *Adapter) FetchItems(ctx context.Context, playlistID string, pageSize int, cursor pager.Cursor) (pager.Page[PlaylistItem], error) {
	query := url.Values{}
	query.Set("key", a.cfg.APIKey)
	query.Set("playlistId", playlistID)
	query.Set("part", "id,snippet,contentDetails")
	query.Set("maxResults", strconv.Itoa(clampPageSize(pageSize)))
	return fetchList[PlaylistItem](ctx, a, "playlistItems", query, cursor)
}

func fetchList[T any](ctx context.Context, a *Adapter, resource string, query url.Values, cursor pager.Cursor) (pager.Page[T], error) {
	switch cursor.Kind() {
	case pager.KindStart:
	case pager.KindToken:
		query.Set("pageToken", cursor.Token())
	default:
		return pager.Page[T]{}, crawler.NewFault(crawler.ErrConfig, crawler.SourceYouTube, resource,
			fmt.Errorf("unsupported cursor %s", cursor))
	}
	target, err := crawler.BuildURL(a.cfg.BaseURL, query, "youtube/v3", resource)
	if err != nil {
		return pager.Page[T]{}, crawler.NewFault(crawler.ErrConfig, crawler.SourceYouTube, resource, err)
	}

	var resp listResponse[T]
	if err := crawler.FetchJSON(ctx, a.fetcher, crawler.SourceYouTube, resource,
		crawler.FetchRequest{URL: target}, &resp); err != nil {
		return pager.Page[T]{}, err
	}
	a.logger.Debug("youtube page fetched",
		zap.String("resource", resource),
		zap.Int("items", len(resp.Items)),
		zap.Bool("more", resp.NextPageToken != nil && *resp.NextPageToken != ""),
	)
	return pager.Page[T]{Items: resp.Items, Next: pager.TokenNext(resp.NextPageToken)}, nil
}

// Normalize maps a playlist item into a Record. The API exposes no per-video
// author on this endpoint, so the owning playlist's title stands in for it.
func (a *Adapter) Normalize(item PlaylistItem, playlist Playlist, crawledAt string) (crawler.Record, error) {
	created, err := a.normalizer.Zulu(item.Snippet.PublishedAt)
	if err != nil {
		return crawler.Record{}, crawler.NewFault(crawler.ErrTimeParse, crawler.SourceYouTube, "normalize "+item.ID, err)
	}
	return crawler.Record{
		ID:        item.ID,
		Title:     item.Snippet.Title,
		Author:    playlist.Snippet.Title,
		Source:    crawler.SourceYouTube,
		URL:       watchURL + url.QueryEscape(item.ContentDetails.VideoID),
		Summary:   item.Snippet.Description,
		CreatedAt: created,
		CrawledAt: crawledAt,
	}, nil
}

// Records lists all playlists, then emits each playlist's items in order.
// Every playlist's item pagination starts from its own first page.
func (a *Adapter) Records(ctx context.Context, pageSize int, crawledAt string) iter.Seq2[crawler.Record, error] {
	if pageSize <= 0 {
		pageSize = a.cfg.PageSize
	}
	playlists := pager.Materialize(pager.Items(ctx, pager.Start(), a.FetchPlaylists))
	return pager.FlatMap(playlists, func(playlist Playlist) iter.Seq2[crawler.Record, error] {
		fetch := func(ctx context.Context, cursor pager.Cursor) (pager.Page[PlaylistItem], error) {
			return a.FetchItems(ctx, playlist.ID, pageSize, cursor)
		}
		items := pager.Items(ctx, pager.Start(), fetch)
		return pager.Map(items, func(item PlaylistItem) (crawler.Record, error) {
			return a.Normalize(item, playlist, crawledAt)
		})
	})
}

func clampPageSize(n int) int {
	switch {
	case n <= 0:
		return MaxPageSize
	case n > MaxPageSize:
		return MaxPageSize
	default:
		return n
	}
}
