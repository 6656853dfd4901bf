// Package qiita reads a user's stocked Qiita articles. The API pages by a
// numeric page index; an empty or short page ends the listing.
package qiita

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/content-crawler/internal/crawler"
	"github.com/JakeFAU/content-crawler/internal/pager"
	"github.com/JakeFAU/content-crawler/internal/timestamp"
)

// DefaultBaseURL is the public Qiita API host.
const DefaultBaseURL = "https://qiita.com"

// Config holds the settings for one Qiita account.
type Config struct {
	BaseURL     string
	UserID      string
	AccessToken string
	PageSize    int
	// SummaryLength caps the plain-text excerpt of the article body, in runes.
	// Zero leaves summaries empty.
	SummaryLength int
}

// Validate reports missing settings as a config fault.
func (c Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.UserID) == "" {
		missing = append(missing, "user_id")
	}
	if strings.TrimSpace(c.AccessToken) == "" {
		missing = append(missing, "access_token")
	}
	if c.PageSize <= 0 {
		missing = append(missing, "page_size")
	}
	if len(missing) > 0 {
		return crawler.NewFault(crawler.ErrConfig, crawler.SourceQiita, "validate",
			fmt.Errorf("missing %s", strings.Join(missing, ", ")))
	}
	return nil
}

// User is the article author.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Item is one stocked article as returned by the API.
type Item struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	URL          string `json:"url"`
	RenderedBody string `json:"rendered_body"`
	CreatedAt    string `json:"created_at"`
	User         User   `json:"user"`
}

// Adapter implements the flat counter-paged source.
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
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{cfg: cfg, fetcher: fetcher, normalizer: normalizer, logger: logger}, nil
}

// Source returns the media tag.
func (a *Adapter) Source() crawler.Source { return crawler.SourceQiita }

// DefaultPageSize is the configured page size.
func (a *Adapter) DefaultPageSize() int { return a.cfg.PageSize }

// FetchPage requests the stock page addressed by cursor. Start means page 1
// of the configured size.
func (a *Adapter) FetchPage(ctx context.Context, cursor pager.Cursor) (pager.Page[Item], error) {
	cursor = pager.FirstCounter(cursor, a.cfg.PageSize)
	if cursor.Kind() != pager.KindCounter {
		return pager.Page[Item]{}, crawler.NewFault(crawler.ErrConfig, crawler.SourceQiita, "stocks",
			fmt.Errorf("unsupported cursor %s", cursor))
	}

	query := url.Values{}
	query.Set("page", strconv.Itoa(cursor.Page()))
	query.Set("per_page", strconv.Itoa(cursor.Size()))
	target, err := crawler.BuildURL(a.cfg.BaseURL, query, "api/v2/users", a.cfg.UserID, "stocks")
	if err != nil {
		return pager.Page[Item]{}, crawler.NewFault(crawler.ErrConfig, crawler.SourceQiita, "stocks", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+a.cfg.AccessToken)
	headers.Set("Accept", "application/json")

	var items []Item
	if err := crawler.FetchJSON(ctx, a.fetcher, crawler.SourceQiita, "stocks",
		crawler.FetchRequest{URL: target, Headers: headers}, &items); err != nil {
		return pager.Page[Item]{}, err
	}
	a.logger.Debug("qiita page fetched",
		zap.Int("page", cursor.Page()),
		zap.Int("items", len(items)),
	)
	return pager.Page[Item]{Items: items, Next: pager.CounterNext(cursor, len(items))}, nil
}

// Normalize maps an article into a Record stamped with crawledAt.
func (a *Adapter) Normalize(item Item, crawledAt string) (crawler.Record, error) {
	created, err := a.normalizer.Offset(item.CreatedAt)
	if err != nil {
		return crawler.Record{}, crawler.NewFault(crawler.ErrTimeParse, crawler.SourceQiita, "normalize "+item.ID, err)
	}
	author := strings.TrimSpace(item.User.Name)
	if author == "" {
		author = item.User.ID
	}
	return crawler.Record{
		ID:        item.ID,
		Title:     item.Title,
		Author:    author,
		Source:    crawler.SourceQiita,
		URL:       item.URL,
		Summary:   Excerpt(item.RenderedBody, a.cfg.SummaryLength),
		CreatedAt: created,
		CrawledAt: crawledAt,
	}, nil
}

// Records pages through every stock, newest first.
func (a *Adapter) Records(ctx context.Context, pageSize int, crawledAt string) iter.Seq2[crawler.Record, error] {
	if pageSize <= 0 {
		pageSize = a.cfg.PageSize
	}
	items := pager.Items(ctx, pager.Counter(1, pageSize), a.FetchPage)
	return pager.Map(items, func(item Item) (crawler.Record, error) {
		return a.Normalize(item, crawledAt)
	})
}

// Excerpt returns the first limit runes of the visible text in an HTML fragment.
func Excerpt(html string, limit int) string {
	if limit <= 0 || strings.TrimSpace(html) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	text := strings.Join(strings.Fields(doc.Text()), " ")
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return strings.TrimSpace(string(runes[:limit]))
}
