// Package twitter reads the tweets a user has liked. Pages are token based
// and every tweet is joined to its author through the page's user expansion.
package twitter

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/content-crawler/internal/crawler"
	"github.com/JakeFAU/content-crawler/internal/pager"
	"github.com/JakeFAU/content-crawler/internal/timestamp"
)

const (
	// DefaultBaseURL is the v2 API host.
	DefaultBaseURL = "https://api.twitter.com"
	// MinPageSize and MaxPageSize bound max_results on liked_tweets.
	MinPageSize = 10
	MaxPageSize = 100

	statusURL = "https://twitter.com/%s/status/%s"
)

// Config holds the settings for one account.
type Config struct {
	BaseURL     string
	UserID      string
	BearerToken string
	PageSize    int
}

// Validate reports missing settings as a config fault.
func (c Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.UserID) == "" {
		missing = append(missing, "user_id")
	}
	if strings.TrimSpace(c.BearerToken) == "" {
		missing = append(missing, "bearer_token")
	}
	if c.PageSize <= 0 {
		missing = append(missing, "page_size")
	}
	if len(missing) > 0 {
		return crawler.NewFault(crawler.ErrConfig, crawler.SourceTwitter, "validate",
			fmt.Errorf("missing %s", strings.Join(missing, ", ")))
	}
	return nil
}

// Tweet is one liked tweet.
type Tweet struct {
	ID        string `json:"id"`
	AuthorID  string `json:"author_id"`
	CreatedAt string `json:"created_at"`
	Text      string `json:"text"`
}

// User is an entry of the user expansion.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

type likedResponse struct {
	Data     []Tweet `json:"data"`
	Includes struct {
		Users []User `json:"users"`
	} `json:"includes"`
	Meta struct {
		ResultCount int     `json:"result_count"`
		NextToken   *string `json:"next_token"`
	} `json:"meta"`
}

// Joined is a tweet paired with its resolved author.
type Joined struct {
	Tweet  Tweet
	Author User
}

// Adapter implements the joined token-paged source.
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
func (a *Adapter) Source() crawler.Source { return crawler.SourceTwitter }

// DefaultPageSize is the configured max_results.
func (a *Adapter) DefaultPageSize() int { return a.cfg.PageSize }

// FetchPage requests one page of liked tweets and resolves every author. A
// tweet whose author is missing from the expansion fails the whole page.
func (a *Adapter) FetchPage(ctx context.Context, pageSize int, cursor pager.Cursor) (pager.Page[Joined], error) {
	const op = "liked tweets"

	query := url.Values{}
	query.Set("expansions", "author_id")
	query.Set("tweet.fields", "created_at")
	query.Set("max_results", strconv.Itoa(clampPageSize(pageSize)))
	switch cursor.Kind() {
	case pager.KindStart:
	case pager.KindToken:
		query.Set("pagination_token", cursor.Token())
	default:
		return pager.Page[Joined]{}, crawler.NewFault(crawler.ErrConfig, crawler.SourceTwitter, op,
			fmt.Errorf("unsupported cursor %s", cursor))
	}
	target, err := crawler.BuildURL(a.cfg.BaseURL, query, "2/users", a.cfg.UserID, "liked_tweets")
	if err != nil {
		return pager.Page[Joined]{}, crawler.NewFault(crawler.ErrConfig, crawler.SourceTwitter, op, err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+a.cfg.BearerToken)

	var resp likedResponse
	if err := crawler.FetchJSON(ctx, a.fetcher, crawler.SourceTwitter, op,
		crawler.FetchRequest{URL: target, Headers: headers}, &resp); err != nil {
		return pager.Page[Joined]{}, err
	}

	users := make(map[string]User, len(resp.Includes.Users))
	for _, u := range resp.Includes.Users {
		users[u.ID] = u
	}
	joined := make([]Joined, 0, len(resp.Data))
	for _, tweet := range resp.Data {
		author, ok := users[tweet.AuthorID]
		if !ok {
			return pager.Page[Joined]{}, crawler.NewFault(crawler.ErrLookup, crawler.SourceTwitter, op,
				fmt.Errorf("author %q of tweet %s not in includes.users", tweet.AuthorID, tweet.ID))
		}
		joined = append(joined, Joined{Tweet: tweet, Author: author})
	}

	a.logger.Debug("twitter page fetched",
		zap.Int("items", len(joined)),
		zap.Int("result_count", resp.Meta.ResultCount),
	)
	return pager.Page[Joined]{Items: joined, Next: pager.TokenNext(resp.Meta.NextToken)}, nil
}

// Normalize maps a joined tweet into a Record. Tweets have no title or
// summary of their own; the text fills both.
func (a *Adapter) Normalize(j Joined, crawledAt string) (crawler.Record, error) {
	created, err := a.normalizer.ZuluMillis(j.Tweet.CreatedAt)
	if err != nil {
		return crawler.Record{}, crawler.NewFault(crawler.ErrTimeParse, crawler.SourceTwitter, "normalize "+j.Tweet.ID, err)
	}
	return crawler.Record{
		ID:        j.Tweet.ID,
		Title:     j.Tweet.Text,
		Author:    j.Author.Username,
		Source:    crawler.SourceTwitter,
		URL:       fmt.Sprintf(statusURL, url.PathEscape(j.Author.Username), url.PathEscape(j.Tweet.ID)),
		Summary:   j.Tweet.Text,
		CreatedAt: created,
		CrawledAt: crawledAt,
	}, nil
}

// Records pages through every liked tweet, most recently liked first.
func (a *Adapter) Records(ctx context.Context, pageSize int, crawledAt string) iter.Seq2[crawler.Record, error] {
	if pageSize <= 0 {
		pageSize = a.cfg.PageSize
	}
	fetch := func(ctx context.Context, cursor pager.Cursor) (pager.Page[Joined], error) {
		return a.FetchPage(ctx, pageSize, cursor)
	}
	return pager.Map(pager.Items(ctx, pager.Start(), fetch), func(j Joined) (crawler.Record, error) {
		return a.Normalize(j, crawledAt)
	})
}

func clampPageSize(n int) int {
	switch {
	case n < MinPageSize:
		return MinPageSize
	case n > MaxPageSize:
		return MaxPageSize
	default:
		return n
	}
}
