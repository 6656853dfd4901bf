// Package crawler defines core types shared across subsystems.
package crawler

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Source is the closed set of platforms the crawler knows how to read.
type Source string

// Supported sources. The string value doubles as the media tag stored on records.
const (
	SourceQiita   Source = "qiita"
	SourceYouTube Source = "youtube"
	SourceTwitter Source = "twitter"
)

// Sources returns every known source in a stable order.
func Sources() []Source {
	return []Source{SourceQiita, SourceYouTube, SourceTwitter}
}

// ParseSource resolves a user-supplied name into a Source.
func ParseSource(name string) (Source, error) {
	switch src := Source(strings.ToLower(strings.TrimSpace(name))); src {
	case SourceQiita, SourceYouTube, SourceTwitter:
		return src, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSource, name)
	}
}

// String implements fmt.Stringer.
func (s Source) String() string {
	return string(s)
}

// Mode describes which orchestrator entry point produced a Result.
type Mode string

// Crawl modes.
const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
	ModeLatest      Mode = "latest"
)

// ParseMode resolves a crawl mode name; an empty name means full.
func ParseMode(name string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(name))); m {
	case "":
		return ModeFull, nil
	case ModeFull, ModeIncremental:
		return m, nil
	default:
		return "", fmt.Errorf("unknown crawl mode %q", name)
	}
}

// Record is the normalized, source-tagged content item produced by a crawl.
type Record struct {
	ID        string `json:"id" yaml:"id"`
	Title     string `json:"title" yaml:"title"`
	Author    string `json:"author" yaml:"author"`
	Source    Source `json:"source" yaml:"source"`
	URL       string `json:"url" yaml:"url"`
	Summary   string `json:"summary" yaml:"summary"`
	CreatedAt string `json:"created_at" yaml:"created_at"`
	CrawledAt string `json:"crawled_at" yaml:"crawled_at"`
}

// Key returns the stable (source, id) identity of the record.
func (r Record) Key() string {
	return string(r.Source) + "/" + r.ID
}

// Equal reports full field equality.
func (r Record) Equal(other Record) bool {
	return r == other
}

// SameContent reports equality on every field except CrawledAt. Two crawls of
// the same item never share a crawl timestamp, so watermark matching uses this.
func (r Record) SameContent(other Record) bool {
	other.CrawledAt = r.CrawledAt
	return r == other
}

// Result is returned by the orchestrator for one source.
type Result struct {
	CrawlID   string   `json:"crawl_id"`
	Source    Source   `json:"source"`
	Mode      Mode     `json:"mode"`
	CrawledAt string   `json:"crawled_at"`
	Records   []Record `json:"records"`
	// Pages counts page requests issued against the source.
	Pages int `json:"pages"`
	// WatermarkFound is only meaningful for incremental crawls. False means the
	// whole history was scanned without meeting the stored watermark.
	WatermarkFound bool `json:"watermark_found"`
}

// FetchRequest captures everything needed to fetch one API page.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}
