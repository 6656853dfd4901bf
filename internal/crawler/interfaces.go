package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// RecordStore persists records and answers watermark lookups.
type RecordStore interface {
	// StoreBatch writes records, replacing rows that share (source, id).
	StoreBatch(ctx context.Context, records []Record) error
	// LatestRecord returns the newest stored record for a source or ErrNotFound.
	LatestRecord(ctx context.Context, source Source) (Record, error)
	// Scan returns stored records, optionally restricted to one source.
	Scan(ctx context.Context, source Source) ([]Record, error)
	Close() error
}

// BlobStore writes export artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes sync notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces crawl IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
