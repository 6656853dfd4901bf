package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/content-crawler/internal/crawler"
)

// RecordStore keeps records keyed by (source, id).
type RecordStore struct {
	mu      sync.RWMutex
	records map[string]stored
	batches int64
}

// stored remembers which batch last wrote a record and where it sat in it.
type stored struct {
	rec   crawler.Record
	batch int64
	pos   int
}

// NewRecordStore constructs an empty RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[string]stored)}
}

// StoreBatch upserts records. Either every record is stored or none is.
func (s *RecordStore) StoreBatch(_ context.Context, records []crawler.Record) error {
	for _, rec := range records {
		if rec.ID == "" || rec.Source == "" {
			return fmt.Errorf("record %q has no identity", rec.Key())
		}
	}
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches++
	for i, rec := range records {
		s.records[rec.Key()] = stored{rec: rec, batch: s.batches, pos: i}
	}
	return nil
}

// LatestRecord returns the first record of source in the most recent batch
// that stored any record of source.
func (s *RecordStore) LatestRecord(_ context.Context, source crawler.Source) (crawler.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		head  stored
		found bool
	)
	for _, st := range s.records {
		if st.rec.Source != source {
			continue
		}
		if !found || st.batch > head.batch || (st.batch == head.batch && st.pos < head.pos) {
			head, found = st, true
		}
	}
	if !found {
		return crawler.Record{}, crawler.ErrNotFound
	}
	return head.rec, nil
}

// Scan returns records newest first, grouped by source; an empty source means all.
func (s *RecordStore) Scan(_ context.Context, source crawler.Source) ([]crawler.Record, error) {
	s.mu.RLock()
	out := make([]crawler.Record, 0, len(s.records))
	for _, st := range s.records {
		if source == "" || st.rec.Source == source {
			out = append(out, st.rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt > b.CreatedAt
		}
		if a.CrawledAt != b.CrawledAt {
			return a.CrawledAt > b.CrawledAt
		}
		return a.ID < b.ID
	})
	return out, nil
}

// Close is a no-op.
func (s *RecordStore) Close() error { return nil }

