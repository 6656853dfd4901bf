// Package sqlite provides a file-backed record store for single-node runs.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/content-crawler/internal/crawler"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	source     TEXT NOT NULL,
	id         TEXT NOT NULL,
	title      TEXT NOT NULL,
	author     TEXT NOT NULL,
	url        TEXT NOT NULL,
	summary    TEXT NOT NULL,
	created_at TEXT NOT NULL,
	crawled_at TEXT NOT NULL,
	batch_seq  INTEGER NOT NULL,
	batch_pos  INTEGER NOT NULL,
	PRIMARY KEY (source, id)
);
CREATE INDEX IF NOT EXISTS records_source_created_idx ON records (source, created_at DESC);
CREATE INDEX IF NOT EXISTS records_source_batch_idx ON records (source, batch_seq DESC, batch_pos);`

// RecordStore persists records in SQLite. Canonical timestamps sort
// lexically, so they are stored as TEXT.
type RecordStore struct {
	db *sql.DB
}

// Open opens or creates the database at path and ensures the schema exists.
// The path ":memory:" yields a private in-memory database.
func Open(ctx context.Context, path string) (*RecordStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize sqlite schema: %w", err)
	}
	return &RecordStore{db: db}, nil
}

// Close closes the database.
func (s *RecordStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// StoreBatch upserts records in a single transaction. Each call is a new
// batch; records remember their position in it so LatestRecord can return
// the head of the last batch in crawl order.
func (s *RecordStore) StoreBatch(ctx context.Context, records []crawler.Record) (err error) {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("rollback batch: %w", rbErr))
			}
		}
	}()

	var batch int64
	if err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(batch_seq), 0) + 1 FROM records`).Scan(&batch); err != nil {
		return fmt.Errorf("next batch: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO records (source, id, title, author, url, summary, created_at, crawled_at, batch_seq, batch_pos)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (source, id) DO UPDATE SET
	title = excluded.title,
	author = excluded.author,
	url = excluded.url,
	summary = excluded.summary,
	created_at = excluded.created_at,
	crawled_at = excluded.crawled_at,
	batch_seq = excluded.batch_seq,
	batch_pos = excluded.batch_pos`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, rec := range records {
		if rec.ID == "" || rec.Source == "" {
			return fmt.Errorf("record %q has no identity", rec.Key())
		}
		if _, err = stmt.ExecContext(ctx,
			string(rec.Source), rec.ID, rec.Title, rec.Author, rec.URL, rec.Summary, rec.CreatedAt, rec.CrawledAt,
			batch, i,
		); err != nil {
			return fmt.Errorf("upsert record %s: %w", rec.Key(), err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// LatestRecord returns the first record of source in the most recent batch
// that stored any record of source.
func (s *RecordStore) LatestRecord(ctx context.Context, source crawler.Source) (crawler.Record, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT source, id, title, author, url, summary, created_at, crawled_at
FROM records
WHERE source = ?
ORDER BY batch_seq DESC, batch_pos ASC
LIMIT 1`, string(source))
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return crawler.Record{}, crawler.ErrNotFound
		}
		return crawler.Record{}, fmt.Errorf("latest record for %s: %w", source, err)
	}
	return rec, nil
}

// Scan returns stored records newest first; an empty source means all sources.
func (s *RecordStore) Scan(ctx context.Context, source crawler.Source) ([]crawler.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT source, id, title, author, url, summary, created_at, crawled_at
FROM records
WHERE (? = '' OR source = ?)
ORDER BY source, created_at DESC`, string(source), string(source))
	if err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := []crawler.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (crawler.Record, error) {
	var (
		rec    crawler.Record
		source string
	)
	if err := row.Scan(&source, &rec.ID, &rec.Title, &rec.Author, &rec.URL, &rec.Summary, &rec.CreatedAt, &rec.CrawledAt); err != nil {
		return crawler.Record{}, err
	}
	rec.Source = crawler.Source(source)
	return rec, nil
}
