// Package postgres provides the Postgres-backed record store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/content-crawler/internal/crawler"
)

const defaultTable = "records"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for records.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the store needs.
type pool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// RecordStore persists crawled records in Postgres. Rows are keyed by
// (source, id); timestamps are stored as TIMESTAMP WITHOUT TIME ZONE.
type RecordStore struct {
	pool  pool
	table string
}

// NewRecordStore creates a Postgres-backed RecordStore using the provided config.
func NewRecordStore(ctx context.Context, cfg Config) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewRecordStoreWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRecordStoreWithPool(p pool, table string) (*RecordStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RecordStore{pool: p, table: table}, nil
}

// Migrate creates the records table and its batch sequence when missing.
func (s *RecordStore) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE SEQUENCE IF NOT EXISTS %[1]s_batch_seq;
CREATE TABLE IF NOT EXISTS %[1]s (
	source     TEXT NOT NULL,
	id         TEXT NOT NULL,
	title      TEXT NOT NULL,
	author     TEXT NOT NULL,
	url        TEXT NOT NULL,
	summary    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	crawled_at TIMESTAMP NOT NULL,
	batch_seq  BIGINT NOT NULL DEFAULT 0,
	batch_pos  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (source, id)
);
ALTER TABLE %[1]s ADD COLUMN IF NOT EXISTS batch_seq BIGINT NOT NULL DEFAULT 0;
ALTER TABLE %[1]s ADD COLUMN IF NOT EXISTS batch_pos INTEGER NOT NULL DEFAULT 0;
CREATE INDEX IF NOT EXISTS %[1]s_source_created_idx ON %[1]s (source, created_at DESC);
CREATE INDEX IF NOT EXISTS %[1]s_source_batch_idx ON %[1]s (source, batch_seq DESC, batch_pos);`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("migrate %s: %w", s.table, err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// StoreBatch upserts records in a single transaction. Each call draws a new
// batch number; records keep their position in the batch so LatestRecord can
// return the head of the last batch in crawl order.
func (s *RecordStore) StoreBatch(ctx context.Context, records []crawler.Record) (err error) {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("rollback batch: %w", rbErr))
			}
		}
	}()

	var batch int64
	if err = tx.QueryRow(ctx, fmt.Sprintf(`SELECT nextval('%s_batch_seq')`, s.table)).Scan(&batch); err != nil {
		return fmt.Errorf("next batch: %w", err)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (source, id, title, author, url, summary, created_at, crawled_at, batch_seq, batch_pos)
VALUES ($1, $2, $3, $4, $5, $6, $7::timestamp, $8::timestamp, $9, $10)
ON CONFLICT (source, id) DO UPDATE SET
	title = EXCLUDED.title,
	author = EXCLUDED.author,
	url = EXCLUDED.url,
	summary = EXCLUDED.summary,
	created_at = EXCLUDED.created_at,
	crawled_at = EXCLUDED.crawled_at,
	batch_seq = EXCLUDED.batch_seq,
	batch_pos = EXCLUDED.batch_pos`, s.table)

	for i, rec := range records {
		if rec.ID == "" || rec.Source == "" {
			return fmt.Errorf("record %q has no identity", rec.Key())
		}
		if _, err = tx.Exec(ctx, query,
			string(rec.Source),
			rec.ID,
			rec.Title,
			rec.Author,
			rec.URL,
			rec.Summary,
			rec.CreatedAt,
			rec.CrawledAt,
			batch,
			i,
		); err != nil {
			return fmt.Errorf("upsert record %s: %w", rec.Key(), err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// LatestRecord returns the first record of source in the most recent batch
// that stored any record of source.
func (s *RecordStore) LatestRecord(ctx context.Context, source crawler.Source) (crawler.Record, error) {
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE source = $1
ORDER BY batch_seq DESC, batch_pos ASC
LIMIT 1`, selectColumns, s.table)

	rec, err := scanRecord(s.pool.QueryRow(ctx, query, string(source)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Record{}, crawler.ErrNotFound
		}
		return crawler.Record{}, fmt.Errorf("latest record for %s: %w", source, err)
	}
	return rec, nil
}

// Scan returns stored records newest first; an empty source means all sources.
func (s *RecordStore) Scan(ctx context.Context, source crawler.Source) ([]crawler.Record, error) {
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE ($1 = '' OR source = $1)
ORDER BY source, created_at DESC`, selectColumns, s.table)

	rows, err := s.pool.Query(ctx, query, string(source))
	if err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	defer rows.Close()

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

const selectColumns = `source, id, title, author, url, summary,
	to_char(created_at, 'YYYY-MM-DD HH24:MI:SS'),
	to_char(crawled_at, 'YYYY-MM-DD HH24:MI:SS')`

func scanRecord(row pgx.Row) (crawler.Record, error) {
	var (
		rec    crawler.Record
		source string
	)
	if err := row.Scan(
		&source,
		&rec.ID,
		&rec.Title,
		&rec.Author,
		&rec.URL,
		&rec.Summary,
		&rec.CreatedAt,
		&rec.CrawledAt,
	); err != nil {
		return crawler.Record{}, err
	}
	rec.Source = crawler.Source(source)
	return rec, nil
}
