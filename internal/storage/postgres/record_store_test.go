package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/content-crawler/internal/crawler"
)

var columns = []string{"source", "id", "title", "author", "url", "summary", "created_at", "crawled_at"}

func sampleRecord(id string) crawler.Record {
	return crawler.Record{
		ID:        id,
		Title:     "title " + id,
		Author:    "ann",
		Source:    crawler.SourceTwitter,
		URL:       "https://twitter.com/ann/status/" + id,
		Summary:   "text " + id,
		CreatedAt: "2024-03-01 12:00:00",
		CrawledAt: "2024-04-01 00:00:00",
	}
}

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *RecordStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewRecordStoreWithPool(mock, "")
	require.NoError(t, err)
	return mock, store
}

func TestStoreBatchUpsertsInTransaction(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	recs := []crawler.Record{sampleRecord("1"), sampleRecord("2")}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT nextval\('records_batch_seq'\)`).
		WillReturnRows(pgxmock.NewRows([]string{"nextval"}).AddRow(int64(7)))
	for i, rec := range recs {
		mock.ExpectExec("INSERT INTO records").
			WithArgs("twitter", rec.ID, rec.Title, rec.Author, rec.URL, rec.Summary, rec.CreatedAt, rec.CrawledAt, int64(7), i).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	require.NoError(t, store.StoreBatch(context.Background(), recs))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreBatchRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT nextval`).
		WillReturnRows(pgxmock.NewRows([]string{"nextval"}).AddRow(int64(1)))
	anyArgs := make([]any, 10)
	for i := range anyArgs {
		anyArgs[i] = pgxmock.AnyArg()
	}
	mock.ExpectExec("INSERT INTO records").
		WithArgs(anyArgs...).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.StoreBatch(context.Background(), []crawler.Record{sampleRecord("1"), sampleRecord("2")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "twitter/1")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreBatchEmptyIsNoop(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	require.NoError(t, store.StoreBatch(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestRecord(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	want := sampleRecord("9")

	mock.ExpectQuery(`SELECT (.+) FROM records\s+WHERE source = \$1\s+ORDER BY batch_seq DESC, batch_pos ASC`).
		WithArgs("twitter").
		WillReturnRows(pgxmock.NewRows(columns).AddRow(
			"twitter", want.ID, want.Title, want.Author, want.URL, want.Summary, want.CreatedAt, want.CrawledAt,
		))

	got, err := store.LatestRecord(context.Background(), crawler.SourceTwitter)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestRecordNotFound(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM records").
		WithArgs("qiita").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.LatestRecord(context.Background(), crawler.SourceQiita)
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScan(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	a, b := sampleRecord("2"), sampleRecord("1")

	mock.ExpectQuery("SELECT (.+) FROM records").
		WithArgs("").
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow("twitter", a.ID, a.Title, a.Author, a.URL, a.Summary, a.CreatedAt, a.CrawledAt).
			AddRow("twitter", b.ID, b.Title, b.Author, b.URL, b.Summary, b.CreatedAt, b.CrawledAt))

	got, err := store.Scan(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []crawler.Record{a, b}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectExec(`(?s)CREATE SEQUENCE IF NOT EXISTS records_batch_seq.*CREATE TABLE IF NOT EXISTS records.*ADD COLUMN IF NOT EXISTS batch_pos`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRecordStoreWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRecordStoreWithPool(nil, "records")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewRecordStoreWithPool(mock, "records; DROP TABLE x")
	require.Error(t, err)
}

func TestStoreBatchSequenceFailureRollsBack(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT nextval`).WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()

	err := store.StoreBatch(context.Background(), []crawler.Record{sampleRecord("1")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "next batch")
	require.NoError(t, mock.ExpectationsWereMet())
}
