package storesync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bondpulse/internal/config"
	"bondpulse/pkg/contracts/domain"
)

func f64(v float64) *float64 {
	return &v
}

// fakePool stands in for the pgx pool: the schema query reports the columns
// scripted on it, and batch sends are recorded so tests can assert exactly
// which batches were attempted.
type fakePool struct {
	remoteColumns []string
	queries       int
	batches       []*pgx.Batch
	failBatch     int // zero-based index of the batch whose exec fails
	failErr       error
}

func newFakePool() *fakePool {
	return &fakePool{remoteColumns: domain.Columns(), failBatch: -1}
}

func (f *fakePool) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	f.queries++
	return &fakeRows{values: f.remoteColumns}, nil
}

func (f *fakePool) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	results := &fakeBatchResults{}
	if len(f.batches) == f.failBatch {
		results.err = f.failErr
	}
	f.batches = append(f.batches, b)
	return results
}

type fakeRows struct {
	values []string
	pos    int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.values) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	*(dest[0].(*string)) = r.values[r.pos-1]
	return nil
}

type fakeBatchResults struct {
	err error
}

func (b *fakeBatchResults) Exec() (pgconn.CommandTag, error) { return pgconn.CommandTag{}, b.err }
func (b *fakeBatchResults) Query() (pgx.Rows, error)         { return nil, b.err }
func (b *fakeBatchResults) QueryRow() pgx.Row                { return nil }
func (b *fakeBatchResults) Close() error                     { return nil }

func testSyncer(pool Pool, batchSize int) *Syncer {
	return New(pool, config.StoreConfig{
		Table:        "bond_runs",
		BatchSize:    batchSize,
		BatchPause:   time.Millisecond,
		BatchTimeout: time.Second,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func dataset(n int) []domain.RunRecord {
	records := make([]domain.RunRecord, n)
	for i := range records {
		records[i] = domain.RunRecord{
			ObservationDate: time.Date(2025, 5, 28, 0, 0, 0, 0, time.UTC),
			ObservationTime: "07:17",
			Security:        "FORDO 5.8 02/03/28",
			CUSIP:           fmt.Sprintf("34527AC%02d", i),
			Dealer:          "TD",
			BidSpread:       f64(85),
		}
	}
	return records
}

func TestSync_UploadsAllBatches(t *testing.T) {
	pool := newFakePool()

	uploaded, err := testSyncer(pool, 2).Sync(context.Background(), dataset(5))
	require.NoError(t, err)

	assert.Equal(t, 5, uploaded)
	require.Len(t, pool.batches, 3)
	assert.Equal(t, 2, pool.batches[0].Len())
	assert.Equal(t, 2, pool.batches[1].Len())
	assert.Equal(t, 1, pool.batches[2].Len())
}

func TestSync_FailedBatchAbortsRun(t *testing.T) {
	// 20 records in batches of 2: the third batch fails, so the first two
	// are uploaded, the failure is reported with its position and a sample
	// key, and the remaining seven batches are never sent.
	cause := errors.New("connection reset")
	pool := newFakePool()
	pool.failBatch = 2
	pool.failErr = cause

	records := dataset(20)
	uploaded, err := testSyncer(pool, 2).Sync(context.Background(), records)

	assert.Equal(t, 4, uploaded)
	assert.Len(t, pool.batches, 3)

	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, 2, batchErr.Batch)
	assert.Equal(t, 4, batchErr.Start)
	assert.Equal(t, 6, batchErr.End)
	assert.Equal(t, records[4], batchErr.Sample)
	assert.ErrorIs(t, err, cause)
}

func TestSync_SchemaMismatchIsFatal(t *testing.T) {
	pool := newFakePool()
	pool.remoteColumns = append([]string{"rating"}, domain.Columns()[:len(domain.Columns())-1]...)

	_, err := testSyncer(pool, 2).Sync(context.Background(), dataset(4))

	require.ErrorIs(t, err, ErrSchemaMismatch)
	assert.Contains(t, err.Error(), "source_file")
	assert.Contains(t, err.Error(), "rating")
	assert.Empty(t, pool.batches, "no batch may be sent against a mismatched schema")
}

func TestSync_MissingTableIsFatal(t *testing.T) {
	pool := newFakePool()
	pool.remoteColumns = nil

	_, err := testSyncer(pool, 2).Sync(context.Background(), dataset(1))

	require.ErrorIs(t, err, ErrSchemaMismatch)
	assert.Contains(t, err.Error(), "not found")
	assert.Empty(t, pool.batches)
}

func TestSync_EmptyDatasetOnlyReconcilesSchema(t *testing.T) {
	pool := newFakePool()

	uploaded, err := testSyncer(pool, 2).Sync(context.Background(), nil)
	require.NoError(t, err)

	assert.Zero(t, uploaded)
	assert.Equal(t, 1, pool.queries)
	assert.Empty(t, pool.batches)
}

func TestUpsertSQL(t *testing.T) {
	sql := upsertSQL("bond_runs")

	assert.Contains(t, sql, `INSERT INTO "bond_runs"`)
	assert.Contains(t, sql, "ON CONFLICT (obs_date, cusip, dealer) DO UPDATE SET")
	// Non-key columns are replaced on conflict; key columns never are.
	assert.Contains(t, sql, "bid_spread = EXCLUDED.bid_spread")
	assert.Contains(t, sql, "source_file = EXCLUDED.source_file")
	assert.NotContains(t, sql, "cusip = EXCLUDED.cusip")

	// One placeholder per canonical column.
	for i := 1; i <= len(domain.Columns()); i++ {
		assert.Contains(t, sql, "$"+strconv.Itoa(i))
	}
	assert.NotContains(t, sql, "$"+strconv.Itoa(len(domain.Columns())+1))
}

func TestUpsertArgs(t *testing.T) {
	record := domain.RunRecord{
		ObservationDate: time.Date(2025, 5, 28, 0, 0, 0, 0, time.UTC),
		ObservationTime: "07:17",
		Security:        "FORDO 5.8 02/03/28",
		CUSIP:           "34527ACL2",
		Dealer:          "TD",
		BidPrice:        f64(101.85),
		BidSpread:       f64(85),
		SourceFile:      "runs_2025-05-28.xlsx",
	}

	args := upsertArgs(record)
	require.Len(t, args, len(domain.Columns()))

	assert.Equal(t, "2025-05-28", args[0])
	assert.Equal(t, "07:17", args[1])
	assert.Equal(t, "TD", args[4])
	assert.Equal(t, 101.85, args[5])
	assert.Nil(t, args[6], "absent ask price maps to NULL")
	assert.Equal(t, 85.0, args[9])
	assert.Equal(t, "runs_2025-05-28.xlsx", args[10])
}

func TestNullFloat(t *testing.T) {
	assert.Nil(t, nullFloat(nil))
	assert.Nil(t, nullFloat(f64(math.NaN())))
	assert.Equal(t, 101.85, nullFloat(f64(101.85)))
	assert.Equal(t, 0.0, nullFloat(f64(0)))
}

func TestNullString(t *testing.T) {
	assert.Nil(t, nullString(""))
	assert.Equal(t, "07:17", nullString("07:17"))
}

func TestDiffColumns(t *testing.T) {
	t.Run("identical sets", func(t *testing.T) {
		missing, unexpected := diffColumns(
			[]string{"obs_date", "cusip"},
			map[string]bool{"obs_date": true, "cusip": true},
		)
		assert.Empty(t, missing)
		assert.Empty(t, unexpected)
	})

	t.Run("divergent sets", func(t *testing.T) {
		missing, unexpected := diffColumns(
			[]string{"obs_date", "cusip", "bid_spread"},
			map[string]bool{"obs_date": true, "rating": true, "ask_yield": true},
		)
		assert.Equal(t, []string{"bid_spread", "cusip"}, missing)
		assert.Equal(t, []string{"ask_yield", "rating"}, unexpected)
	})
}

func TestBatchError(t *testing.T) {
	cause := errors.New("connection reset")
	err := &BatchError{
		Batch: 3,
		Start: 1500,
		End:   2000,
		Sample: domain.RunRecord{
			ObservationDate: time.Date(2025, 5, 28, 0, 0, 0, 0, time.UTC),
			CUSIP:           "34527ACL2",
			Dealer:          "TD",
		},
		Err: cause,
	}

	assert.Contains(t, err.Error(), "batch 3")
	assert.Contains(t, err.Error(), "rows 1500-1999")
	assert.Contains(t, err.Error(), "34527ACL2")
	assert.Contains(t, err.Error(), "connection reset")
	assert.ErrorIs(t, err, cause)
}
