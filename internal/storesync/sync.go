// Package storesync pushes the merged dataset to the hosted relational store
// as an idempotent upsert keyed by the natural key. Batches are issued one at
// a time, in order, each a blocking call with its own timeout; a failed batch
// aborts the run with enough detail to identify the offending rows. A
// partial, unflagged load is worse than a hard stop for a financial dataset.
package storesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/time/rate"

	"bondpulse/internal/config"
	"bondpulse/pkg/contracts/domain"
)

// ErrSchemaMismatch indicates the local column set and the target table
// schema disagree. This is a fatal precondition failure: nothing is uploaded.
var ErrSchemaMismatch = errors.New("store schema mismatch")

// keyColumns are the natural-key columns the upsert conflicts on.
var keyColumns = []string{"obs_date", "cusip", "dealer"}

// BatchError reports a failed upload batch with its position in the run and
// a sample record, enabling a targeted retry after the defect is fixed.
type BatchError struct {
	Batch  int // zero-based batch index
	Start  int // index of the first record in the batch
	End    int // index one past the last record in the batch
	Sample domain.RunRecord
	Err    error
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	return fmt.Sprintf("upload batch %d (rows %d-%d) failed, sample key (%s, %s, %s): %v",
		e.Batch, e.Start, e.End-1,
		e.Sample.ObservationDate.Format(domain.DateLayout), e.Sample.CUSIP, e.Sample.Dealer,
		e.Err)
}

// Unwrap returns the underlying store error.
func (e *BatchError) Unwrap() error {
	return e.Err
}

// Pool is the slice of connection-pool behavior the syncer depends on. It is
// satisfied by *pgxpool.Pool.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Syncer uploads datasets to one target table.
type Syncer struct {
	pool      Pool
	table     string
	batchSize int
	timeout   time.Duration
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// New creates a Syncer for the configured store. The batch pause is enforced
// through a rate limiter so uploads respect the store's rate limits.
func New(pool Pool, cfg config.StoreConfig, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	var limiter *rate.Limiter
	if cfg.BatchPause > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.BatchPause), 1)
	}
	return &Syncer{
		pool:      pool,
		table:     cfg.Table,
		batchSize: cfg.BatchSize,
		timeout:   cfg.BatchTimeout,
		limiter:   limiter,
		logger:    logger,
	}
}

// Sync upserts all records into the target table and returns the number of
// rows uploaded. The schema is reconciled before the first batch; on a batch
// failure, no later batch is attempted.
func (s *Syncer) Sync(ctx context.Context, records []domain.RunRecord) (int, error) {
	if err := s.reconcileSchema(ctx); err != nil {
		return 0, err
	}
	if len(records) == 0 {
		s.logger.Info("nothing to upload", slog.String("table", s.table))
		return 0, nil
	}

	sql := upsertSQL(s.table)
	totalBatches := (len(records) + s.batchSize - 1) / s.batchSize
	uploaded := 0

	for start := 0; start < len(records); start += s.batchSize {
		end := start + s.batchSize
		if end > len(records) {
			end = len(records)
		}
		batchIndex := start / s.batchSize

		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return uploaded, fmt.Errorf("batch pacing interrupted: %w", err)
			}
		}

		if err := s.uploadBatch(ctx, sql, records[start:end]); err != nil {
			return uploaded, &BatchError{
				Batch:  batchIndex,
				Start:  start,
				End:    end,
				Sample: records[start],
				Err:    err,
			}
		}
		uploaded += end - start

		s.logger.Debug("uploaded batch",
			slog.String("table", s.table),
			slog.Int("batch", batchIndex+1),
			slog.Int("batches", totalBatches),
			slog.Int("rows", end-start))
	}

	s.logger.Info("store sync complete",
		slog.String("table", s.table),
		slog.Int("rows", uploaded),
		slog.Int("batches", totalBatches))
	return uploaded, nil
}

// uploadBatch issues one batch of upserts over a single round trip.
func (s *Syncer) uploadBatch(ctx context.Context, sql string, records []domain.RunRecord) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	batch := &pgx.Batch{}
	for _, record := range records {
		batch.Queue(sql, upsertArgs(record)...)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range records {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return results.Close()
}

// reconcileSchema compares the canonical column set against the target
// table's columns. A column present on one side but absent on the other is a
// fatal precondition failure; uploading partial or garbage columns is never
// acceptable.
func (s *Syncer) reconcileSchema(ctx context.Context) error {
	rows, err := s.pool.Query(ctx,
		`SELECT column_name FROM information_schema.columns
		 WHERE table_schema = current_schema() AND table_name = $1`, s.table)
	if err != nil {
		return fmt.Errorf("failed to inspect store schema: %w", err)
	}
	defer rows.Close()

	remote := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("failed to inspect store schema: %w", err)
		}
		remote[name] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to inspect store schema: %w", err)
	}

	if len(remote) == 0 {
		return fmt.Errorf("%w: table %q not found", ErrSchemaMismatch, s.table)
	}

	missing, unexpected := diffColumns(domain.Columns(), remote)
	if len(missing) > 0 || len(unexpected) > 0 {
		return fmt.Errorf("%w: table %q missing columns %v, unexpected columns %v",
			ErrSchemaMismatch, s.table, missing, unexpected)
	}
	return nil
}

// diffColumns returns local columns absent from the remote set and remote
// columns absent from the local set, both sorted for stable error messages.
func diffColumns(local []string, remote map[string]bool) (missing, unexpected []string) {
	localSet := make(map[string]bool, len(local))
	for _, col := range local {
		localSet[col] = true
		if !remote[col] {
			missing = append(missing, col)
		}
	}
	for col := range remote {
		if !localSet[col] {
			unexpected = append(unexpected, col)
		}
	}
	sort.Strings(missing)
	sort.Strings(unexpected)
	return missing, unexpected
}

// upsertSQL builds the insert-or-update statement for the target table. Every
// non-key column is replaced on conflict: a later record with the same key
// entirely supersedes the stored one.
func upsertSQL(table string) string {
	cols := domain.Columns()

	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	keySet := make(map[string]bool, len(keyColumns))
	for _, col := range keyColumns {
		keySet[col] = true
	}
	var updates []string
	for _, col := range cols {
		if !keySet[col] {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		}
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		pgx.Identifier{table}.Sanitize(),
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(keyColumns, ", "),
		strings.Join(updates, ", "),
	)
}

// upsertArgs converts a record to positional arguments aligned with
// domain.Columns().
func upsertArgs(record domain.RunRecord) []any {
	return []any{
		record.ObservationDate.Format(domain.DateLayout),
		nullString(record.ObservationTime),
		record.Security,
		record.CUSIP,
		record.Dealer,
		nullFloat(record.BidPrice),
		nullFloat(record.AskPrice),
		nullFloat(record.BidSize),
		nullFloat(record.AskSize),
		nullFloat(record.BidSpread),
		record.SourceFile,
	}
}

// nullFloat maps an absent or NaN numeric to SQL NULL. NaN sentinels are
// never sent to the store.
func nullFloat(v *float64) any {
	if v == nil || math.IsNaN(*v) {
		return nil
	}
	return *v
}

// nullString maps an empty string to SQL NULL.
func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
