// Package pipeline orchestrates one reconciliation run: discover extracts,
// normalize, clean, deduplicate, merge with the persisted snapshot, rewrite
// the snapshot, and sync the result to the hosted store.
//
// A run is single-threaded and run-to-completion. At most one run may execute
// against a given snapshot at a time; concurrent runs require external mutual
// exclusion (for example a run lock), which is a documented precondition of
// this package, not something it enforces.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"bondpulse/internal/cleaner"
	"bondpulse/internal/config"
	"bondpulse/internal/dedup"
	"bondpulse/internal/files"
	"bondpulse/internal/normalizer"
	"bondpulse/internal/snapshot"
	"bondpulse/pkg/contracts/domain"
)

// Uploader pushes a merged dataset to the external store. It is satisfied by
// *storesync.Syncer; a nil Uploader disables the sync stage.
type Uploader interface {
	Sync(ctx context.Context, records []domain.RunRecord) (int, error)
}

// Summary is the structured end-of-run report. It is produced regardless of
// outcome so that every run can answer how many rows came in, how many were
// removed and why, and how far the run got before failing.
type Summary struct {
	FilesDiscovered int               `json:"files_discovered"`
	FilesProcessed  int               `json:"files_processed"`
	FilesFailed     int               `json:"files_failed"`
	RowsParsed      int               `json:"rows_parsed"`
	RowsDropped     cleaner.DropStats `json:"rows_dropped"`
	InvalidDates    int               `json:"invalid_dates"`
	MalformedTimes  int               `json:"malformed_times"`
	BatchRows       int               `json:"batch_rows"`    // deduplicated incoming batch
	SnapshotRows    int               `json:"snapshot_rows"` // merged snapshot size
	RowsUploaded    int               `json:"rows_uploaded"`
	Duration        time.Duration     `json:"duration"`
}

// Pipeline wires the ETL stages together for one run.
type Pipeline struct {
	cfg        *config.Config
	logger     *slog.Logger
	discovery  *files.Discovery
	normalizer *normalizer.Normalizer
	cleaner    *cleaner.Cleaner
	store      *snapshot.Store
	uploader   Uploader
}

// New creates a pipeline from explicit configuration and a run-scoped logger.
// uploader may be nil, in which case the store sync stage is skipped.
func New(cfg *config.Config, logger *slog.Logger, uploader Uploader) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:        cfg,
		logger:     logger,
		discovery:  files.NewDiscovery(cfg.Input.Dir),
		normalizer: normalizer.New(logger),
		cleaner:    cleaner.New(logger),
		store:      snapshot.NewStore(cfg.Snapshot.Path, logger),
		uploader:   uploader,
	}
}

// Run executes one reconciliation run. The returned Summary is never nil; on
// error it reflects how far the run progressed. A single unreadable extract
// is logged and skipped; snapshot I/O failures, schema mismatches and batch
// upload failures are fatal.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	summary := &Summary{RowsDropped: make(cleaner.DropStats)}

	finish := func(err error) (*Summary, error) {
		summary.Duration = time.Since(start)
		p.logSummary(summary, err)
		return summary, err
	}

	extracts, err := p.discovery.FindExtracts()
	if err != nil {
		return finish(fmt.Errorf("extract discovery failed: %w", err))
	}
	summary.FilesDiscovered = len(extracts)
	p.logger.Info("starting run",
		slog.Int("extracts", len(extracts)),
		slog.String("input_dir", p.cfg.Input.Dir),
		slog.String("snapshot", p.cfg.Snapshot.Path))

	var incoming []domain.RunRecord
	for _, extract := range extracts {
		result, err := p.normalizer.NormalizeFile(extract.Path)
		if err != nil {
			// One bad file must not abort the whole run.
			summary.FilesFailed++
			p.logger.Error("extract ingestion failed, skipping file",
				slog.String("file", extract.Name),
				slog.Any("error", err))
			continue
		}
		summary.FilesProcessed++
		summary.RowsParsed += len(result.Records)
		summary.InvalidDates += result.InvalidDates
		summary.MalformedTimes += result.MalformedTimes
		incoming = append(incoming, result.Records...)
	}

	cleaned, dropped := p.cleaner.Clean(incoming)
	for reason, n := range dropped {
		summary.RowsDropped[reason] += n
	}

	batch := dedup.Deduplicate(cleaned)
	summary.BatchRows = len(batch)

	previous, err := p.store.Read()
	if err != nil {
		return finish(fmt.Errorf("snapshot read failed: %w", err))
	}

	merged := dedup.Merge(previous, batch)
	summary.SnapshotRows = len(merged)

	if err := p.store.Write(merged); err != nil {
		return finish(fmt.Errorf("snapshot write failed: %w", err))
	}

	if p.uploader != nil {
		uploaded, err := p.uploader.Sync(ctx, merged)
		summary.RowsUploaded = uploaded
		if err != nil {
			return finish(fmt.Errorf("store sync failed: %w", err))
		}
	} else {
		p.logger.Info("store sync disabled, skipping upload")
	}

	return finish(nil)
}

// logSummary emits the structured end-of-run summary, on success and failure
// alike.
func (p *Pipeline) logSummary(summary *Summary, err error) {
	attrs := []any{
		slog.Int("files_discovered", summary.FilesDiscovered),
		slog.Int("files_processed", summary.FilesProcessed),
		slog.Int("files_failed", summary.FilesFailed),
		slog.Int("rows_parsed", summary.RowsParsed),
		slog.Int("rows_dropped", summary.RowsDropped.Total()),
		slog.Int("invalid_dates", summary.InvalidDates),
		slog.Int("malformed_times", summary.MalformedTimes),
		slog.Int("batch_rows", summary.BatchRows),
		slog.Int("snapshot_rows", summary.SnapshotRows),
		slog.Int("rows_uploaded", summary.RowsUploaded),
		slog.Duration("duration", summary.Duration),
	}
	for reason, n := range summary.RowsDropped {
		attrs = append(attrs, slog.Int("dropped_"+string(reason), n))
	}

	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
		p.logger.Error("run failed", attrs...)
		return
	}
	p.logger.Info("run complete", attrs...)
}
