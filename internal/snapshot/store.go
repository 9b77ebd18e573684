// Package snapshot persists the full reconciled dataset as a single columnar
// Parquet file. The file is read once at pipeline start and rewritten once at
// pipeline end; a write always goes to a temporary file in the same directory
// first and is renamed into place, so a crash mid-write never leaves a
// truncated or corrupt snapshot.
package snapshot

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"bondpulse/pkg/contracts/domain"
)

// row is the on-disk representation of a RunRecord. Dates are stored in the
// canonical calendar-date form so the snapshot stays portable across tools.
type row struct {
	ObsDate    string   `parquet:"obs_date"`
	ObsTime    string   `parquet:"obs_time,optional"`
	Security   string   `parquet:"security"`
	CUSIP      string   `parquet:"cusip"`
	Dealer     string   `parquet:"dealer"`
	BidPrice   *float64 `parquet:"bid_price,optional"`
	AskPrice   *float64 `parquet:"ask_price,optional"`
	BidSize    *float64 `parquet:"bid_size,optional"`
	AskSize    *float64 `parquet:"ask_size,optional"`
	BidSpread  *float64 `parquet:"bid_spread,optional"`
	SourceFile string   `parquet:"source_file,optional"`
}

// Store reads and writes the persisted snapshot at a fixed path.
type Store struct {
	path   string
	logger *slog.Logger
}

// NewStore creates a snapshot store for the given file path.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

// Path returns the snapshot file path.
func (s *Store) Path() string {
	return s.path
}

// Read loads the persisted snapshot. A missing file is not an error: it
// yields an empty dataset, the state before the first ever pipeline run.
func (s *Store) Read() ([]domain.RunRecord, error) {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		s.logger.Info("no existing snapshot, starting empty",
			slog.String("path", s.path))
		return nil, nil
	}

	rows, err := parquet.ReadFile[row](s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", s.path, err)
	}

	records := make([]domain.RunRecord, 0, len(rows))
	for _, r := range rows {
		record, err := r.toRecord()
		if err != nil {
			return nil, fmt.Errorf("corrupt snapshot %s: %w", s.path, err)
		}
		records = append(records, record)
	}

	s.logger.Info("loaded snapshot",
		slog.String("path", s.path),
		slog.Int("records", len(records)))
	return records, nil
}

// Write atomically replaces the snapshot with the given dataset.
func (s *Store) Write(records []domain.RunRecord) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	rows := make([]row, len(records))
	for i, record := range records {
		rows[i] = fromRecord(record)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.parquet")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	if err := parquet.WriteFile(tmpPath, rows); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}

	s.logger.Info("wrote snapshot",
		slog.String("path", s.path),
		slog.Int("records", len(records)))
	return nil
}

// toRecord converts an on-disk row back to the domain record.
func (r row) toRecord() (domain.RunRecord, error) {
	var date time.Time
	if r.ObsDate != "" {
		parsed, err := time.Parse(domain.DateLayout, r.ObsDate)
		if err != nil {
			return domain.RunRecord{}, fmt.Errorf("bad obs_date %q: %w", r.ObsDate, err)
		}
		date = parsed
	}
	return domain.RunRecord{
		ObservationDate: date,
		ObservationTime: r.ObsTime,
		Security:        r.Security,
		CUSIP:           r.CUSIP,
		Dealer:          r.Dealer,
		BidPrice:        r.BidPrice,
		AskPrice:        r.AskPrice,
		BidSize:         r.BidSize,
		AskSize:         r.AskSize,
		BidSpread:       r.BidSpread,
		SourceFile:      r.SourceFile,
	}, nil
}

// fromRecord converts a domain record to its on-disk representation.
func fromRecord(record domain.RunRecord) row {
	obsDate := ""
	if record.HasDate() {
		obsDate = record.ObservationDate.Format(domain.DateLayout)
	}
	return row{
		ObsDate:    obsDate,
		ObsTime:    record.ObservationTime,
		Security:   record.Security,
		CUSIP:      record.CUSIP,
		Dealer:     record.Dealer,
		BidPrice:   record.BidPrice,
		AskPrice:   record.AskPrice,
		BidSize:    record.BidSize,
		AskSize:    record.AskSize,
		BidSpread:  record.BidSpread,
		SourceFile: record.SourceFile,
	}
}
