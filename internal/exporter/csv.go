// Package exporter writes datasets to CSV for the dashboard's export action.
package exporter

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"bondpulse/pkg/contracts/domain"
)

// CSVWriter provides CSV export functionality.
type CSVWriter struct {
	logger *slog.Logger
}

// NewCSVWriter creates a new CSV writer instance.
func NewCSVWriter(logger *slog.Logger) *CSVWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVWriter{logger: logger}
}

// WriteOptions configures CSV writing behavior.
type WriteOptions struct {
	Headers   []string
	Records   [][]string
	BOMPrefix bool // add UTF-8 BOM for Excel compatibility
}

// WriteCSV writes data to a CSV file with the given options.
func (w *CSVWriter) WriteCSV(filePath string, options WriteOptions) error {
	w.logger.Info("writing CSV file",
		slog.String("path", filePath),
		slog.Int("record_count", len(options.Records)))

	if dir := filepath.Dir(filePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	if options.BOMPrefix {
		if _, err := file.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
			return fmt.Errorf("failed to write BOM: %w", err)
		}
	}

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if len(options.Headers) > 0 {
		if err := writer.Write(options.Headers); err != nil {
			return fmt.Errorf("failed to write headers: %w", err)
		}
	}

	for i, record := range options.Records {
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}

	return writer.Error()
}

// WriteDataset exports a dataset (typically the result of a dashboard filter)
// with the canonical display headers.
func (w *CSVWriter) WriteDataset(filePath string, records []domain.RunRecord) error {
	rows := make([][]string, 0, len(records))
	for _, record := range records {
		rows = append(rows, recordToCSVRow(record))
	}
	return w.WriteCSV(filePath, WriteOptions{
		Headers:   domain.Headers(),
		Records:   rows,
		BOMPrefix: true,
	})
}

// recordToCSVRow converts a run record to a CSV row aligned with
// domain.Headers().
func recordToCSVRow(record domain.RunRecord) []string {
	date := ""
	if record.HasDate() {
		date = record.ObservationDate.Format(domain.DateLayout)
	}
	return []string{
		date,
		record.ObservationTime,
		record.Security,
		record.CUSIP,
		record.Dealer,
		formatFloatPtr(record.BidPrice),
		formatFloatPtr(record.AskPrice),
		formatFloatPtr(record.BidSize),
		formatFloatPtr(record.AskSize),
		formatFloatPtr(record.BidSpread),
		record.SourceFile,
	}
}

// formatFloatPtr formats an optional numeric for CSV output; absent values
// become empty cells, never a NaN sentinel.
func formatFloatPtr(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
