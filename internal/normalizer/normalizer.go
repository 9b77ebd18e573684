// Package normalizer parses raw dealer run extracts into canonical
// RunRecords. All knowledge of extract layout quirks (header variants, date
// and time formats, numeric formatting) lives here; downstream stages only
// ever see the canonical schema.
package normalizer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"bondpulse/pkg/contracts/domain"
)

// ErrMissingColumns indicates an extract lacks the minimum required column
// set. Ingestion of the whole file is aborted.
var ErrMissingColumns = errors.New("extract is missing required columns")

// dateLayouts are tried in order when parsing observation dates. A value that
// matches none of them becomes an explicit invalid marker (zero time), never
// today's date.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"1/2/06",
	"01-02-2006",
	"01-02-06",
	"2-Jan-2006",
	"2-Jan-06",
	"02-Jan-06",
	"Jan 2, 2006",
	"20060102",
}

// timeLayouts are tried in order when normalizing observation times to the
// canonical "HH:MM" form.
// Input is uppercased before matching, so lowercase meridiem variants fold
// into the PM layouts.
var timeLayouts = []string{
	"15:04",
	"15:04:05",
	"3:04 PM",
	"3:04PM",
}

// Normalizer turns one raw extract into a sequence of RunRecords.
type Normalizer struct {
	logger *slog.Logger
}

// New creates a Normalizer that logs to the given run-scoped logger.
func New(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{logger: logger}
}

// Result is the outcome of normalizing one extract.
type Result struct {
	Records []domain.RunRecord
	// MalformedTimes counts time values that could not be normalized to
	// "HH:MM". The raw value is preserved on the record for audit; it is
	// never silently dropped at this stage.
	MalformedTimes int
	// InvalidDates counts date values that could not be parsed. The
	// affected records carry a zero ObservationDate and are dropped,
	// countably, by the cleaner.
	InvalidDates int
}

// NormalizeFile reads one extract from disk and normalizes it. The source
// file's name is recorded on each record as provenance; it never influences
// the parsed observation date.
func (n *Normalizer) NormalizeFile(path string) (*Result, error) {
	var (
		grid [][]string
		err  error
	)

	// Legacy OLE .xls workbooks are rejected: excelize only reads the
	// OOXML format, so .xls deliberately falls through to the unsupported
	// branch instead of failing deep inside the reader.
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		grid, err = readExcelGrid(path)
	case ".csv":
		grid, err = readCSVGrid(path)
	default:
		return nil, fmt.Errorf("unsupported extract type %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read extract %s: %w", path, err)
	}

	return n.Normalize(grid, filepath.Base(path))
}

// Normalize converts a raw row/column grid into RunRecords. The header row is
// located by scanning for the required column set; rows above it are ignored.
func (n *Normalizer) Normalize(grid [][]string, sourceFile string) (*Result, error) {
	headerRow, columnMap, missing := findHeader(grid)
	if headerRow < 0 {
		return nil, fmt.Errorf("%w: %s (file %s)",
			ErrMissingColumns, strings.Join(missing, ", "), sourceFile)
	}

	n.logger.Debug("located header row",
		slog.String("source_file", sourceFile),
		slog.Int("header_row", headerRow),
		slog.Int("columns_mapped", len(columnMap)))

	result := &Result{}

	for i := headerRow + 1; i < len(grid); i++ {
		row := grid[i]

		getString := func(col string) string {
			if idx, ok := columnMap[col]; ok && idx < len(row) {
				return strings.TrimSpace(row[idx])
			}
			return ""
		}

		if rowEmpty(row, columnMap) {
			continue
		}

		record := domain.RunRecord{
			Security:   getString(ColSecurity),
			CUSIP:      getString(ColCUSIP),
			Dealer:     getString(ColDealer),
			BidPrice:   parseFloatPtr(getString(ColBidPrice)),
			AskPrice:   parseFloatPtr(getString(ColAskPrice)),
			BidSize:    parseFloatPtr(getString(ColBidSize)),
			AskSize:    parseFloatPtr(getString(ColAskSize)),
			BidSpread:  parseFloatPtr(getString(ColBidSpread)),
			SourceFile: sourceFile,
		}

		if raw := getString(ColDate); raw != "" {
			date, ok := parseDate(raw)
			if !ok {
				result.InvalidDates++
				n.logger.Warn("unparsable observation date",
					slog.String("source_file", sourceFile),
					slog.Int("row", i),
					slog.String("value", raw))
			}
			record.ObservationDate = date
		}

		if raw := getString(ColTime); raw != "" {
			normalized, ok := normalizeTime(raw)
			if !ok {
				result.MalformedTimes++
				n.logger.Warn("malformed observation time preserved for audit",
					slog.String("source_file", sourceFile),
					slog.Int("row", i),
					slog.String("value", raw))
			}
			record.ObservationTime = normalized
		}

		result.Records = append(result.Records, record)
	}

	n.logger.Info("normalized extract",
		slog.String("source_file", sourceFile),
		slog.Int("records", len(result.Records)),
		slog.Int("invalid_dates", result.InvalidDates),
		slog.Int("malformed_times", result.MalformedTimes))

	return result, nil
}

// findHeader scans the grid for the first row that maps every required
// column through the alias table. It returns the header row index and the
// canonical-column-to-index mapping, or -1 and the columns missing from the
// closest candidate row.
func findHeader(grid [][]string) (int, map[string]int, []string) {
	var (
		bestMissing []string
		bestCount   = -1
	)

	for i, row := range grid {
		if len(row) < 2 {
			continue
		}

		columnMap := make(map[string]int)
		for j, cell := range row {
			if canonical, ok := canonicalHeader(cell); ok {
				if _, dup := columnMap[canonical]; !dup {
					columnMap[canonical] = j
				}
			}
		}

		var missing []string
		for _, col := range requiredColumns {
			if _, ok := columnMap[col]; !ok {
				missing = append(missing, col)
			}
		}
		if len(missing) == 0 {
			return i, columnMap, nil
		}
		if found := len(requiredColumns) - len(missing); found > bestCount {
			bestCount = found
			bestMissing = missing
		}
	}

	if bestMissing == nil {
		bestMissing = append(bestMissing, requiredColumns...)
	}
	return -1, nil, bestMissing
}

// rowEmpty reports whether every mapped column in the row is blank.
func rowEmpty(row []string, columnMap map[string]int) bool {
	for _, idx := range columnMap {
		if idx < len(row) && strings.TrimSpace(row[idx]) != "" {
			return false
		}
	}
	return true
}

// parseDate parses a calendar date against the known layouts. The date
// component is kept at day precision.
func parseDate(raw string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// normalizeTime normalizes a time-of-day value to "HH:MM". Malformed values
// are returned verbatim with ok=false so callers can flag them for audit.
func normalizeTime(raw string) (string, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, strings.ToUpper(raw)); err == nil {
			return t.Format("15:04"), true
		}
	}
	return raw, false
}

// parseFloatPtr parses a numeric cell, tolerating thousands separators.
// Blank or non-numeric cells become nil (absent), never zero; NaN is treated
// as absent since no downstream consumer accepts it.
func parseFloatPtr(raw string) *float64 {
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
	if err != nil || math.IsNaN(v) {
		return nil
	}
	return &v
}

// readExcelGrid reads the trading grid from a spreadsheet extract. Dealer
// workbooks are inconsistent about sheet naming, so the first sheet carrying
// a recognizable header row wins; if none qualifies, the first sheet is
// returned so Normalize can report the missing columns.
func readExcelGrid(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	var first [][]string
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			continue
		}
		if first == nil && len(rows) > 0 {
			first = rows
		}
		if headerRow, _, _ := findHeader(rows); headerRow >= 0 {
			return rows, nil
		}
	}

	if first == nil {
		return nil, fmt.Errorf("no readable sheet found")
	}
	return first, nil
}

// readCSVGrid reads a CSV extract into a grid, tolerating ragged rows and a
// UTF-8 BOM.
func readCSVGrid(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(stripBOM(file))
	reader.FieldsPerRecord = -1

	grid, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}
	return grid, nil
}

// stripBOM removes a leading UTF-8 byte order mark, which Excel-produced CSV
// extracts frequently carry.
func stripBOM(r io.Reader) io.Reader {
	buf := make([]byte, 3)
	n, _ := io.ReadFull(r, buf)
	if n == 3 && buf[0] == 0xEF && buf[1] == 0xBB && buf[2] == 0xBF {
		return r
	}
	return io.MultiReader(strings.NewReader(string(buf[:n])), r)
}
