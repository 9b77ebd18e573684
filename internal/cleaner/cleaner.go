// Package cleaner removes structurally invalid RunRecords. Dropping a row is
// an expected, countable filtering outcome, not an error; every drop is
// attributed to a reason so a run can always answer "how many rows were
// removed, and why".
package cleaner

import (
	"log/slog"

	"bondpulse/pkg/contracts/domain"
)

// DropReason identifies why a record was removed.
type DropReason string

const (
	// DropNegativeValue marks a record with a negative price or size, the
	// primary garbage-extract-row signal.
	DropNegativeValue DropReason = "negative_value"
	// DropMissingDate marks a record whose observation date is absent or
	// was unparsable.
	DropMissingDate DropReason = "missing_date"
	// DropMissingCUSIP marks a record without a CUSIP.
	DropMissingCUSIP DropReason = "missing_cusip"
	// DropMissingDealer marks a record without a dealer.
	DropMissingDealer DropReason = "missing_dealer"
	// DropMissingSpread marks a record without a bid spread.
	DropMissingSpread DropReason = "missing_bid_spread"
)

// DropStats counts dropped records per reason.
type DropStats map[DropReason]int

// Total returns the total number of dropped records.
func (s DropStats) Total() int {
	total := 0
	for _, n := range s {
		total += n
	}
	return total
}

// Cleaner validates RunRecords against the retention invariants.
type Cleaner struct {
	logger *slog.Logger
}

// New creates a Cleaner that logs to the given run-scoped logger.
func New(logger *slog.Logger) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{logger: logger}
}

// Clean returns the subset of records passing all validity checks along with
// per-reason drop counts. The output is always a subset of the input; no
// record is modified or invented.
func (c *Cleaner) Clean(records []domain.RunRecord) ([]domain.RunRecord, DropStats) {
	kept := make([]domain.RunRecord, 0, len(records))
	stats := make(DropStats)

	for _, record := range records {
		if reason, ok := dropReason(record); ok {
			stats[reason]++
			c.logger.Debug("dropped invalid record",
				slog.String("reason", string(reason)),
				slog.String("cusip", record.CUSIP),
				slog.String("dealer", record.Dealer),
				slog.String("source_file", record.SourceFile))
			continue
		}
		kept = append(kept, record)
	}

	if stats.Total() > 0 {
		attrs := []any{slog.Int("dropped_total", stats.Total())}
		for reason, n := range stats {
			attrs = append(attrs, slog.Int(string(reason), n))
		}
		c.logger.Info("cleaner removed invalid records", attrs...)
	}

	return kept, stats
}

// dropReason returns the first failed validity check for a record. Negative
// values are checked first: they indicate a corrupt extract row regardless of
// which fields happen to be populated.
func dropReason(r domain.RunRecord) (DropReason, bool) {
	for _, v := range []*float64{r.BidPrice, r.AskPrice, r.BidSize, r.AskSize} {
		if v != nil && *v < 0 {
			return DropNegativeValue, true
		}
	}
	if !r.HasDate() {
		return DropMissingDate, true
	}
	if r.CUSIP == "" {
		return DropMissingCUSIP, true
	}
	if r.Dealer == "" {
		return DropMissingDealer, true
	}
	if r.BidSpread == nil {
		return DropMissingSpread, true
	}
	return "", false
}
