// Package dedup collapses RunRecords sharing a natural key down to the
// single authoritative record, and merges incoming batches with the persisted
// snapshot. Intra-batch deduplication and cross-snapshot merging deliberately
// share one retain-last rule: a dedup rule that behaves differently depending
// on whether the duplicate arrived in the same run or a previous run silently
// drops information.
package dedup

import (
	"sort"

	"bondpulse/pkg/contracts/domain"
)

// Deduplicate returns exactly one record per natural key (ObservationDate,
// CUSIP, Dealer). Candidates are stably sorted by (ObservationDate, CUSIP,
// Dealer, ObservationTime) ascending and the last record in that ordering is
// retained, so the latest ObservationTime wins. When times are absent or tie,
// the record that arrived later in input order wins; the stable sort makes
// that tie-break explicit and reproducible.
//
// The input is not modified. The output is sorted by natural key and
// ObservationTime, which keeps repeated runs byte-for-byte identical.
func Deduplicate(records []domain.RunRecord) []domain.RunRecord {
	if len(records) == 0 {
		return nil
	}

	sorted := make([]domain.RunRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return less(sorted[i], sorted[j])
	})

	// Same-key records are adjacent after the sort; keep the last of each
	// group by overwriting the previous survivor.
	out := sorted[:0:0]
	for _, record := range sorted {
		if n := len(out); n > 0 && out[n-1].Key() == record.Key() {
			out[n-1] = record
			continue
		}
		out = append(out, record)
	}
	return out
}

// Merge combines the existing persisted dataset with a new cleaned and
// deduplicated batch. Keys present only in the old snapshot survive
// unchanged, keys present only in the batch are added. When a key appears on
// both sides the retain-last rule is time-dominant: whichever record carries
// the later ObservationTime wins, snapshot or batch. Only on equal or absent
// times does the batch's record win, because old records are concatenated
// first and the tie-break is stable.
//
// Merge is idempotent: merging a dataset with its own output is a no-op.
func Merge(old, batch []domain.RunRecord) []domain.RunRecord {
	combined := make([]domain.RunRecord, 0, len(old)+len(batch))
	combined = append(combined, old...)
	combined = append(combined, batch...)
	return Deduplicate(combined)
}

// less orders records by (ObservationDate, CUSIP, Dealer, ObservationTime).
// Times compare lexicographically, which is correct for the canonical "HH:MM"
// form and deterministic for flagged malformed values; an absent time sorts
// first and therefore loses to any timed record.
func less(a, b domain.RunRecord) bool {
	if !a.ObservationDate.Equal(b.ObservationDate) {
		return a.ObservationDate.Before(b.ObservationDate)
	}
	if a.CUSIP != b.CUSIP {
		return a.CUSIP < b.CUSIP
	}
	if a.Dealer != b.Dealer {
		return a.Dealer < b.Dealer
	}
	return a.ObservationTime < b.ObservationTime
}
