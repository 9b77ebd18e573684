package cleaner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bondpulse/pkg/contracts/domain"
)

func f64(v float64) *float64 {
	return &v
}

func validRecord() domain.RunRecord {
	return domain.RunRecord{
		ObservationDate: time.Date(2025, 5, 28, 0, 0, 0, 0, time.UTC),
		ObservationTime: "07:17",
		Security:        "FORDO 5.8 02/03/28",
		CUSIP:           "34527ACL2",
		Dealer:          "TD",
		BidPrice:        f64(101.85),
		AskPrice:        f64(102.10),
		BidSize:         f64(500),
		AskSize:         f64(250),
		BidSpread:       f64(85),
		SourceFile:      "runs_2025-05-28.xlsx",
	}
}

func TestClean_ValidRecordKept(t *testing.T) {
	c := New(nil)

	kept, stats := c.Clean([]domain.RunRecord{validRecord()})

	assert.Len(t, kept, 1)
	assert.Zero(t, stats.Total())
}

func TestClean_DropReasons(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.RunRecord)
		reason DropReason
	}{
		{
			name:   "negative bid price",
			mutate: func(r *domain.RunRecord) { r.BidPrice = f64(-1) },
			reason: DropNegativeValue,
		},
		{
			name:   "negative ask price",
			mutate: func(r *domain.RunRecord) { r.AskPrice = f64(-0.01) },
			reason: DropNegativeValue,
		},
		{
			name:   "negative bid size",
			mutate: func(r *domain.RunRecord) { r.BidSize = f64(-500) },
			reason: DropNegativeValue,
		},
		{
			name:   "negative ask size",
			mutate: func(r *domain.RunRecord) { r.AskSize = f64(-500) },
			reason: DropNegativeValue,
		},
		{
			name:   "missing date",
			mutate: func(r *domain.RunRecord) { r.ObservationDate = time.Time{} },
			reason: DropMissingDate,
		},
		{
			name:   "missing cusip",
			mutate: func(r *domain.RunRecord) { r.CUSIP = "" },
			reason: DropMissingCUSIP,
		},
		{
			name:   "missing dealer",
			mutate: func(r *domain.RunRecord) { r.Dealer = "" },
			reason: DropMissingDealer,
		},
		{
			name:   "missing bid spread",
			mutate: func(r *domain.RunRecord) { r.BidSpread = nil },
			reason: DropMissingSpread,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(nil)
			bad := validRecord()
			tt.mutate(&bad)

			kept, stats := c.Clean([]domain.RunRecord{bad})

			assert.Empty(t, kept)
			assert.Equal(t, 1, stats[tt.reason], "expected drop reason %s, got %v", tt.reason, stats)
			assert.Equal(t, 1, stats.Total())
		})
	}
}

func TestClean_AbsentNumericsAreAcceptable(t *testing.T) {
	// Prices and sizes may be absent; only present-and-negative values
	// invalidate the row.
	r := validRecord()
	r.BidPrice = nil
	r.AskPrice = nil
	r.BidSize = nil
	r.AskSize = nil

	kept, stats := New(nil).Clean([]domain.RunRecord{r})

	assert.Len(t, kept, 1)
	assert.Zero(t, stats.Total())
}

func TestClean_NegativeCheckedBeforeMissingFields(t *testing.T) {
	// A garbage row with a negative value is attributed to negative_value
	// even when key fields are also missing.
	r := validRecord()
	r.BidPrice = f64(-1)
	r.CUSIP = ""

	kept, stats := New(nil).Clean([]domain.RunRecord{r})

	assert.Empty(t, kept)
	assert.Equal(t, 1, stats[DropNegativeValue])
	assert.Zero(t, stats[DropMissingCUSIP])
}

func TestClean_OutputIsSubsetOfInput(t *testing.T) {
	bad := validRecord()
	bad.BidPrice = f64(-1)

	input := []domain.RunRecord{validRecord(), bad, validRecord()}
	kept, stats := New(nil).Clean(input)

	require.Len(t, kept, 2)
	assert.Equal(t, 1, stats.Total())
	for _, r := range kept {
		assert.Contains(t, input, r, "cleaner must not invent rows")
	}
}

func TestDropStats_Total(t *testing.T) {
	stats := DropStats{
		DropNegativeValue: 3,
		DropMissingCUSIP:  2,
	}
	assert.Equal(t, 5, stats.Total())
	assert.Zero(t, DropStats{}.Total())
}
