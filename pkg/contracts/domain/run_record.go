package domain

import (
	"time"
)

// DateLayout is the canonical calendar-date representation used across the
// pipeline, the snapshot file and the external store.
const DateLayout = "2006-01-02"

// RunRecord represents one dealer's quoted market for one bond at one
// observed time, normalized from a raw run extract row.
type RunRecord struct {
	ObservationDate time.Time `json:"observation_date"`
	ObservationTime string    `json:"observation_time,omitempty"` // "HH:MM"; kept verbatim when malformed
	Security        string    `json:"security"`
	CUSIP           string    `json:"cusip"`
	Dealer          string    `json:"dealer"`
	BidPrice        *float64  `json:"bid_price,omitempty"`
	AskPrice        *float64  `json:"ask_price,omitempty"`
	BidSize         *float64  `json:"bid_size,omitempty"`
	AskSize         *float64  `json:"ask_size,omitempty"`
	BidSpread       *float64  `json:"bid_spread,omitempty"`
	SourceFile      string    `json:"source_file,omitempty"` // provenance, not part of identity
}

// Key uniquely identifies the authoritative quote for one bond from one
// dealer on one date. ObservationTime and SourceFile are disambiguating
// metadata, not identity.
type Key struct {
	Date   string
	CUSIP  string
	Dealer string
}

// Key returns the natural key (ObservationDate, CUSIP, Dealer) of the record.
func (r RunRecord) Key() Key {
	return Key{
		Date:   r.ObservationDate.Format(DateLayout),
		CUSIP:  r.CUSIP,
		Dealer: r.Dealer,
	}
}

// HasDate reports whether the record carries a parseable observation date.
// The normalizer leaves the date zero when the source value could not be
// parsed, as an explicit invalid marker.
func (r RunRecord) HasDate() bool {
	return !r.ObservationDate.IsZero()
}

// Columns returns the canonical column set, in order, as stored in the
// snapshot file and the external store. The store schema must mirror this
// set exactly (same names, case-sensitive).
func Columns() []string {
	return []string{
		"obs_date",
		"obs_time",
		"security",
		"cusip",
		"dealer",
		"bid_price",
		"ask_price",
		"bid_size",
		"ask_size",
		"bid_spread",
		"source_file",
	}
}

// Headers returns the display column names used for CSV export, aligned
// with Columns().
func Headers() []string {
	return []string{
		"Date",
		"Time",
		"Security",
		"CUSIP",
		"Dealer",
		"Bid Price",
		"Ask Price",
		"Bid Size",
		"Ask Size",
		"Bid Spread",
		"Source File",
	}
}
