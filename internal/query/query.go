// Package query is the read-only collaborator surface the dashboard consumes.
// Given a dataset and a filter predicate set it returns the filtered subset
// and summary aggregates. It never mutates the dataset and carries no
// serving concerns.
package query

import (
	"fmt"
	"strconv"
	"strings"

	"bondpulse/pkg/contracts/domain"
)

// categoricalColumns are the columns that accept equality filters.
var categoricalColumns = map[string]bool{
	"obs_date":    true,
	"obs_time":    true,
	"security":    true,
	"cusip":       true,
	"dealer":      true,
	"source_file": true,
}

// numericColumns are the columns that accept range filters.
var numericColumns = map[string]bool{
	"bid_price":  true,
	"ask_price":  true,
	"bid_size":   true,
	"ask_size":   true,
	"bid_spread": true,
}

// Range bounds a numeric column; nil means unbounded on that side. Records
// with the column absent never match a range filter.
type Range struct {
	Min *float64
	Max *float64
}

// Filter is a predicate set over the canonical columns: equality on
// categorical columns, ranges on numeric columns, and a case-insensitive
// substring search across all columns.
type Filter struct {
	Equals map[string]string
	Ranges map[string]Range
	Search string
}

// Summary aggregates a dataset for the dashboard header.
type Summary struct {
	Rows          int      `json:"rows"`
	CUSIPs        int      `json:"cusips"`
	Dealers       int      `json:"dealers"`
	FirstDate     string   `json:"first_date,omitempty"`
	LastDate      string   `json:"last_date,omitempty"`
	MeanBidSpread *float64 `json:"mean_bid_spread,omitempty"`
}

// Apply returns the subset of records matching the filter, with summary
// aggregates computed over that subset. Unknown filter columns are an error
// rather than a silently empty result.
func Apply(records []domain.RunRecord, f Filter) ([]domain.RunRecord, Summary, error) {
	for col := range f.Equals {
		if !categoricalColumns[col] {
			return nil, Summary{}, fmt.Errorf("unknown categorical column %q", col)
		}
	}
	for col := range f.Ranges {
		if !numericColumns[col] {
			return nil, Summary{}, fmt.Errorf("unknown numeric column %q", col)
		}
	}

	search := strings.ToLower(f.Search)

	var subset []domain.RunRecord
	for _, record := range records {
		if matches(record, f, search) {
			subset = append(subset, record)
		}
	}

	return subset, Summarize(subset), nil
}

// Summarize computes the dashboard aggregates for a dataset.
func Summarize(records []domain.RunRecord) Summary {
	summary := Summary{Rows: len(records)}

	cusips := make(map[string]bool)
	dealers := make(map[string]bool)
	var (
		spreadSum   float64
		spreadCount int
	)

	for _, record := range records {
		cusips[record.CUSIP] = true
		dealers[record.Dealer] = true

		if record.HasDate() {
			date := record.ObservationDate.Format(domain.DateLayout)
			if summary.FirstDate == "" || date < summary.FirstDate {
				summary.FirstDate = date
			}
			if date > summary.LastDate {
				summary.LastDate = date
			}
		}
		if record.BidSpread != nil {
			spreadSum += *record.BidSpread
			spreadCount++
		}
	}

	summary.CUSIPs = len(cusips)
	summary.Dealers = len(dealers)
	if spreadCount > 0 {
		mean := spreadSum / float64(spreadCount)
		summary.MeanBidSpread = &mean
	}
	return summary
}

// matches evaluates every predicate against one record.
func matches(record domain.RunRecord, f Filter, search string) bool {
	for col, want := range f.Equals {
		if categoricalValue(record, col) != want {
			return false
		}
	}
	for col, bounds := range f.Ranges {
		v := numericValue(record, col)
		if v == nil {
			return false
		}
		if bounds.Min != nil && *v < *bounds.Min {
			return false
		}
		if bounds.Max != nil && *v > *bounds.Max {
			return false
		}
	}
	if search != "" && !searchMatches(record, search) {
		return false
	}
	return true
}

// searchMatches reports whether any column of the record contains the search
// term, ignoring case.
func searchMatches(record domain.RunRecord, search string) bool {
	for _, col := range domain.Columns() {
		var value string
		if numericColumns[col] {
			if v := numericValue(record, col); v != nil {
				value = strconv.FormatFloat(*v, 'f', -1, 64)
			}
		} else {
			value = categoricalValue(record, col)
		}
		if value != "" && strings.Contains(strings.ToLower(value), search) {
			return true
		}
	}
	return false
}

// categoricalValue returns the string form of a categorical column.
func categoricalValue(record domain.RunRecord, col string) string {
	switch col {
	case "obs_date":
		if !record.HasDate() {
			return ""
		}
		return record.ObservationDate.Format(domain.DateLayout)
	case "obs_time":
		return record.ObservationTime
	case "security":
		return record.Security
	case "cusip":
		return record.CUSIP
	case "dealer":
		return record.Dealer
	case "source_file":
		return record.SourceFile
	default:
		return ""
	}
}

// numericValue returns the value of a numeric column, nil when absent.
func numericValue(record domain.RunRecord, col string) *float64 {
	switch col {
	case "bid_price":
		return record.BidPrice
	case "ask_price":
		return record.AskPrice
	case "bid_size":
		return record.BidSize
	case "ask_size":
		return record.AskSize
	case "bid_spread":
		return record.BidSpread
	default:
		return nil
	}
}
