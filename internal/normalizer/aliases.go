package normalizer

import (
	"strings"
)

// Canonical column names produced by the normalizer. Downstream components
// and the external store schema key off these; raw extract headers are only
// ever consulted here.
const (
	ColDate      = "Date"
	ColTime      = "Time"
	ColSecurity  = "Security"
	ColCUSIP     = "CUSIP"
	ColDealer    = "Dealer"
	ColBidPrice  = "Bid Price"
	ColAskPrice  = "Ask Price"
	ColBidSize   = "Bid Size"
	ColAskSize   = "Ask Size"
	ColBidSpread = "Bid Spread"
)

// requiredColumns is the minimum column set an extract must carry. A file
// missing any of these aborts ingestion of that file.
var requiredColumns = []string{
	ColDate,
	ColSecurity,
	ColCUSIP,
	ColDealer,
	ColBidPrice,
	ColBidSize,
	ColBidSpread,
}

// headerAliases maps normalized raw headers to canonical column names. Dealer
// sheets are inconsistent about labels for the same concept ("Bid Yield To
// Convention" vs "Bid Yield to Convention", "CUSIP" vs "Cusip #"); every known
// variant is reconciled here, once, rather than by scattered string replaces.
var headerAliases = map[string]string{
	"date":             ColDate,
	"as of":            ColDate,
	"as of date":       ColDate,
	"run date":         ColDate,
	"trade date":       ColDate,
	"observation date": ColDate,

	"time":             ColTime,
	"as of time":       ColTime,
	"run time":         ColTime,
	"observation time": ColTime,

	"security":      ColSecurity,
	"security name": ColSecurity,
	"bond":          ColSecurity,
	"issue":         ColSecurity,
	"description":   ColSecurity,

	"cusip":        ColCUSIP,
	"cusip #":      ColCUSIP,
	"cusip number": ColCUSIP,

	"dealer":      ColDealer,
	"dealer name": ColDealer,
	"broker":      ColDealer,
	"source":      ColDealer,

	"bid price": ColBidPrice,
	"bid px":    ColBidPrice,
	"px bid":    ColBidPrice,
	"bid":       ColBidPrice,

	"ask price":   ColAskPrice,
	"ask px":      ColAskPrice,
	"px ask":      ColAskPrice,
	"ask":         ColAskPrice,
	"offer":       ColAskPrice,
	"offer price": ColAskPrice,

	"bid size": ColBidSize,
	"bid sz":   ColBidSize,
	"size bid": ColBidSize,

	"ask size":   ColAskSize,
	"ask sz":     ColAskSize,
	"size ask":   ColAskSize,
	"offer size": ColAskSize,

	"bid spread":               ColBidSpread,
	"bid sprd":                 ColBidSpread,
	"spread":                   ColBidSpread,
	"bid spread to convention": ColBidSpread,
	"bid yield to convention":  ColBidSpread,
}

// canonicalHeader maps a raw extract header to its canonical column name.
// Matching is case-insensitive and ignores surrounding and repeated
// whitespace.
func canonicalHeader(raw string) (string, bool) {
	normalized := strings.ToLower(strings.Join(strings.Fields(raw), " "))
	canonical, ok := headerAliases[normalized]
	return canonical, ok
}
