// Command export reads the persisted snapshot, applies optional dashboard
// filters, and writes the result as a CSV report. It is a read-only tool: it
// never modifies the snapshot or touches the hosted store.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"bondpulse/internal/config"
	"bondpulse/internal/exporter"
	"bondpulse/internal/infrastructure"
	"bondpulse/internal/query"
	"bondpulse/internal/snapshot"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "export: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configFile := flag.String("config", "config.yaml", "path to YAML config file")
	snapshotPath := flag.String("snapshot", "", "override snapshot file path")
	out := flag.String("out", "report.csv", "output CSV path")
	equals := flag.String("eq", "", "equality filters, e.g. dealer=TD,cusip=34527ACL2")
	ranges := flag.String("range", "", "range filters, e.g. bid_spread=80:90,bid_price=100:")
	search := flag.String("search", "", "case-insensitive substring search across all columns")
	summaryOnly := flag.Bool("summary", false, "print summary aggregates instead of writing CSV")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}
	if *snapshotPath != "" {
		cfg.Snapshot.Path = *snapshotPath
	}

	logger, closeLogger, err := infrastructure.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLogger()

	filter, err := parseFilter(*equals, *ranges, *search)
	if err != nil {
		return err
	}

	records, err := snapshot.NewStore(cfg.Snapshot.Path, logger).Read()
	if err != nil {
		return err
	}

	subset, summary, err := query.Apply(records, filter)
	if err != nil {
		return err
	}

	if *summaryOnly {
		return json.NewEncoder(os.Stdout).Encode(summary)
	}
	return exporter.NewCSVWriter(logger).WriteDataset(*out, subset)
}

// parseFilter builds a query.Filter from the flag syntax: comma-separated
// col=value pairs for equality, col=min:max (either bound optional) for
// ranges.
func parseFilter(equals, ranges, search string) (query.Filter, error) {
	filter := query.Filter{Search: search}

	if equals != "" {
		filter.Equals = make(map[string]string)
		for _, pair := range strings.Split(equals, ",") {
			col, value, ok := strings.Cut(pair, "=")
			if !ok {
				return query.Filter{}, fmt.Errorf("invalid equality filter %q, want col=value", pair)
			}
			filter.Equals[col] = value
		}
	}

	if ranges != "" {
		filter.Ranges = make(map[string]query.Range)
		for _, pair := range strings.Split(ranges, ",") {
			col, bounds, ok := strings.Cut(pair, "=")
			if !ok {
				return query.Filter{}, fmt.Errorf("invalid range filter %q, want col=min:max", pair)
			}
			lo, hi, ok := strings.Cut(bounds, ":")
			if !ok {
				return query.Filter{}, fmt.Errorf("invalid range bounds %q, want min:max", bounds)
			}
			r, err := parseRange(lo, hi)
			if err != nil {
				return query.Filter{}, fmt.Errorf("invalid range filter %q: %w", pair, err)
			}
			filter.Ranges[col] = r
		}
	}

	return filter, nil
}

func parseRange(lo, hi string) (query.Range, error) {
	var r query.Range
	if lo != "" {
		v, err := strconv.ParseFloat(lo, 64)
		if err != nil {
			return query.Range{}, err
		}
		r.Min = &v
	}
	if hi != "" {
		v, err := strconv.ParseFloat(hi, 64)
		if err != nil {
			return query.Range{}, err
		}
		r.Max = &v
	}
	return r, nil
}
