// Command pipeline executes one reconciliation run: it ingests dealer run
// extracts, merges them with the persisted snapshot, and syncs the result to
// the hosted store. It exits non-zero on any fatal condition.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"bondpulse/internal/config"
	"bondpulse/internal/infrastructure"
	"bondpulse/internal/pipeline"
	"bondpulse/internal/storesync"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pipeline: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configFile := flag.String("config", "config.yaml", "path to YAML config file")
	inputDir := flag.String("in", "", "override input directory for run extracts")
	snapshotPath := flag.String("snapshot", "", "override snapshot file path")
	noSync := flag.Bool("no-sync", false, "skip the store sync stage")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}
	if *inputDir != "" {
		cfg.Input.Dir = *inputDir
	}
	if *snapshotPath != "" {
		cfg.Snapshot.Path = *snapshotPath
	}

	logger, closeLogger, err := infrastructure.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLogger()

	ctx := context.Background()

	var uploader pipeline.Uploader
	if cfg.Store.DSN != "" && !*noSync {
		pool, err := storesync.Connect(ctx, cfg.Store.DSN)
		if err != nil {
			logger.Error("store connection failed", slog.Any("error", err))
			return err
		}
		defer pool.Close()
		uploader = storesync.New(pool, cfg.Store, logger)
	}

	if _, err := pipeline.New(cfg, logger, uploader).Run(ctx); err != nil {
		return err
	}
	return nil
}
