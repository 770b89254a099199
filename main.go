package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"driftflow/config"
	"driftflow/ingest"
	"driftflow/logger"
	drift "driftflow/reader/drift"
	"driftflow/store"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	backfillFrom := flag.String("backfill-from", "", "Backfill from this UTC date (YYYY-MM-DD); runs a single pass and exits")
	runOnce := flag.Bool("run-once", false, "Run a single pass and exit instead of continuous mode")
	summary := flag.Bool("summary", false, "Show stored coverage per market and exit")

	flag.Parse()

	path := config.ResolveConfigPath(*configPath, "config/config.yml")
	cfg, err := config.LoadConfig(path)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Driftflow.Name,
		"version":     cfg.Driftflow.Version,
		"environment": config.AppEnvironment(),
	}).Info("starting driftflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Logging.CloudWatch.Enabled {
		logger.InitCloudWatch(cfg.Logging.CloudWatch.Region, cfg.Logging.CloudWatch.Namespace, cfg.Logging.CloudWatch.DashboardName)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Error("failed to open store")
		os.Exit(1)
	}
	defer st.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
		cancel()
	}()

	if *summary {
		if err := printSummary(ctx, st); err != nil {
			log.WithError(err).Error("failed to read coverage summary")
			os.Exit(1)
		}
		return
	}

	var forcedStart *time.Time
	if *backfillFrom != "" {
		parsed, err := time.Parse("2006-01-02", *backfillFrom)
		if err != nil {
			log.WithError(err).Error("invalid -backfill-from date, use YYYY-MM-DD")
			os.Exit(1)
		}
		day := parsed.UTC()
		forcedStart = &day
		log.WithFields(logger.Fields{"from": day.Format("2006-01-02")}).Info("backfill mode")
		if err := printSummary(ctx, st); err != nil {
			log.WithError(err).Warn("failed to read coverage summary")
		}
	}

	fetcher := drift.NewFetcher(cfg)
	runner := ingest.NewRunner(cfg, st, fetcher)

	if forcedStart != nil || *runOnce {
		total, err := runner.RunPass(ctx, forcedStart)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("pass failed")
			os.Exit(1)
		}
		log.WithFields(logger.Fields{"rows": total}).Info("single run completed")
		if forcedStart != nil {
			if err := printSummary(ctx, st); err != nil {
				log.WithError(err).Warn("failed to read coverage summary")
			}
		}
		return
	}

	if err := runner.RunContinuous(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		log.WithError(err).Error("continuous mode failed")
		os.Exit(1)
	}

	log.Info("driftflow stopped")
}

// openStore connects to MySQL. Production-like deployments retry a few
// times because the database may still be coming up alongside the service;
// development fails fast.
func openStore(ctx context.Context, cfg *config.Config, log *logger.Log) (*store.Store, error) {
	st, err := store.Open(cfg)
	if err == nil || !config.IsProductionLike(config.AppEnvironment()) {
		return st, err
	}

	for attempt := 2; attempt <= 5; attempt++ {
		log.WithError(err).WithFields(logger.Fields{"attempt": attempt}).Warn("store connection failed, retrying")
		timer := time.NewTimer(5 * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		if st, err = store.Open(cfg); err == nil {
			return st, nil
		}
	}
	return nil, err
}

// printSummary writes the per-market coverage table to stdout. The table
// is operator-facing output, not a log line.
func printSummary(ctx context.Context, st *store.Store) error {
	rows, err := st.CoverageSummary(ctx)
	if err != nil {
		return err
	}

	line := strings.Repeat("=", 80)
	fmt.Println(line)
	fmt.Println("DATABASE SUMMARY")
	fmt.Println(line)

	if len(rows) == 0 {
		fmt.Println("No data found in database.")
		return nil
	}

	for _, row := range rows {
		fmt.Printf("%-10s | %s to %s | %3d days | %6d records\n",
			row.Market,
			row.EarliestDate.UTC().Format("2006-01-02"),
			row.LatestDate.UTC().Format("2006-01-02"),
			row.DaysWithData,
			row.TotalRecords,
		)
	}
	fmt.Println(line)
	return nil
}
