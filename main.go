package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"meterflow/config"
	"meterflow/internal/channel"
	"meterflow/logger"
	"meterflow/monitor"
	"meterflow/processor"
	"meterflow/reader"
	"meterflow/store"
	"meterflow/tracker"
	"meterflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	meterIDs := flag.String("meters", "", "Comma-separated meter ids to monitor (overrides discovery)")
	summarizeID := flag.String("summarize", "", "Print statistics for a meter from stored snapshots and exit")
	transactionsID := flag.String("transactions", "", "Print transaction analysis for a meter and exit")
	dateFrom := flag.String("from", "", "Transaction range start (YYYY-MM-DD)")
	dateTo := flag.String("to", "", "Transaction range end (YYYY-MM-DD)")

	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	if cfg.Metrics.Enabled {
		logger.InitCloudWatch(cfg.Metrics.Region, cfg.Metrics.Namespace)
	}

	if *summarizeID != "" {
		os.Exit(runSummarize(cfg, *summarizeID))
	}
	if *transactionsID != "" {
		os.Exit(runTransactions(cfg, *transactionsID, *dateFrom, *dateTo))
	}

	log.WithFields(logger.Fields{
		"service": cfg.Meterflow.Name,
		"version": cfg.Meterflow.Version,
	}).Info("starting meterflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := reader.NewClient(cfg)

	// Verify the merchant token before spawning workers. Auth failures are
	// fatal; transient errors are tolerated, polls will retry.
	if _, err := client.GetMeters(ctx); err != nil {
		if reader.IsAuthError(err) {
			log.WithError(err).Error("merchant token rejected by the metering API")
			os.Exit(1)
		}
		log.WithError(err).Warn("startup connectivity check failed; continuing")
	}

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.WithError(err).Error("failed to open audit database")
		os.Exit(1)
	}
	defer db.Close()

	var channels *channel.Channels
	var archiveWriter *writer.ArchiveWriter
	if cfg.Storage.S3.Enabled {
		channels = channel.NewChannels(cfg.Channels.ArchiveBuffer)
		defer channels.Close()
		channels.StartMetricsReporting(ctx)

		archiveWriter, err = writer.NewArchiveWriter(cfg, channels.Archive)
		if err != nil {
			log.WithError(err).Error("failed to create archive writer")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("S3 storage disabled; skipping archive writer")
	}

	var overrideIDs []string
	if *meterIDs != "" {
		for _, id := range strings.Split(*meterIDs, ",") {
			if id = strings.TrimSpace(id); id != "" {
				overrideIDs = append(overrideIDs, id)
			}
		}
	}

	discovery := reader.NewDiscovery(cfg, client)
	meters, err := discovery.SelectMeters(ctx, overrideIDs)
	if err != nil {
		log.WithError(err).Error("failed to select meters")
		os.Exit(1)
	}
	if len(meters) == 0 {
		log.Error("no meters to monitor")
		os.Exit(1)
	}

	sessionID := uuid.New().String()
	ids := make([]string, 0, len(meters))
	for _, m := range meters {
		ids = append(ids, m.ID)
	}
	if err := db.SetMetadata("monitoring_start", map[string]any{
		"session_id": sessionID,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"meter_ids":  ids,
	}); err != nil {
		log.WithError(err).Warn("failed to record session start")
	}

	trk := tracker.New()
	mon := monitor.New(cfg, client, trk, db, channels, meters)

	if archiveWriter != nil {
		if err := archiveWriter.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start archive writer")
			os.Exit(1)
		}
	}
	if err := mon.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start monitor")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"session_id": sessionID,
		"meters":     len(meters),
	}).Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	done := make(chan struct{})
	go func() {
		mon.Stop()
		if archiveWriter != nil {
			archiveWriter.Stop()
		}
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	if err := db.SetMetadata("monitoring_end", map[string]any{
		"session_id": sessionID,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		log.WithError(err).Warn("failed to record session end")
	}

	log.Info("meterflow stopped")
}

// runSummarize prints batch statistics for one meter from the audit trail.
func runSummarize(cfg *config.Config, meterID string) int {
	log := logger.GetLogger()

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.WithError(err).Error("failed to open audit database")
		return 1
	}
	defer db.Close()

	snapshots, err := db.LoadSnapshots(meterID)
	if err != nil {
		log.WithError(err).Error("failed to load snapshots")
		return 1
	}

	summary := processor.Summarize(meterID, snapshots)
	if !summary.HasData {
		fmt.Printf("no successful snapshots recorded for meter %s\n", meterID)
		return 0
	}
	return printJSON(summary)
}

// runTransactions fetches and analyses a meter's transaction history.
func runTransactions(cfg *config.Config, meterID, dateFrom, dateTo string) int {
	log := logger.GetLogger()

	if dateTo == "" {
		dateTo = time.Now().UTC().Format("2006-01-02")
	}
	if dateFrom == "" {
		dateFrom = time.Now().UTC().AddDate(0, -1, 0).Format("2006-01-02")
	}

	client := reader.NewClient(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.API.Timeout)
	defer cancel()

	transactions, err := client.GetMeterTransactions(ctx, meterID, dateFrom, dateTo)
	if err != nil {
		log.WithError(err).Error("failed to fetch transactions")
		return 1
	}

	analysis := processor.AnalyzeTransactions(transactions)
	return printJSON(analysis)
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		logger.GetLogger().WithError(err).Error("failed to encode output")
		return 1
	}
	fmt.Println(string(data))
	return 0
}
