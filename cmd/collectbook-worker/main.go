package main

import (
	"context"
	"errors"
	"os"
	"time"

	"collectbook/internal/anomaly"
	"collectbook/internal/backend"
	"collectbook/internal/cli"
	"collectbook/internal/config"
	"collectbook/internal/log"
	"collectbook/internal/services"
	"collectbook/internal/sheets"
	gsheet "collectbook/internal/sheets/google"
	"collectbook/internal/worker"
)

func main() {
	cfg, logger := cli.MustBootstrap(log.ComponentWorker)
	logger.Info("Starting collectbook-worker")

	if err := run(cfg, logger); err != nil {
		logger.Error("Worker failed", log.FieldError, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *log.Logger) error {
	if cfg.DataBackend == string(backend.MemoryBackend) {
		logger.Warn("Worker is using the memory backend and will not see the server's records")
	}

	ctx, cancel := cli.SignalContext(context.Background(), logger)
	defer cancel()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	backendCfg.RequireAMQP = true

	res, err := backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", log.FieldError, err)
		}
	}()

	var exporter sheets.CollectionExporter
	if cfg.SheetsEnabled() {
		e, err := gsheet.NewFromConfig(ctx, gsheet.Config{
			SpreadsheetID:      cfg.GoogleSpreadsheetID,
			SheetName:          cfg.GoogleSheetName,
			ServiceAccountFile: cfg.GoogleServiceAccountFile,
			ServiceAccountJSON: cfg.GoogleServiceAccountJSON,
		})
		if err != nil {
			return err
		}
		exporter = e
	} else {
		logger.Info("Google Sheets export disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	anomalies := services.NewAnomalyService(res.Store, anomaly.NewDetector(cfg.Thresholds()), logger)
	w := worker.NewAnomalyWorker(anomalies, res.Store, exporter, logger)

	scanner := worker.NewScanner(w, cfg.ScanInterval)
	if err := scanner.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()
		if err := scanner.Stop(stopCtx); err != nil {
			logger.Warn("Scanner stop failed", log.FieldError, err)
		}
	}()

	logger.Info("Consuming collection events", "backend", cfg.DataBackend, "scan_interval", cfg.ScanInterval)
	err = res.AMQP.Consume(ctx, w.HandleCollectionEvent)
	if errors.Is(err, context.Canceled) {
		logger.Info("Worker shutdown complete")
		return nil
	}
	return err
}
