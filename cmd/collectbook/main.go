package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"collectbook/internal/anomaly"
	"collectbook/internal/backend"
	"collectbook/internal/cli"
	apphttp "collectbook/internal/http"
	"collectbook/internal/log"
	"collectbook/internal/middleware/ratelimit"
	"collectbook/internal/services"
)

func main() {
	cfg, logger := cli.MustBootstrap(log.ComponentApp)

	ctx, cancel := cli.SignalContext(context.Background(), logger)
	defer cancel()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", log.FieldError, err)
		}
	}()

	records := services.NewRecordService(res.Store, res.Publisher())
	svc := apphttp.Services{
		Records:   records,
		Anomalies: services.NewAnomalyService(res.Store, anomaly.NewDetector(cfg.Thresholds()), logger),
		Imports:   services.NewImportService(records, res.Store),
	}

	srv := apphttp.NewServer(":"+cfg.Port, svc, apphttp.Options{
		RateLimit: ratelimit.Config{
			RequestsPerMinute: cfg.RateLimitPerMinute,
			Burst:             cfg.RateLimitBurst,
		},
		CacheTTL:       cfg.CacheTTL,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Ready:          res.Ready,
		Logger:         logger,
	})

	srv.ReadTimeout = 30 * time.Second
	srv.WriteTimeout = 30 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
	}()

	logger.Info("Starting collectbook server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"events", res.AMQP != nil)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		cancel()
		return
	}

	logger.Info("Server stopped gracefully")
}
