package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"collectbook/internal/anomaly"
	"collectbook/internal/backend"
	"collectbook/internal/cli"
	"collectbook/internal/config"
	"collectbook/internal/log"
	"collectbook/internal/services"

	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "collectctl",
		Short: "Operate a collectbook database from the command line",
		Long: `collectctl imports site files, checks collection totals for anomalies
and migrates the collectbook database.

Configuration is read from the environment (and .env), the same as the server.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error); overrides LOG_LEVEL")

	root.AddCommand(importCmd())
	root.AddCommand(anomalyCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(versionCmd())
	return root
}

func main() {
	cli.LoadEnvFile()

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	err := newRootCmd().ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is what the data commands run against.
type app struct {
	cfg       *config.Config
	logger    *log.Logger
	backend   *backend.Result
	records   *services.RecordService
	anomalies *services.AnomalyService
	imports   *services.ImportService
}

func loadConfig(cmd *cobra.Command) (*config.Config, *log.Logger, error) {
	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		return nil, nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	logger := log.New(log.Config{
		Level:     log.ParseLevel(cfg.LogLevel),
		Format:    cfg.LogFormat,
		Component: log.ComponentCLI,
		Output:    cmd.ErrOrStderr(),
	})
	log.SetDefault(logger)
	return cfg, logger, nil
}

func openApp(cmd *cobra.Command) (*app, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	res, err := backend.NewFactory(logger).CreateBackend(cmd.Context(), backendCfg)
	if err != nil {
		return nil, err
	}

	records := services.NewRecordService(res.Store, res.Publisher())
	return &app{
		cfg:       cfg,
		logger:    logger,
		backend:   res,
		records:   records,
		anomalies: services.NewAnomalyService(res.Store, anomaly.NewDetector(cfg.Thresholds()), logger),
		imports:   services.NewImportService(records, res.Store),
	}, nil
}

func (a *app) Close() {
	if err := a.backend.Cleanup(); err != nil {
		a.logger.Error("Backend cleanup failed", log.FieldError, err)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "collectctl %s\n", version)
		},
	}
}
