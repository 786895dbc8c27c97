package main

import (
	"fmt"

	"collectbook/internal/storage"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Create the SQLite database at SQLITE_DB_PATH if needed and bring its
schema to the latest version.`,
		Args: cobra.NoArgs,
		RunE: runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger.Info("Running database migrations", "database", cfg.SQLiteDBPath)

	// opening the repository applies pending migrations
	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	if err := repo.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "database %s is up to date\n", cfg.SQLiteDBPath)
	return nil
}
