package main

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ngmaloney/marine-depth/internal/store"
)

var dryRun bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show the current schema version without applying")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if dryRun {
		db, err := sql.Open("sqlite", cfg.Storage.SQLite.Path)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()

		current, err := store.MigrationVersion(ctx, db)
		if err != nil {
			current = 0
		}
		logger.Info("migration status", "current_version", current, "path", cfg.Storage.SQLite.Path)
		return nil
	}

	// Opening the store runs pending migrations.
	s, err := store.OpenSQLite(ctx, cfg.Storage.SQLite.Path, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	version, err := store.MigrationVersion(ctx, s.DB())
	if err != nil {
		return err
	}
	logger.Info("migrations complete", "version", version)
	return nil
}
