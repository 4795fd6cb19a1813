package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/relayforge/corpus-engine/internal/storage"
)

// newMigrateCmd creates the migrate subcommand.
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations",
		Long: `Migrate applies pending schema migrations to the configured Postgres
database. Applied versions are tracked in schema_migrations, so running it
repeatedly is safe. The API server also migrates at startup; this command
exists for provisioning a database before first boot.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			db, err := storage.Open(ctx, cfg.Database.DSN, cfg.Database.MaxOpenConns)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			if err := storage.Migrate(ctx, db); err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}

			if outputJSON {
				return emitJSON(map[string]string{"status": "applied"})
			}
			NewUI(outputJSON, noColor).Success("Migrations applied")
			return nil
		},
	}
}
