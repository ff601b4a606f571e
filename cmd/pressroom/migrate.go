package main

import (
	"context"
	"fmt"

	"github.com/ethpandaops/pressroom/pkg/api"
	"github.com/ethpandaops/pressroom/pkg/auth"
	"github.com/ethpandaops/pressroom/pkg/config"
	"github.com/ethpandaops/pressroom/pkg/db"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	Long: `Create the auth tables if they are missing and add any columns that
older databases lack. Safe to run repeatedly.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	return withManager(cmd.Context(), cfg, func(_ context.Context, _ *auth.Manager) error {
		log.Info("Schema is up to date")

		return nil
	})
}

// withManager opens the configured database, prepares the schema and runs
// fn with a ready manager.
func withManager(
	ctx context.Context, cfg *config.Config, fn func(ctx context.Context, m *auth.Manager) error,
) error {
	adapter, err := db.Open(ctx, log, &cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	defer func() {
		if err := adapter.Close(); err != nil {
			log.WithError(err).Warn("Failed to close database")
		}
	}()

	m := api.NewAuthManager(log, adapter, &cfg.Auth)
	if err := m.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}

	return fn(ctx, m)
}
