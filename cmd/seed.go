package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/psds-microservice/attention-service/internal/config"
	"github.com/psds-microservice/attention-service/internal/database"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Run migrations and seeds (sql seeds for postgres/sqlite, then the demo classroom)",
	RunE:  runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
	if err := runMigrateUp(cmd, args); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	cfg, logger, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.StoreDriver == config.DriverPostgres || cfg.StoreDriver == config.DriverSQLite {
		db, err := database.OpenGorm(cfg)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		if err := database.RunSQLSeeds(db, logger); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}

	st, err := database.OpenStore(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := database.SeedDemo(cmd.Context(), st, logger); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	return nil
}
