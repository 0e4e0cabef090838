package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/psds-microservice/attention-service/internal/config"
	"github.com/psds-microservice/attention-service/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema: golang-migrate for postgres, AutoMigrate for sqlite, indexes for mongo",
	RunE:  runMigrateUp,
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	switch cfg.StoreDriver {
	case config.DriverPostgres:
		return database.MigrateUp(cfg.DatabaseURL(), logger)
	default:
		// OpenStore creates the sqlite tables, mongo indexes or the json data dir.
		st, err := database.OpenStore(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		logger.Info("schema ready", zap.String("store_driver", cfg.StoreDriver))
		return st.Close()
	}
}
