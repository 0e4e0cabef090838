package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/psds-microservice/attention-service/internal/config"
	"github.com/psds-microservice/attention-service/internal/model"
	"github.com/psds-microservice/attention-service/internal/store"
)

// OpenGorm opens the sql database selected by cfg.StoreDriver (sqlite or postgres).
// sqlite schemas are created with AutoMigrate; postgres is expected to be migrated
// with `migrate` beforehand.
func OpenGorm(cfg *config.Config) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		db, err := gorm.Open(postgres.Open(cfg.DSN()), gcfg)
		if err != nil {
			return nil, fmt.Errorf("database: postgres: %w", err)
		}
		return db, nil
	case config.DriverSQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("database: sqlite dir: %w", err)
			}
		}
		db, err := gorm.Open(sqlite.Open(cfg.SQLitePath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"), gcfg)
		if err != nil {
			return nil, fmt.Errorf("database: sqlite: %w", err)
		}
		if err := AutoMigrate(db); err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("database: driver %q is not sql", cfg.StoreDriver)
	}
}

// AutoMigrate creates or updates the entity tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.ClassroomEntity{},
		&model.ParticipantEntity{},
		&model.SampleEntity{},
		&model.SessionEntity{},
	); err != nil {
		return fmt.Errorf("database: automigrate: %w", err)
	}
	return nil
}

// OpenStore returns the Store for cfg.StoreDriver.
func OpenStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (store.Store, error) {
	log = log.With(zap.String("store_driver", cfg.StoreDriver))
	switch cfg.StoreDriver {
	case config.DriverJSON:
		s, err := store.OpenJSONFile(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		log.Info("store opened", zap.String("data_dir", cfg.DataDir))
		return s, nil
	case config.DriverSQLite, config.DriverPostgres:
		db, err := OpenGorm(cfg)
		if err != nil {
			return nil, err
		}
		log.Info("store opened")
		return store.NewGorm(db), nil
	case config.DriverMongo:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		s, err := store.ConnectMongo(connectCtx, cfg.Mongo.URI, cfg.Mongo.Database, 5*time.Second)
		if err != nil {
			return nil, err
		}
		log.Info("store opened", zap.String("database", cfg.Mongo.Database))
		return s, nil
	default:
		return nil, fmt.Errorf("database: unknown store driver %q", cfg.StoreDriver)
	}
}
