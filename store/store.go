package store

import (
	"fmt"

	"driftflow/config"
	"driftflow/logger"
	"driftflow/models"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Store owns the funding_rates table. One Store (and its underlying
// connection pool) is shared across the whole pass and, in continuous
// mode, across passes.
type Store struct {
	db  *gorm.DB
	cfg *config.Config
	log *logger.Log
}

// Open connects to MySQL, tunes the pool for a single sequential writer
// and ensures the schema exists.
func Open(cfg *config.Config) (*Store, error) {
	mysqlCfg := cfg.Storage.MySQL

	db, err := gorm.Open(mysql.Open(mysqlCfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	maxIdle := mysqlCfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 2
	}
	maxOpen := mysqlCfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 4
	}
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetMaxOpenConns(maxOpen)
	if mysqlCfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(mysqlCfg.ConnMaxLifetime)
	}

	if err := db.AutoMigrate(&models.FundingRate{}); err != nil {
		return nil, fmt.Errorf("failed to migrate funding_rates: %w", err)
	}

	log := logger.GetLogger()
	log.WithComponent("store").WithFields(logger.Fields{
		"host":     mysqlCfg.Host,
		"database": mysqlCfg.Database,
	}).Info("store initialized")

	return &Store{db: db, cfg: cfg, log: log}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
