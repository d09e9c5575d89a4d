package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erp/ingest/internal/infrastructure/config"
	"github.com/erp/ingest/internal/infrastructure/logger"
	"github.com/erp/ingest/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Database is the gorm handle plus the pool underneath it.
type Database struct {
	DB  *gorm.DB
	sql *sql.DB
}

// NewDatabase opens a PostgreSQL pool sized from cfg, logs SQL through zap
// and pings once before returning.
func NewDatabase(cfg *config.DatabaseConfig, log *zap.Logger, logLevel string) (*Database, error) {
	if log == nil {
		log = zap.NewNop()
	}
	d, err := open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:                 logger.NewSQLLogger(log, logger.MapGormLogLevel(logLevel)),
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		return nil, err
	}

	d.sql.SetMaxOpenConns(cfg.MaxOpenConns)
	d.sql.SetMaxIdleConns(cfg.MaxIdleConns)
	d.sql.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
	d.sql.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Minute)

	if err := d.sql.Ping(); err != nil {
		_ = d.sql.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return d, nil
}

func open(dialector gorm.Dialector, gcfg *gorm.Config) (*Database, error) {
	db, err := gorm.Open(dialector, gcfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	return &Database{DB: db, sql: sqlDB}, nil
}

// SQL exposes the pool for metrics and migrations.
func (d *Database) SQL() *sql.DB { return d.sql }

func (d *Database) Close() error { return d.sql.Close() }

// Ping is the readiness check.
func (d *Database) Ping(ctx context.Context) error { return d.sql.PingContext(ctx) }

// AutoMigrate creates the schema from the models. Production schemas come
// from the SQL migrations; this is for tests and local stubs.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.StorageTierModel{},
		&models.UserStorageConfigModel{},
		&models.UploadSessionModel{},
		&models.BulkProcessingRequestModel{},
		&models.BulkProcessingRowLogModel{},
		&models.CatalogProductModel{},
	)
}

// tenantScope restricts a query to one tenant
func tenantScope(tenantID uuid.UUID) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("tenant_id = ?", tenantID)
	}
}
