package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/coopportal/backend/internal/infrastructure/config"
	"github.com/coopportal/backend/internal/infrastructure/persistence/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Database is an open GORM connection and its pool
type Database struct {
	DB     *gorm.DB
	pool   *sql.DB
	driver string
}

// Open connects using cfg and verifies the connection. A nil gormLog
// silences GORM.
func Open(cfg *config.DatabaseConfig, gormLog gormlogger.Interface) (*Database, error) {
	if gormLog == nil {
		gormLog = gormlogger.Default.LogMode(gormlogger.Silent)
	}
	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}

	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	case "sqlite":
		dialector = sqlite.Open(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormLog,
		SkipDefaultTransaction: true,
		PrepareStmt:            driver == "postgres",
	})
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", driver, err)
	}
	pool, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("connection pool: %w", err)
	}

	if driver == "sqlite" {
		// sqlite allows one writer; the worker pool would otherwise hit SQLITE_BUSY
		pool.SetMaxOpenConns(1)
	} else {
		pool.SetMaxOpenConns(cfg.MaxOpenConns)
		pool.SetMaxIdleConns(cfg.MaxIdleConns)
		pool.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
		pool.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Minute)
	}

	d := &Database{DB: db, pool: pool, driver: driver}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return d, nil
}

// Driver returns "postgres" or "sqlite"
func (d *Database) Driver() string {
	return d.driver
}

// PingContext checks the connection; the health endpoint calls it
func (d *Database) PingContext(ctx context.Context) error {
	return d.pool.PingContext(ctx)
}

// AutoMigrate creates the ledger tables from the GORM models. PostgreSQL
// deployments use the versioned SQL migrations instead.
func (d *Database) AutoMigrate() error {
	if err := d.DB.AutoMigrate(models.LedgerModels()...); err != nil {
		return fmt.Errorf("auto-migrate ledger tables: %w", err)
	}
	return nil
}

// Close closes the pool
func (d *Database) Close() error {
	return d.pool.Close()
}
