// Package migration applies and scaffolds the PostgreSQL schema migrations
// for the ledger tables.
package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// DefaultDir is where `migrate create` writes new migration pairs
const DefaultDir = "internal/infrastructure/migration/sql"

//go:embed sql/*.sql
var embedded embed.FS

// Migrator runs golang-migrate against one PostgreSQL database
type Migrator struct {
	m   *migrate.Migrate
	log *zap.Logger
}

// New uses the migrations compiled into the binary
func New(db *sql.DB, log *zap.Logger) (*Migrator, error) {
	src, err := iofs.New(embedded, "sql")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	return open(db, "iofs", src, log)
}

// NewFromPath reads migrations from dir
func NewFromPath(db *sql.DB, dir string, log *zap.Logger) (*Migrator, error) {
	src, err := (&file.File{}).Open("file://" + dir)
	if err != nil {
		return nil, fmt.Errorf("open migrations in %s: %w", dir, err)
	}
	return open(db, "file", src, log)
}

func open(db *sql.DB, name string, src source.Driver, log *zap.Logger) (*Migrator, error) {
	if log == nil {
		log = zap.NewNop()
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("postgres migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance(name, src, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("migrate instance: %w", err)
	}
	return &Migrator{m: m, log: log}, nil
}

// Up applies every pending migration
func (m *Migrator) Up() error {
	return m.run("up", m.m.Up)
}

// Down rolls back every applied migration
func (m *Migrator) Down() error {
	return m.run("down", m.m.Down)
}

// Steps applies n migrations; negative n rolls back
func (m *Migrator) Steps(n int) error {
	return m.run(fmt.Sprintf("steps %d", n), func() error { return m.m.Steps(n) })
}

// GoTo migrates up or down to version
func (m *Migrator) GoTo(version uint) error {
	return m.run(fmt.Sprintf("goto %d", version), func() error { return m.m.Migrate(version) })
}

// run executes op, treating ErrNoChange as success, and logs the resulting
// schema version
func (m *Migrator) run(op string, fn func() error) error {
	m.log.Info("Running migrations", zap.String("op", op))
	err := fn()
	if errors.Is(err, migrate.ErrNoChange) {
		m.log.Info("No migrations to apply", zap.String("op", op))
		return nil
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", op, err)
	}
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	m.log.Info("Migrations applied",
		zap.String("op", op),
		zap.Uint("version", version),
		zap.Bool("dirty", dirty),
	)
	return nil
}

// Version returns the current schema version, 0 when nothing is applied
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("read schema version: %w", err)
	}
	return version, dirty, nil
}

// Force records version as applied without running anything. It exists to
// clear a dirty flag after a failed migration was repaired by hand.
func (m *Migrator) Force(version int) error {
	m.log.Warn("Forcing schema version", zap.Int("version", version))
	if err := m.m.Force(version); err != nil {
		return fmt.Errorf("force version %d: %w", version, err)
	}
	return nil
}

// Drop removes every table, ledger history included
func (m *Migrator) Drop() error {
	m.log.Warn("Dropping all tables")
	if err := m.m.Drop(); err != nil {
		return fmt.Errorf("drop: %w", err)
	}
	return nil
}

// Close releases the source and database handles
func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	return errors.Join(srcErr, dbErr)
}

// EmbeddedMigrations lists the migrations compiled into the binary
func EmbeddedMigrations() ([]string, error) {
	entries, err := embedded.ReadDir("sql")
	if err != nil {
		return nil, fmt.Errorf("read embedded migrations: %w", err)
	}
	return upMigrationNames(entries), nil
}
