// Command migrate manages the PostgreSQL schema of the settlement service.
package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"slices"
	"strconv"

	"github.com/coopportal/backend/internal/infrastructure/config"
	"github.com/coopportal/backend/internal/infrastructure/logger"
	"github.com/coopportal/backend/internal/infrastructure/migration"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const usage = `Usage: migrate [-path dir] [-log-level level] <command> [args]

Commands:
  up                    apply all pending migrations
  down                  roll back all migrations
  step <n>              apply n migrations, negative n rolls back
  goto <version>        migrate to version
  version               print the current schema version
  force <version>       mark version as applied without running it
  drop -confirm         drop every table, ledger history included
  create <name> [desc]  write the next numbered migration pair
  list                  list available migrations

Without -path the migrations embedded in the binary are used; create writes
to internal/infrastructure/migration/sql. The database is read from the
COOP_DATABASE_* environment variables.
`

var errUsage = errors.New("invalid usage")

func main() {
	path := flag.String("path", "", "migrations directory instead of the embedded set")
	level := flag.String("log-level", "info", "debug, info, warn or error")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	log, err := logger.New(&logger.Config{Level: *level, Format: "console", TimeFormat: "2006-01-02 15:04:05"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync(log) }()

	if err := run(flag.Args(), *path, log); err != nil {
		if errors.Is(err, errUsage) {
			flag.Usage()
		}
		log.Error("Migration command failed", zap.Strings("args", flag.Args()), zap.Error(err))
		_ = logger.Sync(log)
		os.Exit(1)
	}
}

func run(args []string, path string, log *zap.Logger) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "create":
		return create(rest, path, log)
	case "list":
		return list(path)
	}

	m, closeDB, err := openMigrator(path, log)
	if err != nil {
		return err
	}
	defer closeDB()
	defer m.Close()

	switch cmd {
	case "up":
		return m.Up()
	case "down":
		return m.Down()
	case "step":
		n, err := intArg(rest)
		if err != nil {
			return err
		}
		return m.Steps(n)
	case "goto":
		n, err := intArg(rest)
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("%w: version must not be negative", errUsage)
		}
		return m.GoTo(uint(n))
	case "force":
		n, err := intArg(rest)
		if err != nil {
			return err
		}
		return m.Force(n)
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		log.Info("Schema version", zap.Uint("version", version), zap.Bool("dirty", dirty))
		return nil
	case "drop":
		if !slices.Contains(rest, "-confirm") && !slices.Contains(rest, "--confirm") {
			return fmt.Errorf("%w: drop needs -confirm", errUsage)
		}
		return m.Drop()
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
}

func openMigrator(path string, log *zap.Logger) (*migration.Migrator, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.Driver == "sqlite" {
		return nil, nil, errors.New("SQL migrations target PostgreSQL; sqlite tables are created on startup")
	}

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}

	var m *migration.Migrator
	if path == "" {
		m, err = migration.New(db, log)
	} else {
		m, err = migration.NewFromPath(db, path, log)
	}
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return m, func() { db.Close() }, nil
}

func create(args []string, path string, log *zap.Logger) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: create needs a name", errUsage)
	}
	var desc string
	if len(args) > 1 {
		desc = args[1]
	}
	if path == "" {
		path = migration.DefaultDir
	}
	mf, err := migration.CreateMigration(path, args[0], desc)
	if err != nil {
		return err
	}
	log.Info("Migration created", zap.String("up", mf.UpPath), zap.String("down", mf.DownPath))
	return nil
}

func list(path string) error {
	var (
		names []string
		err   error
	)
	if path == "" {
		names, err = migration.EmbeddedMigrations()
	} else {
		names, err = migration.ListMigrations(path)
	}
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func intArg(args []string) (int, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("%w: missing numeric argument", errUsage)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", errUsage, args[0])
	}
	return n, nil
}
