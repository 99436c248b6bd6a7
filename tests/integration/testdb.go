// Package integration runs the settlement engine against real PostgreSQL and
// Redis containers started with testcontainers.
package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/coopportal/backend/internal/infrastructure/migration"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// TestDB is a migrated PostgreSQL database in a throwaway container
type TestDB struct {
	DB  *gorm.DB
	DSN string
}

// NewTestDB starts postgres:16, applies the embedded migrations and
// registers cleanup with t
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()
	skipShort(t)
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("coop_test"),
		tcpostgres.WithUsername("coop"),
		tcpostgres.WithPassword("coop"),
		testcontainers.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(time.Minute)),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err, "start postgres container")

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	level := gormlogger.Silent
	if os.Getenv("TEST_DB_DEBUG") != "" {
		level = gormlogger.Info
	}
	db, err := gorm.Open(gormpostgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(level)})
	require.NoError(t, err)

	pool, err := db.DB()
	require.NoError(t, err)
	// the worker pool runs members concurrently
	pool.SetMaxOpenConns(10)
	t.Cleanup(func() { _ = pool.Close() })

	m, err := migration.New(pool, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, m.Up(), "apply migrations")

	return &TestDB{DB: db, DSN: dsn}
}

func skipShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("container test skipped in short mode")
	}
}
