package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coopportal/backend/internal/application/settlement"
	"github.com/coopportal/backend/internal/infrastructure/auth"
	"github.com/coopportal/backend/internal/infrastructure/cache"
	"github.com/coopportal/backend/internal/infrastructure/config"
	"github.com/coopportal/backend/internal/infrastructure/logger"
	"github.com/coopportal/backend/internal/infrastructure/persistence"
	"github.com/coopportal/backend/internal/infrastructure/scheduler"
	"github.com/coopportal/backend/internal/infrastructure/telemetry"
	"github.com/coopportal/backend/internal/interfaces/http/handler"
	"github.com/coopportal/backend/internal/interfaces/http/middleware"
	"github.com/coopportal/backend/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	ctx := context.Background()

	// Bootstrap logger, replaced by the bridged logger once telemetry is up
	baseLog, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	// Telemetry: traces, metrics, logs
	providers, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    cfg.App.Version,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		Insecure:          cfg.Telemetry.Insecure,
	}, baseLog)
	if err != nil {
		baseLog.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	meterProvider := providers.Meter

	log := telemetry.BridgeLogger(baseLog, providers.Logs, cfg.Telemetry.ServiceName)
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting settlement service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("timezone", cfg.Settlement.Location().String()),
	)

	// Database
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level),
		logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh),
	)
	db, err := persistence.Open(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if db.Driver() == "sqlite" {
		if err := db.AutoMigrate(); err != nil {
			log.Fatal("Failed to create sqlite schema", zap.Error(err))
		}
	}
	log.Info("Database connected", zap.String("driver", db.Driver()))

	dbSystem := "postgresql"
	if db.Driver() == "sqlite" {
		dbSystem = "sqlite"
	}
	var dbMeter metric.Meter
	if meterProvider.IsEnabled() {
		dbMeter = meterProvider.Meter("db.client")
	}
	dbTelemetry, err := telemetry.InstrumentGorm(db.DB, telemetry.GormConfig{
		Tracing:        cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		DBSystem:       dbSystem,
		QueryVariables: cfg.Telemetry.DBLogFullSQL,
		SlowQuery:      cfg.Telemetry.DBSlowQueryThresh,
		Meter:          dbMeter,
	}, log)
	if err != nil {
		log.Warn("Database instrumentation disabled", zap.Error(err))
	}
	defer func() {
		_ = dbTelemetry.Close()
	}()

	// Period run lock: Redis when enabled, in-process otherwise
	lock, err := cache.NewRunLock(cfg.Redis, log, cfg.App.Env != "production")
	if err != nil {
		log.Fatal("Failed to create settlement run lock", zap.Error(err))
	}
	defer func() {
		if err := lock.Close(); err != nil {
			log.Error("Error closing run lock store", zap.Error(err))
		}
	}()

	settlementMetrics, err := telemetry.NewSettlementMetrics(meterProvider.Meter("settlement"), log)
	if err != nil {
		log.Warn("Settlement metrics disabled", zap.Error(err))
	}

	// Settlement service
	store := persistence.NewGormLedgerStore(db.DB)
	notifications := persistence.NewGormNotificationSink(db.DB)
	alerts := persistence.NewGormAdminAlertSink(db.DB)
	admins := persistence.NewGormAdminDirectory(db.DB)

	notifier := settlement.NewOutcomeNotifier(notifications, alerts, settlement.NotifierConfig{
		Currency:                cfg.Settlement.Currency,
		LargeDeductionThreshold: cfg.Settlement.LargeDeductionThreshold,
	}, log)
	reporter := settlement.NewRunReporter(notifications, alerts, admins, cfg.Settlement.Currency, log)
	settlementService := settlement.NewService(store, lock, notifier, reporter, settlementMetrics, settlement.Config{
		Workers:    cfg.Settlement.Workers,
		RunTimeout: cfg.Settlement.RunTimeout,
		LockTTL:    cfg.Settlement.LockTTL,
	}, log)

	// Job scheduler and monthly trigger
	jobScheduler := scheduler.NewScheduler(scheduler.Config{
		MaxConcurrentJobs: cfg.Scheduler.MaxConcurrentJobs,
		JobTimeout:        cfg.Scheduler.JobTimeout,
		RetryAttempts:     cfg.Scheduler.RetryAttempts,
		RetryDelay:        cfg.Scheduler.RetryDelay,
	}, settlementService, log)
	if err := jobScheduler.Start(ctx); err != nil {
		log.Fatal("Failed to start job scheduler", zap.Error(err))
	}

	var trigger *scheduler.MonthlyTrigger
	if cfg.Scheduler.Enabled {
		trigger, err = newMonthlyTrigger(ctx, cfg, store, jobScheduler, log)
		if err != nil {
			log.Fatal("Failed to configure monthly trigger", zap.Error(err))
		}
		if err := trigger.Start(ctx); err != nil {
			log.Fatal("Failed to start monthly trigger", zap.Error(err))
		}
		log.Info("Monthly settlement trigger started",
			zap.String("schedule", cfg.Scheduler.CronSchedule),
			zap.Time("next_run_at", trigger.NextRunAt()),
		)
	} else {
		log.Info("Scheduled settlement disabled; runs can still be queued through the API")
	}

	// HTTP ops API
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	var nextRun handler.NextRunProvider
	if trigger != nil {
		nextRun = trigger
	}
	engine := router.NewEngine(router.EngineConfig{
		Logger:        log,
		JWTService:    auth.NewJWTService(cfg.JWT),
		MeterProvider: meterProvider,
		Tracing: middleware.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     cfg.Telemetry.Enabled,
		},
		Health:     handler.NewHealthHandler(db, jobScheduler, nextRun, log),
		Settlement: handler.NewSettlementHandler(settlementService, jobScheduler, cfg.Settlement.Location(), cfg.Settlement.Currency),
	})

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down settlement service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if trigger != nil {
		if err := trigger.Stop(shutdownCtx); err != nil {
			log.Error("Error stopping monthly trigger", zap.Error(err))
		}
	}
	// Waits for an in-flight run; an interrupted run resumes safely on the next trigger
	if err := jobScheduler.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping job scheduler", zap.Error(err))
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down telemetry", zap.Error(err))
	}

	log.Info("Settlement service exited gracefully")
}

// newMonthlyTrigger builds the trigger and seeds it with the latest period already settled
func newMonthlyTrigger(ctx context.Context, cfg *config.Config, store *persistence.GormLedgerStore, submitter scheduler.JobSubmitter, log *zap.Logger) (*scheduler.MonthlyTrigger, error) {
	schedule, err := scheduler.ParseCronSchedule(cfg.Scheduler.CronSchedule)
	if err != nil {
		return nil, err
	}

	trigger := scheduler.NewMonthlyTrigger(scheduler.MonthlyTriggerConfig{
		Schedule:      schedule,
		CheckInterval: cfg.Scheduler.CheckInterval,
		Location:      cfg.Settlement.Location(),
	}, submitter, log)

	settled, err := store.LatestSettledPeriod(ctx)
	if err != nil {
		log.Warn("Could not read the latest settled period; the trigger relies on per-period markers", zap.Error(err))
	} else if settled != "" {
		trigger.MarkSettled(settled)
		log.Info("Latest settled period", zap.String("period", settled.String()))
	}
	return trigger, nil
}
