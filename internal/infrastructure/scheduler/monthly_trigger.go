package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coopportal/backend/internal/domain/ledger"
	"go.uber.org/zap"
)

// ErrInvalidSchedule rejects cron expressions the monthly trigger cannot honour
var ErrInvalidSchedule = errors.New("invalid settlement schedule")

// MonthlySchedule is the day-of-month and time of day a settlement run fires
type MonthlySchedule struct {
	Day    int
	Hour   int
	Minute int
}

// DefaultMonthlySchedule is 02:00 on the 1st
func DefaultMonthlySchedule() MonthlySchedule {
	return MonthlySchedule{Day: 1, Hour: 2, Minute: 0}
}

// ParseCronSchedule parses a five-field cron expression "minute hour day-of-month * *".
// Month and day-of-week must be "*". An empty expression yields the default schedule.
func ParseCronSchedule(expr string) (MonthlySchedule, error) {
	if strings.TrimSpace(expr) == "" {
		return DefaultMonthlySchedule(), nil
	}

	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return MonthlySchedule{}, fmt.Errorf("%w: expected 5 fields, got %d in %q", ErrInvalidSchedule, len(parts), expr)
	}
	if parts[3] != "*" || parts[4] != "*" {
		return MonthlySchedule{}, fmt.Errorf("%w: month and day-of-week must be '*' in %q", ErrInvalidSchedule, expr)
	}

	minute, err := parseCronField(parts[0], "minute", 0, 59)
	if err != nil {
		return MonthlySchedule{}, err
	}
	hour, err := parseCronField(parts[1], "hour", 0, 23)
	if err != nil {
		return MonthlySchedule{}, err
	}
	// Days past 28 would skip February.
	day, err := parseCronField(parts[2], "day-of-month", 1, 28)
	if err != nil {
		return MonthlySchedule{}, err
	}

	return MonthlySchedule{Day: day, Hour: hour, Minute: minute}, nil
}

func parseCronField(field, name string, lo, hi int) (int, error) {
	v, err := strconv.Atoi(field)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a number, got %q", ErrInvalidSchedule, name, field)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%w: %s must be %d-%d, got %d", ErrInvalidSchedule, name, lo, hi, v)
	}
	return v, nil
}

// FireTime returns when the schedule fires in the month containing t
func (m MonthlySchedule) FireTime(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), m.Day, m.Hour, m.Minute, 0, 0, t.Location())
}

// JobSubmitter queues settlement runs
type JobSubmitter interface {
	ScheduleSettlement(period ledger.Period, trigger Trigger) (*Job, error)
}

// MonthlyTriggerConfig holds configuration for the monthly trigger
type MonthlyTriggerConfig struct {
	Schedule      MonthlySchedule
	CheckInterval time.Duration
	Location      *time.Location
}

// MonthlyTrigger queues one settlement run per calendar month once the scheduled time has passed.
// A daemon that was down at the scheduled minute catches up on its next check in the same month.
type MonthlyTrigger struct {
	config    MonthlyTriggerConfig
	submitter JobSubmitter
	logger    *zap.Logger
	now       func() time.Time

	cancel        context.CancelFunc
	wg            sync.WaitGroup
	mu            sync.Mutex
	isRunning     bool
	lastRunPeriod ledger.Period
	lastRunAt     *time.Time
}

// NewMonthlyTrigger creates a new monthly trigger
func NewMonthlyTrigger(config MonthlyTriggerConfig, submitter JobSubmitter, logger *zap.Logger) *MonthlyTrigger {
	if config.CheckInterval <= 0 {
		config.CheckInterval = time.Minute
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MonthlyTrigger{
		config:    config,
		submitter: submitter,
		logger:    logger,
		now:       time.Now,
	}
}

// MarkSettled records that period already ran, so the trigger will not queue it again
func (c *MonthlyTrigger) MarkSettled(period ledger.Period) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if period > c.lastRunPeriod {
		c.lastRunPeriod = period
	}
}

// Start starts the check loop
func (c *MonthlyTrigger) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = true
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.runLoop(ctx)

	c.logger.Info("Monthly settlement trigger started",
		zap.Int("day", c.config.Schedule.Day),
		zap.Int("hour", c.config.Schedule.Hour),
		zap.Int("minute", c.config.Schedule.Minute),
		zap.String("timezone", c.config.Location.String()),
		zap.Time("next_run_at", c.NextRunAt()),
	)
	return nil
}

// Stop stops the check loop
func (c *MonthlyTrigger) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = false
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("Monthly settlement trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *MonthlyTrigger) runLoop(ctx context.Context) {
	defer c.wg.Done()

	// A daemon started after the fire time catches up right away.
	c.checkAndTrigger(TriggerStartup)

	ticker := time.NewTicker(c.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.checkAndTrigger(TriggerScheduled)
		}
	}
}

// checkAndTrigger queues the current month's run if its fire time has passed and it has not run yet.
// Returns true if a job was queued.
func (c *MonthlyTrigger) checkAndTrigger(trigger Trigger) bool {
	now := c.now().In(c.config.Location)
	period := ledger.PeriodOf(now)

	c.mu.Lock()
	if c.lastRunPeriod >= period || now.Before(c.config.Schedule.FireTime(now)) {
		c.mu.Unlock()
		return false
	}
	previous := c.lastRunPeriod
	c.lastRunPeriod = period
	c.lastRunAt = &now
	c.mu.Unlock()

	job, err := c.submitter.ScheduleSettlement(period, trigger)
	if err != nil {
		c.logger.Error("Failed to queue scheduled settlement run",
			zap.String("period", period.String()),
			zap.Error(err),
		)
		// Let the next tick try again.
		c.mu.Lock()
		c.lastRunPeriod = previous
		c.mu.Unlock()
		return false
	}

	c.logger.Info("Scheduled settlement run queued",
		zap.String("period", period.String()),
		zap.String("trigger", string(trigger)),
		zap.String("job_id", job.ID.String()),
	)
	return true
}

// NextRunAt returns the next time the trigger will fire
func (c *MonthlyTrigger) NextRunAt() time.Time {
	now := c.now().In(c.config.Location)
	next := c.config.Schedule.FireTime(now)

	c.mu.Lock()
	settled := c.lastRunPeriod >= ledger.PeriodOf(now)
	c.mu.Unlock()

	if settled {
		return c.config.Schedule.FireTime(now.AddDate(0, 1, 1-now.Day()))
	}
	if now.Before(next) {
		return next
	}
	// Overdue; fires on the next check.
	return now
}

// LastRunAt returns when the trigger last queued a run, or nil
func (c *MonthlyTrigger) LastRunAt() *time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRunAt
}
