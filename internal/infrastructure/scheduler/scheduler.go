// Package scheduler queues settlement runs onto a bounded worker pool and
// fires them monthly from a cron-style trigger.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coopportal/backend/internal/domain/ledger"
	"go.uber.org/zap"
)

var (
	ErrSchedulerNotRunning = errors.New("scheduler is not running")
	ErrJobQueueFull        = errors.New("job queue is full")
	ErrJobNotRetryable     = errors.New("job is not retryable")
)

type Config struct {
	MaxConcurrentJobs int
	JobTimeout        time.Duration // zero means no per-job deadline
	RetryAttempts     int
	RetryDelay        time.Duration
	QueueSize         int
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrentJobs: 1,
		JobTimeout:        2 * time.Hour,
		RetryAttempts:     2,
		RetryDelay:        10 * time.Minute,
		QueueSize:         16,
	}
}

// Scheduler executes queued jobs, applying the job timeout and re-queueing
// failures after RetryDelay
type Scheduler struct {
	cfg  Config
	exec JobExecutor
	log  *zap.Logger

	mu      sync.Mutex
	running bool
	queue   chan *Job
	cancel  context.CancelFunc
	active  sync.WaitGroup
}

func NewScheduler(cfg Config, exec JobExecutor, log *zap.Logger) *Scheduler {
	cfg.MaxConcurrentJobs = max(cfg.MaxConcurrentJobs, 1)
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{cfg: cfg, exec: exec, log: log.Named("scheduler")}
}

// Start launches the workers. Starting a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.queue = make(chan *Job, s.cfg.QueueSize)
	s.running = true
	for id := range s.cfg.MaxConcurrentJobs {
		s.active.Add(1)
		go s.work(ctx, id, s.queue)
	}

	s.log.Info("Scheduler started",
		zap.Int("workers", s.cfg.MaxConcurrentJobs),
		zap.Duration("job_timeout", s.cfg.JobTimeout),
		zap.Int("retry_attempts", s.cfg.RetryAttempts),
	)
	return nil
}

// Stop cancels in-flight jobs and pending retries, then waits for workers
// until ctx expires
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	close(s.queue)
	s.mu.Unlock()

	idle := make(chan struct{})
	go func() {
		s.active.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		s.log.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		s.log.Warn("Scheduler stop timed out with jobs still running")
		return ctx.Err()
	}
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ScheduleSettlement queues a run for period without blocking. The returned
// Job is a copy taken at queue time; workers own the original.
func (s *Scheduler) ScheduleSettlement(period ledger.Period, trigger Trigger) (*Job, error) {
	job := NewJob(period, trigger, s.cfg.RetryAttempts)
	queued := *job
	if err := s.enqueue(job); err != nil {
		return nil, err
	}
	return &queued, nil
}

func (s *Scheduler) enqueue(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ErrSchedulerNotRunning
	}
	select {
	case s.queue <- job:
		s.log.Debug("Job queued", jobFields(job)...)
		return nil
	default:
		return ErrJobQueueFull
	}
}

func (s *Scheduler) work(ctx context.Context, id int, queue <-chan *Job) {
	defer s.active.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-queue:
			if !ok {
				return
			}
			s.run(ctx, id, job)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, worker int, job *Job) {
	log := s.log.With(append(jobFields(job), zap.Int("worker_id", worker))...)
	job.begin()
	log.Info("Job started", zap.Int("attempt", job.RetryCount+1))

	jobCtx, cancel := ctx, context.CancelFunc(func() {})
	if s.cfg.JobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, s.cfg.JobTimeout)
	}
	err := s.exec.Execute(jobCtx, job)
	cancel()
	job.end(err)

	switch {
	case err == nil:
		log.Info("Job succeeded")
	case errors.Is(err, ErrJobNotRetryable) || !job.retriesLeft():
		log.Error("Job failed", zap.Error(err), zap.Int("retries_used", job.RetryCount))
	default:
		log.Warn("Job failed, will retry", zap.Error(err), zap.Duration("retry_delay", s.cfg.RetryDelay))
		job.requeued()
		s.active.Add(1)
		go s.retryLater(ctx, job)
	}
}

func (s *Scheduler) retryLater(ctx context.Context, job *Job) {
	defer s.active.Done()
	select {
	case <-ctx.Done():
		return
	case <-time.After(s.cfg.RetryDelay):
	}
	if err := s.enqueue(job); err != nil {
		s.log.Warn("Dropping job retry", append(jobFields(job), zap.Error(err))...)
	}
}

func jobFields(job *Job) []zap.Field {
	return []zap.Field{
		zap.String("job_id", job.ID.String()),
		zap.String("period", job.Period.String()),
		zap.String("trigger", string(job.Trigger)),
	}
}
