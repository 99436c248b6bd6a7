package scheduler

import (
	"context"
	"time"

	"github.com/coopportal/backend/internal/domain/ledger"
	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusPending JobStatus = "PENDING"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusFailed  JobStatus = "FAILED"
)

// Trigger records what queued a settlement job
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
	TriggerStartup   Trigger = "startup"
)

// Job is one queued settlement run. Only the worker executing it mutates it.
type Job struct {
	ID          uuid.UUID
	Period      ledger.Period
	Trigger     Trigger
	Status      JobStatus
	Error       string
	StartedAt   *time.Time
	CompletedAt *time.Time
	RetryCount  int
	MaxRetries  int
}

func NewJob(period ledger.Period, trigger Trigger, maxRetries int) *Job {
	return &Job{
		ID:         uuid.New(),
		Period:     period,
		Trigger:    trigger,
		Status:     JobStatusPending,
		MaxRetries: maxRetries,
	}
}

func (j *Job) begin() {
	now := time.Now()
	j.Status, j.StartedAt, j.CompletedAt, j.Error = JobStatusRunning, &now, nil, ""
}

// end records the outcome of the current attempt
func (j *Job) end(err error) {
	now := time.Now()
	j.CompletedAt = &now
	if err == nil {
		j.Status = JobStatusSuccess
		return
	}
	j.Status, j.Error = JobStatusFailed, err.Error()
}

func (j *Job) retriesLeft() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// requeued resets the job for its next attempt
func (j *Job) requeued() {
	j.RetryCount++
	j.Status = JobStatusPending
}

// JobExecutor runs a settlement job. Errors wrapping ErrJobNotRetryable are
// final.
type JobExecutor interface {
	Execute(ctx context.Context, job *Job) error
}

type JobExecutorFunc func(ctx context.Context, job *Job) error

func (f JobExecutorFunc) Execute(ctx context.Context, job *Job) error {
	return f(ctx, job)
}
