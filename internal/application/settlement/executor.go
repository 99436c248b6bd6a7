package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/coopportal/backend/internal/infrastructure/scheduler"
)

// Execute runs a queued settlement job. A held period lock means another run is
// already settling the period, so the scheduler must not retry it. Administrators
// hear about a failed run once, on its last attempt.
func (s *Service) Execute(ctx context.Context, job *scheduler.Job) error {
	final := job.RetryCount >= job.MaxRetries
	_, err := s.run(ctx, job.Period, string(job.Trigger), final)
	if errors.Is(err, ErrRunInProgress) {
		return fmt.Errorf("%w: %w", scheduler.ErrJobNotRetryable, err)
	}
	return err
}

var _ scheduler.JobExecutor = (*Service)(nil)
