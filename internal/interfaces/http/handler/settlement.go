package handler

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/coopportal/backend/internal/application/settlement"
	"github.com/coopportal/backend/internal/domain/ledger"
	"github.com/coopportal/backend/internal/infrastructure/logger"
	"github.com/coopportal/backend/internal/infrastructure/scheduler"
	"github.com/coopportal/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RunStatusProvider exposes the most recent settlement run
type RunStatusProvider interface {
	LastRun() *settlement.RunStatus
}

// RunScheduler queues settlement runs
type RunScheduler interface {
	ScheduleSettlement(period ledger.Period, trigger scheduler.Trigger) (*scheduler.Job, error)
}

// SettlementHandler handles the settlement ops endpoints
type SettlementHandler struct {
	runs      RunStatusProvider
	scheduler RunScheduler
	location  *time.Location
	currency  string
	now       func() time.Time
}

// NewSettlementHandler creates a new SettlementHandler.
// location decides which month is current when no period is given.
func NewSettlementHandler(runs RunStatusProvider, sched RunScheduler, location *time.Location, currency string) *SettlementHandler {
	if location == nil {
		location = time.UTC
	}
	return &SettlementHandler{
		runs:      runs,
		scheduler: sched,
		location:  location,
		currency:  currency,
		now:       time.Now,
	}
}

// GetLatestRun returns the most recent run since startup.
// GET /api/v1/settlement/runs/latest
func (h *SettlementHandler) GetLatestRun(c *gin.Context) {
	status := h.runs.LastRun()
	if status == nil {
		fail(c, dto.ErrCodeNotFound, "No settlement run has finished since startup")
		return
	}
	respond(c, http.StatusOK, toRunResponse(status, h.currency))
}

// TriggerRun queues a run for the given period or the current month. Future
// periods are refused.
// POST /api/v1/settlement/runs
func (h *SettlementHandler) TriggerRun(c *gin.Context) {
	var req dto.TriggerSettlementRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		fail(c, dto.ErrCodeInvalidJSON, "Request body must be JSON")
		return
	}

	current := ledger.PeriodOf(h.now().In(h.location))
	period := current
	if req.Period != "" {
		parsed, err := ledger.ParsePeriod(req.Period)
		if err != nil {
			failWith(c, err)
			return
		}
		if current.Before(parsed) {
			fail(c, dto.ErrCodeInvalidPeriod, "Cannot settle a period after the current month "+current.String())
			return
		}
		period = parsed
	}

	job, err := h.scheduler.ScheduleSettlement(period, scheduler.TriggerManual)
	if err != nil {
		if errors.Is(err, scheduler.ErrSchedulerNotRunning) || errors.Is(err, scheduler.ErrJobQueueFull) {
			fail(c, dto.ErrCodeUnavailable, "Settlement scheduler cannot accept a run right now")
			return
		}
		failWith(c, err)
		return
	}

	logger.FromContext(c.Request.Context()).Info("Settlement run queued",
		zap.String("job_id", job.ID.String()),
		zap.String("period", period.String()),
		zap.String("requested_by", actor(c)),
	)

	respond(c, http.StatusAccepted, dto.SettlementJobResponse{
		JobID:      job.ID.String(),
		Period:     job.Period.String(),
		Trigger:    string(job.Trigger),
		Status:     string(job.Status),
		MaxRetries: job.MaxRetries,
	})
}

func toRunResponse(status *settlement.RunStatus, currency string) dto.SettlementRunResponse {
	resp := dto.SettlementRunResponse{
		RunID:           status.RunID.String(),
		Period:          status.Period.String(),
		Trigger:         status.Trigger,
		StartedAt:       status.StartedAt,
		FinishedAt:      status.FinishedAt,
		DurationSeconds: status.FinishedAt.Sub(status.StartedAt).Seconds(),
		Succeeded:       status.Error == "",
		Error:           status.Error,
	}
	if s := status.Summary; s != nil {
		summary := &dto.SettlementSummaryResponse{
			LoansProcessed:       s.LoansProcessed,
			LoansFailed:          s.LoansFailed,
			LoansSkipped:         s.LoansSkipped,
			CommoditiesProcessed: s.CommoditiesProcessed,
			CommoditiesFailed:    s.CommoditiesFailed,
			CommoditiesSkipped:   s.CommoditiesSkipped,
			Deferred:             s.Deferred,
			TotalDeducted:        s.TotalDeducted,
			TotalDeductedDisplay: settlement.FormatAmount(s.TotalDeducted, currency),
			Errors:               make([]dto.SettlementItemError, 0, len(s.Errors)),
		}
		for _, e := range s.Errors {
			summary.Errors = append(summary.Errors, dto.SettlementItemError{
				MemberID:     e.MemberID.String(),
				ObligationID: e.ObligationID.String(),
				Kind:         string(e.Kind),
				Outcome:      string(e.Outcome),
				Message:      e.Message,
			})
		}
		resp.Summary = summary
	}
	return resp
}
