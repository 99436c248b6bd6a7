package settlement

import (
	"context"
	"fmt"
	"strings"

	"github.com/coopportal/backend/internal/domain/ledger"
	"github.com/coopportal/backend/internal/domain/notification"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxReportedErrors bounds the error lines included in a summary notification
const maxReportedErrors = 10

// RunReporter informs administrators about the end of a run
type RunReporter struct {
	sink     notification.Sink
	alerts   notification.AlertSink
	admins   notification.AdminDirectory
	currency string
	logger   *zap.Logger
}

// NewRunReporter creates a new RunReporter
func NewRunReporter(sink notification.Sink, alerts notification.AlertSink, admins notification.AdminDirectory, currency string, logger *zap.Logger) *RunReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunReporter{
		sink:     sink,
		alerts:   alerts,
		admins:   admins,
		currency: currency,
		logger:   logger,
	}
}

// ReportSummary sends one settlement_summary notification to every admin
func (r *RunReporter) ReportSummary(ctx context.Context, s *RunSummary) {
	title := fmt.Sprintf("Settlement summary for %s", s.Period)
	message := r.summaryMessage(s)

	for _, adminID := range r.listAdmins(ctx) {
		n := notification.New(adminID, notification.TypeSettlementSummary, title, message, notification.PriorityNormal)
		if err := r.sink.Send(ctx, n); err != nil {
			r.logger.Warn("Failed to send settlement summary",
				zap.String("admin_id", adminID.String()),
				zap.Error(err),
			)
		}
	}
}

// ReportFailure sends an urgent settlement_run_failed notification to every admin
// and raises one admin alert carrying the error message
func (r *RunReporter) ReportFailure(ctx context.Context, runID uuid.UUID, period ledger.Period, runErr error) {
	message := fmt.Sprintf("The settlement run for %s failed before processing any obligation: %v", period, runErr)

	for _, adminID := range r.listAdmins(ctx) {
		n := notification.New(adminID, notification.TypeSettlementRunFailed, "Settlement run failed", message, notification.PriorityUrgent)
		if err := r.sink.Send(ctx, n); err != nil {
			r.logger.Warn("Failed to send run failure notification",
				zap.String("admin_id", adminID.String()),
				zap.Error(err),
			)
		}
	}

	alert := notification.NewAdminAlert(notification.AlertSettlementRunFailed, map[string]any{
		"run_id": runID.String(),
		"period": period.String(),
		"error":  runErr.Error(),
	})
	if err := r.alerts.Send(ctx, alert); err != nil {
		r.logger.Error("Failed to raise settlement failure alert",
			zap.String("period", period.String()),
			zap.NamedError("run_error", runErr),
			zap.Error(err),
		)
	}
}

func (r *RunReporter) listAdmins(ctx context.Context) []uuid.UUID {
	ids, err := r.admins.ListAdminIDs(ctx)
	if err != nil {
		r.logger.Error("Failed to list admins for run report", zap.Error(err))
		return nil
	}
	if len(ids) == 0 {
		r.logger.Warn("No admins to receive the run report")
	}
	return ids
}

func (r *RunReporter) summaryMessage(s *RunSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Loans: %d deducted, %d failed, %d skipped.\n", s.LoansProcessed, s.LoansFailed, s.LoansSkipped)
	fmt.Fprintf(&b, "Commodity orders: %d deducted, %d failed, %d skipped.\n", s.CommoditiesProcessed, s.CommoditiesFailed, s.CommoditiesSkipped)
	fmt.Fprintf(&b, "Total deducted: %s.", FormatAmount(s.TotalDeducted, r.currency))
	if s.Deferred > 0 {
		fmt.Fprintf(&b, "\n%d obligations were deferred to the next run.", s.Deferred)
	}

	for i, e := range s.Errors {
		if i == maxReportedErrors {
			fmt.Fprintf(&b, "\n... and %d more", len(s.Errors)-maxReportedErrors)
			break
		}
		fmt.Fprintf(&b, "\n- %s %s (member %s): %s", e.Kind, e.ObligationID, e.MemberID, e.Message)
	}
	return b.String()
}
