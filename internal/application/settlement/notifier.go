package settlement

import (
	"context"
	"fmt"
	"maps"

	"github.com/coopportal/backend/internal/domain/ledger"
	"github.com/coopportal/backend/internal/domain/notification"
	"go.uber.org/zap"
)

// NotifierConfig holds formatting and alerting options for member notifications
type NotifierConfig struct {
	Currency string
	// LargeDeductionThreshold raises an admin alert for committed deductions at or above it (minor units, 0 disables)
	LargeDeductionThreshold int64
}

// OutcomeNotifier turns per-item outcomes into member notifications.
// It never returns an error: sink failures are logged and dropped.
type OutcomeNotifier struct {
	sink   notification.Sink
	alerts notification.AlertSink
	config NotifierConfig
	logger *zap.Logger
}

// NewOutcomeNotifier creates a new OutcomeNotifier. alerts may be nil when large deduction alerts are disabled.
func NewOutcomeNotifier(sink notification.Sink, alerts notification.AlertSink, config NotifierConfig, logger *zap.Logger) *OutcomeNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutcomeNotifier{
		sink:   sink,
		alerts: alerts,
		config: config,
		logger: logger,
	}
}

// DeductionSucceeded tells the member an installment was deducted
func (n *OutcomeNotifier) DeductionSucceeded(ctx context.Context, o ledger.Obligation, amount, balanceAfter int64) {
	title := "Loan repayment deducted"
	if o.Kind == ledger.KindCommodity {
		title = "Commodity installment deducted"
	}
	message := fmt.Sprintf("%s was deducted from your savings for %s %s. Your savings balance is now %s.",
		n.format(amount), describeKind(o.Kind), shortID(o), n.format(balanceAfter))

	n.send(ctx, notification.New(o.MemberID(), notification.TypeDeductionSuccess, title, message, notification.PriorityNormal).
		WithMetadata(n.metadata(o, map[string]any{
			"amount":        amount,
			"balance_after": balanceAfter,
		})))

	if n.alerts != nil && n.config.LargeDeductionThreshold > 0 && amount >= n.config.LargeDeductionThreshold {
		alert := notification.NewAdminAlert(notification.AlertLargeDeduction, map[string]any{
			"member_id":     o.MemberID().String(),
			"obligation_id": o.ID().String(),
			"kind":          string(o.Kind),
			"amount":        amount,
			"threshold":     n.config.LargeDeductionThreshold,
		})
		if err := n.alerts.Send(ctx, alert); err != nil {
			n.logger.Warn("Failed to raise large deduction alert",
				zap.String("obligation_id", o.ID().String()),
				zap.Error(err),
			)
		}
	}
}

// PaymentCompleted tells the member the final installment was paid
func (n *OutcomeNotifier) PaymentCompleted(ctx context.Context, o ledger.Obligation) {
	title := "Loan fully repaid"
	message := fmt.Sprintf("Your loan %s has been fully repaid. Thank you.", shortID(o))
	if o.Kind == ledger.KindCommodity {
		title = "Commodity order paid off"
		message = fmt.Sprintf("All installments for commodity order %s have been paid.", shortID(o))
	}
	n.send(ctx, notification.New(o.MemberID(), notification.TypePaymentCompleted, title, message, notification.PriorityNormal).
		WithMetadata(n.metadata(o, nil)))
}

// DeductionFailed tells the member an installment could not be deducted
func (n *OutcomeNotifier) DeductionFailed(ctx context.Context, o ledger.Obligation, required, available int64) {
	message := fmt.Sprintf("We could not deduct %s for %s %s: required %s, available %s. Please top up your savings before the next settlement.",
		n.format(required), describeKind(o.Kind), shortID(o), n.format(required), n.format(available))
	n.send(ctx, notification.New(o.MemberID(), notification.TypeDeductionFailed, "Monthly deduction failed", message, notification.PriorityHigh).
		WithMetadata(n.metadata(o, map[string]any{
			"required":  required,
			"available": available,
			"shortfall": required - available,
		})))
}

// metadata merges the obligation identity into fields. Amounts are minor units.
func (n *OutcomeNotifier) metadata(o ledger.Obligation, fields map[string]any) map[string]any {
	md := map[string]any{
		"obligation_id": o.ID().String(),
		"kind":          string(o.Kind),
		"currency":      n.config.Currency,
	}
	maps.Copy(md, fields)
	return md
}

func (n *OutcomeNotifier) send(ctx context.Context, msg notification.Notification) {
	if err := n.sink.Send(ctx, msg); err != nil {
		n.logger.Warn("Failed to send member notification",
			zap.String("user_id", msg.UserID.String()),
			zap.String("type", string(msg.Type)),
			zap.Error(err),
		)
	}
}

func (n *OutcomeNotifier) format(minor int64) string {
	return FormatAmount(minor, n.config.Currency)
}

func describeKind(kind ledger.ObligationKind) string {
	if kind == ledger.KindLoan {
		return "loan"
	}
	return "commodity order"
}

func shortID(o ledger.Obligation) string {
	return o.ID().String()[:8]
}
