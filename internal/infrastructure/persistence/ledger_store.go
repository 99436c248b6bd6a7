package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/coopportal/backend/internal/domain/ledger"
	"github.com/coopportal/backend/internal/infrastructure/persistence/models"
	"github.com/coopportal/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormLedgerStore implements ledger.Store using GORM
type GormLedgerStore struct {
	db *gorm.DB
}

// NewGormLedgerStore creates a new GormLedgerStore
func NewGormLedgerStore(db *gorm.DB) *GormLedgerStore {
	return &GormLedgerStore{db: db}
}

// GetEligibleLoans returns every approved loan, oldest first
func (s *GormLedgerStore) GetEligibleLoans(ctx context.Context) ([]ledger.Loan, error) {
	var loanModels []models.LoanModel
	if err := s.db.WithContext(ctx).
		Where("status = ?", ledger.LoanStatusApproved.String()).
		Order("created_at ASC, id ASC").
		Find(&loanModels).Error; err != nil {
		return nil, fmt.Errorf("failed to enumerate eligible loans: %w", err)
	}

	loans := make([]ledger.Loan, 0, len(loanModels))
	for i := range loanModels {
		loan, err := loanModels[i].ToDomain()
		if err != nil {
			return nil, err
		}
		loans = append(loans, *loan)
	}
	return loans, nil
}

// GetEligibleOrders returns every approved order with deductions remaining, oldest first
func (s *GormLedgerStore) GetEligibleOrders(ctx context.Context) ([]ledger.CommodityOrder, error) {
	var orderModels []models.CommodityOrderModel
	if err := s.db.WithContext(ctx).
		Where("status = ? AND deductions_remaining > 0", ledger.OrderStatusApproved.String()).
		Order("created_at ASC, id ASC").
		Find(&orderModels).Error; err != nil {
		return nil, fmt.Errorf("failed to enumerate eligible orders: %w", err)
	}

	orders := make([]ledger.CommodityOrder, 0, len(orderModels))
	for i := range orderModels {
		order, err := orderModels[i].ToDomain()
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, nil
}

// GetLoan reloads a single loan
func (s *GormLedgerStore) GetLoan(ctx context.Context, id uuid.UUID) (*ledger.Loan, error) {
	var model models.LoanModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledger.ErrLoanNotFound
		}
		return nil, err
	}
	return model.ToDomain()
}

// GetOrder reloads a single commodity order
func (s *GormLedgerStore) GetOrder(ctx context.Context, id uuid.UUID) (*ledger.CommodityOrder, error) {
	var model models.CommodityOrderModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledger.ErrOrderNotFound
		}
		return nil, err
	}
	return model.ToDomain()
}

// GetSavingsAccount returns the member's savings account
func (s *GormLedgerStore) GetSavingsAccount(ctx context.Context, memberID uuid.UUID) (*ledger.SavingsAccount, error) {
	var model models.SavingsAccountModel
	if err := s.db.WithContext(ctx).First(&model, "member_id = ?", memberID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledger.ErrAccountNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// ApplyDeduction debits the savings account, inserts the ledger entry and advances
// the obligation in a single transaction.
//
// The balance check runs inside the UPDATE against the stored balance, so a
// concurrent debit can never drive the balance negative. The obligation update is
// guarded by its version and by last_settled_period, so a second run for the same
// period is rejected even if it raced past the enumeration.
func (s *GormLedgerStore) ApplyDeduction(ctx context.Context, d ledger.Deduction) (*ledger.DeductionReceipt, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "ledger_store", "apply_deduction",
		telemetry.WithAttribute(telemetry.SpanAttrMemberID, d.MemberID),
		telemetry.WithAttribute(telemetry.SpanAttrObligationID, d.Obligation.ID()),
		telemetry.WithAttribute(telemetry.SpanAttrKind, string(d.Obligation.Kind)),
		telemetry.WithAttribute(telemetry.SpanAttrAmount, d.Amount),
	)
	defer span.End()

	if d.Amount <= 0 {
		err := fmt.Errorf("%w: deduction amount must be positive, got %d", ledger.ErrInvalidObligation, d.Amount)
		telemetry.RecordError(span, err)
		return nil, err
	}

	var receipt *ledger.DeductionReceipt
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.SavingsAccountModel{}).
			Where("member_id = ? AND balance >= ?", d.MemberID, d.Amount).
			Updates(map[string]any{
				"balance":    gorm.Expr("balance - ?", d.Amount),
				"version":    gorm.Expr("version + 1"),
				"updated_at": time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.SavingsAccountModel{}).
				Where("member_id = ?", d.MemberID).
				Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ledger.ErrAccountNotFound
			}
			return ledger.ErrInsufficientBalance
		}

		var account models.SavingsAccountModel
		if err := tx.First(&account, "member_id = ?", d.MemberID).Error; err != nil {
			return err
		}

		if err := tx.Create(models.LedgerEntryModelFromDomain(d.Entry)).Error; err != nil {
			return err
		}

		if err := updateObligation(tx, d.Obligation, d.Period); err != nil {
			return err
		}

		receipt = &ledger.DeductionReceipt{
			EntryID:       d.Entry.ID,
			BalanceBefore: account.Balance + d.Amount,
			BalanceAfter:  account.Balance,
		}
		return nil
	})
	if err != nil {
		err = classifyDeductionError(err)
		telemetry.RecordError(span, err)
		return nil, err
	}

	telemetry.SetAttributes(span, telemetry.SpanAttrBalanceAfter, receipt.BalanceAfter)
	return receipt, nil
}

// classifyDeductionError keeps the ledger sentinels and turns everything else into ErrDeductionAborted
func classifyDeductionError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, ledger.ErrDeductionAborted):
		return err
	default:
		return fmt.Errorf("%w: %w", ledger.ErrDeductionAborted, err)
	}
}

// updateObligation writes the post-deduction obligation state, guarded by version and period marker.
// YYYY-MM markers order as text, so a period at or before the marker is refused.
func updateObligation(tx *gorm.DB, o ledger.Obligation, period ledger.Period) error {
	var res *gorm.DB
	switch o.Kind {
	case ledger.KindLoan:
		l := o.Loan
		res = tx.Model(&models.LoanModel{}).
			Where("id = ? AND version = ? AND last_settled_period < ?", l.ID, l.Version-1, period.String()).
			Updates(map[string]any{
				"status":              l.Status.String(),
				"total_repaid":        l.TotalRepaid,
				"last_settled_period": l.LastSettledPeriod.String(),
				"version":             l.Version,
				"updated_at":          l.UpdatedAt,
			})
	case ledger.KindCommodity:
		ord := o.Order
		res = tx.Model(&models.CommodityOrderModel{}).
			Where("id = ? AND version = ? AND last_settled_period < ?", ord.ID, ord.Version-1, period.String()).
			Updates(map[string]any{
				"status":               ord.Status.String(),
				"deductions_paid":      ord.DeductionsPaid,
				"deductions_remaining": ord.DeductionsRemaining,
				"last_settled_period":  ord.LastSettledPeriod.String(),
				"version":              ord.Version,
				"updated_at":           ord.UpdatedAt,
			})
	default:
		return fmt.Errorf("%w: unknown obligation kind %q", ledger.ErrInvalidObligation, o.Kind)
	}

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s %s was modified or already settled for %s", ledger.ErrDeductionAborted, o.Kind, o.ID(), period)
	}
	return nil
}

// CloseObligation persists a status-only transition, guarded by version
func (s *GormLedgerStore) CloseObligation(ctx context.Context, o ledger.Obligation) error {
	var res *gorm.DB
	switch o.Kind {
	case ledger.KindLoan:
		res = s.db.WithContext(ctx).Model(&models.LoanModel{}).
			Where("id = ? AND version = ?", o.Loan.ID, o.Loan.Version-1).
			Updates(map[string]any{
				"status":     o.Loan.Status.String(),
				"version":    o.Loan.Version,
				"updated_at": o.Loan.UpdatedAt,
			})
	case ledger.KindCommodity:
		res = s.db.WithContext(ctx).Model(&models.CommodityOrderModel{}).
			Where("id = ? AND version = ?", o.Order.ID, o.Order.Version-1).
			Updates(map[string]any{
				"status":               o.Order.Status.String(),
				"deductions_remaining": o.Order.DeductionsRemaining,
				"version":              o.Order.Version,
				"updated_at":           o.Order.UpdatedAt,
			})
	default:
		return fmt.Errorf("%w: unknown obligation kind %q", ledger.ErrInvalidObligation, o.Kind)
	}

	if res.Error != nil {
		return fmt.Errorf("%w: %w", ledger.ErrDeductionAborted, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s %s was modified by another process", ledger.ErrDeductionAborted, o.Kind, o.ID())
	}
	return nil
}

// AppendLog writes a deduction audit record
func (s *GormLedgerStore) AppendLog(ctx context.Context, record ledger.DeductionLogRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(models.DeductionLogModelFromDomain(record)).Error; err != nil {
		return fmt.Errorf("failed to append deduction log: %w", err)
	}
	return nil
}

// FindLogsByRun returns the audit records written by one run, in write order
func (s *GormLedgerStore) FindLogsByRun(ctx context.Context, runID uuid.UUID) ([]ledger.DeductionLogRecord, error) {
	var logModels []models.DeductionLogModel
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("created_at ASC").
		Find(&logModels).Error; err != nil {
		return nil, err
	}

	records := make([]ledger.DeductionLogRecord, len(logModels))
	for i := range logModels {
		records[i] = logModels[i].ToDomain()
	}
	return records, nil
}

// FindEntriesByMember returns a member's ledger entries, oldest first
func (s *GormLedgerStore) FindEntriesByMember(ctx context.Context, memberID uuid.UUID) ([]ledger.LedgerEntry, error) {
	var entryModels []models.LedgerEntryModel
	if err := s.db.WithContext(ctx).
		Where("member_id = ?", memberID).
		Order("created_at ASC").
		Find(&entryModels).Error; err != nil {
		return nil, err
	}

	entries := make([]ledger.LedgerEntry, len(entryModels))
	for i := range entryModels {
		entries[i] = entryModels[i].ToDomain()
	}
	return entries, nil
}

// LatestSettledPeriod returns the most recent period with at least one committed deduction,
// or an empty period when nothing was ever settled
func (s *GormLedgerStore) LatestSettledPeriod(ctx context.Context) (ledger.Period, error) {
	var latest sql.NullString
	if err := s.db.WithContext(ctx).
		Model(&models.DeductionLogModel{}).
		Where("outcome = ?", string(ledger.OutcomeSuccess)).
		Select("MAX(period)").
		Scan(&latest).Error; err != nil {
		return "", fmt.Errorf("failed to read latest settled period: %w", err)
	}
	if !latest.Valid {
		return "", nil
	}
	return ledger.ParsePeriod(latest.String)
}

// Ensure GormLedgerStore implements ledger.Store
var _ ledger.Store = (*GormLedgerStore)(nil)
