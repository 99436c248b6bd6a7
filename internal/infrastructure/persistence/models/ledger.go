package models

import (
	"time"

	"github.com/coopportal/backend/internal/domain/ledger"
	"github.com/google/uuid"
)

// SavingsAccountModel is the persistence model for a member's savings account.
// Balance is in minor currency units and guarded by a CHECK constraint in migrations.
type SavingsAccountModel struct {
	MemberID  uuid.UUID `gorm:"type:uuid;primary_key"`
	Balance   int64     `gorm:"not null;default:0"`
	Version   int       `gorm:"not null;default:1"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SavingsAccountModel) TableName() string {
	return "savings_accounts"
}

// ToDomain converts the persistence model to a domain SavingsAccount
func (m *SavingsAccountModel) ToDomain() *ledger.SavingsAccount {
	return &ledger.SavingsAccount{
		MemberID:  m.MemberID,
		Balance:   m.Balance,
		Version:   m.Version,
		UpdatedAt: m.UpdatedAt,
	}
}

// LoanModel is the persistence model for the Loan aggregate root
type LoanModel struct {
	AggregateModel
	MemberID          uuid.UUID `gorm:"type:uuid;not null;index"`
	Status            string    `gorm:"type:varchar(20);not null;index"`
	TotalAmount       int64     `gorm:"not null"`
	TotalRepaid       int64     `gorm:"not null;default:0"`
	MonthlyPayment    *int64
	Duration          int    `gorm:"not null;default:0"`
	LastSettledPeriod string `gorm:"type:varchar(7);not null;default:''"`
}

// TableName returns the table name for GORM
func (LoanModel) TableName() string {
	return "loans"
}

// ToDomain converts the persistence model to a domain Loan.
// Unknown status values are rejected.
func (m *LoanModel) ToDomain() (*ledger.Loan, error) {
	status, err := ledger.ParseLoanStatus(m.Status)
	if err != nil {
		return nil, err
	}
	return &ledger.Loan{
		BaseAggregateRoot: m.ToAggregateRoot(),
		MemberID:          m.MemberID,
		Status:            status,
		TotalAmount:       m.TotalAmount,
		TotalRepaid:       m.TotalRepaid,
		MonthlyPayment:    m.MonthlyPayment,
		Duration:          m.Duration,
		LastSettledPeriod: ledger.Period(m.LastSettledPeriod),
	}, nil
}

// FromDomain populates the persistence model from a domain Loan
func (m *LoanModel) FromDomain(l *ledger.Loan) {
	m.FromDomainAggregateRoot(l.BaseAggregateRoot)
	m.MemberID = l.MemberID
	m.Status = l.Status.String()
	m.TotalAmount = l.TotalAmount
	m.TotalRepaid = l.TotalRepaid
	m.MonthlyPayment = l.MonthlyPayment
	m.Duration = l.Duration
	m.LastSettledPeriod = l.LastSettledPeriod.String()
}

// LoanModelFromDomain creates a new persistence model from a domain Loan
func LoanModelFromDomain(l *ledger.Loan) *LoanModel {
	m := &LoanModel{}
	m.FromDomain(l)
	return m
}

// CommodityOrderModel is the persistence model for the CommodityOrder aggregate root
type CommodityOrderModel struct {
	AggregateModel
	MemberID            uuid.UUID `gorm:"type:uuid;not null;index"`
	Status              string    `gorm:"type:varchar(20);not null;index"`
	TotalAmount         int64     `gorm:"not null"`
	MonthlyPayment      int64     `gorm:"not null"`
	DeductionsPaid      int       `gorm:"not null;default:0"`
	DeductionsRemaining int       `gorm:"not null;default:0"`
	LastSettledPeriod   string    `gorm:"type:varchar(7);not null;default:''"`
}

// TableName returns the table name for GORM
func (CommodityOrderModel) TableName() string {
	return "commodity_orders"
}

// ToDomain converts the persistence model to a domain CommodityOrder.
// Unknown status values are rejected.
func (m *CommodityOrderModel) ToDomain() (*ledger.CommodityOrder, error) {
	status, err := ledger.ParseOrderStatus(m.Status)
	if err != nil {
		return nil, err
	}
	return &ledger.CommodityOrder{
		BaseAggregateRoot:   m.ToAggregateRoot(),
		MemberID:            m.MemberID,
		Status:              status,
		TotalAmount:         m.TotalAmount,
		MonthlyPayment:      m.MonthlyPayment,
		DeductionsPaid:      m.DeductionsPaid,
		DeductionsRemaining: m.DeductionsRemaining,
		LastSettledPeriod:   ledger.Period(m.LastSettledPeriod),
	}, nil
}

// FromDomain populates the persistence model from a domain CommodityOrder
func (m *CommodityOrderModel) FromDomain(o *ledger.CommodityOrder) {
	m.FromDomainAggregateRoot(o.BaseAggregateRoot)
	m.MemberID = o.MemberID
	m.Status = o.Status.String()
	m.TotalAmount = o.TotalAmount
	m.MonthlyPayment = o.MonthlyPayment
	m.DeductionsPaid = o.DeductionsPaid
	m.DeductionsRemaining = o.DeductionsRemaining
	m.LastSettledPeriod = o.LastSettledPeriod.String()
}

// CommodityOrderModelFromDomain creates a new persistence model from a domain CommodityOrder
func CommodityOrderModelFromDomain(o *ledger.CommodityOrder) *CommodityOrderModel {
	m := &CommodityOrderModel{}
	m.FromDomain(o)
	return m
}

// LedgerEntryModel is the persistence model for an immutable ledger entry.
// The unique index on (linked_id, period) rejects a second debit for the same obligation in one period.
type LedgerEntryModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	MemberID  uuid.UUID `gorm:"type:uuid;not null;index"`
	Type      string    `gorm:"type:varchar(10);not null"`
	Amount    int64     `gorm:"not null"`
	Source    string    `gorm:"type:varchar(30);not null"`
	LinkedID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_ledger_entries_linked_period,priority:1"`
	Period    string    `gorm:"type:varchar(7);not null;uniqueIndex:idx_ledger_entries_linked_period,priority:2"`
	CreatedAt time.Time `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (LedgerEntryModel) TableName() string {
	return "ledger_entries"
}

// LedgerEntryModelFromDomain creates a persistence model from a domain LedgerEntry
func LedgerEntryModelFromDomain(e ledger.LedgerEntry) *LedgerEntryModel {
	return &LedgerEntryModel{
		ID:        e.ID,
		MemberID:  e.MemberID,
		Type:      string(e.Type),
		Amount:    e.Amount,
		Source:    string(e.Source),
		LinkedID:  e.LinkedID,
		Period:    e.Period.String(),
		CreatedAt: e.CreatedAt,
	}
}

// ToDomain converts the persistence model to a domain LedgerEntry
func (m *LedgerEntryModel) ToDomain() ledger.LedgerEntry {
	return ledger.LedgerEntry{
		ID:        m.ID,
		MemberID:  m.MemberID,
		Type:      ledger.EntryType(m.Type),
		Amount:    m.Amount,
		Source:    ledger.LedgerSource(m.Source),
		LinkedID:  m.LinkedID,
		Period:    ledger.Period(m.Period),
		CreatedAt: m.CreatedAt,
	}
}

// DeductionLogModel is the persistence model for the append-only deduction audit log
type DeductionLogModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primary_key"`
	RunID         uuid.UUID `gorm:"type:uuid;not null;index"`
	MemberID      uuid.UUID `gorm:"type:uuid;not null;index"`
	LinkedID      uuid.UUID `gorm:"type:uuid;not null;index"`
	Kind          string    `gorm:"type:varchar(20);not null"`
	Amount        int64     `gorm:"not null"`
	Outcome       string    `gorm:"type:varchar(30);not null;index"`
	BalanceBefore int64     `gorm:"not null"`
	BalanceAfter  int64     `gorm:"not null"`
	Period        string    `gorm:"type:varchar(7);not null;index"`
	Message       string    `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (DeductionLogModel) TableName() string {
	return "deduction_logs"
}

// DeductionLogModelFromDomain creates a persistence model from a domain DeductionLogRecord
func DeductionLogModelFromDomain(r ledger.DeductionLogRecord) *DeductionLogModel {
	return &DeductionLogModel{
		ID:            r.ID,
		RunID:         r.RunID,
		MemberID:      r.MemberID,
		LinkedID:      r.LinkedID,
		Kind:          string(r.Kind),
		Amount:        r.Amount,
		Outcome:       string(r.Outcome),
		BalanceBefore: r.BalanceBefore,
		BalanceAfter:  r.BalanceAfter,
		Period:        r.Period.String(),
		Message:       r.Message,
		CreatedAt:     r.CreatedAt,
	}
}

// ToDomain converts the persistence model to a domain DeductionLogRecord
func (m *DeductionLogModel) ToDomain() ledger.DeductionLogRecord {
	return ledger.DeductionLogRecord{
		ID:            m.ID,
		RunID:         m.RunID,
		MemberID:      m.MemberID,
		LinkedID:      m.LinkedID,
		Kind:          ledger.ObligationKind(m.Kind),
		Amount:        m.Amount,
		Outcome:       ledger.Outcome(m.Outcome),
		BalanceBefore: m.BalanceBefore,
		BalanceAfter:  m.BalanceAfter,
		Period:        ledger.Period(m.Period),
		Message:       m.Message,
		CreatedAt:     m.CreatedAt,
	}
}

// LedgerModels lists every ledger table for AutoMigrate in tests and sqlite mode
func LedgerModels() []any {
	return []any{
		&SavingsAccountModel{},
		&LoanModel{},
		&CommodityOrderModel{},
		&LedgerEntryModel{},
		&DeductionLogModel{},
		&NotificationModel{},
		&AdminAlertModel{},
		&UserModel{},
	}
}
