package ledger

import (
	"context"

	"github.com/google/uuid"
)

// Deduction is one atomic settlement write: the balance debit, its ledger
// entry, and the obligation already advanced to its post-deduction state
// (with Version incremented, so the store guards on Version-1).
type Deduction struct {
	MemberID   uuid.UUID
	Amount     int64
	Period     Period
	Entry      LedgerEntry
	Obligation Obligation
}

// DeductionReceipt describes a committed deduction
type DeductionReceipt struct {
	EntryID       uuid.UUID
	BalanceBefore int64
	BalanceAfter  int64
}

// Store is the datastore boundary of the settlement engine
type Store interface {
	// GetEligibleLoans returns every loan in approved status
	GetEligibleLoans(ctx context.Context) ([]Loan, error)

	// GetEligibleOrders returns every approved order with deductions remaining
	GetEligibleOrders(ctx context.Context) ([]CommodityOrder, error)

	// GetLoan reloads a single loan (ErrLoanNotFound)
	GetLoan(ctx context.Context, id uuid.UUID) (*Loan, error)

	// GetOrder reloads a single order (ErrOrderNotFound)
	GetOrder(ctx context.Context, id uuid.UUID) (*CommodityOrder, error)

	// GetSavingsAccount returns the member's account (ErrAccountNotFound)
	GetSavingsAccount(ctx context.Context, memberID uuid.UUID) (*SavingsAccount, error)

	// ApplyDeduction commits the debit, the ledger entry and the obligation update
	// as one unit, re-checking the balance against the stored value.
	// Errors: ErrInsufficientBalance, ErrAccountNotFound, ErrDeductionAborted.
	ApplyDeduction(ctx context.Context, d Deduction) (*DeductionReceipt, error)

	// CloseObligation persists a status-only transition (no ledger entry).
	// The obligation must already carry its new state and incremented Version.
	CloseObligation(ctx context.Context, o Obligation) error

	// AppendLog writes an audit record
	AppendLog(ctx context.Context, record DeductionLogRecord) error
}
