package ledger

import (
	"fmt"

	"github.com/coopportal/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// Loan is an approved member loan repaid through monthly savings deductions.
// Loans are created by the approval flow and never deleted.
type Loan struct {
	shared.BaseAggregateRoot
	MemberID          uuid.UUID
	Status            LoanStatus
	TotalAmount       int64
	TotalRepaid       int64
	MonthlyPayment    *int64 // nil means TotalAmount / Duration
	Duration          int    // number of monthly installments
	LastSettledPeriod Period // last period a deduction was committed for
}

// Outstanding returns the amount still owed
func (l *Loan) Outstanding() int64 {
	if l.TotalRepaid >= l.TotalAmount {
		return 0
	}
	return l.TotalAmount - l.TotalRepaid
}

// IsSettled reports whether the loan has been repaid in full
func (l *Loan) IsSettled() bool {
	return l.TotalRepaid >= l.TotalAmount
}

// SettledFor reports whether a deduction was already committed for period or a later one
func (l *Loan) SettledFor(period Period) bool {
	return period != "" && !l.LastSettledPeriod.Before(period)
}

// Validate checks the loan invariants the calculator depends on
func (l *Loan) Validate() error {
	if !l.Status.IsValid() {
		return fmt.Errorf("%w: loan %s has status %q", ErrUnknownStatus, l.ID, l.Status)
	}
	if l.TotalAmount <= 0 {
		return fmt.Errorf("%w: loan %s total amount must be positive", ErrInvalidObligation, l.ID)
	}
	if l.TotalRepaid < 0 {
		return fmt.Errorf("%w: loan %s total repaid is negative", ErrInvalidObligation, l.ID)
	}
	if l.MonthlyPayment != nil {
		if *l.MonthlyPayment <= 0 {
			return fmt.Errorf("%w: loan %s monthly payment must be positive", ErrInvalidObligation, l.ID)
		}
		return nil
	}
	if l.Duration <= 0 {
		return fmt.Errorf("%w: loan %s has no monthly payment and no duration", ErrInvalidObligation, l.ID)
	}
	return nil
}

// RecordRepayment applies a committed installment to the loan.
// The loan transitions to fully_paid when the total is reached.
func (l *Loan) RecordRepayment(amount int64, period Period) error {
	if l.Status != LoanStatusApproved {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot repay loan in %s status", l.Status))
	}
	if amount <= 0 {
		return shared.NewDomainError("INVALID_AMOUNT", "Repayment amount must be positive")
	}
	if amount > l.Outstanding() {
		return shared.NewDomainError("EXCEEDS_OUTSTANDING", fmt.Sprintf("Repayment %d exceeds outstanding amount %d", amount, l.Outstanding()))
	}

	l.TotalRepaid += amount
	if l.IsSettled() {
		l.Status = LoanStatusFullyPaid
	}
	l.LastSettledPeriod = period
	l.Changed()

	return nil
}

// Close transitions an already repaid loan to fully_paid without a deduction
func (l *Loan) Close() error {
	if !l.IsSettled() {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Loan %s still has %d outstanding", l.ID, l.Outstanding()))
	}
	l.Status = LoanStatusFullyPaid
	l.Changed()
	return nil
}
