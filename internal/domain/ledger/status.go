package ledger

import "fmt"

// LoanStatus represents the lifecycle state of a loan inside the settlement engine
type LoanStatus string

const (
	LoanStatusApproved  LoanStatus = "approved"   // Eligible for monthly deduction
	LoanStatusFullyPaid LoanStatus = "fully_paid" // Terminal, excluded from future runs
)

// IsValid checks if the status is a known LoanStatus
func (s LoanStatus) IsValid() bool {
	switch s {
	case LoanStatusApproved, LoanStatusFullyPaid:
		return true
	}
	return false
}

// String returns the string representation of LoanStatus
func (s LoanStatus) String() string {
	return string(s)
}

// ParseLoanStatus converts a stored value into a LoanStatus, rejecting unknown values
func ParseLoanStatus(value string) (LoanStatus, error) {
	s := LoanStatus(value)
	if !s.IsValid() {
		return "", fmt.Errorf("%w: loan status %q", ErrUnknownStatus, value)
	}
	return s, nil
}

// OrderStatus represents the lifecycle state of a commodity order inside the settlement engine.
// Statuses produced by other flows (pending, rejected) never reach this package.
type OrderStatus string

const (
	OrderStatusApproved  OrderStatus = "approved"  // Installments still being deducted
	OrderStatusDelivered OrderStatus = "delivered" // All installments deducted
)

// IsValid checks if the status is a known OrderStatus
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusApproved, OrderStatusDelivered:
		return true
	}
	return false
}

// String returns the string representation of OrderStatus
func (s OrderStatus) String() string {
	return string(s)
}

// ParseOrderStatus converts a stored value into an OrderStatus, rejecting unknown values
func ParseOrderStatus(value string) (OrderStatus, error) {
	s := OrderStatus(value)
	if !s.IsValid() {
		return "", fmt.Errorf("%w: order status %q", ErrUnknownStatus, value)
	}
	return s, nil
}

// ObligationKind distinguishes the two recurring installment sources
type ObligationKind string

const (
	KindLoan      ObligationKind = "loan"
	KindCommodity ObligationKind = "commodity"
)

// Source returns the ledger source recorded for a deduction of this kind
func (k ObligationKind) Source() LedgerSource {
	if k == KindLoan {
		return SourceLoanDeduction
	}
	return SourceCommodityDeduction
}

// LedgerSource tags a ledger entry with the flow that produced it
type LedgerSource string

const (
	SourceLoanDeduction      LedgerSource = "loan_deduction"
	SourceCommodityDeduction LedgerSource = "commodity_deduction"
)

// EntryType is the direction of a ledger entry. The settlement engine only debits.
type EntryType string

const (
	EntryTypeDebit EntryType = "debit"
)

// Outcome is the recorded result of one deduction attempt
type Outcome string

const (
	OutcomeSuccess             Outcome = "success"
	OutcomeInsufficientBalance Outcome = "insufficient_balance"
	OutcomeSystemError         Outcome = "system_error"
)

// IsValid checks if the outcome is a known Outcome
func (o Outcome) IsValid() bool {
	switch o {
	case OutcomeSuccess, OutcomeInsufficientBalance, OutcomeSystemError:
		return true
	}
	return false
}
