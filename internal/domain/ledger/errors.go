package ledger

import "github.com/coopportal/backend/internal/domain/shared"

var (
	ErrAccountNotFound     = shared.NewDomainError("ACCOUNT_NOT_FOUND", "Savings account not found")
	ErrLoanNotFound        = shared.NewDomainError("LOAN_NOT_FOUND", "Loan not found")
	ErrOrderNotFound       = shared.NewDomainError("ORDER_NOT_FOUND", "Commodity order not found")
	ErrInsufficientBalance = shared.ErrInsufficientBalance
	ErrDeductionAborted    = shared.NewDomainError("DEDUCTION_ABORTED", "Deduction was not committed")
	ErrInvalidObligation   = shared.NewDomainError("INVALID_OBLIGATION", "Obligation data is invalid")
	ErrUnknownStatus       = shared.NewDomainError("UNKNOWN_STATUS", "Unknown status value")
	ErrInvalidPeriod       = shared.NewDomainError("INVALID_PERIOD", "Settlement period must be formatted as YYYY-MM")
)
