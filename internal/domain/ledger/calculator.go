package ledger

// Installment is the amount owed for one obligation in the current cycle
type Installment struct {
	Due            int64 // minor currency units
	Completes      bool  // paying Due settles the obligation
	AlreadySettled bool  // nothing is owed; the obligation only needs closing
}

// LoanInstallment computes this cycle's installment for a loan.
//
// An explicit MonthlyPayment is used as-is, capped by the outstanding amount.
// Otherwise the installment is TotalAmount / Duration in integer arithmetic and
// the final installment absorbs the division remainder: once Duration-1 full
// installments are repaid, the whole outstanding amount is due.
func LoanInstallment(l *Loan) (Installment, error) {
	if err := l.Validate(); err != nil {
		return Installment{}, err
	}
	if l.IsSettled() {
		return Installment{AlreadySettled: true}, nil
	}

	outstanding := l.Outstanding()

	var due int64
	if l.MonthlyPayment != nil {
		due = *l.MonthlyPayment
	} else {
		due = derivedLoanInstallment(l.TotalAmount, l.TotalRepaid, l.Duration)
	}
	if due > outstanding {
		due = outstanding
	}

	return Installment{
		Due:       due,
		Completes: l.TotalRepaid+due >= l.TotalAmount,
	}, nil
}

func derivedLoanInstallment(total, repaid int64, duration int) int64 {
	base := total / int64(duration)
	outstanding := total - repaid
	if base == 0 {
		return outstanding
	}
	if repaid/base >= int64(duration-1) {
		return outstanding
	}
	return base
}

// OrderInstallment computes this cycle's installment for a commodity order.
// The stored MonthlyPayment is authoritative.
func OrderInstallment(o *CommodityOrder) (Installment, error) {
	if err := o.Validate(); err != nil {
		return Installment{}, err
	}
	if o.IsSettled() {
		return Installment{AlreadySettled: true}, nil
	}
	return Installment{
		Due:       o.MonthlyPayment,
		Completes: o.DeductionsRemaining-1 <= 0,
	}, nil
}
