package ledger

import "github.com/google/uuid"

// Obligation wraps either a Loan or a CommodityOrder so the settlement worker
// can drive both through the same state machine.
type Obligation struct {
	Kind  ObligationKind
	Loan  *Loan
	Order *CommodityOrder
}

// LoanObligation wraps a loan
func LoanObligation(l *Loan) Obligation {
	return Obligation{Kind: KindLoan, Loan: l}
}

// OrderObligation wraps a commodity order
func OrderObligation(o *CommodityOrder) Obligation {
	return Obligation{Kind: KindCommodity, Order: o}
}

// ID returns the loan or order id
func (o Obligation) ID() uuid.UUID {
	if o.Kind == KindLoan {
		return o.Loan.ID
	}
	return o.Order.ID
}

// MemberID returns the owning member
func (o Obligation) MemberID() uuid.UUID {
	if o.Kind == KindLoan {
		return o.Loan.MemberID
	}
	return o.Order.MemberID
}

// Version returns the optimistic lock version of the wrapped aggregate
func (o Obligation) Version() int {
	if o.Kind == KindLoan {
		return o.Loan.Version
	}
	return o.Order.Version
}

// Installment runs the calculator for the wrapped obligation
func (o Obligation) Installment() (Installment, error) {
	if o.Kind == KindLoan {
		return LoanInstallment(o.Loan)
	}
	return OrderInstallment(o.Order)
}

// SettledFor reports whether a deduction was already committed for period or a later one
func (o Obligation) SettledFor(period Period) bool {
	if o.Kind == KindLoan {
		return o.Loan.SettledFor(period)
	}
	return o.Order.SettledFor(period)
}

// Clone returns a copy whose aggregate can be mutated without touching the original
func (o Obligation) Clone() Obligation {
	if o.Kind == KindLoan {
		l := *o.Loan
		return LoanObligation(&l)
	}
	ord := *o.Order
	return OrderObligation(&ord)
}

// Apply records a committed installment on the wrapped aggregate
func (o Obligation) Apply(amount int64, period Period) error {
	if o.Kind == KindLoan {
		return o.Loan.RecordRepayment(amount, period)
	}
	return o.Order.RecordDeduction(amount, period)
}

// Close performs the status-only transition of an already satisfied obligation
func (o Obligation) Close() error {
	if o.Kind == KindLoan {
		return o.Loan.Close()
	}
	return o.Order.Close()
}

// Completed reports whether the wrapped aggregate reached its terminal status
func (o Obligation) Completed() bool {
	if o.Kind == KindLoan {
		return o.Loan.Status == LoanStatusFullyPaid
	}
	return o.Order.Status == OrderStatusDelivered
}
