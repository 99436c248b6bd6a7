package ledger

import (
	"fmt"

	"github.com/coopportal/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// CommodityOrder is a marketplace purchase paid for in fixed monthly installments
type CommodityOrder struct {
	shared.BaseAggregateRoot
	MemberID            uuid.UUID
	Status              OrderStatus
	TotalAmount         int64
	MonthlyPayment      int64
	DeductionsPaid      int
	DeductionsRemaining int
	LastSettledPeriod   Period
}

// IsSettled reports whether no installments remain
func (o *CommodityOrder) IsSettled() bool {
	return o.DeductionsRemaining <= 0
}

// SettledFor reports whether a deduction was already committed for period or a later one
func (o *CommodityOrder) SettledFor(period Period) bool {
	return period != "" && !o.LastSettledPeriod.Before(period)
}

// Validate checks the order invariants the calculator depends on
func (o *CommodityOrder) Validate() error {
	if !o.Status.IsValid() {
		return fmt.Errorf("%w: order %s has status %q", ErrUnknownStatus, o.ID, o.Status)
	}
	if o.MonthlyPayment <= 0 {
		return fmt.Errorf("%w: order %s monthly payment must be positive", ErrInvalidObligation, o.ID)
	}
	if o.DeductionsPaid < 0 || o.DeductionsRemaining < 0 {
		return fmt.Errorf("%w: order %s has negative deduction counters", ErrInvalidObligation, o.ID)
	}
	return nil
}

// RecordDeduction applies a committed installment to the order.
// The order transitions to delivered when no installments remain.
func (o *CommodityOrder) RecordDeduction(amount int64, period Period) error {
	if o.Status != OrderStatusApproved {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot deduct for order in %s status", o.Status))
	}
	if o.DeductionsRemaining <= 0 {
		return shared.NewDomainError("INVALID_STATE", "Order has no remaining deductions")
	}
	if amount <= 0 {
		return shared.NewDomainError("INVALID_AMOUNT", "Deduction amount must be positive")
	}

	o.DeductionsPaid++
	o.DeductionsRemaining--
	if o.DeductionsRemaining == 0 {
		o.Status = OrderStatusDelivered
	}
	o.LastSettledPeriod = period
	o.Changed()

	return nil
}

// Close transitions an order with no remaining installments to delivered
func (o *CommodityOrder) Close() error {
	if !o.IsSettled() {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Order %s still has %d deductions remaining", o.ID, o.DeductionsRemaining))
	}
	o.Status = OrderStatusDelivered
	o.DeductionsRemaining = 0
	o.Changed()
	return nil
}
