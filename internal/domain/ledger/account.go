package ledger

import (
	"time"

	"github.com/google/uuid"
)

// SavingsAccount holds a member's savings balance in minor currency units.
// Credits happen in deposit flows outside this package; the settlement engine only debits.
type SavingsAccount struct {
	MemberID  uuid.UUID
	Balance   int64
	Version   int
	UpdatedAt time.Time
}

// CanCover reports whether the balance is enough to pay amount without going negative
func (a *SavingsAccount) CanCover(amount int64) bool {
	return amount >= 0 && a.Balance >= amount
}

// Shortfall returns how much is missing to pay amount, or zero when covered
func (a *SavingsAccount) Shortfall(amount int64) int64 {
	if a.CanCover(amount) {
		return 0
	}
	return amount - a.Balance
}
