package ledger

import (
	"time"

	"github.com/google/uuid"
)

// LedgerEntry is an immutable record of one balance debit tied to one obligation
type LedgerEntry struct {
	ID        uuid.UUID
	MemberID  uuid.UUID
	Type      EntryType
	Amount    int64 // negative for debits
	Source    LedgerSource
	LinkedID  uuid.UUID
	Period    Period
	CreatedAt time.Time
}

// NewDebitEntry builds the ledger entry for a deduction of amount (positive) minor units
func NewDebitEntry(memberID uuid.UUID, amount int64, source LedgerSource, linkedID uuid.UUID, period Period) LedgerEntry {
	return LedgerEntry{
		ID:        uuid.New(),
		MemberID:  memberID,
		Type:      EntryTypeDebit,
		Amount:    -amount,
		Source:    source,
		LinkedID:  linkedID,
		Period:    period,
		CreatedAt: time.Now(),
	}
}

// DeductionLogRecord is the append-only audit record written for every deduction attempt
type DeductionLogRecord struct {
	ID            uuid.UUID
	RunID         uuid.UUID
	MemberID      uuid.UUID
	LinkedID      uuid.UUID
	Kind          ObligationKind
	Amount        int64
	Outcome       Outcome
	BalanceBefore int64
	BalanceAfter  int64
	Period        Period
	Message       string
	CreatedAt     time.Time
}
