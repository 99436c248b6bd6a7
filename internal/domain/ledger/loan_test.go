package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoan_RecordRepayment(t *testing.T) {
	t.Run("advances repaid amount and period marker", func(t *testing.T) {
		loan := newTestLoan(120000, 0, 12, nil)
		version := loan.Version

		require.NoError(t, loan.RecordRepayment(10000, Period("2026-10")))

		assert.Equal(t, int64(10000), loan.TotalRepaid)
		assert.Equal(t, LoanStatusApproved, loan.Status)
		assert.Equal(t, Period("2026-10"), loan.LastSettledPeriod)
		assert.Equal(t, version+1, loan.Version)
		assert.True(t, loan.SettledFor(Period("2026-10")))
		assert.False(t, loan.SettledFor(Period("2026-11")))
	})

	t.Run("transitions to fully_paid on the last installment", func(t *testing.T) {
		loan := newTestLoan(120000, 110000, 12, nil)
		require.NoError(t, loan.RecordRepayment(10000, Period("2026-10")))
		assert.Equal(t, LoanStatusFullyPaid, loan.Status)
		assert.Equal(t, int64(0), loan.Outstanding())
	})

	t.Run("rejects amounts above outstanding", func(t *testing.T) {
		loan := newTestLoan(120000, 115000, 12, nil)
		err := loan.RecordRepayment(10000, Period("2026-10"))
		require.Error(t, err)
		assert.Equal(t, int64(115000), loan.TotalRepaid)
	})

	t.Run("rejects repayments on a closed loan", func(t *testing.T) {
		loan := newTestLoan(120000, 120000, 12, nil)
		loan.Status = LoanStatusFullyPaid
		assert.Error(t, loan.RecordRepayment(1, Period("2026-10")))
	})
}

func TestObligation_SettledFor(t *testing.T) {
	tests := []struct {
		name   string
		marker Period
		period Period
		want   bool
	}{
		{"never settled", "", "2026-10", false},
		{"same period", "2026-11", "2026-11", true},
		{"earlier period", "2026-11", "2026-10", true},
		{"earlier year", "2026-01", "2025-12", true},
		{"later period", "2026-11", "2026-12", false},
		{"empty period", "2026-11", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loan := newTestLoan(120000, 10000, 12, nil)
			loan.LastSettledPeriod = tt.marker
			assert.Equal(t, tt.want, LoanObligation(loan).SettledFor(tt.period))

			order := newTestOrder(5000, 4, 2)
			order.LastSettledPeriod = tt.marker
			assert.Equal(t, tt.want, OrderObligation(order).SettledFor(tt.period))
		})
	}
}

func TestLoan_Close(t *testing.T) {
	loan := newTestLoan(120000, 120000, 12, nil)
	require.NoError(t, loan.Close())
	assert.Equal(t, LoanStatusFullyPaid, loan.Status)

	open := newTestLoan(120000, 0, 12, nil)
	assert.Error(t, open.Close())
	assert.Equal(t, LoanStatusApproved, open.Status)
}

func TestCommodityOrder_RecordDeduction(t *testing.T) {
	order := newTestOrder(5000, 4, 2)

	require.NoError(t, order.RecordDeduction(5000, Period("2026-10")))
	assert.Equal(t, 5, order.DeductionsPaid)
	assert.Equal(t, 1, order.DeductionsRemaining)
	assert.Equal(t, OrderStatusApproved, order.Status)

	require.NoError(t, order.RecordDeduction(5000, Period("2026-11")))
	assert.Equal(t, 0, order.DeductionsRemaining)
	assert.Equal(t, OrderStatusDelivered, order.Status)

	assert.Error(t, order.RecordDeduction(5000, Period("2026-12")))
	assert.Equal(t, 0, order.DeductionsRemaining)
}

func TestObligation_CloneIsIndependent(t *testing.T) {
	loan := newTestLoan(120000, 0, 12, nil)
	ob := LoanObligation(loan)

	next := ob.Clone()
	require.NoError(t, next.Apply(10000, Period("2026-10")))

	assert.Equal(t, int64(0), loan.TotalRepaid)
	assert.Equal(t, int64(10000), next.Loan.TotalRepaid)
	assert.Equal(t, ob.ID(), next.ID())
	assert.Equal(t, loan.Version+1, next.Version())
}

func TestSavingsAccount_CanCover(t *testing.T) {
	acct := &SavingsAccount{Balance: 3000}
	assert.False(t, acct.CanCover(5000))
	assert.Equal(t, int64(2000), acct.Shortfall(5000))
	assert.True(t, acct.CanCover(3000))
	assert.Equal(t, int64(0), acct.Shortfall(3000))
}
