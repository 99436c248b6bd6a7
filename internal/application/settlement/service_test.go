package settlement

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coopportal/backend/internal/domain/ledger"
	"github.com/coopportal/backend/internal/domain/notification"
	"github.com/coopportal/backend/internal/domain/shared"
	"github.com/coopportal/backend/internal/infrastructure/cache"
	"github.com/coopportal/backend/internal/infrastructure/persistence"
	"github.com/coopportal/backend/internal/infrastructure/persistence/models"
	"github.com/coopportal/backend/internal/infrastructure/scheduler"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const testPeriod = ledger.Period("2026-10")

type harness struct {
	db            *gorm.DB
	store         *persistence.GormLedgerStore
	notifications *persistence.GormNotificationSink
	alerts        *persistence.GormAdminAlertSink
	lock          *cache.InMemoryIdempotencyStore
	service       *Service
	adminID       uuid.UUID
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(models.LedgerModels()...))

	h := &harness{
		db:            db,
		store:         persistence.NewGormLedgerStore(db),
		notifications: persistence.NewGormNotificationSink(db),
		alerts:        persistence.NewGormAdminAlertSink(db),
		lock:          cache.NewInMemoryIdempotencyStore(),
	}
	t.Cleanup(func() { h.lock.Close() })

	h.adminID = uuid.New()
	now := time.Now()
	require.NoError(t, db.Create(&models.UserModel{
		BaseModel: models.BaseModel{ID: h.adminID, CreatedAt: now, UpdatedAt: now},
		Email:     "treasurer@coop.test",
		Role:      models.UserRoleAdmin,
		Status:    models.UserStatusActive,
	}).Error)

	logger := zaptest.NewLogger(t)
	notifier := NewOutcomeNotifier(h.notifications, h.alerts, NotifierConfig{Currency: "NGN"}, logger)
	reporter := NewRunReporter(h.notifications, h.alerts, persistence.NewGormAdminDirectory(db), "NGN", logger)
	h.service = NewService(h.store, h.lock, notifier, reporter, nil, cfg, logger)
	return h
}

func (h *harness) seedAccount(t *testing.T, balance int64) uuid.UUID {
	t.Helper()
	memberID := uuid.New()
	now := time.Now()
	require.NoError(t, h.db.Create(&models.SavingsAccountModel{
		MemberID:  memberID,
		Balance:   balance,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}).Error)
	return memberID
}

func (h *harness) seedLoan(t *testing.T, memberID uuid.UUID, total, repaid int64, duration int) *ledger.Loan {
	t.Helper()
	loan := &ledger.Loan{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		MemberID:          memberID,
		Status:            ledger.LoanStatusApproved,
		TotalAmount:       total,
		TotalRepaid:       repaid,
		Duration:          duration,
	}
	require.NoError(t, h.db.Create(models.LoanModelFromDomain(loan)).Error)
	return loan
}

func (h *harness) seedOrder(t *testing.T, memberID uuid.UUID, monthly int64, remaining int) *ledger.CommodityOrder {
	t.Helper()
	order := &ledger.CommodityOrder{
		BaseAggregateRoot:   shared.NewBaseAggregateRoot(),
		MemberID:            memberID,
		Status:              ledger.OrderStatusApproved,
		TotalAmount:         monthly * int64(remaining),
		MonthlyPayment:      monthly,
		DeductionsRemaining: remaining,
	}
	require.NoError(t, h.db.Create(models.CommodityOrderModelFromDomain(order)).Error)
	return order
}

func (h *harness) balance(t *testing.T, memberID uuid.UUID) int64 {
	t.Helper()
	account, err := h.store.GetSavingsAccount(context.Background(), memberID)
	require.NoError(t, err)
	return account.Balance
}

func (h *harness) memberNotifications(t *testing.T, memberID uuid.UUID, typ notification.Type) []notification.Notification {
	t.Helper()
	all, err := h.notifications.FindByUser(context.Background(), memberID)
	require.NoError(t, err)
	var out []notification.Notification
	for _, n := range all {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

func TestRun_DeductsMonthlyLoanInstallment(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	memberID := h.seedAccount(t, 15000)
	loan := h.seedLoan(t, memberID, 120000, 0, 12)

	summary, err := h.service.Run(ctx, testPeriod)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.LoansProcessed)
	assert.Equal(t, 0, summary.LoansFailed)
	assert.Equal(t, int64(10000), summary.TotalDeducted)
	assert.Empty(t, summary.Errors)

	reloaded, err := h.store.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), reloaded.TotalRepaid)
	assert.Equal(t, ledger.LoanStatusApproved, reloaded.Status)
	assert.Equal(t, testPeriod, reloaded.LastSettledPeriod)
	assert.Equal(t, int64(5000), h.balance(t, memberID))

	entries, err := h.store.FindEntriesByMember(ctx, memberID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(-10000), entries[0].Amount)
	assert.Equal(t, ledger.SourceLoanDeduction, entries[0].Source)
	assert.Equal(t, loan.ID, entries[0].LinkedID)

	logs, err := h.store.FindLogsByRun(ctx, summary.RunID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, ledger.OutcomeSuccess, logs[0].Outcome)
	assert.Equal(t, int64(15000), logs[0].BalanceBefore)
	assert.Equal(t, int64(5000), logs[0].BalanceAfter)

	success := h.memberNotifications(t, memberID, notification.TypeDeductionSuccess)
	require.Len(t, success, 1)
	assert.Contains(t, success[0].Message, "NGN 100.00")
	assert.Empty(t, h.memberNotifications(t, memberID, notification.TypePaymentCompleted))
}

func TestRun_FinalLoanInstallmentCompletesLoan(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	memberID := h.seedAccount(t, 20000)
	loan := h.seedLoan(t, memberID, 120000, 110000, 12)

	summary, err := h.service.Run(ctx, testPeriod)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.LoansProcessed)
	assert.Equal(t, int64(10000), summary.TotalDeducted)

	reloaded, err := h.store.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(120000), reloaded.TotalRepaid)
	assert.Equal(t, ledger.LoanStatusFullyPaid, reloaded.Status)
	assert.Equal(t, int64(10000), h.balance(t, memberID))

	assert.Len(t, h.memberNotifications(t, memberID, notification.TypeDeductionSuccess), 1)
	assert.Len(t, h.memberNotifications(t, memberID, notification.TypePaymentCompleted), 1)

	eligible, err := h.store.GetEligibleLoans(ctx)
	require.NoError(t, err)
	assert.Empty(t, eligible, "a fully paid loan is excluded from later runs")
}

func TestRun_FinalInstallmentAbsorbsRemainder(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	memberID := h.seedAccount(t, 1_000_000)
	// 100000 / 3 = 33333 per month; the third installment is 33334.
	loan := h.seedLoan(t, memberID, 100000, 66666, 3)

	summary, err := h.service.Run(ctx, testPeriod)
	require.NoError(t, err)
	assert.Equal(t, int64(33334), summary.TotalDeducted)

	reloaded, err := h.store.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100000), reloaded.TotalRepaid)
	assert.Equal(t, ledger.LoanStatusFullyPaid, reloaded.Status)
}

func TestRun_InsufficientBalanceForCommodityOrder(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	memberID := h.seedAccount(t, 3000)
	order := h.seedOrder(t, memberID, 5000, 4)

	summary, err := h.service.Run(ctx, testPeriod)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.CommoditiesProcessed)
	assert.Equal(t, 1, summary.CommoditiesFailed)
	assert.Equal(t, int64(0), summary.TotalDeducted)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, ledger.OutcomeInsufficientBalance, summary.Errors[0].Outcome)
	assert.Equal(t, order.ID, summary.Errors[0].ObligationID)

	reloaded, err := h.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, reloaded.DeductionsRemaining)
	assert.Equal(t, 0, reloaded.DeductionsPaid)
	assert.Equal(t, int64(3000), h.balance(t, memberID))

	entries, err := h.store.FindEntriesByMember(ctx, memberID)
	require.NoError(t, err)
	assert.Empty(t, entries)

	failed := h.memberNotifications(t, memberID, notification.TypeDeductionFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, notification.PriorityHigh, failed[0].Priority)
	assert.Contains(t, failed[0].Message, "required NGN 50.00")
	assert.Contains(t, failed[0].Message, "available NGN 30.00")

	logs, err := h.store.FindLogsByRun(ctx, summary.RunID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, ledger.OutcomeInsufficientBalance, logs[0].Outcome)
	assert.Equal(t, int64(5000), logs[0].Amount)
}

func TestRun_OrderFinalInstallmentDeliversOrder(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	memberID := h.seedAccount(t, 8000)
	order := h.seedOrder(t, memberID, 5000, 1)

	summary, err := h.service.Run(ctx, testPeriod)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.CommoditiesProcessed)

	reloaded, err := h.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.OrderStatusDelivered, reloaded.Status)
	assert.Equal(t, 0, reloaded.DeductionsRemaining)
	assert.Equal(t, 1, reloaded.DeductionsPaid)
	assert.Len(t, h.memberNotifications(t, memberID, notification.TypePaymentCompleted), 1)
}

func TestRun_IsolatesPerItemFailures(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()

	poor := h.seedAccount(t, 100)
	h.seedLoan(t, poor, 120000, 0, 12)

	// A loan whose member has no savings account is a system error.
	orphan := uuid.New()
	h.seedLoan(t, orphan, 60000, 0, 6)

	rich := h.seedAccount(t, 50000)
	h.seedLoan(t, rich, 120000, 0, 12)
	h.seedOrder(t, rich, 5000, 3)

	summary, err := h.service.Run(ctx, testPeriod)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.LoansProcessed)
	assert.Equal(t, 2, summary.LoansFailed)
	assert.Equal(t, 1, summary.CommoditiesProcessed)
	assert.Equal(t, int64(15000), summary.TotalDeducted)
	assert.Equal(t, int64(35000), h.balance(t, rich))
	assert.Equal(t, int64(100), h.balance(t, poor))

	outcomes := map[uuid.UUID]ledger.Outcome{}
	for _, e := range summary.Errors {
		outcomes[e.MemberID] = e.Outcome
	}
	assert.Equal(t, ledger.OutcomeInsufficientBalance, outcomes[poor])
	assert.Equal(t, ledger.OutcomeSystemError, outcomes[orphan])

	logs, err := h.store.FindLogsByRun(ctx, summary.RunID)
	require.NoError(t, err)
	assert.Len(t, logs, 4, "one audit record per attempt")
}

func TestRun_SecondRunForSamePeriodSkips(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	memberID := h.seedAccount(t, 100000)
	h.seedLoan(t, memberID, 120000, 0, 12)
	h.seedOrder(t, memberID, 5000, 3)

	first, err := h.service.Run(ctx, testPeriod)
	require.NoError(t, err)
	assert.Equal(t, int64(15000), first.TotalDeducted)

	second, err := h.service.Run(ctx, testPeriod)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Processed())
	assert.Equal(t, 1, second.LoansSkipped)
	assert.Equal(t, 1, second.CommoditiesSkipped)
	assert.Equal(t, int64(0), second.TotalDeducted)

	assert.Equal(t, int64(85000), h.balance(t, memberID))
	entries, err := h.store.FindEntriesByMember(ctx, memberID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	third, err := h.service.Run(ctx, testPeriod.Next())
	require.NoError(t, err)
	assert.Equal(t, 2, third.Processed(), "the next period deducts again")
}

func TestRun_EarlierPeriodAfterLaterRunSkips(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	memberID := h.seedAccount(t, 100000)
	loan := h.seedLoan(t, memberID, 120000, 0, 12)
	h.seedOrder(t, memberID, 5000, 3)

	later, err := h.service.Run(ctx, testPeriod.Next())
	require.NoError(t, err)
	assert.Equal(t, int64(15000), later.TotalDeducted)

	earlier, err := h.service.Run(ctx, testPeriod)
	require.NoError(t, err)
	assert.Equal(t, 0, earlier.Processed())
	assert.Equal(t, 0, earlier.Failed())
	assert.Equal(t, 1, earlier.LoansSkipped)
	assert.Equal(t, 1, earlier.CommoditiesSkipped)
	assert.Equal(t, int64(0), earlier.TotalDeducted)
	assert.Equal(t, int64(85000), h.balance(t, memberID))

	stored, err := h.store.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), stored.TotalRepaid)
	assert.Equal(t, testPeriod.Next(), stored.LastSettledPeriod)
	assert.Len(t, h.memberNotifications(t, memberID, notification.TypeDeductionSuccess), 2)

	following, err := h.service.Run(ctx, testPeriod.Next().Next())
	require.NoError(t, err)
	assert.Equal(t, 2, following.Processed())
	assert.Equal(t, int64(70000), h.balance(t, memberID))
}

func TestRun_ClosesAlreadyRepaidLoanWithoutDeduction(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	memberID := h.seedAccount(t, 40000)
	loan := h.seedLoan(t, memberID, 60000, 60000, 6)

	summary, err := h.service.Run(ctx, testPeriod)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.LoansSkipped)
	assert.Equal(t, 0, summary.LoansProcessed)

	reloaded, err := h.store.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.LoanStatusFullyPaid, reloaded.Status)
	assert.Equal(t, int64(40000), h.balance(t, memberID))

	entries, err := h.store.FindEntriesByMember(ctx, memberID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_SettlesLoansBeforeOrdersForSameMember(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	memberID := h.seedAccount(t, 12000)
	h.seedLoan(t, memberID, 120000, 0, 12)
	order := h.seedOrder(t, memberID, 5000, 3)

	summary, err := h.service.Run(ctx, testPeriod)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.LoansProcessed)
	assert.Equal(t, 1, summary.CommoditiesFailed)
	assert.Equal(t, int64(2000), h.balance(t, memberID))

	reloaded, err := h.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, reloaded.DeductionsRemaining)
}

func TestRun_ConservesMoneyAcrossWorkers(t *testing.T) {
	h := newHarness(t, Config{Workers: 4, RunTimeout: time.Minute, LockTTL: time.Minute})
	ctx := context.Background()

	members := make([]uuid.UUID, 0, 20)
	var before int64
	for i := 0; i < 20; i++ {
		balance := int64(i * 1000)
		before += balance
		memberID := h.seedAccount(t, balance)
		members = append(members, memberID)
		h.seedLoan(t, memberID, 60000, 0, 6)
		h.seedOrder(t, memberID, 3000, 2)
	}

	summary, err := h.service.Run(ctx, testPeriod)
	require.NoError(t, err)
	assert.Equal(t, 40, summary.Processed()+summary.Failed())

	var after, entriesTotal int64
	for _, memberID := range members {
		balance := h.balance(t, memberID)
		assert.GreaterOrEqual(t, balance, int64(0))
		after += balance

		entries, err := h.store.FindEntriesByMember(ctx, memberID)
		require.NoError(t, err)
		for _, e := range entries {
			entriesTotal += e.Amount
		}
	}

	assert.Equal(t, summary.TotalDeducted, before-after)
	assert.Equal(t, -summary.TotalDeducted, entriesTotal)
}

func TestRun_ReportsSummaryToAdmins(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	memberID := h.seedAccount(t, 15000)
	h.seedLoan(t, memberID, 120000, 0, 12)

	_, err := h.service.Run(ctx, testPeriod)
	require.NoError(t, err)

	reports := h.memberNotifications(t, h.adminID, notification.TypeSettlementSummary)
	require.Len(t, reports, 1)
	assert.Contains(t, reports[0].Title, testPeriod.String())
	assert.Contains(t, reports[0].Message, "Loans: 1 deducted, 0 failed")
	assert.Contains(t, reports[0].Message, "NGN 100.00")

	last := h.service.LastRun()
	require.NotNil(t, last)
	require.NotNil(t, last.Summary)
	assert.Equal(t, testPeriod, last.Period)
	assert.Empty(t, last.Error)
}

func TestRun_RefusesWhilePeriodLockIsHeld(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	memberID := h.seedAccount(t, 15000)
	h.seedLoan(t, memberID, 120000, 0, 12)

	claimed, err := h.lock.MarkProcessed(ctx, testPeriod.String(), time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	summary, err := h.service.Run(ctx, testPeriod)
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Nil(t, summary)
	assert.Equal(t, int64(15000), h.balance(t, memberID))

	err = h.service.Execute(ctx, scheduler.NewJob(testPeriod, scheduler.TriggerScheduled, 2))
	assert.ErrorIs(t, err, scheduler.ErrJobNotRetryable)

	require.NoError(t, h.lock.Release(ctx, testPeriod.String()))
	_, err = h.service.Run(ctx, testPeriod)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), h.balance(t, memberID))
}

func TestRun_ReleasesLockAfterRun(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()

	_, err := h.service.Run(ctx, testPeriod)
	require.NoError(t, err)

	held, err := h.lock.IsProcessed(ctx, testPeriod.String())
	require.NoError(t, err)
	assert.False(t, held)
}

// mockHarness wires the service to a mock store and recording sinks
type mockHarness struct {
	store   *MockStore
	admins  *MockAdminDirectory
	sink    *recordingSink
	alerts  *recordingAlertSink
	lock    *cache.InMemoryIdempotencyStore
	service *Service
	adminID uuid.UUID
}

func newMockHarness(t *testing.T, cfg Config) *mockHarness {
	t.Helper()
	h := &mockHarness{
		store:   &MockStore{},
		admins:  &MockAdminDirectory{},
		sink:    &recordingSink{},
		alerts:  &recordingAlertSink{},
		lock:    cache.NewInMemoryIdempotencyStore(),
		adminID: uuid.New(),
	}
	t.Cleanup(func() { h.lock.Close() })
	h.admins.On("ListAdminIDs", mock.Anything).Return([]uuid.UUID{h.adminID}, nil).Maybe()

	logger := zaptest.NewLogger(t)
	notifier := NewOutcomeNotifier(h.sink, h.alerts, NotifierConfig{Currency: "NGN"}, logger)
	reporter := NewRunReporter(h.sink, h.alerts, h.admins, "NGN", logger)
	h.service = NewService(h.store, h.lock, notifier, reporter, nil, cfg, logger)
	return h
}

func newLoan(memberID uuid.UUID, total, repaid int64, duration int) *ledger.Loan {
	return &ledger.Loan{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		MemberID:          memberID,
		Status:            ledger.LoanStatusApproved,
		TotalAmount:       total,
		TotalRepaid:       repaid,
		Duration:          duration,
	}
}

func TestRun_EnumerationFailureAlertsAdmins(t *testing.T) {
	h := newMockHarness(t, DefaultConfig())
	h.store.On("GetEligibleLoans", mock.Anything).Return(nil, fmt.Errorf("connection refused"))

	summary, err := h.service.Run(context.Background(), testPeriod)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEnumerationFailed)
	assert.Nil(t, summary)

	h.store.AssertNotCalled(t, "GetEligibleOrders", mock.Anything)
	h.store.AssertNotCalled(t, "ApplyDeduction", mock.Anything, mock.Anything)

	alerts := h.alerts.all()
	require.Len(t, alerts, 1)
	assert.Equal(t, notification.AlertSettlementRunFailed, alerts[0].Type)
	assert.Contains(t, alerts[0].Payload["error"], "connection refused")

	failed := h.sink.ofType(notification.TypeSettlementRunFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, h.adminID, failed[0].UserID)
	assert.Equal(t, notification.PriorityUrgent, failed[0].Priority)
	assert.Contains(t, failed[0].Message, "connection refused")
	assert.Empty(t, h.sink.ofType(notification.TypeSettlementSummary))

	last := h.service.LastRun()
	require.NotNil(t, last)
	assert.Nil(t, last.Summary)
	assert.Contains(t, last.Error, "connection refused")
}

func TestExecute_AlertsOnlyOnLastAttempt(t *testing.T) {
	h := newMockHarness(t, DefaultConfig())
	var attempts atomic.Int32
	h.store.On("GetEligibleLoans", mock.Anything).
		Run(func(mock.Arguments) { attempts.Add(1) }).
		Return(nil, fmt.Errorf("connection refused"))

	sched := scheduler.NewScheduler(scheduler.Config{
		MaxConcurrentJobs: 1,
		JobTimeout:        time.Second,
		RetryAttempts:     2,
		RetryDelay:        10 * time.Millisecond,
	}, h.service, zaptest.NewLogger(t))
	ctx := context.Background()
	require.NoError(t, sched.Start(ctx))
	t.Cleanup(func() { _ = sched.Stop(ctx) })

	_, err := sched.ScheduleSettlement(testPeriod, scheduler.TriggerScheduled)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(h.alerts.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Len(t, h.sink.ofType(notification.TypeSettlementRunFailed), 1)

	last := h.service.LastRun()
	require.NotNil(t, last)
	assert.Contains(t, last.Error, "connection refused")
}

func TestExecute_EarlyAttemptDoesNotAlert(t *testing.T) {
	h := newMockHarness(t, DefaultConfig())
	h.store.On("GetEligibleLoans", mock.Anything).Return(nil, fmt.Errorf("connection refused"))
	ctx := context.Background()

	job := scheduler.NewJob(testPeriod, scheduler.TriggerScheduled, 1)
	err := h.service.Execute(ctx, job)
	assert.ErrorIs(t, err, ErrEnumerationFailed)
	assert.NotErrorIs(t, err, scheduler.ErrJobNotRetryable)
	assert.Empty(t, h.alerts.all())
	assert.Empty(t, h.sink.ofType(notification.TypeSettlementRunFailed))

	job.RetryCount = 1
	err = h.service.Execute(ctx, job)
	assert.ErrorIs(t, err, ErrEnumerationFailed)
	assert.Len(t, h.alerts.all(), 1)
	assert.Len(t, h.sink.ofType(notification.TypeSettlementRunFailed), 1)
}

func TestRun_OrderEnumerationFailureProcessesNothing(t *testing.T) {
	h := newMockHarness(t, DefaultConfig())
	h.store.On("GetEligibleLoans", mock.Anything).Return([]ledger.Loan{*newLoan(uuid.New(), 120000, 0, 12)}, nil)
	h.store.On("GetEligibleOrders", mock.Anything).Return(nil, fmt.Errorf("statement timeout"))

	_, err := h.service.Run(context.Background(), testPeriod)
	assert.ErrorIs(t, err, ErrEnumerationFailed)
	h.store.AssertNotCalled(t, "GetSavingsAccount", mock.Anything, mock.Anything)
	h.store.AssertNotCalled(t, "ApplyDeduction", mock.Anything, mock.Anything)
}

func TestRun_RetriesOnceAfterAbortedDeduction(t *testing.T) {
	h := newMockHarness(t, DefaultConfig())
	memberID := uuid.New()
	loan := newLoan(memberID, 120000, 0, 12)

	h.store.On("GetEligibleLoans", mock.Anything).Return([]ledger.Loan{*loan}, nil)
	h.store.On("GetEligibleOrders", mock.Anything).Return([]ledger.CommodityOrder{}, nil)
	h.store.On("GetSavingsAccount", mock.Anything, memberID).Return(&ledger.SavingsAccount{MemberID: memberID, Balance: 50000}, nil)
	h.store.On("ApplyDeduction", mock.Anything, mock.Anything).Return(nil, ledger.ErrDeductionAborted).Once()
	h.store.On("ApplyDeduction", mock.Anything, mock.Anything).Return(&ledger.DeductionReceipt{BalanceBefore: 50000, BalanceAfter: 40000}, nil).Once()
	h.store.On("GetLoan", mock.Anything, loan.ID).Return(newLoanCopy(loan), nil).Once()
	h.store.On("AppendLog", mock.Anything, mock.Anything).Return(nil)

	summary, err := h.service.Run(context.Background(), testPeriod)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.LoansProcessed)
	assert.Equal(t, 0, summary.LoansFailed)
	assert.Equal(t, int64(10000), summary.TotalDeducted)
	h.store.AssertNumberOfCalls(t, "ApplyDeduction", 2)
	h.store.AssertNumberOfCalls(t, "AppendLog", 1)
}

func TestRun_SecondAbortIsSystemError(t *testing.T) {
	h := newMockHarness(t, DefaultConfig())
	memberID := uuid.New()
	loan := newLoan(memberID, 120000, 0, 12)

	h.store.On("GetEligibleLoans", mock.Anything).Return([]ledger.Loan{*loan}, nil)
	h.store.On("GetEligibleOrders", mock.Anything).Return([]ledger.CommodityOrder{}, nil)
	h.store.On("GetSavingsAccount", mock.Anything, memberID).Return(&ledger.SavingsAccount{MemberID: memberID, Balance: 50000}, nil)
	h.store.On("ApplyDeduction", mock.Anything, mock.Anything).Return(nil, ledger.ErrDeductionAborted)
	h.store.On("GetLoan", mock.Anything, loan.ID).Return(newLoanCopy(loan), nil)
	h.store.On("AppendLog", mock.Anything, mock.Anything).Return(nil)

	summary, err := h.service.Run(context.Background(), testPeriod)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.LoansProcessed)
	assert.Equal(t, 1, summary.LoansFailed)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, ledger.OutcomeSystemError, summary.Errors[0].Outcome)
	h.store.AssertNumberOfCalls(t, "ApplyDeduction", 2)
	assert.Empty(t, h.sink.ofType(notification.TypeDeductionSuccess))
}

func TestRun_RetrySkipsObligationSettledByAnotherRun(t *testing.T) {
	h := newMockHarness(t, DefaultConfig())
	memberID := uuid.New()
	loan := newLoan(memberID, 120000, 0, 12)
	settled := newLoanCopy(loan)
	settled.TotalRepaid = 10000
	settled.LastSettledPeriod = testPeriod

	h.store.On("GetEligibleLoans", mock.Anything).Return([]ledger.Loan{*loan}, nil)
	h.store.On("GetEligibleOrders", mock.Anything).Return([]ledger.CommodityOrder{}, nil)
	h.store.On("GetSavingsAccount", mock.Anything, memberID).Return(&ledger.SavingsAccount{MemberID: memberID, Balance: 50000}, nil)
	h.store.On("ApplyDeduction", mock.Anything, mock.Anything).Return(nil, ledger.ErrDeductionAborted).Once()
	h.store.On("GetLoan", mock.Anything, loan.ID).Return(settled, nil)

	summary, err := h.service.Run(context.Background(), testPeriod)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.LoansSkipped)
	assert.Equal(t, 0, summary.LoansFailed)
	h.store.AssertNumberOfCalls(t, "ApplyDeduction", 1)
	h.store.AssertNotCalled(t, "AppendLog", mock.Anything, mock.Anything)
}

func TestRun_ServerSideBalanceCheckReportsInsufficient(t *testing.T) {
	h := newMockHarness(t, DefaultConfig())
	memberID := uuid.New()
	loan := newLoan(memberID, 120000, 0, 12)

	h.store.On("GetEligibleLoans", mock.Anything).Return([]ledger.Loan{*loan}, nil)
	h.store.On("GetEligibleOrders", mock.Anything).Return([]ledger.CommodityOrder{}, nil)
	h.store.On("GetSavingsAccount", mock.Anything, memberID).Return(&ledger.SavingsAccount{MemberID: memberID, Balance: 15000}, nil).Once()
	h.store.On("GetSavingsAccount", mock.Anything, memberID).Return(&ledger.SavingsAccount{MemberID: memberID, Balance: 4000}, nil).Once()
	h.store.On("ApplyDeduction", mock.Anything, mock.Anything).Return(nil, ledger.ErrInsufficientBalance)
	h.store.On("AppendLog", mock.Anything, mock.Anything).Return(nil)

	summary, err := h.service.Run(context.Background(), testPeriod)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.LoansFailed)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, ledger.OutcomeInsufficientBalance, summary.Errors[0].Outcome)

	failed := h.sink.ofType(notification.TypeDeductionFailed)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Message, "available NGN 40.00")
}

func TestRun_AuditFailureDoesNotFailItem(t *testing.T) {
	h := newMockHarness(t, DefaultConfig())
	memberID := uuid.New()
	loan := newLoan(memberID, 120000, 0, 12)

	h.store.On("GetEligibleLoans", mock.Anything).Return([]ledger.Loan{*loan}, nil)
	h.store.On("GetEligibleOrders", mock.Anything).Return([]ledger.CommodityOrder{}, nil)
	h.store.On("GetSavingsAccount", mock.Anything, memberID).Return(&ledger.SavingsAccount{MemberID: memberID, Balance: 50000}, nil)
	h.store.On("ApplyDeduction", mock.Anything, mock.Anything).Return(&ledger.DeductionReceipt{BalanceBefore: 50000, BalanceAfter: 40000}, nil)
	h.store.On("AppendLog", mock.Anything, mock.Anything).Return(fmt.Errorf("disk full"))
	h.sink.err = fmt.Errorf("notification queue unavailable")

	summary, err := h.service.Run(context.Background(), testPeriod)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.LoansProcessed)
	assert.Empty(t, summary.Errors)
}

func TestRun_DefersItemsPastRunDeadline(t *testing.T) {
	h := newMockHarness(t, Config{Workers: 1, RunTimeout: 50 * time.Millisecond, LockTTL: time.Minute})
	slow := uuid.New()
	waiting := uuid.New()

	h.store.On("GetEligibleLoans", mock.Anything).Return([]ledger.Loan{
		*newLoan(slow, 120000, 0, 12),
		*newLoan(waiting, 120000, 0, 12),
	}, nil)
	h.store.On("GetEligibleOrders", mock.Anything).Return([]ledger.CommodityOrder{}, nil)
	h.store.On("GetSavingsAccount", mock.Anything, slow).
		Run(func(args mock.Arguments) { <-args.Get(0).(context.Context).Done() }).
		Return(nil, context.DeadlineExceeded)
	h.store.On("AppendLog", mock.Anything, mock.Anything).Return(nil)

	summary, err := h.service.Run(context.Background(), testPeriod)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Deferred)
	assert.Equal(t, 0, summary.LoansFailed)
	assert.Empty(t, summary.Errors)
	h.store.AssertNotCalled(t, "GetSavingsAccount", mock.Anything, waiting)
	h.store.AssertNumberOfCalls(t, "AppendLog", 1)
	h.store.AssertCalled(t, "AppendLog", mock.Anything, mock.MatchedBy(func(r ledger.DeductionLogRecord) bool {
		return r.MemberID == slow
	}))
	assert.Len(t, h.sink.ofType(notification.TypeSettlementSummary), 1, "the summary is still reported after the deadline")
}

func TestRun_InvalidObligationIsSystemError(t *testing.T) {
	h := newMockHarness(t, DefaultConfig())
	memberID := uuid.New()
	broken := newLoan(memberID, 120000, 0, 0)

	h.store.On("GetEligibleLoans", mock.Anything).Return([]ledger.Loan{*broken}, nil)
	h.store.On("GetEligibleOrders", mock.Anything).Return([]ledger.CommodityOrder{}, nil)
	h.store.On("AppendLog", mock.Anything, mock.Anything).Return(nil)

	summary, err := h.service.Run(context.Background(), testPeriod)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.LoansFailed)
	require.Len(t, summary.Errors, 1)
	assert.Contains(t, summary.Errors[0].Message, "no monthly payment and no duration")
	h.store.AssertNotCalled(t, "GetSavingsAccount", mock.Anything, mock.Anything)
}

func TestGroupByMember(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	loans := []ledger.Loan{*newLoan(a, 1000, 0, 1), *newLoan(b, 1000, 0, 1)}
	orders := []ledger.CommodityOrder{
		{BaseAggregateRoot: shared.NewBaseAggregateRoot(), MemberID: a, Status: ledger.OrderStatusApproved, MonthlyPayment: 100, DeductionsRemaining: 1},
	}

	batches := groupByMember(loans, orders)
	require.Len(t, batches, 2)
	assert.Equal(t, a, batches[0].memberID)
	require.Len(t, batches[0].items, 2)
	assert.Equal(t, ledger.KindLoan, batches[0].items[0].Kind)
	assert.Equal(t, ledger.KindCommodity, batches[0].items[1].Kind)
	assert.Equal(t, b, batches[1].memberID)
	assert.Len(t, batches[1].items, 1)
}

func newLoanCopy(l *ledger.Loan) *ledger.Loan {
	c := *l
	return &c
}
