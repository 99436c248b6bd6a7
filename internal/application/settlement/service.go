// Package settlement runs the monthly batch that deducts loan and commodity
// installments from member savings.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coopportal/backend/internal/domain/ledger"
	"github.com/coopportal/backend/internal/domain/shared"
	"github.com/coopportal/backend/internal/infrastructure/logger"
	"github.com/coopportal/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Config holds settlement run configuration
type Config struct {
	Workers    int           // concurrent member batches
	RunTimeout time.Duration // items not started before the deadline are deferred
	LockTTL    time.Duration // period run lock expiry
}

// DefaultConfig returns default settlement configuration
func DefaultConfig() Config {
	return Config{
		Workers:    8,
		RunTimeout: time.Hour,
		LockTTL:    3 * time.Hour,
	}
}

// RunStatus describes the most recent run, completed or failed
type RunStatus struct {
	RunID      uuid.UUID     `json:"run_id"`
	Period     ledger.Period `json:"period"`
	Trigger    string        `json:"trigger"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Summary    *RunSummary   `json:"summary,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Service is the settlement worker: it enumerates eligible obligations, settles
// each one against its member's savings and reports the run.
type Service struct {
	store    ledger.Store
	lock     shared.IdempotencyStore
	notifier *OutcomeNotifier
	reporter *RunReporter
	metrics  *telemetry.SettlementMetrics
	config   Config
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.RWMutex
	lastRun *RunStatus
}

// NewService creates a new settlement Service. metrics may be nil.
func NewService(
	store ledger.Store,
	lock shared.IdempotencyStore,
	notifier *OutcomeNotifier,
	reporter *RunReporter,
	metrics *telemetry.SettlementMetrics,
	config Config,
	logger *zap.Logger,
) *Service {
	defaults := DefaultConfig()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = defaults.RunTimeout
	}
	if config.LockTTL <= 0 {
		config.LockTTL = defaults.LockTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		lock:     lock,
		notifier: notifier,
		reporter: reporter,
		metrics:  metrics,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// runState carries the identity of one run through the workers
type runState struct {
	id        uuid.UUID
	period    ledger.Period
	trigger   string
	startedAt time.Time
	log       *zap.Logger
	// alert is false while a scheduler retry of the run is still pending
	alert bool
}

// memberBatch is every obligation of one member, loans first, in store order
type memberBatch struct {
	memberID uuid.UUID
	items    []ledger.Obligation
}

// Run settles every eligible obligation for period
func (s *Service) Run(ctx context.Context, period ledger.Period) (*RunSummary, error) {
	return s.RunWithTrigger(ctx, period, "manual")
}

// RunWithTrigger settles every eligible obligation for period, tagging the run with what started it.
//
// Per-item failures are recorded in the summary and never returned. An error is
// returned only when the run could not start: the period lock is held
// (ErrRunInProgress), the lock store failed, or enumeration failed. In the last two
// cases administrators are alerted and no summary is produced.
func (s *Service) RunWithTrigger(ctx context.Context, period ledger.Period, trigger string) (*RunSummary, error) {
	return s.run(ctx, period, trigger, true)
}

func (s *Service) run(ctx context.Context, period ledger.Period, trigger string, alert bool) (*RunSummary, error) {
	run := &runState{
		id:        uuid.New(),
		period:    period,
		trigger:   trigger,
		startedAt: s.now(),
		alert:     alert,
	}
	ctx, run.log = logger.WithRunID(ctx, s.logger, run.id.String())
	run.log = run.log.With(zap.String("period", period.String()), zap.String("trigger", trigger))

	ctx, span := telemetry.StartServiceSpan(ctx, "settlement", "run",
		telemetry.WithAttribute(telemetry.SpanAttrRunID, run.id.String()),
		telemetry.WithAttribute(telemetry.SpanAttrPeriod, period.String()),
	)
	defer span.End()

	acquired, err := s.lock.MarkProcessed(ctx, period.String(), s.config.LockTTL)
	if err != nil {
		return nil, s.fail(ctx, span, run, fmt.Errorf("%w: %w", ErrRunLockUnavailable, err))
	}
	if !acquired {
		run.log.Warn("Settlement run skipped, another run holds the period lock")
		telemetry.AddEvent(span, "run_lock_held")
		s.metrics.RecordRun(ctx, trigger, "locked", 0)
		return nil, ErrRunInProgress
	}
	defer func() {
		if err := s.lock.Release(context.WithoutCancel(ctx), period.String()); err != nil {
			run.log.Warn("Failed to release settlement run lock", zap.Error(err))
		}
	}()

	run.log.Info("Settlement run started")

	runCtx, cancel := context.WithTimeout(ctx, s.config.RunTimeout)
	defer cancel()

	batches, err := s.enumerate(runCtx)
	if err != nil {
		return nil, s.fail(ctx, span, run, err)
	}

	builder := newSummaryBuilder(run.id, period, trigger, run.startedAt)
	s.settleBatches(runCtx, run, batches, builder)
	summary := builder.finish(s.now())

	// The run deadline may have passed; reporting still has to happen.
	reportCtx := context.WithoutCancel(ctx)

	s.metrics.RecordRun(reportCtx, trigger, "completed", summary.Duration())
	s.metrics.RecordDeferred(reportCtx, period.String(), int64(summary.Deferred))
	telemetry.SetAttributes(span,
		"loans_processed", summary.LoansProcessed,
		"commodities_processed", summary.CommoditiesProcessed,
		"failed", summary.Failed(),
		"deferred", summary.Deferred,
		"total_deducted", summary.TotalDeducted,
	)

	run.log.Info("Settlement run finished",
		zap.Int("members", len(batches)),
		zap.Int("loans_processed", summary.LoansProcessed),
		zap.Int("loans_failed", summary.LoansFailed),
		zap.Int("loans_skipped", summary.LoansSkipped),
		zap.Int("commodities_processed", summary.CommoditiesProcessed),
		zap.Int("commodities_failed", summary.CommoditiesFailed),
		zap.Int("commodities_skipped", summary.CommoditiesSkipped),
		zap.Int("deferred", summary.Deferred),
		zap.Int64("total_deducted", summary.TotalDeducted),
		zap.Duration("duration", summary.Duration()),
	)

	s.reporter.ReportSummary(reportCtx, summary)
	s.setLastRun(&RunStatus{
		RunID:      run.id,
		Period:     period,
		Trigger:    trigger,
		StartedAt:  summary.StartedAt,
		FinishedAt: summary.FinishedAt,
		Summary:    summary,
	})

	return summary, nil
}

// fail records a run that could not start and returns err. Administrators are
// alerted unless a retry is still pending.
func (s *Service) fail(ctx context.Context, span trace.Span, run *runState, err error) error {
	reportCtx := context.WithoutCancel(ctx)
	finishedAt := s.now()

	telemetry.RecordError(span, err)
	s.metrics.RecordRun(reportCtx, run.trigger, "failed", finishedAt.Sub(run.startedAt))
	if run.alert {
		run.log.Error("Settlement run failed", zap.Error(err))
		s.reporter.ReportFailure(reportCtx, run.id, run.period, err)
	} else {
		run.log.Warn("Settlement run failed, retry pending", zap.Error(err))
	}
	s.setLastRun(&RunStatus{
		RunID:      run.id,
		Period:     run.period,
		Trigger:    run.trigger,
		StartedAt:  run.startedAt,
		FinishedAt: finishedAt,
		Error:      err.Error(),
	})
	return err
}

func (s *Service) enumerate(ctx context.Context) ([]memberBatch, error) {
	loans, err := s.store.GetEligibleLoans(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: loans: %w", ErrEnumerationFailed, err)
	}
	orders, err := s.store.GetEligibleOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: commodity orders: %w", ErrEnumerationFailed, err)
	}
	return groupByMember(loans, orders), nil
}

// groupByMember batches obligations per member so that one member's deductions never race
func groupByMember(loans []ledger.Loan, orders []ledger.CommodityOrder) []memberBatch {
	index := make(map[uuid.UUID]int)
	var batches []memberBatch

	add := func(o ledger.Obligation) {
		i, ok := index[o.MemberID()]
		if !ok {
			i = len(batches)
			index[o.MemberID()] = i
			batches = append(batches, memberBatch{memberID: o.MemberID()})
		}
		batches[i].items = append(batches[i].items, o)
	}

	for i := range loans {
		add(ledger.LoanObligation(&loans[i]))
	}
	for i := range orders {
		add(ledger.OrderObligation(&orders[i]))
	}
	return batches
}

// settleBatches drains the member batches with a bounded pool of workers
func (s *Service) settleBatches(ctx context.Context, run *runState, batches []memberBatch, builder *summaryBuilder) {
	if len(batches) == 0 {
		return
	}

	jobs := make(chan memberBatch, len(batches))
	for _, b := range batches {
		jobs <- b
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < min(s.config.Workers, len(batches)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range jobs {
				for _, item := range batch.items {
					var res itemResult
					if ctx.Err() != nil {
						res = resultFor(item, itemDeferred, 0, "run deadline reached before processing")
					} else {
						res = s.processItem(ctx, run, item)
					}
					builder.record(res)
					s.metrics.RecordItem(context.WithoutCancel(ctx), string(item.Kind), res.status.metricOutcome())
				}
			}
		}()
	}
	wg.Wait()
}

// processItem settles one obligation, retrying once after an aborted deduction
func (s *Service) processItem(ctx context.Context, run *runState, o ledger.Obligation) itemResult {
	ctx, span := telemetry.StartServiceSpan(ctx, "settlement", "process_item",
		telemetry.WithAttribute(telemetry.SpanAttrObligationID, o.ID().String()),
		telemetry.WithAttribute(telemetry.SpanAttrMemberID, o.MemberID().String()),
		telemetry.WithAttribute(telemetry.SpanAttrKind, string(o.Kind)),
	)
	defer span.End()

	res, aborted := s.attempt(ctx, run, o)
	if aborted {
		telemetry.AddEvent(span, "deduction_aborted", "reason", res.message)
		run.log.Info("Deduction aborted, reloading obligation for one retry",
			zap.String("obligation_id", o.ID().String()),
			zap.String("reason", res.message),
		)

		refreshed, err := s.reload(ctx, o)
		if err != nil {
			res = s.systemError(ctx, run, o, res.amount, fmt.Sprintf("failed to reload after aborted deduction: %v", err))
		} else {
			res, aborted = s.attempt(ctx, run, refreshed)
			if aborted {
				res = s.systemError(ctx, run, refreshed, res.amount, "deduction aborted twice: "+res.message)
			}
		}
	}

	// An item cut off by the run deadline rolled back and is picked up next run.
	if res.status == itemSystemError && ctx.Err() != nil {
		res.status = itemDeferred
	}

	telemetry.SetAttributes(span, telemetry.SpanAttrOutcome, res.status.metricOutcome())
	if res.status == itemSystemError {
		telemetry.RecordError(span, errors.New(res.message))
	}
	return res
}

// attempt drives o to a terminal state. aborted reports a version or period marker
// collision; nothing was written or notified and the caller may reload and retry.
func (s *Service) attempt(ctx context.Context, run *runState, o ledger.Obligation) (itemResult, bool) {
	if o.SettledFor(run.period) {
		return resultFor(o, itemSkipped, 0, "already_settled_for_period"), false
	}
	if o.Completed() {
		return resultFor(o, itemSkipped, 0, "already_completed"), false
	}

	inst, err := o.Installment()
	if err != nil {
		return s.systemError(ctx, run, o, 0, err.Error()), false
	}
	if inst.AlreadySettled {
		return s.close(ctx, run, o)
	}

	account, err := s.store.GetSavingsAccount(ctx, o.MemberID())
	if err != nil {
		return s.systemError(ctx, run, o, inst.Due, fmt.Sprintf("failed to load savings account: %v", err)), false
	}
	if !account.CanCover(inst.Due) {
		return s.insufficient(ctx, run, o, inst.Due, account.Balance), false
	}

	advanced := o.Clone()
	if err := advanced.Apply(inst.Due, run.period); err != nil {
		return s.systemError(ctx, run, o, inst.Due, err.Error()), false
	}

	receipt, err := s.store.ApplyDeduction(ctx, ledger.Deduction{
		MemberID:   o.MemberID(),
		Amount:     inst.Due,
		Period:     run.period,
		Entry:      ledger.NewDebitEntry(o.MemberID(), inst.Due, o.Kind.Source(), o.ID(), run.period),
		Obligation: advanced,
	})
	switch {
	case err == nil:
		return s.committed(ctx, run, advanced, inst.Due, receipt), false
	case errors.Is(err, ledger.ErrInsufficientBalance):
		// Another debit landed between the read and the write.
		available := account.Balance
		if fresh, ferr := s.store.GetSavingsAccount(ctx, o.MemberID()); ferr == nil {
			available = fresh.Balance
		}
		return s.insufficient(ctx, run, o, inst.Due, available), false
	case errors.Is(err, ledger.ErrDeductionAborted):
		return resultFor(o, itemSystemError, inst.Due, err.Error()), true
	default:
		return s.systemError(ctx, run, o, inst.Due, err.Error()), false
	}
}

// close performs the status-only transition of an obligation that owes nothing
func (s *Service) close(ctx context.Context, run *runState, o ledger.Obligation) (itemResult, bool) {
	closed := o.Clone()
	if err := closed.Close(); err != nil {
		return s.systemError(ctx, run, o, 0, err.Error()), false
	}
	if err := s.store.CloseObligation(ctx, closed); err != nil {
		if errors.Is(err, ledger.ErrDeductionAborted) {
			return resultFor(o, itemSystemError, 0, err.Error()), true
		}
		return s.systemError(ctx, run, o, 0, err.Error()), false
	}

	run.log.Info("Closed obligation with nothing outstanding",
		zap.String("kind", string(o.Kind)),
		zap.String("obligation_id", o.ID().String()),
	)
	return resultFor(o, itemSkipped, 0, "already_settled"), false
}

func (s *Service) reload(ctx context.Context, o ledger.Obligation) (ledger.Obligation, error) {
	if o.Kind == ledger.KindLoan {
		loan, err := s.store.GetLoan(ctx, o.ID())
		if err != nil {
			return ledger.Obligation{}, err
		}
		return ledger.LoanObligation(loan), nil
	}
	order, err := s.store.GetOrder(ctx, o.ID())
	if err != nil {
		return ledger.Obligation{}, err
	}
	return ledger.OrderObligation(order), nil
}

func (s *Service) committed(ctx context.Context, run *runState, o ledger.Obligation, amount int64, receipt *ledger.DeductionReceipt) itemResult {
	reportCtx := context.WithoutCancel(ctx)

	s.appendLog(reportCtx, run, o, ledger.DeductionLogRecord{
		Amount:        amount,
		Outcome:       ledger.OutcomeSuccess,
		BalanceBefore: receipt.BalanceBefore,
		BalanceAfter:  receipt.BalanceAfter,
	})
	s.notifier.DeductionSucceeded(reportCtx, o, amount, receipt.BalanceAfter)
	if o.Completed() {
		s.notifier.PaymentCompleted(reportCtx, o)
	}
	s.metrics.RecordDeducted(reportCtx, string(o.Kind), amount)

	run.log.Debug("Deduction committed",
		zap.String("kind", string(o.Kind)),
		zap.String("obligation_id", o.ID().String()),
		zap.Int64("amount", amount),
		zap.Int64("balance_after", receipt.BalanceAfter),
		zap.Bool("completed", o.Completed()),
	)
	return resultFor(o, itemCommitted, amount, "")
}

func (s *Service) insufficient(ctx context.Context, run *runState, o ledger.Obligation, required, available int64) itemResult {
	reportCtx := context.WithoutCancel(ctx)
	message := fmt.Sprintf("insufficient balance: required %d, available %d", required, available)

	s.appendLog(reportCtx, run, o, ledger.DeductionLogRecord{
		Amount:        required,
		Outcome:       ledger.OutcomeInsufficientBalance,
		BalanceBefore: available,
		BalanceAfter:  available,
		Message:       message,
	})
	s.notifier.DeductionFailed(reportCtx, o, required, available)

	run.log.Info("Insufficient balance for deduction",
		zap.String("kind", string(o.Kind)),
		zap.String("obligation_id", o.ID().String()),
		zap.Int64("required", required),
		zap.Int64("available", available),
	)
	return resultFor(o, itemInsufficient, required, message)
}

func (s *Service) systemError(ctx context.Context, run *runState, o ledger.Obligation, amount int64, message string) itemResult {
	s.appendLog(context.WithoutCancel(ctx), run, o, ledger.DeductionLogRecord{
		Amount:  amount,
		Outcome: ledger.OutcomeSystemError,
		Message: message,
	})

	run.log.Warn("Settlement item failed",
		zap.String("kind", string(o.Kind)),
		zap.String("obligation_id", o.ID().String()),
		zap.String("member_id", o.MemberID().String()),
		zap.String("error", message),
	)
	return resultFor(o, itemSystemError, amount, message)
}

// appendLog writes the audit record; a failing audit sink never fails the item
func (s *Service) appendLog(ctx context.Context, run *runState, o ledger.Obligation, record ledger.DeductionLogRecord) {
	record.ID = uuid.New()
	record.RunID = run.id
	record.MemberID = o.MemberID()
	record.LinkedID = o.ID()
	record.Kind = o.Kind
	record.Period = run.period
	record.CreatedAt = s.now()

	if err := s.store.AppendLog(ctx, record); err != nil {
		run.log.Error("Failed to append deduction log",
			zap.String("obligation_id", o.ID().String()),
			zap.String("outcome", string(record.Outcome)),
			zap.Error(err),
		)
	}
}

func resultFor(o ledger.Obligation, status itemStatus, amount int64, message string) itemResult {
	return itemResult{
		status:   status,
		kind:     o.Kind,
		memberID: o.MemberID(),
		linkedID: o.ID(),
		amount:   amount,
		message:  message,
	}
}

// LastRun returns the most recent run, or nil if none has finished since startup
func (s *Service) LastRun() *RunStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastRun == nil {
		return nil
	}
	status := *s.lastRun
	return &status
}

func (s *Service) setLastRun(status *RunStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = status
}
