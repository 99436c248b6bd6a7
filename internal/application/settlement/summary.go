package settlement

import (
	"sync"
	"time"

	"github.com/coopportal/backend/internal/domain/ledger"
	"github.com/google/uuid"
)

// ItemError is one per-item failure reported in the run summary
type ItemError struct {
	MemberID     uuid.UUID             `json:"member_id"`
	ObligationID uuid.UUID             `json:"obligation_id"`
	Kind         ledger.ObligationKind `json:"kind"`
	Outcome      ledger.Outcome        `json:"outcome"`
	Message      string                `json:"message"`
}

// RunSummary is the result of one settlement run.
// Processed counts committed deductions; Failed counts insufficient balance and system errors.
type RunSummary struct {
	RunID                uuid.UUID     `json:"run_id"`
	Period               ledger.Period `json:"period"`
	Trigger              string        `json:"trigger"`
	StartedAt            time.Time     `json:"started_at"`
	FinishedAt           time.Time     `json:"finished_at"`
	LoansProcessed       int           `json:"loans_processed"`
	LoansFailed          int           `json:"loans_failed"`
	LoansSkipped         int           `json:"loans_skipped"`
	CommoditiesProcessed int           `json:"commodities_processed"`
	CommoditiesFailed    int           `json:"commodities_failed"`
	CommoditiesSkipped   int           `json:"commodities_skipped"`
	Deferred             int           `json:"deferred"`
	TotalDeducted        int64         `json:"total_deducted"`
	Errors               []ItemError   `json:"errors"`
}

// Failed returns the number of failed items of both kinds
func (s *RunSummary) Failed() int {
	return s.LoansFailed + s.CommoditiesFailed
}

// Processed returns the number of committed deductions of both kinds
func (s *RunSummary) Processed() int {
	return s.LoansProcessed + s.CommoditiesProcessed
}

// Duration returns how long the run took
func (s *RunSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// itemStatus is the terminal state of one obligation in a run
type itemStatus int

const (
	itemCommitted itemStatus = iota
	itemSkipped
	itemInsufficient
	itemSystemError
	itemDeferred
)

func (s itemStatus) metricOutcome() string {
	switch s {
	case itemCommitted:
		return string(ledger.OutcomeSuccess)
	case itemSkipped:
		return "skipped"
	case itemInsufficient:
		return string(ledger.OutcomeInsufficientBalance)
	case itemDeferred:
		return "deferred"
	default:
		return string(ledger.OutcomeSystemError)
	}
}

type itemResult struct {
	status   itemStatus
	kind     ledger.ObligationKind
	memberID uuid.UUID
	linkedID uuid.UUID
	amount   int64
	message  string
}

// summaryBuilder accumulates item results from concurrent workers
type summaryBuilder struct {
	mu      sync.Mutex
	summary RunSummary
}

func newSummaryBuilder(runID uuid.UUID, period ledger.Period, trigger string, startedAt time.Time) *summaryBuilder {
	return &summaryBuilder{summary: RunSummary{
		RunID:     runID,
		Period:    period,
		Trigger:   trigger,
		StartedAt: startedAt,
		Errors:    []ItemError{},
	}}
}

func (b *summaryBuilder) record(r itemResult) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &b.summary
	loan := r.kind == ledger.KindLoan

	switch r.status {
	case itemCommitted:
		if loan {
			s.LoansProcessed++
		} else {
			s.CommoditiesProcessed++
		}
		s.TotalDeducted += r.amount
	case itemSkipped:
		if loan {
			s.LoansSkipped++
		} else {
			s.CommoditiesSkipped++
		}
	case itemDeferred:
		s.Deferred++
	case itemInsufficient, itemSystemError:
		if loan {
			s.LoansFailed++
		} else {
			s.CommoditiesFailed++
		}
		outcome := ledger.OutcomeSystemError
		if r.status == itemInsufficient {
			outcome = ledger.OutcomeInsufficientBalance
		}
		s.Errors = append(s.Errors, ItemError{
			MemberID:     r.memberID,
			ObligationID: r.linkedID,
			Kind:         r.kind,
			Outcome:      outcome,
			Message:      r.message,
		})
	}
}

func (b *summaryBuilder) finish(at time.Time) *RunSummary {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.summary.FinishedAt = at
	out := b.summary
	out.Errors = append([]ItemError{}, b.summary.Errors...)
	return &out
}
