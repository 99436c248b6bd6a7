package dto

import "time"

// TriggerSettlementRequest is the body of POST /settlement/runs.
// An empty period means the current month.
type TriggerSettlementRequest struct {
	Period string `json:"period"`
}

// SettlementJobResponse describes a queued settlement job
type SettlementJobResponse struct {
	JobID      string `json:"job_id"`
	Period     string `json:"period"`
	Trigger    string `json:"trigger"`
	Status     string `json:"status"`
	MaxRetries int    `json:"max_retries"`
}

// SettlementItemError is one failed obligation of a run
type SettlementItemError struct {
	MemberID     string `json:"member_id"`
	ObligationID string `json:"obligation_id"`
	Kind         string `json:"kind"`
	Outcome      string `json:"outcome"`
	Message      string `json:"message"`
}

// SettlementSummaryResponse carries the counters of a finished run
type SettlementSummaryResponse struct {
	LoansProcessed       int                   `json:"loans_processed"`
	LoansFailed          int                   `json:"loans_failed"`
	LoansSkipped         int                   `json:"loans_skipped"`
	CommoditiesProcessed int                   `json:"commodities_processed"`
	CommoditiesFailed    int                   `json:"commodities_failed"`
	CommoditiesSkipped   int                   `json:"commodities_skipped"`
	Deferred             int                   `json:"deferred"`
	TotalDeducted        int64                 `json:"total_deducted"`
	TotalDeductedDisplay string                `json:"total_deducted_display"`
	Errors               []SettlementItemError `json:"errors"`
}

// SettlementRunResponse describes the most recent run
type SettlementRunResponse struct {
	RunID           string                     `json:"run_id"`
	Period          string                     `json:"period"`
	Trigger         string                     `json:"trigger"`
	StartedAt       time.Time                  `json:"started_at"`
	FinishedAt      time.Time                  `json:"finished_at"`
	DurationSeconds float64                    `json:"duration_seconds"`
	Succeeded       bool                       `json:"succeeded"`
	Error           string                     `json:"error,omitempty"`
	Summary         *SettlementSummaryResponse `json:"summary,omitempty"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Uptime    string            `json:"uptime"`
	NextRunAt *time.Time        `json:"next_run_at,omitempty"`
}
