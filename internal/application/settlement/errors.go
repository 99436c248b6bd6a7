package settlement

import "github.com/coopportal/backend/internal/domain/shared"

var (
	// ErrRunInProgress is returned when another invocation holds the period's run lock
	ErrRunInProgress = shared.NewDomainError("RUN_IN_PROGRESS", "A settlement run for this period is already in progress")

	// ErrEnumerationFailed wraps a failure to list eligible obligations; no item was processed
	ErrEnumerationFailed = shared.NewDomainError("ENUMERATION_FAILED", "Failed to enumerate eligible obligations")

	// ErrRunLockUnavailable wraps a failure of the run lock store
	ErrRunLockUnavailable = shared.NewDomainError("RUN_LOCK_UNAVAILABLE", "Settlement run lock is unavailable")
)
