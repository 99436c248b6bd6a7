// Package notification describes the member and admin messages the settlement
// engine emits. Delivery (email, SMS, push) happens downstream of the sinks.
package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of a member or admin notification
type Type string

const (
	TypeDeductionSuccess    Type = "deduction_success"
	TypePaymentCompleted    Type = "payment_completed"
	TypeDeductionFailed     Type = "deduction_failed"
	TypeSettlementSummary   Type = "settlement_summary"
	TypeSettlementRunFailed Type = "settlement_run_failed"
)

// Priority controls how urgently a notification is surfaced
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Notification is a single message addressed to one portal user
type Notification struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Type      Type
	Title     string
	Message   string
	Priority  Priority
	// Metadata carries the amounts and identifiers behind Message
	Metadata  map[string]any
	CreatedAt time.Time
}

// New builds a notification with a fresh ID
func New(userID uuid.UUID, typ Type, title, message string, priority Priority) Notification {
	return Notification{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Message:   message,
		Priority:  priority,
		CreatedAt: time.Now(),
	}
}

// WithMetadata returns a copy of n carrying metadata
func (n Notification) WithMetadata(metadata map[string]any) Notification {
	n.Metadata = metadata
	return n
}

// AlertType identifies an operational alert raised for administrators
type AlertType string

const (
	AlertSettlementRunFailed AlertType = "settlement_run_failed"
	AlertLargeDeduction      AlertType = "large_deduction"
)

// AdminAlert is an operational alert with a free-form payload
type AdminAlert struct {
	ID        uuid.UUID
	Type      AlertType
	Payload   map[string]any
	CreatedAt time.Time
}

// NewAdminAlert builds an alert with a fresh ID
func NewAdminAlert(typ AlertType, payload map[string]any) AdminAlert {
	return AdminAlert{
		ID:        uuid.New(),
		Type:      typ,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// Sink accepts member and admin notifications
type Sink interface {
	Send(ctx context.Context, n Notification) error
}

// AlertSink accepts operational alerts
type AlertSink interface {
	Send(ctx context.Context, alert AdminAlert) error
}

// AdminDirectory lists the users that receive run reports
type AdminDirectory interface {
	ListAdminIDs(ctx context.Context) ([]uuid.UUID, error)
}
