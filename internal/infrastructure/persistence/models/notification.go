package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coopportal/backend/internal/domain/notification"
	"github.com/google/uuid"
)

// NotificationModel is the persistence model for a queued portal notification
type NotificationModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index"`
	Type      string    `gorm:"type:varchar(50);not null;index"`
	Title     string    `gorm:"type:varchar(200);not null"`
	Message   string    `gorm:"type:text;not null"`
	Priority  string    `gorm:"type:varchar(10);not null;default:'normal'"`
	Metadata  JSONMap   `gorm:"type:jsonb;not null;default:'{}'"`
	Read      bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (NotificationModel) TableName() string {
	return "notifications"
}

// NotificationModelFromDomain creates a persistence model from a domain Notification
func NotificationModelFromDomain(n notification.Notification) *NotificationModel {
	return &NotificationModel{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      string(n.Type),
		Title:     n.Title,
		Message:   n.Message,
		Priority:  string(n.Priority),
		Metadata:  JSONMap(n.Metadata),
		CreatedAt: n.CreatedAt,
	}
}

// ToDomain converts the persistence model to a domain Notification
func (m *NotificationModel) ToDomain() notification.Notification {
	return notification.Notification{
		ID:        m.ID,
		UserID:    m.UserID,
		Type:      notification.Type(m.Type),
		Title:     m.Title,
		Message:   m.Message,
		Priority:  notification.Priority(m.Priority),
		Metadata:  map[string]any(m.Metadata),
		CreatedAt: m.CreatedAt,
	}
}

// JSONMap stores a free-form payload as a JSON document
type JSONMap map[string]any

// Value implements driver.Valuer for database storage
func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return "{}", nil
	}
	data, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner for database retrieval
func (j *JSONMap) Scan(value any) error {
	if value == nil {
		*j = JSONMap{}
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", value)
	}

	if len(data) == 0 || string(data) == "null" {
		*j = JSONMap{}
		return nil
	}
	return json.Unmarshal(data, j)
}

// AdminAlertModel is the persistence model for an operational alert
type AdminAlertModel struct {
	ID           uuid.UUID  `gorm:"type:uuid;primary_key"`
	AlertType    string     `gorm:"type:varchar(50);not null;index"`
	Payload      JSONMap    `gorm:"type:jsonb;not null"`
	Acknowledged bool       `gorm:"not null;default:false"`
	CreatedAt    time.Time  `gorm:"not null;index"`
	ResolvedAt   *time.Time `gorm:"index"`
}

// TableName returns the table name for GORM
func (AdminAlertModel) TableName() string {
	return "admin_alerts"
}

// AdminAlertModelFromDomain creates a persistence model from a domain AdminAlert
func AdminAlertModelFromDomain(a notification.AdminAlert) *AdminAlertModel {
	return &AdminAlertModel{
		ID:        a.ID,
		AlertType: string(a.Type),
		Payload:   JSONMap(a.Payload),
		CreatedAt: a.CreatedAt,
	}
}

// ToDomain converts the persistence model to a domain AdminAlert
func (m *AdminAlertModel) ToDomain() notification.AdminAlert {
	return notification.AdminAlert{
		ID:        m.ID,
		Type:      notification.AlertType(m.AlertType),
		Payload:   map[string]any(m.Payload),
		CreatedAt: m.CreatedAt,
	}
}
