package persistence

import (
	"context"
	"fmt"

	"github.com/coopportal/backend/internal/domain/notification"
	"github.com/coopportal/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormNotificationSink queues notifications in the notifications table.
// The portal reads and delivers them; this service only writes.
type GormNotificationSink struct {
	db *gorm.DB
}

// NewGormNotificationSink creates a new GormNotificationSink
func NewGormNotificationSink(db *gorm.DB) *GormNotificationSink {
	return &GormNotificationSink{db: db}
}

// Send stores a notification
func (s *GormNotificationSink) Send(ctx context.Context, n notification.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if err := s.db.WithContext(ctx).Create(models.NotificationModelFromDomain(n)).Error; err != nil {
		return fmt.Errorf("failed to store notification: %w", err)
	}
	return nil
}

// FindByUser returns a user's notifications, newest first
func (s *GormNotificationSink) FindByUser(ctx context.Context, userID uuid.UUID) ([]notification.Notification, error) {
	var rows []models.NotificationModel
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	result := make([]notification.Notification, len(rows))
	for i := range rows {
		result[i] = rows[i].ToDomain()
	}
	return result, nil
}

// GormAdminAlertSink stores operational alerts in the admin_alerts table
type GormAdminAlertSink struct {
	db *gorm.DB
}

// NewGormAdminAlertSink creates a new GormAdminAlertSink
func NewGormAdminAlertSink(db *gorm.DB) *GormAdminAlertSink {
	return &GormAdminAlertSink{db: db}
}

// Send stores an alert
func (s *GormAdminAlertSink) Send(ctx context.Context, alert notification.AdminAlert) error {
	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}
	if err := s.db.WithContext(ctx).Create(models.AdminAlertModelFromDomain(alert)).Error; err != nil {
		return fmt.Errorf("failed to store admin alert: %w", err)
	}
	return nil
}

// FindUnacknowledged returns alerts nobody has acknowledged yet, newest first
func (s *GormAdminAlertSink) FindUnacknowledged(ctx context.Context) ([]notification.AdminAlert, error) {
	var rows []models.AdminAlertModel
	if err := s.db.WithContext(ctx).
		Where("acknowledged = ?", false).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	result := make([]notification.AdminAlert, len(rows))
	for i := range rows {
		result[i] = rows[i].ToDomain()
	}
	return result, nil
}

// GormAdminDirectory looks up active administrators in the users table
type GormAdminDirectory struct {
	db *gorm.DB
}

// NewGormAdminDirectory creates a new GormAdminDirectory
func NewGormAdminDirectory(db *gorm.DB) *GormAdminDirectory {
	return &GormAdminDirectory{db: db}
}

// ListAdminIDs returns the IDs of every active admin
func (d *GormAdminDirectory) ListAdminIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := d.db.WithContext(ctx).
		Model(&models.UserModel{}).
		Where("role = ? AND status = ?", models.UserRoleAdmin, models.UserStatusActive).
		Order("created_at ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list admins: %w", err)
	}
	return ids, nil
}

var (
	_ notification.Sink           = (*GormNotificationSink)(nil)
	_ notification.AlertSink      = (*GormAdminAlertSink)(nil)
	_ notification.AdminDirectory = (*GormAdminDirectory)(nil)
)
