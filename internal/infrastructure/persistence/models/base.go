package models

import (
	"time"

	"github.com/coopportal/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// BaseModel holds the uuid primary key and audit timestamps
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// AggregateModel adds the optimistic-lock version used by aggregate roots
type AggregateModel struct {
	BaseModel
	Version int `gorm:"not null;default:1"`
}

// ToAggregateRoot maps the row header back to the domain root
func (m *AggregateModel) ToAggregateRoot() shared.BaseAggregateRoot {
	return shared.BaseAggregateRoot{
		BaseEntity: shared.BaseEntity{ID: m.ID, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		Version:    m.Version,
	}
}

// FromDomainAggregateRoot copies the domain root into the row header
func (m *AggregateModel) FromDomainAggregateRoot(a shared.BaseAggregateRoot) {
	m.ID, m.CreatedAt, m.UpdatedAt = a.ID, a.CreatedAt, a.UpdatedAt
	m.Version = a.Version
}
