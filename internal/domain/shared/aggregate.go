package shared

import (
	"time"

	"github.com/google/uuid"
)

// BaseEntity carries identity and audit timestamps
type BaseEntity struct {
	ID        uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BaseAggregateRoot is a BaseEntity with an optimistic-lock version. Stores
// compare Version on write and reject stale aggregates.
type BaseAggregateRoot struct {
	BaseEntity
	Version int
}

// NewBaseAggregateRoot returns a version 1 root with a fresh id
func NewBaseAggregateRoot() BaseAggregateRoot {
	now := time.Now()
	return BaseAggregateRoot{
		BaseEntity: BaseEntity{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		Version:    1,
	}
}

// Changed records a mutation: UpdatedAt moves to now and Version advances
func (a *BaseAggregateRoot) Changed() {
	a.UpdatedAt = time.Now()
	a.Version++
}
