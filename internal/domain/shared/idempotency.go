package shared

import (
	"context"
	"time"
)

// IdempotencyStore records keys that must only be claimed once within a TTL.
// The settlement engine uses it as a run lock keyed by period.
type IdempotencyStore interface {
	// MarkProcessed claims the key for ttl.
	// Returns true if the key was newly claimed, false if it is already held
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IsProcessed checks if the key is currently held
	IsProcessed(ctx context.Context, key string) (bool, error)

	// Release drops the key before its TTL expires
	Release(ctx context.Context, key string) error

	// Close closes the store and releases resources
	Close() error
}
