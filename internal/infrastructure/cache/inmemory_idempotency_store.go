package cache

import (
	"context"
	"sync"
	"time"

	"github.com/coopportal/backend/internal/domain/shared"
)

const sweepInterval = 5 * time.Minute

// InMemoryIdempotencyStore is a process-local run lock. It does not protect
// against a second daemon on the same database; configure Redis for that.
type InMemoryIdempotencyStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time

	stop    context.CancelFunc
	stopped chan struct{}
}

// NewInMemoryIdempotencyStore starts a store whose expired keys are swept
// periodically until Close
func NewInMemoryIdempotencyStore() *InMemoryIdempotencyStore {
	ctx, cancel := context.WithCancel(context.Background())
	s := &InMemoryIdempotencyStore{
		expires: make(map[string]time.Time),
		now:     time.Now,
		stop:    cancel,
		stopped: make(chan struct{}),
	}
	go s.sweepUntil(ctx)
	return s
}

func (s *InMemoryIdempotencyStore) heldLocked(key string) bool {
	exp, ok := s.expires[key]
	return ok && s.now().Before(exp)
}

func (s *InMemoryIdempotencyStore) MarkProcessed(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.heldLocked(key) {
		return false, nil
	}
	s.expires[key] = s.now().Add(ttl)
	return true, nil
}

func (s *InMemoryIdempotencyStore) IsProcessed(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heldLocked(key), nil
}

// Release drops key; unknown keys are ignored
func (s *InMemoryIdempotencyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.expires, key)
	s.mu.Unlock()
	return nil
}

// Close stops the sweeper and may be called more than once
func (s *InMemoryIdempotencyStore) Close() error {
	s.stop()
	<-s.stopped
	return nil
}

// Size counts stored keys including expired ones not yet swept
func (s *InMemoryIdempotencyStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.expires)
}

func (s *InMemoryIdempotencyStore) sweepUntil(ctx context.Context) {
	defer close(s.stopped)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *InMemoryIdempotencyStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.expires {
		if !s.heldLocked(key) {
			delete(s.expires, key)
		}
	}
}

var _ shared.IdempotencyStore = (*InMemoryIdempotencyStore)(nil)
