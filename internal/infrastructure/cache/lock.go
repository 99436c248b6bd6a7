package cache

import (
	"fmt"

	"github.com/coopportal/backend/internal/domain/shared"
	"github.com/coopportal/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// NewRunLock returns the settlement run lock for cfg: Redis when enabled and
// reachable, otherwise the in-process store. With fallback false an
// unreachable Redis is an error.
func NewRunLock(cfg config.RedisConfig, log *zap.Logger, fallback bool) (shared.IdempotencyStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if !cfg.Enabled {
		log.Info("Redis disabled, using in-memory run lock")
		return NewInMemoryIdempotencyStore(), nil
	}

	store, err := NewRedisIdempotencyStore(RedisConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	switch {
	case err == nil:
		log.Info("Using Redis run lock", zap.String("addr", cfg.Addr()))
		return store, nil
	case !fallback:
		return nil, fmt.Errorf("redis run lock unavailable: %w", err)
	}
	log.Warn("Redis unavailable, falling back to in-memory run lock", zap.Error(err))
	return NewInMemoryIdempotencyStore(), nil
}
