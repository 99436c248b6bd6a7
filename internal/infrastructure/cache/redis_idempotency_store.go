package cache

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/coopportal/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces settlement run locks in a shared Redis
const KeyPrefix = "settlement:lock:"

// releaseScript deletes the key only while it still holds our token, so a
// holder whose TTL lapsed cannot drop a lock taken over by another daemon
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// RedisIdempotencyStore is a run lock shared by every daemon pointed at the
// same Redis. Each store instance claims keys under its own token.
type RedisIdempotencyStore struct {
	client *redis.Client
	cfg    RedisConfig
	token  string
}

// NewRedisIdempotencyStore connects and pings Redis
func NewRedisIdempotencyStore(cfg RedisConfig) (*RedisIdempotencyStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisIdempotencyStore{client: client, cfg: cfg, token: uuid.NewString()}, nil
}

// MarkProcessed claims key with SET NX PX ttl
func (s *RedisIdempotencyStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, KeyPrefix+key, s.token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return ok, nil
}

// IsProcessed reports whether anyone holds key
func (s *RedisIdempotencyStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, KeyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("check %s: %w", key, err)
	}
	return n > 0, nil
}

// Release drops key if this store holds it
func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, s.client, []string{KeyPrefix + key}, s.token).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

// Config returns the settings the store connected with
func (s *RedisIdempotencyStore) Config() RedisConfig { return s.cfg }

func (s *RedisIdempotencyStore) Close() error {
	return s.client.Close()
}

var _ shared.IdempotencyStore = (*RedisIdempotencyStore)(nil)
